package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/fetch"
	"github.com/roach88/roundfetch/internal/manifest"
	"github.com/roach88/roundfetch/internal/ratelimit"
	"github.com/roach88/roundfetch/internal/runctx"
	"github.com/roach88/roundfetch/internal/store"
)

// API is the upstream data source. *fetch.Client implements it.
type API interface {
	// FetchPlayers performs one request for one fixture. It must not retry.
	FetchPlayers(ctx context.Context, fixtureID int64, attempt int) fetch.Outcome

	// FetchEvents is FetchPlayers for the events dataset.
	FetchEvents(ctx context.Context, fixtureID int64, attempt int) fetch.Outcome

	// ListFixtures returns the work list of a round.
	ListFixtures(ctx context.Context, rc runctx.RunContext) (fetch.FixtureList, error)

	// Rounds lists round names; used to resolve "current"/"all" and to
	// explain an empty work list.
	Rounds(ctx context.Context, leagueID, season int, currentOnly bool) ([]string, []byte, error)
}

// State is the lifecycle state of one fixture within a run.
type State string

const (
	StatePending    State = "pending"
	StateAttempting State = "attempting"
	StateSucceeded  State = "succeeded"
	StateGaveUp     State = "gave_up"
)

// ItemResult is the final state of one fixture.
type ItemResult struct {
	ItemID   int64  `json:"item_id"`
	State    State  `json:"state"`
	Skipped  bool   `json:"skipped,omitempty"`
	Attempts int    `json:"attempts"`
	Message  string `json:"message,omitempty"`
}

// Summary reports one run.
type Summary struct {
	RunID       string       `json:"run_id"`
	Namespace   string       `json:"namespace"`
	Dataset     string       `json:"dataset"`
	Succeeded   int          `json:"succeeded"`
	Skipped     int          `json:"skipped"`
	GaveUp      int          `json:"gave_up"`
	Items       []ItemResult `json:"items"`
	ValidRounds []string     `json:"valid_rounds,omitempty"` // set when the round had no fixtures
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

func (s *Summary) add(r ItemResult) {
	s.Items = append(s.Items, r)
	switch {
	case r.State == StateSucceeded && r.Skipped:
		s.Skipped++
	case r.State == StateSucceeded:
		s.Succeeded++
	case r.State == StateGaveUp:
		s.GaveUp++
	}
}

// Engine runs the pipeline for one run context at a time.
//
// Thread-safety: Run must not be called concurrently on the same Engine.
type Engine struct {
	api      API
	payloads *blob.LocalStore
	mirror   manifest.Mirror
	history  *store.Store
	limiter  *ratelimit.Limiter
	clock    ratelimit.Clock
	runIDGen RunIDGenerator
	logger   *slog.Logger

	maxAttempts    int
	retryExhausted bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxAttempts sets the attempt budget per fixture.
//
// Default: 3 (DefaultMaxAttempts). Values below 1 are ignored.
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n >= 1 {
			e.maxAttempts = n
		}
	}
}

// WithRetryExhausted gives fixtures that already spent their whole budget in
// earlier runs a fresh budget for this run.
func WithRetryExhausted(on bool) EngineOption {
	return func(e *Engine) {
		e.retryExhausted = on
	}
}

// WithMirror sets the best-effort remote copy of payloads, the work list and
// the manifest.
func WithMirror(m manifest.Mirror) EngineOption {
	return func(e *Engine) {
		e.mirror = m
	}
}

// WithRunHistory records a row per run in the SQLite store.
func WithRunHistory(s *store.Store) EngineOption {
	return func(e *Engine) {
		e.history = s
	}
}

// WithLimiter sets the rate limiter. It should be the limiter the API client
// paces its list requests with.
func WithLimiter(l *ratelimit.Limiter) EngineOption {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithClock sets the wall clock used for sleeps and record timestamps.
func WithClock(c ratelimit.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithRunIDGenerator sets the run id source.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) {
		e.runIDGen = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine. payloads is the authoritative local store; the
// manifest of each namespace lives inside it.
func New(api API, payloads *blob.LocalStore, opts ...EngineOption) *Engine {
	e := &Engine{
		api:         api,
		payloads:    payloads,
		maxAttempts: DefaultMaxAttempts,
		runIDGen:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.clock == nil {
		e.clock = ratelimit.SystemClock{}
	}
	if e.limiter == nil {
		e.limiter = ratelimit.New(ratelimit.DefaultMinInterval, e.clock)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// ManifestPath returns the local manifest file of rc.
func (e *Engine) ManifestPath(rc runctx.RunContext) string {
	return e.payloads.Path(rc.ManifestKey())
}

// Run processes every fixture of rc, fetching the payloads of rc.Dataset.
// Runs of different datasets in one namespace share the cached fixture list
// and the namespace lock but keep separate manifests.
//
// Per-fixture failures are reflected in the summary and the manifest. An
// error is returned only when the run could not proceed; the summary then
// holds whatever was completed before the failure.
func (e *Engine) Run(ctx context.Context, rc runctx.RunContext) (Summary, error) {
	if rc.Dataset == "" {
		rc = rc.WithDataset(runctx.DatasetPlayers)
	}
	summary := Summary{
		RunID:     e.runIDGen.Generate(),
		Namespace: rc.Namespace(),
		Dataset:   string(rc.Dataset),
		Items:     []ItemResult{},
		StartedAt: e.clock.Now(),
	}
	logger := e.logger.With("run_id", summary.RunID, "namespace", summary.Namespace, "dataset", summary.Dataset)

	lock, err := manifest.AcquireLock(e.payloads.Path(rc.Namespace()))
	if err != nil {
		return summary, &RuntimeError{Code: ErrCodeNamespaceLocked, Message: "namespace is in use", Namespace: summary.Namespace, Err: err}
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release namespace lock", "error", err)
		}
	}()

	fixtures, err := e.workList(ctx, rc, logger)
	if err != nil {
		return summary, err
	}
	if len(fixtures) == 0 {
		summary.ValidRounds = e.recordValidRounds(ctx, rc, logger)
		summary.FinishedAt = e.clock.Now()
		logger.Warn("round has no fixtures", "round", rc.Round, "valid_rounds", len(summary.ValidRounds))
		e.recordRun(ctx, rc, summary, logger)
		return summary, nil
	}

	log := manifest.Open(e.ManifestPath(rc))
	state, err := log.Load()
	if err != nil {
		return summary, &RuntimeError{Code: ErrCodeManifestReadFailed, Message: "manifest load failed", Namespace: summary.Namespace, Err: err}
	}
	if n := log.Skipped(); n > 0 {
		logger.Warn("skipped malformed manifest lines", "count", n)
	}
	logger.Info("run started", "fixtures", len(fixtures), "manifest_items", len(state), "max_attempts", e.maxAttempts)

	for _, fx := range fixtures {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = e.clock.Now()
			return summary, err
		}

		prior, seen := state[fx.ID]
		item := &itemRun{
			engine: e,
			rc:     rc,
			log:    log,
			runID:  summary.RunID,
			id:     fx.ID,
			prior:  prior,
			seen:   seen,
			logger: logger.With("fixture_id", fx.ID),
		}
		res, err := item.run(ctx)
		if err != nil {
			summary.FinishedAt = e.clock.Now()
			return summary, err
		}
		summary.add(res)
	}

	summary.FinishedAt = e.clock.Now()
	logger.Info("run finished", "succeeded", summary.Succeeded, "skipped", summary.Skipped, "gave_up", summary.GaveUp)
	e.recordRun(ctx, rc, summary, logger)
	return summary, nil
}

// workList returns the cached fixture list of rc, fetching and caching it on
// first use. An empty list is returned but not cached.
func (e *Engine) workList(ctx context.Context, rc runctx.RunContext, logger *slog.Logger) ([]fetch.Fixture, error) {
	key := rc.FixturesKey()

	ok, err := blob.Complete(ctx, e.payloads, key)
	if err != nil {
		logger.Warn("inspect cached fixture list", "error", err)
	}
	if ok {
		doc, err := e.payloads.Get(ctx, key)
		if err == nil {
			list, derr := fetch.DecodeFixtureList(doc)
			if derr == nil && len(list.Fixtures) > 0 {
				logger.Debug("using cached fixture list", "fixtures", len(list.Fixtures))
				return list.Fixtures, nil
			}
			err = derr
		}
		logger.Warn("cached fixture list unusable, fetching again", "error", err)
	}

	list, err := e.api.ListFixtures(ctx, rc)
	if err != nil {
		return nil, newWorkListError(rc.Namespace(), err)
	}
	if len(list.Fixtures) == 0 {
		return nil, nil
	}

	if err := e.payloads.Put(ctx, key, list.Document); err != nil {
		return nil, &RuntimeError{Code: ErrCodePayloadCacheFailed, Message: "cache fixture list", Namespace: rc.Namespace(), Err: err}
	}
	e.mirrorObject(ctx, key, list.Document, logger)
	return list.Fixtures, nil
}

// recordValidRounds stores the season's round names next to the empty work
// list so the operator can pick a valid one. Failures are logged.
func (e *Engine) recordValidRounds(ctx context.Context, rc runctx.RunContext, logger *slog.Logger) []string {
	rounds, doc, err := e.api.Rounds(ctx, rc.LeagueID, rc.Season, false)
	if err != nil {
		logger.Warn("list valid rounds", "error", err)
		return nil
	}
	if err := e.payloads.Put(ctx, rc.ValidRoundsKey(), doc); err != nil {
		logger.Warn("write valid rounds", "error", err)
		return rounds
	}
	e.mirrorObject(ctx, rc.ValidRoundsKey(), doc, logger)
	return rounds
}

func (e *Engine) mirrorObject(ctx context.Context, key string, data []byte, logger *slog.Logger) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.Put(ctx, key, data); err != nil {
		logger.Warn("mirror object", "key", key, "error", err)
	}
}

func (e *Engine) recordRun(ctx context.Context, rc runctx.RunContext, s Summary, logger *slog.Logger) {
	if e.history == nil {
		return
	}
	err := e.history.WriteRun(ctx, store.Run{
		ID:         s.RunID,
		Namespace:  s.Namespace,
		Dataset:    s.Dataset,
		LeagueID:   rc.LeagueID,
		Season:     rc.Season,
		Round:      rc.Round,
		Succeeded:  s.Succeeded,
		Skipped:    s.Skipped,
		GaveUp:     s.GaveUp,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	})
	if err != nil {
		logger.Warn("record run history", "error", err)
	}
}

// itemRun drives one fixture through its state machine.
type itemRun struct {
	engine *Engine
	rc     runctx.RunContext
	log    *manifest.FileLog
	runID  string
	id     int64
	prior  manifest.Record
	seen   bool
	logger *slog.Logger
}

func (it *itemRun) run(ctx context.Context) (ItemResult, error) {
	e := it.engine
	key := it.rc.PayloadKey(it.id)
	res := ItemResult{ItemID: it.id, State: StatePending}

	present, err := blob.Complete(ctx, e.payloads, key)
	if err != nil {
		it.logger.Warn("inspect payload", "error", err)
	}
	if present || (it.seen && it.prior.Status == manifest.StatusOK) {
		res.State, res.Skipped = StateSucceeded, true
		if it.seen {
			res.Attempts = it.prior.AttemptCount
		}
		it.logger.Debug("skipping completed fixture", "payload_present", present)
		return res, nil
	}

	prior := 0
	if it.seen {
		prior = it.prior.AttemptCount
	}
	budget := NewAttemptBudget(it.id, e.maxAttempts, prior)
	if budget.Exhausted() && e.retryExhausted {
		it.logger.Info("retrying exhausted fixture with a fresh budget", "prior_attempts", prior)
		budget = NewAttemptBudget(it.id, e.maxAttempts, 0)
	}

	res.State = StateAttempting
	res.Attempts = budget.Used()
	for tried := false; ; tried = true {
		attempt, err := budget.Next()
		if IsBudgetExhaustedError(err) {
			if !tried {
				res.State = StateGaveUp
				res.Message = fmt.Sprintf("attempt budget already spent (%d/%d)", budget.Used(), budget.Max())
				if it.seen && it.prior.Message != "" {
					res.Message += ": " + it.prior.Message
				}
				it.logger.Debug("not fetching", "reason", err)
				return res, nil
			}
			break
		}
		res.Attempts = attempt

		if err := e.limiter.Wait(ctx); err != nil {
			return res, err
		}
		out := e.fetchItem(ctx, it.rc, it.id, attempt)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		it.logger.Debug("fetched", "attempt", attempt, "outcome", out.Kind, "status", out.StatusCode)

		switch out.Kind {
		case fetch.KindSuccess:
			if err := e.payloads.Put(ctx, key, out.Payload); err != nil {
				res.Message = "persist payload: " + err.Error()
				it.logger.Error("persist payload", "attempt", attempt, "error", err)
				if err := it.appendRecord(ctx, manifest.StatusError, attempt, res.Message); err != nil {
					return res, err
				}
				continue
			}
			e.mirrorObject(ctx, key, out.Payload, it.logger)
			if err := it.appendRecord(ctx, manifest.StatusOK, attempt, ""); err != nil {
				return res, err
			}
			res.State, res.Message = StateSucceeded, ""
			return res, nil

		case fetch.KindRateLimited:
			res.Message = out.String()
			it.logger.Warn("rate limited", "attempt", attempt, "retry_after", out.RetryAfter)
			if budget.Exhausted() {
				if err := it.appendRecord(ctx, manifest.StatusError, attempt, res.Message); err != nil {
					return res, err
				}
			}
			if err := ratelimit.Sleep(ctx, e.clock, out.RetryAfter); err != nil {
				return res, err
			}

		default:
			res.Message = out.Message
			it.logger.Warn("fetch failed", "attempt", attempt, "status", out.StatusCode, "message", out.Message)
			if err := it.appendRecord(ctx, manifest.StatusError, attempt, out.Message); err != nil {
				return res, err
			}
		}
	}

	res.State = StateGaveUp
	it.logger.Warn("giving up on fixture", "attempts", res.Attempts, "last_error", res.Message)
	return res, nil
}

func (e *Engine) fetchItem(ctx context.Context, rc runctx.RunContext, id int64, attempt int) fetch.Outcome {
	if rc.Dataset == runctx.DatasetEvents {
		return e.api.FetchEvents(ctx, id, attempt)
	}
	return e.api.FetchPlayers(ctx, id, attempt)
}

// appendRecord makes one attempt durable, then mirrors the manifest.
func (it *itemRun) appendRecord(ctx context.Context, status manifest.Status, attempt int, msg string) error {
	e := it.engine
	rec := manifest.Record{
		ItemID:       it.id,
		Status:       status,
		AttemptCount: attempt,
		Message:      msg,
		UpdatedAt:    e.clock.Now(),
		RunID:        it.runID,
	}
	if err := it.log.Append(rec); err != nil {
		return newManifestWriteError(it.rc.Namespace(), it.id, err)
	}
	if e.mirror != nil {
		if err := it.log.MirrorTo(ctx, e.mirror, it.rc.ManifestKey()); err != nil {
			it.logger.Warn("mirror manifest", "error", err)
		}
	}
	return nil
}
