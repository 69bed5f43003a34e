package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/engine"
	"github.com/roach88/roundfetch/internal/fetch"
	"github.com/roach88/roundfetch/internal/manifest"
	"github.com/roach88/roundfetch/internal/ratelimit"
	"github.com/roach88/roundfetch/internal/runctx"
	"github.com/roach88/roundfetch/internal/testutil"
)

// Harness is the scenario execution environment: a scratch data directory,
// a scripted upstream and a fake clock shared by every run.
type Harness struct {
	scenario *Scenario
	rc       runctx.RunContext
	payloads *blob.LocalStore
	clock    *testutil.FakeClock
	upstream *upstream
	server   *httptest.Server
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh scratch directory that is removed afterwards.
//
// Execution flow:
// 1. Start the scripted upstream and seed local state
// 2. Run the pipeline scenario.Runs times, each with a fresh client and limiter
// 3. Collect the trace, the folded manifest and the stored payloads
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "roundfetch-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	rc, err := runctx.New(scenario.League, scenario.Season, scenario.Round)
	if err != nil {
		return nil, fmt.Errorf("invalid run context: %w", err)
	}

	clock := testutil.NewFakeClock()
	up := newUpstream(scenario, clock)
	srv := httptest.NewServer(up)
	defer srv.Close()

	h := &Harness{
		scenario: scenario,
		rc:       rc,
		payloads: blob.NewLocalStore(filepath.Join(dir, "data")),
		clock:    clock,
		upstream: up,
		server:   srv,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed local state: %w", err)
	}

	result := NewResult()
	for n := 1; n <= scenario.Runs; n++ {
		result.Runs = append(result.Runs, h.runOnce(ctx, n))
	}

	result.Trace = up.events()
	if err := h.collect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to collect final state: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// seed writes the scenario's pre-existing payloads and manifest lines.
func (h *Harness) seed(ctx context.Context) error {
	setup := h.scenario.Setup
	for _, id := range setup.Payloads {
		if err := h.payloads.Put(ctx, h.rc.PayloadKey(id), []byte(playersBody(id))); err != nil {
			return err
		}
	}
	for _, id := range setup.TornPayloads {
		body := playersBody(id)
		if err := h.payloads.Put(ctx, h.rc.PayloadKey(id), []byte(body[:len(body)/2])); err != nil {
			return err
		}
	}
	if len(setup.ManifestLines) > 0 {
		data := strings.Join(setup.ManifestLines, "\n") + "\n"
		if err := h.payloads.Put(ctx, h.rc.ManifestKey(), []byte(data)); err != nil {
			return err
		}
	}
	return nil
}

// runOnce performs pipeline run n. Like a fresh process, every run gets its
// own client and limiter.
func (h *Harness) runOnce(ctx context.Context, n int) RunReport {
	h.upstream.setRun(n)

	limiter := ratelimit.New(ratelimit.DefaultMinInterval, h.clock)
	client := fetch.NewClient(fetch.ClientConfig{
		HTTPClient: h.server.Client(),
		BaseURL:    h.server.URL,
		APIKey:     "scenario-key",
		MaxRetries: 3,
		Limiter:    limiter,
		Clock:      h.clock,
		Logger:     h.logger,
	})

	runID := fmt.Sprintf("%s-%d", h.scenario.RunID, n)
	opts := []engine.EngineOption{
		engine.WithClock(h.clock),
		engine.WithLimiter(limiter),
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(runID)),
		engine.WithLogger(h.logger),
	}
	if h.scenario.MaxAttempts > 0 {
		opts = append(opts, engine.WithMaxAttempts(h.scenario.MaxAttempts))
	}
	if h.scenario.RetryExhausted && n == h.scenario.Runs {
		opts = append(opts, engine.WithRetryExhausted(true))
	}

	summary, err := engine.New(client, h.payloads, opts...).Run(ctx, h.rc)
	report := RunReport{
		Run:         n,
		RunID:       runID,
		Succeeded:   summary.Succeeded,
		Skipped:     summary.Skipped,
		GaveUp:      summary.GaveUp,
		ValidRounds: len(summary.ValidRounds),
	}
	if err != nil {
		report.Error = err.Error()
		var re *engine.RuntimeError
		if errors.As(err, &re) {
			report.Code = string(re.Code)
		}
	}
	return report
}

// collect reads the final manifest and payload set into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	log := manifest.Open(h.payloads.Path(h.rc.ManifestKey()))
	state, err := log.Load()
	if err != nil {
		return err
	}
	result.ManifestLines = len(log.Records())
	for _, rec := range state {
		result.Manifest = append(result.Manifest, rec)
	}
	sort.Slice(result.Manifest, func(i, j int) bool {
		return result.Manifest[i].ItemID < result.Manifest[j].ItemID
	})

	keys, err := h.payloads.List(ctx, h.rc.PayloadPrefix()+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		id, ok := h.rc.ParsePayloadName(key)
		if !ok {
			continue
		}
		complete, err := blob.Complete(ctx, h.payloads, key)
		if err != nil {
			return err
		}
		if complete {
			result.Payloads = append(result.Payloads, id)
		}
	}
	sort.Slice(result.Payloads, func(i, j int) bool { return result.Payloads[i] < result.Payloads[j] })
	return nil
}
