package engine

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/fetch"
	"github.com/roach88/roundfetch/internal/manifest"
	"github.com/roach88/roundfetch/internal/ratelimit"
	"github.com/roach88/roundfetch/internal/runctx"
	"github.com/roach88/roundfetch/internal/store"
	"github.com/roach88/roundfetch/internal/testutil"
)

type fetchCall struct {
	id      int64
	attempt int
}

// fakeAPI scripts outcomes per fixture. The last scripted outcome repeats.
type fakeAPI struct {
	mu        sync.Mutex
	fixtures  []int64
	listErr   error
	rounds    []string
	script    map[int64][]fetch.Outcome
	calls     []fetchCall
	events    []fetchCall
	listCalls int
}

func newFakeAPI(fixtures ...int64) *fakeAPI {
	return &fakeAPI{fixtures: fixtures, script: map[int64][]fetch.Outcome{}}
}

func (f *fakeAPI) on(id int64, outcomes ...fetch.Outcome) *fakeAPI {
	f.script[id] = outcomes
	return f
}

func (f *fakeAPI) FetchPlayers(_ context.Context, id int64, attempt int) fetch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{id: id, attempt: attempt})

	seq := f.script[id]
	if len(seq) == 0 {
		return fetch.Success(payloadFor(id))
	}
	out := seq[0]
	if len(seq) > 1 {
		f.script[id] = seq[1:]
	}
	return out
}

// FetchEvents always succeeds.
func (f *fakeAPI) FetchEvents(_ context.Context, id int64, attempt int) fetch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fetchCall{id: id, attempt: attempt})
	return fetch.Success([]byte(`{"get":"fixtures/events","response":[]}`))
}

func (f *fakeAPI) ListFixtures(_ context.Context, rc runctx.RunContext) (fetch.FixtureList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return fetch.FixtureList{}, f.listErr
	}
	doc := `{"get":"fixtures","results":0,"response":[`
	for i, id := range f.fixtures {
		if i > 0 {
			doc += ","
		}
		doc += `{"fixture":{"id":` + strconv.FormatInt(id, 10) + `}}`
	}
	doc += `]}`
	return fetch.DecodeFixtureList([]byte(doc))
}

func (f *fakeAPI) Rounds(_ context.Context, _, _ int, currentOnly bool) ([]string, []byte, error) {
	if currentOnly && len(f.rounds) > 0 {
		return f.rounds[len(f.rounds)-1:], []byte(`{"response":["` + f.rounds[len(f.rounds)-1] + `"]}`), nil
	}
	doc := `{"response":[`
	for i, r := range f.rounds {
		if i > 0 {
			doc += ","
		}
		doc += `"` + r + `"`
	}
	return f.rounds, []byte(doc + `]}`), nil
}

func (f *fakeAPI) fetchCalls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func payloadFor(id int64) []byte {
	return []byte(`{"fixture":` + strconv.FormatInt(id, 10) + `,"response":[]}`)
}

type harness struct {
	api      *fakeAPI
	payloads *blob.LocalStore
	clock    *testutil.FakeClock
	rc       runctx.RunContext
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	rc, err := runctx.New(39, 2023, "Regular Season - 1")
	require.NoError(t, err)
	return &harness{
		api:      api,
		payloads: blob.NewLocalStore(t.TempDir()),
		clock:    testutil.NewFakeClock(),
		rc:       rc,
	}
}

func (h *harness) engine(opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithClock(h.clock),
		WithLimiter(ratelimit.New(ratelimit.DefaultMinInterval, h.clock)),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-test")),
	}
	return New(h.api, h.payloads, append(base, opts...)...)
}

func (h *harness) manifestRecords(t *testing.T) []manifest.Record {
	t.Helper()
	l := manifest.Open(h.payloads.Path(h.rc.ManifestKey()))
	_, err := l.Load()
	require.NoError(t, err)
	return l.Records()
}

func (h *harness) hasPayload(t *testing.T, id int64) bool {
	t.Helper()
	ok, err := h.payloads.Exists(context.Background(), h.rc.PayloadKey(id))
	require.NoError(t, err)
	return ok
}

var serverError = fetch.Failed(http.StatusInternalServerError, "http 500: boom")

func TestRun_PartialFailureIsolation(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002).on(1002, serverError))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 1, summary.GaveUp)
	assert.Equal(t, "run-test", summary.RunID)
	assert.Equal(t, "39/2023_Regular_Season___1", summary.Namespace)

	assert.True(t, h.hasPayload(t, 1001))
	assert.False(t, h.hasPayload(t, 1002))

	recs := h.manifestRecords(t)
	require.Len(t, recs, 4)
	assert.Equal(t, int64(1001), recs[0].ItemID)
	assert.Equal(t, manifest.StatusOK, recs[0].Status)
	for i, r := range recs[1:] {
		assert.Equal(t, int64(1002), r.ItemID)
		assert.Equal(t, manifest.StatusError, r.Status)
		assert.Equal(t, i+1, r.AttemptCount)
		assert.Equal(t, "http 500: boom", r.Message)
		assert.Equal(t, "run-test", r.RunID)
	}

	assert.Equal(t, []fetchCall{{1001, 1}, {1002, 1}, {1002, 2}, {1002, 3}}, h.api.fetchCalls())
}

func TestRun_RetryBudgetAndSpacing(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002).on(1002, serverError))

	_, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)

	// Every fetch after the first waited the full interval.
	assert.Equal(t, []time.Duration{6500 * time.Millisecond, 6500 * time.Millisecond, 6500 * time.Millisecond}, h.clock.Waits())
}

func TestRun_IdempotentResume(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002).on(1002, serverError))
	_, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)

	before := len(h.api.fetchCalls())
	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)

	// 1001 skipped; 1002 already spent its whole budget.
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.GaveUp)
	assert.Len(t, h.api.fetchCalls(), before, "no fetch on rerun")
	assert.Len(t, h.manifestRecords(t), 4, "rerun appends nothing")
	assert.Equal(t, 1, h.api.listCalls, "work list is cached")

	require.Len(t, summary.Items, 2)
	assert.True(t, summary.Items[0].Skipped)
	assert.Equal(t, StateGaveUp, summary.Items[1].State)
	assert.Equal(t, 3, summary.Items[1].Attempts)
	assert.Contains(t, summary.Items[1].Message, "attempt budget already spent (3/3)")
}

func TestRun_ResumeHonorsPriorAttempts(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002).on(1002, serverError))

	// A previous run spent two attempts on 1002.
	l := manifest.Open(h.payloads.Path(h.rc.ManifestKey()))
	for i := 1; i <= 2; i++ {
		require.NoError(t, l.Append(manifest.Record{
			ItemID: 1002, Status: manifest.StatusError, AttemptCount: i,
			Message: "http 500", UpdatedAt: testutil.Epoch,
		}))
	}

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GaveUp)

	var calls1002 []fetchCall
	for _, c := range h.api.fetchCalls() {
		if c.id == 1002 {
			calls1002 = append(calls1002, c)
		}
	}
	assert.Equal(t, []fetchCall{{1002, 3}}, calls1002, "exactly one more attempt")

	recs := h.manifestRecords(t)
	last := recs[len(recs)-1]
	assert.Equal(t, 3, last.AttemptCount)
	assert.Equal(t, manifest.StatusError, last.Status)
}

func TestRun_ResumeSucceedsOnLastAttempt(t *testing.T) {
	h := newHarness(t, newFakeAPI(1002))
	l := manifest.Open(h.payloads.Path(h.rc.ManifestKey()))
	require.NoError(t, l.Append(manifest.Record{
		ItemID: 1002, Status: manifest.StatusError, AttemptCount: 2, Message: "x", UpdatedAt: testutil.Epoch,
	}))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, summary.Items[0].Attempts)
	assert.True(t, h.hasPayload(t, 1002))
}

func TestRun_RetryExhaustedResetsBudget(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002).on(1002, serverError))
	_, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)

	h.api.on(1002, fetch.Success(payloadFor(1002)))
	summary, err := h.engine(WithRetryExhausted(true)).Run(context.Background(), h.rc)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.GaveUp)

	recs := h.manifestRecords(t)
	last := recs[len(recs)-1]
	assert.Equal(t, manifest.StatusOK, last.Status)
	assert.Equal(t, 1, last.AttemptCount, "fresh budget restarts the count")
}

func TestRun_RateLimitedThenSuccess(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001).on(1001,
		fetch.RateLimited(10*time.Second),
		fetch.Success(payloadFor(1001)),
	))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	// The 429 consumed attempt 1 but produced no record.
	recs := h.manifestRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, manifest.StatusOK, recs[0].Status)
	assert.Equal(t, 2, recs[0].AttemptCount)

	// Slept the server's wait; the limiter had nothing left to add.
	assert.Equal(t, []time.Duration{10 * time.Second}, h.clock.Waits())
}

func TestRun_RateLimitedExhaustsBudget(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001).on(1001, fetch.RateLimited(4*time.Second)))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GaveUp)
	assert.Len(t, h.api.fetchCalls(), 3)

	recs := h.manifestRecords(t)
	require.Len(t, recs, 1, "only the exhausting 429 is recorded")
	assert.Equal(t, manifest.StatusError, recs[0].Status)
	assert.Equal(t, 3, recs[0].AttemptCount)
	assert.Contains(t, recs[0].Message, "rate limited")
}

func TestRun_MaxAttemptsOption(t *testing.T) {
	h := newHarness(t, newFakeAPI(7).on(7, serverError))

	e := h.engine(WithMaxAttempts(5))
	assert.Equal(t, 5, e.maxAttempts)

	summary, err := e.Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.GaveUp)
	assert.Len(t, h.api.fetchCalls(), 5)

	assert.Equal(t, DefaultMaxAttempts, h.engine(WithMaxAttempts(0)).maxAttempts)
}

func TestRun_TornPayloadIsRefetched(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001))
	path := h.payloads.Path(h.rc.PayloadKey(1001))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"response":[`), 0o644))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, h.api.fetchCalls(), 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payloadFor(1001), data)
}

func TestRun_ManifestOKSkipsWithoutPayload(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001))
	l := manifest.Open(h.payloads.Path(h.rc.ManifestKey()))
	require.NoError(t, l.Append(manifest.Record{
		ItemID: 1001, Status: manifest.StatusOK, AttemptCount: 1, UpdatedAt: testutil.Epoch,
	}))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.api.fetchCalls())
}

func TestRun_WorkListFailure(t *testing.T) {
	api := newFakeAPI()
	api.listErr = errors.New("http 403")
	h := newHarness(t, api)

	_, err := h.engine().Run(context.Background(), h.rc)
	require.Error(t, err)
	assert.True(t, IsWorkListError(err))
	assert.Contains(t, err.Error(), "http 403")
}

func TestRun_EmptyWorkList(t *testing.T) {
	api := newFakeAPI()
	api.rounds = []string{"Regular Season - 1", "Regular Season - 2"}
	h := newHarness(t, api)

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Zero(t, summary.Succeeded+summary.Skipped+summary.GaveUp)
	assert.Equal(t, api.rounds, summary.ValidRounds)

	data, err := h.payloads.Get(context.Background(), h.rc.ValidRoundsKey())
	require.NoError(t, err)
	assert.Contains(t, string(data), "Regular Season - 2")

	ok, err := h.payloads.Exists(context.Background(), h.rc.FixturesKey())
	require.NoError(t, err)
	assert.False(t, ok, "empty list is not cached")

	_, err = h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 2, api.listCalls)
}

func TestRun_CorruptWorkListCacheIsRefetched(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001))
	require.NoError(t, h.payloads.Put(context.Background(), h.rc.FixturesKey(), []byte(`{"response":[]}`)))

	summary, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, h.api.listCalls)
}

type recordingMirror struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (m *recordingMirror) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[key] = append([]byte(nil), data...)
	return nil
}

func TestRun_MirrorsArtifacts(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001))
	m := &recordingMirror{}

	_, err := h.engine(WithMirror(m)).Run(context.Background(), h.rc)
	require.NoError(t, err)

	assert.Contains(t, m.puts, h.rc.FixturesKey())
	assert.Contains(t, m.puts, h.rc.PayloadKey(1001))
	require.Contains(t, m.puts, h.rc.ManifestKey())

	local, err := os.ReadFile(h.payloads.Path(h.rc.ManifestKey()))
	require.NoError(t, err)
	assert.Equal(t, local, m.puts[h.rc.ManifestKey()])
}

func TestRun_MirrorFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002))
	m := &recordingMirror{err: errors.New("bucket unavailable")}

	summary, err := h.engine(WithMirror(m)).Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Len(t, h.manifestRecords(t), 2)
}

func TestRun_RecordsRunHistory(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002).on(1002, serverError))
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = h.engine(WithRunHistory(st)).Run(context.Background(), h.rc)
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), h.rc.Namespace())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-test", runs[0].ID)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].GaveUp)
	assert.Equal(t, "Regular Season - 1", runs[0].Round)
}

func TestRun_NamespaceLocked(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001))
	lock, err := manifest.AcquireLock(h.payloads.Path(h.rc.Namespace()))
	require.NoError(t, err)
	defer lock.Release()

	_, err = h.engine().Run(context.Background(), h.rc)
	require.Error(t, err)
	assert.True(t, IsLockedError(err))
	assert.Empty(t, h.api.fetchCalls())
}

func TestRun_ReleasesLock(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001))
	_, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)

	lock, err := manifest.AcquireLock(h.payloads.Path(h.rc.Namespace()))
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine().Run(ctx, h.rc)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.api.fetchCalls())
}

func TestRun_ManifestUnavailableAborts(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002))

	// A directory where the manifest file should be.
	require.NoError(t, os.MkdirAll(h.payloads.Path(h.rc.ManifestKey()), 0o755))

	_, err := h.engine().Run(context.Background(), h.rc)
	require.Error(t, err)
	assert.True(t, IsManifestError(err))
}

func TestResolveRounds(t *testing.T) {
	api := newFakeAPI()
	api.rounds = []string{"Regular Season - 1", "Regular Season - 2"}
	ctx := context.Background()

	got, err := ResolveRounds(ctx, api, 39, 2023, "Regular Season - 7")
	require.NoError(t, err)
	assert.Equal(t, []string{"Regular Season - 7"}, got)

	got, err = ResolveRounds(ctx, api, 39, 2023, "current")
	require.NoError(t, err)
	assert.Equal(t, []string{"Regular Season - 2"}, got)

	got, err = ResolveRounds(ctx, api, 39, 2023, "ALL")
	require.NoError(t, err)
	assert.Equal(t, api.rounds, got)

	_, err = ResolveRounds(ctx, newFakeAPI(), 39, 2023, "current")
	require.Error(t, err)
	assert.True(t, IsWorkListError(err))
	assert.ErrorIs(t, err, ErrNoRounds)

	_, err = ResolveRounds(ctx, api, 39, 2023, "  ")
	assert.ErrorIs(t, err, ErrNoRounds)
}

func TestRun_EventsDatasetKeepsItsOwnManifest(t *testing.T) {
	h := newHarness(t, newFakeAPI(1001, 1002))

	players, err := h.engine().Run(context.Background(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, "players", players.Dataset)
	assert.Equal(t, 2, players.Succeeded)

	events := h.rc.WithDataset(runctx.DatasetEvents)
	summary, err := h.engine().Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, "events", summary.Dataset)
	assert.Equal(t, 2, summary.Succeeded, "player payloads do not count as events")
	assert.Equal(t, 0, summary.Skipped)

	assert.Equal(t, 1, h.api.listCalls, "the fixture list is shared")
	assert.Len(t, h.api.fetchCalls(), 2)
	h.api.mu.Lock()
	assert.Len(t, h.api.events, 2)
	h.api.mu.Unlock()

	ok, err := h.payloads.Exists(context.Background(), events.PayloadKey(1001))
	require.NoError(t, err)
	assert.True(t, ok)

	l := manifest.Open(h.payloads.Path(events.ManifestKey()))
	state, err := l.Load()
	require.NoError(t, err)
	assert.Len(t, state, 2)
	assert.Len(t, h.manifestRecords(t), 2, "players manifest untouched")

	// A second events run skips both.
	again, err := h.engine().Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
}
