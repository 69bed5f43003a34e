package harness

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/roach88/roundfetch/internal/testutil"
)

// upstream is a scripted stand-in for the API-Football endpoints the pipeline
// uses. It records every request with its fake-clock time.
type upstream struct {
	scenario *Scenario
	clock    *testutil.FakeClock

	mu      sync.Mutex
	run     int
	served  map[int64]int
	trace   []TraceEvent
	nextSeq int
}

func newUpstream(s *Scenario, clock *testutil.FakeClock) *upstream {
	return &upstream{scenario: s, clock: clock, served: map[int64]int{}}
}

func (u *upstream) setRun(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.run = n
}

func (u *upstream) events() []TraceEvent {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]TraceEvent(nil), u.trace...)
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := u.respond(r)

	u.mu.Lock()
	u.nextSeq++
	u.trace = append(u.trace, TraceEvent{
		Seq:    u.nextSeq,
		Run:    u.run,
		At:     u.clock.Now().Sub(testutil.Epoch),
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query().Encode(),
		Status: resp.Status,
	})
	u.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if resp.RetryAfter != "" {
		w.Header().Set("Retry-After", resp.RetryAfter)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

func (u *upstream) respond(r *http.Request) Response {
	q := r.URL.Query()
	switch r.URL.Path {
	case "/fixtures":
		if u.scenario.ListStatus != 0 {
			return Response{Status: u.scenario.ListStatus, Body: `{"errors":{"token":"request refused"}}`}
		}
		return Response{Status: http.StatusOK, Body: fixturesBody(u.scenario.Fixtures)}

	case "/fixtures/rounds":
		rounds := u.scenario.Rounds
		if q.Get("current") == "true" && len(rounds) > 0 {
			rounds = rounds[len(rounds)-1:]
		}
		return Response{Status: http.StatusOK, Body: roundsBody(rounds)}

	case "/fixtures/players":
		id, err := strconv.ParseInt(q.Get("fixture"), 10, 64)
		if err != nil {
			return Response{Status: http.StatusBadRequest, Body: `{"errors":{"fixture":"invalid"}}`}
		}
		return u.nextPlayers(id)
	}
	return Response{Status: http.StatusNotFound, Body: `{"errors":{"endpoint":"not found"}}`}
}

// nextPlayers serves the fixture's script in order, repeating the last entry.
func (u *upstream) nextPlayers(id int64) Response {
	u.mu.Lock()
	n := u.served[id]
	u.served[id] = n + 1
	u.mu.Unlock()

	script := u.scenario.Responses[id]
	if len(script) == 0 {
		return Response{Status: http.StatusOK, Body: playersBody(id)}
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	resp := script[n]
	if resp.Status == http.StatusOK && resp.Body == "" {
		resp.Body = playersBody(id)
	}
	return resp
}

func fixturesBody(ids []int64) string {
	items := ""
	for i, id := range ids {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"fixture":{"id":%d,"date":"2023-08-11T19:00:00+00:00","status":{"short":"FT"}},"teams":{"home":{"name":"Home %d"},"away":{"name":"Away %d"}}}`, id, id, id)
	}
	return fmt.Sprintf(`{"get":"fixtures","errors":[],"results":%d,"paging":{"current":1,"total":1},"response":[%s]}`, len(ids), items)
}

func roundsBody(rounds []string) string {
	items := ""
	for i, r := range rounds {
		if i > 0 {
			items += ","
		}
		items += strconv.Quote(r)
	}
	return fmt.Sprintf(`{"get":"fixtures/rounds","errors":[],"results":%d,"response":[%s]}`, len(rounds), items)
}

func playersBody(id int64) string {
	return fmt.Sprintf(`{"get":"fixtures/players","parameters":{"fixture":"%d"},"errors":[],"results":1,"response":[`+
		`{"team":{"id":40,"name":"Home %d"},"players":[{"player":{"id":%d01,"name":"Player %d"},`+
		`"statistics":[{"games":{"minutes":90,"position":"M","rating":"7.1"},"goals":{"total":1,"assists":null,"saves":null}}]}]}]}`,
		id, id, id, id)
}
