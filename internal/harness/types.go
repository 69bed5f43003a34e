package harness

import (
	"time"

	"github.com/roach88/roundfetch/internal/manifest"
)

// TraceEvent is one request received by the fake upstream.
type TraceEvent struct {
	Seq    int           `json:"seq"`
	Run    int           `json:"run"`
	At     time.Duration `json:"at"` // fake-clock offset from the scenario start
	Method string        `json:"method"`
	Path   string        `json:"path"`
	Query  string        `json:"query,omitempty"`
	Status int           `json:"status"`
}

// RunReport is the outcome of one pipeline run.
type RunReport struct {
	Run         int    `json:"run"`
	RunID       string `json:"run_id"`
	Succeeded   int    `json:"succeeded"`
	Skipped     int    `json:"skipped"`
	GaveUp      int    `json:"gave_up"`
	ValidRounds int    `json:"valid_rounds,omitempty"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds every upstream request in order.
	Trace []TraceEvent `json:"trace"`

	// Runs holds one report per pipeline run.
	Runs []RunReport `json:"runs"`

	// Manifest is the folded manifest after the last run, ordered by fixture.
	Manifest []manifest.Record `json:"manifest"`

	// ManifestLines counts valid manifest records after the last run.
	ManifestLines int `json:"manifest_lines"`

	// Payloads lists fixtures whose payload is stored after the last run.
	Payloads []int64 `json:"payloads"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Runs:     []RunReport{},
		Manifest: []manifest.Record{},
		Payloads: []int64{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// report returns the report of run n (1-based), or the last run when n is 0.
func (r *Result) report(n int) (RunReport, bool) {
	if len(r.Runs) == 0 {
		return RunReport{}, false
	}
	if n == 0 {
		return r.Runs[len(r.Runs)-1], true
	}
	if n > len(r.Runs) {
		return RunReport{}, false
	}
	return r.Runs[n-1], true
}
