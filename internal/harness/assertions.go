package harness

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/roundfetch/internal/manifest"
)

// AssertionError is returned when an assertion fails.
// It includes the request trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", formatEvent(event))
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertSummary:
		return assertSummary(result, a)
	case AssertFetchCount:
		return assertFetchCount(result, a)
	case AssertManifestState:
		return assertManifestState(result, a)
	case AssertManifestLines:
		if result.ManifestLines != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d manifest records", a.Count),
				Actual:   fmt.Sprintf("%d manifest records", result.ManifestLines),
			}
		}
		return nil
	case AssertPayload:
		return assertPayload(result, a)
	case AssertMinSpacing:
		return assertMinSpacing(result, a)
	case AssertRunError:
		return assertRunError(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertSummary(result *Result, a Assertion) error {
	report, ok := result.report(a.Run)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("run %d", a.Run), Actual: "run not executed"}
	}
	if report.Error != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: "run to complete",
			Actual:   "run failed: " + report.Error,
			Trace:    result.Trace,
		}
	}
	if report.Succeeded != a.Succeeded || report.Skipped != a.Skipped || report.GaveUp != a.GaveUp {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("succeeded=%d skipped=%d gave_up=%d", a.Succeeded, a.Skipped, a.GaveUp),
			Actual:   fmt.Sprintf("succeeded=%d skipped=%d gave_up=%d", report.Succeeded, report.Skipped, report.GaveUp),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertFetchCount(result *Result, a Assertion) error {
	want := strconv.FormatInt(a.Fixture, 10)
	count := 0
	for _, event := range result.Trace {
		if event.Path == "/fixtures/players" && event.Query == "fixture="+want {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d requests for fixture %d", a.Count, a.Fixture),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertManifestState(result *Result, a Assertion) error {
	var (
		rec   manifest.Record
		found bool
	)
	for _, r := range result.Manifest {
		if r.ItemID == a.Fixture {
			rec, found = r, true
			break
		}
	}

	if a.Status == "absent" {
		if found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no record for fixture %d", a.Fixture),
				Actual:   fmt.Sprintf("%s attempts=%d", rec.Status, rec.AttemptCount),
			}
		}
		return nil
	}
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("record for fixture %d", a.Fixture),
			Actual:   "no record",
		}
	}
	if a.Status != "" && string(rec.Status) != a.Status {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("fixture %d status %s", a.Fixture, a.Status),
			Actual:   fmt.Sprintf("status %s (%s)", rec.Status, rec.Message),
		}
	}
	if a.Attempts > 0 && rec.AttemptCount != a.Attempts {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("fixture %d attempt_count %d", a.Fixture, a.Attempts),
			Actual:   fmt.Sprintf("attempt_count %d", rec.AttemptCount),
		}
	}
	return nil
}

func assertPayload(result *Result, a Assertion) error {
	present := false
	for _, id := range result.Payloads {
		if id == a.Fixture {
			present = true
			break
		}
	}
	if present != a.Present {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("payload of fixture %d present=%t", a.Fixture, a.Present),
			Actual:   fmt.Sprintf("present=%t", present),
		}
	}
	return nil
}

// assertMinSpacing checks consecutive requests, across runs as well.
func assertMinSpacing(result *Result, a Assertion) error {
	want := time.Duration(a.Seconds * float64(time.Second))
	for i := 1; i < len(result.Trace); i++ {
		prev, curr := result.Trace[i-1], result.Trace[i]
		if gap := curr.At - prev.At; gap < want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("requests at least %s apart", want),
				Actual:   fmt.Sprintf("requests %d and %d are %s apart", prev.Seq, curr.Seq, gap),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertRunError(result *Result, a Assertion) error {
	report, ok := result.report(a.Run)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("run %d", a.Run), Actual: "run not executed"}
	}
	if report.Code != a.Code {
		actual := "run completed"
		if report.Error != "" {
			actual = fmt.Sprintf("code %q: %s", report.Code, report.Error)
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("run failed with %s", a.Code),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}
	return nil
}
