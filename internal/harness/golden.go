package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a scenario result as the text snapshot compared against
// golden files. Only deterministic fields are included.
func Render(name string, result *Result) []byte {
	var buf strings.Builder

	fmt.Fprintf(&buf, "scenario: %s\n", name)

	buf.WriteString("requests:\n")
	if len(result.Trace) == 0 {
		buf.WriteString("  (none)\n")
	}
	for _, event := range result.Trace {
		fmt.Fprintf(&buf, "  %s\n", formatEvent(event))
	}

	buf.WriteString("runs:\n")
	for _, r := range result.Runs {
		fmt.Fprintf(&buf, "  run=%d id=%s", r.Run, r.RunID)
		if r.Code != "" {
			fmt.Fprintf(&buf, " error=%s\n", r.Code)
			continue
		}
		fmt.Fprintf(&buf, " succeeded=%d skipped=%d gave_up=%d", r.Succeeded, r.Skipped, r.GaveUp)
		if r.ValidRounds > 0 {
			fmt.Fprintf(&buf, " valid_rounds=%d", r.ValidRounds)
		}
		buf.WriteString("\n")
	}

	buf.WriteString("manifest:\n")
	if len(result.Manifest) == 0 {
		buf.WriteString("  (empty)\n")
	}
	for _, rec := range result.Manifest {
		fmt.Fprintf(&buf, "  %d %s attempts=%d", rec.ItemID, rec.Status, rec.AttemptCount)
		if rec.RunID != "" {
			fmt.Fprintf(&buf, " run=%s", rec.RunID)
		}
		if rec.Message != "" {
			fmt.Fprintf(&buf, " message=%q", rec.Message)
		}
		buf.WriteString("\n")
	}

	buf.WriteString("payloads:")
	if len(result.Payloads) == 0 {
		buf.WriteString(" (none)")
	}
	for _, id := range result.Payloads {
		fmt.Fprintf(&buf, " %d", id)
	}
	buf.WriteString("\n")

	return []byte(buf.String())
}

func formatEvent(e TraceEvent) string {
	target := e.Path
	if e.Query != "" {
		target += "?" + e.Query
	}
	return fmt.Sprintf("run=%d t=%s %s %s -> %d", e.Run, e.At, e.Method, target, e.Status)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
