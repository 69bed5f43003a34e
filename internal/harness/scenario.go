package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end pipeline scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// League, Season and Round identify the run context.
	League int    `yaml:"league"`
	Season int    `yaml:"season"`
	Round  string `yaml:"round"`

	// Fixtures is the work list served by /fixtures.
	Fixtures []int64 `yaml:"fixtures"`

	// ListStatus, when set, makes /fixtures answer with this status.
	ListStatus int `yaml:"list_status,omitempty"`

	// Rounds is served by /fixtures/rounds. The last entry is the current one.
	Rounds []string `yaml:"rounds,omitempty"`

	// Responses scripts /fixtures/players per fixture. Responses are served in
	// order and the last one repeats. Unscripted fixtures succeed.
	Responses map[int64][]Response `yaml:"responses,omitempty"`

	// Setup seeds local state before the first run.
	Setup Setup `yaml:"setup,omitempty"`

	// Runs is the number of consecutive pipeline runs. Defaults to 1.
	Runs int `yaml:"runs,omitempty"`

	// MaxAttempts overrides the per-fixture attempt budget.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// RetryExhausted applies to the last run only.
	RetryExhausted bool `yaml:"retry_exhausted,omitempty"`

	// RunID is the base of the fixed run ids; run N uses "<run_id>-N".
	// Defaults to "test-run".
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the trace, the summaries and the final local state.
	Assertions []Assertion `yaml:"assertions"`
}

// Response is one scripted upstream reply.
type Response struct {
	Status     int    `yaml:"status"`
	Body       string `yaml:"body,omitempty"`
	RetryAfter string `yaml:"retry_after,omitempty"`
}

// Setup is local state that exists before the first run.
type Setup struct {
	// Payloads are fixtures whose valid payload is already stored.
	Payloads []int64 `yaml:"payloads,omitempty"`

	// TornPayloads are fixtures whose stored payload is truncated.
	TornPayloads []int64 `yaml:"torn_payloads,omitempty"`

	// ManifestLines are written verbatim, one per line.
	ManifestLines []string `yaml:"manifest_lines,omitempty"`
}

// Assertion validates one aspect of a scenario result.
type Assertion struct {
	// Type selects the check:
	// - "summary": counts reported by run Run (default: last run)
	// - "fetch_count": number of player requests for Fixture
	// - "manifest_state": folded manifest record of Fixture
	// - "manifest_lines": number of valid manifest records
	// - "payload": whether Fixture's payload is stored
	// - "min_spacing": every pair of requests at least Seconds apart
	// - "run_error": run Run failed with error Code
	Type string `yaml:"type"`

	Run       int     `yaml:"run,omitempty"`
	Succeeded int     `yaml:"succeeded,omitempty"`
	Skipped   int     `yaml:"skipped,omitempty"`
	GaveUp    int     `yaml:"gave_up,omitempty"`
	Fixture   int64   `yaml:"fixture,omitempty"`
	Count     int     `yaml:"count,omitempty"`
	Status    string  `yaml:"status,omitempty"`
	Attempts  int     `yaml:"attempts,omitempty"`
	Present   bool    `yaml:"present,omitempty"`
	Seconds   float64 `yaml:"seconds,omitempty"`
	Code      string  `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertSummary       = "summary"
	AssertFetchCount    = "fetch_count"
	AssertManifestState = "manifest_state"
	AssertManifestLines = "manifest_lines"
	AssertPayload       = "payload"
	AssertMinSpacing    = "min_spacing"
	AssertRunError      = "run_error"
)

const defaultRunID = "test-run"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Runs == 0 {
		scenario.Runs = 1
	}
	if scenario.RunID == "" {
		scenario.RunID = defaultRunID
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.League <= 0 || s.Season <= 0 {
		return fmt.Errorf("league and season must be positive")
	}
	if strings.TrimSpace(s.Round) == "" {
		return fmt.Errorf("round is required")
	}
	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for id, responses := range s.Responses {
		if len(responses) == 0 {
			return fmt.Errorf("responses[%d]: at least one response is required", id)
		}
		for i, r := range responses {
			if r.Status < 100 || r.Status > 599 {
				return fmt.Errorf("responses[%d][%d]: invalid status %d", id, i, r.Status)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.Runs); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, runs int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Run < 0 || a.Run > runs {
		return fmt.Errorf("assertions[%d]: run must be between 1 and %d", index, runs)
	}

	switch a.Type {
	case AssertSummary, AssertManifestLines:
	case AssertFetchCount, AssertPayload:
		if a.Fixture <= 0 {
			return fmt.Errorf("assertions[%d]: fixture is required for %s", index, a.Type)
		}
	case AssertManifestState:
		if a.Fixture <= 0 {
			return fmt.Errorf("assertions[%d]: fixture is required for manifest_state", index)
		}
		if a.Status != "" && a.Status != "ok" && a.Status != "error" && a.Status != "absent" {
			return fmt.Errorf("assertions[%d]: status must be ok, error or absent", index)
		}
	case AssertMinSpacing:
		if a.Seconds <= 0 {
			return fmt.Errorf("assertions[%d]: seconds must be positive for min_spacing", index)
		}
	case AssertRunError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for run_error", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
