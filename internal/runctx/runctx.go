// Package runctx identifies one pipeline invocation and derives every
// artifact location from it.
//
// The same (league, season, round) always maps to the same namespace, which is
// what lets a rerun find the manifest and payloads of an interrupted run.
package runctx

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Artifact names within a namespace. The fixture list and valid rounds are
// shared by every dataset; each dataset has its own manifest and payloads.
const (
	FixturesFile       = "fixtures.json"
	ValidRoundsFile    = "valid_rounds.json"
	ManifestFile       = "manifest.jsonl"
	EventsManifestFile = "events_manifest.jsonl"
	PlayersDir         = "players_by_fixture"
	EventsDir          = "events_by_fixture"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	unsafeChar = regexp.MustCompile(`[^A-Za-z0-9_]`)
	payloadRe  = regexp.MustCompile(`^([a-z]+)_(\d+)\.json$`)
)

// Dataset is one kind of per-fixture payload.
type Dataset string

const (
	// DatasetPlayers is /fixtures/players: per-player statistics.
	DatasetPlayers Dataset = "players"
	// DatasetEvents is /fixtures/events: goals, cards, substitutions.
	DatasetEvents Dataset = "events"
)

// ParseDataset validates a dataset name. Empty selects DatasetPlayers.
func ParseDataset(s string) (Dataset, error) {
	switch Dataset(strings.ToLower(strings.TrimSpace(s))) {
	case "", DatasetPlayers:
		return DatasetPlayers, nil
	case DatasetEvents:
		return DatasetEvents, nil
	}
	return "", fmt.Errorf("unknown dataset %q (expected players or events)", s)
}

// RunContext is immutable once constructed.
type RunContext struct {
	LeagueID int
	Season   int
	Round    string

	// Dataset selects the payloads a run fetches. Zero means DatasetPlayers.
	Dataset Dataset
}

// New validates and builds a RunContext.
func New(leagueID, season int, round string) (RunContext, error) {
	round = strings.TrimSpace(round)
	if leagueID <= 0 {
		return RunContext{}, fmt.Errorf("league id must be positive, got %d", leagueID)
	}
	if season <= 0 {
		return RunContext{}, fmt.Errorf("season must be positive, got %d", season)
	}
	if round == "" {
		return RunContext{}, fmt.Errorf("round is required")
	}
	if Slug(round) == "" {
		return RunContext{}, fmt.Errorf("round %q has no usable characters", round)
	}
	return RunContext{LeagueID: leagueID, Season: season, Round: round, Dataset: DatasetPlayers}, nil
}

// WithDataset returns a copy of rc addressing dataset d.
func (rc RunContext) WithDataset(d Dataset) RunContext {
	rc.Dataset = d
	return rc
}

func (rc RunContext) dataset() Dataset {
	if rc.Dataset == "" {
		return DatasetPlayers
	}
	return rc.Dataset
}

// Slug turns a round name into a path-safe token.
//
// "Regular Season - 1" becomes "Regular_Season___1": whitespace runs collapse
// to "_", "-" becomes "_" and everything else outside [A-Za-z0-9_] is dropped.
// Accented letters are folded to their base letter first.
func Slug(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	folded = whitespace.ReplaceAllString(strings.TrimSpace(folded), "_")
	folded = strings.ReplaceAll(folded, "-", "_")
	return unsafeChar.ReplaceAllString(folded, "")
}

// Namespace is the key prefix grouping every artifact of this run,
// e.g. "39/2023_Regular_Season___1".
func (rc RunContext) Namespace() string {
	return path.Join(strconv.Itoa(rc.LeagueID), fmt.Sprintf("%d_%s", rc.Season, Slug(rc.Round)))
}

// FixturesKey is where the cached work list lives.
func (rc RunContext) FixturesKey() string {
	return path.Join(rc.Namespace(), FixturesFile)
}

// ValidRoundsKey is where round names are dumped when a round has no fixtures.
func (rc RunContext) ValidRoundsKey() string {
	return path.Join(rc.Namespace(), ValidRoundsFile)
}

// ManifestKey is the manifest log location of the run's dataset.
func (rc RunContext) ManifestKey() string {
	if rc.dataset() == DatasetEvents {
		return path.Join(rc.Namespace(), EventsManifestFile)
	}
	return path.Join(rc.Namespace(), ManifestFile)
}

// PayloadPrefix is the directory holding every per-fixture payload of the
// run's dataset.
func (rc RunContext) PayloadPrefix() string {
	if rc.dataset() == DatasetEvents {
		return path.Join(rc.Namespace(), EventsDir)
	}
	return path.Join(rc.Namespace(), PlayersDir)
}

// PayloadKey is the deterministic location of one fixture's payload, e.g.
// ".../players_by_fixture/players_1001.json".
func (rc RunContext) PayloadKey(fixtureID int64) string {
	return path.Join(rc.PayloadPrefix(), fmt.Sprintf("%s_%d.json", rc.dataset(), fixtureID))
}

// String implements fmt.Stringer.
func (rc RunContext) String() string {
	return fmt.Sprintf("league=%d season=%d round=%q dataset=%s", rc.LeagueID, rc.Season, rc.Round, rc.dataset())
}

// ParsePayloadName extracts the fixture id from a payload name of the run's
// dataset, such as "players_1001.json". ok is false for any other name.
func (rc RunContext) ParsePayloadName(name string) (fixtureID int64, ok bool) {
	m := payloadRe.FindStringSubmatch(path.Base(name))
	if m == nil || Dataset(m[1]) != rc.dataset() {
		return 0, false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
