// Package flatten turns per-fixture payloads into rows: one per player for
// /fixtures/players and one per event for /fixtures/events.
package flatten

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PlayerRow is one player's statistics in one fixture. Pointer fields are
// nullable: the provider omits or nulls most counters for unused substitutes.
type PlayerRow struct {
	FixtureID       int64    `json:"fixture_id" parquet:"fixture_id"`
	Season          int      `json:"season" parquet:"season"`
	Round           string   `json:"round" parquet:"round"`
	TeamID          *int64   `json:"team_id" parquet:"team_id"`
	TeamName        string   `json:"team_name" parquet:"team_name"`
	PlayerID        int64    `json:"player_id" parquet:"player_id"`
	PlayerName      string   `json:"player_name" parquet:"player_name"`
	Position        string   `json:"position" parquet:"position"`
	Minutes         *int64   `json:"minutes" parquet:"minutes"`
	Rating          *float64 `json:"rating" parquet:"rating"`
	ShotsTotal      *int64   `json:"shots_total" parquet:"shots_total"`
	ShotsOn         *int64   `json:"shots_on" parquet:"shots_on"`
	Goals           *int64   `json:"goals" parquet:"goals"`
	Assists         *int64   `json:"assists" parquet:"assists"`
	Conceded        *int64   `json:"conceded" parquet:"conceded"`
	Saves           *int64   `json:"saves" parquet:"saves"`
	Yellow          *int64   `json:"yellow" parquet:"yellow"`
	Red             *int64   `json:"red" parquet:"red"`
	PenaltiesWon    *int64   `json:"penalties_won" parquet:"penalties_won"`
	PenaltiesScored *int64   `json:"penalties_scored" parquet:"penalties_scored"`
	PenaltiesMissed *int64   `json:"penalties_missed" parquet:"penalties_missed"`
	RawJSON         string   `json:"raw_json" parquet:"raw_json"`
}

// Context is the run context stamped on every row.
type Context struct {
	Season int
	Round  string
}

type payload struct {
	Response []teamBlock `json:"response"`
}

type teamBlock struct {
	Team struct {
		ID   optInt `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
	Players []jsoniter.RawMessage `json:"players"`
}

type playerEntry struct {
	Player struct {
		ID   optInt `json:"id"`
		Name string `json:"name"`
	} `json:"player"`
	Statistics []stats `json:"statistics"`
}

type stats struct {
	Games struct {
		Minutes  optInt    `json:"minutes"`
		Position string    `json:"position"`
		Rating   optRating `json:"rating"`
	} `json:"games"`
	Shots struct {
		Total optInt `json:"total"`
		On    optInt `json:"on"`
	} `json:"shots"`
	Goals struct {
		Total    optInt `json:"total"`
		Conceded optInt `json:"conceded"`
		Assists  optInt `json:"assists"`
		Saves    optInt `json:"saves"`
	} `json:"goals"`
	Goalkeeper struct {
		Saves optInt `json:"saves"`
	} `json:"goalkeeper"`
	Cards struct {
		Yellow optInt `json:"yellow"`
		Red    optInt `json:"red"`
	} `json:"cards"`
	Penalty struct {
		Won    optInt `json:"won"`
		Scored optInt `json:"scored"`
		Missed optInt `json:"missed"`
	} `json:"penalty"`
}

// Players flattens one payload. Players without an id are dropped. Only the
// first statistics block of a player is used, as the provider sends one per
// fixture.
func Players(fixtureID int64, rc Context, data []byte) ([]PlayerRow, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode players payload for fixture %d: %w", fixtureID, err)
	}

	rows := []PlayerRow{}
	for _, tb := range p.Response {
		for _, raw := range tb.Players {
			var entry playerEntry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return nil, fmt.Errorf("decode player of fixture %d: %w", fixtureID, err)
			}
			if entry.Player.ID.v == nil {
				continue
			}

			var st stats
			if len(entry.Statistics) > 0 {
				st = entry.Statistics[0]
			}
			saves := st.Goalkeeper.Saves.v
			if saves == nil {
				saves = st.Goals.Saves.v
			}

			rows = append(rows, PlayerRow{
				FixtureID:       fixtureID,
				Season:          rc.Season,
				Round:           rc.Round,
				TeamID:          tb.Team.ID.v,
				TeamName:        tb.Team.Name,
				PlayerID:        *entry.Player.ID.v,
				PlayerName:      entry.Player.Name,
				Position:        st.Games.Position,
				Minutes:         st.Games.Minutes.v,
				Rating:          st.Games.Rating.v,
				ShotsTotal:      st.Shots.Total.v,
				ShotsOn:         st.Shots.On.v,
				Goals:           st.Goals.Total.v,
				Assists:         st.Goals.Assists.v,
				Conceded:        st.Goals.Conceded.v,
				Saves:           saves,
				Yellow:          st.Cards.Yellow.v,
				Red:             st.Cards.Red.v,
				PenaltiesWon:    st.Penalty.Won.v,
				PenaltiesScored: st.Penalty.Scored.v,
				PenaltiesMissed: st.Penalty.Missed.v,
				RawJSON:         compact(raw),
			})
		}
	}
	return rows, nil
}

// compact strips insignificant whitespace while keeping key order.
func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := stdjson.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// optInt accepts a JSON number, a numeric string or null.
type optInt struct {
	v *int64
}

func (o *optInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		o.v = nil
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			o.v = nil
			return nil
		}
		n = int64(f)
	}
	o.v = &n
	return nil
}

// optRating parses the provider's string rating ("7.3"). Empty, "NaN" and
// non-finite values become null.
type optRating struct {
	v *float64
}

func (o *optRating) UnmarshalJSON(data []byte) error {
	o.v = ParseRating(strings.Trim(strings.TrimSpace(string(data)), `"`))
	return nil
}

// ParseRating converts a rating string. It returns nil for anything that is
// not a finite number.
func ParseRating(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
