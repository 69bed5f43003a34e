package flatten

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// EventRow is one match event (goal, card, substitution, VAR decision) of
// one fixture. The provider sends no event id, so an event is keyed by its
// 1-based position in the fixture's event list.
type EventRow struct {
	FixtureID  int64  `json:"fixture_id" parquet:"fixture_id"`
	Seq        int    `json:"seq" parquet:"seq"`
	Season     int    `json:"season" parquet:"season"`
	Round      string `json:"round" parquet:"round"`
	Minute     int64  `json:"minute" parquet:"minute"`
	Extra      *int64 `json:"extra" parquet:"extra"`
	TeamID     *int64 `json:"team_id" parquet:"team_id"`
	TeamName   string `json:"team_name" parquet:"team_name"`
	PlayerID   *int64 `json:"player_id" parquet:"player_id"`
	PlayerName string `json:"player_name" parquet:"player_name"`
	AssistID   *int64 `json:"assist_id" parquet:"assist_id"`
	AssistName string `json:"assist_name" parquet:"assist_name"`
	Type       string `json:"type" parquet:"type"`
	Detail     string `json:"detail" parquet:"detail"`
	Comments   string `json:"comments" parquet:"comments"`
	RawJSON    string `json:"raw_json" parquet:"raw_json"`
}

type eventsPayload struct {
	Response []jsoniter.RawMessage `json:"response"`
}

type namedRef struct {
	ID   optInt  `json:"id"`
	Name *string `json:"name"`
}

func (n namedRef) name() string {
	if n.Name == nil {
		return ""
	}
	return *n.Name
}

type eventEntry struct {
	Time struct {
		Elapsed optInt `json:"elapsed"`
		Extra   optInt `json:"extra"`
	} `json:"time"`
	Team     namedRef `json:"team"`
	Player   namedRef `json:"player"`
	Assist   namedRef `json:"assist"`
	Type     *string  `json:"type"`
	Detail   *string  `json:"detail"`
	Comments *string  `json:"comments"`
}

// Events flattens one /fixtures/events payload in provider order. A missing
// elapsed minute becomes 0.
func Events(fixtureID int64, rc Context, data []byte) ([]EventRow, error) {
	var p eventsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode events payload for fixture %d: %w", fixtureID, err)
	}

	rows := make([]EventRow, 0, len(p.Response))
	for i, raw := range p.Response {
		var ev eventEntry
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode event %d of fixture %d: %w", i+1, fixtureID, err)
		}
		var minute int64
		if ev.Time.Elapsed.v != nil {
			minute = *ev.Time.Elapsed.v
		}
		rows = append(rows, EventRow{
			FixtureID:  fixtureID,
			Seq:        i + 1,
			Season:     rc.Season,
			Round:      rc.Round,
			Minute:     minute,
			Extra:      ev.Time.Extra.v,
			TeamID:     ev.Team.ID.v,
			TeamName:   ev.Team.name(),
			PlayerID:   ev.Player.ID.v,
			PlayerName: ev.Player.name(),
			AssistID:   ev.Assist.ID.v,
			AssistName: ev.Assist.name(),
			Type:       str(ev.Type),
			Detail:     str(ev.Detail),
			Comments:   str(ev.Comments),
			RawJSON:    compact(raw),
		})
	}
	return rows, nil
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
