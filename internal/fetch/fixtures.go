package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/roundfetch/internal/runctx"
)

// Paging is the provider's paging block.
type Paging struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// envelope is the common top-level shape of every API-Football response.
type envelope struct {
	Get      string              `json:"get,omitempty"`
	Results  int                 `json:"results"`
	Paging   *Paging             `json:"paging,omitempty"`
	Errors   jsoniter.RawMessage `json:"errors,omitempty"`
	Response jsoniter.RawMessage `json:"response"`
}

// Fixture is the subset of a fixture record the pipeline needs.
type Fixture struct {
	ID       int64  `json:"id"`
	Date     string `json:"date,omitempty"`
	Status   string `json:"status,omitempty"`
	HomeTeam string `json:"home,omitempty"`
	AwayTeam string `json:"away,omitempty"`
}

type fixtureRecord struct {
	Fixture struct {
		ID     int64  `json:"id"`
		Date   string `json:"date"`
		Status struct {
			Short string `json:"short"`
		} `json:"status"`
	} `json:"fixture"`
	Teams struct {
		Home struct {
			Name string `json:"name"`
		} `json:"home"`
		Away struct {
			Name string `json:"name"`
		} `json:"away"`
	} `json:"teams"`
}

// FixtureList is the work list of one round. Document is a single
// API-shaped JSON document holding every raw fixture record across pages,
// suitable for caching and for DecodeFixtureList.
type FixtureList struct {
	Fixtures []Fixture
	Document []byte
}

// ListFixtures pulls every page of /fixtures for the run's round. Paging stops
// on an empty page or once current >= total.
func (c *Client) ListFixtures(ctx context.Context, rc runctx.RunContext) (FixtureList, error) {
	var raw []jsoniter.RawMessage

	for page := 1; ; page++ {
		query := url.Values{
			"league": {strconv.Itoa(rc.LeagueID)},
			"season": {strconv.Itoa(rc.Season)},
			"round":  {rc.Round},
		}
		if page > 1 {
			query.Set("page", strconv.Itoa(page))
		}

		body, err := c.getJSON(ctx, "/fixtures", query)
		if err != nil {
			return FixtureList{}, fmt.Errorf("list fixtures page %d: %w", page, err)
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return FixtureList{}, fmt.Errorf("decode fixtures page %d: %w", page, err)
		}
		var items []jsoniter.RawMessage
		if len(env.Response) > 0 {
			if err := json.Unmarshal(env.Response, &items); err != nil {
				return FixtureList{}, fmt.Errorf("decode fixtures page %d response: %w", page, err)
			}
		}
		if len(items) == 0 {
			break
		}
		raw = append(raw, items...)

		if env.Paging == nil || env.Paging.Current >= env.Paging.Total {
			break
		}
	}

	return buildFixtureList(raw)
}

func buildFixtureList(raw []jsoniter.RawMessage) (FixtureList, error) {
	if raw == nil {
		raw = []jsoniter.RawMessage{}
	}
	doc, err := json.Marshal(struct {
		Get      string                `json:"get"`
		Results  int                   `json:"results"`
		Response []jsoniter.RawMessage `json:"response"`
	}{Get: "fixtures", Results: len(raw), Response: raw})
	if err != nil {
		return FixtureList{}, fmt.Errorf("encode fixture list: %w", err)
	}
	return DecodeFixtureList(doc)
}

// DecodeFixtureList parses a cached (or freshly built) fixtures document.
// Records without a positive fixture id are dropped; duplicate ids keep their
// first position so list order is stable.
func DecodeFixtureList(doc []byte) (FixtureList, error) {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return FixtureList{}, fmt.Errorf("decode fixtures document: %w", err)
	}

	var records []fixtureRecord
	if len(env.Response) > 0 {
		if err := json.Unmarshal(env.Response, &records); err != nil {
			return FixtureList{}, fmt.Errorf("decode fixtures document response: %w", err)
		}
	}

	seen := make(map[int64]bool, len(records))
	fixtures := make([]Fixture, 0, len(records))
	for _, r := range records {
		id := r.Fixture.ID
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		fixtures = append(fixtures, Fixture{
			ID:       id,
			Date:     r.Fixture.Date,
			Status:   r.Fixture.Status.Short,
			HomeTeam: r.Teams.Home.Name,
			AwayTeam: r.Teams.Away.Name,
		})
	}

	return FixtureList{Fixtures: fixtures, Document: doc}, nil
}
