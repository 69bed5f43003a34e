package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Rounds lists round names of a league season. With currentOnly the API
// returns just the round in progress.
func (c *Client) Rounds(ctx context.Context, leagueID, season int, currentOnly bool) ([]string, []byte, error) {
	query := url.Values{
		"league": {strconv.Itoa(leagueID)},
		"season": {strconv.Itoa(season)},
	}
	if currentOnly {
		query.Set("current", "true")
	}

	body, err := c.getJSON(ctx, "/fixtures/rounds", query)
	if err != nil {
		return nil, nil, fmt.Errorf("list rounds: %w", err)
	}

	rounds, err := decodeRounds(body)
	if err != nil {
		return nil, body, err
	}
	return rounds, body, nil
}

// decodeRounds accepts a list of names or a single bare name.
func decodeRounds(body []byte) ([]string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode rounds: %w", err)
	}
	if len(env.Response) == 0 {
		return []string{}, nil
	}

	var list []string
	if err := json.Unmarshal(env.Response, &list); err == nil {
		if list == nil {
			list = []string{}
		}
		return list, nil
	}
	var single string
	if err := json.Unmarshal(env.Response, &single); err == nil {
		if single == "" {
			return []string{}, nil
		}
		return []string{single}, nil
	}
	return nil, fmt.Errorf("decode rounds: unexpected response shape")
}

// StatusMeta is the account probe summary.
type StatusMeta struct {
	Results int                 `json:"results"`
	Paging  *Paging             `json:"paging,omitempty"`
	Errors  jsoniter.RawMessage `json:"errors,omitempty"`
}

// Status calls /status, the authentication sanity probe.
func (c *Client) Status(ctx context.Context) (StatusMeta, []byte, error) {
	body, err := c.getJSON(ctx, "/status", nil)
	if err != nil {
		return StatusMeta{}, nil, fmt.Errorf("status probe: %w", err)
	}
	var meta StatusMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return StatusMeta{}, body, fmt.Errorf("decode status: %w", err)
	}
	return meta, body, nil
}
