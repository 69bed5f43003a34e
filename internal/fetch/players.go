package fetch

import (
	"context"
	"net/url"
	"strconv"
)

// FetchPlayers performs one request for /fixtures/players?fixture=<id> and
// classifies the result. attempt is the 1-based attempt number for this
// fixture and only feeds the rate-limit backoff computation.
//
// The caller is responsible for pacing (the engine waits on the limiter before
// each call) and for every retry decision.
func (c *Client) FetchPlayers(ctx context.Context, fixtureID int64, attempt int) Outcome {
	return c.fetchFixture(ctx, "/fixtures/players", fixtureID, attempt)
}

// FetchEvents is FetchPlayers for /fixtures/events?fixture=<id>.
func (c *Client) FetchEvents(ctx context.Context, fixtureID int64, attempt int) Outcome {
	return c.fetchFixture(ctx, "/fixtures/events", fixtureID, attempt)
}

func (c *Client) fetchFixture(ctx context.Context, path string, fixtureID int64, attempt int) Outcome {
	query := url.Values{"fixture": {strconv.FormatInt(fixtureID, 10)}}

	resp, err := c.send(ctx, path, query)
	if err != nil {
		return Failed(0, err.Error())
	}
	return Classify(resp.statusCode, resp.header, resp.body, attempt)
}
