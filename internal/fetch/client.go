// Package fetch talks to the API-Football v3 REST API.
//
// Two request paths exist:
//   - FetchPlayers and FetchEvents perform exactly one request for one fixture
//     and classify the response. They never retry and never wait on the rate
//     limiter; the pipeline engine owns both decisions.
//   - The list endpoints (fixtures, rounds, status) are paced through the shared
//     limiter and retried a bounded number of times on 429/5xx, because they
//     run before any manifest exists to record their attempts.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/roundfetch/internal/ratelimit"
)

const (
	defaultBaseURL    = "https://v3.football.api-sports.io"
	defaultUserAgent  = "roundfetch/1.0"
	defaultMaxRetries = 3
	maxBodyBytes      = 16 << 20
)

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	HTTPClient   *http.Client
	BaseURL      string
	APIKey       string
	RapidAPIHost string // when set, RapidAPI headers replace x-apisports-key
	Timeout      time.Duration
	UserAgent    string

	// MaxRetries bounds retries of list endpoints. Zero selects the default.
	MaxRetries int

	// Limiter paces list endpoints. Nil disables pacing.
	Limiter *ratelimit.Limiter
	Clock   ratelimit.Clock
	Logger  *slog.Logger
}

// Client is an API-Football client.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	rapidAPIHost string
	userAgent    string
	maxRetries   int
	limiter      *ratelimit.Limiter
	clock        ratelimit.Clock
	logger       *slog.Logger
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.SystemClock{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		rapidAPIHost: strings.TrimSpace(cfg.RapidAPIHost),
		userAgent:    userAgent,
		maxRetries:   maxRetries,
		limiter:      cfg.Limiter,
		clock:        clock,
		logger:       logger,
	}
}

// response is one raw HTTP exchange.
type response struct {
	statusCode int
	header     http.Header
	body       []byte
}

// send performs one GET. It does not pace or retry.
func (c *Client) send(ctx context.Context, path string, query url.Values) (response, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if encoded := query.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.rapidAPIHost != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
		req.Header.Set("X-RapidAPI-Host", c.rapidAPIHost)
	} else {
		req.Header.Set("x-apisports-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("GET %s: read body: %w", path, err)
	}

	c.logger.Debug("api request", "path", path, "query", query.Encode(), "status", resp.StatusCode, "bytes", len(body))
	return response{statusCode: resp.StatusCode, header: resp.Header, body: body}, nil
}

// getJSON paces, sends and retries a list-endpoint request until it yields a
// successful outcome or the retry bound is reached.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var last Outcome
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.send(ctx, path, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			last = Failed(0, err.Error())
		} else {
			last = Classify(resp.statusCode, resp.header, resp.body, attempt)
		}

		if last.Kind == KindSuccess {
			return last.Payload, nil
		}
		if last.Kind != KindRateLimited && !isRetryableStatus(last.StatusCode) {
			return nil, &RequestError{Path: path, StatusCode: last.StatusCode, Message: last.Message}
		}
		if attempt == c.maxRetries {
			break
		}

		wait := last.RetryAfter
		if last.Kind != KindRateLimited {
			wait = Backoff(attempt)
		}
		c.logger.Warn("api request not served, retrying", "path", path, "attempt", attempt, "outcome", last.Kind, "status", last.StatusCode, "wait", wait)
		if err := ratelimit.Sleep(ctx, c.clock, wait); err != nil {
			return nil, err
		}
	}
	return nil, &RequestError{Path: path, StatusCode: last.StatusCode, Message: fmt.Sprintf("gave up after %d attempts: %s", c.maxRetries, last)}
}

// isRetryableStatus reports transient statuses. Zero is a transport error.
func isRetryableStatus(status int) bool {
	switch status {
	case 0, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusInternalServerError:
		return true
	}
	return false
}

// RequestError is returned by list endpoints that could not be fetched.
type RequestError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("GET %s failed (status %d): %s", e.Path, e.StatusCode, e.Message)
}
