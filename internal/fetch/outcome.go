package fetch

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxBackoff caps the computed rate-limit wait.
const MaxBackoff = 60 * time.Second

// Kind classifies the result of one request/response cycle.
type Kind int

const (
	// KindSuccess: HTTP 200 with a parseable JSON body and no API errors.
	KindSuccess Kind = iota + 1
	// KindRateLimited: HTTP 429, or an API-level rate-limit error.
	KindRateLimited
	// KindFailed: anything else, including transport errors.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRateLimited:
		return "rate_limited"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of a single fetch. Exactly one of the
// kind-specific fields is meaningful:
//   - KindSuccess: Payload holds the verbatim response body
//   - KindRateLimited: RetryAfter is how long to wait before the next try
//   - KindFailed: StatusCode (0 for transport errors) and Message
type Outcome struct {
	Kind       Kind
	Payload    []byte
	RetryAfter time.Duration
	StatusCode int
	Message    string
}

// Success builds a KindSuccess outcome.
func Success(payload []byte) Outcome {
	return Outcome{Kind: KindSuccess, Payload: payload, StatusCode: http.StatusOK}
}

// RateLimited builds a KindRateLimited outcome.
func RateLimited(retryAfter time.Duration) Outcome {
	return Outcome{Kind: KindRateLimited, RetryAfter: retryAfter, StatusCode: http.StatusTooManyRequests}
}

// Failed builds a KindFailed outcome.
func Failed(statusCode int, message string) Outcome {
	return Outcome{Kind: KindFailed, StatusCode: statusCode, Message: message}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("success (%d bytes)", len(o.Payload))
	case KindRateLimited:
		return fmt.Sprintf("rate limited (retry after %s)", o.RetryAfter)
	case KindFailed:
		return fmt.Sprintf("failed status=%d: %s", o.StatusCode, o.Message)
	default:
		return o.Kind.String()
	}
}

// Backoff is the wait used when a 429 carries no usable Retry-After header:
// min(60, 2^attempt * 2) seconds, attempt being 1-based.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= 5 {
		return MaxBackoff
	}
	d := time.Duration(1<<attempt) * 2 * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// Classify maps one HTTP response onto an Outcome.
func Classify(statusCode int, header http.Header, body []byte, attempt int) Outcome {
	switch {
	case statusCode == http.StatusTooManyRequests:
		if d, ok := parseRetryAfter(header.Get("Retry-After")); ok {
			return RateLimited(d)
		}
		return RateLimited(Backoff(attempt))

	case statusCode != http.StatusOK:
		return Failed(statusCode, fmt.Sprintf("http %d: %s", statusCode, abbreviateBody(body)))
	}

	if !json.Valid(body) {
		return Failed(statusCode, fmt.Sprintf("invalid JSON body: %s", abbreviateBody(body)))
	}

	apiErrs := apiErrors(body)
	if len(apiErrs) > 0 {
		if isRateLimitError(apiErrs) {
			return RateLimited(Backoff(attempt))
		}
		return Failed(statusCode, "api errors: "+formatAPIErrors(apiErrs))
	}

	return Success(body)
}

// parseRetryAfter accepts a non-negative integer number of seconds.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// apiErrors extracts the provider's top-level "errors" field. The API sends
// an empty list when there are none and an object keyed by error kind
// otherwise; both shapes are normalized to a map.
func apiErrors(body []byte) map[string]string {
	var env struct {
		Errors jsoniter.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Errors) == 0 {
		return nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(env.Errors, &asMap); err == nil {
		out := make(map[string]string, len(asMap))
		for k, v := range asMap {
			out[k] = fmt.Sprint(v)
		}
		return out
	}

	var asList []any
	if err := json.Unmarshal(env.Errors, &asList); err == nil {
		out := make(map[string]string, len(asList))
		for i, v := range asList {
			out[strconv.Itoa(i)] = fmt.Sprint(v)
		}
		return out
	}
	return nil
}

func isRateLimitError(errs map[string]string) bool {
	for k := range errs {
		switch strings.ToLower(k) {
		case "ratelimit", "requests":
			return true
		}
	}
	return false
}

func formatAPIErrors(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+errs[k])
	}
	return strings.Join(parts, ", ")
}

func abbreviateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	const limit = 300
	if len(s) > limit {
		return s[:limit] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
