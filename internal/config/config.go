// Package config builds the immutable run configuration.
//
// Sources, lowest precedence first:
//   - built-in defaults
//   - an optional YAML file, validated against the embedded CUE schema
//   - environment variables (looked up through LoadOptions.Getenv)
//
// CLI flags are applied on top by the cli package before the Config is handed
// to any component. No component reads the environment itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/roundfetch/internal/ratelimit"
)

// Defaults.
const (
	DefaultBaseURL               = "https://v3.football.api-sports.io"
	DefaultHTTPTimeout           = 60 * time.Second
	DefaultMaxAttemptsPerFixture = 3
	DefaultDataDir               = "raw-data/api-football"
	DefaultLeagueID              = 39
	DefaultSeason                = 2023
	DefaultRound                 = "Regular Season - 1"
	DefaultSchedule              = "0 6 * * *"
)

// Environment keys.
const (
	EnvAPIKey                = "API_FOOTBALL_KEY"
	EnvRapidAPIHost          = "RAPIDAPI_HOST"
	EnvBaseURL               = "API_FOOTBALL_BASE_URL"
	EnvHTTPTimeoutSeconds    = "HTTP_TIMEOUT_SECONDS"
	EnvMaxAttemptsPerFixture = "MAX_ATTEMPTS_PER_FIXTURE"
	EnvMinIntervalSeconds    = "MIN_INTERVAL_SECONDS"
	EnvDataDir               = "DATA_DIR"
	EnvLeagueID              = "LEAGUE_ID"
	EnvSeason                = "SEASON"
	EnvRound                 = "ROUND"
	EnvRetryExhausted        = "RETRY_EXHAUSTED"
	EnvSchedule              = "FETCH_SCHEDULE"
	EnvSQLitePath            = "SQLITE_PATH"
	EnvDatabaseURL           = "DATABASE_URL"
	EnvS3Bucket              = "S3_BUCKET"
	EnvS3Prefix              = "S3_PREFIX"
	EnvS3Endpoint            = "S3_ENDPOINT"
	EnvS3Region              = "S3_REGION"
)

// S3 configures the object-storage mirror. An empty Bucket disables it.
type S3 struct {
	Bucket   string
	Prefix   string
	Endpoint string
	Region   string
}

// Enabled reports whether a bucket is configured.
func (s S3) Enabled() bool {
	return s.Bucket != ""
}

// Config is the full run configuration. Pass it by value.
type Config struct {
	APIKey       string
	RapidAPIHost string
	BaseURL      string
	HTTPTimeout  time.Duration

	MaxAttemptsPerFixture int
	MinInterval           time.Duration
	RetryExhausted        bool

	DataDir string

	LeagueID int
	Season   int
	Round    string

	Schedule string

	SQLitePath  string
	DatabaseURL string
	S3          S3
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		HTTPTimeout:           DefaultHTTPTimeout,
		MaxAttemptsPerFixture: DefaultMaxAttemptsPerFixture,
		MinInterval:           ratelimit.DefaultMinInterval,
		DataDir:               DefaultDataDir,
		LeagueID:              DefaultLeagueID,
		Season:                DefaultSeason,
		Round:                 DefaultRound,
		Schedule:              DefaultSchedule,
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path of an optional YAML file. Empty skips the file.
	Path string

	// Getenv looks up environment keys. Nil means os.Getenv.
	Getenv func(string) string
}

// Load builds a Config from defaults, the optional file and the environment.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.Path != "" {
		fc, err := ReadFile(opts.Path)
		if err != nil {
			return Config{}, err
		}
		fc.apply(&cfg)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Credentials are checked separately by the
// Require* methods because not every command needs them.
func (c Config) Validate() error {
	if c.MaxAttemptsPerFixture < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", EnvMaxAttemptsPerFixture, c.MaxAttemptsPerFixture)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("%s must not be negative", EnvMinIntervalSeconds)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvHTTPTimeoutSeconds)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%s must not be empty", EnvDataDir)
	}
	return nil
}

// RequireAPI checks the credentials needed to call the football API.
func (c Config) RequireAPI() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &MissingError{Keys: []string{EnvAPIKey}}
	}
	return nil
}

// RequireDatabase checks the Postgres connection string.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return &MissingError{Keys: []string{EnvDatabaseURL}}
	}
	return nil
}

// RequireSQLite checks the SQLite path.
func (c Config) RequireSQLite() error {
	if strings.TrimSpace(c.SQLitePath) == "" {
		return &MissingError{Keys: []string{EnvSQLitePath}}
	}
	return nil
}

// RequireS3 checks the bucket name.
func (c Config) RequireS3() error {
	if !c.S3.Enabled() {
		return &MissingError{Keys: []string{EnvS3Bucket}}
	}
	return nil
}

// MissingError reports required settings that are absent.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str(EnvAPIKey, &cfg.APIKey)
	str(EnvRapidAPIHost, &cfg.RapidAPIHost)
	str(EnvBaseURL, &cfg.BaseURL)
	str(EnvDataDir, &cfg.DataDir)
	str(EnvRound, &cfg.Round)
	str(EnvSchedule, &cfg.Schedule)
	str(EnvSQLitePath, &cfg.SQLitePath)
	str(EnvDatabaseURL, &cfg.DatabaseURL)
	str(EnvS3Bucket, &cfg.S3.Bucket)
	str(EnvS3Prefix, &cfg.S3.Prefix)
	str(EnvS3Endpoint, &cfg.S3.Endpoint)
	str(EnvS3Region, &cfg.S3.Region)

	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxAttemptsPerFixture, &cfg.MaxAttemptsPerFixture},
		{EnvLeagueID, &cfg.LeagueID},
		{EnvSeason, &cfg.Season},
	}
	for _, it := range ints {
		v := strings.TrimSpace(getenv(it.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", it.key, v)
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvMinIntervalSeconds, &cfg.MinInterval},
		{EnvHTTPTimeoutSeconds, &cfg.HTTPTimeout},
	}
	for _, it := range durations {
		v := strings.TrimSpace(getenv(it.key))
		if v == "" {
			continue
		}
		d, err := Seconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", it.key, err)
		}
		*it.dst = d
	}

	if v := strings.TrimSpace(getenv(EnvRetryExhausted)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", EnvRetryExhausted, v)
		}
		cfg.RetryExhausted = b
	}

	return nil
}

// Seconds parses a decimal number of seconds such as "6.5".
func Seconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number of seconds", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("%q must not be negative", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}
