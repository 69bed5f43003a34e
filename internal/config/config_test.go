package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roundfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Getenv: envMap(nil)})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxAttemptsPerFixture)
	assert.Equal(t, 6500*time.Millisecond, cfg.MinInterval)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 39, cfg.LeagueID)
	assert.Equal(t, 2023, cfg.Season)
	assert.Equal(t, "Regular Season - 1", cfg.Round)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := Load(LoadOptions{Getenv: envMap(map[string]string{
		EnvAPIKey:                "secret",
		EnvMaxAttemptsPerFixture: "5",
		EnvMinIntervalSeconds:    "0.25",
		EnvLeagueID:              "140",
		EnvSeason:                "2024",
		EnvRound:                 "Regular Season - 7",
		EnvS3Bucket:              "api-football-raw",
		EnvRetryExhausted:        "true",
	})})
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 5, cfg.MaxAttemptsPerFixture)
	assert.Equal(t, 250*time.Millisecond, cfg.MinInterval)
	assert.Equal(t, 140, cfg.LeagueID)
	assert.Equal(t, 2024, cfg.Season)
	assert.Equal(t, "Regular Season - 7", cfg.Round)
	assert.True(t, cfg.S3.Enabled())
	assert.True(t, cfg.RetryExhausted)
}

func TestLoad_InvalidEnv(t *testing.T) {
	_, err := Load(LoadOptions{Getenv: envMap(map[string]string{EnvMaxAttemptsPerFixture: "three"})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvMaxAttemptsPerFixture)

	_, err = Load(LoadOptions{Getenv: envMap(map[string]string{EnvMinIntervalSeconds: "-1"})})
	require.Error(t, err)

	_, err = Load(LoadOptions{Getenv: envMap(map[string]string{EnvMaxAttemptsPerFixture: "0"})})
	require.Error(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
api_key: from-file
max_attempts_per_fixture: 4
min_interval_seconds: 1.5
league_id: 61
s3:
  bucket: raw
  prefix: football
`)
	cfg, err := Load(LoadOptions{Path: path, Getenv: envMap(map[string]string{
		EnvAPIKey: "from-env",
	})})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, 4, cfg.MaxAttemptsPerFixture)
	assert.Equal(t, 1500*time.Millisecond, cfg.MinInterval)
	assert.Equal(t, 61, cfg.LeagueID)
	assert.Equal(t, "raw", cfg.S3.Bucket)
	assert.Equal(t, "football", cfg.S3.Prefix)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("max_attempts: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"attempts too low", "max_attempts_per_fixture: 0\n"},
		{"negative interval", "min_interval_seconds: -2\n"},
		{"bad base url", "base_url: ftp://example.com\n"},
		{"season out of range", "season: 23\n"},
		{"empty round", "round: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.NotEmpty(t, schemaErr.Problems)
		})
	}
}

func TestParse_EmptyFile(t *testing.T) {
	fc, err := Parse([]byte("   \n"))
	require.NoError(t, err)
	assert.Nil(t, fc.APIKey)
}

func TestRequireChecks(t *testing.T) {
	cfg := Default()

	var missing *MissingError
	require.ErrorAs(t, cfg.RequireAPI(), &missing)
	assert.Equal(t, []string{EnvAPIKey}, missing.Keys)
	assert.Error(t, cfg.RequireDatabase())
	assert.Error(t, cfg.RequireSQLite())
	assert.Error(t, cfg.RequireS3())

	cfg.APIKey = "k"
	cfg.DatabaseURL = "postgres://localhost/db"
	cfg.SQLitePath = "rows.db"
	cfg.S3.Bucket = "b"
	assert.NoError(t, cfg.RequireAPI())
	assert.NoError(t, cfg.RequireDatabase())
	assert.NoError(t, cfg.RequireSQLite())
	assert.NoError(t, cfg.RequireS3())
}

func TestSeconds(t *testing.T) {
	d, err := Seconds("6.5")
	require.NoError(t, err)
	assert.Equal(t, 6500*time.Millisecond, d)

	_, err = Seconds("soon")
	assert.Error(t, err)
}
