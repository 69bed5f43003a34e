package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc string

// FileConfig is the on-disk YAML form. Pointer fields distinguish "absent"
// from zero values so a file only overrides what it sets.
type FileConfig struct {
	APIKey                *string  `yaml:"api_key" json:"api_key"`
	RapidAPIHost          *string  `yaml:"rapidapi_host" json:"rapidapi_host"`
	BaseURL               *string  `yaml:"base_url" json:"base_url"`
	HTTPTimeoutSeconds    *float64 `yaml:"http_timeout_seconds" json:"http_timeout_seconds"`
	MaxAttemptsPerFixture *int     `yaml:"max_attempts_per_fixture" json:"max_attempts_per_fixture"`
	MinIntervalSeconds    *float64 `yaml:"min_interval_seconds" json:"min_interval_seconds"`
	DataDir               *string  `yaml:"data_dir" json:"data_dir"`
	LeagueID              *int     `yaml:"league_id" json:"league_id"`
	Season                *int     `yaml:"season" json:"season"`
	Round                 *string  `yaml:"round" json:"round"`
	RetryExhausted        *bool    `yaml:"retry_exhausted" json:"retry_exhausted"`
	Schedule              *string  `yaml:"schedule" json:"schedule"`
	SQLitePath            *string  `yaml:"sqlite_path" json:"sqlite_path"`
	DatabaseURL           *string  `yaml:"database_url" json:"database_url"`
	S3                    *FileS3  `yaml:"s3" json:"s3"`
}

// FileS3 is the s3 block of the YAML file.
type FileS3 struct {
	Bucket   *string `yaml:"bucket" json:"bucket"`
	Prefix   *string `yaml:"prefix" json:"prefix"`
	Endpoint *string `yaml:"endpoint" json:"endpoint"`
	Region   *string `yaml:"region" json:"region"`
}

// ReadFile reads, strictly decodes and schema-validates a YAML config file.
// Unknown keys are rejected so typos surface instead of being ignored.
func ReadFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a FileConfig and validates it.
func Parse(data []byte) (FileConfig, error) {
	var fc FileConfig
	if len(bytes.TrimSpace(data)) == 0 {
		return fc, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return FileConfig{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := validateSchema(fc); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

// validateSchema unifies the decoded file with #Config from schema.cue.
func validateSchema(fc FileConfig) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("config schema has no #Config definition")
	}

	val := ctx.Encode(fc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Problems: describeCUEError(err)}
	}
	return nil
}

// SchemaError lists every schema violation found in a config file.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "invalid config file: " + strings.Join(e.Problems, "; ")
}

func describeCUEError(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

func (fc FileConfig) apply(cfg *Config) {
	setStr := func(src *string, dst *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setSeconds := func(src *float64, dst *time.Duration) {
		if src != nil {
			*dst = time.Duration(*src * float64(time.Second))
		}
	}

	setStr(fc.APIKey, &cfg.APIKey)
	setStr(fc.RapidAPIHost, &cfg.RapidAPIHost)
	setStr(fc.BaseURL, &cfg.BaseURL)
	setSeconds(fc.HTTPTimeoutSeconds, &cfg.HTTPTimeout)
	setSeconds(fc.MinIntervalSeconds, &cfg.MinInterval)
	setStr(fc.DataDir, &cfg.DataDir)
	setStr(fc.Round, &cfg.Round)
	setStr(fc.Schedule, &cfg.Schedule)
	setStr(fc.SQLitePath, &cfg.SQLitePath)
	setStr(fc.DatabaseURL, &cfg.DatabaseURL)

	if fc.MaxAttemptsPerFixture != nil {
		cfg.MaxAttemptsPerFixture = *fc.MaxAttemptsPerFixture
	}
	if fc.LeagueID != nil {
		cfg.LeagueID = *fc.LeagueID
	}
	if fc.Season != nil {
		cfg.Season = *fc.Season
	}
	if fc.RetryExhausted != nil {
		cfg.RetryExhausted = *fc.RetryExhausted
	}
	if fc.S3 != nil {
		setStr(fc.S3.Bucket, &cfg.S3.Bucket)
		setStr(fc.S3.Prefix, &cfg.S3.Prefix)
		setStr(fc.S3.Endpoint, &cfg.S3.Endpoint)
		setStr(fc.S3.Region, &cfg.S3.Region)
	}
}
