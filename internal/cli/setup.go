package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/config"
	"github.com/roach88/roundfetch/internal/engine"
	"github.com/roach88/roundfetch/internal/fetch"
	"github.com/roach88/roundfetch/internal/ratelimit"
	"github.com/roach88/roundfetch/internal/runctx"
)

// roundFlags are the run-context flags shared by commands that address a
// round. Zero values leave the configured value in place.
type roundFlags struct {
	League  int
	Season  int
	Round   string
	DataDir string
	Dataset string
}

func (f *roundFlags) register(cmd *cobra.Command, roundHelp string) {
	cmd.Flags().IntVar(&f.League, "league", 0, "league id (default LEAGUE_ID or 39)")
	cmd.Flags().IntVar(&f.Season, "season", 0, "season year (default SEASON or 2023)")
	cmd.Flags().StringVar(&f.Round, "round", "", roundHelp)
	cmd.Flags().StringVar(&f.DataDir, "data-dir", "", "local data directory (default DATA_DIR)")
	cmd.Flags().StringVar(&f.Dataset, "dataset", string(runctx.DatasetPlayers), "per-fixture payloads (players|events)")
}

func (f roundFlags) dataset() (runctx.Dataset, error) {
	d, err := runctx.ParseDataset(f.Dataset)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "--dataset", err)
	}
	return d, nil
}

func (f roundFlags) apply(cfg *config.Config) {
	if f.League > 0 {
		cfg.LeagueID = f.League
	}
	if f.Season > 0 {
		cfg.Season = f.Season
	}
	if f.Round != "" {
		cfg.Round = f.Round
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
}

// loadConfig builds the configuration and applies the round flags.
func loadConfig(opts *RootOptions, flags roundFlags) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: opts.ConfigPath, Getenv: opts.Getenv})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	flags.apply(&cfg)
	return cfg, nil
}

// runContext is the exact round addressed by cfg.
func runContext(cfg config.Config, d runctx.Dataset) (runctx.RunContext, error) {
	return roundContext(cfg, cfg.Round, d)
}

func roundContext(cfg config.Config, round string, d runctx.Dataset) (runctx.RunContext, error) {
	rc, err := runctx.New(cfg.LeagueID, cfg.Season, round)
	if err != nil {
		return runctx.RunContext{}, WrapExitError(ExitCommandError, "invalid round", err)
	}
	return rc.WithDataset(d), nil
}

func isRoundSelector(round string) bool {
	round = strings.TrimSpace(round)
	return strings.EqualFold(round, engine.RoundCurrent) || strings.EqualFold(round, engine.RoundAll)
}

// resolveRoundContexts expands cfg.Round into one run context per round.
// Only "current" and "all" call the football API.
func resolveRoundContexts(ctx context.Context, cfg config.Config, d runctx.Dataset, logger *slog.Logger) ([]runctx.RunContext, error) {
	if !isRoundSelector(cfg.Round) {
		rc, err := runContext(cfg, d)
		if err != nil {
			return nil, err
		}
		return []runctx.RunContext{rc}, nil
	}
	if err := cfg.RequireAPI(); err != nil {
		return nil, WrapExitError(ExitCommandError, "--round "+cfg.Round+" needs the football API", err)
	}
	client := newClient(cfg, ratelimit.New(cfg.MinInterval, nil), logger)
	rounds, err := engine.ResolveRounds(ctx, client, cfg.LeagueID, cfg.Season, cfg.Round)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve round", err)
	}
	rcs := make([]runctx.RunContext, 0, len(rounds))
	for _, round := range rounds {
		rc, err := roundContext(cfg, round, d)
		if err != nil {
			return nil, err
		}
		rcs = append(rcs, rc)
	}
	return rcs, nil
}

// runFailure wraps a run-level engine error with a hint for the operator.
func runFailure(rc runctx.RunContext, err error) *ExitError {
	msg := "run " + rc.Namespace() + " (" + string(rc.Dataset) + ")"
	switch {
	case engine.IsLockedError(err):
		msg += ": another run holds this round; a lock left on another host must be removed by hand"
	case engine.IsWorkListError(err):
		msg += ": check API_FOOTBALL_KEY, --league, --season and --round"
	case engine.IsManifestError(err):
		msg += ": the manifest under DATA_DIR could not be read or appended"
	}
	return WrapExitError(ExitCommandError, msg, err)
}

// errorCode is the JSON error code of err.
func errorCode(err error) string {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	return "RUN_FAILED"
}

// newLogger configures logging based on the verbose flag.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func newClient(cfg config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) *fetch.Client {
	return fetch.NewClient(fetch.ClientConfig{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		RapidAPIHost: cfg.RapidAPIHost,
		Timeout:      cfg.HTTPTimeout,
		Limiter:      limiter,
		Logger:       logger,
	})
}

// openMirror returns the S3 mirror, or nil when no bucket is configured.
func openMirror(ctx context.Context, cfg config.Config) (*blob.S3Store, error) {
	if !cfg.S3.Enabled() {
		return nil, nil
	}
	client, err := blob.NewS3Client(ctx, blob.S3Options{Region: cfg.S3.Region, Endpoint: cfg.S3.Endpoint})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure object storage", err)
	}
	return blob.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
}

// openSource selects where persisted payloads are read from.
func openSource(ctx context.Context, cfg config.Config, fromS3 bool) (blob.Store, error) {
	if !fromS3 {
		return blob.NewLocalStore(cfg.DataDir), nil
	}
	if err := cfg.RequireS3(); err != nil {
		return nil, WrapExitError(ExitCommandError, "--from-s3", err)
	}
	return openMirror(ctx, cfg)
}
