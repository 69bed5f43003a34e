package cli

import (
	"context"
	"fmt"
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
	"github.com/roach88/roundfetch/internal/store"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Round          roundFlags
	RetryExhausted bool
	MaxAttempts    int
	Strict         bool
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch per-fixture payloads for every fixture of a round",
		Long: `Fetch /fixtures/players (or /fixtures/events with --dataset events) for
every fixture of a round and store one JSON payload per fixture under the
data directory. Each dataset keeps its own manifest.

Fixtures whose payload is already stored, or whose manifest says ok, are
skipped. Failed fixtures are retried up to MAX_ATTEMPTS_PER_FIXTURE times in
total across runs; use --retry-exhausted to give them a fresh budget.

--round accepts an exact round name, "current" or "all".

Exit codes:
  0 - Run finished (fixtures may have given up, see the summary)
  1 - Run finished with given-up fixtures and --strict was set
  2 - Setup error or the fixture list could not be fetched

Examples:
  roundfetch fetch --round "Regular Season - 1"
  roundfetch fetch --league 39 --season 2023 --round current
  roundfetch fetch --round all --retry-exhausted --format json
  roundfetch fetch --round current --dataset events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), opts, cmd)
		},
	}

	opts.Round.register(cmd, `round name, "current" or "all" (default ROUND)`)
	cmd.Flags().BoolVar(&opts.RetryExhausted, "retry-exhausted", false, "give fixtures that exhausted their budget a fresh one")
	cmd.Flags().IntVar(&opts.MaxAttempts, "max-attempts", 0, "attempt budget per fixture (default MAX_ATTEMPTS_PER_FIXTURE or 3)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when any fixture gave up")

	return cmd
}

func (o *FetchOptions) config() (config.Config, error) {
	cfg, err := loadConfig(o.RootOptions, o.Round)
	if err != nil {
		return cfg, err
	}
	if o.MaxAttempts > 0 {
		cfg.MaxAttemptsPerFixture = o.MaxAttempts
	}
	if o.RetryExhausted {
		cfg.RetryExhausted = true
	}
	if err := cfg.RequireAPI(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "cannot reach the football API", err)
	}
	return cfg, nil
}

func runFetch(ctx context.Context, opts *FetchOptions, cmd *cobra.Command) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	ds, err := opts.Round.dataset()
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	p, err := openPipeline(ctx, cfg, ds, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	f := newFormatter(opts.RootOptions, cmd)
	summaries, err := p.run(ctx, cfg.Round)
	if err != nil {
		if f.Format == "json" {
			if ferr := f.Error(errorCode(err), err.Error(), summaries); ferr != nil {
				return ferr
			}
		}
		return err
	}

	if f.Format == "json" {
		if err := f.Success(summaries); err != nil {
			return err
		}
	} else {
		writeSummaries(f.Writer, summaries)
	}

	if opts.Strict {
		if n := gaveUp(summaries); n > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d fixture(s) gave up", n))
		}
	}
	return nil
}

// pipeline is the wired fetch stack shared by fetch and schedule.
type pipeline struct {
	cfg     config.Config
	dataset runctx.Dataset
	client  *fetch.Client
	engine  *engine.Engine
	history *store.Store
	logger  *slog.Logger
}

func openPipeline(ctx context.Context, cfg config.Config, ds runctx.Dataset, logger *slog.Logger) (*pipeline, error) {
	limiter := ratelimit.New(cfg.MinInterval, nil)
	client := newClient(cfg, limiter, logger)
	logger.Debug("pacing API requests", "min_interval", limiter.Interval(), "dataset", ds)

	engOpts := []engine.EngineOption{
		engine.WithMaxAttempts(cfg.MaxAttemptsPerFixture),
		engine.WithRetryExhausted(cfg.RetryExhausted),
		engine.WithLimiter(limiter),
		engine.WithLogger(logger),
	}

	mirror, err := openMirror(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		engOpts = append(engOpts, engine.WithMirror(mirror))
		logger.Debug("mirroring to object storage", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	p := &pipeline{cfg: cfg, dataset: ds, client: client, logger: logger}
	if cfg.SQLitePath != "" {
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open run history", err)
		}
		p.history = st
		engOpts = append(engOpts, engine.WithRunHistory(st))
	}

	p.engine = engine.New(client, blob.NewLocalStore(cfg.DataDir), engOpts...)
	return p, nil
}

func (p *pipeline) Close() {
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			p.logger.Warn("close run history", "error", err)
		}
	}
}

// run resolves selector and runs the pipeline once per resolved round. It
// stops at the first run-level failure.
func (p *pipeline) run(ctx context.Context, selector string) ([]engine.Summary, error) {
	rounds, err := engine.ResolveRounds(ctx, p.client, p.cfg.LeagueID, p.cfg.Season, selector)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolve round", err)
	}

	summaries := make([]engine.Summary, 0, len(rounds))
	for _, round := range rounds {
		rc, err := roundContext(p.cfg, round, p.dataset)
		if err != nil {
			return summaries, err
		}
		summary, err := p.engine.Run(ctx, rc)
		if err != nil {
			return summaries, runFailure(rc, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func writeSummaries(w io.Writer, summaries []engine.Summary) {
	for _, s := range summaries {
		fmt.Fprintf(w, "%s: succeeded=%d skipped=%d gave_up=%d (run %s)\n",
			s.Namespace, s.Succeeded, s.Skipped, s.GaveUp, s.RunID)
		for _, item := range s.Items {
			if item.State == engine.StateGaveUp {
				fmt.Fprintf(w, "  gave up: fixture %d after %d attempt(s): %s\n", item.ItemID, item.Attempts, item.Message)
			}
		}
		if len(s.Items) == 0 && len(s.ValidRounds) > 0 {
			fmt.Fprintf(w, "  no fixtures in this round; valid rounds: %s\n", strings.Join(s.ValidRounds, ", "))
		}
	}
}

func gaveUp(summaries []engine.Summary) int {
	n := 0
	for _, s := range summaries {
		n += s.GaveUp
	}
	return n
}
