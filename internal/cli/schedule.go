package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/roundfetch/internal/engine"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Round  roundFlags
	Cron   string
	RunNow bool
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run fetch on a cron schedule until interrupted",
		Long: `Run the fetch pipeline on a standard five-field cron schedule. A tick that
fires while the previous run is still in progress is skipped.

SIGINT or SIGTERM cancels a fetch that is in progress and stops the
scheduler. Fixtures the cancelled fetch had already finished stay in the
manifest, so the next run resumes after them.

--round defaults to "current" so each tick follows the season.

Examples:
  roundfetch schedule
  roundfetch schedule --cron "30 5 * * *" --run-now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd.Context(), opts, cmd)
		},
	}

	opts.Round.register(cmd, `round name, "current" or "all" (default "current")`)
	cmd.Flags().StringVar(&opts.Cron, "cron", "", "cron expression (default FETCH_SCHEDULE or \"0 6 * * *\")")
	cmd.Flags().BoolVar(&opts.RunNow, "run-now", false, "run once immediately before waiting for the first tick")

	return cmd
}

func runSchedule(ctx context.Context, opts *ScheduleOptions, cmd *cobra.Command) error {
	selector := opts.Round.Round
	if selector == "" {
		selector = engine.RoundCurrent
	}
	fetchOpts := &FetchOptions{RootOptions: opts.RootOptions, Round: opts.Round}
	fetchOpts.Round.Round = selector
	cfg, err := fetchOpts.config()
	if err != nil {
		return err
	}
	ds, err := opts.Round.dataset()
	if err != nil {
		return err
	}

	spec := opts.Cron
	if spec == "" {
		spec = cfg.Schedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid cron expression %q", spec), err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	p, err := openPipeline(ctx, cfg, ds, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	w := cmd.OutOrStdout()
	job := func() {
		summaries, err := p.run(ctx, selector)
		if err != nil {
			logger.Error("scheduled fetch failed", "round", selector, "error", err)
		}
		writeSummaries(w, summaries)
	}

	cl := cronLogger{logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(spec, job); err != nil {
		return WrapExitError(ExitCommandError, "schedule fetch", err)
	}

	if opts.RunNow {
		job()
	}
	c.Start()
	logger.Info("scheduler started", "cron", spec, "round", selector, "dataset", ds)

	<-ctx.Done()
	logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

// cronLogger routes scheduler events to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
