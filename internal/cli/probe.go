package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/roundfetch/internal/ratelimit"
)

// ProbeOptions holds flags for the probe command.
type ProbeOptions struct {
	*RootOptions
	Round roundFlags
}

// ProbeResult reports what the API accepted.
type ProbeResult struct {
	BaseURL      string   `json:"base_url"`
	StatusOK     bool     `json:"status_ok"`
	LeagueID     int      `json:"league_id"`
	Season       int      `json:"season"`
	Rounds       []string `json:"rounds"`
	CurrentRound string   `json:"current_round,omitempty"`
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProbeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check credentials and list the rounds of a season",
		Long: `Call /status to check the API key, then list the rounds of the configured
league and season and the round the provider reports as current. Requests
are spaced by MIN_INTERVAL_SECONDS like any other run.

Examples:
  roundfetch probe
  roundfetch probe --league 140 --season 2024 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Round.League, "league", 0, "league id (default LEAGUE_ID or 39)")
	cmd.Flags().IntVar(&opts.Round.Season, "season", 0, "season year (default SEASON or 2023)")

	return cmd
}

func runProbe(ctx context.Context, opts *ProbeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, opts.Round)
	if err != nil {
		return err
	}
	if err := cfg.RequireAPI(); err != nil {
		return WrapExitError(ExitCommandError, "cannot reach the football API", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	client := newClient(cfg, ratelimit.New(cfg.MinInterval, nil), logger)

	meta, _, err := client.Status(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "status probe failed", err)
	}
	if len(meta.Errors) > 0 && string(meta.Errors) != "[]" && string(meta.Errors) != "{}" {
		return NewExitError(ExitCommandError, fmt.Sprintf("status probe rejected: %s", meta.Errors))
	}

	result := ProbeResult{BaseURL: cfg.BaseURL, StatusOK: true, LeagueID: cfg.LeagueID, Season: cfg.Season}
	if result.Rounds, _, err = client.Rounds(ctx, cfg.LeagueID, cfg.Season, false); err != nil {
		return WrapExitError(ExitCommandError, "list rounds", err)
	}
	current, _, err := client.Rounds(ctx, cfg.LeagueID, cfg.Season, true)
	if err != nil {
		logger.Warn("current round unavailable", "error", err)
	} else if len(current) > 0 {
		result.CurrentRound = current[len(current)-1]
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "status: ok (%s)\n", result.BaseURL)
	fmt.Fprintf(f.Writer, "league %d season %d: %d rounds\n", result.LeagueID, result.Season, len(result.Rounds))
	if result.CurrentRound != "" {
		fmt.Fprintf(f.Writer, "current round: %s\n", result.CurrentRound)
	}
	return nil
}
