package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/manifest"
	"github.com/roach88/roundfetch/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Round   roundFlags
	History bool
}

// StatusReport is the folded manifest of one round.
type StatusReport struct {
	Namespace    string            `json:"namespace"`
	Dataset      string            `json:"dataset"`
	ManifestPath string            `json:"manifest_path"`
	Totals       manifest.Totals   `json:"totals"`
	SkippedLines int               `json:"skipped_lines"`
	Items        []manifest.Record `json:"items"`
	Runs         []store.Run       `json:"runs,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the manifest state of a round",
		Long: `Fold the manifest of a round and print the last recorded status of every
fixture, with totals. --dataset picks the players or events manifest. Run
history lists the runs of both datasets. No request is made to the football
API.

Examples:
  roundfetch status --round "Regular Season - 1"
  roundfetch status --history --format json
  roundfetch status --dataset events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts, cmd)
		},
	}

	opts.Round.register(cmd, "exact round name (default ROUND)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "include run history from SQLITE_PATH")

	return cmd
}

func runStatus(ctx context.Context, opts *StatusOptions, cmd *cobra.Command) error {
	ds, err := opts.Round.dataset()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.RootOptions, opts.Round)
	if err != nil {
		return err
	}
	rc, err := runContext(cfg, ds)
	if err != nil {
		return err
	}

	payloads := blob.NewLocalStore(cfg.DataDir)
	log := manifest.Open(payloads.Path(rc.ManifestKey()))
	state, err := log.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "read manifest", err)
	}

	report := StatusReport{
		Namespace:    rc.Namespace(),
		Dataset:      string(ds),
		ManifestPath: log.Path(),
		Totals:       manifest.Summarize(state),
		SkippedLines: log.Skipped(),
		Items:        make([]manifest.Record, 0, len(state)),
	}
	for _, rec := range state {
		report.Items = append(report.Items, rec)
	}
	sort.Slice(report.Items, func(i, j int) bool { return report.Items[i].ItemID < report.Items[j].ItemID })

	if opts.History {
		if err := cfg.RequireSQLite(); err != nil {
			return WrapExitError(ExitCommandError, "--history", err)
		}
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "open run history", err)
		}
		defer st.Close()
		if report.Runs, err = st.ListRuns(ctx, rc.Namespace()); err != nil {
			return WrapExitError(ExitCommandError, "read run history", err)
		}
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.Format == "json" {
		return f.Success(report)
	}
	writeStatus(f.Writer, report)
	return nil
}

func writeStatus(w io.Writer, r StatusReport) {
	fmt.Fprintf(w, "namespace: %s\n", r.Namespace)
	fmt.Fprintf(w, "dataset:   %s\n", r.Dataset)
	fmt.Fprintf(w, "manifest:  %s\n", r.ManifestPath)
	fmt.Fprintf(w, "items: %d  ok: %d  error: %d\n", r.Totals.Items, r.Totals.OK, r.Totals.Error)
	if r.SkippedLines > 0 {
		fmt.Fprintf(w, "malformed lines skipped: %d\n", r.SkippedLines)
	}
	for _, rec := range r.Items {
		fmt.Fprintf(w, "  %-10d %-5s attempts=%d  %s", rec.ItemID, rec.Status, rec.AttemptCount, rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
		if rec.Message != "" {
			fmt.Fprintf(w, "  %s", rec.Message)
		}
		fmt.Fprintln(w)
	}
	if len(r.Runs) > 0 {
		fmt.Fprintln(w, "runs:")
		for _, run := range r.Runs {
			fmt.Fprintf(w, "  %s  %s  %-7s succeeded=%d skipped=%d gave_up=%d\n",
				run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), run.ID, run.Dataset, run.Succeeded, run.Skipped, run.GaveUp)
		}
	}
}
