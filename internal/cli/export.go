package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/roundfetch/internal/export"
	"github.com/roach88/roundfetch/internal/runctx"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Round      roundFlags
	FileFormat string
	Out        string
	FromS3     bool
}

// ExportResult reports one export.
type ExportResult struct {
	Namespace string   `json:"namespace"`
	Dataset   string   `json:"dataset"`
	Rounds    []string `json:"rounds"`
	Path      string   `json:"path"`
	Format    string   `json:"format"`
	Rows      int      `json:"rows"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the flattened rows of one or more rounds to CSV or Parquet",
		Long: `Flatten every stored payload of the selected rounds and write the rows to a
single file. The default file name is <dataset>_<league>_<season>_<round>.<ext>,
where <round> is the round name or the selector ("current" or "all") when it
resolved to several rounds.

"current" and "all" are resolved through the football API.

Examples:
  roundfetch export --round "Regular Season - 1"
  roundfetch export --round all --file-format parquet --out season.parquet
  roundfetch export --round current --dataset events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	opts.Round.register(cmd, `round name, "current" or "all" (default ROUND)`)
	cmd.Flags().StringVar(&opts.FileFormat, "file-format", string(export.FormatCSV), "file format (csv|parquet)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output path")
	cmd.Flags().BoolVar(&opts.FromS3, "from-s3", false, "read payloads from S3_BUCKET instead of the data directory")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	format, err := export.ParseFormat(opts.FileFormat)
	if err != nil {
		return WrapExitError(ExitCommandError, "--file-format", err)
	}
	ds, err := opts.Round.dataset()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.RootOptions, opts.Round)
	if err != nil {
		return err
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	rcs, err := resolveRoundContexts(ctx, cfg, ds, logger)
	if err != nil {
		return err
	}
	src, err := openSource(ctx, cfg, opts.FromS3)
	if err != nil {
		return err
	}

	label := cfg.Round
	if len(rcs) == 1 {
		label = rcs[0].Round
	}
	path := opts.Out
	if path == "" {
		path = export.DefaultFileName(ds, cfg.LeagueID, cfg.Season, label, format)
	}

	var n int
	switch ds {
	case runctx.DatasetEvents:
		rows, err := readEventRows(ctx, src, rcs, logger)
		if err != nil {
			return err
		}
		n = len(rows)
		err = export.WriteFile(path, format, export.Events, rows)
		if err != nil {
			return WrapExitError(ExitCommandError, "write export", err)
		}
	default:
		rows, err := readPlayerRows(ctx, src, rcs, logger)
		if err != nil {
			return err
		}
		n = len(rows)
		err = export.WriteFile(path, format, export.Players, rows)
		if err != nil {
			return WrapExitError(ExitCommandError, "write export", err)
		}
	}

	ns := rcs[0].Namespace()
	if len(rcs) > 1 {
		all, err := roundContext(cfg, label, ds)
		if err != nil {
			return err
		}
		ns = all.Namespace()
	}
	result := ExportResult{
		Namespace: ns,
		Dataset:   string(ds),
		Rounds:    roundNames(rcs),
		Path:      path,
		Format:    string(format),
		Rows:      n,
	}
	f := newFormatter(opts.RootOptions, cmd)
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "%s: wrote %d rows to %s\n", result.Namespace, result.Rows, result.Path)
	if len(rcs) > 1 {
		fmt.Fprintf(f.Writer, "  rounds: %d\n", len(rcs))
	}
	return nil
}
