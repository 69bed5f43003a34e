package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/config"
	"github.com/roach88/roundfetch/internal/flatten"
	"github.com/roach88/roundfetch/internal/pgsink"
	"github.com/roach88/roundfetch/internal/runctx"
	"github.com/roach88/roundfetch/internal/store"
)

// Sink names.
const (
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Round     roundFlags
	Sink      string
	FromS3    bool
	ChunkSize int
}

// LoadResult reports one load.
type LoadResult struct {
	Namespace string `json:"namespace"`
	Dataset   string `json:"dataset"`
	Sink      string `json:"sink"`
	Rows      int    `json:"rows"`
	Written   int    `json:"written"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Flatten stored payloads of one or more rounds into a database",
		Long: `Read every stored payload of the selected rounds, flatten it and upsert the
rows into SQLite (SQLITE_PATH) or Postgres (DATABASE_URL). Players rows are
keyed by (fixture, player), events rows by (fixture, position in the
fixture's event list). Loading the same round twice updates rows in place.

"current" and "all" are resolved through the football API.

Examples:
  roundfetch load --round "Regular Season - 1"
  roundfetch load --round all --dataset events
  roundfetch load --sink postgres --from-s3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), opts, cmd)
		},
	}

	opts.Round.register(cmd, `round name, "current" or "all" (default ROUND)`)
	cmd.Flags().StringVar(&opts.Sink, "sink", SinkSQLite, "row sink (sqlite|postgres)")
	cmd.Flags().BoolVar(&opts.FromS3, "from-s3", false, "read payloads from S3_BUCKET instead of the data directory")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", pgsink.DefaultChunkSize, "rows per Postgres transaction")

	return cmd
}

func runLoad(ctx context.Context, opts *LoadOptions, cmd *cobra.Command) error {
	ds, err := opts.Round.dataset()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.RootOptions, opts.Round)
	if err != nil {
		return err
	}

	sink := strings.ToLower(strings.TrimSpace(opts.Sink))
	switch sink {
	case SinkSQLite:
		err = cfg.RequireSQLite()
	case SinkPostgres:
		err = cfg.RequireDatabase()
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown sink %q (expected sqlite or postgres)", opts.Sink))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "--sink "+sink, err)
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

	rs, err := openRowSink(ctx, opts, cfg, sink, logger)
	if err != nil {
		return err
	}
	defer rs.close()

	results := make([]LoadResult, 0, len(rcs))
	for _, rc := range rcs {
		result, err := loadRound(ctx, rs, src, rc, logger)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.Format == "json" {
		return f.Success(results)
	}
	for _, r := range results {
		fmt.Fprintf(f.Writer, "%s (%s): loaded %d rows into %s\n", r.Namespace, r.Dataset, r.Written, r.Sink)
	}
	return nil
}

// rowSink is an open SQLite or Postgres destination.
type rowSink struct {
	name    string
	players func(context.Context, []flatten.PlayerRow) (int, error)
	events  func(context.Context, []flatten.EventRow) (int, error)
	close   func()
}

func openRowSink(ctx context.Context, opts *LoadOptions, cfg config.Config, sink string, logger *slog.Logger) (*rowSink, error) {
	switch sink {
	case SinkPostgres:
		pool, err := pgsink.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "connect postgres", err)
		}
		pg := pgsink.New(pool, opts.ChunkSize, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, WrapExitError(ExitCommandError, "prepare postgres schema", err)
		}
		return &rowSink{name: sink, players: pg.Upsert, events: pg.UpsertEvents, close: pool.Close}, nil

	default:
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open sqlite", err)
		}
		rs := &rowSink{name: sink}
		rs.players = func(ctx context.Context, rows []flatten.PlayerRow) (int, error) {
			return st.UpsertPlayerRows(ctx, rows, time.Now().UTC())
		}
		rs.events = func(ctx context.Context, rows []flatten.EventRow) (int, error) {
			return st.UpsertEventRows(ctx, rows, time.Now().UTC())
		}
		rs.close = func() {
			if err := st.Close(); err != nil {
				logger.Warn("close sqlite", "error", err)
			}
		}
		return rs, nil
	}
}

// loadRound upserts the rows of one round into rs.
func loadRound(ctx context.Context, rs *rowSink, src blob.Store, rc runctx.RunContext, logger *slog.Logger) (LoadResult, error) {
	result := LoadResult{Namespace: rc.Namespace(), Dataset: string(rc.Dataset), Sink: rs.name}
	rcs := []runctx.RunContext{rc}

	var err error
	if rc.Dataset == runctx.DatasetEvents {
		var rows []flatten.EventRow
		if rows, err = readEventRows(ctx, src, rcs, logger); err != nil {
			return result, err
		}
		result.Rows = len(rows)
		result.Written, err = rs.events(ctx, rows)
	} else {
		var rows []flatten.PlayerRow
		if rows, err = readPlayerRows(ctx, src, rcs, logger); err != nil {
			return result, err
		}
		result.Rows = len(rows)
		result.Written, err = rs.players(ctx, rows)
	}
	if err != nil {
		return result, WrapExitError(ExitCommandError, "load "+rs.name, err)
	}
	logger.Info("load finished", "namespace", result.Namespace, "dataset", result.Dataset, "sink", rs.name, "rows", result.Rows, "written", result.Written)
	return result, nil
}
