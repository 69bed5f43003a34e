package cli

import (
	"context"
	"log/slog"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/flatten"
	"github.com/roach88/roundfetch/internal/runctx"
)

type roundReader[T any] func(ctx context.Context, src blob.Store, rc runctx.RunContext, logger *slog.Logger) ([]T, error)

// readRounds flattens the stored payloads of every round in rcs, in order.
func readRounds[T any](ctx context.Context, src blob.Store, rcs []runctx.RunContext, logger *slog.Logger, read roundReader[T]) ([]T, error) {
	rows := []T{}
	for _, rc := range rcs {
		got, err := read(ctx, src, rc, logger)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "read payloads of "+rc.Namespace(), err)
		}
		rows = append(rows, got...)
	}
	return rows, nil
}

func readPlayerRows(ctx context.Context, src blob.Store, rcs []runctx.RunContext, logger *slog.Logger) ([]flatten.PlayerRow, error) {
	return readRounds(ctx, src, rcs, logger, flatten.Round)
}

func readEventRows(ctx context.Context, src blob.Store, rcs []runctx.RunContext, logger *slog.Logger) ([]flatten.EventRow, error) {
	return readRounds(ctx, src, rcs, logger, flatten.RoundEvents)
}

func roundNames(rcs []runctx.RunContext) []string {
	names := make([]string, len(rcs))
	for i, rc := range rcs {
		names[i] = rc.Round
	}
	return names
}
