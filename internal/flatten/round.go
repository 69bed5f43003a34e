package flatten

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/roach88/roundfetch/internal/blob"
	"github.com/roach88/roundfetch/internal/runctx"
)

// Round reads every persisted players payload of rc from src and flattens
// them in fixture-id order. Objects whose names are not players_<id>.json
// are ignored; unreadable or corrupt payloads are logged and skipped.
func Round(ctx context.Context, src blob.Store, rc runctx.RunContext, logger *slog.Logger) ([]PlayerRow, error) {
	return readRound(ctx, src, rc.WithDataset(runctx.DatasetPlayers), logger, Players)
}

// RoundEvents is Round for events payloads (events_<id>.json).
func RoundEvents(ctx context.Context, src blob.Store, rc runctx.RunContext, logger *slog.Logger) ([]EventRow, error) {
	return readRound(ctx, src, rc.WithDataset(runctx.DatasetEvents), logger, Events)
}

func readRound[T any](
	ctx context.Context,
	src blob.Store,
	rc runctx.RunContext,
	logger *slog.Logger,
	decode func(fixtureID int64, rc Context, data []byte) ([]T, error),
) ([]T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := src.List(ctx, rc.PayloadPrefix()+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s payloads of %s: %w", rc.Dataset, rc.Namespace(), err)
	}

	type item struct {
		id  int64
		key string
	}
	var items []item
	for _, key := range keys {
		id, ok := rc.ParsePayloadName(path.Base(key))
		if !ok {
			continue
		}
		items = append(items, item{id: id, key: key})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	rows := []T{}
	ctxRow := Context{Season: rc.Season, Round: rc.Round}
	for _, it := range items {
		data, err := src.Get(ctx, it.key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("skipping unreadable payload", "key", it.key, "error", err)
			continue
		}
		fixtureRows, err := decode(it.id, ctxRow, data)
		if err != nil {
			logger.Warn("skipping corrupt payload", "key", it.key, "error", err)
			continue
		}
		rows = append(rows, fixtureRows...)
	}

	logger.Debug("flattened round", "namespace", rc.Namespace(), "dataset", rc.Dataset, "payloads", len(items), "rows", len(rows))
	return rows, nil
}
