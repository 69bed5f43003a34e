// Package pgsink upserts flattened player and event rows into Postgres.
package pgsink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/roundfetch/internal/flatten"
)

// DefaultChunkSize is the number of rows sent per batch.
const DefaultChunkSize = 500

// DB is the subset of *pgxpool.Pool the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS fixture_player_stats (
    fixture_id       BIGINT           NOT NULL,
    player_id        BIGINT           NOT NULL,
    season           INTEGER          NOT NULL,
    round_text       TEXT             NOT NULL,
    team_id          BIGINT,
    team_name        TEXT             NOT NULL DEFAULT '',
    player_name      TEXT             NOT NULL DEFAULT '',
    position         TEXT             NOT NULL DEFAULT '',
    minutes          INTEGER,
    rating           DOUBLE PRECISION,
    shots_total      INTEGER,
    shots_on         INTEGER,
    goals            INTEGER,
    assists          INTEGER,
    conceded         INTEGER,
    saves            INTEGER,
    yellow           INTEGER,
    red              INTEGER,
    penalties_won    INTEGER,
    penalties_scored INTEGER,
    penalties_missed INTEGER,
    raw_json         JSONB            NOT NULL DEFAULT '{}'::jsonb,
    fetched_at       TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (fixture_id, player_id)
)`

const upsertSQL = `
INSERT INTO fixture_player_stats
    (fixture_id, player_id, season, round_text, team_id, team_name, player_name, position,
     minutes, rating, shots_total, shots_on, goals, assists, conceded, saves,
     yellow, red, penalties_won, penalties_scored, penalties_missed, raw_json, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
        $17, $18, $19, $20, $21, $22::jsonb, now())
ON CONFLICT (fixture_id, player_id) DO UPDATE SET
    season = EXCLUDED.season,
    round_text = EXCLUDED.round_text,
    team_id = EXCLUDED.team_id,
    team_name = EXCLUDED.team_name,
    player_name = EXCLUDED.player_name,
    position = EXCLUDED.position,
    minutes = EXCLUDED.minutes,
    rating = EXCLUDED.rating,
    shots_total = EXCLUDED.shots_total,
    shots_on = EXCLUDED.shots_on,
    goals = EXCLUDED.goals,
    assists = EXCLUDED.assists,
    conceded = EXCLUDED.conceded,
    saves = EXCLUDED.saves,
    yellow = EXCLUDED.yellow,
    red = EXCLUDED.red,
    penalties_won = EXCLUDED.penalties_won,
    penalties_scored = EXCLUDED.penalties_scored,
    penalties_missed = EXCLUDED.penalties_missed,
    raw_json = EXCLUDED.raw_json,
    fetched_at = EXCLUDED.fetched_at`

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS fixture_events (
    fixture_id  BIGINT      NOT NULL,
    seq         INTEGER     NOT NULL,
    season      INTEGER     NOT NULL,
    round_text  TEXT        NOT NULL,
    minute      INTEGER     NOT NULL DEFAULT 0,
    extra       INTEGER,
    team_id     BIGINT,
    team_name   TEXT        NOT NULL DEFAULT '',
    player_id   BIGINT,
    player_name TEXT        NOT NULL DEFAULT '',
    assist_id   BIGINT,
    assist_name TEXT        NOT NULL DEFAULT '',
    type        TEXT        NOT NULL DEFAULT '',
    detail      TEXT        NOT NULL DEFAULT '',
    comments    TEXT        NOT NULL DEFAULT '',
    raw_json    JSONB       NOT NULL DEFAULT '{}'::jsonb,
    fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (fixture_id, seq)
)`

const upsertEventSQL = `
INSERT INTO fixture_events
    (fixture_id, seq, season, round_text, minute, extra, team_id, team_name,
     player_id, player_name, assist_id, assist_name, type, detail, comments, raw_json, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb, now())
ON CONFLICT (fixture_id, seq) DO UPDATE SET
    season = EXCLUDED.season,
    round_text = EXCLUDED.round_text,
    minute = EXCLUDED.minute,
    extra = EXCLUDED.extra,
    team_id = EXCLUDED.team_id,
    team_name = EXCLUDED.team_name,
    player_id = EXCLUDED.player_id,
    player_name = EXCLUDED.player_name,
    assist_id = EXCLUDED.assist_id,
    assist_name = EXCLUDED.assist_name,
    type = EXCLUDED.type,
    detail = EXCLUDED.detail,
    comments = EXCLUDED.comments,
    raw_json = EXCLUDED.raw_json,
    fetched_at = EXCLUDED.fetched_at`

// Sink writes rows to Postgres.
type Sink struct {
	db        DB
	chunkSize int
	logger    *slog.Logger
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// New creates a sink. chunkSize <= 0 selects DefaultChunkSize.
func New(db DB, chunkSize int, logger *slog.Logger) *Sink {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{db: db, chunkSize: chunkSize, logger: logger}
}

// EnsureSchema creates the target tables if they do not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{createTableSQL, createEventsTableSQL} {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
	}
	return nil
}

// Upsert writes player rows chunk by chunk. Each chunk is one transaction
// sent as a single batch; a failed chunk rolls back alone and stops the load.
// Returns the number of rows committed.
func (s *Sink) Upsert(ctx context.Context, rows []flatten.PlayerRow) (int, error) {
	return upsertChunks(ctx, s, rows, queuePlayer, func(r flatten.PlayerRow) string {
		return fmt.Sprintf("fixture=%d player=%d", r.FixtureID, r.PlayerID)
	})
}

// UpsertEvents is Upsert for event rows, keyed by (fixture_id, seq).
func (s *Sink) UpsertEvents(ctx context.Context, rows []flatten.EventRow) (int, error) {
	return upsertChunks(ctx, s, rows, queueEvent, func(r flatten.EventRow) string {
		return fmt.Sprintf("fixture=%d seq=%d", r.FixtureID, r.Seq)
	})
}

func queuePlayer(b *pgx.Batch, r flatten.PlayerRow) {
	b.Queue(upsertSQL,
		r.FixtureID, r.PlayerID, r.Season, r.Round,
		r.TeamID, r.TeamName, r.PlayerName, r.Position,
		r.Minutes, r.Rating, r.ShotsTotal, r.ShotsOn,
		r.Goals, r.Assists, r.Conceded, r.Saves,
		r.Yellow, r.Red, r.PenaltiesWon, r.PenaltiesScored, r.PenaltiesMissed,
		rawOrEmpty(r.RawJSON),
	)
}

func queueEvent(b *pgx.Batch, r flatten.EventRow) {
	b.Queue(upsertEventSQL,
		r.FixtureID, r.Seq, r.Season, r.Round, r.Minute, r.Extra,
		r.TeamID, r.TeamName, r.PlayerID, r.PlayerName, r.AssistID, r.AssistName,
		r.Type, r.Detail, r.Comments, rawOrEmpty(r.RawJSON),
	)
}

func rawOrEmpty(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}

func upsertChunks[T any](ctx context.Context, s *Sink, rows []T, queue func(*pgx.Batch, T), key func(T) string) (int, error) {
	written := 0
	for i, chunk := range Chunks(rows, s.chunkSize) {
		if err := upsertChunk(ctx, s.db, chunk, queue, key); err != nil {
			return written, fmt.Errorf("upsert chunk %d: %w", i+1, err)
		}
		written += len(chunk)
		s.logger.Debug("upserted chunk", "chunk", i+1, "rows", len(chunk), "total", written)
	}
	return written, nil
}

func upsertChunk[T any](ctx context.Context, db DB, rows []T, queue func(*pgx.Batch, T), key func(T) string) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		queue(batch, r)
	}

	results := tx.SendBatch(ctx, batch)
	for _, r := range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%s: %w", key(r), err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Chunks splits rows into consecutive slices of at most size rows.
func Chunks[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]T
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}
