package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/roundfetch/internal/flatten"
)

// UpsertEventRows writes rows in one transaction, replacing any row with the
// same (fixture_id, seq). Returns the number of rows written.
func (s *Store) UpsertEventRows(ctx context.Context, rows []flatten.EventRow, loadedAt time.Time) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert event rows: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fixture_events
		(fixture_id, seq, season, round_text, minute, extra, team_id, team_name,
		 player_id, player_name, assist_id, assist_name, type, detail, comments, raw_json, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fixture_id, seq) DO UPDATE SET
			season = excluded.season,
			round_text = excluded.round_text,
			minute = excluded.minute,
			extra = excluded.extra,
			team_id = excluded.team_id,
			team_name = excluded.team_name,
			player_id = excluded.player_id,
			player_name = excluded.player_name,
			assist_id = excluded.assist_id,
			assist_name = excluded.assist_name,
			type = excluded.type,
			detail = excluded.detail,
			comments = excluded.comments,
			raw_json = excluded.raw_json,
			loaded_at = excluded.loaded_at
	`)
	if err != nil {
		return 0, fmt.Errorf("upsert event rows: prepare: %w", err)
	}
	defer stmt.Close()

	stamp := loadedAt.UTC().Format(time.RFC3339)
	for _, r := range rows {
		raw := r.RawJSON
		if raw == "" {
			raw = "{}"
		}
		_, err := stmt.ExecContext(ctx,
			r.FixtureID, r.Seq, r.Season, r.Round, r.Minute, r.Extra,
			r.TeamID, r.TeamName, r.PlayerID, r.PlayerName, r.AssistID, r.AssistName,
			r.Type, r.Detail, r.Comments, raw, stamp,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert event row (fixture=%d, seq=%d): %w", r.FixtureID, r.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert event rows: commit: %w", err)
	}
	return len(rows), nil
}
