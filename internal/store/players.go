package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/roundfetch/internal/flatten"
)

// UpsertPlayerRows writes rows in one transaction.
// Uses ON CONFLICT(fixture_id, player_id) DO UPDATE so a reload replaces the
// previous values for the same player in the same fixture.
//
// Returns the number of rows written.
func (s *Store) UpsertPlayerRows(ctx context.Context, rows []flatten.PlayerRow, loadedAt time.Time) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert player rows: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fixture_player_stats
		(fixture_id, player_id, season, round_text, team_id, team_name, player_name, position,
		 minutes, rating, shots_total, shots_on, goals, assists, conceded, saves,
		 yellow, red, penalties_won, penalties_scored, penalties_missed, raw_json, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fixture_id, player_id) DO UPDATE SET
			season = excluded.season,
			round_text = excluded.round_text,
			team_id = excluded.team_id,
			team_name = excluded.team_name,
			player_name = excluded.player_name,
			position = excluded.position,
			minutes = excluded.minutes,
			rating = excluded.rating,
			shots_total = excluded.shots_total,
			shots_on = excluded.shots_on,
			goals = excluded.goals,
			assists = excluded.assists,
			conceded = excluded.conceded,
			saves = excluded.saves,
			yellow = excluded.yellow,
			red = excluded.red,
			penalties_won = excluded.penalties_won,
			penalties_scored = excluded.penalties_scored,
			penalties_missed = excluded.penalties_missed,
			raw_json = excluded.raw_json,
			loaded_at = excluded.loaded_at
	`)
	if err != nil {
		return 0, fmt.Errorf("upsert player rows: prepare: %w", err)
	}
	defer stmt.Close()

	stamp := loadedAt.UTC().Format(time.RFC3339)
	for _, r := range rows {
		raw := r.RawJSON
		if raw == "" {
			raw = "{}"
		}
		_, err := stmt.ExecContext(ctx,
			r.FixtureID, r.PlayerID, r.Season, r.Round,
			r.TeamID, r.TeamName, r.PlayerName, r.Position,
			r.Minutes, r.Rating, r.ShotsTotal, r.ShotsOn,
			r.Goals, r.Assists, r.Conceded, r.Saves,
			r.Yellow, r.Red, r.PenaltiesWon, r.PenaltiesScored, r.PenaltiesMissed,
			raw, stamp,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert player row (fixture=%d, player=%d): %w", r.FixtureID, r.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert player rows: commit: %w", err)
	}
	return len(rows), nil
}
