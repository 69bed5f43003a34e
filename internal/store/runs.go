package store

import (
	"context"
	"fmt"
	"time"
)

// Run is one pipeline run as recorded in the runs table.
type Run struct {
	ID         string    `json:"id"`
	Namespace  string    `json:"namespace"`
	Dataset    string    `json:"dataset"`
	LeagueID   int       `json:"league_id"`
	Season     int       `json:"season"`
	Round      string    `json:"round"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	GaveUp     int       `json:"gave_up"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// WriteRun inserts a run row. An empty Dataset is stored as "players".
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteRun(ctx context.Context, r Run) error {
	dataset := r.Dataset
	if dataset == "" {
		dataset = "players"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, namespace, dataset, league_id, season, round_text, succeeded, skipped, gave_up, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.Namespace,
		dataset,
		r.LeagueID,
		r.Season,
		r.Round,
		r.Succeeded,
		r.Skipped,
		r.GaveUp,
		r.StartedAt.UTC().Format(time.RFC3339),
		r.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// ListRuns returns the runs of a namespace, oldest first.
func (s *Store) ListRuns(ctx context.Context, namespace string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, dataset, league_id, season, round_text, succeeded, skipped, gave_up, started_at, finished_at
		FROM runs
		WHERE namespace = ?
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Dataset, &r.LeagueID, &r.Season, &r.Round,
			&r.Succeeded, &r.Skipped, &r.GaveUp, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("parse started_at of run %s: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
