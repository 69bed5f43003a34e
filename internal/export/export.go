// Package export writes flattened rows as CSV or Parquet files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/roach88/roundfetch/internal/flatten"
	"github.com/roach88/roundfetch/internal/runctx"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unknown export format %q (expected csv or parquet)", s)
}

// DefaultFileName is <dataset>_<league>_<season>_<round slug>.<ext>. round
// may be a selector such as "all" when the file spans several rounds.
func DefaultFileName(dataset runctx.Dataset, leagueID, season int, round string, f Format) string {
	return fmt.Sprintf("%s_%d_%d_%s.%s", dataset, leagueID, season, runctx.Slug(round), f)
}

// Table maps one row type to CSV. raw_json is left out of CSV exports;
// Parquet files carry every field.
type Table[T any] struct {
	Columns []string
	Record  func(T) []string
	Key     func(T) string // identifies a row in error messages
}

// Players is the table of flatten.PlayerRow.
var Players = Table[flatten.PlayerRow]{
	Columns: []string{
		"fixture_id", "season", "round", "team_id", "team_name", "player_id", "player_name",
		"position", "minutes", "rating", "shots_total", "shots_on", "goals", "assists",
		"conceded", "saves", "yellow", "red", "penalties_won", "penalties_scored", "penalties_missed",
	},
	Record: func(r flatten.PlayerRow) []string {
		return []string{
			strconv.FormatInt(r.FixtureID, 10),
			strconv.Itoa(r.Season),
			r.Round,
			intCell(r.TeamID),
			r.TeamName,
			strconv.FormatInt(r.PlayerID, 10),
			r.PlayerName,
			r.Position,
			intCell(r.Minutes),
			floatCell(r.Rating),
			intCell(r.ShotsTotal),
			intCell(r.ShotsOn),
			intCell(r.Goals),
			intCell(r.Assists),
			intCell(r.Conceded),
			intCell(r.Saves),
			intCell(r.Yellow),
			intCell(r.Red),
			intCell(r.PenaltiesWon),
			intCell(r.PenaltiesScored),
			intCell(r.PenaltiesMissed),
		}
	},
	Key: func(r flatten.PlayerRow) string {
		return fmt.Sprintf("fixture=%d, player=%d", r.FixtureID, r.PlayerID)
	},
}

// Events is the table of flatten.EventRow.
var Events = Table[flatten.EventRow]{
	Columns: []string{
		"fixture_id", "seq", "season", "round", "minute", "extra", "team_id", "team_name",
		"player_id", "player_name", "assist_id", "assist_name", "type", "detail", "comments",
	},
	Record: func(r flatten.EventRow) []string {
		return []string{
			strconv.FormatInt(r.FixtureID, 10),
			strconv.Itoa(r.Seq),
			strconv.Itoa(r.Season),
			r.Round,
			strconv.FormatInt(r.Minute, 10),
			intCell(r.Extra),
			intCell(r.TeamID),
			r.TeamName,
			intCell(r.PlayerID),
			r.PlayerName,
			intCell(r.AssistID),
			r.AssistName,
			r.Type,
			r.Detail,
			r.Comments,
		}
	},
	Key: func(r flatten.EventRow) string {
		return fmt.Sprintf("fixture=%d, seq=%d", r.FixtureID, r.Seq)
	},
}

// WriteCSV writes a header and one record per row. Null values are empty
// cells.
func WriteCSV[T any](w io.Writer, t Table[T], rows []T) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(t.Record(r)); err != nil {
			return fmt.Errorf("write csv row (%s): %w", t.Key(r), err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteParquet writes rows with Snappy compression, raw_json included.
func WriteParquet[T any](w io.Writer, rows []T) error {
	pw := parquet.NewGenericWriter[T](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet reads back a file written by WriteParquet.
func ReadParquet[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// WriteFile writes rows to path in the given format, creating parent
// directories.
func WriteFile[T any](path string, f Format, t Table[T], rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	switch f {
	case FormatParquet:
		err = WriteParquet(out, rows)
	default:
		err = WriteCSV(out, t, rows)
	}
	if err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func intCell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
