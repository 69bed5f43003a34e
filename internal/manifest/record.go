// Package manifest is the append-only attempt log that makes a pipeline run
// resumable.
//
// The log is a sequence of JSON lines, one per recorded attempt. It is a log,
// not a table: for any item only the last record appended is authoritative,
// and readers obtain the current state with Fold.
package manifest

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the outcome of an attempt.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusOK || s == StatusError
}

// Record is one line of the manifest.
type Record struct {
	ItemID       int64     `json:"item_id"`
	Status       Status    `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	Message      string    `json:"message"`
	UpdatedAt    time.Time `json:"updated_at"`
	RunID        string    `json:"run_id,omitempty"`
}

// Validate checks the fields every stored record must carry.
func (r Record) Validate() error {
	if r.ItemID <= 0 {
		return fmt.Errorf("item_id must be positive, got %d", r.ItemID)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("item %d: unknown status %q", r.ItemID, r.Status)
	}
	if r.AttemptCount < 1 {
		return fmt.Errorf("item %d: attempt_count must be >= 1, got %d", r.ItemID, r.AttemptCount)
	}
	if r.UpdatedAt.IsZero() {
		return fmt.Errorf("item %d: updated_at is required", r.ItemID)
	}
	return nil
}

// MarshalLine encodes r as a single JSON line with a trailing newline.
// Timestamps are written in UTC with second precision.
func (r Record) MarshalLine() ([]byte, error) {
	r.UpdatedAt = r.UpdatedAt.UTC().Truncate(time.Second)
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode manifest record: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseLine decodes one manifest line. Lines that are not a valid record
// return an error; Load skips them.
func ParseLine(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, fmt.Errorf("decode manifest line: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Fold reduces an ordered sequence of records to the last record per item.
func Fold(records []Record) map[int64]Record {
	state := make(map[int64]Record, len(records))
	for _, r := range records {
		state[r.ItemID] = r
	}
	return state
}

// Totals counts items by their folded status.
type Totals struct {
	Items int `json:"items"`
	OK    int `json:"ok"`
	Error int `json:"error"`
}

// Summarize counts the folded state.
func Summarize(state map[int64]Record) Totals {
	t := Totals{Items: len(state)}
	for _, r := range state {
		switch r.Status {
		case StatusOK:
			t.OK++
		case StatusError:
			t.Error++
		}
	}
	return t
}
