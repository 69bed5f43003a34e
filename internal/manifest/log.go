package manifest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Mirror receives a full copy of the log. blob.Store satisfies it.
type Mirror interface {
	Put(ctx context.Context, key string, data []byte) error
}

// FileLog is a manifest stored as a local JSON-lines file. The local file is
// authoritative; a mirror, when configured, is a best-effort copy.
//
// Thread-safety: appends are serialized by an internal mutex. Separate
// processes appending to the same file are not supported.
type FileLog struct {
	path string

	mu      sync.Mutex
	records []Record
	skipped int
	loaded  bool
}

// Open creates a FileLog for path. Nothing is read until Load.
func Open(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the log file path.
func (l *FileLog) Path() string {
	return l.path
}

// Load reads the whole log and returns the folded state. A missing file is an
// empty log. Malformed lines are counted (see Skipped) and otherwise ignored.
func (l *FileLog) Load() (map[int64]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.records, l.skipped, l.loaded = nil, 0, true
		return map[int64]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", l.path, err)
	}
	defer f.Close()

	records, skipped, err := readRecords(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", l.path, err)
	}
	l.records, l.skipped, l.loaded = records, skipped, true
	return Fold(records), nil
}

// readRecords scans JSON lines, skipping anything that does not parse.
func readRecords(r io.Reader) ([]Record, int, error) {
	var records []Record
	skipped := 0

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			rec, perr := ParseLine(trimmed)
			if perr != nil {
				skipped++
			} else {
				records = append(records, rec)
			}
		}
		if errors.Is(err, io.EOF) {
			return records, skipped, nil
		}
		if err != nil {
			return nil, 0, err
		}
	}
}

// Skipped returns the number of malformed lines seen by the last Load.
func (l *FileLog) Skipped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped
}

// Records returns a copy of every valid record in append order.
func (l *FileLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Append writes one record and fsyncs before returning.
//
// If the file does not end in a newline (a previous writer crashed mid-line)
// a newline is written first so the torn line stays isolated and is skipped
// by the next Load.
func (l *FileLog) Append(rec Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("append manifest record: %w", err)
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest %s: %w", l.path, err)
	}

	torn, err := endsMidLine(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("inspect manifest %s: %w", l.path, err)
	}
	if torn {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write manifest %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync manifest %s: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest %s: %w", l.path, err)
	}

	rec.UpdatedAt = rec.UpdatedAt.UTC().Truncate(time.Second)
	l.records = append(l.records, rec)
	return nil
}

func endsMidLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// MirrorTo uploads the current file contents under key. The error is
// returned to the caller, which logs it; the local log is unaffected.
func (l *FileLog) MirrorTo(ctx context.Context, m Mirror, key string) error {
	if m == nil {
		return nil
	}
	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("read manifest for mirror: %w", err)
	}
	if err := m.Put(ctx, key, data); err != nil {
		return fmt.Errorf("mirror manifest to %s: %w", key, err)
	}
	return nil
}
