package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// A namespace lock is a directory created with a single os.Mkdir, holding a
// file that names the process owning it.
const (
	lockName   = ".run.lock"
	holderName = "holder.json"
)

// Holder identifies the process owning a namespace lock.
type Holder struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func currentHolder() Holder {
	host, _ := os.Hostname()
	return Holder{PID: os.Getpid(), Host: strings.TrimSpace(host), StartedAt: time.Now().UTC()}
}

// abandoned reports whether h was left behind by a process on self's host
// that no longer exists. A holder from another host can't be checked and is
// never abandoned.
func (h Holder) abandoned(self Holder) bool {
	if h.PID <= 0 || h.PID == self.PID {
		return false
	}
	if h.Host == "" || h.Host != self.Host {
		return false
	}
	return !processAlive(h.PID)
}

// RunLock is the held lock of one namespace directory. Two runs appending to
// the same manifest would interleave their records, so only one may hold it.
type RunLock struct {
	path string
}

// LockedError is returned by AcquireLock while a live (or unverifiable)
// holder owns the namespace. Holder is zero when its file could not be read.
type LockedError struct {
	Dir    string
	Holder Holder
}

func (e *LockedError) Error() string {
	if e.Holder.PID == 0 {
		return fmt.Sprintf("namespace is locked: %s", e.Dir)
	}
	return fmt.Sprintf("namespace is locked: %s (pid=%d host=%s since=%s)",
		e.Dir, e.Holder.PID, e.Holder.Host, e.Holder.StartedAt.Format(time.RFC3339))
}

// AcquireLock takes the lock of the namespace directory dir, creating dir if
// needed.
//
// A lock left by a process that died on this host is taken over. Any other
// existing lock yields a *LockedError.
func AcquireLock(dir string) (RunLock, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return RunLock{}, errors.New("lock directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return RunLock{}, fmt.Errorf("create %s: %w", dir, err)
	}

	l := RunLock{path: filepath.Join(dir, lockName)}
	self := currentHolder()

	err := l.create(self)
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return l.orZero(err)
	}

	held, known := l.holder()
	if known && held.abandoned(self) {
		if err := os.RemoveAll(l.path); err != nil {
			return RunLock{}, fmt.Errorf("remove abandoned lock %s: %w", l.path, err)
		}
		// Another process may have won the takeover; it then holds the lock.
		err = l.create(self)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			return l.orZero(err)
		}
		held, known = l.holder()
	}

	locked := &LockedError{Dir: dir}
	if known {
		locked.Holder = held
	}
	return RunLock{}, locked
}

func (l RunLock) orZero(err error) (RunLock, error) {
	if err != nil {
		return RunLock{}, err
	}
	return l, nil
}

func (l RunLock) create(h Holder) error {
	if err := os.Mkdir(l.path, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	data, err := json.Marshal(h)
	if err == nil {
		err = os.WriteFile(filepath.Join(l.path, holderName), append(data, '\n'), 0o644)
	}
	if err != nil {
		_ = os.RemoveAll(l.path)
		return fmt.Errorf("write lock holder %s: %w", l.path, err)
	}
	return nil
}

// holder reads the current holder. known is false while the file is missing
// or half written, e.g. between another process's Mkdir and WriteFile.
func (l RunLock) holder() (h Holder, known bool) {
	data, err := os.ReadFile(filepath.Join(l.path, holderName))
	if err != nil {
		return Holder{}, false
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return Holder{}, false
	}
	return h, true
}

// Release removes the lock. Releasing a zero RunLock is a no-op.
func (l RunLock) Release() error {
	if l.path == "" {
		return nil
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
