//go:build unix

package manifest

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exitedPID starts and waits for a short-lived child, returning a pid that
// no longer belongs to a running process.
func exitedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func writeHolder(t *testing.T, dir string, h Holder) {
	t.Helper()
	lockDir := filepath.Join(dir, lockName)
	require.NoError(t, os.MkdirAll(lockDir, 0o755))
	data, err := json.Marshal(h)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(lockDir, holderName), data, 0o644))
}

func TestRunLock_TakesOverLockOfExitedProcess(t *testing.T) {
	dir := t.TempDir()
	self := currentHolder()
	require.NotEmpty(t, self.Host)
	dead := exitedPID(t)
	writeHolder(t, dir, Holder{PID: dead, Host: self.Host, StartedAt: time.Now().Add(-time.Hour)})

	lock, err := AcquireLock(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })

	held, known := lock.holder()
	require.True(t, known)
	assert.Equal(t, os.Getpid(), held.PID)
}

func TestRunLock_LiveHolderKeepsLock(t *testing.T) {
	dir := t.TempDir()
	self := currentHolder()
	// The parent of the test binary is alive for the whole test.
	writeHolder(t, dir, Holder{PID: os.Getppid(), Host: self.Host, StartedAt: time.Now()})

	_, err := AcquireLock(dir)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, os.Getppid(), locked.Holder.PID)
}

func TestRunLock_OtherHostKeepsLock(t *testing.T) {
	dir := t.TempDir()
	dead := exitedPID(t)
	writeHolder(t, dir, Holder{PID: dead, Host: "some-other-host", StartedAt: time.Now()})

	_, err := AcquireLock(dir)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "some-other-host", locked.Holder.Host)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(exitedPID(t)))
}
