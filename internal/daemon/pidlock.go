package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// acquirePIDLock claims path for this process. A file left by a process
// that no longer exists is replaced.
func acquirePIDLock(path string) error {
	if owner, ok := lockOwner(path); ok {
		if processAlive(owner) {
			return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, owner)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale PID file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w (PID file %s appeared concurrently)", ErrAlreadyRunning, path)
		}
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// lockOwner reads the PID recorded in path. Unreadable or garbled files
// report ok=true with pid 0 so they are treated as stale.
func lockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	return pid, true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
