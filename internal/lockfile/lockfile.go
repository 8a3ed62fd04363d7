// Package lockfile provides the engine's single advisory lock: only
// one instance may run against a given project root at a time.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	loopworkerrors "github.com/nadimtuhin/loopwork/internal/errors"
)

// Lock represents the acquired advisory lock at path. Release removes
// the backing file.
type Lock struct {
	path string
}

type lockDoc struct {
	PID int `json:"pid"`
}

// Acquire takes the advisory lock at "<root>/.loopwork/loopwork.lock".
// If an existing lock file names a pid that is still alive, it returns
// ErrLockConflict. If the named pid is dead (a stale lock left by an
// unclean shutdown), the stale lock is reclaimed automatically.
func Acquire(root string) (*Lock, error) {
	dir := filepath.Join(root, ".loopwork")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "loopwork.lock")

	if data, err := os.ReadFile(path); err == nil {
		var doc lockDoc
		if json.Unmarshal(data, &doc) == nil && doc.PID > 0 && isAlive(doc.PID) {
			return nil, fmt.Errorf("%w: held by pid %d", loopworkerrors.ErrLockConflict, doc.PID)
		}
		// Stale: previous holder is gone, safe to reclaim.
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("lockfile: read %s: %w", path, err)
	}

	data, err := json.Marshal(lockDoc{PID: os.Getpid()})
	if err != nil {
		return nil, fmt.Errorf("lockfile: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("lockfile: write %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove %s: %w", l.path, err)
	}
	return nil
}

func isAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
