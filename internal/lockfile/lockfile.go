// Package lockfile guards "one SwarmOrchestrator process per database file"
// with an exclusive OS file lock, adapted from the teacher's daemon lock
// (internal/lockfile/lock.go) but held for the orchestrator's lifetime
// rather than probed-then-released.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrAlreadyLocked is returned by Acquire when another process already
// holds the lock on this database.
var ErrAlreadyLocked = errors.New("lockfile: another orchestrator instance is running against this database")

// Info is the metadata written into the lock file, readable by `swarmd`
// doctor-style commands without needing to take the lock themselves.
type Info struct {
	PID       int       `json:"pid"`
	Database  string    `json:"database"`
	StartedAt time.Time `json:"started_at"`
}

// Lock holds an acquired, exclusive process lock. Call Release when the
// orchestrator shuts down.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock for dbPath (derived path: dbPath + ".lock").
// Returns ErrAlreadyLocked if another live process already holds it.
func Acquire(dbPath string) (*Lock, error) {
	lockPath := dbPath + ".lock"
	if dir := filepath.Dir(lockPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("lockfile: create directory: %w", err)
		}
	}

	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", lockPath, err)
	}

	if err := tryLockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errLockHeld) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("lockfile: acquire %s: %w", lockPath, err)
	}

	info := Info{PID: os.Getpid(), Database: dbPath, StartedAt: time.Now().UTC()}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: truncate %s: %w", lockPath, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: seek %s: %w", lockPath, err)
	}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: write %s: %w", lockPath, err)
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release unlocks and closes the lock file. The file itself is left on
// disk; its presence is harmless once unlocked, and removing it would race
// a concurrent Acquire attempting to open it.
func (l *Lock) Release() error {
	return l.file.Close()
}

// ReadInfo reads the lock metadata for dbPath without taking the lock,
// for diagnostics (e.g. "swarmd doctor").
func ReadInfo(dbPath string) (*Info, error) {
	data, err := os.ReadFile(dbPath + ".lock")
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("lockfile: parse: %w", err)
	}
	return &info, nil
}
