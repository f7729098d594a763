// Package sqlite implements storage.Store on top of SQLite, using the
// pure-Go ncruces/go-sqlite3 driver (wazero-compiled, no cgo) the way the
// teacher's internal/storage/sqlite package does.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/logging"
)

func setupWASMCache() {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "swarmcore", "wasm")
	}
	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Store implements storage.Store backed by a single SQLite database file
// (or :memory:) holding tasks, task_dependencies, and checkpoints.
type Store struct {
	db      *sql.DB
	dbPath  string
	connStr string
	closed  atomic.Bool

	clock  clock.Clock
	logger logging.Logger
}

// New opens (creating if absent) the database at path with a 30s busy timeout.
func New(path string, log logging.Logger) (*Store, error) {
	return NewWithTimeout(path, 30*time.Second, log)
}

// NewWithTimeout opens the database at path with a configurable SQLite
// busy_timeout. path may be ":memory:" for an ephemeral, single-connection
// database (used by tests).
func NewWithTimeout(path string, busyTimeout time.Duration, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	timeoutMs := int64(busyTimeout / time.Millisecond)

	var connStr string
	isInMemory := path == ":memory:"
	if isInMemory {
		connStr = fmt.Sprintf("file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", timeoutMs)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
			}
		}
		connStr = fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)&_time_format=sqlite", path, timeoutMs)
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	configurePool(db, isInMemory)

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	if err := RunMigrations(db, log); err != nil {
		return nil, err
	}

	if err := verifySchemaCompatibility(db); err != nil {
		if retryErr := RunMigrations(db, log); retryErr != nil {
			return nil, fmt.Errorf("sqlite: migration retry failed after schema probe failure: %w (original: %v)", retryErr, err)
		}
		if err := verifySchemaCompatibility(db); err != nil {
			return nil, fmt.Errorf("sqlite: schema probe failed after migration retry, database may be from an incompatible version: %w", err)
		}
	}

	absPath := path
	if path != ":memory:" {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: abs path: %w", err)
		}
	}

	return &Store{
		db:      db,
		dbPath:  absPath,
		connStr: connStr,
		clock:   clock.Real{},
		logger:  log.With("component", "storage.sqlite"),
	}, nil
}

// WithClock overrides the store's clock, for deterministic tests of
// timestamp fields (submitted_at, updated_at, etc).
func (s *Store) WithClock(c clock.Clock) *Store {
	s.clock = c
	return s
}

func configurePool(db *sql.DB, isInMemory bool) {
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}
	maxConns := runtime.NumCPU() + 1
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)
}

// Path returns the absolute path to the database file (":memory:" unchanged).
func (s *Store) Path() string { return s.dbPath }

// Close checkpoints the WAL and closes the connection pool.
func (s *Store) Close() error {
	s.closed.Store(true)
	if !strings.Contains(s.connStr, "mode=memory") {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
