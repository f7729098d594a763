package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abathur-swarm/swarmcore/internal/clock"
	"github.com/abathur-swarm/swarmcore/internal/config"
	"github.com/abathur-swarm/swarmcore/internal/graph"
	"github.com/abathur-swarm/swarmcore/internal/lockfile"
	"github.com/abathur-swarm/swarmcore/internal/logging"
	"github.com/abathur-swarm/swarmcore/internal/metrics"
	"github.com/abathur-swarm/swarmcore/internal/priority"
	"github.com/abathur-swarm/swarmcore/internal/queue"
	"github.com/abathur-swarm/swarmcore/internal/storage/sqlite"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app bundles the wiring every subcommand needs: a Store, a Resolver, a
// Calculator, and the Queue facade over them (spec.md §4's five-component
// design, assembled once per process invocation).
type app struct {
	cfg   config.Config
	log   logging.Logger
	m     *metrics.Registry
	store *sqlite.Store
	res   *graph.Resolver
	calc  *priority.Calculator
	queue *queue.Queue
}

// newApp loads config (flags override env/file/defaults), opens the
// database, and wires the component graph. Callers must call close() when
// done.
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if dbFlag, _ := cmd.Flags().GetString("db"); dbFlag != "" {
		cfg.DatabasePath = dbFlag
	}

	var log logging.Logger
	if cfg.LogPath != "" {
		log, _ = logging.NewFile(cfg.LogPath, parseLevel(cfg.LogLevel), cfg.LogJSON, 0, 0, 0, false)
	} else {
		log = logging.New(os.Stderr, parseLevel(cfg.LogLevel), cfg.LogJSON)
	}

	m := metrics.New()
	c := clock.Real{}

	store, err := sqlite.New(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("swarmd: open store: %w", err)
	}
	store.WithClock(c)

	res := graph.New(store, cfg.CacheTTL, c, log, m)
	calc := priority.New(res, c, m)
	q := queue.New(store, res, calc, c, log, m)

	return &app{cfg: cfg, log: log, m: m, store: store, res: res, calc: calc, queue: q}, nil
}

func (a *app) close() error {
	return a.store.Close()
}

// acquireLock takes the single-orchestrator-per-database guard described in
// spec.md's concurrency model. Only `swarm start` takes it; the task and mem
// subcommands, including a mem prune that deletes, run without it.
func acquireLock(dbPath string) (*lockfile.Lock, error) {
	lock, err := lockfile.Acquire(dbPath)
	if err != nil {
		return nil, fmt.Errorf("swarmd: %w", err)
	}
	return lock, nil
}
