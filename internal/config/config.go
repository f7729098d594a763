// Package config loads the recognized options from spec.md §6: a map of
// database path, concurrency and polling tunables, plus the ambient knobs
// (logging, metrics) SPEC_FULL.md adds. Backed by viper so the same config
// can come from built-in defaults, a file, or environment variables, and can
// be hot-reloaded via fsnotify while a daemon-style swarm run is in flight.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the recognized options (spec.md §6).
type Config struct {
	DatabasePath        string        `mapstructure:"database_path"`
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	PollInterval        time.Duration `mapstructure:"-"`
	PollIntervalSeconds float64       `mapstructure:"poll_interval_seconds"`
	CacheTTL            time.Duration `mapstructure:"-"`
	CacheTTLSeconds     float64       `mapstructure:"cache_ttl_seconds"`

	LogPath  string `mapstructure:"log_path"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	// AgentExecutorCommand is the external program swarmd shells out to for
	// each dispatched task (spec.md §1's "external LLM service" collaborator).
	// The task prompt is piped to its stdin; its stdout becomes the task's
	// result data. Empty disables real dispatch (tests supply their own
	// AgentExecutor instead).
	AgentExecutorCommand string `mapstructure:"agent_executor_command"`
}

// Defaults matches spec.md §6's stated defaults.
func Defaults() Config {
	return Config{
		DatabasePath:        "swarmcore.db",
		MaxConcurrentAgents: 10,
		PollInterval:        100 * time.Millisecond,
		PollIntervalSeconds: 0.1,
		CacheTTL:            60 * time.Second,
		CacheTTLSeconds:     60,
		LogLevel:            "info",
	}
}

// Load reads configuration from (in increasing precedence) defaults, an
// optional config file, and SWARMCORE_-prefixed environment variables.
// path may be empty, in which case only env vars and defaults apply.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Defaults()
	v.SetDefault("database_path", def.DatabasePath)
	v.SetDefault("max_concurrent_agents", def.MaxConcurrentAgents)
	v.SetDefault("poll_interval_seconds", def.PollIntervalSeconds)
	v.SetDefault("cache_ttl_seconds", def.CacheTTLSeconds)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("agent_executor_command", def.AgentExecutorCommand)

	v.SetEnvPrefix("SWARMCORE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.PollInterval = durationFromSeconds(cfg.PollIntervalSeconds)
	cfg.CacheTTL = durationFromSeconds(cfg.CacheTTLSeconds)
	return cfg, nil
}

// Watch reloads the config from its file whenever it changes on disk,
// invoking onChange with the newly parsed Config. It returns immediately;
// watching happens on viper's internal fsnotify-backed goroutine until the
// process exits. Only meaningful when Load was given a non-empty path.
func Watch(path string, onChange func(Config)) error {
	if path == "" {
		return fmt.Errorf("config: cannot watch an empty path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		cfg.PollInterval = durationFromSeconds(cfg.PollIntervalSeconds)
		cfg.CacheTTL = durationFromSeconds(cfg.CacheTTLSeconds)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
