// Package config loads the engine's process-wide defaults — optimistic
// mode, registry retry policy, log level — from a YAML file via viper, and
// watches it for changes with fsnotify so a running process picks up edits
// without a restart (SPEC_FULL.md §3 "Configuration"). The loading and
// watch pattern follows the teacher's internal/labelmutex.ParseMutexGroups
// (viper.New + SetConfigFile + SetConfigType("yaml")) and cmd/bd's
// watchIssues debounced fsnotify loop (internal/config, cmd/bd/list.go).
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RegistryConfig holds the nested "registry:" block of the YAML file.
type RegistryConfig struct {
	// Retry is the configured registry retry count. This package only loads
	// it; registry.WithTransaction takes its count from TxOptions.Retry.
	Retry int `mapstructure:"retry"`

	// RetryDelay is the configured registry retry delay. This package only
	// loads it; registry.WithTransaction does not read it and backs off with
	// the backoff library's default exponential intervals.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// Config holds the engine defaults a running process reads from YAML.
type Config struct {
	// Optimistic is the default session optimistic flag (spec.md §3
	// "optimistic flag"), applied when a caller does not override it.
	Optimistic bool `mapstructure:"optimistic"`

	// IgnoreNone is the default session ignore_none flag.
	IgnoreNone bool `mapstructure:"ignore_none"`

	// Registry holds the registry.* retry settings.
	Registry RegistryConfig `mapstructure:"registry"`

	// LogLevel is the slog level name ("debug", "info", "warn", "error")
	// used to build the Logger passed to session.WithLogger.
	LogLevel string `mapstructure:"log_level"`

	// MaxFetchCount bounds a single query result set before
	// ErrTooManyObjectsFound is raised (spec.md §7).
	MaxFetchCount int `mapstructure:"max_fetch_count"`
}

// RegistryRetry is a convenience accessor mirroring the flattened name used
// before this package grew a nested RegistryConfig.
func (c Config) RegistryRetry() int { return c.Registry.Retry }

// RegistryRetryDelay is a convenience accessor for Registry.RetryDelay.
func (c Config) RegistryRetryDelay() time.Duration { return c.Registry.RetryDelay }

func defaults() Config {
	return Config{
		Optimistic:    false,
		IgnoreNone:    false,
		Registry:      RegistryConfig{Retry: 3, RetryDelay: 250 * time.Millisecond},
		LogLevel:      "info",
		MaxFetchCount: 10000,
	}
}

// Loader owns a viper instance bound to one YAML file and the current
// decoded Config, refreshed either by explicit Reload or by Watch's
// fsnotify loop.
type Loader struct {
	mu     sync.RWMutex
	v      *viper.Viper
	path   string
	cur    Config
	onLoad func(Config)
}

// Load reads path once into a fresh Loader. A missing file is not an
// error: the Loader falls back to defaults(), matching the teacher's
// convention of treating absent config as "use built-in defaults" rather
// than failing startup (internal/labelmutex.ParseMutexGroups returns
// nil, nil when the file is absent).
func Load(path string) (*Loader, error) {
	l := &Loader{v: viper.New(), path: path, cur: defaults()}
	l.v.SetConfigFile(path)
	l.v.SetConfigType("yaml")
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the config file and re-decodes it over the defaults.
func (l *Loader) Reload() error {
	cfg := defaults()
	if err := l.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			l.mu.Lock()
			l.cur = cfg
			l.mu.Unlock()
			return nil
		}
		return fmt.Errorf("config: read %s: %w", l.path, err)
	}
	if err := l.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("config: decode %s: %w", l.path, err)
	}
	l.mu.Lock()
	l.cur = cfg
	l.mu.Unlock()
	if l.onLoad != nil {
		l.onLoad(cfg)
	}
	return nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// OnReload registers a callback invoked after every successful Reload,
// including the one triggered by Watch.
func (l *Loader) OnReload(fn func(Config)) {
	l.onLoad = fn
}

// Watch starts an fsnotify watch on the config file's directory, debouncing
// rapid successive writes the way cmd/bd's watchIssues does, and reloading
// on each settled write. It runs until stop is closed.
func (l *Loader) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch %s: %w", l.path, err)
	}

	dir := dirOf(l.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		const debounce = 200 * time.Millisecond
		var timer *time.Timer
		for {
			select {
			case <-stop:
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) || baseOf(event.Name) != baseOf(l.path) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() { _ = l.Reload() })
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
