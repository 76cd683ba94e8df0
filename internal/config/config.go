// Package config loads and merges TOML configuration the way the rest of
// this codebase's services expect it: defaults, then one or more files in
// order, then environment overrides — no CLI flag layer since every
// binary in this repo is a long-running daemon, not an ad-hoc tool.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration every cmd/ entrypoint loads.
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig  `toml:"logging"`
	Storage     StorageConfig  `toml:"storage"`
	Queue       QueueConfig    `toml:"queue"`
	Crawler     CrawlerConfig  `toml:"crawler"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Dispatcher  DispatcherConfig `toml:"dispatcher"`
	Parser      ParserConfig   `toml:"parser"`
	Supervisor  SupervisorConfig `toml:"supervisor"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig is the embedded State Store's database location.
type BadgerConfig struct {
	Path           string `toml:"path"`             // database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // delete database on startup, for clean test runs
}

// FilesystemConfig locates the Content Store's root directory.
type FilesystemConfig struct {
	ContentRoot string `toml:"content_root"` // root of the content-addressed crawl-output tree
}

type QueueConfig struct {
	ReserveTimeout    time.Duration `toml:"reserve_timeout"`    // how long Reserve blocks before returning ErrNoJob
	VisibilityTimeout time.Duration `toml:"visibility_timeout"` // default TTR for a freshly reserved job
}

// CrawlerConfig configures the Crawl Engine's fetch behavior.
type CrawlerConfig struct {
	UserAgent          string        `toml:"user_agent"`
	MaxConcurrency     int           `toml:"max_concurrency"`      // max concurrent requests per domain
	RequestDelay       time.Duration `toml:"request_delay"`        // minimum delay between requests to same domain
	RequestTimeout     time.Duration `toml:"request_timeout"`
	MaxBodySize        int           `toml:"max_body_size"`
	FollowRobotsTxt    bool          `toml:"follow_robots_txt"`
	EnableJavaScript   bool          `toml:"enable_javascript"`    // fall back to chromedp when a static fetch yields a near-empty document
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"`
	DefaultMaxPages    int           `toml:"default_max_pages"`
}

// SchedulerConfig drives the Ingestion Scheduler's admission loop.
type SchedulerConfig struct {
	Schedule        string `toml:"schedule"`          // cron expression with a seconds field, or "@every <duration>", e.g. "@every 5m"
	TargetQueueDepth int   `toml:"target_queue_depth"` // not read by any component; see scheduler.Config for how the admission target is computed
	BatchLimit      int    `toml:"batch_limit"`       // hard cap per admission cycle regardless of target depth
}

// DispatcherConfig drives the Crawl Dispatcher's reserve/keep-alive loop.
type DispatcherConfig struct {
	ReserveTimeout time.Duration `toml:"reserve_timeout"`
	TouchInterval  time.Duration `toml:"touch_interval"` // minimum job TTR for which a keep-alive task is started; passed as dispatcher.Config.MinTouchThreshold
}

// ParserConfig lists which task types the Fan-out Dispatcher enqueues for
// every crawled page, and how many Parser Worker Runtime instances to run
// per task type.
type ParserConfig struct {
	TaskTypes        []string `toml:"task_types"`
	WorkersPerTask   int      `toml:"workers_per_task"`
}

// SupervisorConfig drives the in-process fleet: how many of each role to
// run, how often to probe broker/database/system health, and how long to
// wait for a clean shutdown before giving up.
type SupervisorConfig struct {
	HealthInterval      time.Duration `toml:"health_interval"`
	ShutdownTimeout     time.Duration `toml:"shutdown_timeout"`
	DispatcherInstances int           `toml:"dispatcher_instances"`
	SchedulerInstances  int           `toml:"scheduler_instances"`
	RestartCrashed      bool          `toml:"restart_crashed"`
}

// Default returns the baseline configuration every field above falls back
// to before any file or environment override is applied.
func Default() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/quaero.db",
			},
			Filesystem: FilesystemConfig{
				ContentRoot: "./data/content",
			},
		},
		Queue: QueueConfig{
			ReserveTimeout:    5 * time.Second,
			VisibilityTimeout: 5 * time.Minute,
		},
		Crawler: CrawlerConfig{
			UserAgent:          "quaero-crawler/1.0",
			MaxConcurrency:     4,
			RequestDelay:       500 * time.Millisecond,
			RequestTimeout:     30 * time.Second,
			MaxBodySize:        10 << 20,
			FollowRobotsTxt:    true,
			EnableJavaScript:   true,
			JavaScriptWaitTime: 3 * time.Second,
			DefaultMaxPages:    100,
		},
		Scheduler: SchedulerConfig{
			Schedule:         "@every 5m",
			TargetQueueDepth: 50,
			BatchLimit:       20,
		},
		Dispatcher: DispatcherConfig{
			ReserveTimeout: 5 * time.Second,
			TouchInterval:  2 * time.Second,
		},
		Parser: ParserConfig{
			TaskTypes: []string{
				"page_title", "headings", "canonical", "hreflang",
				"structured_data", "links", "images", "meta_description",
				"mobile", "amp", "directives", "pagecontent",
			},
			WorkersPerTask: 2,
		},
		Supervisor: SupervisorConfig{
			HealthInterval:      60 * time.Second,
			ShutdownTimeout:     30 * time.Second,
			DispatcherInstances: 1,
			SchedulerInstances:  1,
			RestartCrashed:      true,
		},
	}
}

// LoadFromFiles loads the default configuration, then merges each TOML
// file in order (later files override earlier ones), then applies
// environment overrides. Matches the layered-override convention the rest
// of this codebase's config loader follows, minus the key/value secret
// replacement pass — this repo has no secrets-bearing config fields.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := Default()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if env := os.Getenv("QUAERO_ENV"); env != "" {
		cfg.Environment = env
	}
	if level := os.Getenv("QUAERO_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("QUAERO_BADGER_PATH"); path != "" {
		cfg.Storage.Badger.Path = path
	}
	if root := os.Getenv("QUAERO_CONTENT_ROOT"); root != "" {
		cfg.Storage.Filesystem.ContentRoot = root
	}
}

// IsProduction reports whether the loaded environment is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
