// Package config loads reqlog settings from an optional YAML file and
// REQLOG_* environment variables, environment winning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of one reqlog store and its ingest service.
type Config struct {
	// Store
	DBPath         string `yaml:"db_path"`
	CountCacheSize int    `yaml:"count_cache_size"`

	// Ingest queue
	QueueSize     int      `yaml:"queue_size"`
	FlushBatch    int      `yaml:"flush_batch"`
	FlushInterval Duration `yaml:"flush_interval"`

	// Maintenance; empty disables the scheduled backfill.
	BackfillSchedule string `yaml:"backfill_schedule"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DBPath:           "requests.db",
		CountCacheSize:   16,
		QueueSize:        8192,
		FlushBatch:       1024,
		FlushInterval:    Duration(5 * time.Second),
		BackfillSchedule: "*/10 * * * *",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty), then environment overrides, and validates the result.
// Returns an error listing every invalid value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse %s: %w", path, err)
		}
	}

	var errs []string

	// --- Store ---
	cfg.DBPath = strings.TrimSpace(envStr("REQLOG_DB_PATH", cfg.DBPath))
	cfg.CountCacheSize = envInt("REQLOG_COUNT_CACHE_SIZE", cfg.CountCacheSize, &errs)

	// --- Ingest queue ---
	cfg.QueueSize = envInt("REQLOG_QUEUE_SIZE", cfg.QueueSize, &errs)
	cfg.FlushBatch = envInt("REQLOG_FLUSH_BATCH", cfg.FlushBatch, &errs)
	cfg.FlushInterval = Duration(envDuration("REQLOG_FLUSH_INTERVAL", cfg.FlushInterval.Std(), &errs))

	// --- Maintenance ---
	cfg.BackfillSchedule = strings.TrimSpace(envStr("REQLOG_BACKFILL_SCHEDULE", cfg.BackfillSchedule))

	// --- Logging ---
	cfg.LogLevel = strings.ToLower(envStr("REQLOG_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envStr("REQLOG_LOG_FORMAT", cfg.LogFormat))

	// --- Validation ---
	if cfg.DBPath == "" {
		errs = append(errs, "REQLOG_DB_PATH must not be empty")
	}
	validatePositive("REQLOG_COUNT_CACHE_SIZE", cfg.CountCacheSize, &errs)
	validatePositive("REQLOG_QUEUE_SIZE", cfg.QueueSize, &errs)
	validatePositive("REQLOG_FLUSH_BATCH", cfg.FlushBatch, &errs)
	if cfg.FlushInterval <= 0 {
		errs = append(errs, "REQLOG_FLUSH_INTERVAL must be positive")
	}
	if cfg.QueueSize < cfg.FlushBatch {
		errs = append(errs, "REQLOG_QUEUE_SIZE must be at least REQLOG_FLUSH_BATCH")
	}
	if cfg.BackfillSchedule != "" {
		if _, err := cron.ParseStandard(cfg.BackfillSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("REQLOG_BACKFILL_SCHEDULE: invalid cron expression %q: %v", cfg.BackfillSchedule, err))
		}
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("REQLOG_LOG_LEVEL: %v", err))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("REQLOG_LOG_FORMAT: invalid value %q (allowed: text, json)", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// Logger builds a logrus logger with the configured level and format.
// Load has already validated both.
func (c *Config) Logger() *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
