// Package config holds the functional-options configuration shared by
// the CLI, HTTP server, and engine, following the options pattern the
// teacher's acousticdna package used.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"tuneprint/pkg/model"
)

// IndexBackend selects which Storage implementation the Hash Index
// uses. The persistent index is specified only as a pluggable
// interface (spec §4.5); this is the knob that picks a concrete one.
type IndexBackend string

const (
	BackendSQLite IndexBackend = "sqlite"
	BackendBadger IndexBackend = "badger"
)

type Config struct {
	DBPath     string
	TempDir    string
	SampleRate int
	Workers    int
	Mode       model.Mode
	Backend    IndexBackend
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) { c.DBPath = path }
}

func WithTempDir(dir string) Option {
	return func(c *Config) { c.TempDir = dir }
}

func WithSampleRate(rate int) Option {
	return func(c *Config) { c.SampleRate = rate }
}

func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

func WithMode(m model.Mode) Option {
	return func(c *Config) { c.Mode = m }
}

func WithBackend(b IndexBackend) Option {
	return func(c *Config) { c.Backend = b }
}

// Default returns the base configuration, with DB_PATH and
// TUNEPRINT_WORKERS environment overrides applied per §6.
func Default() *Config {
	dbPath := "fingerprints.db"
	if v := os.Getenv("DB_PATH"); v != "" {
		dbPath = v
	}

	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	if v := os.Getenv("TUNEPRINT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}

	tempDir := os.TempDir()
	if v := os.Getenv("TUNEPRINT_TEMP_DIR"); v != "" {
		tempDir = v
	}

	mode := model.ModeOptimized
	if v := os.Getenv("TUNEPRINT_MODE"); v != "" {
		if strings.EqualFold(v, "legacy") {
			mode = model.ModeLegacy
		}
	}

	return &Config{
		DBPath:     dbPath,
		TempDir:    tempDir,
		SampleRate: 22050,
		Workers:    workers,
		Mode:       mode,
		Backend:    BackendSQLite,
	}
}

// Build applies opts over Default and returns the resulting Config.
func Build(opts ...Option) *Config {
	cfg := Default()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > runtime.NumCPU() {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg
}
