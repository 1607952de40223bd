// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config holds all plateflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Store     StoreConfig     `yaml:"store"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Redis     RedisConfig     `yaml:"redis"`
	S3        S3Config        `yaml:"s3"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and tunes the relational store.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"PLATEFLOW_STORE_DRIVER"` // duckdb | sqlite | postgres
	DSN    string `yaml:"dsn" env:"PLATEFLOW_STORE_DSN"`

	// ReturningIDs overrides the dialect's RETURNING capability ("", "on", "off").
	ReturningIDs string `yaml:"returning_ids" env:"PLATEFLOW_STORE_RETURNING_IDS"`

	// BulkChunk is the number of rows per multi-row INSERT.
	BulkChunk int `yaml:"bulk_chunk" env:"PLATEFLOW_STORE_BULK_CHUNK"`
}

// IngestConfig controls batch ingestion.
type IngestConfig struct {
	Isolation     string `yaml:"isolation" env:"PLATEFLOW_INGEST_ISOLATION"` // per-file | savepoint
	DecodeWorkers int    `yaml:"decode_workers" env:"PLATEFLOW_INGEST_DECODE_WORKERS"`
	SampleSize    int    `yaml:"sample_size"`
}

// RedisConfig configures the lock and grouping-cache backends.
// An empty Addr selects the in-process implementations.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"PLATEFLOW_REDIS_ADDR"`
	Password string        `yaml:"-" env:"PLATEFLOW_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"PLATEFLOW_REDIS_DB"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// S3Config configures s3:// sources.
type S3Config struct {
	Region          string `yaml:"region" env:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" env:"PLATEFLOW_S3_ENDPOINT"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"-" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"AWS_SECRET_ACCESS_KEY"`
}

// TelemetryConfig for optional tracing and metrics.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled" env:"PLATEFLOW_TELEMETRY_ENABLED"`
	Endpoint      string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
	MetricsAddr   string  `yaml:"metrics_addr" env:"PLATEFLOW_METRICS_ADDR"`
}

// Isolation modes.
const (
	IsolationPerFile   = "per-file"
	IsolationSavepoint = "savepoint"
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".plateflow")

	return &Config{
		Version: 1,
		Store: StoreConfig{
			Driver:    "duckdb",
			DSN:       filepath.Join(dataDir, "plateflow.duckdb"),
			BulkChunk: 500,
		},
		Ingest: IngestConfig{
			Isolation:     IsolationPerFile,
			DecodeWorkers: 1,
			SampleSize:    1024,
		},
		Redis: RedisConfig{
			Prefix:  "plateflow:",
			LockTTL: 10 * time.Minute,
			Timeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "duckdb", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Store.ReturningIDs {
	case "", "on", "off":
	default:
		return fmt.Errorf("config: store.returning_ids must be on, off or empty, got %q", c.Store.ReturningIDs)
	}
	switch c.Ingest.Isolation {
	case IsolationPerFile, IsolationSavepoint:
	default:
		return fmt.Errorf("config: unknown ingest isolation %q", c.Ingest.Isolation)
	}
	if c.Store.BulkChunk <= 0 {
		return fmt.Errorf("config: store.bulk_chunk must be positive")
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
	extra  string
}

// NewManager creates a new configuration manager. An explicit path, if
// given, is loaded after the standard locations.
func NewManager(explicit string) *Manager {
	return &Manager{
		config: Default(),
		extra:  explicit,
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			// Missing files are fine; broken ones are not.
			if os.IsNotExist(err) && path != m.extra {
				continue
			}
			return fmt.Errorf("config %s: %w", path, err)
		}
		m.paths = append(m.paths, path)
	}

	if err := cleanenv.ReadEnv(m.config); err != nil {
		return fmt.Errorf("config env: %w", err)
	}

	return m.config.Validate()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/plateflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".plateflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".plateflow.yaml"))
	}
	if m.extra != "" {
		paths = append(paths, m.extra)
	}

	return paths
}

// loadFile decodes a YAML file over the current config. Keys absent from
// the file keep their previous values.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, m.config)
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}
