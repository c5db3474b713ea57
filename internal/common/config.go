package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Sandbox     SandboxConfig   `toml:"sandbox"`
	Data        DataConfig      `toml:"data"`
	EODHD       EODHDConfig     `toml:"eodhd"`
	Render      RenderConfig    `toml:"render"`
	Export      ExportConfig    `toml:"export"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Seed        SeedConfig      `toml:"seed"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Type   string       `toml:"type"` // "badger" (default) or "sqlite"
	Badger BadgerConfig `toml:"badger"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait before SQLITE_BUSY
	WALMode       bool   `toml:"wal_mode"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05"
}

// SandboxConfig bounds chart script execution
type SandboxConfig struct {
	Timeout  string `toml:"timeout"`   // e.g. "30s"
	MaxSteps uint64 `toml:"max_steps"` // 0 disables the step budget
}

// DataConfig controls the series cache in front of upstream providers
type DataConfig struct {
	MaxAge   string `toml:"max_age"`   // cached series older than this are refetched, e.g. "24h"
	CacheTTL string `toml:"cache_ttl"` // badger TTL of cached entries, e.g. "168h"
}

// EODHDConfig configures the EODHD market data provider
type EODHDConfig struct {
	APIKey    string  `toml:"api_key"`
	BaseURL   string  `toml:"base_url"`
	Exchange  string  `toml:"exchange"`   // appended to bare tickers, e.g. "US"
	RateLimit float64 `toml:"rate_limit"` // requests per second
	Timeout   string  `toml:"timeout"`
}

// RenderConfig configures the headless Chrome image renderer
type RenderConfig struct {
	PlotlyURL string  `toml:"plotly_url"`
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
	Scale     float64 `toml:"scale"`
	Timeout   string  `toml:"timeout"` // per image
	Headless  bool    `toml:"headless"`
}

// ExportConfig configures batch document export
type ExportConfig struct {
	Workers      int           `toml:"workers"`
	BatchTimeout string        `toml:"batch_timeout"`
	Archive      ArchiveConfig `toml:"archive"`
}

// ArchiveConfig configures optional S3 upload of finished exports
type ArchiveConfig struct {
	Bucket          string `toml:"bucket"` // empty disables archiving
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"` // S3-compatible endpoint override
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// SchedulerConfig configures the periodic refresh of every chart
type SchedulerConfig struct {
	Enabled         bool   `toml:"enabled"`
	RefreshSchedule string `toml:"refresh_schedule"` // standard 5-field cron
}

// SeedConfig points at system chart definitions loaded on startup
type SeedConfig struct {
	Dir string `toml:"dir"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			SQLite: SQLiteConfig{
				Path:          "./data/investx.db",
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		Sandbox: SandboxConfig{
			Timeout:  "30s",
			MaxSteps: 0,
		},
		Data: DataConfig{
			MaxAge:   "24h",
			CacheTTL: "168h",
		},
		EODHD: EODHDConfig{
			BaseURL:   "https://eodhd.com/api",
			Exchange:  "US",
			RateLimit: 5,
			Timeout:   "30s",
		},
		Render: RenderConfig{
			PlotlyURL: "https://cdn.plot.ly/plotly-2.35.2.min.js",
			Width:     1200,
			Height:    700,
			Scale:     1,
			Timeout:   "30s",
			Headless:  true,
		},
		Export: ExportConfig{
			Workers:      4,
			BatchTimeout: "120s",
			Archive: ArchiveConfig{
				Prefix: "exports/",
				Region: "us-east-1",
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			RefreshSchedule: "0 */6 * * *", // Every 6 hours
		},
		Seed: SeedConfig{
			Dir: "./charts",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files. A .env file in the working directory is loaded
// into the process environment first; variables already set are not overwritten.
func LoadFromFiles(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies INVESTX_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("INVESTX_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("INVESTX_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("INVESTX_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if storageType := os.Getenv("INVESTX_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if path := os.Getenv("INVESTX_STORAGE_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if reset := os.Getenv("INVESTX_STORAGE_BADGER_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = r
		}
	}
	if path := os.Getenv("INVESTX_STORAGE_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}

	// Logging configuration
	if level := os.Getenv("INVESTX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("INVESTX_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Sandbox configuration
	if timeout := os.Getenv("INVESTX_SANDBOX_TIMEOUT"); timeout != "" {
		config.Sandbox.Timeout = timeout
	}
	if steps := os.Getenv("INVESTX_SANDBOX_MAX_STEPS"); steps != "" {
		if s, err := strconv.ParseUint(steps, 10, 64); err == nil {
			config.Sandbox.MaxSteps = s
		}
	}

	// Data configuration
	if maxAge := os.Getenv("INVESTX_DATA_MAX_AGE"); maxAge != "" {
		config.Data.MaxAge = maxAge
	}

	// EODHD configuration
	if apiKey := os.Getenv("INVESTX_EODHD_API_KEY"); apiKey != "" {
		config.EODHD.APIKey = apiKey
	} else if apiKey := os.Getenv("EODHD_API_KEY"); apiKey != "" {
		config.EODHD.APIKey = apiKey
	}
	if baseURL := os.Getenv("INVESTX_EODHD_BASE_URL"); baseURL != "" {
		config.EODHD.BaseURL = baseURL
	}

	// Render configuration
	if plotlyURL := os.Getenv("INVESTX_RENDER_PLOTLY_URL"); plotlyURL != "" {
		config.Render.PlotlyURL = plotlyURL
	}

	// Export configuration
	if workers := os.Getenv("INVESTX_EXPORT_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			config.Export.Workers = w
		}
	}
	if bucket := os.Getenv("INVESTX_EXPORT_ARCHIVE_BUCKET"); bucket != "" {
		config.Export.Archive.Bucket = bucket
	}
	if endpoint := os.Getenv("INVESTX_EXPORT_ARCHIVE_ENDPOINT"); endpoint != "" {
		config.Export.Archive.Endpoint = endpoint
	}
	if key := os.Getenv("INVESTX_EXPORT_ARCHIVE_ACCESS_KEY_ID"); key != "" {
		config.Export.Archive.AccessKeyID = key
	}
	if secret := os.Getenv("INVESTX_EXPORT_ARCHIVE_SECRET_ACCESS_KEY"); secret != "" {
		config.Export.Archive.SecretAccessKey = secret
	}

	// Scheduler configuration
	if enabled := os.Getenv("INVESTX_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("INVESTX_SCHEDULER_REFRESH_SCHEDULE"); schedule != "" {
		config.Scheduler.RefreshSchedule = schedule
	}

	// Seed configuration
	if dir := os.Getenv("INVESTX_SEED_DIR"); dir != "" {
		config.Seed.Dir = dir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "", "badger", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %s (expected 'badger' or 'sqlite')", c.Storage.Type)
	}
	for name, value := range map[string]string{
		"sandbox.timeout":      c.Sandbox.Timeout,
		"data.max_age":         c.Data.MaxAge,
		"data.cache_ttl":       c.Data.CacheTTL,
		"eodhd.timeout":        c.EODHD.Timeout,
		"render.timeout":       c.Render.Timeout,
		"export.batch_timeout": c.Export.BatchTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid scheduler.refresh_schedule: %w", err)
		}
	}
	return nil
}

// ValidateSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) != 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}
	return nil
}

// Duration parses a config duration, falling back when empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy of the Config struct
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c
	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}
	return &clone
}
