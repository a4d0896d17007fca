// Package config resolves service configuration: defaults, then an optional
// YAML file, then environment variables (with .env support).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Forecast  ForecastConfig

	// SeedFile is a plans/teams/assignments document applied at startup.
	SeedFile string
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	// Path is the SQLite file. ":memory:" keeps everything in process.
	Path string
}

type LogConfig struct {
	Level      string
	File       string // Empty logs to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type ForecastConfig struct {
	DefaultCommissionRate float64
	DefaultHorizonDays    int
}

// configFile mirrors the YAML schema.
type configFile struct {
	Server struct {
		Port           int      `yaml:"port"`
		ReadTimeout    string   `yaml:"read_timeout"`
		WriteTimeout   string   `yaml:"write_timeout"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Scheduler struct {
		Enabled  *bool  `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"scheduler"`
	Forecast struct {
		DefaultCommissionRate float64 `yaml:"default_commission_rate"`
		DefaultHorizonDays    int     `yaml:"default_horizon_days"`
	} `yaml:"forecast"`
	Config struct {
		SeedFile string `yaml:"seed_file"`
	} `yaml:"config"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{Path: "./commission.db"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Scheduler: SchedulerConfig{Enabled: false, Interval: time.Hour},
		Forecast:  ForecastConfig{DefaultCommissionRate: 3, DefaultHorizonDays: 30},
	}
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error; an unreadable or malformed one is.
// An empty path skips the file.
func Load(path string) (Config, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.applyFile(raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyFile(raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.Port > 0 {
		cfg.Server.Port = f.Server.Port
	}
	if d, err := parseDuration("server.read_timeout", f.Server.ReadTimeout); err != nil {
		return err
	} else if d > 0 {
		cfg.Server.ReadTimeout = d
	}
	if d, err := parseDuration("server.write_timeout", f.Server.WriteTimeout); err != nil {
		return err
	} else if d > 0 {
		cfg.Server.WriteTimeout = d
	}
	if len(f.Server.AllowedOrigins) > 0 {
		cfg.Server.AllowedOrigins = f.Server.AllowedOrigins
	}
	if f.Database.Path != "" {
		cfg.Database.Path = f.Database.Path
	}
	if f.Log.Level != "" {
		cfg.Log.Level = f.Log.Level
	}
	if f.Log.File != "" {
		cfg.Log.File = f.Log.File
	}
	if f.Log.MaxSizeMB > 0 {
		cfg.Log.MaxSizeMB = f.Log.MaxSizeMB
	}
	if f.Log.MaxBackups > 0 {
		cfg.Log.MaxBackups = f.Log.MaxBackups
	}
	if f.Log.MaxAgeDays > 0 {
		cfg.Log.MaxAgeDays = f.Log.MaxAgeDays
	}
	if f.Scheduler.Enabled != nil {
		cfg.Scheduler.Enabled = *f.Scheduler.Enabled
	}
	if d, err := parseDuration("scheduler.interval", f.Scheduler.Interval); err != nil {
		return err
	} else if d > 0 {
		cfg.Scheduler.Interval = d
	}
	if f.Forecast.DefaultCommissionRate > 0 {
		cfg.Forecast.DefaultCommissionRate = f.Forecast.DefaultCommissionRate
	}
	if f.Forecast.DefaultHorizonDays > 0 {
		cfg.Forecast.DefaultHorizonDays = f.Forecast.DefaultHorizonDays
	}
	if f.Config.SeedFile != "" {
		cfg.SeedFile = f.Config.SeedFile
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config %s: %w", key, err)
	}
	return d, nil
}

func (cfg *Config) applyEnv() {
	cfg.Server.Port = envInt("PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = envCSV("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Database.Path = envOrDefault("DB_PATH", cfg.Database.Path)
	cfg.Log.Level = envOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envOrDefault("LOG_FILE", cfg.Log.File)
	cfg.Scheduler.Enabled = envBool("SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.Interval = envDuration("SCHEDULER_INTERVAL", cfg.Scheduler.Interval)
	cfg.SeedFile = envOrDefault("SEED_FILE", cfg.SeedFile)
}

// Validate rejects values the server cannot start with.
func (cfg Config) Validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", cfg.Server.Port)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("config: missing database path")
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("config: scheduler interval must be positive")
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level. Unknown names
// fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		switch strings.ToLower(raw) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
