// Package config loads the daemon configuration from a YAML file and
// applies defaults and validation.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string        `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`

	// Listen is the JSON API address.
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`

	// SecretKey encrypts router credentials at rest. May also be given
	// via the WGMETER_SECRET_KEY environment variable, which wins.
	SecretKey string `yaml:"secret_key"`

	Observability ObservabilityConfig `yaml:"observability"`
	GeoIP         GeoIPConfig         `yaml:"geoip"`
}

// LogFileConfig enables file logging with rotation. Empty path logs to
// stderr only.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type ObservabilityConfig struct {
	// Listen serves Prometheus metrics and pprof. Empty disables it.
	Listen string `yaml:"listen"`
}

type GeoIPConfig struct {
	// Path is a local MMDB file or an http(s) URL. Empty disables
	// endpoint country lookups.
	Path    string `yaml:"path"`
	Refresh int    `yaml:"refresh"` // seconds
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "wg-meter.sqlite"
	}
	if env := os.Getenv("WGMETER_SECRET_KEY"); env != "" {
		cfg.SecretKey = env
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("secret_key is required (or set WGMETER_SECRET_KEY)")
	}
	if cfg.LogFile.Path != "" {
		if cfg.LogFile.MaxSizeMB == 0 {
			cfg.LogFile.MaxSizeMB = 50
		}
		if cfg.LogFile.MaxBackups == 0 {
			cfg.LogFile.MaxBackups = 3
		}
	}
	if cfg.GeoIP.Path != "" && cfg.GeoIP.Refresh == 0 {
		cfg.GeoIP.Refresh = 86400
	}

	return &cfg, nil
}

func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogWriter returns the destination for log output: stderr, or stderr
// plus a size-rotated file when log_file.path is set.
func (c *Config) LogWriter() io.Writer {
	if c.LogFile.Path == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   c.LogFile.Path,
		MaxSize:    c.LogFile.MaxSizeMB,
		MaxBackups: c.LogFile.MaxBackups,
		MaxAge:     c.LogFile.MaxAgeDays,
	})
}
