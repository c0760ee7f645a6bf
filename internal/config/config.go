package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/lumberjack.v3"
	"gopkg.in/yaml.v3"

	"market-depth/internal/depth"
)

type Config struct {
	Port             int     `yaml:"port"`
	Instrument       string  `yaml:"instrument"`
	Levels           int     `yaml:"levels"`
	UpdateIntervalMs int     `yaml:"update_interval_ms"`
	BasePrice        float64 `yaml:"base_price"`
	TickSize         float64 `yaml:"tick_size"`
	MaxQuantity      int64   `yaml:"max_quantity"`
	Seed             uint64  `yaml:"seed"` // 0 picks a time-based seed
	LayoutFile       string  `yaml:"layout_file"`
	LogLevel         string  `yaml:"log_level"`
	LogFile          string  `yaml:"log_file"`
	LogMaxSizeMB     int     `yaml:"log_max_size_mb"`
	LogMaxBackups    int     `yaml:"log_max_backups"`
	LogMaxAgeDays    int     `yaml:"log_max_age_days"`
}

func Defaults() Config {
	return Config{
		Port:             8087,
		Instrument:       "VOD.L",
		Levels:           10,
		UpdateIntervalMs: 250,
		BasePrice:        100,
		TickSize:         0.05,
		MaxQuantity:      1000,
		LogLevel:         "info",
		LogMaxSizeMB:     5,
		LogMaxBackups:    10,
		LogMaxAgeDays:    14,
	}
}

// Load reads path over the defaults. A missing file is reported with an
// error wrapping fs.ErrNotExist together with the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and normalizes the instrument code.
func (c *Config) Validate() error {
	c.Instrument = depth.CanonicalInstrument(c.Instrument)
	if c.Instrument == "" {
		return errors.New("instrument required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	if c.Levels < 1 || c.Levels > 50 {
		return errors.New("levels must be between 1 and 50")
	}
	if c.UpdateIntervalMs < 1 {
		return errors.New("update_interval_ms must be >=1")
	}
	if c.BasePrice <= 0 {
		return errors.New("base_price must be > 0")
	}
	if c.TickSize <= 0 {
		return errors.New("tick_size must be > 0")
	}
	if c.MaxQuantity < 1 {
		return errors.New("max_quantity must be >=1")
	}
	return nil
}

func (c Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMs) * time.Millisecond
}

// NewLogger builds the process logger. When LogFile is set, output also goes
// to a size-rotated file. The returned closer releases that file.
func NewLogger(c Config) (*slog.Logger, io.Closer, error) {
	lvl := slog.LevelInfo
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if c.LogFile != "" {
		roller, err := lumberjack.New(
			lumberjack.WithFileName(c.LogFile),
			lumberjack.WithMaxBytes(int64(c.LogMaxSizeMB)*1024*1024),
			lumberjack.WithMaxBackups(c.LogMaxBackups),
			lumberjack.WithMaxDays(c.LogMaxAgeDays),
			lumberjack.WithCompress(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("log file %s: %w", c.LogFile, err)
		}
		w = io.MultiWriter(os.Stdout, roller)
		closer = roller
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
