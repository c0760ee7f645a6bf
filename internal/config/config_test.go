package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := writeConfig(t, "instrument: \" barc.l \"\nlevels: 5\nupdate_interval_ms: 100\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Instrument != "BARC.L" {
		t.Fatalf("instrument got %s", cfg.Instrument)
	}
	if cfg.Levels != 5 || cfg.UpdateInterval() != 100*time.Millisecond {
		t.Fatalf("got levels %d interval %v", cfg.Levels, cfg.UpdateInterval())
	}
	if cfg.Port != Defaults().Port || cfg.TickSize != Defaults().TickSize {
		t.Fatal("unset fields should keep defaults")
	}
}

func TestDefaultsUseQuarterSecondInterval(t *testing.T) {
	cfg := Defaults()
	if cfg.UpdateInterval() != 250*time.Millisecond {
		t.Fatalf("got %v", cfg.UpdateInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v want ErrNotExist", err)
	}
	if cfg.Instrument != "VOD.L" {
		t.Fatal("defaults expected alongside the error")
	}
}

func TestLoadValidation(t *testing.T) {
	for _, body := range []string{
		"port: 0\n",
		"levels: 0\n",
		"levels: 51\n",
		"update_interval_ms: 0\n",
		"tick_size: -1\n",
		"base_price: 0\n",
		"max_quantity: 0\n",
		"instrument: \"  \"\n",
		"levels: [\n",
	} {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "debug"
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "app.log")
	logger, closer, err := NewLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.LogFile); err != nil {
		t.Fatalf("log file not written: %v", err)
	}
}
