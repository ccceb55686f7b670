package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "secret_key: abc\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("listen default: %q", cfg.Listen)
	}
	if cfg.DBPath != "wg-meter.sqlite" {
		t.Fatalf("db_path default: %q", cfg.DBPath)
	}
	if cfg.ParseLogLevel() != slog.LevelInfo {
		t.Fatalf("log level default: %v", cfg.ParseLogLevel())
	}
}

func TestLoadRequiresSecretKey(t *testing.T) {
	path := writeConfig(t, "listen: 127.0.0.1:9000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("missing secret_key accepted")
	}
}

func TestSecretKeyFromEnv(t *testing.T) {
	t.Setenv("WGMETER_SECRET_KEY", "from-env")
	path := writeConfig(t, "secret_key: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SecretKey != "from-env" {
		t.Fatalf("secret key: %q", cfg.SecretKey)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		c := Config{LogLevel: in}
		if got := c.ParseLogLevel(); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogFileDefaults(t *testing.T) {
	path := writeConfig(t, "secret_key: abc\nlog_file:\n  path: /tmp/meter.log\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFile.MaxSizeMB != 50 || cfg.LogFile.MaxBackups != 3 {
		t.Fatalf("log file defaults: %+v", cfg.LogFile)
	}
}
