package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "alfred.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Default()
	if cfg.Backend.BaseURL != d.Backend.BaseURL || cfg.Readiness.MaxAttempts != 60 || cfg.Readiness.Interval != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReadinessCeiling() != 2*time.Minute {
		t.Fatalf("ceiling = %v", cfg.ReadinessCeiling())
	}
	if cfg.Supervisor.StartupTimeout <= cfg.ReadinessCeiling() {
		t.Fatalf("startup timeout should exceed readiness ceiling")
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	file := writeTOML(t, `
[backend]
python = "/opt/venv/bin/python"
script = "server/app.py"
args = ["--port", "8123"]
work_dir = "/opt/alfred"
base_url = "http://127.0.0.1:8123"
env = ["OLLAMA_HOST=127.0.0.1:11434"]

[backend.log]
dir = "/tmp/alfred-logs"
max_size_mb = 5

[readiness]
interval = "500ms"
max_attempts = 10

[supervisor]
max_retries = 5
retry_delay = "250ms"
stop_grace = "2s"

[history]
enabled = true
dsn = "sqlite://:memory:"
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := cfg.Backend
	if b.Python != "/opt/venv/bin/python" || b.Script != "server/app.py" || b.WorkDir != "/opt/alfred" {
		t.Fatalf("backend not decoded: %+v", b)
	}
	if len(b.Args) != 2 || b.Args[1] != "8123" {
		t.Fatalf("args not decoded: %v", b.Args)
	}
	if b.Log.Dir != "/tmp/alfred-logs" || b.Log.MaxSizeMB != 5 {
		t.Fatalf("backend log not decoded: %+v", b.Log)
	}
	if cfg.Readiness.Interval != 500*time.Millisecond || cfg.Readiness.MaxAttempts != 10 {
		t.Fatalf("readiness not decoded: %+v", cfg.Readiness)
	}
	if cfg.Supervisor.MaxRetries != 5 || cfg.Supervisor.RetryDelay != 250*time.Millisecond {
		t.Fatalf("supervisor not decoded: %+v", cfg.Supervisor)
	}
	// untouched keys keep defaults
	if cfg.Supervisor.StartupTimeout != 30*time.Minute {
		t.Fatalf("startup timeout default lost: %v", cfg.Supervisor.StartupTimeout)
	}
	if !cfg.History.Enabled || cfg.History.DSN != "sqlite://:memory:" {
		t.Fatalf("history not decoded: %+v", cfg.History)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ALFRED_BACKEND_BASE_URL", "http://127.0.0.1:9999")
	t.Setenv("ALFRED_READINESS_MAX_ATTEMPTS", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:9999" {
		t.Fatalf("env override not applied: %s", cfg.Backend.BaseURL)
	}
	if cfg.Readiness.MaxAttempts != 7 {
		t.Fatalf("env override not applied: %d", cfg.Readiness.MaxAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Readiness.MaxAttempts = 0
	cfg.Backend.BaseURL = "127.0.0.1:8000"
	cfg.History.Enabled = true
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"max_attempts", "base_url", "history.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	ok := Default()
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "alfred.example.toml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.Backend.PIDFile != "/tmp/alfred-backend.pid" || cfg.Backend.Log.Dir != "/tmp/alfred/logs" {
		t.Fatalf("backend section not decoded: %+v", cfg.Backend)
	}
	if len(cfg.Backend.Env) != 2 || !strings.Contains(cfg.Backend.Env[1], "${HOME}") {
		t.Fatalf("env entries should be kept verbatim for the launcher to expand: %v", cfg.Backend.Env)
	}
	if cfg.Supervisor.RetryDelay != 3*time.Second || cfg.Server.LockFile == "" {
		t.Fatalf("unexpected supervisor/server: %+v %+v", cfg.Supervisor, cfg.Server)
	}
}
