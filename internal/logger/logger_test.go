package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriters_WithDirOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("alfred-backend")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	_, _ = outW.Write([]byte("uvicorn started\n"))
	_, _ = errW.Write([]byte("warning\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"alfred-backend.stdout.log", "alfred-backend.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("log not created at %s: %v", p, err)
		}
	}
}

func TestWriters_DefaultsAndOverrides(t *testing.T) {
	cfg := Config{}
	if cfg.Enabled() {
		t.Fatalf("zero config must not be enabled")
	}
	outW, errW, _ := cfg.Writers("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when nothing is configured")
	}

	cfg = Config{StdoutPath: "x", StderrPath: "y"}
	outW, errW, _ = cfg.Writers("n")
	ol := outW.(*lj.Logger)
	if ol.MaxSize != DefaultMaxSizeMB || ol.MaxBackups != DefaultMaxBackups || ol.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", ol.MaxSize, ol.MaxBackups, ol.MaxAge)
	}
	closeIf(errW)

	cfg = Config{StdoutPath: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	outW, errW, _ = cfg.Writers("n")
	if errW != nil {
		t.Fatalf("expected stdout writer only")
	}
	ol = outW.(*lj.Logger)
	if ol.MaxSize != 1 || ol.MaxBackups != 9 || ol.MaxAge != 11 || !ol.Compress {
		t.Fatalf("unexpected overrides: %+v", ol)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorTextHandler_PrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	l.Warn("backend slow", "attempt", 3)
	out := buf.String()
	if !strings.Contains(out, "\033[33mWARN") {
		t.Fatalf("missing colored level: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
	if !strings.Contains(out, "attempt=3") {
		t.Fatalf("missing attribute: %q", out)
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alfred.log")
	l, c := New(Options{Level: "debug", Format: "json", File: path})
	l.Debug("hello", "k", "v")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"hello"`) {
		t.Fatalf("unexpected log content: %s", b)
	}
}
