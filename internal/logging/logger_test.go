package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/replaykit/replaykit/internal/config"
)

func TestNewWritesUnderConfiguredLogsDir(t *testing.T) {
	dir := t.TempDir()
	if err := config.InitReplaykitDir(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	log, err := New(cfg.LogsDir())
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Printf("recorded session %s", "abc")
	if err := log.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.LogsDir(), "replaykit.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "recorded session abc") {
		t.Fatalf("log line missing, got %q", data)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Printf("ignored")
	if err := log.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
