package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Fatal("NewLogger() accepted an invalid level")
	}
}

func TestNewLogger_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf

	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	WithRun(log, "run-1").WithField("file", "img/a.png").Info("Encoded")
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"message": "Encoded",
		"level":   "info",
		"run_id":  "run-1",
		"file":    "img/a.png",
	} {
		if entry[key] != want {
			t.Errorf("entry[%s] = %v, want %s", key, entry[key], want)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("entry has no timestamp")
	}
}

func TestNewLogger_File(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "img-budget.log")
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Console = false
	cfg.Output = &console

	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	WithOperation(log, "swap").Warn("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"swap"`) {
		t.Errorf("log file = %s", data)
	}
	if console.Len() != 0 {
		t.Errorf("console written although disabled: %s", console.String())
	}
}
