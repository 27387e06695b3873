package main

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"img-budget-go/internal/config"

	"github.com/sirupsen/logrus"
)

func setFlags(t *testing.T, v, q bool) {
	t.Helper()
	prevV, prevQ := verbose, quiet
	verbose, quiet = v, q
	t.Cleanup(func() { verbose, quiet = prevV, prevQ })
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		quiet   bool
		level   string
		file    bool
		want    logrus.Level
	}{
		{"console default", false, false, "info", false, logrus.WarnLevel},
		{"log file keeps info", false, false, "info", true, logrus.InfoLevel},
		{"configured debug", false, false, "debug", false, logrus.DebugLevel},
		{"verbose", true, false, "info", false, logrus.DebugLevel},
		{"quiet", false, true, "info", false, logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, tt.verbose, tt.quiet)
			cfg := config.DefaultConfig()
			cfg.Logging.Level = tt.level
			if tt.file {
				cfg.Logging.FilePath = filepath.Join(t.TempDir(), "img-budget.log")
			}
			if got := setupLogger(cfg).GetLevel(); got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunProbe(t *testing.T) {
	setFlags(t, true, false)
	path := filepath.Join(t.TempDir(), "a.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := runProbe(path); err != nil {
		t.Errorf("runProbe() error = %v", err)
	}
	if err := runProbe(path + ".missing"); err == nil {
		t.Error("runProbe() accepted a missing file")
	}
}
