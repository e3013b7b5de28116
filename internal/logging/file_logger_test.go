package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLogger_DerivedLoggersShareTheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdsync.log")
	base, err := NewFileLogger(FileLoggerConfig{FilePath: path, Level: INFO})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	a := base.WithRunID("run-a")
	b := base.WithRunID("run-b")
	a.Info("estimating")
	b.Info("estimating")
	a.Info("transferring")

	if err := base.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// closing the shared file drops later writes from derived loggers
	b.Info("after close")

	entries := readEntries(t, path)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	want := []string{"run-a", "run-b", "run-a"}
	for i, e := range entries {
		if e.RunID != want[i] {
			t.Errorf("entry %d run_id = %q, want %q", i, e.RunID, want[i])
		}
	}
}

func TestFileLogger_SetLevelOnDerived(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdsync.log")
	base, err := NewFileLogger(FileLoggerConfig{FilePath: path, Level: DEBUG})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	run := base.WithRunID("run-1")

	run.SetLevel(WARN)
	base.Info("hidden")
	run.Debug("hidden")
	base.Warn("shown")
	_ = base.Close()

	entries := readEntries(t, path)
	if len(entries) != 1 || entries[0].Message != "shown" {
		t.Fatalf("entries = %+v, want only the warning", entries)
	}
}

func TestFileLogger_RedactsMessageAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdsync.log")
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: path, Level: DEBUG, RedactSensitive: true})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.Debug("config show: pass = obscured123")
	logger.Debug("environment", F("env", "RCLONE_CONFIG_PASS=topsecret"), F("count", 3))
	_ = logger.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	for _, secret := range []string{"obscured123", "topsecret"} {
		if strings.Contains(string(raw), secret) {
			t.Errorf("log file leaked %q: %s", secret, raw)
		}
	}
	entries := readEntries(t, path)
	if entries[1].Fields["count"] != float64(3) {
		t.Errorf("non-string field changed: %v", entries[1].Fields["count"])
	}
}

func TestFileLogger_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdsync.log")
	for _, msg := range []string{"first run", "second run"} {
		logger, err := NewFileLogger(FileLoggerConfig{FilePath: path, Level: INFO})
		if err != nil {
			t.Fatalf("NewFileLogger() error = %v", err)
		}
		logger.Info(msg)
		_ = logger.Close()
	}

	entries := readEntries(t, path)
	if len(entries) != 2 || entries[0].Message != "first run" || entries[1].Message != "second run" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestFileLogger_RotationKeepsRunID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdsync.log")
	base, err := NewFileLogger(FileLoggerConfig{FilePath: path, Level: INFO, MaxFileSize: 200, RotateEnabled: true})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	run := base.WithRunID("run-rot")
	for i := 0; i < 10; i++ {
		run.Info("progress update with enough text to fill the file")
	}
	_ = base.Close()

	rotated, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(rotated) == 0 {
		t.Fatal("expected at least one rotated file")
	}
	for _, e := range readEntries(t, path) {
		if e.RunID != "run-rot" {
			t.Errorf("entry after rotation lost its run_id: %+v", e)
		}
	}
}
