package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")

	w, err := NewWatcher(path, WithWatchDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if w.Current().Logging.Level != "info" {
		t.Fatalf("initial level = %q, want info", w.Current().Logging.Level)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-w.Updates():
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	if w.Current().Logging.Level != "debug" {
		t.Errorf("Current().Logging.Level = %q, want debug", w.Current().Logging.Level)
	}
}

func TestWatcherReportsReloadErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: info\n")

	errs := make(chan error, 1)
	w, err := NewWatcher(path,
		WithWatchDebounce(50*time.Millisecond),
		WithWatchErrorHandler(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("server:\n  bogus_field: true\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected non-nil reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	// The last good config must still be served.
	if w.Current().Logging.Level != "info" {
		t.Errorf("Current().Logging.Level = %q, want info (unchanged)", w.Current().Logging.Level)
	}
}

func TestNewWatcherFilepathAbs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "logging:\n  level: warn\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
	if w.path != filepath.Clean(abs) {
		t.Errorf("w.path = %q, want %q", w.path, abs)
	}
}
