package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := DefaultConfig()
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 8)
	stopped := make(chan error, 1)
	go func() {
		stopped <- Watch(ctx, path, func(c *Config, err error) {
			if err == nil {
				reloaded <- c
			}
		})
	}()

	// the watcher is registered asynchronously; keep saving until it reports
	deadline := time.After(5 * time.Second)
	for interval := 2; ; interval++ {
		cfg.SyncIntervalMinutes = interval
		if err := cfg.SaveTo(path); err != nil {
			t.Fatal(err)
		}
		select {
		case got := <-reloaded:
			if got.SyncIntervalMinutes < 2 {
				t.Errorf("reloaded SyncIntervalMinutes = %d", got.SyncIntervalMinutes)
			}
			cancel()
			if err := <-stopped; err != nil {
				t.Errorf("Watch() error = %v", err)
			}
			return
		case <-time.After(300 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent", ConfigFileName), func(*Config, error) {})
	if err == nil {
		t.Fatal("Watch() on a missing directory succeeded")
	}
}
