package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProjectConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, ".runstream.yaml")
	writeProjectConfig(t, path, "catalog:\n  partition_size: 50\n")

	m := NewManager()
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get().Catalog.PartitionSize; got != 50 {
		t.Fatalf("partition size = %d, want 50", got)
	}

	w, err := NewWatcher(m)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	reloaded := make(chan *Config, 1)
	w.OnReload = func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeProjectConfig(t, path, "catalog:\n  partition_size: 75\n")

	select {
	case cfg := <-reloaded:
		if cfg.Catalog.PartitionSize != 75 {
			t.Errorf("partition size after reload = %d, want 75", cfg.Catalog.PartitionSize)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherIgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, ".runstream.yaml")
	writeProjectConfig(t, path, "catalog:\n  partition_size: 50\n")

	m := NewManager()
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, err := NewWatcher(m)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	reloaded := make(chan *Config, 1)
	w.OnReload = func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// A sibling file in the same directory is not a config path.
	writeProjectConfig(t, filepath.Join(dir, "notes.yaml"), "x: 1\n")

	select {
	case <-reloaded:
		t.Fatal("reload fired for a file that is not a config path")
	case <-time.After(1500 * time.Millisecond):
	}
}
