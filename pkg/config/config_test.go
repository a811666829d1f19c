package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Catalog.PartitionSize != 100 {
		t.Errorf("partition size = %d, want 100", cfg.Catalog.PartitionSize)
	}
	if cfg.Store.Driver != "mongo" {
		t.Errorf("driver = %q, want mongo", cfg.Store.Driver)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
}

func TestMergeKeepsDefaultsForZeroValues(t *testing.T) {
	m := NewManager()
	m.merge(&Config{
		Catalog: CatalogConfig{PartitionSize: 250},
		Server:  ServerConfig{Host: "0.0.0.0"},
	})

	cfg := m.Get()
	if cfg.Catalog.PartitionSize != 250 {
		t.Errorf("partition size = %d, want 250", cfg.Catalog.PartitionSize)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Store.MetadatastoreURI == "" {
		t.Error("metadatastore uri lost its default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RUNSTREAM_STORE_DRIVER", "memory")
	t.Setenv("RUNSTREAM_PARTITION_SIZE", "42")
	t.Setenv("RUNSTREAM_PORT", "9090")
	t.Setenv("RUNSTREAM_OTLP_ENDPOINT", "otel:4317")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Store.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Store.Driver)
	}
	if cfg.Catalog.PartitionSize != 42 {
		t.Errorf("partition size = %d", cfg.Catalog.PartitionSize)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "otel:4317" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadEnvRejectsGarbage(t *testing.T) {
	t.Setenv("RUNSTREAM_PARTITION_SIZE", "-5")
	t.Setenv("RUNSTREAM_PORT", "not-a-port")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Catalog.PartitionSize != 100 {
		t.Errorf("partition size = %d, want default 100", cfg.Catalog.PartitionSize)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}
