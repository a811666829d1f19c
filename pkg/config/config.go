// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runstream configuration.
type Config struct {
	Version int `yaml:"version"`

	Store     StoreConfig     `yaml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	Assets    AssetsConfig    `yaml:"assets"`
	Export    ExportConfig    `yaml:"export"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig points at the document store backing the catalog.
type StoreConfig struct {
	Driver           string        `yaml:"driver"` // mongo | memory
	MetadatastoreURI string        `yaml:"metadatastore_uri"`
	AssetRegistryURI string        `yaml:"asset_registry_uri"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
}

// CatalogConfig controls run iteration and partitioning.
type CatalogConfig struct {
	PartitionSize int64    `yaml:"partition_size"`
	Include       []string `yaml:"include"`
	Exclude       []string `yaml:"exclude"`
}

// CacheConfig selects the run-metadata cache backend.
type CacheConfig struct {
	Backend      string        `yaml:"backend"` // memory | redis | none
	TTL          time.Duration `yaml:"ttl"`
	RedisAddress string        `yaml:"redis_address"`
	RedisDB      int           `yaml:"redis_db"`
}

// AssetsConfig controls external-asset path resolution.
type AssetsConfig struct {
	RootMap  map[string]string `yaml:"root_map"` // resource root -> local root
	S3Bucket string            `yaml:"s3_bucket"`
	S3Region string            `yaml:"s3_region"`
}

// ExportConfig controls dataset export.
type ExportConfig struct {
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"` // snappy | zstd | gzip | none
	PageSize    int    `yaml:"page_size"`
}

// ServerConfig for the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	runstreamDir := filepath.Join(homeDir, ".runstream")

	return &Config{
		Version: 1,
		Store: StoreConfig{
			Driver:           "mongo",
			MetadatastoreURI: "mongodb://localhost:27017/metadatastore",
			AssetRegistryURI: "mongodb://localhost:27017/asset_registry",
			ConnectTimeout:   10 * time.Second,
		},
		Catalog: CatalogConfig{
			PartitionSize: 100,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			TTL:          24 * time.Hour,
			RedisAddress: "localhost:6379",
		},
		Export: ExportConfig{
			Dir:         filepath.Join(runstreamDir, "exports"),
			Compression: "snappy",
			PageSize:    1000,
		},
		Server: ServerConfig{
			Port:        8080,
			Host:        "localhost",
			CORSOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			SampleRatio: 1.0,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	// Later paths override earlier ones
	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	m.loadEnv()
	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/runstream/config.yaml")
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".runstream", "config.yaml"))
	}

	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".runstream.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	if src.Store.Driver != "" {
		m.config.Store.Driver = src.Store.Driver
	}
	if src.Store.MetadatastoreURI != "" {
		m.config.Store.MetadatastoreURI = src.Store.MetadatastoreURI
	}
	if src.Store.AssetRegistryURI != "" {
		m.config.Store.AssetRegistryURI = src.Store.AssetRegistryURI
	}
	if src.Store.ConnectTimeout != 0 {
		m.config.Store.ConnectTimeout = src.Store.ConnectTimeout
	}

	if src.Catalog.PartitionSize != 0 {
		m.config.Catalog.PartitionSize = src.Catalog.PartitionSize
	}
	if len(src.Catalog.Include) > 0 {
		m.config.Catalog.Include = src.Catalog.Include
	}
	if len(src.Catalog.Exclude) > 0 {
		m.config.Catalog.Exclude = src.Catalog.Exclude
	}

	if src.Cache.Backend != "" {
		m.config.Cache.Backend = src.Cache.Backend
	}
	if src.Cache.TTL != 0 {
		m.config.Cache.TTL = src.Cache.TTL
	}
	if src.Cache.RedisAddress != "" {
		m.config.Cache.RedisAddress = src.Cache.RedisAddress
	}
	if src.Cache.RedisDB != 0 {
		m.config.Cache.RedisDB = src.Cache.RedisDB
	}

	if len(src.Assets.RootMap) > 0 {
		m.config.Assets.RootMap = src.Assets.RootMap
	}
	if src.Assets.S3Bucket != "" {
		m.config.Assets.S3Bucket = src.Assets.S3Bucket
	}
	if src.Assets.S3Region != "" {
		m.config.Assets.S3Region = src.Assets.S3Region
	}

	if src.Export.Dir != "" {
		m.config.Export.Dir = src.Export.Dir
	}
	if src.Export.Compression != "" {
		m.config.Export.Compression = src.Export.Compression
	}
	if src.Export.PageSize != 0 {
		m.config.Export.PageSize = src.Export.PageSize
	}

	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if len(src.Server.CORSOrigins) > 0 {
		m.config.Server.CORSOrigins = src.Server.CORSOrigins
	}

	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.SampleRatio != 0 {
		m.config.Telemetry.SampleRatio = src.Telemetry.SampleRatio
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("RUNSTREAM_STORE_DRIVER"); v != "" {
		m.config.Store.Driver = v
	}

	if v := os.Getenv("RUNSTREAM_METADATASTORE_URI"); v != "" {
		m.config.Store.MetadatastoreURI = v
	}

	if v := os.Getenv("RUNSTREAM_ASSET_REGISTRY_URI"); v != "" {
		m.config.Store.AssetRegistryURI = v
	}

	if v := os.Getenv("RUNSTREAM_PARTITION_SIZE"); v != "" {
		var size int64
		if _, err := fmt.Sscanf(v, "%d", &size); err == nil && size > 0 {
			m.config.Catalog.PartitionSize = size
		}
	}

	if v := os.Getenv("RUNSTREAM_CACHE_BACKEND"); v != "" {
		m.config.Cache.Backend = v
	}

	if v := os.Getenv("RUNSTREAM_REDIS_ADDRESS"); v != "" {
		m.config.Cache.RedisAddress = v
	}

	if v := os.Getenv("RUNSTREAM_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			m.config.Server.Port = port
		}
	}

	if v := os.Getenv("RUNSTREAM_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".runstream")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
