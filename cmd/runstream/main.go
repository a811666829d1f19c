// Runstream - document-stream catalog for experiment runs.
// Serves runs from a MongoDB document store as partitions, stream views
// and exports.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runstream/runstream/pkg/assets"
	"github.com/runstream/runstream/pkg/cache"
	"github.com/runstream/runstream/pkg/catalog"
	"github.com/runstream/runstream/pkg/config"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	scanIDFlag    int64
	limitFlag     int
	partitionFlag int64
	jsonFlag      bool

	formatFlag      string
	outputFlag      string
	compressionFlag string
	pageSizeFlag    int

	hostFlag string
	portFlag int

	demoRuns int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "runstream",
	Short: "Runstream - browse and export experiment runs",
	Long: `Runstream exposes a MongoDB-backed document store of experiment runs
as a catalog: list runs, read fixed-size partitions of a run's document
stream, materialize per-stream array views, and export them.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

func init() {
	lsCmd.Flags().Int64Var(&scanIDFlag, "scan-id", 0, "only runs with this scan_id")
	lsCmd.Flags().IntVar(&limitFlag, "limit", 25, "maximum runs to list")

	showCmd.Flags().Int64Var(&partitionFlag, "partition", -1, "dump one partition's documents instead of the schema")

	exportCmd.Flags().StringVar(&formatFlag, "format", "parquet", "output format: parquet | xlsx")
	exportCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "output file path")
	exportCmd.Flags().StringVar(&compressionFlag, "compression", "", "parquet compression: snappy | zstd | gzip | none")
	exportCmd.Flags().IntVar(&pageSizeFlag, "page-size", 0, "rows per write batch")

	serveCmd.Flags().StringVar(&hostFlag, "host", "", "bind host (overrides config)")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "bind port (overrides config)")

	demoCmd.Flags().IntVar(&demoRuns, "runs", 3, "number of synthetic runs")
	demoCmd.Flags().StringVar(&hostFlag, "host", "", "bind host (overrides config)")
	demoCmd.Flags().IntVar(&portFlag, "port", 0, "bind port (overrides config)")

	locateCmd.Flags().BoolVar(&jsonFlag, "json", false, "emit JSON instead of the bare path")

	rootCmd.AddCommand(lsCmd, showCmd, exportCmd, serveCmd, demoCmd, locateCmd)
}

// newRegistry is the composition root for store drivers.
func newRegistry() *catalog.Registry {
	r := catalog.NewRegistry()
	r.RegisterDriver("mongo", func(ctx context.Context, settings map[string]interface{}) (store.Store, error) {
		mdsURI, _ := settings["metadatastore_uri"].(string)
		assetsURI, _ := settings["asset_registry_uri"].(string)
		return store.NewMongoStore(ctx, store.DefaultMongoConfig(mdsURI, assetsURI))
	})
	r.RegisterDriver("memory", func(ctx context.Context, settings map[string]interface{}) (store.Store, error) {
		return store.NewMemoryStore(), nil
	})
	return r
}

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return newRegistry().Open(ctx, cfg.Store.Driver, map[string]interface{}{
		"metadatastore_uri":  cfg.Store.MetadatastoreURI,
		"asset_registry_uri": cfg.Store.AssetRegistryURI,
	})
}

// newMetaCache builds the configured run-metadata cache backend.
func newMetaCache(cfg *config.Config) (cache.Backend, error) {
	switch cfg.Cache.Backend {
	case "", "none":
		return cache.Nop{}, nil
	case "memory":
		return cache.NewMemoryBackend(cfg.Cache.TTL), nil
	case "redis":
		rc := cache.DefaultRedisConfig(cfg.Cache.RedisAddress)
		rc.TTL = cfg.Cache.TTL
		rc.Database = cfg.Cache.RedisDB
		return cache.NewRedisBackend(rc)
	default:
		return nil, errors.InvalidConfig(fmt.Sprintf("unknown cache backend %q", cfg.Cache.Backend))
	}
}

// newLocator builds the configured asset locator: S3-backed when a
// bucket is configured, filesystem otherwise.
func newLocator(ctx context.Context, cfg *config.Config) (assets.Locator, error) {
	if cfg.Assets.S3Bucket != "" {
		s3Cfg := assets.DefaultS3Config(cfg.Assets.S3Bucket, cfg.Assets.S3Region)
		return assets.NewS3Locator(ctx, s3Cfg, cfg.Assets.RootMap)
	}
	return assets.NewLocalLocator(cfg.Assets.RootMap), nil
}

// newCatalog wires store, cache and catalog options from config.
func newCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, store.Store, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	metaCache, err := newMetaCache(cfg)
	if err != nil {
		s.Close(ctx)
		return nil, nil, err
	}
	c := catalog.New(s,
		catalog.WithPartitionSize(cfg.Catalog.PartitionSize),
		catalog.WithMetaCache(metaCache),
		catalog.WithInclude(cfg.Catalog.Include),
		catalog.WithExclude(cfg.Catalog.Exclude),
	)
	return c, s, nil
}

// initTelemetry starts the OTLP exporter when enabled. The returned
// shutdown func is a no-op when telemetry is off.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.Telemetry.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	otlpCfg := telemetry.DefaultOTLPConfig("runstream")
	otlpCfg.ServiceVersion = version
	if cfg.Telemetry.Endpoint != "" {
		otlpCfg.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.SampleRatio > 0 {
		otlpCfg.SamplingRatio = cfg.Telemetry.SampleRatio
	}
	return telemetry.NewOTLPExporter(otlpCfg).Init(ctx)
}
