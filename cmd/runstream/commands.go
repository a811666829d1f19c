package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/internal/rungen"
	"github.com/runstream/runstream/pkg/catalog"
	"github.com/runstream/runstream/pkg/config"
	"github.com/runstream/runstream/pkg/export"
	"github.com/runstream/runstream/pkg/server"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/tui"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List runs, most recent first",
	Long: `List the runs in the catalog, most recent first.

Examples:
  runstream ls
  runstream ls --scan-id 42
  runstream ls --limit 5`,
	RunE: runLs,
}

var showCmd = &cobra.Command{
	Use:   "show <run-uid>",
	Short: "Show a run's schema, or dump one partition",
	Long: `Show the schema summary of one run: document counts, partitioning,
and the shape of each stream. With --partition, dump the ordered
documents of that partition as JSON instead.

Examples:
  runstream show 3f1c9a2e-77b0-4c11-9f2e-8d3b5a6c1d44
  runstream show 3f1c9a2e --partition 0`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var exportCmd = &cobra.Command{
	Use:   "export <run-uid> <stream>",
	Short: "Export one stream to Parquet or XLSX",
	Long: `Materialize one stream of a run and write it out.

Examples:
  runstream export 3f1c9a2e primary
  runstream export 3f1c9a2e primary --format xlsx
  runstream export 3f1c9a2e primary -o /tmp/primary.parquet --compression zstd`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog over HTTP",
	Long: `Start the HTTP API over the configured document store.

Endpoints:
  GET /runs                                  list run uids
  GET /runs/{uid}                            run metadata
  GET /runs/{uid}/schema                     schema summary
  GET /runs/{uid}/partitions/{i}             one partition's documents
  GET /runs/{uid}/streams/{name}/pages       event pages
  GET /metrics                               process counters`,
	RunE: runServe,
}

var locateCmd = &cobra.Command{
	Use:   "locate <datum-id>",
	Short: "Resolve a datum reference to its backing asset",
	Long: `Resolve a datum id to the address of its external payload, using
the configured asset locator (filesystem root map, or S3 when a bucket
is configured).

Examples:
  runstream locate 2a7f11bc-9e2d-4f6a-b7a1-0c3d8e5f4a21/7
  runstream locate 2a7f11bc/7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runLocate,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Serve synthetic runs from an in-memory store",
	Long: `Generate synthetic runs in an in-memory store and serve them over
HTTP. Useful for trying the API without a MongoDB deployment.`,
	RunE: runDemo,
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Global().Get()

	c, s, err := newCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	if scanIDFlag != 0 {
		c = c.Search(store.Query{ScanID: scanIDFlag})
	}

	cur, err := c.Keys(ctx)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	var rows []tui.RunRow
	for len(rows) < limitFlag && cur.Next(ctx) {
		run, err := c.Get(ctx, cur.UID())
		if err != nil {
			return err
		}
		meta, err := run.Load(ctx)
		if err != nil {
			return err
		}
		names, _ := meta.Streams()
		rows = append(rows, tui.RunRow{
			UID:     run.UID(),
			ScanID:  meta.Start.ScanID,
			Time:    meta.Start.Time,
			Open:    meta.Stop == nil,
			Streams: names,
		})
	}
	if err := cur.Err(); err != nil {
		return err
	}

	tui.PrintRunTable(rows)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Global().Get()

	c, s, err := newCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	run, err := c.Get(ctx, args[0])
	if err != nil {
		return err
	}
	defer run.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if partitionFlag >= 0 {
		docs, err := run.Partition(ctx, partitionFlag)
		if err != nil {
			return err
		}
		return enc.Encode(docs)
	}

	schema, err := run.Schema(ctx)
	if err != nil {
		return err
	}
	return enc.Encode(schema)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Global().Get()
	runUID, streamName := args[0], args[1]

	c, s, err := newCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	run, err := c.Get(ctx, runUID)
	if err != nil {
		return err
	}
	defer run.Close()

	view, err := run.Stream(ctx, streamName)
	if err != nil {
		return err
	}

	done := make(chan bool)
	go tui.Spinner("materializing "+streamName, done)
	ds, err := view.Dataset(ctx)
	done <- true
	if err != nil {
		return err
	}

	bar := tui.ShowProgress(int64(ds.Len()), "exporting")
	opts := export.Options{
		Dir:         cfg.Export.Dir,
		OutputPath:  outputFlag,
		Compression: firstNonEmpty(compressionFlag, cfg.Export.Compression),
		PageSize:    pickPageSize(pageSizeFlag, cfg.Export.PageSize),
		Progress: func(exported, total int) {
			bar.Set(exported)
		},
	}

	var result *export.Result
	switch formatFlag {
	case "parquet":
		exporter, err := export.NewParquetExporter()
		if err != nil {
			return err
		}
		defer exporter.Close()
		result, err = exporter.Export(ctx, ds, streamName, opts)
		if err != nil {
			return err
		}
	case "xlsx":
		result, err = export.NewXLSXExporter().Export(ctx, ds, streamName, opts)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export format %q (parquet, xlsx)", formatFlag)
	}
	bar.Finish()

	tui.PrintExportReport(tui.ExportReport{
		OutputPath: result.OutputPath,
		Rows:       result.Rows,
		Columns:    result.Columns,
		Duration:   result.Duration,
	})
	return nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Global().Get()
	datumID := args[0]

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	datum, err := s.GetDatum(ctx, datumID)
	if err != nil {
		return err
	}
	resource, err := s.GetResource(ctx, datum.Resource)
	if err != nil {
		return err
	}

	locator, err := newLocator(ctx, cfg)
	if err != nil {
		return err
	}
	path, err := locator.Path(model.DatumRef{
		DatumID:     datum.DatumID,
		Resource:    resource,
		DatumKwargs: datum.DatumKwargs,
	})
	if err != nil {
		return err
	}

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"datum_id":     datum.DatumID,
			"resource":     resource.UID,
			"spec":         resource.Spec,
			"path":         path,
			"datum_kwargs": datum.DatumKwargs,
		})
	}
	fmt.Println(path)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, s, err := newCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	// Reload the yaml config while serving; edits to watched files take
	// effect for requests that read config after the reload.
	watcher, err := config.NewWatcher(config.Global())
	if err != nil {
		return err
	}
	watcher.OnReload = func(cfg *config.Config) {
		fmt.Println("configuration reloaded")
	}
	watcher.OnError = func(err error) {
		fmt.Fprintf(os.Stderr, "config reload failed: %v\n", err)
	}
	go watcher.Run(ctx)

	return serveCatalog(ctx, cfg, c)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg := config.Global().Get()

	s := store.NewMemoryStore()
	base := float64(time.Now().Unix()) - float64(demoRuns)*3600
	for i := 0; i < demoRuns; i++ {
		rungen.Generate(s, rungen.Options{
			ScanID:    int64(i + 1),
			StartTime: base + float64(i)*3600,
			Open:      i == demoRuns-1,
			Streams: []rungen.StreamSpec{
				{Name: "primary", Events: 250, Descriptors: 2},
				{Name: "baseline", Events: 2},
				{Name: "images", Events: 40, External: true, EventsPerResource: 10},
			},
		})
	}
	fmt.Printf("generated %d synthetic runs\n", demoRuns)

	c := catalog.New(s, catalog.WithPartitionSize(cfg.Catalog.PartitionSize))
	return serveCatalog(cmd.Context(), cfg, c)
}

// serveCatalog runs the HTTP server until SIGINT/SIGTERM.
func serveCatalog(ctx context.Context, cfg *config.Config, c *catalog.Catalog) error {
	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}

	host := firstNonEmpty(hostFlag, cfg.Server.Host)
	port := cfg.Server.Port
	if portFlag != 0 {
		port = portFlag
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewServer(c),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("listening on http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Printf("\nreceived %s, shutting down\n", sig)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return shutdownTelemetry(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func pickPageSize(flag, cfgValue int) int {
	if flag > 0 {
		return flag
	}
	return cfgValue
}
