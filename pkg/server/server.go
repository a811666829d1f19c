// Package server provides the HTTP API over a run catalog.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/catalog"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/telemetry"
)

// Server handles HTTP requests against one catalog.
type Server struct {
	catalog *catalog.Catalog
	mux     *http.ServeMux

	// MaxKeys bounds one /runs listing page.
	MaxKeys int
}

// NewServer creates an HTTP server over the catalog.
func NewServer(c *catalog.Catalog) *Server {
	s := &Server{
		catalog: c,
		mux:     http.NewServeMux(),
		MaxKeys: 100,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/runs", s.handleRuns)
	s.mux.HandleFunc("/runs/", s.handleRun)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// handleRuns lists run uids, most recent first.
// GET /runs?scan_id=N&limit=N
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c := s.catalog
	if v := r.URL.Query().Get("scan_id"); v != "" {
		scanID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			jsonError(w, "invalid scan_id", http.StatusBadRequest)
			return
		}
		c = c.Search(store.Query{ScanID: scanID})
	}

	limit := s.MaxKeys
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}

	cur, err := c.Keys(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cur.Close(ctx)

	uids := []string{}
	for len(uids) < limit && cur.Next(ctx) {
		uids = append(uids, cur.UID())
	}
	if err := cur.Err(); err != nil {
		writeError(w, err)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"runs":      uids,
		"truncated": len(uids) == limit,
	})
}

// handleRun dispatches /runs/{uid}[/schema | /partitions/{i} | /streams/{name}/pages].
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		jsonError(w, "missing run uid", http.StatusBadRequest)
		return
	}
	uid := parts[0]

	run, err := s.catalog.Get(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	defer run.Close()

	switch {
	case len(parts) == 1:
		s.serveRunMeta(w, r, run)
	case len(parts) == 2 && parts[1] == "schema":
		s.serveSchema(w, r, run)
	case len(parts) == 3 && parts[1] == "partitions":
		s.servePartition(w, r, run, parts[2])
	case len(parts) == 4 && parts[1] == "streams" && parts[3] == "pages":
		s.servePages(w, r, run, parts[2])
	default:
		jsonError(w, "not found", http.StatusNotFound)
	}
}

// serveRunMeta returns the run's start document and counts.
// GET /runs/{uid}
func (s *Server) serveRunMeta(w http.ResponseWriter, r *http.Request, run *catalog.Run) {
	meta, err := run.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	names, _ := meta.Streams()
	jsonResponse(w, map[string]interface{}{
		"start":           meta.Start,
		"stop":            meta.Stop,
		"virtual_count":   meta.VirtualCount,
		"partition_count": meta.PartitionCount,
		"streams":         names,
	})
}

// serveSchema returns the run's schema summary.
// GET /runs/{uid}/schema
func (s *Server) serveSchema(w http.ResponseWriter, r *http.Request, run *catalog.Run) {
	schema, err := run.Schema(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, schema)
}

// servePartition returns the ordered documents of one partition.
// GET /runs/{uid}/partitions/{i}
func (s *Server) servePartition(w http.ResponseWriter, r *http.Request, run *catalog.Run, index string) {
	i, err := strconv.ParseInt(index, 10, 64)
	if err != nil {
		jsonError(w, "invalid partition index", http.StatusBadRequest)
		return
	}
	docs, err := run.Partition(r.Context(), i)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []model.TaggedDocument{}
	}
	jsonResponse(w, map[string]interface{}{
		"partition": i,
		"documents": docs,
	})
}

// servePages streams one stream's event pages as a JSON array.
// GET /runs/{uid}/streams/{name}/pages?page_size=N
func (s *Server) servePages(w http.ResponseWriter, r *http.Request, run *catalog.Run, name string) {
	pageSize := 1000
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "invalid page_size", http.StatusBadRequest)
			return
		}
		pageSize = n
	}

	view, err := run.Stream(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	pager, err := view.Pages(r.Context(), pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	// Pages are written as they are cut so large streams never buffer
	// fully in the response path.
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("["))
	enc := json.NewEncoder(w)
	first := true
	for {
		page, ok, err := pager.Next()
		if err != nil {
			// Headers are gone; the truncated array signals the failure.
			return
		}
		if !ok {
			break
		}
		if !first {
			w.Write([]byte(","))
		}
		first = false
		enc.Encode(page)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	w.Write([]byte("]"))
}

// handleMetrics returns the process's telemetry counters.
// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, telemetry.Global().Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"})
}

// Helper functions

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeError maps error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeRunNotFound, errors.CodeStreamNotFound, errors.CodeEntryNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidConfig:
		status = http.StatusBadRequest
	case errors.CodeContextCanceled, errors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	jsonError(w, err.Error(), status)
}
