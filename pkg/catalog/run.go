package catalog

import (
	"context"
	"sync"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/cache"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/filler"
	"github.com/runstream/runstream/pkg/run"
	"github.com/runstream/runstream/pkg/stream"
)

// Run is one catalog entry. All of its stream views share one filler, so
// a resource prefetched while reading one stream is a cache hit in the
// next.
type Run struct {
	catalog *Catalog
	start   model.RunStart
	filler  *filler.Filler
	index   *run.Index
	reader  *run.PartitionReader

	mu    sync.Mutex
	views map[string]*stream.View
}

// UID returns the run's uid.
func (r *Run) UID() string { return r.start.UID }

// Start returns the run's start document.
func (r *Run) Start() model.RunStart { return r.start }

// Load fetches fresh run metadata. The virtual count is requeried on
// every call; for open runs it grows as events arrive.
func (r *Run) Load(ctx context.Context) (*run.Meta, error) {
	meta, err := r.index.Load(ctx, r.start.UID)
	if err != nil {
		return nil, err
	}
	if meta.Stop != nil {
		// The run is closed; its metadata is now immutable.
		_ = r.catalog.metaCache.Put(ctx, r.start.UID,
			&cache.Entry{Start: meta.Start, Stop: meta.Stop})
	}
	return meta, nil
}

// Partition returns the ordered documents of partition i. An index at or
// beyond the end yields an empty slice; detect end-of-stream by
// emptiness, not by a prior count, because open runs grow.
func (r *Run) Partition(ctx context.Context, i int64) ([]model.TaggedDocument, error) {
	return r.reader.ReadPartition(ctx, i)
}

// Streams returns the stream names of this run, in first-appearance order.
func (r *Run) Streams(ctx context.Context) ([]string, error) {
	meta, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	names, _ := meta.Streams()
	return names, nil
}

// Stream returns the view for one named stream, creating it on first
// access. Views are memoized per name for the run handle's lifetime.
func (r *Run) Stream(ctx context.Context, name string) (*stream.View, error) {
	r.mu.Lock()
	if v, ok := r.views[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	meta, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	_, byName := meta.Streams()
	descriptors, ok := byName[name]
	if !ok {
		return nil, errors.StreamNotFound(r.start.UID, name)
	}

	v, err := stream.NewView(r.catalog.store, r.filler, meta.Start, descriptors,
		r.catalog.include, r.catalog.exclude)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.views[name]; ok {
		v.Close()
		return existing, nil
	}
	r.views[name] = v
	return v, nil
}

// Close releases every materialized stream view.
func (r *Run) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.views {
		v.Close()
	}
	r.views = make(map[string]*stream.View)
}

// StreamSchema summarizes one stream's shape.
type StreamSchema struct {
	Name        string                   `json:"name"`
	Descriptors int                      `json:"descriptors"`
	DataVars    map[string]model.DataKey `json:"data_vars"`
	Dims        []string                 `json:"dims"`
	Coords      []string                 `json:"coords"`
}

// Schema summarizes the whole run without materializing any stream.
type Schema struct {
	Start          model.RunStart          `json:"start"`
	Stop           *model.RunStop          `json:"stop,omitempty"`
	VirtualCount   int64                   `json:"virtual_count"`
	PartitionCount int64                   `json:"partition_count"`
	PartitionSize  int64                   `json:"partition_size"`
	Streams        map[string]StreamSchema `json:"streams"`
}

// Schema computes the run's schema summary from its descriptors.
func (r *Run) Schema(ctx context.Context) (*Schema, error) {
	meta, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}

	names, byName := meta.Streams()
	streams := make(map[string]StreamSchema, len(names))
	for _, name := range names {
		vars := make(map[string]model.DataKey)
		for _, d := range byName[name] {
			for k, dk := range d.DataKeys {
				vars[k] = dk
			}
		}
		streams[name] = StreamSchema{
			Name:        name,
			Descriptors: len(byName[name]),
			DataVars:    vars,
			Dims:        []string{"time"},
			Coords:      []string{"time", "seq_num", "uid"},
		}
	}

	return &Schema{
		Start:          meta.Start,
		Stop:           meta.Stop,
		VirtualCount:   meta.VirtualCount,
		PartitionCount: meta.PartitionCount,
		PartitionSize:  r.index.PartitionSize(),
		Streams:        streams,
	}, nil
}
