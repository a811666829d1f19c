// Package stream provides the per-stream array view of a run: all events
// belonging to one stream name, lazily materialized into an Arrow-backed
// dataset on first access and memoized until closed.
package stream

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/dataset"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/filler"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/telemetry"
)

// View is one named stream of a run; it may span several descriptors when
// the schema evolved mid-run. The filler instance is whatever the caller
// hands in; sharing one filler across a run's views reuses the
// resource/datum cache across streams.
type View struct {
	store       store.Store
	filler      *filler.Filler
	start       model.RunStart
	descriptors []model.Descriptor
	name        string

	include []string
	exclude []string

	mu sync.Mutex
	ds *dataset.Dataset
}

// NewView creates a view over the descriptors sharing one stream name.
// include/exclude are the dataset's field filters (see dataset.FromDocuments).
func NewView(s store.Store, f *filler.Filler, start model.RunStart,
	descriptors []model.Descriptor, include, exclude []string) (*View, error) {
	if len(descriptors) == 0 {
		return nil, errors.StreamNotFound(start.UID, "")
	}
	name := descriptors[0].Name
	for _, d := range descriptors {
		if d.Name != name {
			return nil, errors.New(errors.CodeStreamNotFound, "descriptors span multiple streams").
				WithContext("run", start.UID).
				WithContext("stream", name)
		}
	}
	return &View{
		store:       s,
		filler:      f,
		start:       start,
		descriptors: descriptors,
		name:        name,
		include:     include,
		exclude:     exclude,
	}, nil
}

// Name returns the stream name.
func (v *View) Name() string { return v.name }

// Descriptors returns the descriptors backing this view, in time order.
func (v *View) Descriptors() []model.Descriptor { return v.descriptors }

// Dataset materializes the stream. The first call fetches the full event
// cursor, resolves every event through the filler, and folds the sequence
// into an array dataset; subsequent calls return the memoized dataset.
// An unresolvable foreign key aborts materialization.
func (v *View) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.ds != nil {
		return v.ds, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "stream.Materialize",
		trace.WithAttributes(
			attribute.String("run.uid", v.start.UID),
			attribute.String("stream", v.name),
		))
	defer span.End()

	// The stop document may have appeared since the view was created.
	stop, err := v.store.GetRunStop(ctx, v.start.UID)
	if err != nil {
		return nil, err
	}

	uids := make([]string, len(v.descriptors))
	for i, d := range v.descriptors {
		v.filler.RegisterDescriptor(d)
		uids[i] = d.UID
	}

	cur, err := v.store.Events(ctx, uids, 0, -1)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var events []model.Event
	for cur.Next(ctx) {
		ev, err := v.filler.Fill(ctx, cur.Event())
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.ContextCanceled("materialize stream")
	}

	ds, err := dataset.FromDocuments(v.start, stop, v.descriptors, events, v.include, v.exclude)
	if err != nil {
		return nil, err
	}
	v.ds = ds
	telemetry.Global().AddStreamMaterialized()
	return ds, nil
}

// Pages materializes the stream (if needed) and starts a paging pass.
func (v *View) Pages(ctx context.Context, pageSize int) (*dataset.Pager, error) {
	ds, err := v.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return dataset.Paginate(ds, pageSize), nil
}

// Close releases the memoized dataset and its Arrow memory. A later
// Dataset call materializes afresh.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ds != nil {
		v.ds.Release()
		v.ds = nil
	}
}
