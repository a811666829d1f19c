package run

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/filler"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/telemetry"
)

// PartitionReader answers partition requests for one run. Each call
// reconstructs its state from a fresh index load, so partitions can be
// fetched out of order, re-fetched, and requested concurrently; the only
// shared mutable state is the filler's resolution cache, which is purely
// additive and idempotent.
type PartitionReader struct {
	store  store.Store
	index  *Index
	filler *filler.Filler
	runUID string
}

// NewPartitionReader creates a reader for the run identified by runUID.
func NewPartitionReader(s store.Store, ix *Index, f *filler.Filler, runUID string) *PartitionReader {
	return &PartitionReader{store: s, index: ix, filler: f, runUID: runUID}
}

// ReadPartition returns the exact ordered slice of tagged documents
// belonging to partition i. Output is deterministic given the run state:
// concatenating partitions 0..N-1 reproduces the full virtual sequence
// with no reordering, duplication or loss. An index at or beyond the end
// of the run yields an empty partition, not an error, because the count
// can grow while a run is open.
//
// Either the complete partition is returned or an error; a fetch failure
// mid-partition never surfaces partial results. Reads are idempotent, so
// the caller may retry the whole partition.
func (r *PartitionReader) ReadPartition(ctx context.Context, i int64) ([]model.TaggedDocument, error) {
	if i < 0 {
		return nil, errors.New(errors.CodeEntryNotFound, "negative partition index").
			WithContext("partition", i)
	}

	ctx, span := telemetry.StartSpan(ctx, "run.ReadPartition",
		trace.WithAttributes(
			attribute.String("run.uid", r.runUID),
			attribute.Int64("partition", i),
		))
	defer span.End()

	meta, err := r.index.Load(ctx, r.runUID)
	if err != nil {
		return nil, err
	}
	for _, d := range meta.Descriptors {
		r.filler.RegisterDescriptor(d)
	}

	size := r.index.PartitionSize()
	lo := i * size
	hi := (i + 1) * size
	offset := meta.Offset()

	var payload []model.TaggedDocument

	// Leading slice: the start document then the descriptors, in that
	// fixed order, clipped to [lo, hi).
	if lo < offset {
		for pos := lo; pos < hi && pos < offset; pos++ {
			if pos == 0 {
				payload = append(payload, model.TaggedDocument{Kind: model.KindStart, Doc: meta.Start})
			} else {
				payload = append(payload, model.TaggedDocument{Kind: model.KindDescriptor, Doc: meta.Descriptors[pos-1]})
			}
		}
	}

	skip := lo - offset
	if skip < 0 {
		skip = 0
	}
	limit := (hi - lo) - int64(len(payload))
	if limit > 0 {
		cur, err := r.store.Events(ctx, meta.DescriptorUIDs(), skip, limit)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)

		var fetched int64
		for cur.Next(ctx) {
			event, err := r.filler.Fill(ctx, cur.Event())
			if err != nil {
				return nil, err
			}
			payload = append(payload, model.TaggedDocument{Kind: model.KindEvent, Doc: event})
			fetched++
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.ContextCanceled("read partition")
		}
		telemetry.Global().AddEventsFetched(fetched)
	}

	if i == meta.PartitionCount-1 && meta.Stop != nil {
		payload = append(payload, model.TaggedDocument{Kind: model.KindStop, Doc: *meta.Stop})
	}

	telemetry.Global().AddPartitionRead()
	telemetry.Global().AddDocumentsEmitted(int64(len(payload)))
	return payload, nil
}
