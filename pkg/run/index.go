// Package run implements the document-stream partitioning engine: the
// logically ordered concatenation start, descriptor*, event*, stop is
// treated as one virtual sequence sliceable into fixed-size partitions
// without materializing the whole run.
package run

import (
	"context"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/telemetry"
)

// DefaultPartitionSize is the number of documents per partition.
const DefaultPartitionSize = 100

// Meta is the loaded metadata of one run. VirtualCount may grow between
// loads while the run is open (no stop document yet); callers must
// tolerate increasing counts across repeated loads.
type Meta struct {
	Start          model.RunStart
	Stop           *model.RunStop
	Descriptors    []model.Descriptor
	VirtualCount   int64
	PartitionCount int64
}

// Offset is the count of non-event leading documents.
func (m *Meta) Offset() int64 {
	return 1 + int64(len(m.Descriptors))
}

// DescriptorUIDs returns the uids of all descriptors, in time order.
func (m *Meta) DescriptorUIDs() []string {
	uids := make([]string, len(m.Descriptors))
	for i, d := range m.Descriptors {
		uids[i] = d.UID
	}
	return uids
}

// Streams groups descriptors by stream name. Order of names follows
// first appearance; descriptors within a name keep time order.
func (m *Meta) Streams() ([]string, map[string][]model.Descriptor) {
	var names []string
	byName := make(map[string][]model.Descriptor)
	for _, d := range m.Descriptors {
		if _, seen := byName[d.Name]; !seen {
			names = append(names, d.Name)
		}
		byName[d.Name] = append(byName[d.Name], d)
	}
	return names, byName
}

// Index loads run metadata and computes partition arithmetic. Loading is
// deliberately cheap to repeat: the event count is requeried every time
// so open runs report their growth.
type Index struct {
	store         store.Store
	partitionSize int64
}

// NewIndex creates an index over the given store. A partitionSize of
// zero or less selects DefaultPartitionSize.
func NewIndex(s store.Store, partitionSize int64) *Index {
	if partitionSize <= 0 {
		partitionSize = DefaultPartitionSize
	}
	return &Index{store: s, partitionSize: partitionSize}
}

// PartitionSize returns the fixed partition size P.
func (ix *Index) PartitionSize() int64 { return ix.partitionSize }

// Load fetches a run's start, stop and descriptors and counts its
// virtual documents. Returns a CodeRunNotFound error when the start
// document cannot be located. A missing stop document is not an error:
// the run is still open.
func (ix *Index) Load(ctx context.Context, uid string) (*Meta, error) {
	ctx, span := telemetry.StartSpan(ctx, "run.Index.Load")
	defer span.End()

	start, err := ix.store.GetRunStart(ctx, uid)
	if err != nil {
		return nil, err
	}

	stop, err := ix.store.GetRunStop(ctx, uid)
	if err != nil {
		return nil, err
	}

	descriptors, err := ix.store.GetDescriptors(ctx, uid)
	if err != nil {
		return nil, err
	}

	meta := &Meta{
		Start:       start,
		Stop:        stop,
		Descriptors: descriptors,
	}

	eventCount, err := ix.store.CountEvents(ctx, meta.DescriptorUIDs())
	if err != nil {
		return nil, err
	}

	meta.VirtualCount = meta.Offset() + eventCount
	if stop != nil {
		meta.VirtualCount++
	}
	meta.PartitionCount = (meta.VirtualCount + ix.partitionSize - 1) / ix.partitionSize
	return meta, nil
}
