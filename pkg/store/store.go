// Package store provides ordered-cursor access to the document collections
// backing experiment runs. Implementations must yield documents in a stable
// total order (time ascending unless stated otherwise) and support
// skip/limit composition, but need not offer transactional guarantees
// across calls.
package store

import (
	"context"

	"github.com/runstream/runstream/internal/model"
)

// EventCursor iterates events in time-ascending order.
type EventCursor interface {
	// Next advances the cursor. It returns false at the end of the
	// result set or on error; check Err afterwards.
	Next(ctx context.Context) bool

	// Event returns the document at the current position.
	Event() model.Event

	// Err returns the first error encountered during iteration.
	Err() error

	// Close releases the cursor.
	Close(ctx context.Context) error
}

// DatumCursor iterates the datum records belonging to one resource.
type DatumCursor interface {
	Next(ctx context.Context) bool
	Datum() model.Datum
	Err() error
	Close(ctx context.Context) error
}

// RunCursor iterates run start documents, most recent first.
type RunCursor interface {
	Next(ctx context.Context) bool
	RunStart() model.RunStart
	Err() error
	Close(ctx context.Context) error
}

// Query narrows a run listing. Fields combine with AND; zero values are
// ignored. Raw passes a backend-specific filter through unchanged.
type Query struct {
	ScanID int64
	UID    string
	Raw    map[string]interface{}
}

// Store is the ordered-cursor provider for one metadatastore plus one
// asset registry.
type Store interface {
	// GetRunStart fetches a start document by run uid. Returns a
	// CodeRunNotFound error when absent.
	GetRunStart(ctx context.Context, uid string) (model.RunStart, error)

	// GetRunStop fetches the stop document keyed by run_start = uid.
	// An open run legitimately has none: (nil, nil).
	GetRunStop(ctx context.Context, runUID string) (*model.RunStop, error)

	// GetDescriptors fetches a run's descriptors sorted by ascending time.
	GetDescriptors(ctx context.Context, runUID string) ([]model.Descriptor, error)

	// Events opens a time-ascending cursor over the union of the given
	// descriptor uids, skipping skip documents and yielding at most
	// limit (limit < 0 means unbounded).
	Events(ctx context.Context, descriptorUIDs []string, skip, limit int64) (EventCursor, error)

	// CountEvents counts events across the given descriptor uids.
	CountEvents(ctx context.Context, descriptorUIDs []string) (int64, error)

	// GetResource fetches a resource by uid.
	GetResource(ctx context.Context, uid string) (model.Resource, error)

	// GetDatum fetches a datum by datum_id.
	GetDatum(ctx context.Context, datumID string) (model.Datum, error)

	// Datums opens a cursor over all datum records owned by a resource.
	Datums(ctx context.Context, resourceUID string) (DatumCursor, error)

	// Runs opens a cursor over run starts matching the query, sorted by
	// descending time (most recent first).
	Runs(ctx context.Context, q Query) (RunCursor, error)

	// Close releases backend connections.
	Close(ctx context.Context) error
}
