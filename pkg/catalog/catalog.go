// Package catalog exposes a document store's runs as a lazily iterated,
// dict-like collection. Each entry is one run, which answers partition
// reads, per-stream array views, and a schema summary.
package catalog

import (
	"context"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/cache"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/filler"
	"github.com/runstream/runstream/pkg/run"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/stream"
)

// Catalog is a view over all runs matching a query.
type Catalog struct {
	store         store.Store
	query         store.Query
	partitionSize int64
	metaCache     cache.Backend
	include       []string
	exclude       []string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithPartitionSize sets the fixed partition size P.
func WithPartitionSize(p int64) Option {
	return func(c *Catalog) { c.partitionSize = p }
}

// WithMetaCache installs a run-metadata cache backend.
func WithMetaCache(b cache.Backend) Option {
	return func(c *Catalog) { c.metaCache = b }
}

// WithQuery narrows the catalog to runs matching q.
func WithQuery(q store.Query) Option {
	return func(c *Catalog) { c.query = q }
}

// WithInclude restricts stream datasets to exactly these data keys.
func WithInclude(keys []string) Option {
	return func(c *Catalog) { c.include = keys }
}

// WithExclude removes these data keys from stream datasets.
func WithExclude(keys []string) Option {
	return func(c *Catalog) { c.exclude = keys }
}

// New creates a catalog over the given store.
func New(s store.Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:         s,
		partitionSize: run.DefaultPartitionSize,
		metaCache:     cache.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns a narrowed catalog; the new query ANDs with the current
// one. The store and caches are shared with the parent.
func (c *Catalog) Search(q store.Query) *Catalog {
	merged := c.query
	if q.UID != "" {
		merged.UID = q.UID
	}
	if q.ScanID != 0 {
		merged.ScanID = q.ScanID
	}
	if len(q.Raw) > 0 {
		raw := make(map[string]interface{}, len(merged.Raw)+len(q.Raw))
		for k, v := range merged.Raw {
			raw[k] = v
		}
		for k, v := range q.Raw {
			raw[k] = v
		}
		merged.Raw = raw
	}
	out := *c
	out.query = merged
	return &out
}

// KeyCursor lazily iterates run uids, most recent first.
type KeyCursor struct {
	cur store.RunCursor
}

// Next advances to the next run uid.
func (k *KeyCursor) Next(ctx context.Context) bool { return k.cur.Next(ctx) }

// UID returns the uid at the current position.
func (k *KeyCursor) UID() string { return k.cur.RunStart().UID }

// Err returns the first iteration error.
func (k *KeyCursor) Err() error { return k.cur.Err() }

// Close releases the cursor.
func (k *KeyCursor) Close(ctx context.Context) error { return k.cur.Close(ctx) }

// Keys opens a lazy cursor over the uids of all matching runs.
func (c *Catalog) Keys(ctx context.Context) (*KeyCursor, error) {
	cur, err := c.store.Runs(ctx, c.query)
	if err != nil {
		return nil, err
	}
	return &KeyCursor{cur: cur}, nil
}

// Get returns the run with the given uid. The run handle shares one
// filler across all of its streams so the resource/datum cache is reused
// within the run.
func (c *Catalog) Get(ctx context.Context, uid string) (*Run, error) {
	startDoc, err := c.loadStart(ctx, uid)
	if err != nil {
		return nil, err
	}
	return c.newRun(startDoc), nil
}

// Contains reports whether a run with the given uid exists, without
// iterating the whole catalog.
func (c *Catalog) Contains(ctx context.Context, uid string) (bool, error) {
	_, err := c.loadStart(ctx, uid)
	if err != nil {
		if errors.IsCode(err, errors.CodeRunNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetByIndex is sugar over a bounded query, not random access. A negative
// n means "the Nth most recent run" and requires a bounded scan of n
// entries. A positive n means "the most recent run with scan_id == n".
func (c *Catalog) GetByIndex(ctx context.Context, n int64) (*Run, error) {
	if n < 0 {
		cur, err := c.store.Runs(ctx, c.query)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)
		var doc model.RunStart
		var found bool
		for i := int64(0); i > n; i-- {
			if !cur.Next(ctx) {
				if err := cur.Err(); err != nil {
					return nil, err
				}
				return nil, errors.New(errors.CodeEntryNotFound, "index out of range").
					WithContext("index", n)
			}
			doc = cur.RunStart()
			found = true
		}
		if !found {
			return nil, errors.New(errors.CodeEntryNotFound, "index out of range").
				WithContext("index", n)
		}
		return c.newRun(doc), nil
	}

	q := c.query
	q.ScanID = n
	cur, err := c.store.Runs(ctx, q)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New(errors.CodeEntryNotFound, "no run with scan_id").
			WithContext("scan_id", n)
	}
	return c.newRun(cur.RunStart()), nil
}

// loadStart resolves a start document through the metadata cache.
func (c *Catalog) loadStart(ctx context.Context, uid string) (model.RunStart, error) {
	if entry, ok, err := c.metaCache.Get(ctx, uid); err == nil && ok {
		return entry.Start, nil
	}
	doc, err := c.store.GetRunStart(ctx, uid)
	if err != nil {
		return model.RunStart{}, err
	}
	// Start documents are immutable; cache unconditionally. The stop is
	// added later, once the run is known to be closed.
	_ = c.metaCache.Put(ctx, uid, &cache.Entry{Start: doc})
	return doc, nil
}

func (c *Catalog) newRun(start model.RunStart) *Run {
	f := filler.New(c.store)
	ix := run.NewIndex(c.store, c.partitionSize)
	return &Run{
		catalog: c,
		start:   start,
		filler:  f,
		index:   ix,
		reader:  run.NewPartitionReader(c.store, ix, f, start.UID),
		views:   make(map[string]*stream.View),
	}
}
