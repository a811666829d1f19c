// Package filler resolves datum placeholders embedded in event documents
// into concrete external-data references. Resolution is resource-grained:
// the first miss for a datum id pays one datum fetch, one resource fetch
// and one batch prefetch of every datum belonging to that resource, after
// which events backed by the same resource resolve from cache.
package filler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/store"
	"github.com/runstream/runstream/pkg/telemetry"
)

// AssetStore is the slice of the document store the filler needs. Any
// store.Store satisfies it.
type AssetStore interface {
	GetResource(ctx context.Context, uid string) (model.Resource, error)
	GetDatum(ctx context.Context, datumID string) (model.Datum, error)
	Datums(ctx context.Context, resourceUID string) (store.DatumCursor, error)
}

// Filler owns the per-run resource/datum cache. The cache never evicts
// within a run and is never shared across runs; its lifetime is the
// Filler instance's lifetime.
type Filler struct {
	store AssetStore

	mu          sync.RWMutex
	descriptors map[string]model.Descriptor // by descriptor uid
	datums      map[string]model.Datum      // by datum id
	resources   map[string]model.Resource   // by resource uid

	// Concurrent misses for the same resource coalesce into one
	// fetch-then-populate pass.
	prefetching singleflight.Group

	hits       atomic.Int64
	misses     atomic.Int64
	prefetches atomic.Int64
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits       int64
	Misses     int64
	Prefetches int64
}

// New creates a Filler backed by the given asset store.
func New(s AssetStore) *Filler {
	return &Filler{
		store:       s,
		descriptors: make(map[string]model.Descriptor),
		datums:      make(map[string]model.Datum),
		resources:   make(map[string]model.Resource),
	}
}

// RegisterDescriptor teaches the filler which data keys of a stream hold
// external references. Events arriving before their descriptor is
// registered cannot be filled.
func (f *Filler) RegisterDescriptor(d model.Descriptor) {
	f.mu.Lock()
	f.descriptors[d.UID] = d
	f.mu.Unlock()
}

// RegisterResource seeds the resource cache directly.
func (f *Filler) RegisterResource(r model.Resource) {
	f.mu.Lock()
	f.resources[r.UID] = r
	f.mu.Unlock()
}

// RegisterDatum seeds the datum cache directly.
func (f *Filler) RegisterDatum(d model.Datum) {
	f.mu.Lock()
	f.datums[d.DatumID] = d
	f.mu.Unlock()
}

// Resource returns a cached resource document.
func (f *Filler) Resource(uid string) (model.Resource, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.resources[uid]
	return r, ok
}

// Stats returns a snapshot of cache activity.
func (f *Filler) Stats() Stats {
	return Stats{
		Hits:       f.hits.Load(),
		Misses:     f.misses.Load(),
		Prefetches: f.prefetches.Load(),
	}
}

// Fill returns a copy of the event with every datum placeholder replaced
// by a model.DatumRef. The input event is not mutated. A placeholder that
// misses the cache triggers one batch prefetch for its owning resource;
// if the same key misses again after its prefetch the run's asset records
// are inconsistent and the error is fatal (CodeResourceIntegrity).
func (f *Filler) Fill(ctx context.Context, event model.Event) (model.Event, error) {
	out := event.Clone()

	// One prefetch attempt per key per event. A distinct key from a
	// different resource gets its own independent prefetch.
	attempted := make(map[string]bool)
	for {
		err := f.fillFromCache(&out)
		if err == nil {
			return out, nil
		}
		datumID, ok := errors.Key(err)
		if !ok || !errors.IsCode(err, errors.CodeUnresolvableKey) {
			return model.Event{}, err
		}
		if attempted[datumID] {
			return model.Event{}, errors.ResourceIntegrity(datumID, err).
				WithContext("event", event.UID)
		}
		attempted[datumID] = true
		if err := f.prefetch(ctx, datumID); err != nil {
			return model.Event{}, err
		}
	}
}

// fillFromCache resolves from the in-memory cache only, returning a
// CodeUnresolvableKey error for the first placeholder it cannot satisfy.
func (f *Filler) fillFromCache(event *model.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	desc, ok := f.descriptors[event.Descriptor]
	if !ok {
		return errors.New(errors.CodeEntryNotFound, "descriptor not registered with filler").
			WithContext("descriptor", event.Descriptor).
			WithContext("event", event.UID)
	}

	for key, dk := range desc.DataKeys {
		if dk.External == "" || event.Filled[key] {
			continue
		}
		datumID, isPlaceholder := event.Data[key].(string)
		if !isPlaceholder {
			// Already holds an inline value or a resolved reference.
			continue
		}
		datum, ok := f.datums[datumID]
		if !ok {
			f.misses.Add(1)
			telemetry.Global().AddFillerMiss()
			return errors.UnresolvableKey(datumID)
		}
		resource, ok := f.resources[datum.Resource]
		if !ok {
			// Datum and resource are registered together; a datum
			// without its resource is an integrity failure.
			return errors.ResourceIntegrity(datumID, nil).
				WithContext("resource", datum.Resource)
		}
		event.Data[key] = model.DatumRef{
			DatumID:     datumID,
			Resource:    resource,
			DatumKwargs: datum.DatumKwargs,
		}
		event.Filled[key] = true
		f.hits.Add(1)
		telemetry.Global().AddFillerHit()
	}
	return nil
}

// prefetch fetches the datum behind a missed key, the resource owning it,
// and then every datum record belonging to that resource. The batch pass
// amortizes the common case where one resource backs many events.
func (f *Filler) prefetch(ctx context.Context, datumID string) error {
	datum, err := f.store.GetDatum(ctx, datumID)
	if err != nil {
		return errors.ResourceIntegrity(datumID, err)
	}

	_, err, _ = f.prefetching.Do(datum.Resource, func() (interface{}, error) {
		resource, err := f.store.GetResource(ctx, datum.Resource)
		if err != nil {
			return nil, errors.ResourceIntegrity(datumID, err).
				WithContext("resource", datum.Resource)
		}

		cur, err := f.store.Datums(ctx, datum.Resource)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)

		var siblings []model.Datum
		for cur.Next(ctx) {
			siblings = append(siblings, cur.Datum())
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.resources[resource.UID] = resource
		f.datums[datum.DatumID] = datum
		for _, d := range siblings {
			f.datums[d.DatumID] = d
		}
		f.mu.Unlock()
		f.prefetches.Add(1)
		telemetry.Global().AddFillerPrefetch()
		return nil, nil
	})
	return err
}
