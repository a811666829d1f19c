package store

import (
	"context"
	"sort"
	"sync"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
)

// MemoryStore holds run documents in memory (for tests and the demo
// catalog). Insertion order breaks ties between equal times, which keeps
// cursors stable across calls.
type MemoryStore struct {
	mu          sync.RWMutex
	starts      map[string]model.RunStart
	stops       map[string]model.RunStop // keyed by run_start uid
	descriptors []model.Descriptor
	events      []model.Event
	resources   map[string]model.Resource
	datums      []model.Datum
	datumByID   map[string]model.Datum

	// Fetch counters, read by resolver tests.
	DatumFetches    int64
	ResourceFetches int64
	DatumCursors    int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		starts:    make(map[string]model.RunStart),
		stops:     make(map[string]model.RunStop),
		resources: make(map[string]model.Resource),
		datumByID: make(map[string]model.Datum),
	}
}

// --- Write side (test setup only; the read path never inserts) ---

// AddRunStart registers a start document.
func (m *MemoryStore) AddRunStart(doc model.RunStart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts[doc.UID] = doc
}

// AddRunStop registers a stop document.
func (m *MemoryStore) AddRunStop(doc model.RunStop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops[doc.RunStart] = doc
}

// AddDescriptor registers a descriptor.
func (m *MemoryStore) AddDescriptor(doc model.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors = append(m.descriptors, doc)
}

// AddEvent registers an event.
func (m *MemoryStore) AddEvent(doc model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, doc)
}

// AddResource registers a resource.
func (m *MemoryStore) AddResource(doc model.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[doc.UID] = doc
}

// AddDatum registers a datum.
func (m *MemoryStore) AddDatum(doc model.Datum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datums = append(m.datums, doc)
	m.datumByID[doc.DatumID] = doc
}

// --- Store implementation ---

func (m *MemoryStore) GetRunStart(ctx context.Context, uid string) (model.RunStart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.starts[uid]
	if !ok {
		return model.RunStart{}, errors.RunNotFound(uid)
	}
	return doc, nil
}

func (m *MemoryStore) GetRunStop(ctx context.Context, runUID string) (*model.RunStop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.stops[runUID]
	if !ok {
		return nil, nil
	}
	out := doc
	return &out, nil
}

func (m *MemoryStore) GetDescriptors(ctx context.Context, runUID string) ([]model.Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Descriptor
	for _, d := range m.descriptors {
		if d.RunStart == runUID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *MemoryStore) selectEvents(descriptorUIDs []string) []model.Event {
	want := make(map[string]bool, len(descriptorUIDs))
	for _, uid := range descriptorUIDs {
		want[uid] = true
	}
	var out []model.Event
	for _, e := range m.events {
		if want[e.Descriptor] {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func (m *MemoryStore) Events(ctx context.Context, descriptorUIDs []string, skip, limit int64) (EventCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.selectEvents(descriptorUIDs)
	if skip > int64(len(all)) {
		skip = int64(len(all))
	}
	all = all[skip:]
	if limit >= 0 && limit < int64(len(all)) {
		all = all[:limit]
	}
	return &memEventCursor{events: all, pos: -1}, nil
}

func (m *MemoryStore) CountEvents(ctx context.Context, descriptorUIDs []string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.selectEvents(descriptorUIDs))), nil
}

func (m *MemoryStore) GetResource(ctx context.Context, uid string) (model.Resource, error) {
	m.mu.Lock()
	m.ResourceFetches++
	doc, ok := m.resources[uid]
	m.mu.Unlock()
	if !ok {
		return model.Resource{}, errors.New(errors.CodeStoreQuery, "resource not found").
			WithContext("uid", uid)
	}
	return doc, nil
}

func (m *MemoryStore) GetDatum(ctx context.Context, datumID string) (model.Datum, error) {
	m.mu.Lock()
	m.DatumFetches++
	doc, ok := m.datumByID[datumID]
	m.mu.Unlock()
	if !ok {
		return model.Datum{}, errors.New(errors.CodeStoreQuery, "datum not found").
			WithContext("datum_id", datumID)
	}
	return doc, nil
}

func (m *MemoryStore) Datums(ctx context.Context, resourceUID string) (DatumCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DatumCursors++
	var out []model.Datum
	for _, d := range m.datums {
		if d.Resource == resourceUID {
			out = append(out, d)
		}
	}
	return &memDatumCursor{datums: out, pos: -1}, nil
}

func (m *MemoryStore) Runs(ctx context.Context, q Query) (RunCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RunStart
	for _, doc := range m.starts {
		if q.UID != "" && doc.UID != q.UID {
			continue
		}
		if q.ScanID != 0 && doc.ScanID != q.ScanID {
			continue
		}
		out = append(out, doc)
	}
	// Most recent first.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time > out[j].Time })
	return &memRunCursor{runs: out, pos: -1}, nil
}

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

// --- Cursors ---

type memEventCursor struct {
	events []model.Event
	pos    int
}

func (c *memEventCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.events)
}

func (c *memEventCursor) Event() model.Event              { return c.events[c.pos] }
func (c *memEventCursor) Err() error                      { return nil }
func (c *memEventCursor) Close(ctx context.Context) error { return nil }

type memDatumCursor struct {
	datums []model.Datum
	pos    int
}

func (c *memDatumCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.datums)
}

func (c *memDatumCursor) Datum() model.Datum              { return c.datums[c.pos] }
func (c *memDatumCursor) Err() error                      { return nil }
func (c *memDatumCursor) Close(ctx context.Context) error { return nil }

type memRunCursor struct {
	runs []model.RunStart
	pos  int
}

func (c *memRunCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.runs)
}

func (c *memRunCursor) RunStart() model.RunStart        { return c.runs[c.pos] }
func (c *memRunCursor) Err() error                      { return nil }
func (c *memRunCursor) Close(ctx context.Context) error { return nil }
