// Package cache provides pluggable caching of immutable run metadata:
// start documents, and stop documents of closed runs. Event counts are
// never cached because an open run's count grows between index loads.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/runstream/runstream/internal/model"
)

// Entry holds the cacheable slice of one run's metadata.
type Entry struct {
	Start model.RunStart `json:"start"`
	// Stop is only present for closed runs. An absent stop must be
	// re-queried every time, so it is never cached as "absent".
	Stop *model.RunStop `json:"stop,omitempty"`
}

// Backend defines the interface for run-metadata cache backends.
// Implementations can keep entries in process memory or in Redis.
type Backend interface {
	// Get retrieves an entry by run uid. The bool reports presence.
	Get(ctx context.Context, uid string) (*Entry, bool, error)

	// Put stores an entry.
	Put(ctx context.Context, uid string, e *Entry) error

	// Delete removes an entry.
	Delete(ctx context.Context, uid string) error

	// Name returns the backend name for logging/debugging.
	Name() string
}

// MemoryBackend keeps entries in process memory with an optional TTL.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
}

type memEntry struct {
	entry   *Entry
	expires time.Time
}

// NewMemoryBackend creates an in-process backend. ttl of zero disables
// expiration.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memEntry),
		ttl:     ttl,
	}
}

func (b *MemoryBackend) Get(ctx context.Context, uid string) (*Entry, bool, error) {
	b.mu.RLock()
	me, ok := b.entries[uid]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !me.expires.IsZero() && time.Now().After(me.expires) {
		b.mu.Lock()
		delete(b.entries, uid)
		b.mu.Unlock()
		return nil, false, nil
	}
	return me.entry, true, nil
}

func (b *MemoryBackend) Put(ctx context.Context, uid string, e *Entry) error {
	var expires time.Time
	if b.ttl > 0 {
		expires = time.Now().Add(b.ttl)
	}
	b.mu.Lock()
	b.entries[uid] = memEntry{entry: e, expires: expires}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, uid string) error {
	b.mu.Lock()
	delete(b.entries, uid)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Name() string { return "memory" }

// Nop is a backend that caches nothing.
type Nop struct{}

func (Nop) Get(ctx context.Context, uid string) (*Entry, bool, error) { return nil, false, nil }
func (Nop) Put(ctx context.Context, uid string, e *Entry) error       { return nil }
func (Nop) Delete(ctx context.Context, uid string) error              { return nil }
func (Nop) Name() string                                              { return "nop" }
