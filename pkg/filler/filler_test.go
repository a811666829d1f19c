package filler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/store"
)

const testDescriptorUID = "desc-1"

// Any store backend must be usable as the filler's asset store directly.
var _ AssetStore = store.Store(nil)
var _ AssetStore = (*store.MemoryStore)(nil)

// fixture builds a store holding one resource with n datum records, plus
// a descriptor with one external key.
func fixture(t *testing.T, resourceUID string, n int) (*store.MemoryStore, *Filler) {
	t.Helper()
	s := store.NewMemoryStore()
	s.AddResource(model.Resource{
		UID:          resourceUID,
		Spec:         "AD_HDF5",
		Root:         "/data",
		ResourcePath: "scan.h5",
	})
	for i := 0; i < n; i++ {
		s.AddDatum(model.Datum{
			DatumID:     fmt.Sprintf("%s/%d", resourceUID, i),
			Resource:    resourceUID,
			DatumKwargs: map[string]interface{}{"point_number": i},
		})
	}

	f := New(s)
	f.RegisterDescriptor(model.Descriptor{
		UID:  testDescriptorUID,
		Name: "primary",
		DataKeys: map[string]model.DataKey{
			"det":   {Dtype: "number"},
			"image": {Dtype: "array", External: "FILESTORE:"},
		},
	})
	return s, f
}

func event(datumID string) model.Event {
	return model.Event{
		UID:        "ev-" + datumID,
		Descriptor: testDescriptorUID,
		Time:       1e9,
		SeqNum:     1,
		Data: map[string]interface{}{
			"det":   3.5,
			"image": datumID,
		},
		Timestamps: map[string]float64{"det": 1e9, "image": 1e9},
	}
}

// A first miss pays exactly one datum fetch, one resource fetch and one
// batch cursor; the prefetch then caches every datum of the resource so
// later events backed by it resolve without any fetch.
func TestFillMissThenBatchPrefetch(t *testing.T) {
	s, f := fixture(t, "R1", 40)
	ctx := context.Background()

	filled, err := f.Fill(ctx, event("R1/0"))
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	ref, ok := filled.Data["image"].(model.DatumRef)
	if !ok {
		t.Fatalf("image = %T, want model.DatumRef", filled.Data["image"])
	}
	if ref.Resource.UID != "R1" || ref.DatumID != "R1/0" {
		t.Errorf("resolved ref = %+v", ref)
	}
	if !filled.Filled["image"] {
		t.Error("Filled[image] not set")
	}
	if filled.Data["det"] != 3.5 {
		t.Error("inline value disturbed")
	}

	if s.DatumFetches != 1 || s.ResourceFetches != 1 || s.DatumCursors != 1 {
		t.Errorf("fetches = (datum %d, resource %d, cursor %d), want (1, 1, 1)",
			s.DatumFetches, s.ResourceFetches, s.DatumCursors)
	}

	// Every sibling datum is now cached: no further fetches.
	for i := 1; i < 40; i++ {
		if _, err := f.Fill(ctx, event(fmt.Sprintf("R1/%d", i))); err != nil {
			t.Fatalf("Fill(R1/%d): %v", i, err)
		}
	}
	if s.DatumFetches != 1 || s.ResourceFetches != 1 || s.DatumCursors != 1 {
		t.Errorf("subsequent fills fetched: (datum %d, resource %d, cursor %d)",
			s.DatumFetches, s.ResourceFetches, s.DatumCursors)
	}

	stats := f.Stats()
	if stats.Prefetches != 1 {
		t.Errorf("Prefetches = %d, want 1", stats.Prefetches)
	}
}

// The input event must not be mutated; resolution rewrites a copy.
func TestFillDoesNotMutateInput(t *testing.T) {
	_, f := fixture(t, "R1", 1)
	in := event("R1/0")

	if _, err := f.Fill(context.Background(), in); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if _, ok := in.Data["image"].(string); !ok {
		t.Error("input event's placeholder was overwritten")
	}
	if in.Filled["image"] {
		t.Error("input event's Filled map was written")
	}
}

// Two unresolved keys owned by different resources trigger independent
// prefetches within one Fill call.
func TestFillTwoResourcesOneEvent(t *testing.T) {
	s, f := fixture(t, "R1", 2)
	s.AddResource(model.Resource{UID: "R2", Spec: "AD_TIFF", Root: "/data", ResourcePath: "other.tiff"})
	s.AddDatum(model.Datum{DatumID: "R2/0", Resource: "R2"})

	f.RegisterDescriptor(model.Descriptor{
		UID:  "desc-2",
		Name: "primary",
		DataKeys: map[string]model.DataKey{
			"image": {Dtype: "array", External: "FILESTORE:"},
			"mask":  {Dtype: "array", External: "FILESTORE:"},
		},
	})
	ev := model.Event{
		UID:        "ev-two",
		Descriptor: "desc-2",
		Time:       1e9,
		SeqNum:     1,
		Data:       map[string]interface{}{"image": "R1/0", "mask": "R2/0"},
		Timestamps: map[string]float64{"image": 1e9, "mask": 1e9},
	}

	filled, err := f.Fill(context.Background(), ev)
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if _, ok := filled.Data["image"].(model.DatumRef); !ok {
		t.Error("image unresolved")
	}
	if _, ok := filled.Data["mask"].(model.DatumRef); !ok {
		t.Error("mask unresolved")
	}
	if f.Stats().Prefetches != 2 {
		t.Errorf("Prefetches = %d, want 2", f.Stats().Prefetches)
	}
}

// A datum id that the asset registry does not know is a fatal integrity
// error, not a retry loop.
func TestFillUnknownDatumFatal(t *testing.T) {
	_, f := fixture(t, "R1", 1)

	_, err := f.Fill(context.Background(), event("ghost"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsCode(err, errors.CodeResourceIntegrity) {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.CodeResourceIntegrity)
	}
	if key, ok := errors.Key(err); !ok || key != "ghost" {
		t.Errorf("Key(err) = %q, %v", key, ok)
	}
}

// Concurrent misses for the same resource coalesce; all fills succeed
// and the cache ends up fully populated.
func TestFillConcurrent(t *testing.T) {
	_, f := fixture(t, "R1", 64)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.Fill(ctx, event(fmt.Sprintf("R1/%d", i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Fill: %v", err)
	}

	if _, ok := f.Resource("R1"); !ok {
		t.Error("resource not cached after concurrent fills")
	}
}

// An event whose descriptor was never registered cannot be filled.
func TestFillUnknownDescriptor(t *testing.T) {
	_, f := fixture(t, "R1", 1)
	ev := event("R1/0")
	ev.Descriptor = "unregistered"

	if _, err := f.Fill(context.Background(), ev); err == nil {
		t.Fatal("expected error for unregistered descriptor")
	}
}
