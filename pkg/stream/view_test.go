package stream

import (
	"context"
	"reflect"
	"testing"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/internal/rungen"
	"github.com/runstream/runstream/pkg/filler"
	"github.com/runstream/runstream/pkg/store"
)

func newView(t *testing.T, s *store.MemoryStore, runUID, name string) *View {
	t.Helper()
	ctx := context.Background()

	start, err := s.GetRunStart(ctx, runUID)
	if err != nil {
		t.Fatalf("GetRunStart: %v", err)
	}
	all, err := s.GetDescriptors(ctx, runUID)
	if err != nil {
		t.Fatalf("GetDescriptors: %v", err)
	}
	var descriptors []model.Descriptor
	for _, d := range all {
		if d.Name == name {
			descriptors = append(descriptors, d)
		}
	}

	v, err := NewView(s, filler.New(s), start, descriptors, nil, nil)
	if err != nil {
		t.Fatalf("NewView: %v", err)
	}
	return v
}

func TestDatasetMemoized(t *testing.T) {
	s := store.NewMemoryStore()
	uid := rungen.Generate(s, rungen.Options{
		ScanID:  1,
		Streams: []rungen.StreamSpec{{Name: "primary", Events: 30}},
	})
	v := newView(t, s, uid, "primary")
	defer v.Close()

	ctx := context.Background()
	first, err := v.Dataset(ctx)
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if first.Len() != 30 {
		t.Fatalf("Len = %d, want 30", first.Len())
	}

	second, err := v.Dataset(ctx)
	if err != nil {
		t.Fatalf("Dataset (memoized): %v", err)
	}
	if first != second {
		t.Error("second Dataset call did not return the memoized dataset")
	}
}

func TestCloseThenRematerialize(t *testing.T) {
	s := store.NewMemoryStore()
	uid := rungen.Generate(s, rungen.Options{
		ScanID:  1,
		Streams: []rungen.StreamSpec{{Name: "primary", Events: 10}},
	})
	v := newView(t, s, uid, "primary")

	ctx := context.Background()
	first, err := v.Dataset(ctx)
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	v.Close()

	second, err := v.Dataset(ctx)
	if err != nil {
		t.Fatalf("Dataset after Close: %v", err)
	}
	defer v.Close()
	if first == second {
		t.Error("Close did not drop the memoized dataset")
	}
	if _, err := second.Time(); err != nil {
		t.Errorf("rematerialized dataset unreadable: %v", err)
	}
}

// Paging the materialized stream reproduces the event sequence exactly:
// same uids, same seq_nums, same order, nothing dropped or duplicated.
func TestPagesRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	uid := rungen.Generate(s, rungen.Options{
		ScanID:  1,
		Streams: []rungen.StreamSpec{{Name: "primary", Events: 53}},
	})
	v := newView(t, s, uid, "primary")
	defer v.Close()

	ctx := context.Background()
	cur, err := s.Events(ctx, descriptorUIDs(t, s, uid, "primary"), 0, -1)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var wantUIDs []string
	var wantSeqs []int64
	for cur.Next(ctx) {
		wantUIDs = append(wantUIDs, cur.Event().UID)
		wantSeqs = append(wantSeqs, cur.Event().SeqNum)
	}
	cur.Close(ctx)

	for _, pageSize := range []int{1, 10, 53, 100} {
		pager, err := v.Pages(ctx, pageSize)
		if err != nil {
			t.Fatalf("Pages(%d): %v", pageSize, err)
		}
		var gotUIDs []string
		var gotSeqs []int64
		for {
			page, ok, err := pager.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				break
			}
			gotUIDs = append(gotUIDs, page.UID...)
			gotSeqs = append(gotSeqs, page.SeqNum...)
		}
		if !reflect.DeepEqual(gotUIDs, wantUIDs) {
			t.Errorf("pageSize %d: uids diverged from event sequence", pageSize)
		}
		if !reflect.DeepEqual(gotSeqs, wantSeqs) {
			t.Errorf("pageSize %d: seq_nums diverged from event sequence", pageSize)
		}
	}
}

// Materializing a stream with external keys resolves every placeholder
// through the filler before folding events into arrays.
func TestDatasetFillsExternalKeys(t *testing.T) {
	s := store.NewMemoryStore()
	uid := rungen.Generate(s, rungen.Options{
		ScanID: 1,
		Streams: []rungen.StreamSpec{{
			Name:              "primary",
			Events:            20,
			External:          true,
			EventsPerResource: 8,
		}},
	})
	v := newView(t, s, uid, "primary")
	defer v.Close()

	ds, err := v.Dataset(context.Background())
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	vals, err := ds.Values("image", 0, ds.Len())
	if err != nil {
		t.Fatalf("Values(image): %v", err)
	}
	for i, val := range vals {
		if _, ok := val.(string); !ok || val == "" {
			t.Fatalf("image[%d] = %#v, want resolved reference JSON", i, val)
		}
	}
}

func TestNewViewValidation(t *testing.T) {
	s := store.NewMemoryStore()
	f := filler.New(s)
	start := model.RunStart{UID: "run-1"}

	if _, err := NewView(s, f, start, nil, nil, nil); err == nil {
		t.Error("expected error for empty descriptor set")
	}

	mixed := []model.Descriptor{
		{UID: "d1", Name: "primary"},
		{UID: "d2", Name: "baseline"},
	}
	if _, err := NewView(s, f, start, mixed, nil, nil); err == nil {
		t.Error("expected error for descriptors spanning streams")
	}
}

func descriptorUIDs(t *testing.T, s store.Store, runUID, name string) []string {
	t.Helper()
	all, err := s.GetDescriptors(context.Background(), runUID)
	if err != nil {
		t.Fatalf("GetDescriptors: %v", err)
	}
	var uids []string
	for _, d := range all {
		if d.Name == name {
			uids = append(uids, d.UID)
		}
	}
	return uids
}
