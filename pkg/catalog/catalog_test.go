package catalog

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/internal/rungen"
	"github.com/runstream/runstream/pkg/cache"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/store"
)

// seedCatalog inserts three runs at increasing start times; the returned
// uids are in insertion order (oldest first).
func seedCatalog(t *testing.T) (*store.MemoryStore, []string) {
	t.Helper()
	s := store.NewMemoryStore()
	var uids []string
	for i, scan := range []int64{1, 2, 3} {
		uid := rungen.Generate(s, rungen.Options{
			ScanID:    scan,
			StartTime: 1e9 + float64(i)*1e4,
			Streams: []rungen.StreamSpec{
				{Name: "primary", Events: 10},
				{Name: "baseline", Events: 2},
			},
		})
		uids = append(uids, uid)
	}
	return s, uids
}

func collectKeys(t *testing.T, c *Catalog) []string {
	t.Helper()
	ctx := context.Background()
	cur, err := c.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	defer cur.Close(ctx)
	var keys []string
	for cur.Next(ctx) {
		keys = append(keys, cur.UID())
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("key cursor: %v", err)
	}
	return keys
}

func TestKeysMostRecentFirst(t *testing.T) {
	s, uids := seedCatalog(t)
	c := New(s)

	got := collectKeys(t, c)
	want := []string{uids[2], uids[1], uids[0]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
}

func TestGetAndContains(t *testing.T) {
	s, uids := seedCatalog(t)
	c := New(s)
	ctx := context.Background()

	r, err := c.Get(ctx, uids[1])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.UID() != uids[1] || r.Start().ScanID != 2 {
		t.Errorf("got run %s scan %d", r.UID(), r.Start().ScanID)
	}

	if _, err := c.Get(ctx, "missing"); !errors.IsCode(err, errors.CodeRunNotFound) {
		t.Errorf("Get(missing) = %v, want CodeRunNotFound", err)
	}

	ok, err := c.Contains(ctx, uids[0])
	if err != nil || !ok {
		t.Errorf("Contains(existing) = %v, %v", ok, err)
	}
	ok, err = c.Contains(ctx, "missing")
	if err != nil || ok {
		t.Errorf("Contains(missing) = %v, %v", ok, err)
	}
}

func TestGetByIndex(t *testing.T) {
	s, uids := seedCatalog(t)
	c := New(s)
	ctx := context.Background()

	tests := []struct {
		name    string
		n       int64
		wantUID string
		wantErr bool
	}{
		{"most recent", -1, uids[2], false},
		{"third from last", -3, uids[0], false},
		{"out of range", -4, "", true},
		{"by scan_id", 2, uids[1], false},
		{"missing scan_id", 99, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := c.GetByIndex(ctx, tt.n)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GetByIndex(%d) succeeded with %s", tt.n, r.UID())
				}
				return
			}
			if err != nil {
				t.Fatalf("GetByIndex(%d): %v", tt.n, err)
			}
			if r.UID() != tt.wantUID {
				t.Errorf("GetByIndex(%d) = %s, want %s", tt.n, r.UID(), tt.wantUID)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	s, uids := seedCatalog(t)
	c := New(s)

	narrowed := c.Search(store.Query{ScanID: 2})
	got := collectKeys(t, narrowed)
	if !reflect.DeepEqual(got, []string{uids[1]}) {
		t.Errorf("Search(scan_id=2) keys = %v", got)
	}

	// Queries compose: the second search ANDs onto the first.
	none := narrowed.Search(store.Query{UID: uids[0]})
	if got := collectKeys(t, none); got != nil {
		t.Errorf("contradictory search returned %v", got)
	}

	// The parent catalog is unchanged.
	if got := collectKeys(t, c); len(got) != 3 {
		t.Errorf("parent catalog narrowed to %v", got)
	}
}

func TestRunStreams(t *testing.T) {
	s, uids := seedCatalog(t)
	c := New(s)
	ctx := context.Background()

	r, err := c.Get(ctx, uids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	names, err := r.Streams(ctx)
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"primary", "baseline"}) {
		t.Errorf("Streams = %v", names)
	}

	v1, err := r.Stream(ctx, "primary")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	v2, err := r.Stream(ctx, "primary")
	if err != nil {
		t.Fatalf("Stream (memoized): %v", err)
	}
	if v1 != v2 {
		t.Error("Stream did not memoize the view")
	}

	if _, err := r.Stream(ctx, "nope"); !errors.IsCode(err, errors.CodeStreamNotFound) {
		t.Errorf("Stream(nope) = %v, want CodeStreamNotFound", err)
	}
}

func TestRunSchema(t *testing.T) {
	s := store.NewMemoryStore()
	uid := rungen.Generate(s, rungen.Options{
		ScanID: 7,
		Streams: []rungen.StreamSpec{
			{Name: "primary", Events: 103, Descriptors: 2},
			{Name: "baseline", Events: 2},
		},
	})
	c := New(s, WithPartitionSize(100))
	ctx := context.Background()

	r, err := c.Get(ctx, uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	schema, err := r.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}

	// 1 start + 3 descriptors + 105 events + 1 stop.
	if schema.VirtualCount != 110 {
		t.Errorf("VirtualCount = %d, want 110", schema.VirtualCount)
	}
	if schema.PartitionCount != 2 {
		t.Errorf("PartitionCount = %d, want 2", schema.PartitionCount)
	}
	if schema.PartitionSize != 100 {
		t.Errorf("PartitionSize = %d, want 100", schema.PartitionSize)
	}
	if schema.Stop == nil {
		t.Error("Stop missing for closed run")
	}

	primary, ok := schema.Streams["primary"]
	if !ok {
		t.Fatal("primary stream missing from schema")
	}
	if primary.Descriptors != 2 {
		t.Errorf("primary descriptors = %d, want 2", primary.Descriptors)
	}
	var vars []string
	for k := range primary.DataVars {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	if !reflect.DeepEqual(vars, []string{"det", "motor"}) {
		t.Errorf("primary data vars = %v", vars)
	}
	if !reflect.DeepEqual(primary.Coords, []string{"time", "seq_num", "uid"}) {
		t.Errorf("primary coords = %v", primary.Coords)
	}
}

// Closed-run metadata lands in the cache once Load sees the stop
// document; a later Get is served without touching the store.
func TestMetaCache(t *testing.T) {
	s, uids := seedCatalog(t)
	backend := cache.NewMemoryBackend(0)
	c := New(s, WithMetaCache(backend))
	ctx := context.Background()

	r, err := c.Get(ctx, uids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	entry, ok, err := backend.Get(ctx, uids[0])
	if err != nil || !ok {
		t.Fatalf("cache miss after Load: %v, %v", ok, err)
	}
	if entry.Start.UID != uids[0] {
		t.Errorf("cached start uid = %s", entry.Start.UID)
	}
	if entry.Stop == nil {
		t.Error("stop not cached for closed run")
	}

	// Served from cache even if the backing document vanishes.
	fresh := store.NewMemoryStore()
	c2 := New(fresh, WithMetaCache(backend))
	if _, err := c2.Get(ctx, uids[0]); err != nil {
		t.Errorf("Get from cache: %v", err)
	}
}

// Open runs never get their (absent) stop cached; Load keeps consulting
// the store so growth stays visible.
func TestMetaCacheOpenRun(t *testing.T) {
	s := store.NewMemoryStore()
	uid := rungen.Generate(s, rungen.Options{
		ScanID:  1,
		Open:    true,
		Streams: []rungen.StreamSpec{{Name: "primary", Events: 5}},
	})
	backend := cache.NewMemoryBackend(0)
	c := New(s, WithMetaCache(backend))
	ctx := context.Background()

	r, err := c.Get(ctx, uid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	meta, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.Stop != nil {
		t.Fatal("open run has a stop")
	}

	entry, ok, _ := backend.Get(ctx, uid)
	if ok && entry.Stop != nil {
		t.Error("stop cached for open run")
	}

	// The run closes; the next Load must observe it.
	s.AddRunStop(model.RunStop{UID: "stop-x", RunStart: uid, Time: 2e9, ExitStatus: "success"})
	meta, err = r.Load(ctx)
	if err != nil {
		t.Fatalf("Load after close: %v", err)
	}
	if meta.Stop == nil {
		t.Error("stop not observed after run closed")
	}
}
