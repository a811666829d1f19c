package dataset

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
)

func testDescriptors() []model.Descriptor {
	return []model.Descriptor{{
		UID:  "desc-1",
		Name: "primary",
		DataKeys: map[string]model.DataKey{
			"motor": {Dtype: "number"},
			"det":   {Dtype: "number"},
			"label": {Dtype: "string"},
		},
	}}
}

func testEvents(n int) []model.Event {
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{
			UID:    fmt.Sprintf("ev-%d", i),
			Time:   1e9 + float64(i)*0.1,
			SeqNum: int64(i + 1),
			Data: map[string]interface{}{
				"motor": float64(i),
				"det":   float64(i) * 2,
				"label": fmt.Sprintf("point-%d", i),
			},
			Timestamps: map[string]float64{
				"motor": 1e9 + float64(i)*0.1,
				"det":   1e9 + float64(i)*0.1,
			},
		}
	}
	return events
}

func buildDataset(t *testing.T, n int, include, exclude []string) *Dataset {
	t.Helper()
	start := model.RunStart{UID: "run-1", Time: 1e9}
	stop := &model.RunStop{UID: "stop-1", Time: 2e9, ExitStatus: "success"}
	ds, err := FromDocuments(start, stop, testDescriptors(), testEvents(n), include, exclude)
	if err != nil {
		t.Fatalf("FromDocuments: %v", err)
	}
	return ds
}

func TestFromDocuments(t *testing.T) {
	ds := buildDataset(t, 10, nil, nil)
	defer ds.Release()

	if ds.Len() != 10 {
		t.Fatalf("Len = %d, want 10", ds.Len())
	}
	// No include: alphabetical key order.
	if want := []string{"det", "label", "motor"}; !reflect.DeepEqual(ds.Keys(), want) {
		t.Errorf("Keys = %v, want %v", ds.Keys(), want)
	}

	times, err := ds.Time()
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if len(times) != 10 || times[3] != 1e9+0.3 {
		t.Errorf("times[3] = %v", times[3])
	}

	seqs, err := ds.SeqNum()
	if err != nil {
		t.Fatalf("SeqNum: %v", err)
	}
	if seqs[0] != 1 || seqs[9] != 10 {
		t.Errorf("seq bounds = %d, %d", seqs[0], seqs[9])
	}

	uids, err := ds.UID()
	if err != nil {
		t.Fatalf("UID: %v", err)
	}
	if uids[5] != "ev-5" {
		t.Errorf("uids[5] = %q", uids[5])
	}

	vals, err := ds.Values("det", 2, 5)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !reflect.DeepEqual(vals, []interface{}{4.0, 6.0, 8.0}) {
		t.Errorf("det[2:5] = %v", vals)
	}

	if ds.Stop() == nil || ds.Stop().ExitStatus != "success" {
		t.Error("stop document lost")
	}
}

func TestSelectKeys(t *testing.T) {
	descriptors := testDescriptors()
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"all", nil, nil, []string{"det", "label", "motor"}},
		{"include preserves order", []string{"motor", "det"}, nil, []string{"motor", "det"}},
		{"include drops unknown", []string{"motor", "nope"}, nil, []string{"motor"}},
		{"exclude", nil, []string{"label"}, []string{"det", "motor"}},
		{"include then exclude", []string{"motor", "det"}, []string{"det"}, []string{"motor"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, _ := selectKeys(descriptors, tt.include, tt.exclude)
			if !reflect.DeepEqual(keys, tt.want) {
				t.Errorf("keys = %v, want %v", keys, tt.want)
			}
		})
	}
}

// A key redefined by a later descriptor takes the later schema.
func TestSelectKeysSchemaEvolution(t *testing.T) {
	descriptors := []model.Descriptor{
		{UID: "d1", Name: "primary", DataKeys: map[string]model.DataKey{
			"det": {Dtype: "number"},
		}},
		{UID: "d2", Name: "primary", DataKeys: map[string]model.DataKey{
			"det": {Dtype: "string"},
		}},
	}
	_, dataKeys := selectKeys(descriptors, nil, nil)
	if dataKeys["det"].Dtype != "string" {
		t.Errorf("det dtype = %q, want string", dataKeys["det"].Dtype)
	}
}

// Resolved references serialize as JSON in the external key's column.
func TestExternalColumnHoldsReference(t *testing.T) {
	descriptors := []model.Descriptor{{
		UID:  "d1",
		Name: "primary",
		DataKeys: map[string]model.DataKey{
			"image": {Dtype: "array", External: "FILESTORE:", Shape: []int64{512, 512}},
		},
	}}
	events := []model.Event{{
		UID:    "ev-0",
		Time:   1e9,
		SeqNum: 1,
		Data: map[string]interface{}{
			"image": model.DatumRef{
				DatumID:  "R1/0",
				Resource: model.Resource{UID: "R1", Spec: "AD_HDF5"},
			},
		},
		Timestamps: map[string]float64{"image": 1e9},
	}}

	ds, err := FromDocuments(model.RunStart{UID: "run-1"}, nil, descriptors, events, nil, nil)
	if err != nil {
		t.Fatalf("FromDocuments: %v", err)
	}
	defer ds.Release()

	vals, err := ds.Values("image", 0, 1)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	raw, ok := vals[0].(string)
	if !ok || raw == "" {
		t.Fatalf("image[0] = %#v, want JSON string", vals[0])
	}
}

func TestDatasetRelease(t *testing.T) {
	ds := buildDataset(t, 3, nil, nil)
	ds.Release()
	ds.Release() // idempotent

	if _, err := ds.Time(); !errors.IsCode(err, errors.CodeDatasetClosed) {
		t.Errorf("Time after Release: %v", err)
	}
	if _, err := ds.Column("det"); !errors.IsCode(err, errors.CodeDatasetClosed) {
		t.Errorf("Column after Release: %v", err)
	}
	if _, _, err := Paginate(ds, 2).Next(); !errors.IsCode(err, errors.CodeDatasetClosed) {
		t.Errorf("Next after Release: %v", err)
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		events   int
		pageSize int
		want     []int // page lengths
	}{
		{10, 4, []int{4, 4, 2}},
		{8, 4, []int{4, 4}},
		{3, 10, []int{3}},
		{0, 4, nil},
		{5, 0, []int{1, 1, 1, 1, 1}}, // pageSize clamps to 1
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_by_%d", tt.events, tt.pageSize), func(t *testing.T) {
			ds := buildDataset(t, tt.events, nil, nil)
			defer ds.Release()

			var got []int
			pager := Paginate(ds, tt.pageSize)
			for {
				page, ok, err := pager.Next()
				if err != nil {
					t.Fatalf("Next: %v", err)
				}
				if !ok {
					break
				}
				got = append(got, page.Len())
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("page lengths = %v, want %v", got, tt.want)
			}
		})
	}
}

// Pages carry a consistent slice per axis and per key, and concatenating
// them reproduces the original sequence.
func TestPageContents(t *testing.T) {
	ds := buildDataset(t, 7, nil, nil)
	defer ds.Release()

	var times []float64
	var seqs []int64
	pager := Paginate(ds, 3)
	for {
		page, ok, err := pager.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if len(page.UID) != page.Len() || len(page.SeqNum) != page.Len() {
			t.Fatalf("ragged page: %d uid, %d seq, %d time",
				len(page.UID), len(page.SeqNum), page.Len())
		}
		for _, key := range ds.Keys() {
			if len(page.Data[key]) != page.Len() {
				t.Fatalf("key %q: %d values in %d-row page", key, len(page.Data[key]), page.Len())
			}
			if len(page.Timestamps[key]) != page.Len() {
				t.Fatalf("key %q: %d timestamps in %d-row page", key, len(page.Timestamps[key]), page.Len())
			}
		}
		times = append(times, page.Time...)
		seqs = append(seqs, page.SeqNum...)
	}

	wantTimes, _ := ds.Time()
	if !reflect.DeepEqual(times, wantTimes) {
		t.Errorf("concatenated times = %v, want %v", times, wantTimes)
	}
	wantSeqs, _ := ds.SeqNum()
	if !reflect.DeepEqual(seqs, wantSeqs) {
		t.Errorf("concatenated seq_nums = %v, want %v", seqs, wantSeqs)
	}
}

// A fresh Paginate restarts from the beginning.
func TestPaginateRestartable(t *testing.T) {
	ds := buildDataset(t, 5, nil, nil)
	defer ds.Release()

	first, ok, err := Paginate(ds, 2).Next()
	if err != nil || !ok {
		t.Fatalf("first pass: %v, %v", ok, err)
	}
	second, ok, err := Paginate(ds, 2).Next()
	if err != nil || !ok {
		t.Fatalf("second pass: %v, %v", ok, err)
	}
	if !reflect.DeepEqual(first.UID, second.UID) {
		t.Errorf("restarted pager diverged: %v vs %v", first.UID, second.UID)
	}
}
