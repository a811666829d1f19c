package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/dataset"
)

func buildDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	descriptors := []model.Descriptor{{
		UID:  "d1",
		Name: "primary",
		DataKeys: map[string]model.DataKey{
			"motor": {Dtype: "number"},
			"det":   {Dtype: "number"},
		},
	}}
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{
			UID:    "ev-" + string(rune('a'+i)),
			Time:   1e9 + float64(i),
			SeqNum: int64(i + 1),
			Data: map[string]interface{}{
				"motor": float64(i),
				"det":   float64(i) * 2,
			},
		}
	}
	ds, err := dataset.FromDocuments(
		model.RunStart{UID: "abc123-def", Time: 1e9}, nil, descriptors, events, nil, nil)
	if err != nil {
		t.Fatalf("FromDocuments: %v", err)
	}
	t.Cleanup(ds.Release)
	return ds
}

func TestXLSXExport(t *testing.T) {
	ds := buildDataset(t, 7)
	dir := t.TempDir()

	var lastDone, lastTotal int
	res, err := NewXLSXExporter().Export(context.Background(), ds, "primary", Options{
		Dir:      dir,
		PageSize: 3,
		Progress: func(done, total int) { lastDone, lastTotal = done, total },
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Rows != 7 || res.Columns != 5 {
		t.Errorf("result = %d rows, %d cols", res.Rows, res.Columns)
	}
	if lastDone != 7 || lastTotal != 7 {
		t.Errorf("progress ended at %d/%d", lastDone, lastTotal)
	}
	if res.OutputPath != filepath.Join(dir, "abc123_primary.xlsx") {
		t.Errorf("output path = %s", res.OutputPath)
	}

	f, err := excelize.OpenFile(res.OutputPath)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("primary")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 8 { // header + 7 data rows
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0][0] != "time" || rows[0][3] != "det" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][2] != "ev-a" {
		t.Errorf("first data row = %v", rows[1])
	}
}

func TestOutputPathOverride(t *testing.T) {
	opts := Options{OutputPath: "/tmp/custom.parquet"}
	if got := opts.outputPath("uid", "primary", "parquet"); got != "/tmp/custom.parquet" {
		t.Errorf("outputPath = %s", got)
	}
}
