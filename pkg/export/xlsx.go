package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/runstream/runstream/pkg/dataset"
	"github.com/runstream/runstream/pkg/errors"
)

// XLSXExporter writes datasets to Excel workbooks, one sheet per export.
type XLSXExporter struct{}

// NewXLSXExporter creates an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Export writes one materialized stream to an XLSX file. The sheet is
// named after the stream; row 1 is the header.
func (e *XLSXExporter) Export(ctx context.Context, ds *dataset.Dataset, stream string, opts Options) (*Result, error) {
	start := time.Now()

	outputPath := opts.outputPath(ds.Start().UID, stream, "xlsx")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to create output directory")
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := stream
	if sheet == "" {
		sheet = "data"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to name sheet")
	}

	cols := header(ds)
	headerRow := make([]interface{}, len(cols))
	for i, c := range cols {
		headerRow[i] = c
	}
	if err := setRow(f, sheet, 1, headerRow); err != nil {
		return nil, err
	}

	total := ds.Len()
	done := 0
	pager := dataset.Paginate(ds, opts.pageSize())
	for {
		page, ok, err := pager.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for i := 0; i < page.Len(); i++ {
			row := make([]interface{}, 0, len(cols))
			row = append(row, page.Time[i], page.SeqNum[i], page.UID[i])
			for _, key := range ds.Keys() {
				row = append(row, page.Data[key][i])
			}
			// Row 1 is the header, data starts at row 2.
			if err := setRow(f, sheet, done+i+2, row); err != nil {
				return nil, err
			}
		}
		done += page.Len()
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.ContextCanceled("export xlsx")
		}
	}

	if err := f.SaveAs(outputPath); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to save workbook").
			WithContext("path", outputPath)
	}

	return &Result{
		OutputPath: outputPath,
		Rows:       done,
		Columns:    len(cols),
		Duration:   time.Since(start),
	}, nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return errors.Wrap(err, errors.CodeExportFailed, "bad cell coordinates")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrap(err, errors.CodeExportFailed, fmt.Sprintf("failed to write row %d", row))
	}
	return nil
}
