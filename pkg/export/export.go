// Package export writes materialized stream datasets out as Parquet or
// XLSX files.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"

	"github.com/runstream/runstream/pkg/dataset"
)

// Options for customizing an export (all optional).
type Options struct {
	Dir         string // defaults to the working directory
	OutputPath  string // auto-generated from run uid and stream if empty
	Compression string // snappy | zstd | gzip | none (parquet only, default snappy)
	PageSize    int    // rows per write batch, default 1000

	// Progress, if set, is called after each written batch with the
	// number of rows done and the total.
	Progress func(done, total int)
}

// Result summarizes one export.
type Result struct {
	OutputPath string
	Rows       int
	Columns    int
	Duration   time.Duration
}

func (o Options) pageSize() int {
	if o.PageSize <= 0 {
		return 1000
	}
	return o.PageSize
}

func (o Options) compression() string {
	if o.Compression == "" {
		return "snappy"
	}
	return o.Compression
}

func (o Options) outputPath(runUID, stream, ext string) string {
	if o.OutputPath != "" {
		return o.OutputPath
	}
	name := fmt.Sprintf("%s_%s.%s", shortUID(runUID), stream, ext)
	return filepath.Join(o.Dir, name)
}

func shortUID(uid string) string {
	if i := strings.IndexByte(uid, '-'); i > 0 {
		return uid[:i]
	}
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}

// header returns the exported column names: the coordinate axes first,
// then the data keys in dataset order.
func header(ds *dataset.Dataset) []string {
	cols := []string{"time", "seq_num", "uid"}
	return append(cols, ds.Keys()...)
}

// sqlType maps a dataset column to a DuckDB type.
func sqlType(arr arrow.Array) string {
	switch arr.(type) {
	case *array.Float64:
		return "DOUBLE"
	case *array.Int64:
		return "BIGINT"
	case *array.Boolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// quoteIdent quotes a column name for DuckDB; data keys are arbitrary
// user strings.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
