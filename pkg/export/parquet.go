package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/runstream/runstream/pkg/dataset"
	"github.com/runstream/runstream/pkg/errors"
)

// ParquetExporter writes datasets to Parquet through an embedded DuckDB
// engine: rows are staged into a table, then COPY TO handles encoding
// and compression.
type ParquetExporter struct {
	db *sql.DB
}

// NewParquetExporter opens an in-memory DuckDB engine.
func NewParquetExporter() (*ParquetExporter, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to initialize export engine")
	}
	return &ParquetExporter{db: db}, nil
}

// Close releases the engine.
func (e *ParquetExporter) Close() error {
	return e.db.Close()
}

// Export writes one materialized stream to a Parquet file.
func (e *ParquetExporter) Export(ctx context.Context, ds *dataset.Dataset, stream string, opts Options) (*Result, error) {
	start := time.Now()

	outputPath := opts.outputPath(ds.Start().UID, stream, "parquet")
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to create output directory")
	}

	cols := header(ds)
	types, err := columnTypes(ds)
	if err != nil {
		return nil, err
	}

	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = quoteIdent(col) + " " + types[i]
	}
	// One staging table per export; the engine is per-exporter.
	if _, err := e.db.ExecContext(ctx, "DROP TABLE IF EXISTS staged"); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to reset staging table")
	}
	create := fmt.Sprintf("CREATE TABLE staged (%s)", strings.Join(defs, ", "))
	if _, err := e.db.ExecContext(ctx, create); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to create staging table")
	}

	rows, err := e.stage(ctx, ds, len(cols), opts)
	if err != nil {
		return nil, err
	}

	copyQuery := fmt.Sprintf(
		"COPY (SELECT * FROM staged) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')",
		escapePath(outputPath), opts.compression(),
	)
	if _, err := e.db.ExecContext(ctx, copyQuery); err != nil {
		return nil, errors.Wrap(err, errors.CodeExportFailed, "failed to write parquet").
			WithContext("path", outputPath)
	}

	return &Result{
		OutputPath: outputPath,
		Rows:       rows,
		Columns:    len(cols),
		Duration:   time.Since(start),
	}, nil
}

// stage inserts the dataset page by page.
func (e *ParquetExporter) stage(ctx context.Context, ds *dataset.Dataset, nCols int, opts Options) (int, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeExportFailed, "failed to begin staging")
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", nCols), ", ")
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO staged VALUES ("+placeholders+")")
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeExportFailed, "failed to prepare insert")
	}
	defer stmt.Close()

	total := ds.Len()
	done := 0
	pager := dataset.Paginate(ds, opts.pageSize())
	for {
		page, ok, err := pager.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		for i := 0; i < page.Len(); i++ {
			args := make([]interface{}, 0, nCols)
			args = append(args, page.Time[i], page.SeqNum[i], page.UID[i])
			for _, key := range ds.Keys() {
				args = append(args, page.Data[key][i])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, errors.Wrap(err, errors.CodeExportFailed, "failed to stage row").
					WithContext("row", done+i)
			}
		}
		done += page.Len()
		if opts.Progress != nil {
			opts.Progress(done, total)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, errors.CodeExportFailed, "failed to commit staging")
	}
	return done, nil
}

// columnTypes returns the DuckDB type per exported column, coords first.
func columnTypes(ds *dataset.Dataset) ([]string, error) {
	types := []string{"DOUBLE", "BIGINT", "VARCHAR"}
	for _, key := range ds.Keys() {
		arr, err := ds.Column(key)
		if err != nil {
			return nil, err
		}
		types = append(types, sqlType(arr))
	}
	return types, nil
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
