// Package dataset folds an ordered, resolved event sequence into an
// array-oriented view: each data key becomes a named Arrow array
// dimensioned by a monotonic time axis, with seq_num and uid as parallel
// per-event arrays.
package dataset

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
)

// Dataset is the materialized array view of one stream's events.
// Release must be called to free the backing Arrow memory; a released
// dataset rejects all reads.
type Dataset struct {
	start model.RunStart
	stop  *model.RunStop

	keys       []string
	data       map[string]arrow.Array
	timestamps map[string]arrow.Array

	time   arrow.Array
	seqNum arrow.Array
	uid    arrow.Array

	length int
	closed bool
}

// FromDocuments builds a Dataset from an ordered event sequence plus the
// run's start/stop metadata. Events must already have their foreign
// references resolved.
//
// include and exclude filter the data keys: a non-empty include restricts
// output to exactly those keys; exclude removes keys from an otherwise
// full output. Both default to no filtering.
func FromDocuments(start model.RunStart, stop *model.RunStop, descriptors []model.Descriptor,
	events []model.Event, include, exclude []string) (*Dataset, error) {

	keys, dataKeys := selectKeys(descriptors, include, exclude)

	alloc := memory.NewGoAllocator()

	timeB := array.NewFloat64Builder(alloc)
	defer timeB.Release()
	seqB := array.NewInt64Builder(alloc)
	defer seqB.Release()
	uidB := array.NewStringBuilder(alloc)
	defer uidB.Release()

	dataB := make(map[string]columnBuilder, len(keys))
	tsB := make(map[string]*array.Float64Builder, len(keys))
	for _, key := range keys {
		dataB[key] = newColumnBuilder(alloc, dataKeys[key])
		tsB[key] = array.NewFloat64Builder(alloc)
	}
	defer func() {
		for _, b := range dataB {
			b.Release()
		}
		for _, b := range tsB {
			b.Release()
		}
	}()

	for _, ev := range events {
		timeB.Append(ev.Time)
		seqB.Append(ev.SeqNum)
		uidB.Append(ev.UID)
		for _, key := range keys {
			if err := dataB[key].Append(ev.Data[key]); err != nil {
				return nil, errors.Wrapf(err, errors.CodeStoreQuery,
					"event %s key %q", ev.UID, key)
			}
			if ts, ok := ev.Timestamps[key]; ok {
				tsB[key].Append(ts)
			} else {
				tsB[key].AppendNull()
			}
		}
	}

	ds := &Dataset{
		start:      start,
		stop:       stop,
		keys:       keys,
		data:       make(map[string]arrow.Array, len(keys)),
		timestamps: make(map[string]arrow.Array, len(keys)),
		time:       timeB.NewArray(),
		seqNum:     seqB.NewArray(),
		uid:        uidB.NewArray(),
		length:     len(events),
	}
	for _, key := range keys {
		ds.data[key] = dataB[key].NewArray()
		ds.timestamps[key] = tsB[key].NewArray()
	}
	return ds, nil
}

// selectKeys computes the ordered key set from the descriptors' schemas,
// honoring include/exclude. Later descriptors override earlier ones when
// a schema evolved mid-run.
func selectKeys(descriptors []model.Descriptor, include, exclude []string) ([]string, map[string]model.DataKey) {
	dataKeys := make(map[string]model.DataKey)
	for _, d := range descriptors {
		for k, dk := range d.DataKeys {
			dataKeys[k] = dk
		}
	}

	var keys []string
	if len(include) > 0 {
		for _, k := range include {
			if _, ok := dataKeys[k]; ok {
				keys = append(keys, k)
			}
		}
	} else {
		for k := range dataKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	if len(exclude) > 0 {
		drop := make(map[string]bool, len(exclude))
		for _, k := range exclude {
			drop[k] = true
		}
		kept := keys[:0]
		for _, k := range keys {
			if !drop[k] {
				kept = append(kept, k)
			}
		}
		keys = kept
	}
	return keys, dataKeys
}

// Len returns the number of events along the time axis.
func (ds *Dataset) Len() int { return ds.length }

// Keys returns the data keys present in the dataset, in column order.
func (ds *Dataset) Keys() []string { return ds.keys }

// Start returns the run's start document.
func (ds *Dataset) Start() model.RunStart { return ds.start }

// Stop returns the run's stop document, or nil for an open run.
func (ds *Dataset) Stop() *model.RunStop { return ds.stop }

// Time returns the time axis.
func (ds *Dataset) Time() ([]float64, error) {
	if ds.closed {
		return nil, errors.New(errors.CodeDatasetClosed, "dataset released")
	}
	return ds.time.(*array.Float64).Float64Values(), nil
}

// SeqNum returns the per-event sequence numbers.
func (ds *Dataset) SeqNum() ([]int64, error) {
	if ds.closed {
		return nil, errors.New(errors.CodeDatasetClosed, "dataset released")
	}
	return ds.seqNum.(*array.Int64).Int64Values(), nil
}

// UID returns the per-event uids.
func (ds *Dataset) UID() ([]string, error) {
	if ds.closed {
		return nil, errors.New(errors.CodeDatasetClosed, "dataset released")
	}
	arr := ds.uid.(*array.String)
	out := make([]string, arr.Len())
	for i := range out {
		out[i] = arr.Value(i)
	}
	return out, nil
}

// Column returns the Arrow array for one data key.
func (ds *Dataset) Column(key string) (arrow.Array, error) {
	if ds.closed {
		return nil, errors.New(errors.CodeDatasetClosed, "dataset released")
	}
	arr, ok := ds.data[key]
	if !ok {
		return nil, errors.New(errors.CodeEntryNotFound, "no such data key").
			WithContext("key", key)
	}
	return arr, nil
}

// Values extracts one data column as a generic slice window [lo, hi).
func (ds *Dataset) Values(key string, lo, hi int) ([]interface{}, error) {
	arr, err := ds.Column(key)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, valueAt(arr, i))
	}
	return out, nil
}

// TimestampValues extracts one per-key timestamp column window [lo, hi).
func (ds *Dataset) TimestampValues(key string, lo, hi int) ([]float64, error) {
	if ds.closed {
		return nil, errors.New(errors.CodeDatasetClosed, "dataset released")
	}
	arr, ok := ds.timestamps[key]
	if !ok {
		return nil, errors.New(errors.CodeEntryNotFound, "no such data key").
			WithContext("key", key)
	}
	f := arr.(*array.Float64)
	out := make([]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, f.Value(i))
	}
	return out, nil
}

// Release frees all backing Arrow memory. Reads after Release fail with
// CodeDatasetClosed.
func (ds *Dataset) Release() {
	if ds.closed {
		return
	}
	ds.closed = true
	ds.time.Release()
	ds.seqNum.Release()
	ds.uid.Release()
	for _, arr := range ds.data {
		arr.Release()
	}
	for _, arr := range ds.timestamps {
		arr.Release()
	}
}

// --- Column building ---

// columnBuilder appends loosely typed document values into one Arrow
// column. The dtype declared by the descriptor picks the array type;
// anything non-scalar (resolved references included) lands in a string
// column as JSON.
type columnBuilder interface {
	Append(v interface{}) error
	NewArray() arrow.Array
	Release()
}

func newColumnBuilder(alloc memory.Allocator, dk model.DataKey) columnBuilder {
	// External keys hold resolved reference metadata after filling.
	if dk.External != "" {
		return &jsonColumn{b: array.NewStringBuilder(alloc)}
	}
	switch dk.Dtype {
	case "number":
		return &float64Column{b: array.NewFloat64Builder(alloc)}
	case "integer":
		return &int64Column{b: array.NewInt64Builder(alloc)}
	case "boolean":
		return &boolColumn{b: array.NewBooleanBuilder(alloc)}
	case "string":
		return &stringColumn{b: array.NewStringBuilder(alloc)}
	default:
		return &jsonColumn{b: array.NewStringBuilder(alloc)}
	}
}

type float64Column struct{ b *array.Float64Builder }

func (c *float64Column) Append(v interface{}) error {
	if v == nil {
		c.b.AppendNull()
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	c.b.Append(f)
	return nil
}
func (c *float64Column) NewArray() arrow.Array { return c.b.NewArray() }
func (c *float64Column) Release()              { c.b.Release() }

type int64Column struct{ b *array.Int64Builder }

func (c *int64Column) Append(v interface{}) error {
	if v == nil {
		c.b.AppendNull()
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	c.b.Append(int64(f))
	return nil
}
func (c *int64Column) NewArray() arrow.Array { return c.b.NewArray() }
func (c *int64Column) Release()              { c.b.Release() }

type boolColumn struct{ b *array.BooleanBuilder }

func (c *boolColumn) Append(v interface{}) error {
	if v == nil {
		c.b.AppendNull()
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("expected bool, got %T", v)
	}
	c.b.Append(b)
	return nil
}
func (c *boolColumn) NewArray() arrow.Array { return c.b.NewArray() }
func (c *boolColumn) Release()              { c.b.Release() }

type stringColumn struct{ b *array.StringBuilder }

func (c *stringColumn) Append(v interface{}) error {
	if v == nil {
		c.b.AppendNull()
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	c.b.Append(s)
	return nil
}
func (c *stringColumn) NewArray() arrow.Array { return c.b.NewArray() }
func (c *stringColumn) Release()              { c.b.Release() }

type jsonColumn struct{ b *array.StringBuilder }

func (c *jsonColumn) Append(v interface{}) error {
	if v == nil {
		c.b.AppendNull()
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.b.Append(string(raw))
	return nil
}
func (c *jsonColumn) NewArray() arrow.Array { return c.b.NewArray() }
func (c *jsonColumn) Release()              { c.b.Release() }

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected numeric value, got %T", v)
	}
}

// valueAt pulls one element out of an Arrow array as a generic value.
func valueAt(arr arrow.Array, i int) interface{} {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	default:
		return nil
	}
}
