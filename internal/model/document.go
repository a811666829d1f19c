// Package model defines the document types that make up an experiment run.
// A run is one start document, zero or more stream descriptors, many
// timestamped events, and an optional stop document. Events may reference
// externally stored payloads through datum/resource indirection.
package model

// DocKind tags a document with its position in the run sequence.
type DocKind string

const (
	KindStart      DocKind = "start"
	KindDescriptor DocKind = "descriptor"
	KindEvent      DocKind = "event"
	KindStop       DocKind = "stop"
	KindResource   DocKind = "resource"
	KindDatum      DocKind = "datum"
)

// TaggedDocument pairs a document with its kind. Partition reads emit
// these in the fixed order start, descriptors, events, stop.
type TaggedDocument struct {
	Kind DocKind     `json:"kind"`
	Doc  interface{} `json:"doc"`
}

// RunStart opens a run. Its UID identifies the run everywhere else.
type RunStart struct {
	UID    string                 `bson:"uid" json:"uid"`
	Time   float64                `bson:"time" json:"time"`
	ScanID int64                  `bson:"scan_id,omitempty" json:"scan_id,omitempty"`
	Extra  map[string]interface{} `bson:",inline" json:"extra,omitempty"`
}

// RunStop closes a run. Absent while the run is still acquiring.
type RunStop struct {
	UID        string                 `bson:"uid" json:"uid"`
	RunStart   string                 `bson:"run_start" json:"run_start"`
	Time       float64                `bson:"time" json:"time"`
	ExitStatus string                 `bson:"exit_status,omitempty" json:"exit_status,omitempty"`
	Reason     string                 `bson:"reason,omitempty" json:"reason,omitempty"`
	Extra      map[string]interface{} `bson:",inline" json:"extra,omitempty"`
}

// DataKey describes one named field of a stream's schema.
type DataKey struct {
	Dtype    string  `bson:"dtype" json:"dtype"`
	Shape    []int64 `bson:"shape,omitempty" json:"shape,omitempty"`
	Source   string  `bson:"source,omitempty" json:"source,omitempty"`
	External string  `bson:"external,omitempty" json:"external,omitempty"`
	Units    string  `bson:"units,omitempty" json:"units,omitempty"`
}

// Descriptor is the schema document for one logical stream within a run.
// Several descriptors may share a Name when the schema evolves mid-run;
// their events concatenate in descriptor order, then time order.
type Descriptor struct {
	UID      string             `bson:"uid" json:"uid"`
	RunStart string             `bson:"run_start" json:"run_start"`
	Name     string             `bson:"name" json:"name"`
	Time     float64            `bson:"time" json:"time"`
	DataKeys map[string]DataKey `bson:"data_keys" json:"data_keys"`
}

// Event is one timestamped record belonging to a descriptor. A value in
// Data may be a datum-id placeholder instead of an inline value; Filled
// records which keys have been resolved.
type Event struct {
	UID        string                 `bson:"uid" json:"uid"`
	Descriptor string                 `bson:"descriptor" json:"descriptor"`
	Time       float64                `bson:"time" json:"time"`
	SeqNum     int64                  `bson:"seq_num" json:"seq_num"`
	Data       map[string]interface{} `bson:"data" json:"data"`
	Timestamps map[string]float64     `bson:"timestamps" json:"timestamps"`
	Filled     map[string]bool        `bson:"filled,omitempty" json:"filled,omitempty"`
}

// Clone returns a copy of the event with its own maps, so resolution can
// rewrite Data without mutating the caller's document.
func (e Event) Clone() Event {
	out := e
	out.Data = make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		out.Data[k] = v
	}
	out.Timestamps = make(map[string]float64, len(e.Timestamps))
	for k, v := range e.Timestamps {
		out.Timestamps[k] = v
	}
	out.Filled = make(map[string]bool, len(e.Filled))
	for k, v := range e.Filled {
		out.Filled[k] = v
	}
	return out
}

// Resource describes where and how to materialize a family of external
// payloads, e.g. a file path plus a handler spec.
type Resource struct {
	UID            string                 `bson:"uid" json:"uid"`
	RunStart       string                 `bson:"run_start,omitempty" json:"run_start,omitempty"`
	Spec           string                 `bson:"spec" json:"spec"`
	Root           string                 `bson:"root" json:"root"`
	ResourcePath   string                 `bson:"resource_path" json:"resource_path"`
	ResourceKwargs map[string]interface{} `bson:"resource_kwargs,omitempty" json:"resource_kwargs,omitempty"`
	PathSemantics  string                 `bson:"path_semantics,omitempty" json:"path_semantics,omitempty"`
}

// Datum carries the resource-specific parameters needed to extract one
// payload from its owning resource.
type Datum struct {
	DatumID     string                 `bson:"datum_id" json:"datum_id"`
	Resource    string                 `bson:"resource" json:"resource"`
	DatumKwargs map[string]interface{} `bson:"datum_kwargs,omitempty" json:"datum_kwargs,omitempty"`
}

// DatumRef is what a resolved placeholder becomes: enough metadata to
// extract the payload later, not the payload bytes themselves.
type DatumRef struct {
	DatumID     string                 `json:"datum_id"`
	Resource    Resource               `json:"resource"`
	DatumKwargs map[string]interface{} `json:"datum_kwargs,omitempty"`
}

// EventPage is a batch representation of many events sharing a schema,
// used for array-oriented emission. Filled is always empty at emission.
type EventPage struct {
	Data       map[string][]interface{} `json:"data"`
	Timestamps map[string][]float64     `json:"timestamps"`
	Time       []float64                `json:"time"`
	UID        []string                 `json:"uid"`
	SeqNum     []int64                  `json:"seq_num"`
	Filled     map[string][]bool        `json:"filled"`
}

// Len returns the number of events in the page.
func (p EventPage) Len() int { return len(p.Time) }
