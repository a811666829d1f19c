// Package rungen builds synthetic runs for tests and the demo catalog.
package rungen

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/store"
)

// StreamSpec describes one synthetic stream.
type StreamSpec struct {
	// Name is the stream name, e.g. "primary".
	Name string

	// Events is the number of events to generate.
	Events int

	// Descriptors splits the stream across this many descriptors to
	// simulate mid-run schema evolution. Defaults to 1.
	Descriptors int

	// External adds an "image" data key whose values are datum-id
	// placeholders backed by synthetic resources.
	External bool

	// EventsPerResource controls how many events share one resource
	// when External is set. Defaults to 50.
	EventsPerResource int
}

// Options describes one synthetic run.
type Options struct {
	ScanID    int64
	StartTime float64
	Streams   []StreamSpec

	// Open leaves the run without a stop document.
	Open bool
}

// Generate inserts one synthetic run into the store and returns its uid.
// Event times increase monotonically across the whole run.
func Generate(s *store.MemoryStore, opts Options) string {
	runUID := uuid.NewString()
	t := opts.StartTime
	if t == 0 {
		t = 1e9
	}

	s.AddRunStart(model.RunStart{
		UID:    runUID,
		Time:   t,
		ScanID: opts.ScanID,
	})
	t++

	for _, spec := range opts.Streams {
		t = generateStream(s, runUID, spec, t)
	}

	if !opts.Open {
		s.AddRunStop(model.RunStop{
			UID:        uuid.NewString(),
			RunStart:   runUID,
			Time:       t + 1,
			ExitStatus: "success",
		})
	}
	return runUID
}

func generateStream(s *store.MemoryStore, runUID string, spec StreamSpec, t float64) float64 {
	nDesc := spec.Descriptors
	if nDesc <= 0 {
		nDesc = 1
	}
	perResource := spec.EventsPerResource
	if perResource <= 0 {
		perResource = 50
	}

	dataKeys := map[string]model.DataKey{
		"motor": {Dtype: "number", Source: "PV:motor"},
		"det":   {Dtype: "number", Source: "PV:det"},
	}
	if spec.External {
		dataKeys["image"] = model.DataKey{
			Dtype:    "array",
			Shape:    []int64{512, 512},
			Source:   "PV:camera",
			External: "FILESTORE:",
		}
	}

	var descriptorUIDs []string
	for i := 0; i < nDesc; i++ {
		uid := uuid.NewString()
		descriptorUIDs = append(descriptorUIDs, uid)
		s.AddDescriptor(model.Descriptor{
			UID:      uid,
			RunStart: runUID,
			Name:     spec.Name,
			Time:     t,
			DataKeys: dataKeys,
		})
		t++
	}

	var resourceUID string
	for i := 0; i < spec.Events; i++ {
		data := map[string]interface{}{
			"motor": float64(i) * 0.1,
			"det":   float64(i*i) * 0.5,
		}
		if spec.External {
			if i%perResource == 0 {
				resourceUID = uuid.NewString()
				s.AddResource(model.Resource{
					UID:          resourceUID,
					RunStart:     runUID,
					Spec:         "AD_HDF5",
					Root:         "/data",
					ResourcePath: fmt.Sprintf("%s/%s.h5", spec.Name, resourceUID[:8]),
				})
				// One datum per event the resource will back.
				for j := 0; j < perResource; j++ {
					s.AddDatum(model.Datum{
						DatumID:  fmt.Sprintf("%s/%d", resourceUID, j),
						Resource: resourceUID,
						DatumKwargs: map[string]interface{}{
							"point_number": j,
						},
					})
				}
			}
			data["image"] = fmt.Sprintf("%s/%d", resourceUID, i%perResource)
		}

		// Round-robin events across descriptors in contiguous blocks so
		// descriptor order matches time order.
		desc := descriptorUIDs[i*nDesc/max(spec.Events, 1)]
		ts := map[string]float64{"motor": t, "det": t}
		if spec.External {
			ts["image"] = t
		}
		s.AddEvent(model.Event{
			UID:        uuid.NewString(),
			Descriptor: desc,
			Time:       t,
			SeqNum:     int64(i + 1),
			Data:       data,
			Timestamps: ts,
		})
		t += 0.1
	}
	return t + 1
}
