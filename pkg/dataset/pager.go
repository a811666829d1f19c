package dataset

import (
	"github.com/runstream/runstream/internal/model"
	"github.com/runstream/runstream/pkg/errors"
	"github.com/runstream/runstream/pkg/telemetry"
)

// Pager slices a dataset's time axis into contiguous event pages of
// pageSize events; the final page may be shorter. The sequence is finite
// and restartable: call Paginate again for a fresh pass. It is not
// resumable mid-sequence.
type Pager struct {
	ds       *Dataset
	pageSize int
	pos      int
}

// Paginate starts a paging pass over the dataset.
func Paginate(ds *Dataset, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &Pager{ds: ds, pageSize: pageSize}
}

// Next returns the next event page. The second return is false once the
// sequence is exhausted or after an error.
func (p *Pager) Next() (model.EventPage, bool, error) {
	if p.pos >= p.ds.Len() {
		return model.EventPage{}, false, nil
	}
	lo := p.pos
	hi := lo + p.pageSize
	if hi > p.ds.Len() {
		hi = p.ds.Len()
	}
	p.pos = hi

	page, err := p.ds.page(lo, hi)
	if err != nil {
		return model.EventPage{}, false, err
	}
	telemetry.Global().AddPagesEmitted(1)
	return page, true, nil
}

// page extracts rows [lo, hi) as one event page. Filled is emitted empty:
// payload resolution status is not tracked at page granularity.
func (ds *Dataset) page(lo, hi int) (model.EventPage, error) {
	if ds.closed {
		return model.EventPage{}, errors.New(errors.CodeDatasetClosed, "dataset released")
	}

	times, err := ds.Time()
	if err != nil {
		return model.EventPage{}, err
	}
	seqs, err := ds.SeqNum()
	if err != nil {
		return model.EventPage{}, err
	}
	uids, err := ds.UID()
	if err != nil {
		return model.EventPage{}, err
	}

	page := model.EventPage{
		Data:       make(map[string][]interface{}, len(ds.keys)),
		Timestamps: make(map[string][]float64, len(ds.keys)),
		Time:       append([]float64(nil), times[lo:hi]...),
		UID:        append([]string(nil), uids[lo:hi]...),
		SeqNum:     append([]int64(nil), seqs[lo:hi]...),
		Filled:     make(map[string][]bool),
	}
	for _, key := range ds.keys {
		values, err := ds.Values(key, lo, hi)
		if err != nil {
			return model.EventPage{}, err
		}
		page.Data[key] = values

		ts, err := ds.TimestampValues(key, lo, hi)
		if err != nil {
			return model.EventPage{}, err
		}
		page.Timestamps[key] = ts
	}
	return page, nil
}
