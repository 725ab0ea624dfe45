// Package stability suppresses sub-threshold bounding-box jitter per track.
//
// A track's box is frozen at its last accepted value while every coordinate
// of the incoming box stays strictly inside a relative band around the
// previous coordinate. The first coordinate outside the band replaces the
// record and becomes the new baseline.
package stability

import (
	"sync"

	"github.com/banshee-data/footfall/internal/wire"
)

// DefaultTolerance is the relative half-width of the freeze band.
const DefaultTolerance = 0.02

// Filter holds the last accepted box per track. Records are never evicted;
// the set of track IDs seen by one process is small.
type Filter struct {
	mu        sync.Mutex
	tolerance float64
	records   map[int]wire.BBox
}

// NewFilter returns a filter with the given relative tolerance. A
// non-positive tolerance selects DefaultTolerance.
func NewFilter(tolerance float64) *Filter {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Filter{tolerance: tolerance, records: make(map[int]wire.BBox)}
}

// Accept returns the box to publish for trackID.
func (f *Filter) Accept(trackID int, box wire.BBox) wire.BBox {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, ok := f.records[trackID]
	if ok && f.within(prev, box) {
		return prev
	}
	f.records[trackID] = box
	return box
}

// ApplyFrame replaces every box in dets with its accepted value.
func (f *Filter) ApplyFrame(dets []wire.Detection) {
	for i := range dets {
		dets[i].Box = f.Accept(dets[i].TrackID, dets[i].Box)
	}
}

// Len reports the number of tracks with a stored record.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *Filter) within(prev, next wire.BBox) bool {
	return f.near(prev.X0, next.X0) && f.near(prev.Y0, next.Y0) &&
		f.near(prev.X1, next.X1) && f.near(prev.Y1, next.Y1)
}

// near is the strict band test old-tol*old < v < old+tol*old. The band is
// empty for old <= 0, so a coordinate at zero never freezes.
func (f *Filter) near(old, v float64) bool {
	d := f.tolerance * old
	return v > old-d && v < old+d
}
