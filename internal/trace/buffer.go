// Package trace keeps a bounded, newest-first history of anchor points for
// each tracked object.
package trace

import (
	"sync"

	"github.com/banshee-data/footfall/internal/wire"
)

// ring holds up to len(pts) points; head is the slot of the newest point.
type ring struct {
	pts       []wire.Point
	head      int
	n         int
	lastFrame uint64
}

func (r *ring) push(p wire.Point) {
	r.head = (r.head + 1) % len(r.pts)
	r.pts[r.head] = p
	if r.n < len(r.pts) {
		r.n++
	}
}

// Buffer stores per-track trails. Tracks that go unseen for as many frames
// as the buffer's capacity are dropped by EndFrame.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	frame    uint64
	tracks   map[int]*ring
}

// NewBuffer returns a Buffer holding capacity points per track; values
// outside 1..wire.TrailLength select wire.TrailLength.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 || capacity > wire.TrailLength {
		capacity = wire.TrailLength
	}
	return &Buffer{capacity: capacity, tracks: make(map[int]*ring)}
}

// Push records p as the newest point of trackID, evicting the oldest when
// the trail is full.
func (b *Buffer) Push(trackID int, p wire.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.tracks[trackID]
	if !ok {
		r = &ring{pts: make([]wire.Point, b.capacity), head: -1}
		b.tracks[trackID] = r
	}
	r.push(p)
	r.lastFrame = b.frame
}

// Get returns the trail for trackID newest first, padded with zero points.
func (b *Buffer) Get(trackID int) [wire.TrailLength]wire.Point {
	var out [wire.TrailLength]wire.Point
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.tracks[trackID]
	if !ok {
		return out
	}
	for i := 0; i < r.n; i++ {
		out[i] = r.pts[(r.head-i+len(r.pts))%len(r.pts)]
	}
	return out
}

// Points returns only the recorded points for trackID, newest first.
func (b *Buffer) Points(trackID int) []wire.Point {
	trail := b.Get(trackID)
	pts := make([]wire.Point, 0, wire.TrailLength)
	for _, p := range trail {
		if p.IsZero() {
			break
		}
		pts = append(pts, p)
	}
	return pts
}

// EndFrame closes the current frame and forgets tracks that were not
// pushed during the last capacity frames. It returns the number dropped.
func (b *Buffer) EndFrame() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frame++
	dropped := 0
	for id, r := range b.tracks {
		if b.frame-r.lastFrame > uint64(b.capacity) {
			delete(b.tracks, id)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of tracks with history.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracks)
}
