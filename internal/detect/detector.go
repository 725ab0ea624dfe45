// Package detect defines the person detector and tracker used by the
// sensor, plus a synthetic implementation for development and tests.
package detect

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/banshee-data/footfall/internal/video"
	"github.com/banshee-data/footfall/internal/wire"
)

// Track is one tracked person in a frame.
type Track struct {
	ID  int
	Box wire.BBox
}

// Detector finds people in a frame and assigns IDs stable across frames.
type Detector interface {
	Detect(ctx context.Context, frame *video.Frame) ([]Track, error)
}

// Synthetic walks a fixed number of people back and forth across the
// scene with a few pixels of per-frame jitter, so the stability filter and
// the heat accumulator have realistic input without a model.
type Synthetic struct {
	// People is the number of simultaneous walkers.
	People int
	// Speed is the fraction of the scene width crossed per frame.
	Speed float64
	// Jitter is the maximum per-coordinate noise.
	Jitter float64

	mu     sync.Mutex
	rng    *rand.Rand
	frame  int
	nextID int
	walk   []walker
}

type walker struct {
	id    int
	phase float64
	lane  float64
	w, h  float64
}

// NewSynthetic returns a deterministic synthetic detector.
func NewSynthetic(people int, seed int64) *Synthetic {
	if people <= 0 {
		people = 3
	}
	return &Synthetic{
		People: people,
		Speed:  0.004,
		Jitter: 0.002,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *Synthetic) spawn(i int) walker {
	s.nextID++
	return walker{
		id:    s.nextID,
		phase: s.rng.Float64() * 2 * math.Pi,
		lane:  0.45 + 0.5*float64(i)/float64(max(s.People, 1)),
		w:     0.06 + s.rng.Float64()*0.03,
		h:     0.25 + s.rng.Float64()*0.1,
	}
}

// Detect implements Detector. The frame content is ignored.
func (s *Synthetic) Detect(ctx context.Context, _ *video.Frame) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.walk) < s.People {
		s.walk = append(s.walk, s.spawn(len(s.walk)))
	}
	s.frame++

	tracks := make([]Track, 0, len(s.walk))
	for i := range s.walk {
		w := &s.walk[i]
		// Triangle wave across the usable width.
		pos := math.Abs(math.Mod(w.phase+float64(s.frame)*s.Speed*2, 2) - 1)
		cx := 0.05 + pos*(0.9-w.w) + w.w/2
		feet := math.Min(w.lane, 0.98)

		box := wire.BBox{
			X0: cx - w.w/2 + s.noise(),
			X1: cx + w.w/2 + s.noise(),
			Y0: feet - w.h + s.noise(),
			Y1: feet + s.noise(),
		}
		tracks = append(tracks, Track{ID: w.id, Box: clampBox(box)})
	}

	// Occasionally someone leaves and a new ID arrives.
	if s.frame%500 == 0 && len(s.walk) > 0 {
		i := s.rng.Intn(len(s.walk))
		s.walk[i] = s.spawn(i)
	}
	return tracks, nil
}

func (s *Synthetic) noise() float64 {
	return (s.rng.Float64()*2 - 1) * s.Jitter
}

func clampBox(b wire.BBox) wire.BBox {
	c := func(v float64) float64 { return math.Max(0, math.Min(1, v)) }
	b.X0, b.Y0, b.X1, b.Y1 = c(b.X0), c(b.Y0), c(b.X1), c(b.Y1)
	if b.X0 > b.X1 {
		b.X0, b.X1 = b.X1, b.X0
	}
	if b.Y0 > b.Y1 {
		b.Y0, b.Y1 = b.Y1, b.Y0
	}
	return b
}
