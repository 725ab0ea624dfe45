// Package heatmap accumulates where tracked people stand, at three
// timescales, and renders the accumulations as colour overlays.
//
// Every Update stamps a filled disk per detection at the bottom-centre of
// its box on each horizon grid, then decays and clamps the short and
// medium grids. The long grid only grows.
package heatmap

import (
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/footfall/internal/wire"
)

type offset struct{ dx, dy int }

// Accumulator owns the three horizon grids. It is safe for concurrent use;
// Update is expected from a single stage while readers take snapshots.
type Accumulator struct {
	mu      sync.RWMutex
	cfg     Config
	grids   [numHorizons][]float64
	disks   [numHorizons][]offset
	updates uint64
}

// New allocates zeroed grids for cfg.
func New(cfg Config) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDerived()
	a := &Accumulator{cfg: cfg}
	for _, h := range Horizons {
		a.grids[h] = make([]float64, cfg.Width*cfg.Height)
		a.disks[h] = disk(cfg.Stamp(h).Radius)
	}
	return a, nil
}

// disk lists the offsets of a filled circle of radius r.
func disk(r int) []offset {
	var out []offset
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				out = append(out, offset{dx, dy})
			}
		}
	}
	return out
}

// Config returns the effective configuration, with derived maxima.
func (a *Accumulator) Config() Config { return a.cfg }

// Anchor maps a box to the grid cell under the object's feet.
func (a *Accumulator) Anchor(b wire.BBox) (x, y int) {
	px0 := int(b.X0 * float64(a.cfg.Width))
	px1 := int(b.X1 * float64(a.cfg.Width))
	return int(float64(px0) + float64(px1-px0)/2), int(b.Y1 * float64(a.cfg.Height))
}

// Update stamps every detection on all horizons, then applies one decay
// step. Update(nil) is a pure decay step.
func (a *Accumulator) Update(dets []wire.Detection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range dets {
		cx, cy := a.Anchor(d.Box)
		for _, h := range Horizons {
			a.stamp(h, cx, cy)
		}
	}
	for _, h := range []Horizon{Short, Medium} {
		s := a.cfg.Stamp(h)
		g := a.grids[h]
		if s.Decay != 0 {
			floats.AddConst(-s.Decay, g)
		}
		clamp(g, 0, s.Max)
	}
	a.updates++
}

func (a *Accumulator) stamp(h Horizon, cx, cy int) {
	w, ht := a.cfg.Width, a.cfg.Height
	g := a.grids[h]
	v := a.cfg.Stamp(h).Intensity
	for _, o := range a.disks[h] {
		x, y := cx+o.dx, cy+o.dy
		if x < 0 || y < 0 || x >= w || y >= ht {
			continue
		}
		g[y*w+x] += v
	}
}

func clamp(g []float64, lo, hi float64) {
	for i, v := range g {
		if v < lo {
			g[i] = lo
		} else if v > hi {
			g[i] = hi
		}
	}
}

// At returns the raw accumulated value of one cell.
func (a *Accumulator) At(h Horizon, x, y int) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.grids[h][y*a.cfg.Width+x]
}

// Max returns the configured upper clamp for h, zero when unbounded.
func (a *Accumulator) Max(h Horizon) float64 { return a.cfg.Stamp(h).Max }

// Peak returns the largest raw value currently held on h.
func (a *Accumulator) Peak(h Horizon) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return floats.Max(a.grids[h])
}

// Updates counts Update calls since creation or Reset.
func (a *Accumulator) Updates() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updates
}

// Snapshot returns a copy of the raw grid for h.
func (a *Accumulator) Snapshot(h Horizon) *Grid {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g := NewGrid(a.cfg.Width, a.cfg.Height)
	copy(g.Data, a.grids[h])
	return g
}

// Reset zeroes every horizon.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, h := range Horizons {
		clear(a.grids[h])
	}
	a.updates = 0
}
