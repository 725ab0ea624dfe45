package heatmap

import (
	"gonum.org/v1/gonum/floats"
)

// Grid is a row-major W×H raster of float values.
type Grid struct {
	W, H int
	Data []float64
}

// NewGrid allocates a zeroed grid.
func NewGrid(w, h int) *Grid {
	return &Grid{W: w, H: h, Data: make([]float64, w*h)}
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.W+x] }

// Raster is a rendered horizon: values scaled to [0,1] and the mask of
// cells that carry any heat.
type Raster struct {
	Horizon Horizon
	W, H    int
	Value   []float64
	Mask    []bool
	// Scale is the blurred value that maps to 1.
	Scale float64
}

// Hot reports whether cell (x, y) is inside the heat mask.
func (r *Raster) Hot(x, y int) bool { return r.Mask[y*r.W+x] }

// MinSensitivity and MaxSensitivity bound the long-horizon contrast
// control, in percent of the observed peak.
const (
	MinSensitivity = 50
	MaxSensitivity = 100
)

// Render blurs horizon h and normalises it for display. Short and medium
// are scaled against a fixed fraction of their clamp; long is scaled
// against sensitivity percent of its own blurred peak, so the scale adapts
// as the session grows.
func (a *Accumulator) Render(h Horizon, sensitivity float64) *Raster {
	src := a.Snapshot(h)
	blurred := BoxBlur(src, a.cfg.BlurSize)

	var scale float64
	switch h {
	case Short, Medium:
		scale = a.cfg.NormalizeFraction * a.cfg.Stamp(h).Max
	default:
		if sensitivity < MinSensitivity {
			sensitivity = MinSensitivity
		} else if sensitivity > MaxSensitivity {
			sensitivity = MaxSensitivity
		}
		scale = sensitivity / 100 * floats.Max(blurred.Data)
	}

	r := &Raster{
		Horizon: h,
		W:       blurred.W,
		H:       blurred.H,
		Value:   make([]float64, len(blurred.Data)),
		Mask:    make([]bool, len(blurred.Data)),
		Scale:   scale,
	}
	for i, v := range blurred.Data {
		if v <= a.cfg.NoHeatThreshold {
			continue
		}
		r.Mask[i] = true
		if scale <= 0 {
			continue
		}
		n := v / scale
		if n > 1 {
			n = 1
		}
		r.Value[i] = n
	}
	return r
}

// BoxBlur returns the mean over a size×size window centred on each cell.
// Windows are truncated at the borders and averaged over the cells they
// cover. Runs in O(W·H) independent of size.
func BoxBlur(src *Grid, size int) *Grid {
	if size <= 1 {
		out := NewGrid(src.W, src.H)
		copy(out.Data, src.Data)
		return out
	}
	before := size / 2
	after := size - 1 - before

	tmp := NewGrid(src.W, src.H)
	prefix := make([]float64, max(src.W, src.H)+1)

	// Horizontal pass: window sums along each row.
	for y := 0; y < src.H; y++ {
		row := src.Data[y*src.W : (y+1)*src.W]
		for x, v := range row {
			prefix[x+1] = prefix[x] + v
		}
		for x := 0; x < src.W; x++ {
			lo, hi := max(0, x-before), min(src.W, x+after+1)
			tmp.Data[y*src.W+x] = prefix[hi] - prefix[lo]
		}
	}

	// Vertical pass, then divide by the number of covered cells.
	out := NewGrid(src.W, src.H)
	for x := 0; x < src.W; x++ {
		for y := 0; y < src.H; y++ {
			prefix[y+1] = prefix[y] + tmp.Data[y*src.W+x]
		}
		lx, hx := max(0, x-before), min(src.W, x+after+1)
		for y := 0; y < src.H; y++ {
			ly, hy := max(0, y-before), min(src.H, y+after+1)
			n := float64((hx - lx) * (hy - ly))
			out.Data[y*src.W+x] = (prefix[hy] - prefix[ly]) / n
		}
	}
	return out
}
