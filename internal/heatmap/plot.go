package heatmap

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// gridXYZ adapts a Grid to plotter.GridXYZ. Row 0 of the grid is the top of
// the image, so rows are flipped onto the plot's upward Y axis.
type gridXYZ struct{ g *Grid }

func (p gridXYZ) Dims() (c, r int)   { return p.g.W, p.g.H }
func (p gridXYZ) Z(c, r int) float64 { return p.g.At(c, p.g.H-1-r) }
func (p gridXYZ) X(c int) float64    { return float64(c) }
func (p gridXYZ) Y(r int) float64    { return float64(r) }

// Min and Max pin the colour range to start at zero; an empty grid gets a
// unit range so the palette scale stays finite.
func (p gridXYZ) Min() float64 { return 0 }
func (p gridXYZ) Max() float64 {
	if m := floats.Max(p.g.Data); m > 0 {
		return m
	}
	return 1
}

// Downsample averages factor×factor blocks. Partial blocks at the right
// and bottom edges are averaged over the cells they contain.
func Downsample(g *Grid, factor int) *Grid {
	if factor <= 1 {
		return g
	}
	w := (g.W + factor - 1) / factor
	h := (g.H + factor - 1) / factor
	out := NewGrid(w, h)
	counts := make([]int, w*h)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			i := (y/factor)*w + x/factor
			out.Data[i] += g.At(x, y)
			counts[i]++
		}
	}
	for i, n := range counts {
		out.Data[i] /= float64(n)
	}
	return out
}

// PlotPNG writes a PNG heat plot of g using the black-body colour map.
// Large grids are downsampled to at most maxCells columns first.
func PlotPNG(w io.Writer, g *Grid, title string, maxCells int) error {
	if maxCells > 0 && g.W > maxCells {
		g = Downsample(g, (g.W+maxCells-1)/maxCells)
	}

	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	pal := moreland.BlackBody().Palette(255)
	hm := plotter.NewHeatMap(gridXYZ{g}, pal)
	p.Add(hm)

	width := vg.Length(g.W) * vg.Millimeter * 2
	if width < 10*vg.Centimeter {
		width = 10 * vg.Centimeter
	}
	height := width * vg.Length(g.H) / vg.Length(g.W)

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render heat plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write heat plot: %w", err)
	}
	return nil
}
