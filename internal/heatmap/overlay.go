package heatmap

import (
	"image"
	"image/color"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/footfall/internal/wire"
)

// DefaultAlpha is the heat weight when blending over a video frame.
const DefaultAlpha = 0.5

// AnnotationColor is used for trails and track labels.
var AnnotationColor = color.RGBA{R: 230, G: 0, B: 126, A: 255}

// HeatColor maps a normalised value to a fully saturated hue running from
// blue (0) through green and yellow to red (1).
func HeatColor(v float64) color.RGBA {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return hsvToRGB(240*(1-v), 1, 1)
}

func hsvToRGB(h, s, v float64) color.RGBA {
	c := v * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g = c, x
	case hp < 2:
		r, g = x, c
	case hp < 3:
		g, b = c, x
	case hp < 4:
		g, b = x, c
	case hp < 5:
		r, b = x, c
	default:
		r, b = c, x
	}
	m := v - c
	to8 := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return color.RGBA{R: to8(r), G: to8(g), B: to8(b), A: 255}
}

// Colorize renders r as an opaque image; cells outside the mask are
// transparent.
func Colorize(r *Raster) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	for y := 0; y < r.H; y++ {
		for x := 0; x < r.W; x++ {
			i := y*r.W + x
			if !r.Mask[i] {
				continue
			}
			img.SetRGBA(x, y, HeatColor(r.Value[i]))
		}
	}
	return img
}

// Composite blends r over dst in place. The raster is sampled nearest
// neighbour when the sizes differ; only masked cells are touched.
func Composite(dst *image.RGBA, r *Raster, alpha float64) {
	b := dst.Bounds()
	dw, dh := b.Dx(), b.Dy()
	if dw == 0 || dh == 0 || r.W == 0 || r.H == 0 {
		return
	}
	for y := 0; y < dh; y++ {
		ry := y * r.H / dh
		for x := 0; x < dw; x++ {
			rx := x * r.W / dw
			i := ry*r.W + rx
			if !r.Mask[i] {
				continue
			}
			heat := HeatColor(r.Value[i])
			px := dst.RGBAAt(b.Min.X+x, b.Min.Y+y)
			mix := func(a, h uint8) uint8 {
				return uint8(math.Round(float64(a)*(1-alpha) + float64(h)*alpha))
			}
			dst.SetRGBA(b.Min.X+x, b.Min.Y+y, color.RGBA{
				R: mix(px.R, heat.R),
				G: mix(px.G, heat.G),
				B: mix(px.B, heat.B),
				A: 255,
			})
		}
	}
}

// DrawTracks draws each detection's trail as a polyline and labels it with
// its track ID above the box.
func DrawTracks(dst *image.RGBA, dets []wire.Detection, trails, labels bool) {
	b := dst.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	toPx := func(p wire.Point) image.Point {
		return image.Pt(b.Min.X+int(p.X*w), b.Min.Y+int(p.Y*h))
	}
	for _, d := range dets {
		if trails {
			pts := d.TrailPoints()
			for i := 1; i < len(pts); i++ {
				drawLine(dst, toPx(pts[i-1]), toPx(pts[i]), AnnotationColor)
			}
		}
		if labels {
			at := toPx(wire.Point{X: d.Box.X0, Y: d.Box.Y0})
			drawer := font.Drawer{
				Dst:  dst,
				Src:  image.NewUniform(AnnotationColor),
				Face: basicfont.Face7x13,
				Dot:  fixed.P(at.X, at.Y-6),
			}
			drawer.DrawString("ID: " + strconv.Itoa(d.TrackID))
		}
	}
}

// drawLine rasterises a one-pixel line with Bresenham's algorithm.
func drawLine(dst *image.RGBA, p0, p1 image.Point, c color.RGBA) {
	dx := abs(p1.X - p0.X)
	dy := -abs(p1.Y - p0.Y)
	sx, sy := 1, 1
	if p0.X > p1.X {
		sx = -1
	}
	if p0.Y > p1.Y {
		sy = -1
	}
	e := dx + dy
	for {
		if p0.In(dst.Bounds()) {
			dst.SetRGBA(p0.X, p0.Y, c)
		}
		if p0 == p1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			p0.X += sx
		}
		if e2 <= dx {
			e += dx
			p0.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
