package heatmap

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/banshee-data/footfall/internal/wire"
)

// Annotator selects how each detection's box is marked on the composite.
type Annotator int32

const (
	AnnotateNone Annotator = iota
	AnnotateBox
	AnnotateCorner
	AnnotateColor
	AnnotateTriangle
	AnnotateEllipse
	// AnnotateBlur anonymises the box contents instead of outlining them.
	AnnotateBlur
)

// AnnotationBlurSize is the box filter edge used by AnnotateBlur.
const AnnotationBlurSize = 15

var annotatorNames = [...]string{"none", "box", "corner", "color", "triangle", "ellipse", "blur"}

func (a Annotator) String() string {
	if a >= 0 && int(a) < len(annotatorNames) {
		return annotatorNames[a]
	}
	return fmt.Sprintf("annotator(%d)", int(a))
}

// ParseAnnotator accepts the String form.
func ParseAnnotator(s string) (Annotator, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range annotatorNames {
		if n == s {
			return Annotator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown annotator %q", s)
}

// boxRect maps a normalised box to pixels inside dst, clipped.
func boxRect(dst *image.RGBA, box wire.BBox) image.Rectangle {
	b := dst.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	r := image.Rect(
		b.Min.X+int(box.X0*w), b.Min.Y+int(box.Y0*h),
		b.Min.X+int(box.X1*w), b.Min.Y+int(box.Y1*h),
	)
	return r.Intersect(b)
}

// Annotate marks every detection in dets on dst with a.
func Annotate(dst *image.RGBA, dets []wire.Detection, a Annotator) {
	for _, d := range dets {
		r := boxRect(dst, d.Box)
		if r.Empty() {
			continue
		}
		switch a {
		case AnnotateBox:
			drawRect(dst, r, AnnotationColor)
		case AnnotateCorner:
			drawCorners(dst, r, AnnotationColor)
		case AnnotateColor:
			fillBlend(dst, r, AnnotationColor, 0.5)
		case AnnotateTriangle:
			drawTriangle(dst, r, AnnotationColor)
		case AnnotateEllipse:
			drawEllipse(dst, r, AnnotationColor)
		case AnnotateBlur:
			blurRegion(dst, r, AnnotationBlurSize)
		}
	}
}

// drawRect outlines r two pixels thick, inside its bounds.
func drawRect(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	for i := 0; i < 2 && r.Dx() > 2*i && r.Dy() > 2*i; i++ {
		x0, y0, x1, y1 := r.Min.X+i, r.Min.Y+i, r.Max.X-1-i, r.Max.Y-1-i
		drawLine(dst, image.Pt(x0, y0), image.Pt(x1, y0), c)
		drawLine(dst, image.Pt(x1, y0), image.Pt(x1, y1), c)
		drawLine(dst, image.Pt(x1, y1), image.Pt(x0, y1), c)
		drawLine(dst, image.Pt(x0, y1), image.Pt(x0, y0), c)
	}
}

func drawCorners(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	n := max(1, min(r.Dx(), r.Dy())/4)
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X-1, r.Max.Y-1
	for _, p := range [][3]image.Point{
		{image.Pt(x0+n, y0), image.Pt(x0, y0), image.Pt(x0, y0+n)},
		{image.Pt(x1-n, y0), image.Pt(x1, y0), image.Pt(x1, y0+n)},
		{image.Pt(x0+n, y1), image.Pt(x0, y1), image.Pt(x0, y1-n)},
		{image.Pt(x1-n, y1), image.Pt(x1, y1), image.Pt(x1, y1-n)},
	} {
		drawLine(dst, p[0], p[1], c)
		drawLine(dst, p[1], p[2], c)
	}
}

func fillBlend(dst *image.RGBA, r image.Rectangle, c color.RGBA, alpha float64) {
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a)*(1-alpha) + float64(b)*alpha))
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px := dst.RGBAAt(x, y)
			dst.SetRGBA(x, y, color.RGBA{R: mix(px.R, c.R), G: mix(px.G, c.G), B: mix(px.B, c.B), A: 255})
		}
	}
}

// drawTriangle fills a downward-pointing marker above the box's top edge.
func drawTriangle(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	const size = 10
	cx, tip := (r.Min.X+r.Max.X)/2, r.Min.Y
	for row := 0; row < size; row++ {
		y := tip - row
		half := row / 2
		drawLine(dst, image.Pt(cx-half, y), image.Pt(cx+half, y), c)
	}
}

// drawEllipse draws a flat ellipse on the ground under the box, as wide as
// the box and a quarter as tall.
func drawEllipse(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	cx, cy := float64(r.Min.X+r.Max.X)/2, float64(r.Max.Y-1)
	rx := float64(r.Dx()) / 2
	ry := math.Max(1, rx/4)
	const steps = 48
	prev := image.Pt(int(cx+rx), int(cy))
	for i := 1; i <= steps; i++ {
		t := 2 * math.Pi * float64(i) / steps
		p := image.Pt(int(math.Round(cx+rx*math.Cos(t))), int(math.Round(cy+ry*math.Sin(t))))
		drawLine(dst, prev, p, c)
		prev = p
	}
}

// blurRegion replaces r with its box-blurred contents, channel by channel.
func blurRegion(dst *image.RGBA, r image.Rectangle, size int) {
	w, h := r.Dx(), r.Dy()
	for ch := 0; ch < 3; ch++ {
		g := NewGrid(w, h)
		for y := 0; y < h; y++ {
			off := dst.PixOffset(r.Min.X, r.Min.Y+y)
			for x := 0; x < w; x++ {
				g.Data[y*w+x] = float64(dst.Pix[off+4*x+ch])
			}
		}
		g = BoxBlur(g, size)
		for y := 0; y < h; y++ {
			off := dst.PixOffset(r.Min.X, r.Min.Y+y)
			for x := 0; x < w; x++ {
				dst.Pix[off+4*x+ch] = uint8(math.Round(g.Data[y*w+x]))
			}
		}
	}
}
