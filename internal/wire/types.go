// Package wire implements the ASCII detection protocol exchanged between the
// sensor and the host: the fixed-layout frame codec and the stream framer
// that recovers "/B ... /E" delimited frames from an arbitrarily chunked
// byte stream.
package wire

const (
	// TrailLength is the number of trail points carried per detection.
	TrailLength = 30

	// FieldsPerDetection is id + 4 box coordinates + 2 per trail point.
	FieldsPerDetection = 1 + 4 + 2*TrailLength

	// FrameStart and FrameEnd delimit one frame on the wire.
	FrameStart = "/B"
	FrameEnd   = "/E"
)

// Point is a normalised image coordinate. The zero value is the trail
// padding sentinel and never denotes a real point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsZero reports whether p is the padding sentinel.
func (p Point) IsZero() bool { return p.X == 0 && p.Y == 0 }

// BBox is an axis-aligned bounding box in normalised coordinates with
// X0 <= X1 and Y0 <= Y1.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// BottomCenter returns the anchor point under the tracked object.
func (b BBox) BottomCenter() Point {
	return Point{X: b.X0 + (b.X1-b.X0)/2, Y: b.Y1}
}

// Valid reports whether the box is ordered and inside the unit square.
func (b BBox) Valid() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(b.X0) && in(b.Y0) && in(b.X1) && in(b.Y1) && b.X0 <= b.X1 && b.Y0 <= b.Y1
}

// Detection is one tracked object in a frame. Trail holds the most recent
// anchor points newest first, padded with zero Points.
type Detection struct {
	TrackID int                `json:"track_id"`
	Box     BBox               `json:"box"`
	Trail   [TrailLength]Point `json:"trail"`
}

// TrailPoints returns the real (non-padding) trail points, newest first.
func (d Detection) TrailPoints() []Point {
	out := make([]Point, 0, TrailLength)
	for _, p := range d.Trail {
		if p.IsZero() {
			break
		}
		out = append(out, p)
	}
	return out
}

// Frame is one protocol message. Count always equals len(Detections) for
// frames produced by Decode.
type Frame struct {
	Count      int         `json:"count"`
	Detections []Detection `json:"detections"`
}
