package wire

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned (wrapped in a *DecodeError) when a payload
// does not follow the fixed field layout.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError describes why a payload was rejected.
type DecodeError struct {
	Field  int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field >= 0 {
		return fmt.Sprintf("malformed frame: field %d: %s", e.Field, e.Reason)
	}
	return "malformed frame: " + e.Reason
}

// Is makes errors.Is(err, ErrMalformedFrame) hold for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformedFrame }

func malformed(field int, format string, args ...interface{}) error {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Encode renders dets as a frame payload without delimiters:
// "<count>#<id>#<x0>#<y0>#<x1>#<y1>#<tx>#<ty>..." with three decimals.
func Encode(dets []Detection) string {
	var sb strings.Builder
	sb.Grow(8 + len(dets)*FieldsPerDetection*6)
	sb.WriteString(strconv.Itoa(len(dets)))
	for _, d := range dets {
		sb.WriteByte('#')
		sb.WriteString(strconv.Itoa(d.TrackID))
		writeCoord(&sb, d.Box.X0)
		writeCoord(&sb, d.Box.Y0)
		writeCoord(&sb, d.Box.X1)
		writeCoord(&sb, d.Box.Y1)
		for _, p := range d.Trail {
			if p.IsZero() {
				sb.WriteString("#0#0")
				continue
			}
			writeCoord(&sb, p.X)
			writeCoord(&sb, p.Y)
		}
	}
	return sb.String()
}

func writeCoord(sb *strings.Builder, v float64) {
	sb.WriteByte('#')
	sb.WriteString(strconv.FormatFloat(v, 'f', 3, 64))
}

// AppendMessage appends the complete delimited message for dets to dst.
func AppendMessage(dst []byte, dets []Detection) []byte {
	dst = append(dst, FrameStart...)
	dst = append(dst, ' ')
	dst = append(dst, Encode(dets)...)
	return append(dst, FrameEnd...)
}

// Decode parses a payload produced by Encode. Surrounding whitespace is
// ignored. Trails are normalised so padding never precedes a real point.
func Decode(payload string) (Frame, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Frame{}, malformed(-1, "empty payload")
	}
	tokens := strings.Split(payload, "#")

	count, err := strconv.Atoi(strings.TrimSpace(tokens[0]))
	if err != nil {
		return Frame{}, malformed(0, "count %q is not an integer", tokens[0])
	}
	if count < 0 {
		return Frame{}, malformed(0, "negative count %d", count)
	}
	fields := tokens[1:]
	// Compare by division; count*FieldsPerDetection can overflow.
	if len(fields)%FieldsPerDetection != 0 || len(fields)/FieldsPerDetection != count {
		return Frame{}, malformed(-1, "count %d does not match %d fields of %d per detection",
			count, len(fields), FieldsPerDetection)
	}

	frame := Frame{Count: count, Detections: make([]Detection, 0, count)}
	for i := 0; i < count; i++ {
		base := i * FieldsPerDetection
		block := fields[base : base+FieldsPerDetection]

		var d Detection
		if d.TrackID, err = strconv.Atoi(block[0]); err != nil {
			return Frame{}, malformed(base+1, "track id %q is not an integer", block[0])
		}
		var coords [4]float64
		for j := range coords {
			if coords[j], err = parseCoord(block[1+j]); err != nil {
				return Frame{}, malformed(base+2+j, "%v", err)
			}
		}
		d.Box = BBox{X0: coords[0], Y0: coords[1], X1: coords[2], Y1: coords[3]}

		n := 0
		for k := 0; k < TrailLength; k++ {
			x, err := parseCoord(block[5+2*k])
			if err != nil {
				return Frame{}, malformed(base+6+2*k, "%v", err)
			}
			y, err := parseCoord(block[6+2*k])
			if err != nil {
				return Frame{}, malformed(base+7+2*k, "%v", err)
			}
			p := Point{X: x, Y: y}
			if p.IsZero() {
				continue
			}
			d.Trail[n] = p
			n++
		}
		frame.Detections = append(frame.Detections, d)
	}
	return frame, nil
}

func parseCoord(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("coordinate %q is not a number", s)
	}
	return v, nil
}
