// Package video supplies raw frames to the capture stage.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"github.com/banshee-data/footfall/internal/timeutil"
)

// ErrSourceClosed is returned by Read after Close.
var ErrSourceClosed = errors.New("video source closed")

// MaxWidth and MaxHeight cap preview frames.
const (
	MaxWidth  = 1920
	MaxHeight = 1080
)

// Frame is one captured picture. Image is owned by the receiver once
// returned from Read.
type Frame struct {
	Seq   uint64
	Time  time.Time
	Image *image.RGBA
}

// Source produces frames at its own pace. Read blocks until the next frame
// is ready or ctx ends.
type Source interface {
	Name() string
	Read(ctx context.Context) (*Frame, error)
	Close() error
}

// ClampSize scales w×h down, keeping aspect, to fit MaxWidth×MaxHeight.
func ClampSize(w, h int) (int, int) {
	if w <= MaxWidth && h <= MaxHeight {
		return w, h
	}
	sw := float64(MaxWidth) / float64(w)
	sh := float64(MaxHeight) / float64(h)
	s := min(sw, sh)
	return int(float64(w) * s), int(float64(h) * s)
}

// Synthetic renders a static gradient scene at a fixed frame rate. It
// stands in for the camera on development hosts.
type Synthetic struct {
	width, height int
	interval      time.Duration
	clock         timeutil.Clock
	ticker        timeutil.Ticker
	background    *image.RGBA

	seq    atomic.Uint64
	closed atomic.Bool
}

// NewSynthetic returns a source producing w×h frames at fps.
func NewSynthetic(w, h int, fps float64, clock timeutil.Clock) *Synthetic {
	w, h = ClampSize(w, h)
	if fps <= 0 {
		fps = 25
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := time.Duration(float64(time.Second) / fps)
	return &Synthetic{
		width:      w,
		height:     h,
		interval:   interval,
		clock:      clock,
		ticker:     clock.NewTicker(interval),
		background: gradient(w, h),
	}
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		shade := uint8(40 + 80*y/max(h, 1))
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: shade, B: shade + 10, A: 255})
		}
	}
	return img
}

// Name implements Source.
func (s *Synthetic) Name() string { return "synthetic" }

// Read implements Source.
func (s *Synthetic) Read(ctx context.Context) (*Frame, error) {
	if s.closed.Load() {
		return nil, ErrSourceClosed
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case now := <-s.ticker.C():
		img := image.NewRGBA(s.background.Rect)
		copy(img.Pix, s.background.Pix)
		return &Frame{Seq: s.seq.Add(1), Time: now, Image: img}, nil
	}
}

// Close implements Source.
func (s *Synthetic) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.ticker.Stop()
	}
	return nil
}

// Open returns the source named by kind: "synthetic" or "gocv".
func Open(kind, device string, w, h int, fps float64, clock timeutil.Clock) (Source, error) {
	switch kind {
	case "synthetic", "":
		return NewSynthetic(w, h, fps, clock), nil
	case "gocv":
		return OpenCapture(device)
	}
	return nil, fmt.Errorf("unknown video source %q", kind)
}
