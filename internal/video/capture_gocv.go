//go:build gocv

package video

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// DefaultPipeline receives the sensor's RTP/H.264 preview stream.
const DefaultPipeline = "udpsrc port=4999 ! " +
	"application/x-rtp, encoding-name=H264, payload=96 ! " +
	"rtph264depay ! avdec_h264 ! videoconvert ! " +
	"appsink sync=false max-buffers=1 drop=true"

// Capture reads frames through OpenCV. The device is a GStreamer pipeline
// string, a file path or URL, or a camera index.
type Capture struct {
	device string

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	bgr    gocv.Mat
	rgba   gocv.Mat
	seq    atomic.Uint64
	closed bool
}

// Available reports whether this build includes OpenCV capture.
const Available = true

// OpenCapture opens device through GStreamer.
func OpenCapture(device string) (Source, error) {
	if device == "" {
		device = DefaultPipeline
	}
	vc, err := gocv.OpenVideoCaptureWithAPI(device, gocv.VideoCaptureGstreamer)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", device, err)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &Capture{device: device, vc: vc, bgr: gocv.NewMat(), rgba: gocv.NewMat()}, nil
}

// Name implements Source.
func (c *Capture) Name() string { return "gocv" }

// Read implements Source. OpenCV reads block, so ctx is only checked
// between frames.
func (c *Capture) Read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrSourceClosed
	}

	for {
		if ok := c.vc.Read(&c.bgr); !ok {
			return nil, fmt.Errorf("capture %q: stream ended", c.device)
		}
		if !c.bgr.Empty() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	src := c.bgr
	if w, h := ClampSize(c.bgr.Cols(), c.bgr.Rows()); w != c.bgr.Cols() || h != c.bgr.Rows() {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(c.bgr, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
		src = resized
	}
	gocv.CvtColor(src, &c.rgba, gocv.ColorBGRToRGBA)

	img := image.NewRGBA(image.Rect(0, 0, c.rgba.Cols(), c.rgba.Rows()))
	copy(img.Pix, c.rgba.ToBytes())
	return &Frame{Seq: c.seq.Add(1), Time: time.Now(), Image: img}, nil
}

// Close implements Source.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.bgr.Close()
	c.rgba.Close()
	return c.vc.Close()
}
