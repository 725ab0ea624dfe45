package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/banshee-data/footfall/internal/detect"
	"github.com/banshee-data/footfall/internal/heatmap"
	"github.com/banshee-data/footfall/internal/mailbox"
	"github.com/banshee-data/footfall/internal/monitoring"
	"github.com/banshee-data/footfall/internal/stability"
	"github.com/banshee-data/footfall/internal/timeutil"
	"github.com/banshee-data/footfall/internal/trace"
	"github.com/banshee-data/footfall/internal/transport"
	"github.com/banshee-data/footfall/internal/video"
	"github.com/banshee-data/footfall/internal/wire"
)

// Detections is one decoded frame, stamped when it was received.
type Detections struct {
	Seq   uint64
	Time  time.Time
	Frame wire.Frame
}

// CaptureStage copies frames from a video source into a mailbox as fast
// as the source produces them. Frames the consumer has not taken yet are
// overwritten.
type CaptureStage struct {
	Source video.Source
	Out    *mailbox.Mailbox[*video.Frame]
}

func (s *CaptureStage) String() string { return "capture " + s.Source.Name() }

// Serve implements suture.Service.
func (s *CaptureStage) Serve(ctx context.Context) error {
	for {
		f, err := s.Source.Read(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, video.ErrSourceClosed):
			monitoring.Logf("[Capture] source %s closed", s.Source.Name())
			return suture.ErrDoNotRestart
		default:
			return fmt.Errorf("capture %s: %w", s.Source.Name(), err)
		}
		monitoring.CaptureFrames.Inc()
		s.Out.Put(f)
	}
}

// DecodeStage reads the byte stream from a link, recovers frames and
// publishes each decoded frame to Out. Malformed frames are counted and
// skipped; they never interrupt the stream.
type DecodeStage struct {
	Link *transport.Link
	Out  *mailbox.Mailbox[Detections]

	ChunkSize     int
	ReadTimeout   time.Duration
	MaxFrameBytes int
	Clock         timeutil.Clock

	// Tap, when set, sees every raw chunk before framing.
	Tap func([]byte)

	seq       atomic.Uint64
	malformed monitoring.Every
	resync    monitoring.Every
}

func (s *DecodeStage) String() string { return "decode " + s.Link.Name() }

// Serve implements suture.Service.
func (s *DecodeStage) Serve(ctx context.Context) error {
	if s.Clock == nil {
		s.Clock = timeutil.RealClock{}
	}
	if s.malformed.N == 0 {
		s.malformed.N = 100
	}
	if s.resync.N == 0 {
		s.resync.N = 100
	}
	return s.Link.Run(ctx, s.stream)
}

func (s *DecodeStage) stream(ctx context.Context, conn transport.Conn) error {
	name := s.Link.Name()
	framer := &wire.Framer{MaxFrameBytes: s.MaxFrameBytes}
	bytesIn := monitoring.BytesReceived.WithLabelValues(name)

	return transport.ReadLoop(ctx, conn, s.ChunkSize, s.ReadTimeout, func(chunk []byte) {
		bytesIn.Add(float64(len(chunk)))
		if s.Tap != nil {
			s.Tap(chunk)
		}
		payloads, err := framer.Feed(chunk)
		if err != nil {
			monitoring.FrameSyncErrors.Inc()
			s.resync.Logf("[Decode %s] %v", name, err)
		}
		for _, p := range payloads {
			s.Publish(p)
		}
	})
}

// Publish decodes one payload and hands it to the output mailbox. It
// reports whether the payload was well formed.
func (s *DecodeStage) Publish(payload string) bool {
	frame, err := wire.Decode(payload)
	if err != nil {
		monitoring.FramesMalformed.Inc()
		s.malformed.Logf("[Decode] dropping frame: %v", err)
		return false
	}
	monitoring.FramesDecoded.Inc()
	monitoring.DetectionsPerFrame.Observe(float64(frame.Count))

	now := time.Now()
	if s.Clock != nil {
		now = s.Clock.Now()
	}
	s.Out.Put(Detections{Seq: s.seq.Add(1), Time: now, Frame: frame})
	return true
}

// EncodeStage runs on the sensor: it takes the latest frame, detects and
// tracks people, smooths their boxes, extends their trails and writes one
// protocol message per frame to the link. A failed write drops the
// connection and the link reconnects; frames captured meanwhile are
// overwritten in the mailbox.
type EncodeStage struct {
	Link     *transport.Link
	Frames   *mailbox.Mailbox[*video.Frame]
	Detector detect.Detector
	Filter   *stability.Filter
	Trace    *trace.Buffer

	buf []byte
}

func (s *EncodeStage) String() string { return "encode " + s.Link.Name() }

// Serve implements suture.Service. It stops without restart once the
// frame mailbox is closed.
func (s *EncodeStage) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var drained atomic.Bool
	err := s.Link.Run(ctx, func(ctx context.Context, conn transport.Conn) error {
		for {
			f, err := s.Frames.Take(ctx)
			if errors.Is(err, mailbox.ErrClosed) {
				drained.Store(true)
				cancel()
				return nil
			}
			if err != nil {
				return err
			}
			msg, err := s.Encode(ctx, f)
			if err != nil {
				return err
			}
			if err := transport.WriteFull(conn, msg); err != nil {
				monitoring.Logf("[Encode] unable to transmit frame %d: %v", f.Seq, err)
				return err
			}
			monitoring.FramesEncoded.Inc()
		}
	})
	if drained.Load() {
		return suture.ErrDoNotRestart
	}
	return err
}

// Encode turns one frame into a protocol message. Trails are extended
// with the raw tracker anchor; only the transmitted box is smoothed.
func (s *EncodeStage) Encode(ctx context.Context, f *video.Frame) ([]byte, error) {
	dets, err := s.Detections(ctx, f)
	if err != nil {
		return nil, err
	}
	s.buf = wire.AppendMessage(s.buf[:0], dets)
	return s.buf, nil
}

// Detections runs detection, tracking, smoothing and trail bookkeeping
// for one frame.
func (s *EncodeStage) Detections(ctx context.Context, f *video.Frame) ([]wire.Detection, error) {
	tracks, err := s.Detector.Detect(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	for _, t := range tracks {
		s.Trace.Push(t.ID, t.Box.BottomCenter())
	}
	// Trails follow the raw anchors; only the published box is smoothed.
	dets := make([]wire.Detection, 0, len(tracks))
	for _, t := range tracks {
		dets = append(dets, wire.Detection{TrackID: t.ID, Box: t.Box, Trail: s.Trace.Get(t.ID)})
	}
	s.Filter.ApplyFrame(dets)
	s.Trace.EndFrame()
	monitoring.StabilityRecords.Set(float64(s.Filter.Len()))
	return dets, nil
}

// Output is one composited render.
type Output struct {
	Seq        uint64
	Time       time.Time
	Image      *image.RGBA
	Detections []wire.Detection
	Horizon    heatmap.Horizon
	Raster     *heatmap.Raster
}

// Sink receives every new render. Present must not block for long; it
// runs on the render stage's goroutine.
type Sink interface {
	Present(out *Output)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(*Output)

// Present implements Sink.
func (f SinkFunc) Present(out *Output) { f(out) }

// RenderOptions selects what the render stage draws.
type RenderOptions struct {
	Interval    time.Duration
	Horizon     heatmap.Horizon
	Sensitivity float64
	Alpha       float64
	Heatmap     bool
	Trails      bool
	Labels      bool
	Annotator   heatmap.Annotator
}

// RenderStage composites the latest frame, heat overlay and tracks at a
// fixed tick. It never waits on its inputs: without new data it keeps its
// previous output. Options seeds the display controls; after construction
// they change only through the setters.
type RenderStage struct {
	Detections *mailbox.Mailbox[Detections]
	Frames     *mailbox.Mailbox[*video.Frame]
	Heat       *heatmap.Accumulator
	Clock      timeutil.Clock
	Options    RenderOptions

	horizon     atomic.Int32
	sensitivity atomic.Uint64
	showHeat    atomic.Bool
	showTrails  atomic.Bool
	showLabels  atomic.Bool
	annotator   atomic.Int32
	dirty       atomic.Bool

	mu        sync.Mutex
	sinks     []Sink
	current   []wire.Detection
	lastFrame *image.RGBA
	last      *Output
	seq       uint64
}

// NewRenderStage returns a stage reading from dets and frames (frames may
// be nil when there is no video) and accumulating into heat.
func NewRenderStage(dets *mailbox.Mailbox[Detections], frames *mailbox.Mailbox[*video.Frame], heat *heatmap.Accumulator, opts RenderOptions, clock timeutil.Clock) *RenderStage {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Millisecond
	}
	if opts.Sensitivity == 0 {
		opts.Sensitivity = heatmap.MaxSensitivity
	}
	s := &RenderStage{Detections: dets, Frames: frames, Heat: heat, Clock: clock, Options: opts}
	s.SetHorizon(opts.Horizon)
	s.SetSensitivity(opts.Sensitivity)
	s.SetHeatmap(opts.Heatmap)
	s.SetTrails(opts.Trails)
	s.SetLabels(opts.Labels)
	s.SetAnnotator(opts.Annotator)
	return s
}

func (s *RenderStage) String() string { return "render" }

// AddSink registers a consumer of rendered output.
func (s *RenderStage) AddSink(k Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, k)
}

// SetHorizon selects the heat horizon drawn from the next tick on.
func (s *RenderStage) SetHorizon(h heatmap.Horizon) {
	s.horizon.Store(int32(h))
	s.dirty.Store(true)
}

// Horizon returns the selected horizon.
func (s *RenderStage) Horizon() heatmap.Horizon { return heatmap.Horizon(s.horizon.Load()) }

// SetSensitivity sets the long-horizon contrast, clamped to
// MinSensitivity..MaxSensitivity, and returns the stored value.
func (s *RenderStage) SetSensitivity(v float64) float64 {
	v = math.Max(heatmap.MinSensitivity, math.Min(heatmap.MaxSensitivity, v))
	s.sensitivity.Store(math.Float64bits(v))
	s.dirty.Store(true)
	return v
}

// Sensitivity returns the long-horizon contrast.
func (s *RenderStage) Sensitivity() float64 {
	return math.Float64frombits(s.sensitivity.Load())
}

// SetHeatmap toggles the heat overlay.
func (s *RenderStage) SetHeatmap(on bool) {
	s.showHeat.Store(on)
	s.dirty.Store(true)
}

// Heatmap reports whether the heat overlay is drawn.
func (s *RenderStage) Heatmap() bool { return s.showHeat.Load() }

// SetTrails toggles the per-track trace polylines.
func (s *RenderStage) SetTrails(on bool) {
	s.showTrails.Store(on)
	s.dirty.Store(true)
}

func (s *RenderStage) Trails() bool { return s.showTrails.Load() }

// SetLabels toggles the "ID: n" captions.
func (s *RenderStage) SetLabels(on bool) {
	s.showLabels.Store(on)
	s.dirty.Store(true)
}

func (s *RenderStage) Labels() bool { return s.showLabels.Load() }

// SetAnnotator selects how detection boxes are marked.
func (s *RenderStage) SetAnnotator(a heatmap.Annotator) {
	s.annotator.Store(int32(a))
	s.dirty.Store(true)
}

func (s *RenderStage) Annotator() heatmap.Annotator {
	return heatmap.Annotator(s.annotator.Load())
}

// Latest returns the most recent output, or nil before the first render.
func (s *RenderStage) Latest() *Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Serve implements suture.Service.
func (s *RenderStage) Serve(ctx context.Context) error {
	ticker := s.Clock.NewTicker(s.Options.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			s.Tick(now)
		}
	}
}

// Tick runs one render pass. New detections are folded into the heat
// grids before compositing; the heatmap therefore advances once per
// frame taken from the mailbox, not once per tick. It returns the output
// current after the pass and whether it was re-rendered.
func (s *RenderStage) Tick(now time.Time) (*Output, bool) {
	dets, fresh := s.Detections.TryTake()
	var frame *video.Frame
	newFrame := false
	if s.Frames != nil {
		frame, newFrame = s.Frames.TryTake()
	}
	monitoring.RenderTicks.WithLabelValues(fmt.Sprint(fresh)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	if fresh {
		s.Heat.Update(dets.Frame.Detections)
		s.current = dets.Frame.Detections
		for _, h := range heatmap.Horizons {
			monitoring.HeatPeak.WithLabelValues(h.String()).Set(s.Heat.Peak(h))
		}
	}
	if newFrame && frame != nil && frame.Image != nil {
		s.lastFrame = frame.Image
	}
	changed := s.dirty.Swap(false)
	if !fresh && !newFrame && !changed && s.last != nil {
		return s.last, false
	}

	out := s.render(now)
	s.last = out
	for _, k := range s.sinks {
		k.Present(out)
	}
	return out, true
}

func (s *RenderStage) render(now time.Time) *Output {
	cfg := s.Heat.Config()
	var img *image.RGBA
	if s.lastFrame != nil {
		img = image.NewRGBA(s.lastFrame.Bounds())
		draw.Draw(img, img.Bounds(), s.lastFrame, s.lastFrame.Bounds().Min, draw.Src)
	} else {
		img = image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
		draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	}

	h := s.Horizon()
	var raster *heatmap.Raster
	if s.Heatmap() {
		raster = s.Heat.Render(h, s.Sensitivity())
		heatmap.Composite(img, raster, s.Options.Alpha)
	}
	// Annotate before the tracks so a blurred box does not smear its label.
	heatmap.Annotate(img, s.current, s.Annotator())
	if trails, labels := s.Trails(), s.Labels(); trails || labels {
		heatmap.DrawTracks(img, s.current, trails, labels)
	}

	s.seq++
	return &Output{
		Seq:        s.seq,
		Time:       now,
		Image:      img,
		Detections: s.current,
		Horizon:    h,
		Raster:     raster,
	}
}
