package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/footfall/internal/config"
	"github.com/banshee-data/footfall/internal/detect"
	"github.com/banshee-data/footfall/internal/heatmap"
	"github.com/banshee-data/footfall/internal/mailbox"
	"github.com/banshee-data/footfall/internal/monitoring"
	"github.com/banshee-data/footfall/internal/stability"
	"github.com/banshee-data/footfall/internal/timeutil"
	"github.com/banshee-data/footfall/internal/trace"
	"github.com/banshee-data/footfall/internal/transport"
	"github.com/banshee-data/footfall/internal/video"
)

// Host is the consumer process: capture, decode and render.
type Host struct {
	Coordinator *Coordinator
	Link        *transport.Link
	Heat        *heatmap.Accumulator
	Render      *RenderStage
	Decode      *DecodeStage
	Frames      *mailbox.Mailbox[*video.Frame]
	Detections  *mailbox.Mailbox[Detections]
}

// NewHost assembles the host pipeline. src may be nil to render the heat
// overlay on a blank canvas.
func NewHost(cfg *config.Config, src video.Source, ep transport.Endpoint, clock timeutil.Clock) (*Host, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	heat, err := heatmap.New(cfg.Heatmap)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	horizon, err := heatmap.ParseHorizon(cfg.Render.Horizon)
	if err != nil {
		return nil, err
	}
	annotator, err := heatmap.ParseAnnotator(cfg.Render.Annotator)
	if err != nil {
		return nil, err
	}

	h := &Host{
		Coordinator: NewCoordinator("footfall-host", cfg.Shutdown.Timeout),
		Link:        transport.NewLink(ep, transport.WithBackoff(cfg.Transport.Backoff), transport.WithClock(clock)),
		Heat:        heat,
		Detections:  mailbox.New[Detections]("detections"),
	}
	h.Detections.OnDrop = monitoring.RecordMailboxDrop

	h.Decode = &DecodeStage{
		Link:          h.Link,
		Out:           h.Detections,
		ChunkSize:     cfg.Transport.ChunkSize,
		ReadTimeout:   cfg.Transport.ReadTimeout,
		MaxFrameBytes: cfg.Transport.MaxFrame,
		Clock:         clock,
	}
	h.Coordinator.Add(h.Decode)

	if src != nil {
		h.Frames = mailbox.New[*video.Frame]("frames")
		h.Frames.OnDrop = monitoring.RecordMailboxDrop
		h.Coordinator.Add(&CaptureStage{Source: src, Out: h.Frames})
		h.Coordinator.OnShutdown("video "+src.Name(), src.Close)
		h.Coordinator.OnShutdown("frames", closeMailbox(h.Frames.Close))
	}

	h.Render = NewRenderStage(h.Detections, h.Frames, heat, RenderOptions{
		Interval:    cfg.Render.Interval,
		Horizon:     horizon,
		Sensitivity: cfg.Render.Sensitivity,
		Alpha:       cfg.Render.Alpha,
		Heatmap:     cfg.Render.Heatmap,
		Trails:      cfg.Render.Trails,
		Labels:      cfg.Render.Labels,
		Annotator:   annotator,
	}, clock)
	h.Coordinator.Add(h.Render)

	h.Coordinator.OnShutdown("detections", closeMailbox(h.Detections.Close))
	if c, ok := ep.(io.Closer); ok {
		h.Coordinator.OnShutdown(ep.Name(), c.Close)
	}
	return h, nil
}

// Run blocks until ctx ends and every stage has stopped or been abandoned.
func (h *Host) Run(ctx context.Context) error { return h.Coordinator.Run(ctx) }

// Close releases the endpoint, video source and mailboxes of a host that
// will not be run. Run closes them itself.
func (h *Host) Close() { h.Coordinator.close() }

// Sensor is the producer process: capture, detect and encode.
type Sensor struct {
	Coordinator *Coordinator
	Link        *transport.Link
	Encode      *EncodeStage
	Frames      *mailbox.Mailbox[*video.Frame]
}

// NewSensor assembles the sensor pipeline.
func NewSensor(cfg *config.Config, src video.Source, det detect.Detector, ep transport.Endpoint, clock timeutil.Clock) (*Sensor, error) {
	if src == nil || det == nil {
		return nil, fmt.Errorf("sensor needs a video source and a detector")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Sensor{
		Coordinator: NewCoordinator("footfall-sensor", cfg.Shutdown.Timeout),
		Link:        transport.NewLink(ep, transport.WithBackoff(cfg.Transport.Backoff), transport.WithClock(clock)),
		Frames:      mailbox.New[*video.Frame]("frames"),
	}
	s.Frames.OnDrop = monitoring.RecordMailboxDrop
	s.Encode = &EncodeStage{
		Link:     s.Link,
		Frames:   s.Frames,
		Detector: det,
		Filter:   stability.NewFilter(cfg.Stability.Tolerance),
		Trace:    trace.NewBuffer(cfg.Trace.Length),
	}
	s.Coordinator.Add(&CaptureStage{Source: src, Out: s.Frames})
	s.Coordinator.Add(s.Encode)

	s.Coordinator.OnShutdown("video "+src.Name(), src.Close)
	s.Coordinator.OnShutdown("frames", closeMailbox(s.Frames.Close))
	if c, ok := ep.(io.Closer); ok {
		s.Coordinator.OnShutdown(ep.Name(), c.Close)
	}
	return s, nil
}

// Run blocks until ctx ends and every stage has stopped or been abandoned.
func (s *Sensor) Run(ctx context.Context) error { return s.Coordinator.Run(ctx) }

func closeMailbox(fn func()) func() error {
	return func() error {
		fn()
		return nil
	}
}
