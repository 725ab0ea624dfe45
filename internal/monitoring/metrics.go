package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors shared by the pipeline stages. They register on
// the default registry and are served by promhttp on /metrics.
var (
	// FramesDecoded counts protocol frames that decoded cleanly.
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footfall_frames_decoded_total",
		Help: "Protocol frames decoded successfully",
	})

	// FramesEncoded counts frames written to the transport by the sensor.
	FramesEncoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footfall_frames_encoded_total",
		Help: "Protocol frames written to the transport",
	})

	// FramesMalformed counts payloads rejected by the codec.
	FramesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footfall_frames_malformed_total",
		Help: "Protocol frames rejected as malformed",
	})

	// FrameSyncErrors counts framer resynchronisations.
	FrameSyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footfall_frame_sync_errors_total",
		Help: "Times the stream framer discarded bytes to resynchronise",
	})

	// DetectionsPerFrame tracks how many people each decoded frame carries.
	DetectionsPerFrame = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "footfall_detections_per_frame",
		Help:    "Detections carried by each decoded frame",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// MailboxDrops counts values overwritten before being consumed.
	MailboxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footfall_mailbox_drops_total",
		Help: "Values overwritten in a single-slot mailbox before consumption",
	}, []string{"mailbox"})

	// LinkState is 1 for the current state of each endpoint and 0 otherwise.
	LinkState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "footfall_link_state",
		Help: "Current endpoint state (1 = active state)",
	}, []string{"endpoint", "state"})

	// LinkReconnects counts connection attempts after the first.
	LinkReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footfall_link_reconnects_total",
		Help: "Reconnect attempts per endpoint",
	}, []string{"endpoint"})

	// BytesReceived counts raw transport bytes read by the host.
	BytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footfall_bytes_received_total",
		Help: "Raw bytes read from the transport",
	}, []string{"endpoint"})

	// RenderTicks counts render passes, labelled by whether new detections
	// were consumed.
	RenderTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footfall_render_ticks_total",
		Help: "Render stage ticks",
	}, []string{"fresh"})

	// HeatPeak is the current raw peak per horizon.
	HeatPeak = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "footfall_heat_peak",
		Help: "Largest accumulated heat value per horizon",
	}, []string{"horizon"})

	// StabilityRecords is the number of tracks held by the stability filter.
	StabilityRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "footfall_stability_records",
		Help: "Track records held by the stability filter",
	})

	// CaptureFrames counts frames pulled from the video source.
	CaptureFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footfall_capture_frames_total",
		Help: "Video frames read from the capture source",
	})
)

// RecordMailboxDrop is suitable as a mailbox.Mailbox OnDrop hook.
func RecordMailboxDrop(name string) {
	MailboxDrops.WithLabelValues(name).Inc()
}
