// Package api serves the host's live output over HTTP: the composited
// frame, heat plots, detections, controls for the render stage, a
// websocket feed, Prometheus metrics and debug pages.
package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"tailscale.com/tsweb"

	"github.com/banshee-data/footfall/internal/heatmap"
	"github.com/banshee-data/footfall/internal/httputil"
	"github.com/banshee-data/footfall/internal/mailbox"
	"github.com/banshee-data/footfall/internal/monitoring"
	"github.com/banshee-data/footfall/internal/pipeline"
	"github.com/banshee-data/footfall/internal/version"
	"github.com/banshee-data/footfall/internal/wire"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const (
	// plotCells caps the columns of server-rendered heat plots.
	plotCells = 160
	// chartCells caps the columns sent to the browser heat chart.
	chartCells = 64

	controlBodyLimit = 1 << 10
)

// Server exposes one host pipeline.
type Server struct {
	host    *pipeline.Host
	hub     *Hub
	started time.Time
}

// NewServer wires a server to host and registers its websocket hub as a
// render sink. Call it before the host runs.
func NewServer(host *pipeline.Host) *Server {
	s := &Server{host: host, hub: NewHub(), started: time.Now()}
	host.Render.AddSink(s.hub)
	return s
}

// Hub returns the websocket hub, to be supervised alongside the pipeline.
func (s *Server) Hub() *Hub { return s.hub }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the logger.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the public routes plus the debug pages under /debug/.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/frame.png", s.framePNG)
	mux.HandleFunc("/heat.png", s.heatPNG)
	mux.HandleFunc("/heat", s.heatChart)
	mux.HandleFunc("/api/detections", s.detections)
	mux.HandleFunc("/api/controls", s.controls)
	mux.HandleFunc("/api/status", s.status)
	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", promhttp.Handler())
	s.AttachDebugRoutes(mux)
	return mux
}

// AttachDebugRoutes adds footfall pages to the tsweb debug index.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("footfall-heat", "interactive heat chart for the selected horizon", s.heatChart)
	debug.HandleFunc("footfall-status", "transport link, mailbox and heat status", s.status)
	debug.HandleSilentFunc("footfall-frame.png", s.framePNG)
	debug.HandleSilentFunc("footfall-heat.png", s.heatPNG)
}

func (s *Server) framePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := s.host.Render.Latest()
	if out == nil {
		httputil.ServiceUnavailable(w, "no frame rendered yet")
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out.Image); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode frame: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Footfall-Seq", strconv.FormatUint(out.Seq, 10))
	_, _ = w.Write(buf.Bytes())
}

// horizonParam reads ?horizon=, defaulting to the render stage's choice.
func (s *Server) horizonParam(r *http.Request) (heatmap.Horizon, error) {
	v := r.URL.Query().Get("horizon")
	if v == "" {
		return s.host.Render.Horizon(), nil
	}
	return heatmap.ParseHorizon(v)
}

func (s *Server) heatPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	h, err := s.horizonParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("%s horizon (%d updates)", h, s.host.Heat.Updates())
	if err := heatmap.PlotPNG(&buf, s.host.Heat.Snapshot(h), title, plotCells); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) heatChart(w http.ResponseWriter, r *http.Request) {
	h, err := s.horizonParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	g := s.host.Heat.Snapshot(h)
	factor := 1
	if g.W > chartCells {
		factor = (g.W + chartCells - 1) / chartCells
	}
	g = heatmap.Downsample(g, factor)

	xs := make([]int, g.W)
	for i := range xs {
		xs[i] = i * factor
	}
	ys := make([]int, g.H)
	for i := range ys {
		ys[i] = i * factor
	}
	data := make([]opts.HeatMapData, 0, g.W*g.H)
	peak := 0.0
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			v := g.At(x, y)
			if v <= 0 {
				continue
			}
			peak = max(peak, v)
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v}})
		}
	}
	if peak == 0 {
		peak = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Footfall heat", Theme: "dark", Width: "1000px", Height: "620px"}),
		charts.WithTitleOpts(opts.Title{Title: "Footfall heat", Subtitle: fmt.Sprintf("horizon=%s cells=%dx%d block=%dpx", h, g.W, g.H, factor)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "x (px)"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "y (px)", Inverse: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(peak),
			InRange:    &opts.VisualMapInRange{Color: []string{"#0000ff", "#00ffff", "#00ff00", "#ffff00", "#ff0000"}},
		}),
	)
	hm.SetXAxis(xs).AddSeries(h.String(), data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// DetectionsResponse is the body of GET /api/detections.
type DetectionsResponse struct {
	Seq        uint64           `json:"seq"`
	Time       time.Time        `json:"time"`
	Horizon    string           `json:"horizon"`
	Count      int              `json:"count"`
	Detections []wire.Detection `json:"detections"`
}

func (s *Server) detections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := s.host.Render.Latest()
	if out == nil {
		httputil.ServiceUnavailable(w, "no frame rendered yet")
		return
	}
	dets := out.Detections
	if dets == nil {
		dets = []wire.Detection{}
	}
	httputil.WriteJSONOK(w, DetectionsResponse{
		Seq:        out.Seq,
		Time:       out.Time,
		Horizon:    out.Horizon.String(),
		Count:      len(dets),
		Detections: dets,
	})
}

// Controls is the render stage's adjustable state. Omitted fields are left
// unchanged by a POST.
type Controls struct {
	Horizon     string   `json:"horizon,omitempty"`
	Sensitivity *float64 `json:"sensitivity,omitempty"`
	Heatmap     *bool    `json:"heatmap,omitempty"`
	Trails      *bool    `json:"trails,omitempty"`
	Labels      *bool    `json:"labels,omitempty"`
	Annotator   string   `json:"annotator,omitempty"`
}

func (s *Server) currentControls() Controls {
	r := s.host.Render
	v := r.Sensitivity()
	heat, trails, labels := r.Heatmap(), r.Trails(), r.Labels()
	return Controls{
		Horizon:     r.Horizon().String(),
		Sensitivity: &v,
		Heatmap:     &heat,
		Trails:      &trails,
		Labels:      &labels,
		Annotator:   r.Annotator().String(),
	}
}

func (s *Server) controls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.currentControls())
	case http.MethodPost, http.MethodPut:
		var req Controls
		if err := httputil.DecodeJSON(w, r, controlBodyLimit, &req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid controls: %v", err))
			return
		}
		// Validate everything before applying anything.
		var h heatmap.Horizon
		if req.Horizon != "" {
			var err error
			if h, err = heatmap.ParseHorizon(req.Horizon); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		var a heatmap.Annotator
		if req.Annotator != "" {
			var err error
			if a, err = heatmap.ParseAnnotator(req.Annotator); err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
		}
		if req.Sensitivity != nil {
			v := *req.Sensitivity
			if v < heatmap.MinSensitivity || v > heatmap.MaxSensitivity {
				httputil.BadRequest(w, fmt.Sprintf("sensitivity %v must be in %d..%d", v, heatmap.MinSensitivity, heatmap.MaxSensitivity))
				return
			}
		}

		render := s.host.Render
		if req.Sensitivity != nil {
			render.SetSensitivity(*req.Sensitivity)
		}
		if req.Horizon != "" {
			render.SetHorizon(h)
		}
		if req.Annotator != "" {
			render.SetAnnotator(a)
		}
		if req.Heatmap != nil {
			render.SetHeatmap(*req.Heatmap)
		}
		if req.Trails != nil {
			render.SetTrails(*req.Trails)
		}
		if req.Labels != nil {
			render.SetLabels(*req.Labels)
		}
		monitoring.Logf("[API] controls now horizon=%s sensitivity=%v heatmap=%t trails=%t labels=%t annotator=%s",
			render.Horizon(), render.Sensitivity(), render.Heatmap(), render.Trails(), render.Labels(), render.Annotator())
		httputil.WriteJSONOK(w, s.currentControls())
	default:
		httputil.MethodNotAllowed(w)
	}
}

// LinkStatus describes the transport endpoint.
type LinkStatus struct {
	Endpoint  string `json:"endpoint"`
	State     string `json:"state"`
	Attempts  uint64 `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Status is the body of GET /api/status.
type Status struct {
	Version     string                   `json:"version"`
	GitSHA      string                   `json:"git_sha"`
	Uptime      string                   `json:"uptime"`
	Link        LinkStatus               `json:"link"`
	Mailboxes   map[string]mailbox.Stats `json:"mailboxes"`
	HeatPeak    map[string]float64       `json:"heat_peak"`
	HeatUpdates uint64                   `json:"heat_updates"`
	RenderSeq   uint64                   `json:"render_seq"`
	Subscribers int                      `json:"subscribers"`
	Controls    Controls                 `json:"controls"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	link := s.host.Link
	st := Status{
		Version: version.Version,
		GitSHA:  version.GitSHA,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Link: LinkStatus{
			Endpoint: link.Name(),
			State:    link.State().String(),
			Attempts: link.Attempts(),
		},
		Mailboxes:   map[string]mailbox.Stats{s.host.Detections.Name(): s.host.Detections.Stats()},
		HeatPeak:    make(map[string]float64, len(heatmap.Horizons)),
		HeatUpdates: s.host.Heat.Updates(),
		Subscribers: s.hub.Len(),
		Controls:    s.currentControls(),
	}
	if err := link.LastError(); err != nil {
		st.Link.LastError = err.Error()
	}
	if s.host.Frames != nil {
		st.Mailboxes[s.host.Frames.Name()] = s.host.Frames.Stats()
	}
	for _, h := range heatmap.Horizons {
		st.HeatPeak[h.String()] = s.host.Heat.Peak(h)
	}
	if out := s.host.Render.Latest(); out != nil {
		st.RenderSeq = out.Seq
	}
	httputil.WriteJSONOK(w, st)
}

// Service runs an http.Server on a pre-bound listener under the
// supervisor, shutting it down gracefully when the context ends.
type Service struct {
	Server          *http.Server
	Listener        net.Listener
	ShutdownTimeout time.Duration
}

func (s *Service) String() string { return "http " + s.Listener.Addr().String() }

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Server.Serve(s.Listener) }()
	monitoring.Logf("[HTTP] serving on http://%s", s.Listener.Addr())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		// The listener is gone; restarting cannot recover it.
		return fmt.Errorf("http server: %v: %w", err, suture.ErrTerminateSupervisorTree)
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = pipeline.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[HTTP] shutdown: %v", err)
		_ = s.Server.Close()
	}
	return ctx.Err()
}
