// Package config loads footfall settings from built-in defaults, an
// optional YAML file and FOOTFALL_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/banshee-data/footfall/internal/heatmap"
	"github.com/banshee-data/footfall/internal/stability"
	"github.com/banshee-data/footfall/internal/transport"
	"github.com/banshee-data/footfall/internal/wire"
)

// EnvPrefix namespaces environment overrides. Nested keys are separated
// by a double underscore: FOOTFALL_TRANSPORT__MODE=serial.
const EnvPrefix = "FOOTFALL_"

// Role selects the defaults for one of the two binaries.
type Role string

const (
	RoleHost   Role = "host"
	RoleSensor Role = "sensor"
)

// Transport modes.
const (
	ModeTCPListen = "tcp-listen"
	ModeTCPDial   = "tcp-dial"
	ModeSerial    = "serial"
	ModePCAP      = "pcap"
)

// Config is the complete runtime configuration.
type Config struct {
	Transport TransportConfig `koanf:"transport"`
	Heatmap   heatmap.Config  `koanf:"heatmap"`
	Stability StabilityConfig `koanf:"stability"`
	Trace     TraceConfig     `koanf:"trace"`
	Video     VideoConfig     `koanf:"video"`
	Detector  DetectorConfig  `koanf:"detector"`
	Render    RenderConfig    `koanf:"render"`
	HTTP      HTTPConfig      `koanf:"http"`
	Shutdown  ShutdownConfig  `koanf:"shutdown"`
}

// TransportConfig selects and parameterises the protocol endpoint.
type TransportConfig struct {
	Mode         string                `koanf:"mode"`
	Listen       string                `koanf:"listen"`
	Dial         string                `koanf:"dial"`
	SerialPath   string                `koanf:"serial_path"`
	Serial       transport.PortOptions `koanf:"serial"`
	PCAPFile     string                `koanf:"pcap_file"`
	PCAPPort     int                   `koanf:"pcap_port"`
	PCAPRealtime bool                  `koanf:"pcap_realtime"`
	Backoff      time.Duration         `koanf:"backoff"`
	ReadTimeout  time.Duration         `koanf:"read_timeout"`
	ChunkSize    int                   `koanf:"chunk_size"`
	MaxFrame     int                   `koanf:"max_frame"`
}

// StabilityConfig tunes the anti-jitter filter.
type StabilityConfig struct {
	Tolerance float64 `koanf:"tolerance"`
}

// TraceConfig sizes trail history.
type TraceConfig struct {
	Length int `koanf:"length"`
}

// VideoConfig selects the frame source.
type VideoConfig struct {
	// Source is "synthetic" or "gocv".
	Source string  `koanf:"source"`
	Device string  `koanf:"device"`
	Width  int     `koanf:"width"`
	Height int     `koanf:"height"`
	FPS    float64 `koanf:"fps"`
}

// DetectorConfig parameterises the synthetic detector.
type DetectorConfig struct {
	People int   `koanf:"people"`
	Seed   int64 `koanf:"seed"`
}

// RenderConfig controls the host's composited output.
type RenderConfig struct {
	Interval    time.Duration `koanf:"interval"`
	Horizon     string        `koanf:"horizon"`
	Sensitivity float64       `koanf:"sensitivity"`
	Alpha       float64       `koanf:"alpha"`
	Heatmap     bool          `koanf:"heatmap"`
	Trails      bool          `koanf:"trails"`
	Labels      bool          `koanf:"labels"`
	Annotator   string        `koanf:"annotator"`
}

// HTTPConfig configures the status server; an empty Listen disables it.
type HTTPConfig struct {
	Listen string `koanf:"listen"`
}

// ShutdownConfig bounds how long stages get to stop.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Default returns the built-in configuration for role.
func Default(role Role) Config {
	cfg := Config{
		Transport: TransportConfig{
			Mode:        ModeTCPListen,
			Listen:      ":1237",
			Dial:        "127.0.0.1:1237",
			SerialPath:  transport.DefaultSerialPath,
			Serial:      transport.PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
			PCAPPort:    1237,
			Backoff:     transport.DefaultBackoff,
			ReadTimeout: transport.DefaultReadTimeout,
			ChunkSize:   transport.DefaultChunkSize,
			MaxFrame:    wire.DefaultMaxFrameBytes,
		},
		Heatmap:   heatmap.DefaultConfig(),
		Stability: StabilityConfig{Tolerance: stability.DefaultTolerance},
		Trace:     TraceConfig{Length: wire.TrailLength},
		Video:     VideoConfig{Source: "synthetic", Width: 1280, Height: 720, FPS: 25},
		Detector:  DetectorConfig{People: 3, Seed: 1},
		Render: RenderConfig{
			Interval:    10 * time.Millisecond,
			Horizon:     "short",
			Sensitivity: heatmap.MaxSensitivity,
			Alpha:       heatmap.DefaultAlpha,
			Heatmap:     true,
			Trails:      true,
			Labels:      true,
			Annotator:   "box",
		},
		HTTP:     HTTPConfig{Listen: "127.0.0.1:8080"},
		Shutdown: ShutdownConfig{Timeout: 3 * time.Second},
	}
	if role == RoleSensor {
		cfg.Transport.Mode = ModeTCPDial
		cfg.HTTP.Listen = ""
	}
	return cfg
}

// Load layers defaults for role, the YAML file at path (if non-empty) and
// the environment, then validates the result.
func Load(role Role, path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(role), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(role); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps FOOTFALL_RENDER__SENSITIVITY to render.sensitivity.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks cross-field constraints for role.
func (c *Config) Validate(role Role) error {
	var errs []error

	switch c.Transport.Mode {
	case ModeTCPListen:
		if role == RoleSensor {
			errs = append(errs, errors.New("transport.mode tcp-listen is host-only"))
		}
	case ModeTCPDial:
		if role == RoleHost {
			errs = append(errs, errors.New("transport.mode tcp-dial is sensor-only"))
		}
		if c.Transport.Dial == "" {
			errs = append(errs, errors.New("transport.dial is required for tcp-dial"))
		}
	case ModeSerial:
		if _, err := c.Transport.Serial.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("transport.serial: %w", err))
		}
	case ModePCAP:
		if role == RoleSensor {
			errs = append(errs, errors.New("transport.mode pcap is host-only"))
		}
		if c.Transport.PCAPFile == "" {
			errs = append(errs, errors.New("transport.pcap_file is required for pcap"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.mode %q", c.Transport.Mode))
	}
	if c.Transport.Backoff <= 0 {
		errs = append(errs, errors.New("transport.backoff must be positive"))
	}
	if c.Transport.ReadTimeout <= 0 {
		errs = append(errs, errors.New("transport.read_timeout must be positive"))
	}

	if err := c.Heatmap.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("heatmap: %w", err))
	}
	if c.Stability.Tolerance <= 0 || c.Stability.Tolerance >= 1 {
		errs = append(errs, fmt.Errorf("stability.tolerance %v must be in (0,1)", c.Stability.Tolerance))
	}
	if c.Trace.Length < 1 || c.Trace.Length > wire.TrailLength {
		errs = append(errs, fmt.Errorf("trace.length %d must be in 1..%d", c.Trace.Length, wire.TrailLength))
	}
	switch c.Video.Source {
	case "synthetic", "gocv":
	default:
		errs = append(errs, fmt.Errorf("unknown video.source %q", c.Video.Source))
	}
	if c.Video.FPS <= 0 {
		errs = append(errs, errors.New("video.fps must be positive"))
	}
	if _, err := heatmap.ParseHorizon(c.Render.Horizon); err != nil {
		errs = append(errs, fmt.Errorf("render.horizon: %w", err))
	}
	if c.Render.Sensitivity < heatmap.MinSensitivity || c.Render.Sensitivity > heatmap.MaxSensitivity {
		errs = append(errs, fmt.Errorf("render.sensitivity %v must be in %d..%d",
			c.Render.Sensitivity, heatmap.MinSensitivity, heatmap.MaxSensitivity))
	}
	if _, err := heatmap.ParseAnnotator(c.Render.Annotator); err != nil {
		errs = append(errs, fmt.Errorf("render.annotator: %w", err))
	}
	if c.Render.Alpha < 0 || c.Render.Alpha > 1 {
		errs = append(errs, fmt.Errorf("render.alpha %v must be in [0,1]", c.Render.Alpha))
	}
	if c.Render.Interval <= 0 {
		errs = append(errs, errors.New("render.interval must be positive"))
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, errors.New("shutdown.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Endpoint builds the transport endpoint selected by c.
func (c TransportConfig) Endpoint() (transport.Endpoint, error) {
	switch c.Mode {
	case ModeTCPListen:
		return transport.NewTCPListener(c.Listen), nil
	case ModeTCPDial:
		return transport.NewTCPDialer(c.Dial), nil
	case ModeSerial:
		return transport.NewSerialEndpoint(c.SerialPath, c.Serial)
	case ModePCAP:
		return transport.NewPCAPReplay(c.PCAPFile, c.PCAPPort, c.PCAPRealtime)
	}
	return nil, fmt.Errorf("unknown transport mode %q", c.Mode)
}
