package heatmap

import (
	"fmt"
	"strings"
	"time"
)

// Horizon selects one of the three accumulation timescales.
type Horizon int

const (
	// Short covers roughly the last ten minutes.
	Short Horizon = iota
	// Medium covers roughly the last hour.
	Medium
	// Long accumulates for the lifetime of the process.
	Long

	numHorizons = 3
)

// Horizons lists every horizon in display order.
var Horizons = [numHorizons]Horizon{Short, Medium, Long}

func (h Horizon) String() string {
	switch h {
	case Short:
		return "short"
	case Medium:
		return "medium"
	case Long:
		return "long"
	default:
		return fmt.Sprintf("horizon(%d)", int(h))
	}
}

// ParseHorizon accepts the String form plus the labels used by the
// operator UI ("live", "1h", "infinite").
func ParseHorizon(s string) (Horizon, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short", "live", "10m":
		return Short, nil
	case "medium", "1h", "hour":
		return Medium, nil
	case "long", "all", "infinite":
		return Long, nil
	}
	return 0, fmt.Errorf("unknown heatmap horizon %q", s)
}

// Stamp parameterises one horizon. Max of zero means no upper clamp.
type Stamp struct {
	Radius    int     `koanf:"radius" json:"radius"`
	Intensity float64 `koanf:"intensity" json:"intensity"`
	Decay     float64 `koanf:"decay" json:"decay"`
	Max       float64 `koanf:"max" json:"max"`
}

// Config sizes the accumulator grids and sets per-horizon parameters.
type Config struct {
	Width  int `koanf:"width" json:"width"`
	Height int `koanf:"height" json:"height"`

	// FrameRate and the window lengths derive Short.Max and Medium.Max
	// when those are left at zero: one full-intensity hit per frame for
	// the whole window.
	FrameRate    float64       `koanf:"frame_rate" json:"frame_rate"`
	ShortWindow  time.Duration `koanf:"short_window" json:"short_window"`
	MediumWindow time.Duration `koanf:"medium_window" json:"medium_window"`

	Short  Stamp `koanf:"short" json:"short"`
	Medium Stamp `koanf:"medium" json:"medium"`
	Long   Stamp `koanf:"long" json:"long"`

	// BlurSize is the edge of the square box filter applied before
	// rendering.
	BlurSize int `koanf:"blur_size" json:"blur_size"`
	// NoHeatThreshold: blurred cells at or below it are left uncoloured.
	NoHeatThreshold float64 `koanf:"no_heat_threshold" json:"no_heat_threshold"`
	// NormalizeFraction of Max maps to full scale for Short and Medium.
	NormalizeFraction float64 `koanf:"normalize_fraction" json:"normalize_fraction"`
}

// DefaultConfig matches a 1280x720 raster fed at 25 fps.
func DefaultConfig() Config {
	return Config{
		Width:             1280,
		Height:            720,
		FrameRate:         25,
		ShortWindow:       10 * time.Minute,
		MediumWindow:      time.Hour,
		Short:             Stamp{Radius: 25, Intensity: 28, Decay: 4},
		Medium:            Stamp{Radius: 25, Intensity: 34, Decay: 2},
		Long:              Stamp{Radius: 20, Intensity: 3},
		BlurSize:          15,
		NoHeatThreshold:   2,
		NormalizeFraction: 0.8,
	}
}

// Stamp returns the effective parameters for h.
func (c Config) Stamp(h Horizon) Stamp {
	switch h {
	case Short:
		return c.Short
	case Medium:
		return c.Medium
	default:
		return c.Long
	}
}

// withDerived fills zero maxima from the frame rate and windows.
func (c Config) withDerived() Config {
	if c.Short.Max == 0 {
		c.Short.Max = c.FrameRate * c.ShortWindow.Seconds()
	}
	if c.Medium.Max == 0 {
		c.Medium.Max = c.FrameRate * c.MediumWindow.Seconds()
	}
	// Long never decays and is never upper-clamped.
	c.Long.Decay = 0
	c.Long.Max = 0
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("heatmap size %dx%d must be positive", c.Width, c.Height)
	}
	if c.BlurSize < 1 {
		return fmt.Errorf("blur size %d must be at least 1", c.BlurSize)
	}
	if c.NormalizeFraction <= 0 || c.NormalizeFraction > 1 {
		return fmt.Errorf("normalize fraction %v must be in (0,1]", c.NormalizeFraction)
	}
	d := c.withDerived()
	for _, h := range []Horizon{Short, Medium} {
		s := d.Stamp(h)
		if s.Max <= 0 {
			return fmt.Errorf("%s horizon needs a positive max (set max or frame_rate and window)", h)
		}
		if s.Decay < 0 {
			return fmt.Errorf("%s horizon decay %v must not be negative", h, s.Decay)
		}
	}
	for _, h := range Horizons {
		s := d.Stamp(h)
		if s.Radius < 0 || s.Intensity < 0 {
			return fmt.Errorf("%s horizon radius and intensity must not be negative", h)
		}
	}
	return nil
}
