package heatmap

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall/internal/wire"
)

// smallConfig keeps grids tiny and maxima low so decay loops stay fast.
func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 64, 48
	cfg.FrameRate = 1
	cfg.ShortWindow = 100 * time.Second
	cfg.MediumWindow = 300 * time.Second
	cfg.Short.Radius, cfg.Medium.Radius, cfg.Long.Radius = 3, 3, 2
	cfg.BlurSize = 3
	return cfg
}

func centreDetection() wire.Detection {
	return wire.Detection{TrackID: 1, Box: wire.BBox{X0: 0.4, Y0: 0.2, X1: 0.6, Y1: 0.5}}
}

func TestDefaultConfig_DerivedMaxima(t *testing.T) {
	a, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 15000.0, a.Max(Short))
	assert.Equal(t, 90000.0, a.Max(Medium))
	assert.Equal(t, 0.0, a.Max(Long))
}

func TestConfig_Validate(t *testing.T) {
	bad := DefaultConfig()
	bad.Width = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.FrameRate = 0
	assert.Error(t, bad.Validate(), "zero frame rate leaves short max undefined")

	bad = DefaultConfig()
	bad.NormalizeFraction = 1.5
	assert.Error(t, bad.Validate())

	assert.NoError(t, DefaultConfig().Validate())
}

func TestParseHorizon(t *testing.T) {
	for in, want := range map[string]Horizon{"short": Short, "Live": Short, "1h": Medium, "infinite": Long, "long": Long} {
		got, err := ParseHorizon(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseHorizon("week")
	assert.Error(t, err)
}

func TestAccumulator_AnchorIsBottomCentre(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	x, y := a.Anchor(centreDetection().Box)
	// px0 = 25, px1 = 38 → 25 + 6.5 truncated; y = 0.5*48.
	assert.Equal(t, 31, x)
	assert.Equal(t, 24, y)
}

func TestAccumulator_StampAndDecay(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	a.Update([]wire.Detection{centreDetection()})

	x, y := a.Anchor(centreDetection().Box)
	assert.Equal(t, 28.0-4, a.At(Short, x, y))
	assert.Equal(t, 34.0-2, a.At(Medium, x, y))
	assert.Equal(t, 3.0, a.At(Long, x, y))

	// Outside every radius nothing was stamped.
	assert.Equal(t, 0.0, a.At(Short, 0, 0))
	assert.Equal(t, 0.0, a.At(Long, 0, 0))
	assert.Equal(t, uint64(1), a.Updates())
}

func TestAccumulator_StampClippedAtBorder(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	edge := wire.Detection{Box: wire.BBox{X0: 0, Y0: 0.5, X1: 0, Y1: 1}}
	assert.NotPanics(t, func() { a.Update([]wire.Detection{edge}) })
	assert.Equal(t, 3.0, a.At(Long, 0, 47))
}

func TestAccumulator_ClampsRepeatedStamps(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	max := a.Max(Short)

	// Ten overlapping detections in one frame would reach 280 unclamped.
	dets := make([]wire.Detection, 10)
	for i := range dets {
		dets[i] = centreDetection()
	}
	for i := 0; i < 5; i++ {
		a.Update(dets)
	}
	x, y := a.Anchor(centreDetection().Box)
	assert.Equal(t, max, a.At(Short, x, y))
	assert.Equal(t, max, a.Peak(Short))
	assert.Equal(t, a.Max(Medium), a.At(Medium, x, y))
	assert.Equal(t, 150.0, a.At(Long, x, y), "long horizon is never clamped above")
}

func TestAccumulator_DecayConvergence(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	saturate := make([]wire.Detection, 20)
	for i := range saturate {
		saturate[i] = centreDetection()
	}
	for i := 0; i < 50; i++ {
		a.Update(saturate)
	}
	require.Equal(t, a.Max(Short), a.Peak(Short))
	require.Equal(t, a.Max(Medium), a.Peak(Medium))
	longPeak := a.Peak(Long)

	shortSteps := int(math.Ceil(a.Max(Short) / 4))
	mediumSteps := int(math.Ceil(a.Max(Medium) / 2))
	for step := 1; step <= mediumSteps+10; step++ {
		a.Update(nil)
		if step >= shortSteps {
			require.Equal(t, 0.0, a.Peak(Short), "short not drained after %d steps", step)
		}
		if step >= mediumSteps {
			require.Equal(t, 0.0, a.Peak(Medium), "medium not drained after %d steps", step)
		}
		require.Equal(t, longPeak, a.Peak(Long), "long decreased at step %d", step)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	a.Update([]wire.Detection{centreDetection()})
	a.Reset()
	for _, h := range Horizons {
		assert.Equal(t, 0.0, a.Peak(h), h.String())
	}
	assert.Equal(t, uint64(0), a.Updates())
}

func TestBoxBlur_PreservesUniformAndSpreads(t *testing.T) {
	g := NewGrid(10, 10)
	for i := range g.Data {
		g.Data[i] = 5
	}
	out := BoxBlur(g, 5)
	for i, v := range out.Data {
		require.InDelta(t, 5, v, 1e-9, "cell %d", i)
	}

	spike := NewGrid(9, 9)
	spike.Data[4*9+4] = 9
	out = BoxBlur(spike, 3)
	assert.InDelta(t, 1, out.At(4, 4), 1e-9)
	assert.InDelta(t, 1, out.At(3, 5), 1e-9)
	assert.InDelta(t, 0, out.At(0, 0), 1e-9)
}

func TestRender_ShortScaledAgainstFixedMax(t *testing.T) {
	cfg := smallConfig()
	cfg.BlurSize = 1
	a, err := New(cfg)
	require.NoError(t, err)
	a.Update([]wire.Detection{centreDetection()})

	r := a.Render(Short, 100)
	x, y := a.Anchor(centreDetection().Box)
	assert.InDelta(t, 24/(0.8*100), r.Value[y*r.W+x], 1e-9)
	assert.True(t, r.Hot(x, y))
	assert.False(t, r.Hot(0, 0))
	assert.InDelta(t, 80, r.Scale, 1e-9)
}

func TestRender_LongUsesSensitivity(t *testing.T) {
	cfg := smallConfig()
	cfg.BlurSize = 1
	a, err := New(cfg)
	require.NoError(t, err)
	a.Update([]wire.Detection{centreDetection()})
	x, y := a.Anchor(centreDetection().Box)

	full := a.Render(Long, 100)
	assert.InDelta(t, 1, full.Value[y*full.W+x], 1e-9)
	assert.InDelta(t, 3, full.Scale, 1e-9)

	// Below the allowed range the control is clamped to 50%.
	half := a.Render(Long, 10)
	assert.InDelta(t, 1.5, half.Scale, 1e-9)
}

func TestRender_MaskThreshold(t *testing.T) {
	cfg := smallConfig()
	cfg.BlurSize = 1
	a, err := New(cfg)
	require.NoError(t, err)
	// Long intensity 3 exceeds the threshold of 2 after one stamp.
	a.Update([]wire.Detection{centreDetection()})
	x, y := a.Anchor(centreDetection().Box)
	assert.True(t, a.Render(Long, 100).Hot(x, y))

	cfg.Long.Intensity = 2
	b, err := New(cfg)
	require.NoError(t, err)
	b.Update([]wire.Detection{centreDetection()})
	assert.False(t, b.Render(Long, 100).Hot(x, y))
}

func TestHeatColor_Endpoints(t *testing.T) {
	assert.Equal(t, color.RGBA{B: 255, A: 255}, HeatColor(0))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, HeatColor(1))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, HeatColor(0.5))
	assert.Equal(t, HeatColor(1), HeatColor(7))
}

func TestComposite_BlendsOnlyMaskedCells(t *testing.T) {
	r := &Raster{W: 2, H: 1, Value: []float64{1, 0}, Mask: []bool{true, false}}
	dst := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range dst.Pix {
		dst.Pix[i] = 100
	}
	Composite(dst, r, DefaultAlpha)

	assert.Equal(t, color.RGBA{R: 178, G: 50, B: 50, A: 255}, dst.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 178, G: 50, B: 50, A: 255}, dst.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 100}, dst.RGBAAt(3, 0))
}

func TestDrawTracks_DrawsTrail(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 100, 100))
	d := wire.Detection{TrackID: 3, Box: wire.BBox{X0: 0.5, Y0: 0.5, X1: 0.6, Y1: 0.9}}
	d.Trail[0] = wire.Point{X: 0.1, Y: 0.1}
	d.Trail[1] = wire.Point{X: 0.2, Y: 0.1}
	DrawTracks(dst, []wire.Detection{d}, true, true)

	assert.Equal(t, AnnotationColor, dst.RGBAAt(15, 10))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(15, 30))
}

func TestPlotPNG(t *testing.T) {
	a, err := New(smallConfig())
	require.NoError(t, err)
	a.Update([]wire.Detection{centreDetection()})

	var buf bytes.Buffer
	require.NoError(t, PlotPNG(&buf, a.Snapshot(Long), "long", 32))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "not a PNG")

	ds := Downsample(a.Snapshot(Long), 2)
	assert.Equal(t, 32, ds.W)
	assert.Equal(t, 24, ds.H)
}
