package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall/internal/timeutil"
)

func TestClampSize(t *testing.T) {
	w, h := ClampSize(1280, 720)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	w, h = ClampSize(3840, 2160)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestSynthetic_ReadOnTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := NewSynthetic(32, 16, 25, clock)
	defer src.Close()

	got := make(chan *Frame, 1)
	go func() {
		f, err := src.Read(context.Background())
		if err == nil {
			got <- f
		}
	}()
	clock.Advance(40 * time.Millisecond)

	select {
	case f := <-got:
		assert.Equal(t, uint64(1), f.Seq)
		assert.Equal(t, 32, f.Image.Bounds().Dx())
		assert.Equal(t, 16, f.Image.Bounds().Dy())
	case <-time.After(time.Second):
		t.Fatal("no frame after one tick")
	}
}

func TestSynthetic_ReadHonoursContextAndClose(t *testing.T) {
	src := NewSynthetic(8, 8, 1, timeutil.NewMockClock(time.Now()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	_, err = src.Read(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestOpenCapture_WithoutTag(t *testing.T) {
	if Available {
		t.Skip("built with OpenCV")
	}
	_, err := OpenCapture("")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	src, err := Open("synthetic", "", 4000, 1000, 10, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "synthetic", src.Name())

	_, err = Open("webcam", "", 640, 480, 10, nil)
	assert.ErrorContains(t, err, "unknown video source")
}
