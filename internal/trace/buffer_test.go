package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall/internal/wire"
)

func pt(i int) wire.Point {
	return wire.Point{X: float64(i) / 100, Y: 0.5}
}

func TestBuffer_NewestFirstAndPadded(t *testing.T) {
	b := NewBuffer(0)
	for i := 1; i <= 3; i++ {
		b.Push(7, pt(i))
	}
	got := b.Get(7)
	assert.Equal(t, pt(3), got[0])
	assert.Equal(t, pt(2), got[1])
	assert.Equal(t, pt(1), got[2])
	for i := 3; i < wire.TrailLength; i++ {
		assert.True(t, got[i].IsZero(), "slot %d not padding", i)
	}
	assert.Equal(t, []wire.Point{pt(3), pt(2), pt(1)}, b.Points(7))
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(wire.TrailLength)
	for i := 1; i <= wire.TrailLength+5; i++ {
		b.Push(1, pt(i))
	}
	pts := b.Points(1)
	require.Len(t, pts, wire.TrailLength)
	assert.Equal(t, pt(wire.TrailLength+5), pts[0])
	assert.Equal(t, pt(6), pts[len(pts)-1])
}

func TestBuffer_SmallCapacity(t *testing.T) {
	b := NewBuffer(2)
	b.Push(1, pt(1))
	b.Push(1, pt(2))
	b.Push(1, pt(3))
	assert.Equal(t, []wire.Point{pt(3), pt(2)}, b.Points(1))
}

func TestBuffer_UnknownTrack(t *testing.T) {
	b := NewBuffer(0)
	var zero [wire.TrailLength]wire.Point
	assert.Equal(t, zero, b.Get(42))
	assert.Empty(t, b.Points(42))
}

func TestBuffer_EndFrameAgesOutTracks(t *testing.T) {
	b := NewBuffer(3)
	b.Push(1, pt(1))
	b.Push(2, pt(1))

	for i := 0; i < 3; i++ {
		b.Push(2, pt(i+2))
		assert.Equal(t, 0, b.EndFrame())
	}
	// Track 1 was last pushed four frames ago.
	b.Push(2, pt(9))
	assert.Equal(t, 1, b.EndFrame())
	assert.Equal(t, 1, b.Len())
	assert.Empty(t, b.Points(1))
}
