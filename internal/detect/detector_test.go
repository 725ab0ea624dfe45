package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_StableIDsAndValidBoxes(t *testing.T) {
	d := NewSynthetic(4, 7)
	first, err := d.Detect(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, first, 4)

	ids := map[int]bool{}
	for _, tr := range first {
		ids[tr.ID] = true
	}
	assert.Len(t, ids, 4, "IDs must be distinct")

	for i := 0; i < 100; i++ {
		tracks, err := d.Detect(context.Background(), nil)
		require.NoError(t, err)
		for j, tr := range tracks {
			assert.True(t, tr.Box.Valid(), "frame %d track %d box %+v", i, tr.ID, tr.Box)
			assert.Equal(t, first[j].ID, tr.ID)
		}
	}
}

func TestSynthetic_Deterministic(t *testing.T) {
	a, _ := NewSynthetic(2, 99).Detect(context.Background(), nil)
	b, _ := NewSynthetic(2, 99).Detect(context.Background(), nil)
	assert.Equal(t, a, b)
}

func TestSynthetic_ReplacesWalkers(t *testing.T) {
	d := NewSynthetic(1, 1)
	first, _ := d.Detect(context.Background(), nil)
	var last []Track
	for i := 0; i < 500; i++ {
		last, _ = d.Detect(context.Background(), nil)
	}
	assert.NotEqual(t, first[0].ID, last[0].ID)
}

func TestSynthetic_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSynthetic(1, 1).Detect(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
