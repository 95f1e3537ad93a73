package measure

import (
	"math"
	"testing"

	"foil-inspector/internal/opencv/memory"
	"foil-inspector/internal/raster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMeter(t *testing.T) *Meter {
	tracker := memory.NewTracker(nil)
	t.Cleanup(func() {
		assert.Zero(t, tracker.Live(), "Mats leaked")
	})
	return NewMeter(tracker)
}

func square(m *raster.Mask, x0, y0, size int) {
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			m.Set(x, y, true)
		}
	}
}

func TestBlobs(t *testing.T) {
	m := raster.NewMask(40, 30)
	square(m, 2, 2, 10)
	square(m, 20, 20, 3)
	m.Set(35, 5, true)
	m.Set(36, 6, true) // diagonal neighbour joins the same particle

	blobs, err := newMeter(t).Blobs(m, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, blobs.Count)
	assert.Equal(t, 111, blobs.Pixels)
	assert.InDelta(t, 222, blobs.Area, 1e-9)
	assert.Equal(t, []float64{200, 18, 4}, blobs.Sizes)

	assert.Zero(t, blobs.Labels[0])
	assert.NotZero(t, blobs.Labels[2*40+2])
	assert.Equal(t, blobs.Labels[5*40+35], blobs.Labels[6*40+36])

	mean, sd := blobs.SizeStats()
	assert.InDelta(t, 74, mean, 1e-9)
	assert.Greater(t, sd, 0.0)
}

func TestBlobsEmpty(t *testing.T) {
	blobs, err := newMeter(t).Blobs(raster.NewMask(5, 5), 1)
	require.NoError(t, err)

	assert.Zero(t, blobs.Count)
	assert.Zero(t, blobs.Area)
	mean, sd := blobs.SizeStats()
	assert.True(t, math.IsNaN(mean))
	assert.True(t, math.IsNaN(sd))
}

func TestBlobsSingleParticle(t *testing.T) {
	m := raster.NewMask(10, 10)
	square(m, 0, 0, 10)

	blobs, err := newMeter(t).Blobs(m, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, blobs.Count)

	mean, sd := blobs.SizeStats()
	assert.Equal(t, 100.0, mean)
	assert.Zero(t, sd)
}

func TestAreaUnits(t *testing.T) {
	assert.Equal(t, 100.0, Area(100, 1))
	assert.InDelta(t, 0.0001, ToSquareMM(Area(100, 1)), 1e-12)
}
