package edgemask

import (
	"image"
	"sync"
	"testing"

	"foil-inspector/internal/imaging"
	"foil-inspector/internal/opencv/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (r *recordingLogger) Info(string, string, map[string]interface{})  {}
func (r *recordingLogger) Error(string, error, map[string]interface{})  {}
func (r *recordingLogger) Debug(string, string, map[string]interface{}) {}
func (r *recordingLogger) Warning(_ string, message string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, message)
}

func newMasker(t *testing.T, cfg Config) (*Masker, *recordingLogger) {
	tracker := memory.NewTracker(nil)
	t.Cleanup(func() {
		assert.Zero(t, tracker.Live(), "Mats leaked")
	})
	log := &recordingLogger{}
	return NewMasker(cfg, imaging.New(tracker), log), log
}

func uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func fill(img *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Pix[img.PixOffset(x, y)] = v
		}
	}
}

// A resolution of 100 µm² per pixel keeps a 100 pixel high scan at its
// own size, and a 200 µm feature size gives a 20 pixel closing kernel.
const unitResolution = 100

func TestMaskSeparatesFoilFromBorder(t *testing.T) {
	img := uniform(100, 100, 40)
	fill(img, image.Rect(25, 25, 75, 75), 200)
	fill(img, image.Rect(45, 45, 55, 55), 30)

	m, log := newMasker(t, Config{MaxFeatureSize: 200, BackgroundThreshold: 95})
	mask, err := m.Mask(img, unitResolution)
	require.NoError(t, err)

	assert.Equal(t, 100, mask.Width)
	assert.Equal(t, 100, mask.Height)
	assert.False(t, mask.At(0, 0))
	assert.False(t, mask.At(2, 50))
	assert.False(t, mask.At(50, 97))
	assert.True(t, mask.At(35, 35))
	assert.True(t, mask.At(50, 50), "enclosed hole stays foil")
	assert.NotContains(t, log.warnings, "everything is masked")
}

func TestMaskKeepsScanWithoutBorderBackground(t *testing.T) {
	m, log := newMasker(t, Config{MaxFeatureSize: 200, BackgroundThreshold: 95})
	mask, err := m.Mask(uniform(100, 100, 200), unitResolution)
	require.NoError(t, err)

	assert.Equal(t, 100*100, mask.Count())
	assert.Contains(t, log.warnings, "no background on the scan border, keeping the whole scan")
}

func TestMaskResizesBackToInputShape(t *testing.T) {
	img := uniform(300, 200, 40)
	fill(img, image.Rect(30, 30, 270, 170), 220)

	m, _ := newMasker(t, Config{MaxFeatureSize: 200, BackgroundThreshold: 95})
	mask, err := m.Mask(img, unitResolution)
	require.NoError(t, err)

	assert.Equal(t, 300, mask.Width)
	assert.Equal(t, 200, mask.Height)
	assert.True(t, mask.At(150, 100))
	assert.False(t, mask.At(1, 1))
}

func TestMaskWarnings(t *testing.T) {
	dark := uniform(100, 100, 10)

	m, log := newMasker(t, Config{MaxFeatureSize: 200, BackgroundThreshold: 95})
	mask, err := m.Mask(dark, unitResolution)
	require.NoError(t, err)
	assert.False(t, mask.Any())
	assert.Equal(t, []string{"everything is masked"}, log.warnings)

	legacy, legacyLog := newMasker(t, Config{MaxFeatureSize: 200, BackgroundThreshold: 95, LegacyWarning: true})
	_, err = legacy.Mask(dark, unitResolution)
	require.NoError(t, err)
	assert.Empty(t, legacyLog.warnings)

	_, err = legacy.Mask(uniform(100, 100, 200), unitResolution)
	require.NoError(t, err)
	assert.Contains(t, legacyLog.warnings, "everything is masked")
}

func TestMaskInvalidInput(t *testing.T) {
	m, _ := newMasker(t, DefaultConfig())

	_, err := m.Mask(image.NewGray(image.Rect(0, 0, 10, 0)), 1)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = m.Mask(uniform(10, 10, 100), 0)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = m.Mask(uniform(10, 10, 100), 4e6)
	assert.ErrorIs(t, err, ErrInvalidImage, "pixel wider than the target height")
}
