// Package edgemask separates the foil in a large composite scan from the
// background around it.
package edgemask

import (
	"errors"
	"fmt"
	"image"
	"math"

	"foil-inspector/internal/imaging"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/raster"
)

var ErrInvalidImage = errors.New("invalid image for edge masking")

// Scans are reduced to about one millimetre of height before masking.
const targetHeightMicrons = 1000.0

type Config struct {
	// MaxFeatureSize is the widest gap, in microns, bridged inside the foil.
	MaxFeatureSize int
	// BackgroundThreshold is the brightest value still read as background.
	BackgroundThreshold int
	// LegacyWarning reproduces the historical check, which reported
	// "everything is masked" whenever the mask was not empty.
	LegacyWarning bool
}

func DefaultConfig() Config {
	return Config{MaxFeatureSize: 2000, BackgroundThreshold: 95}
}

type Masker struct {
	cfg     Config
	toolkit *imaging.Toolkit
	logger  logger.Logger
}

func NewMasker(cfg Config, toolkit *imaging.Toolkit, log logger.Logger) *Masker {
	return &Masker{cfg: cfg, toolkit: toolkit, logger: logger.OrNop(log)}
}

// Mask returns true over the foil and false over the background connected
// to the scan border. Holes enclosed by foil stay true. resolution is the
// area of one pixel in square microns.
func (m *Masker) Mask(img *image.Gray, resolution float64) (*raster.Mask, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%dx%d image: %w", w, h, ErrInvalidImage)
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("resolution %v: %w", resolution, ErrInvalidImage)
	}

	pitch := math.Sqrt(resolution)
	rh := int(targetHeightMicrons / pitch)
	if rh < 1 {
		return nil, fmt.Errorf("resolution %v leaves no rows: %w", resolution, ErrInvalidImage)
	}
	factor := float64(rh) / float64(h)
	rw := imaging.ScaledSize(w, factor)
	kernel := max(1, int(factor*float64(m.cfg.MaxFeatureSize)/pitch))

	m.logger.Debug("EdgeMasker", "resizing scan", map[string]interface{}{
		"height":       rh,
		"width":        rw,
		"factor":       factor,
		"kernel_width": kernel,
	})

	resized, err := m.toolkit.Resize(img, rw, rh)
	if err != nil {
		return nil, fmt.Errorf("resize: %w", err)
	}
	sample, err := m.toolkit.ThresholdBinary(resized, clampByte(m.cfg.BackgroundThreshold))
	if err != nil {
		return nil, fmt.Errorf("threshold: %w", err)
	}
	closed, err := m.toolkit.CloseMask(sample, imaging.Rect(kernel))
	if err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}

	background := closed.Not()
	seed := borderRing(background)
	if !seed.Any() {
		m.logger.Warning("EdgeMasker", "no background on the scan border, keeping the whole scan", nil)
	}
	edge, err := m.toolkit.FloodFromSeed(background, seed)
	if err != nil {
		return nil, fmt.Errorf("flood: %w", err)
	}

	foil := edge.Not()
	if half := kernel / 2; half >= 1 {
		if foil, err = m.toolkit.ErodeMask(foil, imaging.Rect(half)); err != nil {
			return nil, fmt.Errorf("erode: %w", err)
		}
	}

	out, err := m.toolkit.ResizeMask(foil, w, h)
	if err != nil {
		return nil, fmt.Errorf("resize back: %w", err)
	}
	m.check(out)
	return out, nil
}

func (m *Masker) check(out *raster.Mask) {
	n := out.Count()
	fields := map[string]interface{}{"foil_pixels": n, "total_pixels": len(out.Bits)}

	if m.cfg.LegacyWarning {
		if n != 0 {
			m.logger.Warning("EdgeMasker", "everything is masked", fields)
		}
		return
	}
	switch {
	case n == 0:
		m.logger.Warning("EdgeMasker", "everything is masked", fields)
	case n < len(out.Bits)-n:
		m.logger.Warning("EdgeMasker", "mask is mostly background", fields)
	}
}

// borderRing keeps the set pixels of m that lie on its outermost ring.
func borderRing(m *raster.Mask) *raster.Mask {
	out := raster.NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if (x == 0 || y == 0 || x == m.Width-1 || y == m.Height-1) && m.At(x, y) {
				out.Set(x, y, true)
			}
		}
	}
	return out
}

func clampByte(v int) uint8 {
	return uint8(max(0, min(v, 255)))
}
