// Package poster estimates the large-scale shading of a scan and quantizes
// it into the six region codes.
package poster

import (
	"fmt"
	"image"

	"foil-inspector/internal/imaging"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/raster"
)

type Config struct {
	ExcludeDirt    bool
	ExcludePt      bool
	MorphKernel    int
	KuwaharaWindow int
	GaussRadius1   int
	GaussRadius2   int
	ResizeFactor   float64
	// KuwaharaOnly stops after the edge-preserving pass and returns the
	// image at the reduced resolution.
	KuwaharaOnly bool
}

func DefaultConfig() Config {
	return Config{
		ExcludeDirt:    true,
		ExcludePt:      false,
		MorphKernel:    6,
		KuwaharaWindow: 17,
		GaussRadius1:   5,
		GaussRadius2:   3,
		ResizeFactor:   0.1,
	}
}

const (
	averageLow  = 10
	averageHigh = 245
	dirtCeiling = 40
	ptMargin    = 10
)

type Builder struct {
	cfg     Config
	toolkit *imaging.Toolkit
	logger  logger.Logger
}

func NewBuilder(cfg Config, toolkit *imaging.Toolkit, log logger.Logger) *Builder {
	return &Builder{cfg: cfg, toolkit: toolkit, logger: logger.OrNop(log)}
}

// AverageColor is the mean of the masked pixels within [10,245]. It is 0
// when no pixel qualifies.
func AverageColor(img *image.Gray, mask *raster.Mask) (uint8, error) {
	mask, err := raster.Resolve(img, mask)
	if err != nil {
		return 0, err
	}
	img = raster.Compact(img)

	sum, n := 0, 0
	for i, v := range img.Pix {
		if !mask.Bits[i] || v < averageLow || v > averageHigh {
			continue
		}
		sum += int(v)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return uint8(sum / n), nil
}

// Build returns the shading approximation of img, the same shape as img
// unless KuwaharaOnly is set.
func (b *Builder) Build(img *image.Gray, mask *raster.Mask) (*image.Gray, error) {
	avg, err := AverageColor(img, mask)
	if err != nil {
		return nil, fmt.Errorf("average color: %w", err)
	}
	work := b.prepare(img, mask, avg)

	b.logger.Debug("PosterBuilder", "prepared input", map[string]interface{}{
		"average_color": avg,
		"exclude_dirt":  b.cfg.ExcludeDirt,
		"exclude_pt":    b.cfg.ExcludePt,
	})

	w, h := work.Rect.Dx(), work.Rect.Dy()
	proc, err := b.toolkit.Scale(work, b.cfg.ResizeFactor)
	if err != nil {
		return nil, fmt.Errorf("downsample: %w", err)
	}

	// Erosion takes out most platinum spots, dilation most dirt spots.
	if proc, err = b.toolkit.Erode(proc, imaging.Rect(b.cfg.MorphKernel)); err != nil {
		return nil, fmt.Errorf("erode: %w", err)
	}
	if proc, err = b.toolkit.Dilate(proc, imaging.Rect(b.cfg.MorphKernel+1)); err != nil {
		return nil, fmt.Errorf("dilate: %w", err)
	}
	if proc, err = b.toolkit.GaussianBlur(proc, b.cfg.GaussRadius1); err != nil {
		return nil, fmt.Errorf("first blur: %w", err)
	}

	proc = imaging.Kuwahara(proc, b.cfg.KuwaharaWindow)
	if b.cfg.KuwaharaOnly {
		return proc, nil
	}

	if proc, err = b.toolkit.GaussianBlur(proc, b.cfg.GaussRadius2); err != nil {
		return nil, fmt.Errorf("second blur: %w", err)
	}
	if proc, err = b.toolkit.Resize(proc, w, h); err != nil {
		return nil, fmt.Errorf("upsample: %w", err)
	}
	return proc, nil
}

// prepare replaces dirt, platinum and unmasked pixels by avg. mask has
// already been validated against img.
func (b *Builder) prepare(img *image.Gray, mask *raster.Mask, avg uint8) *image.Gray {
	src := raster.Compact(img)
	work := image.NewGray(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	copy(work.Pix, src.Pix)

	if b.cfg.ExcludeDirt {
		for i, v := range work.Pix {
			if v <= dirtCeiling {
				work.Pix[i] = avg
			}
		}
	}

	if b.cfg.ExcludePt {
		hi := 0
		for _, v := range work.Pix {
			hi = max(hi, int(v))
		}
		for i, v := range work.Pix {
			if int(v) >= hi-ptMargin {
				work.Pix[i] = avg
			}
		}
	}

	if mask != nil {
		for i, in := range mask.Bits {
			if !in {
				work.Pix[i] = avg
			}
		}
	}
	return work
}
