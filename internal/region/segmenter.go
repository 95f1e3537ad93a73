// Package region splits a scan into the six poster tones and profiles each
// tone's intensity histogram.
package region

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"foil-inspector/internal/histogram"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/raster"
)

var (
	ErrInvalidPoster  = errors.New("poster holds a value outside the six region codes")
	ErrNoRegionsFound = errors.New("no regions found")
)

type Segmenter struct {
	features histogram.FeatureConfig
	parallel bool
	logger   logger.Logger
}

// NewSegmenter returns a Segmenter. When parallel is set the six regions
// are profiled concurrently; results do not depend on it.
func NewSegmenter(features histogram.FeatureConfig, parallel bool, log logger.Logger) *Segmenter {
	return &Segmenter{
		features: features,
		parallel: parallel,
		logger:   logger.OrNop(log),
	}
}

// Segment builds one Record per poster code present under mask. img and
// poster must share a shape; a nil mask covers the whole image.
func (s *Segmenter) Segment(img, poster *image.Gray, mask *raster.Mask) (Set, error) {
	var set Set

	if err := raster.CheckShape(img, poster); err != nil {
		return set, fmt.Errorf("poster vs image: %w", err)
	}
	mask, err := raster.Resolve(img, mask)
	if err != nil {
		return set, err
	}

	img, poster = raster.Compact(img), raster.Compact(poster)
	w, h := img.Rect.Dx(), img.Rect.Dy()

	// Bucket masked pixels by label in one pass.
	pixels := make([][]uint8, NumLabels)
	masks := make([]*raster.Mask, NumLabels)
	for i := range masks {
		masks[i] = raster.NewMask(w, h)
	}
	for i, code := range poster.Pix {
		l, ok := LabelForCode(code)
		if !ok {
			return set, fmt.Errorf("value %d at (%d,%d): %w", code, i%w, i/w, ErrInvalidPoster)
		}
		if !mask.Bits[i] {
			continue
		}
		masks[l].Bits[i] = true
		pixels[l] = append(pixels[l], img.Pix[i])
	}

	profile := func(l Label) {
		if len(pixels[l]) == 0 {
			return
		}
		p, hist := histogram.Analyze(pixels[l], s.features)
		set[l] = &Record{
			Label:     l,
			Mask:      masks[l],
			Histogram: hist,
			Profile:   p,
		}
	}

	if s.parallel {
		var wg sync.WaitGroup
		for _, l := range Labels() {
			wg.Add(1)
			go func(l Label) {
				defer wg.Done()
				profile(l)
			}(l)
		}
		wg.Wait()
	} else {
		for _, l := range Labels() {
			profile(l)
		}
	}

	for _, l := range Labels() {
		r, ok := set.Get(l)
		if !ok {
			s.logger.Debug("RegionSegmenter", "region empty", map[string]interface{}{"label": l.String()})
			continue
		}
		s.logger.Debug("RegionSegmenter", "region profiled", map[string]interface{}{
			"label":      l.String(),
			"population": r.Population(),
			"min":        r.Min,
			"max":        r.Max,
			"mean":       r.Mean,
			"mo_peak":    r.MoPeak,
			"peaks":      r.Peaks,
			"valleys":    r.Valleys,
		})
	}

	return set, nil
}
