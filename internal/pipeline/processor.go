package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"foil-inspector/internal/classify"
	"foil-inspector/internal/config"
	"foil-inspector/internal/edgemask"
	"foil-inspector/internal/imaging"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/measure"
	"foil-inspector/internal/poster"
	"foil-inspector/internal/raster"
	"foil-inspector/internal/region"
)

// imageProcessor runs the analysis cascade for one scan. It holds no
// per-scan state and may be shared between workers.
type imageProcessor struct {
	cfg        *config.Config
	logger     logger.Logger
	builder    *poster.Builder
	quantizer  poster.Quantizer
	segmenter  *region.Segmenter
	filter     region.FeatureFilter
	thresholds *classify.ThresholdSelector
	classifier *classify.Classifier
	masker     *edgemask.Masker
	meter      *measure.Meter
}

func newImageProcessor(cfg *config.Config, toolkit *imaging.Toolkit, meter *measure.Meter, log logger.Logger) *imageProcessor {
	posterCfg := cfg.PosterBuilder()
	posterCfg.ExcludePt = cfg.Analysis.PosterExcludePt
	if posterCfg.KuwaharaOnly {
		log.Warning("ImageProcessor", "kuwaharaOnly ignored during analysis", nil)
		posterCfg.KuwaharaOnly = false
	}

	return &imageProcessor{
		cfg:        cfg,
		logger:     log,
		builder:    poster.NewBuilder(posterCfg, toolkit, log),
		quantizer:  poster.NearestCode{},
		segmenter:  region.NewSegmenter(cfg.HistogramFeatures(), cfg.Batch.RegionWorkers > 1, log),
		filter:     region.FeatureFilter{Legacy: cfg.Compat.LegacyFeatureFilter},
		thresholds: classify.NewThresholdSelector(nil, cfg.Thresholds.SmallRegionFloor, log),
		classifier: classify.NewClassifier(toolkit, cfg.Classify.DirtKernelRadius, log),
		masker:     edgemask.NewMasker(cfg.EdgeMasker(), toolkit, log),
		meter:      meter,
	}
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (p *imageProcessor) Process(ctx context.Context, data *ImageData, opts Options) (*Result, error) {
	start := time.Now()
	img := data.Image

	if isBlack(img) {
		return nil, fmt.Errorf("%s: %w", data.Name, ErrBlackImage)
	}

	resolution := opts.Resolution
	if resolution <= 0 {
		resolution = p.cfg.Analysis.Resolution
	}

	res := &Result{
		Name:       data.Name,
		Width:      data.Width,
		Height:     data.Height,
		Resolution: resolution,
	}

	mask := opts.Mask
	if mask == nil && p.cfg.Analysis.AutoEdgeMask {
		var err error
		if mask, err = p.masker.Mask(img, resolution); err != nil {
			return nil, fmt.Errorf("edge mask: %w", err)
		}
		res.EdgeMask = mask
	}
	if _, err := raster.Resolve(img, mask); err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	shading, err := p.builder.Build(img, mask)
	if err != nil {
		return nil, fmt.Errorf("poster: %w", err)
	}
	posterImg := p.quantizer.Quantize(shading)
	if opts.KeepPoster {
		res.Poster = posterImg
	}

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	set, err := p.segmenter.Segment(img, posterImg, mask)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	set = region.CleanUp(set, p.filter)

	dominant, err := region.FindDominant(set, p.logger)
	if err != nil {
		if !errors.Is(err, region.ErrNoRegionsFound) {
			return nil, err
		}
		p.logger.Warning("ImageProcessor", "no regions under the mask, nothing to classify", map[string]interface{}{
			"name": data.Name,
		})
	}
	res.Dominant = dominant
	set = p.thresholds.Select(set, dominant)

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	maps, set, err := p.classifier.Classify(img, mask, set)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	res.Maps = maps
	res.Regions = set
	res.Summary = classify.Summarize(maps, set)

	res.FoilArea = measure.Area(res.Summary.Pixels, resolution)
	res.PtArea = measure.Area(res.Summary.PtPixels, resolution)
	res.PtPercent = res.Summary.PtPercent()
	if res.Dirt, err = p.meter.Blobs(maps.Dirt, resolution); err != nil {
		return nil, fmt.Errorf("dirt particles: %w", err)
	}
	res.Duration = time.Since(start)

	p.logger.Info("ImageProcessor", "scan analyzed", map[string]interface{}{
		"name":            res.Name,
		"regions":         set.Len(),
		"dominant":        dominant.String(),
		"foil_area_mm2":   measure.ToSquareMM(res.FoilArea),
		"pt_area_mm2":     measure.ToSquareMM(res.PtArea),
		"pt_percent":      res.PtPercent,
		"dirt_count":      res.Dirt.Count,
		"dirt_area_mm2":   measure.ToSquareMM(res.Dirt.Area),
		"processing_time": res.Duration,
	})

	return res, nil
}

func isBlack(img *image.Gray) bool {
	for _, v := range raster.Compact(img).Pix {
		if v != 0 {
			return false
		}
	}
	return true
}
