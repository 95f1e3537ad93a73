// Package pipeline loads scans, runs the foil analysis on them and writes
// the resulting maps and reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"time"

	"foil-inspector/internal/classify"
	"foil-inspector/internal/config"
	"foil-inspector/internal/imaging"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/measure"
	"foil-inspector/internal/opencv/memory"
	"foil-inspector/internal/poster"
	"foil-inspector/internal/raster"
	"foil-inspector/internal/region"
)

var ErrBlackImage = errors.New("image is black")

type ImageLoader interface {
	LoadFromPath(path string) (*ImageData, error)
	LoadFromReader(reader io.Reader, name string) (*ImageData, error)
	LoadMask(path string, width, height int) (*raster.Mask, error)
}

type ImageSaver interface {
	SaveToWriter(writer io.Writer, img image.Image, format string) error
	SaveToPath(path string, img image.Image) error
}

type ImageProcessor interface {
	Process(ctx context.Context, data *ImageData, opts Options) (*Result, error)
}

type ImageData struct {
	Image  *image.Gray
	Name   string
	Path   string
	Width  int
	Height int
	Format string
}

// Options tune a single analysis. A nil Mask covers the whole scan unless
// automatic edge masking is configured; a zero Resolution uses the
// configured one.
type Options struct {
	Mask       *raster.Mask
	Resolution float64
	KeepPoster bool
}

// Result is the outcome of analyzing one scan. Areas are in square
// microns.
type Result struct {
	Name       string
	Width      int
	Height     int
	Resolution float64

	Maps     classify.Maps
	Regions  region.Set
	Dominant region.Label
	Summary  classify.Summary

	FoilArea  float64
	PtArea    float64
	PtPercent float64
	Dirt      measure.Blobs

	// Poster is kept only on request; EdgeMask only when it was computed.
	Poster   *image.Gray
	EdgeMask *raster.Mask

	Duration time.Duration
}

type Coordinator struct {
	cfg       *config.Config
	tracker   *memory.Tracker
	logger    logger.Logger
	toolkit   *imaging.Toolkit
	meter     *measure.Meter
	loader    ImageLoader
	processor ImageProcessor
	saver     ImageSaver
}

func NewCoordinator(cfg *config.Config, tracker *memory.Tracker, log logger.Logger) *Coordinator {
	log = logger.OrNop(log)
	if tracker == nil {
		tracker = memory.NewTracker(log)
	}
	toolkit := imaging.New(tracker)

	coord := &Coordinator{
		cfg:     cfg,
		tracker: tracker,
		logger:  log,
		toolkit: toolkit,
		meter:   measure.NewMeter(tracker),
	}

	coord.loader = &imageLoader{
		tracker: tracker,
		logger:  log,
	}

	coord.processor = newImageProcessor(cfg, toolkit, coord.meter, log)

	coord.saver = &imageSaver{
		logger: log,
	}

	log.Info("PipelineCoordinator", "initialized", nil)
	return coord
}

func (c *Coordinator) LoadImage(path string) (*ImageData, error) {
	start := time.Now()

	data, err := c.loader.LoadFromPath(path)
	if err != nil {
		c.logger.Error("PipelineCoordinator", err, map[string]interface{}{
			"operation": "load_image",
			"path":      path,
		})
		return nil, err
	}

	c.logger.Debug("PipelineCoordinator", "image loaded", map[string]interface{}{
		"path":      path,
		"load_time": time.Since(start),
	})
	return data, nil
}

func (c *Coordinator) LoadMask(path string, data *ImageData) (*raster.Mask, error) {
	return c.loader.LoadMask(path, data.Width, data.Height)
}

func (c *Coordinator) Analyze(ctx context.Context, data *ImageData, opts Options) (*Result, error) {
	if data == nil || data.Image == nil {
		return nil, fmt.Errorf("no image loaded")
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	res, err := c.processor.Process(ctx, data, opts)
	if err != nil {
		c.logger.Error("PipelineCoordinator", err, map[string]interface{}{
			"operation": "analyze",
			"name":      data.Name,
		})
		return nil, err
	}
	return res, nil
}

// AnalyzeFile loads imagePath and, when maskPath is not empty, its mask,
// then analyzes the scan.
func (c *Coordinator) AnalyzeFile(ctx context.Context, imagePath, maskPath string, opts Options) (*Result, error) {
	data, err := c.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	if maskPath != "" {
		if opts.Mask, err = c.LoadMask(maskPath, data); err != nil {
			return nil, err
		}
	}
	return c.Analyze(ctx, data, opts)
}

// Shading builds the poster shading approximation with the configured
// settings as they are, kuwaharaOnly included.
func (c *Coordinator) Shading(data *ImageData, mask *raster.Mask) (*image.Gray, error) {
	return poster.NewBuilder(c.cfg.PosterBuilder(), c.toolkit, c.logger).Build(data.Image, mask)
}

type output struct {
	folder string
	img    image.Image
}

// SaveResult writes the maps of res below dir in the PtMaps, DirtMaps,
// PosterMaps and EdgeMasks folders.
func (c *Coordinator) SaveResult(dir string, res *Result) error {
	start := time.Now()
	file := res.Name + ".png"

	outputs := []output{
		{"PtMaps", maskImage(res.Maps.Pt)},
		{"DirtMaps", maskImage(res.Maps.Dirt)},
	}
	if res.Poster != nil {
		outputs = append(outputs, output{"PosterMaps", res.Poster})
	}
	if res.EdgeMask != nil {
		outputs = append(outputs, output{"EdgeMasks", res.EdgeMask.ToGray()})
	}

	for _, out := range outputs {
		if out.img == nil {
			continue
		}
		if err := c.saver.SaveToPath(filepath.Join(dir, out.folder, file), out.img); err != nil {
			c.logger.Error("PipelineCoordinator", err, map[string]interface{}{
				"operation": "save_result",
				"name":      res.Name,
			})
			return err
		}
	}

	c.logger.Debug("PipelineCoordinator", "maps saved", map[string]interface{}{
		"name":      res.Name,
		"dir":       dir,
		"save_time": time.Since(start),
	})
	return nil
}

func (c *Coordinator) SaveImage(path string, img image.Image) error {
	return c.saver.SaveToPath(path, img)
}

func (c *Coordinator) Tracker() *memory.Tracker {
	return c.tracker
}

// Shutdown reports Mats that are still alive.
func (c *Coordinator) Shutdown() {
	c.logger.Info("PipelineCoordinator", "shutdown started", nil)

	if leaked := c.tracker.ReportLeaks(10); leaked > 0 {
		c.logger.Warning("PipelineCoordinator", "Mats still alive at shutdown", map[string]interface{}{
			"count": leaked,
		})
	}

	c.logger.Info("PipelineCoordinator", "shutdown completed", nil)
}

func maskImage(m *raster.Mask) image.Image {
	if m == nil {
		return nil
	}
	return m.ToGray()
}
