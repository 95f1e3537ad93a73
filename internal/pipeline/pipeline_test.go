package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/tiff"

	"foil-inspector/internal/config"
	"foil-inspector/internal/opencv/memory"
	"foil-inspector/internal/raster"
	"foil-inspector/internal/region"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func scan(name string, img *image.Gray) *ImageData {
	return &ImageData{
		Image:  img,
		Name:   name,
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
	}
}

func newCoordinator(t *testing.T, cfg *config.Config) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	tracker := memory.NewTracker(nil)
	t.Cleanup(func() {
		assert.Zero(t, tracker.Live(), "Mats leaked")
	})
	return NewCoordinator(cfg, tracker, nil)
}

func TestAnalyzeUniformScan(t *testing.T) {
	c := newCoordinator(t, nil)
	res, err := c.Analyze(context.Background(), scan("uniform", uniform(100, 100, 120)), Options{Resolution: 1})
	require.NoError(t, err)

	assert.Equal(t, []region.Label{region.Mo}, res.Regions.Present())
	assert.False(t, res.Maps.Pt.Any())
	assert.False(t, res.Maps.Dirt.Any())
	assert.Equal(t, 100*100, res.Maps.Moly.Count())
	assert.Zero(t, res.Dirt.Count)
	assert.Zero(t, res.PtArea)
	assert.Equal(t, 10000.0, res.FoilArea)
	assert.Zero(t, res.PtPercent)
}

func TestAnalyzeBrightSquare(t *testing.T) {
	img := uniform(100, 100, 120)
	fill(img, image.Rect(30, 60, 40, 70), 250)

	c := newCoordinator(t, nil)
	res, err := c.Analyze(context.Background(), scan("square", img), Options{Resolution: 1, KeepPoster: true})
	require.NoError(t, err)

	assert.InDelta(t, 100, res.PtArea, 10)
	assert.True(t, res.Maps.Pt.At(35, 65))
	assert.False(t, res.Maps.Pt.At(10, 10))
	assert.Zero(t, res.Dirt.Count)
	assert.InDelta(t, 1.0, res.PtPercent, 0.1)

	require.NotNil(t, res.Poster)
	assert.Equal(t, uniform(100, 100, region.Mo.Code()).Pix, res.Poster.Pix)
	assert.Nil(t, res.EdgeMask)
}

func TestAnalyzeDirtParticle(t *testing.T) {
	img := uniform(200, 200, 130)
	fill(img, image.Rect(50, 50, 60, 60), 20)

	c := newCoordinator(t, nil)
	res, err := c.Analyze(context.Background(), scan("dirt", img), Options{Resolution: 4})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dirt.Count)
	assert.True(t, res.Maps.Dirt.At(55, 55))
	assert.Greater(t, res.Dirt.Area, 80*4.0)
	assert.LessOrEqual(t, res.Dirt.Area, 100*4.0)
	assert.False(t, res.Maps.Pt.Any())
	assert.True(t, res.Maps.Pt.Or(res.Maps.Dirt).Or(res.Maps.Moly).Equal(raster.Full(200, 200)))
}

func TestAnalyzeResolutionFallsBackToConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.Resolution = 0.5

	res, err := newCoordinator(t, cfg).Analyze(context.Background(), scan("s", uniform(20, 20, 120)), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Resolution)
	assert.Equal(t, 200.0, res.FoilArea)
}

func TestAnalyzeBlackImage(t *testing.T) {
	_, err := newCoordinator(t, nil).Analyze(context.Background(), scan("black", uniform(10, 10, 0)), Options{})
	assert.ErrorIs(t, err, ErrBlackImage)
}

func TestAnalyzeMaskShapeMismatch(t *testing.T) {
	_, err := newCoordinator(t, nil).Analyze(context.Background(), scan("s", uniform(10, 10, 100)),
		Options{Mask: raster.Full(10, 11)})
	assert.ErrorIs(t, err, raster.ErrShapeMismatch)
}

func TestAnalyzeAllFalseMask(t *testing.T) {
	res, err := newCoordinator(t, nil).Analyze(context.Background(), scan("masked", uniform(40, 40, 100)),
		Options{Mask: raster.NewMask(40, 40)})
	require.NoError(t, err)

	assert.Zero(t, res.Regions.Len())
	assert.Equal(t, region.Mo, res.Dominant)
	assert.True(t, math.IsNaN(res.PtPercent))
	assert.False(t, res.Maps.Moly.Any())
}

func TestAnalyzeAutoEdgeMask(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.AutoEdgeMask = true
	cfg.EdgeMask.MaxFeatureSize = 200

	img := uniform(100, 100, 40)
	fill(img, image.Rect(20, 20, 80, 80), 160)

	res, err := newCoordinator(t, cfg).Analyze(context.Background(), scan("edge", img), Options{Resolution: 100})
	require.NoError(t, err)

	require.NotNil(t, res.EdgeMask)
	assert.False(t, res.EdgeMask.At(2, 2))
	assert.True(t, res.EdgeMask.At(50, 50))
	assert.Equal(t, res.EdgeMask.Count(), res.Summary.Pixels)
}

func TestAnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(t, nil).Analyze(ctx, scan("s", uniform(10, 10, 100)), Options{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadAndSaveImages(t *testing.T) {
	dir := t.TempDir()
	c := newCoordinator(t, nil)

	img := uniform(12, 8, 90)
	fill(img, image.Rect(0, 0, 3, 3), 200)
	pngPath := filepath.Join(dir, "in", "scan_01.png")
	require.NoError(t, c.SaveImage(pngPath, img))

	data, err := c.LoadImage(pngPath)
	require.NoError(t, err)
	assert.Equal(t, "scan_01", data.Name)
	assert.Equal(t, "png", data.Format)
	assert.Equal(t, img.Pix, data.Image.Pix)

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	tifPath := filepath.Join(dir, "scan_02.tif")
	require.NoError(t, os.WriteFile(tifPath, buf.Bytes(), 0644))

	data, err = c.LoadImage(tifPath)
	require.NoError(t, err)
	assert.Equal(t, "tiff", data.Format)
	assert.Equal(t, img.Pix, data.Image.Pix)

	_, err = c.LoadImage(filepath.Join(dir, "absent.png"))
	assert.Error(t, err)
}

func TestLoadMask(t *testing.T) {
	dir := t.TempDir()
	c := newCoordinator(t, nil)

	maskImg := uniform(6, 4, 0)
	fill(maskImg, image.Rect(0, 0, 3, 4), 255)
	maskPath := filepath.Join(dir, "mask.png")
	require.NoError(t, c.SaveImage(maskPath, maskImg))

	mask, err := c.LoadMask(maskPath, scan("s", uniform(6, 4, 1)))
	require.NoError(t, err)
	assert.Equal(t, 12, mask.Count())
	assert.True(t, mask.At(2, 3))
	assert.False(t, mask.At(3, 0))

	_, err = c.LoadMask(maskPath, scan("s", uniform(5, 4, 1)))
	assert.ErrorIs(t, err, raster.ErrShapeMismatch)
}

func TestAnalyzeFileAndSaveResult(t *testing.T) {
	dir := t.TempDir()
	c := newCoordinator(t, nil)

	img := uniform(50, 50, 120)
	fill(img, image.Rect(5, 5, 10, 10), 250)
	imgPath := filepath.Join(dir, "foil.png")
	require.NoError(t, c.SaveImage(imgPath, img))

	res, err := c.AnalyzeFile(context.Background(), imgPath, "", Options{Resolution: 1, KeepPoster: true})
	require.NoError(t, err)
	assert.Equal(t, "foil", res.Name)

	out := filepath.Join(dir, "Output")
	require.NoError(t, c.SaveResult(out, res))
	for _, folder := range []string{"PtMaps", "DirtMaps", "PosterMaps"} {
		assert.FileExists(t, filepath.Join(out, folder, "foil.png"))
	}
	assert.NoFileExists(t, filepath.Join(out, "EdgeMasks", "foil.png"))

	saved, err := c.LoadImage(filepath.Join(out, "PtMaps", "foil.png"))
	require.NoError(t, err)
	assert.Equal(t, res.Maps.Pt.Count(), raster.FromGray(saved.Image).Count())
}

func TestWriteReport(t *testing.T) {
	c := newCoordinator(t, nil)
	b, err := c.Analyze(context.Background(), scan("b", uniform(20, 20, 120)), Options{Resolution: 1})
	require.NoError(t, err)
	empty, err := c.Analyze(context.Background(), scan("a", uniform(20, 20, 120)),
		Options{Resolution: 1, Mask: raster.NewMask(20, 20)})
	require.NoError(t, err)

	var buf bytes.Buffer
	header := ReportHeader{
		Title:    "foil-inspector Data",
		Name:     "batch",
		Date:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Computer: "bench",
		Version:  "test",
	}
	require.NoError(t, WriteReport(&buf, header, []*Result{b, empty}, map[string]error{"c": errors.New("boom")}))

	reader := csv.NewReader(strings.NewReader(buf.String()))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 7)

	assert.Equal(t, []string{"foil-inspector Data", "", "batch"}, records[0])
	assert.Equal(t, []string{"Date:", "2024-03-01 12:00:00"}, records[1])
	assert.Equal(t, []string{"Computer:", "bench", "Version", "test"}, records[2])
	assert.Equal(t, "Image", records[3][0])

	assert.Equal(t, "a", records[4][0])
	assert.Equal(t, "NaN", records[4][4])
	assert.Equal(t, "b", records[5][0])
	assert.Equal(t, "0", records[5][4])
	assert.Equal(t, "Mo", records[5][9])
	assert.Equal(t, "c", records[6][0])
	assert.Equal(t, missingCell, records[6][1])
}

func TestEvaluateStandard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "std1")
	c := newCoordinator(t, nil)

	img := uniform(80, 80, 120)
	fill(img, image.Rect(10, 10, 20, 20), 250)
	fill(img, image.Rect(50, 50, 60, 60), 20)
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "std1.tif"), buf.Bytes(), 0644))

	plat := uniform(80, 80, 0)
	fill(plat, image.Rect(10, 10, 20, 20), 255)
	require.NoError(t, c.SaveImage(filepath.Join(dir, standardPtFile), plat))
	dirt := uniform(80, 80, 0)
	fill(dirt, image.Rect(50, 50, 60, 60), 255)
	require.NoError(t, c.SaveImage(filepath.Join(dir, standardDirtFile), dirt))

	report, err := c.EvaluateStandard(context.Background(), dir, Options{Resolution: 1})
	require.NoError(t, err)

	assert.Equal(t, "std1", report.Result.Name)
	assert.Equal(t, 100.0, report.StandardPtArea)
	assert.Equal(t, 1, report.StandardDirtNum)
	assert.InDelta(t, 0, report.ErrorPtArea, 1e-9)
	assert.InDelta(t, 0, report.ErrorDirtNum, 1e-9)
	assert.Greater(t, report.ErrorDirtArea, 0.0, "opening trims the particle corners")
	assert.Equal(t, 1.0, report.Pt.Precision())
	assert.Equal(t, 1.0, report.Pt.Recall())
	assert.Equal(t, 1.0, report.Pt.FMeasure())
	assert.Equal(t, 1.0, report.Pt.PseudoFMeasure())
	assert.Zero(t, report.Pt.NRM())
	assert.Equal(t, 1.0, report.Dirt.Precision(), "dirt map lies inside the reference")
	assert.Less(t, report.Dirt.Recall(), 1.0)
	assert.Greater(t, report.Dirt.FMeasure(), 0.9)
	assert.Greater(t, report.Dirt.PseudoFMeasure(), report.Dirt.FMeasure())

	var out bytes.Buffer
	require.NoError(t, WriteStandardsReport(&out, ReportHeader{Title: "t", Name: "n"}, []*StandardReport{report}))
	r := csv.NewReader(&out)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	columns, row := records[3], records[4]
	require.Len(t, row, len(columns))
	cell := func(name string) string {
		for i, c := range columns {
			if c == name {
				return row[i]
			}
		}
		t.Fatalf("no column %q", name)
		return ""
	}
	assert.Equal(t, "std1", cell("Standard"))
	assert.Equal(t, "0.000", cell("ErrorPtArea"))
	assert.Equal(t, "1.000", cell("Pt Precision"))
	assert.Equal(t, "1.000", cell("Pt Recall"))
	assert.Equal(t, "1.000", cell("Pt PseudoFMeasure"))
	assert.Equal(t, "0.000", cell("Pt NRM"))
	assert.Equal(t, "1.000", cell("Dirt Precision"))
	assert.NotEqual(t, "1.000", cell("Dirt Recall"))
	assert.NotEmpty(t, cell("Dirt FMeasure"))
}
