// Package measure converts classification maps into physical areas and
// particle statistics.
package measure

import (
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"foil-inspector/internal/opencv/bridge"
	"foil-inspector/internal/opencv/safe"
	"foil-inspector/internal/raster"
)

const (
	squareMicronsPerMM2 = 1e6

	// Column of the component area in the stats Mat.
	ccStatArea = 4
)

// Blobs describes the 8-connected particles of a map. Areas are in square
// microns.
type Blobs struct {
	Count  int
	Pixels int
	Area   float64
	Sizes  []float64
	// Labels holds the particle index of every pixel, row-major; 0 is
	// background.
	Labels []int32
}

type Meter struct {
	tracker safe.MemoryTracker
}

func NewMeter(tracker safe.MemoryTracker) *Meter {
	return &Meter{tracker: tracker}
}

// Area converts a pixel count to square microns for a resolution given as
// square microns per pixel.
func Area(pixels int, resolution float64) float64 {
	return float64(pixels) * resolution
}

func ToSquareMM(um2 float64) float64 {
	return um2 / squareMicronsPerMM2
}

// Blobs labels the particles of m. Sizes are sorted largest first.
func (mt *Meter) Blobs(m *raster.Mask, resolution float64) (Blobs, error) {
	out := Blobs{
		Pixels: m.Count(),
		Labels: make([]int32, len(m.Bits)),
	}
	out.Area = Area(out.Pixels, resolution)
	if out.Pixels == 0 {
		return out, nil
	}

	src, err := bridge.MaskToMat(m, mt.tracker, "blob_src")
	if err != nil {
		return out, err
	}
	defer src.Close()

	labelsRaw, statsRaw, centroidsRaw := gocv.NewMat(), gocv.NewMat(), gocv.NewMat()
	n := gocv.ConnectedComponentsWithStats(src.GetMat(), &labelsRaw, &statsRaw, &centroidsRaw)
	centroidsRaw.Close()

	labels, err := safe.Adopt(labelsRaw, mt.tracker, "blob_labels")
	if err != nil {
		statsRaw.Close()
		return out, fmt.Errorf("blob labels: %w", err)
	}
	defer labels.Close()
	stats, err := safe.Adopt(statsRaw, mt.tracker, "blob_stats")
	if err != nil {
		return out, fmt.Errorf("blob stats: %w", err)
	}
	defer stats.Close()

	statMat := stats.GetMat()
	for i := 1; i < n; i++ {
		pixels := int(statMat.GetIntAt(i, ccStatArea))
		out.Sizes = append(out.Sizes, Area(pixels, resolution))
	}
	out.Count = len(out.Sizes)
	sort.Sort(sort.Reverse(sort.Float64Slice(out.Sizes)))

	labelMat := labels.GetMat()
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.Labels[y*m.Width+x] = labelMat.GetIntAt(y, x)
		}
	}
	return out, nil
}

// SizeStats returns the mean and sample standard deviation of the particle
// sizes. Both are NaN without particles; the deviation is 0 for a single
// particle.
func (b Blobs) SizeStats() (mean, stddev float64) {
	switch len(b.Sizes) {
	case 0:
		return math.NaN(), math.NaN()
	case 1:
		return b.Sizes[0], 0
	}
	return stat.MeanStdDev(b.Sizes, nil)
}
