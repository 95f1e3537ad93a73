// Package evaluation scores classification maps against hand-made
// reference maps.
package evaluation

import (
	"fmt"
	"math"

	"foil-inspector/internal/raster"
)

// Confusion counts pixel agreement between a reference map and a result.
type Confusion struct {
	TruePositives  int
	TrueNegatives  int
	FalsePositives int
	FalseNegatives int
	TotalPixels    int
}

// Compare counts agreement over the pixels inside mask; a nil mask covers
// the whole map.
func Compare(reference, result, mask *raster.Mask) (Confusion, error) {
	var c Confusion
	if !reference.SameShape(result) {
		return c, fmt.Errorf("reference %dx%d vs result %dx%d: %w",
			reference.Width, reference.Height, result.Width, result.Height, raster.ErrShapeMismatch)
	}
	if mask != nil && !mask.SameShape(result) {
		return c, fmt.Errorf("mask %dx%d vs result %dx%d: %w",
			mask.Width, mask.Height, result.Width, result.Height, raster.ErrShapeMismatch)
	}

	for i, want := range reference.Bits {
		if mask != nil && !mask.Bits[i] {
			continue
		}
		got := result.Bits[i]
		c.TotalPixels++
		switch {
		case want && got:
			c.TruePositives++
		case !want && !got:
			c.TrueNegatives++
		case got:
			c.FalsePositives++
		default:
			c.FalseNegatives++
		}
	}
	return c, nil
}

// Precision is NaN when the result marks nothing.
func (c Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is NaN when the reference marks nothing.
func (c Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

func (c Confusion) FMeasure() float64 {
	return c.fBeta(1)
}

// PseudoFMeasure weighs precision above recall (beta 0.5).
func (c Confusion) PseudoFMeasure() float64 {
	return c.fBeta(0.5)
}

func (c Confusion) fBeta(beta float64) float64 {
	if c.TruePositives == 0 {
		return 0
	}
	p, r := c.Precision(), c.Recall()
	b2 := beta * beta
	return (1 + b2) * p * r / (b2*p + r)
}

// NRM is the negative rate metric, 0 for a perfect match.
func (c Confusion) NRM() float64 {
	denominator := 2 * (c.TruePositives + c.TrueNegatives)
	if denominator == 0 {
		return 1
	}
	return float64(c.FalseNegatives+c.FalsePositives) / float64(denominator)
}

// RelativeError is (standard-measured)/standard, NaN for a zero standard.
func RelativeError(standard, measured float64) float64 {
	if standard == 0 {
		return math.NaN()
	}
	return (standard - measured) / standard
}

func ratio(num, den int) float64 {
	if den == 0 {
		return math.NaN()
	}
	return float64(num) / float64(den)
}
