package classify

import (
	"fmt"
	"image"

	"foil-inspector/internal/imaging"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/raster"
	"foil-inspector/internal/region"
)

const DefaultDirtKernelRadius = 2

// Maps are the aggregate classification of one scan.
type Maps struct {
	Pt   *raster.Mask
	Dirt *raster.Mask
	Moly *raster.Mask
}

type Classifier struct {
	toolkit    *imaging.Toolkit
	dirtRadius int
	logger     logger.Logger
}

func NewClassifier(toolkit *imaging.Toolkit, dirtRadius int, log logger.Logger) *Classifier {
	return &Classifier{toolkit: toolkit, dirtRadius: dirtRadius, logger: logger.OrNop(log)}
}

// Classify applies each record's cutoffs inside its region. It returns the
// union maps and a copy of set carrying the per-region maps. Records that
// have not been thresholded are rejected.
//
// A cutoff equal to the substrate peak of the region that supplied it
// selects nothing, so a region without bright or dark outliers is all
// substrate.
func (c *Classifier) Classify(img *image.Gray, mask *raster.Mask, set region.Set) (Maps, region.Set, error) {
	mask, err := raster.Resolve(img, mask)
	if err != nil {
		return Maps{}, set, err
	}
	img = raster.Compact(img)
	w, h := img.Rect.Dx(), img.Rect.Dy()

	out := set.Clone()
	maps := Maps{
		Pt:   raster.NewMask(w, h),
		Dirt: raster.NewMask(w, h),
		Moly: raster.NewMask(w, h),
	}

	for _, l := range out.Present() {
		r := out[l]
		if !r.Thresholded {
			return Maps{}, set, fmt.Errorf("region %s has no thresholds", l)
		}
		if !r.Mask.SameShape(mask) {
			return Maps{}, set, fmt.Errorf("region %s: %w", l, raster.ErrShapeMismatch)
		}
		sel := r.Mask.And(mask)

		r.PtMap = raster.NewMask(w, h)
		if r.PtThresh > r.SourcePeak {
			pickInto(r.PtMap, img, sel, func(v int) bool { return v >= r.PtThresh })
		}

		dirt := raster.NewMask(w, h)
		if r.DirtThresh < r.SourcePeak {
			pickInto(dirt, img, sel, func(v int) bool { return v <= r.DirtThresh })
			if dirt.Any() {
				if dirt, err = c.toolkit.OpenMask(dirt, imaging.Diamond(c.dirtRadius)); err != nil {
					return Maps{}, set, fmt.Errorf("region %s dirt opening: %w", l, err)
				}
			}
		}
		r.DirtMap = dirt
		r.MolyMap = sel.AndNot(r.PtMap).AndNot(r.DirtMap)

		maps.Pt = maps.Pt.Or(r.PtMap)
		maps.Dirt = maps.Dirt.Or(r.DirtMap)
		maps.Moly = maps.Moly.Or(r.MolyMap)

		c.logger.Debug("Classifier", "region classified", map[string]interface{}{
			"label":       l.String(),
			"pt_pixels":   r.PtMap.Count(),
			"dirt_pixels": r.DirtMap.Count(),
			"moly_pixels": r.MolyMap.Count(),
		})
	}

	return maps, out, nil
}

func pickInto(dst *raster.Mask, img *image.Gray, sel *raster.Mask, keep func(v int) bool) {
	for i, in := range sel.Bits {
		if in && keep(int(img.Pix[i])) {
			dst.Bits[i] = true
		}
	}
}
