package poster

import (
	"image"

	"foil-inspector/internal/raster"
	"foil-inspector/internal/region"
)

// Quantizer maps a shading approximation onto the region codes.
type Quantizer interface {
	Quantize(img *image.Gray) *image.Gray
}

// NearestCode sends every intensity to the closest region code; a value
// halfway between two codes goes to the brighter one.
type NearestCode struct{}

var nearest = buildNearest(region.Codes())

func buildNearest(codes []uint8) [256]uint8 {
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		best, dist := codes[0], 256
		for _, c := range codes {
			if d := abs(v - int(c)); d <= dist {
				best, dist = c, d
			}
		}
		lut[v] = best
	}
	return lut
}

func (NearestCode) Quantize(img *image.Gray) *image.Gray {
	src := raster.Compact(img)
	out := image.NewGray(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	for i, v := range src.Pix {
		out.Pix[i] = nearest[v]
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
