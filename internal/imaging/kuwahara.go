package imaging

import (
	"image"
	"math"

	"foil-inspector/internal/raster"
)

// Kuwahara applies the edge-preserving Kuwahara filter. Each output pixel
// is the mean of whichever of its four overlapping (window+1)/2 quadrants
// has the lowest variance; quadrants are clipped at the image border.
func Kuwahara(img *image.Gray, window int) *image.Gray {
	img = raster.Compact(img)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	r := window / 2
	if r < 1 {
		copy(out.Pix, img.Pix)
		return out
	}

	// Summed-area tables with a zero first row and column.
	stride := w + 1
	sum := make([]float64, stride*(h+1))
	sq := make([]float64, stride*(h+1))
	for y := 1; y <= h; y++ {
		for x := 1; x <= w; x++ {
			v := float64(img.Pix[(y-1)*w+x-1])
			i := y*stride + x
			sum[i] = v + sum[i-1] + sum[i-stride] - sum[i-stride-1]
			sq[i] = v*v + sq[i-1] + sq[i-stride] - sq[i-stride-1]
		}
	}

	boxStats := func(x0, y0, x1, y1 int) (mean, variance float64) {
		x0, y0 = max(x0, 0), max(y0, 0)
		x1, y1 = min(x1, w-1), min(y1, h-1)
		n := float64((x1 - x0 + 1) * (y1 - y0 + 1))
		a, b := y0*stride+x0, y0*stride+x1+1
		c, d := (y1+1)*stride+x0, (y1+1)*stride+x1+1
		s := sum[d] - sum[b] - sum[c] + sum[a]
		s2 := sq[d] - sq[b] - sq[c] + sq[a]
		mean = s / n
		return mean, s2/n - mean*mean
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			quadrants := [4][4]int{
				{x - r, y - r, x, y},
				{x, y - r, x + r, y},
				{x - r, y, x, y + r},
				{x, y, x + r, y + r},
			}
			best, bestVar := 0.0, math.Inf(1)
			for _, q := range quadrants {
				mean, variance := boxStats(q[0], q[1], q[2], q[3])
				if variance < bestVar {
					best, bestVar = mean, variance
				}
			}
			out.Pix[y*w+x] = uint8(math.Min(255, math.Round(best)))
		}
	}
	return out
}
