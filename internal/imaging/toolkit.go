// Package imaging wraps the gocv transforms used by the foil analysis so
// that callers work on *image.Gray and raster.Mask while every Mat stays
// tracked and released.
package imaging

import (
	"fmt"
	"image"
	"math"

	"foil-inspector/internal/opencv/bridge"
	"foil-inspector/internal/opencv/safe"
	"foil-inspector/internal/raster"

	"gocv.io/x/gocv"
)

type Toolkit struct {
	tracker safe.MemoryTracker
}

// New returns a Toolkit reporting Mat lifetimes to tracker, which may be nil.
func New(tracker safe.MemoryTracker) *Toolkit {
	return &Toolkit{tracker: tracker}
}

type KernelShape int

const (
	KernelRect KernelShape = iota
	KernelDiamond
)

// Kernel is a structuring element. Rect kernels are Size x Size; diamond
// kernels have radius Size and cover |dx|+|dy| <= Size.
type Kernel struct {
	Shape KernelShape
	Size  int
}

func Rect(size int) Kernel {
	return Kernel{Shape: KernelRect, Size: size}
}

func Diamond(radius int) Kernel {
	return Kernel{Shape: KernelDiamond, Size: radius}
}

func (t *Toolkit) kernelMat(k Kernel) (*safe.Mat, error) {
	switch k.Shape {
	case KernelDiamond:
		side := 2*k.Size + 1
		data := make([]byte, side*side)
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				if abs(x-k.Size)+abs(y-k.Size) <= k.Size {
					data[y*side+x] = 1
				}
			}
		}
		return safe.NewMatFromBytes(side, side, data, t.tracker, "diamond_kernel")
	default:
		size := k.Size
		if size < 1 {
			size = 1
		}
		return safe.Adopt(gocv.GetStructuringElement(gocv.MorphRect, image.Pt(size, size)), t.tracker, "rect_kernel")
	}
}

// apply runs op from a Mat copy of img into a fresh destination Mat.
func (t *Toolkit) apply(img *image.Gray, tag string, op func(src gocv.Mat, dst *gocv.Mat)) (*image.Gray, error) {
	src, err := bridge.GrayToMat(img, t.tracker, tag+"_src")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	defer src.Close()

	raw := gocv.NewMat()
	op(src.GetMat(), &raw)

	dst, err := safe.Adopt(raw, t.tracker, tag)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	return bridge.MatToGray(dst)
}

func (t *Toolkit) applyKernel(img *image.Gray, k Kernel, tag string, op func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat)) (*image.Gray, error) {
	kernel, err := t.kernelMat(k)
	if err != nil {
		return nil, fmt.Errorf("%s kernel: %w", tag, err)
	}
	defer kernel.Close()

	return t.apply(img, tag, func(src gocv.Mat, dst *gocv.Mat) {
		op(src, dst, kernel.GetMat())
	})
}

func (t *Toolkit) Erode(img *image.Gray, k Kernel) (*image.Gray, error) {
	return t.applyKernel(img, k, "erode", func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Erode(src, dst, kernel)
	})
}

func (t *Toolkit) Dilate(img *image.Gray, k Kernel) (*image.Gray, error) {
	return t.applyKernel(img, k, "dilate", func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Dilate(src, dst, kernel)
	})
}

func (t *Toolkit) morphology(img *image.Gray, k Kernel, op gocv.MorphType, tag string) (*image.Gray, error) {
	return t.applyKernel(img, k, tag, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.MorphologyEx(src, dst, op, kernel)
	})
}

// GaussianBlur blurs with a size x size kernel; even sizes are rounded up.
func (t *Toolkit) GaussianBlur(img *image.Gray, size int) (*image.Gray, error) {
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	return t.apply(img, "gaussian_blur", func(src gocv.Mat, dst *gocv.Mat) {
		gocv.GaussianBlur(src, dst, image.Pt(size, size), 0, 0, gocv.BorderDefault)
	})
}

// Resize resamples img bilinearly to width x height.
func (t *Toolkit) Resize(img *image.Gray, width, height int) (*image.Gray, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("resize target %dx%d is degenerate", width, height)
	}
	return t.apply(img, "resize", func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Resize(src, dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	})
}

// Scale resizes img by factor, keeping at least one pixel per axis.
func (t *Toolkit) Scale(img *image.Gray, factor float64) (*image.Gray, error) {
	b := img.Bounds()
	return t.Resize(img, ScaledSize(b.Dx(), factor), ScaledSize(b.Dy(), factor))
}

func ScaledSize(n int, factor float64) int {
	s := int(math.Round(float64(n) * factor))
	if s < 1 {
		return 1
	}
	return s
}

// ThresholdBinary marks pixels strictly brighter than low.
func (t *Toolkit) ThresholdBinary(img *image.Gray, low uint8) (*raster.Mask, error) {
	src, err := bridge.GrayToMat(img, t.tracker, "threshold_src")
	if err != nil {
		return nil, fmt.Errorf("threshold: %w", err)
	}
	defer src.Close()

	raw := gocv.NewMat()
	gocv.Threshold(src.GetMat(), &raw, float32(low), 255, gocv.ThresholdBinary)
	dst, err := safe.Adopt(raw, t.tracker, "threshold")
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	return bridge.MatToMask(dst, 0)
}

func (t *Toolkit) maskOp(m *raster.Mask, op func(*image.Gray) (*image.Gray, error)) (*raster.Mask, error) {
	out, err := op(m.ToGray())
	if err != nil {
		return nil, err
	}
	return raster.FromGray(out), nil
}

func (t *Toolkit) OpenMask(m *raster.Mask, k Kernel) (*raster.Mask, error) {
	return t.maskOp(m, func(img *image.Gray) (*image.Gray, error) {
		return t.morphology(img, k, gocv.MorphOpen, "open")
	})
}

func (t *Toolkit) CloseMask(m *raster.Mask, k Kernel) (*raster.Mask, error) {
	return t.maskOp(m, func(img *image.Gray) (*image.Gray, error) {
		return t.morphology(img, k, gocv.MorphClose, "close")
	})
}

func (t *Toolkit) ErodeMask(m *raster.Mask, k Kernel) (*raster.Mask, error) {
	return t.maskOp(m, func(img *image.Gray) (*image.Gray, error) {
		return t.Erode(img, k)
	})
}

// ResizeMask resamples bilinearly; any pixel touched by the set region
// stays set.
func (t *Toolkit) ResizeMask(m *raster.Mask, width, height int) (*raster.Mask, error) {
	return t.maskOp(m, func(img *image.Gray) (*image.Gray, error) {
		return t.Resize(img, width, height)
	})
}

// FloodFromSeed returns the pixels of region that are 8-connected, within
// region, to at least one seed pixel.
func (t *Toolkit) FloodFromSeed(region, seed *raster.Mask) (*raster.Mask, error) {
	if !region.SameShape(seed) {
		return nil, fmt.Errorf("flood seed %dx%d vs region %dx%d: %w",
			seed.Width, seed.Height, region.Width, region.Height, raster.ErrShapeMismatch)
	}

	src, err := bridge.MaskToMat(region, t.tracker, "flood_src")
	if err != nil {
		return nil, err
	}
	defer src.Close()

	raw := gocv.NewMat()
	gocv.ConnectedComponents(src.GetMat(), &raw)
	labels, err := safe.Adopt(raw, t.tracker, "flood_labels")
	if err != nil {
		return nil, err
	}
	defer labels.Close()

	labelMat := labels.GetMat()
	seeded := make(map[int32]bool)
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			if seed.At(x, y) && region.At(x, y) {
				seeded[labelMat.GetIntAt(y, x)] = true
			}
		}
	}

	out := raster.NewMask(region.Width, region.Height)
	if len(seeded) == 0 {
		return out, nil
	}
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			if region.At(x, y) && seeded[labelMat.GetIntAt(y, x)] {
				out.Set(x, y, true)
			}
		}
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
