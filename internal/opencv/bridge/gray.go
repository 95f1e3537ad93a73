package bridge

import (
	"fmt"
	"image"

	"foil-inspector/internal/opencv/safe"
	"foil-inspector/internal/raster"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

func GrayToMat(img *image.Gray, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	compact := raster.Compact(img)
	b := compact.Bounds()
	return safe.NewMatFromBytes(b.Dy(), b.Dx(), compact.Pix, tracker, tag)
}

func MatToGray(mat *safe.Mat) (*image.Gray, error) {
	if err := safe.ValidateMatForOperation(mat, "MatToGray"); err != nil {
		return nil, err
	}

	rows, cols := mat.Rows(), mat.Cols()
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("Mat %dx%d is not single channel 8-bit", cols, rows)
	}
	data, err := mat.Bytes()
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	copy(img.Pix, data)
	return img, nil
}

// MaskToMat renders set pixels as 255.
func MaskToMat(m *raster.Mask, tracker safe.MemoryTracker, tag string) (*safe.Mat, error) {
	if m == nil {
		return nil, fmt.Errorf("input mask is nil")
	}

	data := make([]byte, len(m.Bits))
	for i, set := range m.Bits {
		if set {
			data[i] = 255
		}
	}
	return safe.NewMatFromBytes(m.Height, m.Width, data, tracker, tag)
}

// MatToMask sets every pixel whose value exceeds cut.
func MatToMask(mat *safe.Mat, cut uint8) (*raster.Mask, error) {
	img, err := MatToGray(mat)
	if err != nil {
		return nil, err
	}

	m := raster.NewMask(img.Rect.Dx(), img.Rect.Dy())
	for i, v := range img.Pix {
		m.Bits[i] = v > cut
	}
	return m, nil
}

// ToGray converts any decoded image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return raster.Compact(g)
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}
