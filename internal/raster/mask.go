// Package raster holds the boolean pixel grids shared by every stage of the
// foil analysis.
package raster

import (
	"errors"
	"fmt"
	"image"
)

// ErrShapeMismatch is returned when two grids that must align do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Mask is a Width x Height boolean grid stored row-major.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// Full returns a mask with every pixel set.
func Full(width, height int) *Mask {
	m := NewMask(width, height)
	for i := range m.Bits {
		m.Bits[i] = true
	}
	return m
}

// FromGray sets every pixel whose value is non-zero.
func FromGray(img *image.Gray) *Mask {
	img = Compact(img)
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+m.Width]
		for x, v := range row {
			m.Bits[y*m.Width+x] = v != 0
		}
	}
	return m
}

// ToGray renders set pixels as 255 and clear pixels as 0.
func (m *Mask) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, set := range m.Bits {
		if set {
			img.Pix[i] = 255
		}
	}
	return img
}

func (m *Mask) At(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

func (m *Mask) Count() int {
	n := 0
	for _, set := range m.Bits {
		if set {
			n++
		}
	}
	return n
}

func (m *Mask) Any() bool {
	for _, set := range m.Bits {
		if set {
			return true
		}
	}
	return false
}

func (m *Mask) Clone() *Mask {
	c := &Mask{Width: m.Width, Height: m.Height, Bits: make([]bool, len(m.Bits))}
	copy(c.Bits, m.Bits)
	return c
}

func (m *Mask) SameShape(o *Mask) bool {
	return m.Width == o.Width && m.Height == o.Height
}

func (m *Mask) Equal(o *Mask) bool {
	if !m.SameShape(o) {
		return false
	}
	for i := range m.Bits {
		if m.Bits[i] != o.Bits[i] {
			return false
		}
	}
	return true
}

func (m *Mask) combine(o *Mask, op func(a, b bool) bool) *Mask {
	if !m.SameShape(o) {
		panic(fmt.Sprintf("raster: combining %dx%d with %dx%d", m.Width, m.Height, o.Width, o.Height))
	}
	out := NewMask(m.Width, m.Height)
	for i := range m.Bits {
		out.Bits[i] = op(m.Bits[i], o.Bits[i])
	}
	return out
}

func (m *Mask) And(o *Mask) *Mask {
	return m.combine(o, func(a, b bool) bool { return a && b })
}

func (m *Mask) Or(o *Mask) *Mask {
	return m.combine(o, func(a, b bool) bool { return a || b })
}

// AndNot keeps the pixels of m that are clear in o.
func (m *Mask) AndNot(o *Mask) *Mask {
	return m.combine(o, func(a, b bool) bool { return a && !b })
}

func (m *Mask) Not() *Mask {
	out := NewMask(m.Width, m.Height)
	for i, set := range m.Bits {
		out.Bits[i] = !set
	}
	return out
}

// Union ORs any number of same-shaped masks. It returns an empty
// width x height mask when none are given.
func Union(width, height int, masks ...*Mask) *Mask {
	out := NewMask(width, height)
	for _, m := range masks {
		if m == nil {
			continue
		}
		for i, set := range m.Bits {
			if set {
				out.Bits[i] = true
			}
		}
	}
	return out
}

// Resolve returns mask, or an all-true mask of the image's size when mask
// is nil. A mask of a different size is a shape mismatch.
func Resolve(img *image.Gray, mask *Mask) (*Mask, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if mask == nil {
		return Full(w, h), nil
	}
	if mask.Width != w || mask.Height != h {
		return nil, fmt.Errorf("mask %dx%d vs image %dx%d: %w", mask.Width, mask.Height, w, h, ErrShapeMismatch)
	}
	return mask, nil
}

// CheckShape fails unless a and b have identical dimensions.
func CheckShape(a, b *image.Gray) error {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return fmt.Errorf("%dx%d vs %dx%d: %w",
			a.Bounds().Dx(), a.Bounds().Dy(), b.Bounds().Dx(), b.Bounds().Dy(), ErrShapeMismatch)
	}
	return nil
}

// Compact returns img with origin (0,0) and Stride == width, copying only
// when needed.
func Compact(img *image.Gray) *image.Gray {
	b := img.Bounds()
	if b.Min == (image.Point{}) && img.Stride == b.Dx() {
		return img
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out.Pix[y*b.Dx():(y+1)*b.Dx()], img.Pix[start:start+b.Dx()])
	}
	return out
}
