package region

import (
	"foil-inspector/internal/histogram"
	"foil-inspector/internal/raster"
)

// Record describes the pixels of one poster tone.
type Record struct {
	Label     Label
	Mask      *raster.Mask
	Histogram histogram.Histogram
	histogram.Profile

	// Set by threshold selection. ThreshSource is the region whose profile
	// supplied the cutoffs; it differs from Label for undersampled regions.
	Thresholded  bool
	PtThresh     int
	DirtThresh   int
	ThreshSource Label
	SourcePeak   int

	// Set by classification.
	PtMap   *raster.Mask
	DirtMap *raster.Mask
	MolyMap *raster.Mask
}

// Population is the number of pixels in the region.
func (r *Record) Population() int {
	return r.Histogram.Total()
}

// Clone copies the record. Masks are immutable once built and are shared.
func (r *Record) Clone() *Record {
	c := *r
	c.Profile = r.Profile.Clone()
	return &c
}

// Set holds one slot per label; a nil slot is an empty region.
type Set [NumLabels]*Record

func (s *Set) Get(l Label) (*Record, bool) {
	if !l.Valid() || s[l] == nil {
		return nil, false
	}
	return s[l], true
}

// Present returns the labels of the non-empty slots in poster order.
func (s *Set) Present() []Label {
	var out []Label
	for i, r := range s {
		if r != nil {
			out = append(out, Label(i))
		}
	}
	return out
}

func (s *Set) Len() int {
	return len(s.Present())
}

// Clone returns a new Set holding clones of every record.
func (s *Set) Clone() Set {
	var out Set
	for i, r := range s {
		if r != nil {
			out[i] = r.Clone()
		}
	}
	return out
}

// TotalPopulation sums the populations of every region.
func (s *Set) TotalPopulation() int {
	n := 0
	for _, r := range s {
		if r != nil {
			n += r.Population()
		}
	}
	return n
}
