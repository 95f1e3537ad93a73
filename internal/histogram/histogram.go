// Package histogram profiles 8-bit intensity histograms: smoothing, peaks,
// valleys, inflection points and the substrate peak, plus the default rules
// that turn a profile into platinum and dirt cutoffs.
package histogram

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const Bins = 256

type Histogram [Bins]int

func FromPixels(pix []uint8) Histogram {
	var h Histogram
	for _, v := range pix {
		h[v]++
	}
	return h
}

func (h *Histogram) Total() int {
	n := 0
	for _, c := range h {
		n += c
	}
	return n
}

func (h *Histogram) Float() []float64 {
	out := make([]float64, Bins)
	for i, c := range h {
		out[i] = float64(c)
	}
	return out
}

// Smooth applies passes rounds of a [1 2 1]/4 kernel, replicating the edge
// bins.
func Smooth(h []float64, passes int) []float64 {
	cur := make([]float64, len(h))
	copy(cur, h)
	if len(cur) < 2 {
		return cur
	}

	next := make([]float64, len(cur))
	last := len(cur) - 1
	for p := 0; p < passes; p++ {
		for i := range cur {
			left, right := cur[max(i-1, 0)], cur[min(i+1, last)]
			next[i] = (left + 2*cur[i] + right) / 4
		}
		cur, next = next, cur
	}
	return cur
}

type extremum struct {
	pos   int
	score float64
}

// runs calls fn for every maximal run of equal values [i, j].
func runs(h []float64, fn func(i, j int)) {
	for i := 0; i < len(h); {
		j := i
		for j+1 < len(h) && h[j+1] == h[i] {
			j++
		}
		fn(i, j)
		i = j + 1
	}
}

// strongest keeps the limit entries with the highest score, returned in
// ascending position order.
func strongest(found []extremum, limit int) []int {
	sort.SliceStable(found, func(a, b int) bool {
		return found[a].score > found[b].score
	})
	if limit >= 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]int, len(found))
	for i, e := range found {
		out[i] = e.pos
	}
	sort.Ints(out)
	return out
}

// Maxima returns up to limit local maxima, tallest first before sorting.
// A plateau counts once, at its centre. Out-of-range neighbours count as
// lower.
func Maxima(h []float64, limit int) []int {
	var found []extremum
	runs(h, func(i, j int) {
		left, right := math.Inf(-1), math.Inf(-1)
		if i > 0 {
			left = h[i-1]
		}
		if j < len(h)-1 {
			right = h[j+1]
		}
		if left < h[i] && right < h[i] {
			found = append(found, extremum{pos: (i + j) / 2, score: h[i]})
		}
	})
	return strongest(found, limit)
}

// Minima mirrors Maxima, keeping the deepest valleys.
func Minima(h []float64, limit int) []int {
	var found []extremum
	runs(h, func(i, j int) {
		left, right := math.Inf(1), math.Inf(1)
		if i > 0 {
			left = h[i-1]
		}
		if j < len(h)-1 {
			right = h[j+1]
		}
		if left > h[i] && right > h[i] {
			found = append(found, extremum{pos: (i + j) / 2, score: -h[i]})
		}
	})
	return strongest(found, limit)
}

type Sign int

const (
	// Negative marks curvature turning from convex to concave.
	Negative Sign = iota
	// Positive marks curvature turning from concave to convex.
	Positive
)

// Inflections returns up to limit inflection points of the given sign,
// keeping the steepest.
func Inflections(h []float64, limit int, sign Sign) []int {
	if len(h) < 3 {
		return nil
	}

	var found []extremum
	prev := 0.0
	for i := 1; i < len(h)-1; i++ {
		d2 := h[i-1] - 2*h[i] + h[i+1]
		if d2 == 0 {
			continue
		}
		if prev != 0 {
			turned := (sign == Negative && prev > 0 && d2 < 0) ||
				(sign == Positive && prev < 0 && d2 > 0)
			if turned {
				found = append(found, extremum{pos: i, score: math.Abs(h[i+1] - h[i-1])})
			}
		}
		prev = d2
	}
	return strongest(found, limit)
}

// SubstratePeak returns the most populated bin of a smoothed histogram.
// Ties resolve to the darker bin.
func SubstratePeak(smoothed []float64) int {
	if len(smoothed) == 0 {
		return 0
	}
	return floats.MaxIdx(smoothed)
}
