package histogram

// Selector turns a region profile into classification cutoffs. Both
// results lie in [p.Min, p.Max]. A cutoff equal to p.MoPeak means the
// profile shows no separate platinum (or dirt) population.
type Selector interface {
	PtThreshold(p *Profile) int
	DirtThreshold(p *Profile) int
}

const (
	// minSeparation is how far, in bins, a peak must sit from the
	// substrate peak to count as its own population.
	minSeparation = 4
	// maxDipRatio bounds the trough between the substrate peak and a
	// candidate peak, relative to the lower of the two.
	maxDipRatio = 0.75
)

// ValleySelector cuts at the trough between the substrate peak and the
// tallest separate peak on the bright (or dark) side. A peak is separate
// when it lies at least minSeparation bins from the substrate peak and the
// smoothed histogram dips clearly between the two; noise ripples around
// the substrate mode never qualify.
type ValleySelector struct{}

func (ValleySelector) PtThreshold(p *Profile) int {
	if cut, ok := separateCut(p, 1); ok {
		return clamp(cut, p.Min, p.Max)
	}
	return clamp(p.MoPeak, p.Min, p.Max)
}

func (ValleySelector) DirtThreshold(p *Profile) int {
	if cut, ok := separateCut(p, -1); ok {
		return clamp(cut, p.Min, p.Max)
	}
	return clamp(p.MoPeak, p.Min, p.Max)
}

func height(p *Profile, pos int) float64 {
	if pos < 0 || pos >= len(p.Smoothed) {
		return 0
	}
	return p.Smoothed[pos]
}

// separateCut looks at the peaks on one side of the substrate peak
// (side > 0 brighter, side < 0 darker) and returns the trough below the
// tallest one that is a population of its own.
func separateCut(p *Profile, side int) (int, bool) {
	best, cut, found := 0, 0, false
	for _, pos := range p.Peaks {
		if (pos-p.MoPeak)*side < minSeparation {
			continue
		}
		lo, hi := min(pos, p.MoPeak), max(pos, p.MoPeak)
		trough, ok := deepestValley(p, lo, hi)
		if !ok {
			trough = lowestBin(p, lo, hi)
		}
		floor := min(height(p, pos), height(p, p.MoPeak))
		if height(p, trough) > maxDipRatio*floor {
			continue
		}
		if !found || height(p, pos) > height(p, best) {
			best, cut, found = pos, trough, true
		}
	}
	return cut, found
}

// deepestValley looks strictly between lo and hi.
func deepestValley(p *Profile, lo, hi int) (int, bool) {
	best, found := 0, false
	for _, pos := range p.Valleys {
		if pos <= lo || pos >= hi {
			continue
		}
		if !found || height(p, pos) < height(p, best) {
			best, found = pos, true
		}
	}
	return best, found
}

// lowestBin scans the smoothed curve strictly between lo and hi. A flat
// bottom resolves to its centre.
func lowestBin(p *Profile, lo, hi int) int {
	first, last := lo+1, lo+1
	for pos := lo + 1; pos < hi; pos++ {
		switch v := height(p, pos); {
		case v < height(p, first):
			first, last = pos, pos
		case v == height(p, first) && last == pos-1:
			last = pos
		}
	}
	return (first + last) / 2
}
