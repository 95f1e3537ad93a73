package region

import (
	"fmt"
	"sort"

	"foil-inspector/internal/logger"
)

// FeatureFilter drops histogram features that fall outside the intensity
// range actually present in a region. Smoothing spreads mass past the
// region's extremes, so peaks and valleys found there are artefacts.
type FeatureFilter struct {
	// Legacy reproduces the historical bound test, which only dropped
	// positions at or above Max and never looked at Min.
	Legacy bool
}

func (f FeatureFilter) keep(r *Record, pos int) bool {
	if f.Legacy {
		return !(pos >= r.Max)
	}
	return !(pos < r.Min || pos > r.Max)
}

func (f FeatureFilter) filter(r *Record, positions []int) []int {
	out := make([]int, 0, len(positions))
	for _, pos := range positions {
		if f.keep(r, pos) {
			out = append(out, pos)
		}
	}
	return out
}

// Apply returns a filtered copy of r.
func (f FeatureFilter) Apply(r *Record) *Record {
	out := r.Clone()
	out.Peaks = f.filter(r, r.Peaks)
	out.Valleys = f.filter(r, r.Valleys)
	out.NegInfl = f.filter(r, r.NegInfl)
	out.PosInfl = f.filter(r, r.PosInfl)
	return out
}

// CleanUp returns a new Set holding the filtered non-empty records.
func CleanUp(set Set, filter FeatureFilter) Set {
	var out Set
	for _, l := range set.Present() {
		out[l] = filter.Apply(set[l])
	}
	return out
}

// FindDominant returns the label with the strictly largest population;
// ties keep the earlier label. When no region has any population it falls
// back to Mo, or to the alphabetically first present label, and logs it.
// An entirely empty set yields Mo together with ErrNoRegionsFound.
func FindDominant(set Set, log logger.Logger) (Label, error) {
	log = logger.OrNop(log)

	best, largest := Label(-1), 0
	for _, l := range set.Present() {
		if n := set[l].Population(); n > largest {
			best, largest = l, n
		}
	}
	if best.Valid() {
		return best, nil
	}

	present := set.Present()
	if len(present) == 0 {
		log.Warning("RegionDataManager", "no regions present, defaulting to Mo", nil)
		return Mo, fmt.Errorf("dominant region: %w", ErrNoRegionsFound)
	}

	if _, ok := set.Get(Mo); ok {
		log.Warning("RegionDataManager", "no populated region, defaulting to Mo", nil)
		return Mo, nil
	}

	sort.Slice(present, func(i, j int) bool {
		return present[i].String() < present[j].String()
	})
	log.Warning("RegionDataManager", "no populated region and Mo absent, using first label", map[string]interface{}{
		"label": present[0].String(),
	})
	return present[0], nil
}
