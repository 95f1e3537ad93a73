package classify

import (
	"math"

	"foil-inspector/internal/region"
)

type RegionSummary struct {
	Label      region.Label
	Pixels     int
	PtPixels   int
	DirtPixels int
	MolyPixels int
	PtThresh   int
	DirtThresh int
	Source     region.Label
}

// Summary holds pixel counts for a classified scan.
type Summary struct {
	Regions    []RegionSummary
	Pixels     int
	PtPixels   int
	DirtPixels int
	MolyPixels int
}

func Summarize(maps Maps, set region.Set) Summary {
	var s Summary
	for _, l := range set.Present() {
		r := set[l]
		rs := RegionSummary{
			Label:      l,
			Pixels:     r.Population(),
			PtThresh:   r.PtThresh,
			DirtThresh: r.DirtThresh,
			Source:     r.ThreshSource,
		}
		if r.PtMap != nil {
			rs.PtPixels = r.PtMap.Count()
			rs.DirtPixels = r.DirtMap.Count()
			rs.MolyPixels = r.MolyMap.Count()
		}
		s.Regions = append(s.Regions, rs)
		s.Pixels += rs.Pixels
	}
	if maps.Pt != nil {
		s.PtPixels = maps.Pt.Count()
		s.DirtPixels = maps.Dirt.Count()
		s.MolyPixels = maps.Moly.Count()
	}
	return s
}

func (s Summary) PtPercent() float64 {
	return Percent(s.PtPixels, s.Pixels)
}

func (s Summary) DirtPercent() float64 {
	return Percent(s.DirtPixels, s.Pixels)
}

// Percent returns 100*part/whole, or NaN when whole is zero.
func Percent(part, whole int) float64 {
	if whole == 0 {
		return math.NaN()
	}
	return 100 * float64(part) / float64(whole)
}
