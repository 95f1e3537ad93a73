// Package classify picks region-local cutoffs and turns them into platinum,
// dirt and substrate maps.
package classify

import (
	"foil-inspector/internal/histogram"
	"foil-inspector/internal/logger"
	"foil-inspector/internal/region"
)

const DefaultSmallRegionFloor = 2000

type ThresholdSelector struct {
	selector histogram.Selector
	floor    int
	logger   logger.Logger
}

// NewThresholdSelector returns a selector. Regions with fewer than floor
// pixels borrow their cutoffs from the dominant region.
func NewThresholdSelector(sel histogram.Selector, floor int, log logger.Logger) *ThresholdSelector {
	if sel == nil {
		sel = histogram.ValleySelector{}
	}
	return &ThresholdSelector{selector: sel, floor: floor, logger: logger.OrNop(log)}
}

// Select returns a copy of set with every record thresholded.
func (s *ThresholdSelector) Select(set region.Set, dominant region.Label) region.Set {
	out := set.Clone()
	donor, hasDonor := set.Get(dominant)

	for _, l := range out.Present() {
		r := out[l]
		source := set[l]
		if r.Population() < s.floor && hasDonor {
			source = donor
			s.logger.Debug("ThresholdSelector", "region below population floor, borrowing cutoffs", map[string]interface{}{
				"label":      l.String(),
				"population": r.Population(),
				"donor":      dominant.String(),
			})
		}

		r.PtThresh = s.selector.PtThreshold(&source.Profile)
		r.DirtThresh = s.selector.DirtThreshold(&source.Profile)
		r.ThreshSource = source.Label
		r.SourcePeak = source.MoPeak
		r.Thresholded = true

		s.logger.Debug("ThresholdSelector", "thresholds selected", map[string]interface{}{
			"label":       l.String(),
			"pt_thresh":   r.PtThresh,
			"dirt_thresh": r.DirtThresh,
			"source":      r.ThreshSource.String(),
		})
	}
	return out
}
