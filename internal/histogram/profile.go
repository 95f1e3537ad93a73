package histogram

// Profile is the histogram-derived description of one region.
type Profile struct {
	Min    int
	Max    int
	Mean   int
	MoPeak int

	Smoothed []float64
	Peaks    []int
	Valleys  []int
	NegInfl  []int
	PosInfl  []int
}

type FeatureConfig struct {
	SmoothPasses int
	MaxFeatures  int
}

func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{SmoothPasses: 6, MaxFeatures: 6}
}

// Analyze builds the profile of the given pixel values. pix must not be
// empty.
func Analyze(pix []uint8, cfg FeatureConfig) (Profile, Histogram) {
	h := FromPixels(pix)

	lo, hi, total := 255, 0, 0
	for _, v := range pix {
		iv := int(v)
		lo = min(lo, iv)
		hi = max(hi, iv)
		total += iv
	}

	// The substrate peak comes from the same curve as the other features
	// so that it coincides with one of Peaks.
	smoothed := Smooth(h.Float(), cfg.SmoothPasses)
	peak := SubstratePeak(smoothed)
	p := Profile{
		Min:      lo,
		Max:      hi,
		Mean:     total / len(pix),
		MoPeak:   clamp(peak, lo, hi),
		Smoothed: smoothed,
		Peaks:    Maxima(smoothed, cfg.MaxFeatures),
		Valleys:  Minima(smoothed, cfg.MaxFeatures),
		NegInfl:  Inflections(smoothed, cfg.MaxFeatures, Negative),
		PosInfl:  Inflections(smoothed, cfg.MaxFeatures, Positive),
	}
	return p, h
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	c := p
	c.Smoothed = append([]float64(nil), p.Smoothed...)
	c.Peaks = append([]int(nil), p.Peaks...)
	c.Valleys = append([]int(nil), p.Valleys...)
	c.NegInfl = append([]int(nil), p.NegInfl...)
	c.PosInfl = append([]int(nil), p.PosInfl...)
	return c
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
