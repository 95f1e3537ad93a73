package region

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"foil-inspector/internal/histogram"
	"foil-inspector/internal/raster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// stripes builds a poster whose columns cycle through every region code.
func stripes(w, h int) *image.Gray {
	p := image.NewGray(image.Rect(0, 0, w, h))
	codes := Codes()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.SetGray(x, y, color.Gray{Y: codes[x%len(codes)]})
		}
	}
	return p
}

func ramp(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7 % 256)
	}
	return img
}

func TestLabelCodes(t *testing.T) {
	for _, l := range Labels() {
		got, ok := LabelForCode(l.Code())
		require.True(t, ok)
		assert.Equal(t, l, got)
	}

	_, ok := LabelForCode(100)
	assert.False(t, ok)
	assert.Equal(t, "Mo", Mo.String())
	assert.Equal(t, uint8(255), Plat.Code())
}

func TestSegmentPartitionsMask(t *testing.T) {
	img, poster := ramp(36, 20), stripes(36, 20)
	mask := raster.Full(36, 20)
	for x := 0; x < 36; x++ {
		mask.Set(x, 3, false)
	}

	for _, parallel := range []bool{false, true} {
		set, err := NewSegmenter(histogram.DefaultFeatureConfig(), parallel, nil).Segment(img, poster, mask)
		require.NoError(t, err)
		require.Equal(t, NumLabels, set.Len())

		union := raster.NewMask(36, 20)
		for _, l := range set.Present() {
			r := set[l]
			assert.Equal(t, l, r.Label)
			assert.False(t, union.And(r.Mask).Any(), "region %s overlaps another", l)
			union = union.Or(r.Mask)

			assert.Equal(t, r.Mask.Count(), r.Population(), "histogram sum of %s", l)
			assert.LessOrEqual(t, r.Min, r.Max)
			assert.True(t, r.MoPeak >= r.Min && r.MoPeak <= r.Max)
		}
		assert.True(t, union.Equal(mask))
	}
}

func TestSegmentSerialAndParallelAgree(t *testing.T) {
	img, poster := ramp(30, 12), stripes(30, 12)
	a, err := NewSegmenter(histogram.DefaultFeatureConfig(), false, nil).Segment(img, poster, nil)
	require.NoError(t, err)
	b, err := NewSegmenter(histogram.DefaultFeatureConfig(), true, nil).Segment(img, poster, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSegmentUniformPosterHasOneRegion(t *testing.T) {
	set, err := NewSegmenter(histogram.DefaultFeatureConfig(), true, nil).
		Segment(gray(10, 10, 120), gray(10, 10, 150), nil)
	require.NoError(t, err)

	assert.Equal(t, []Label{Mo}, set.Present())
	r, _ := set.Get(Mo)
	assert.Equal(t, 100, r.Population())
	assert.Equal(t, 120, r.Min)
	assert.Equal(t, 120, r.Max)
	assert.Equal(t, 120, r.MoPeak)
}

func TestSegmentEmptyMaskGivesEmptySet(t *testing.T) {
	set, err := NewSegmenter(histogram.DefaultFeatureConfig(), false, nil).
		Segment(gray(5, 5, 120), gray(5, 5, 150), raster.NewMask(5, 5))
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestSegmentShapeMismatch(t *testing.T) {
	seg := NewSegmenter(histogram.DefaultFeatureConfig(), false, nil)

	_, err := seg.Segment(gray(5, 5, 1), gray(5, 6, 150), nil)
	assert.ErrorIs(t, err, raster.ErrShapeMismatch)

	_, err = seg.Segment(gray(5, 5, 1), gray(5, 5, 150), raster.NewMask(4, 5))
	assert.ErrorIs(t, err, raster.ErrShapeMismatch)
}

func TestSegmentRejectsUnknownPosterCode(t *testing.T) {
	_, err := NewSegmenter(histogram.DefaultFeatureConfig(), false, nil).
		Segment(gray(4, 4, 1), gray(4, 4, 151), nil)
	assert.ErrorIs(t, err, ErrInvalidPoster)
}

func recordWith(l Label, population int, lo, hi int, features []int) *Record {
	r := &Record{Label: l}
	r.Histogram[lo] = population
	r.Min, r.Max = lo, hi
	r.Peaks = append([]int(nil), features...)
	r.Valleys = append([]int(nil), features...)
	r.NegInfl = append([]int(nil), features...)
	r.PosInfl = append([]int(nil), features...)
	return r
}

func TestFeatureFilter(t *testing.T) {
	r := recordWith(Mo, 10, 50, 200, []int{10, 50, 120, 200, 230})

	tests := []struct {
		name   string
		filter FeatureFilter
		want   []int
	}{
		{name: "bounded", filter: FeatureFilter{}, want: []int{50, 120, 200}},
		{name: "legacy", filter: FeatureFilter{Legacy: true}, want: []int{10, 50, 120}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := tt.filter.Apply(r)
			assert.Equal(t, tt.want, once.Peaks)
			assert.Equal(t, tt.want, once.Valleys)
			assert.Equal(t, tt.want, once.NegInfl)
			assert.Equal(t, tt.want, once.PosInfl)

			twice := tt.filter.Apply(once)
			assert.Equal(t, once, twice, "filter must be idempotent")
		})
	}

	assert.Equal(t, []int{10, 50, 120, 200, 230}, r.Peaks, "input untouched")
}

func TestCleanUpKeepsSlots(t *testing.T) {
	var set Set
	set[DarkMo] = recordWith(DarkMo, 5, 80, 90, []int{70, 85})

	out := CleanUp(set, FeatureFilter{})
	assert.Equal(t, []Label{DarkMo}, out.Present())
	assert.Equal(t, []int{85}, out[DarkMo].Peaks)
	assert.Equal(t, []int{70, 85}, set[DarkMo].Peaks)
}

func TestFindDominant(t *testing.T) {
	var set Set
	set[Pleat] = recordWith(Pleat, 300, 0, 1, nil)
	set[Mo] = recordWith(Mo, 5000, 0, 1, nil)
	set[Plat] = recordWith(Plat, 5000, 0, 1, nil)

	l, err := FindDominant(set, nil)
	require.NoError(t, err)
	assert.Equal(t, Mo, l, "ties keep the first label")
}

func TestFindDominantFallbacks(t *testing.T) {
	var set Set
	set[Plat] = &Record{Label: Plat}
	set[HighEx] = &Record{Label: HighEx}

	l, err := FindDominant(set, nil)
	require.NoError(t, err)
	assert.Equal(t, Plat, l, "alphabetical fallback without Mo")

	set[Mo] = &Record{Label: Mo}
	l, err = FindDominant(set, nil)
	require.NoError(t, err)
	assert.Equal(t, Mo, l)

	l, err = FindDominant(Set{}, nil)
	assert.True(t, errors.Is(err, ErrNoRegionsFound))
	assert.Equal(t, Mo, l)
}

func TestSetCloneIsDeep(t *testing.T) {
	var set Set
	set[Mo] = recordWith(Mo, 10, 1, 9, []int{4})

	c := set.Clone()
	c[Mo].Peaks[0] = 7
	c[Mo].PtThresh = 3

	assert.Equal(t, 4, set[Mo].Peaks[0])
	assert.Zero(t, set[Mo].PtThresh)
	assert.Equal(t, 10, c.TotalPopulation())
}
