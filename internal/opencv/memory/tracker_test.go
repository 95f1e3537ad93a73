package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerAccounting(t *testing.T) {
	tr := NewTracker(nil)

	tr.TrackAllocation(1, 100, "a")
	tr.TrackAllocation(2, 50, "b")
	tr.TrackDeallocation(1, "a")

	stats := tr.Stats()
	assert.Equal(t, int64(2), stats.Allocations)
	assert.Equal(t, int64(1), stats.Deallocations)
	assert.Equal(t, int64(50), stats.UsedBytes)
	assert.Equal(t, int64(150), stats.PeakBytes)
	assert.Equal(t, 1, stats.Live)

	assert.Equal(t, 1, tr.ReportLeaks(5))
	tr.TrackDeallocation(2, "b")
	assert.Equal(t, 0, tr.ReportLeaks(5))
}

func TestTrackerIgnoresUnknownDeallocation(t *testing.T) {
	tr := NewTracker(nil)
	tr.TrackDeallocation(42, "ghost")
	assert.Equal(t, int64(0), tr.Stats().UsedBytes)
}
