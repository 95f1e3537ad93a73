package memory

import (
	"sort"
	"sync"
	"time"

	"foil-inspector/internal/logger"
)

// Tracker accounts for every safe.Mat created through it. A coordinator
// owns one Tracker; after an analysis finishes no Mat should remain live.
type Tracker struct {
	mu           sync.RWMutex
	logger       logger.Logger
	usedMemory   int64
	peakMemory   int64
	allocCount   int64
	deallocCount int64
	activeMats   map[uint64]*MatInfo
}

type MatInfo struct {
	ID        uint64
	Tag       string
	Size      int64
	Timestamp time.Time
}

type Stats struct {
	Allocations   int64
	Deallocations int64
	UsedBytes     int64
	PeakBytes     int64
	Live          int
}

func NewTracker(log logger.Logger) *Tracker {
	return &Tracker{
		logger:     logger.OrNop(log),
		activeMats: make(map[uint64]*MatInfo),
	}
}

func (t *Tracker) TrackAllocation(id uint64, size int64, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.allocCount++
	t.usedMemory += size
	if t.usedMemory > t.peakMemory {
		t.peakMemory = t.usedMemory
	}
	t.activeMats[id] = &MatInfo{
		ID:        id,
		Tag:       tag,
		Size:      size,
		Timestamp: time.Now(),
	}
}

func (t *Tracker) TrackDeallocation(id uint64, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deallocCount++
	if info, exists := t.activeMats[id]; exists {
		delete(t.activeMats, id)
		t.usedMemory -= info.Size
	}
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		Allocations:   t.allocCount,
		Deallocations: t.deallocCount,
		UsedBytes:     t.usedMemory,
		PeakBytes:     t.peakMemory,
		Live:          len(t.activeMats),
	}
}

func (t *Tracker) Live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.activeMats)
}

// ReportLeaks logs up to limit of the oldest live Mats and returns how many
// are live in total.
func (t *Tracker) ReportLeaks(limit int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.activeMats) == 0 {
		return 0
	}

	infos := make([]*MatInfo, 0, len(t.activeMats))
	for _, info := range t.activeMats {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.Before(infos[j].Timestamp)
	})

	if len(infos) < limit {
		limit = len(infos)
	}

	now := time.Now()
	for _, info := range infos[:limit] {
		t.logger.Warning("MemoryTracker", "long-lived Mat detected", map[string]interface{}{
			"tag":  info.Tag,
			"size": info.Size,
			"age":  now.Sub(info.Timestamp).String(),
		})
	}

	return len(infos)
}
