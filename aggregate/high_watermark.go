package aggregate

import "github.com/godlygeek/memtrace/reader"

// HighWatermarkFinder tracks live bytes over the whole stream and
// remembers the single allocation event that pushed total live bytes to
// their peak: "what was live on the heap at its worst point".
type HighWatermarkFinder struct {
	live       map[uint64]uint64 // address -> size, only for currently-live allocations
	current    uint64
	peak       uint64
	peakRecord int // how many allocation events had been seen when the peak was reached
	seen       int
}

// NewHighWatermarkFinder returns an empty finder.
func NewHighWatermarkFinder() *HighWatermarkFinder {
	return &HighWatermarkFinder{live: make(map[uint64]uint64)}
}

func (h *HighWatermarkFinder) onAllocation(a reader.Allocation) {
	h.seen++
	if a.Kind.IsDeallocator() {
		if sz, ok := h.live[a.Address]; ok {
			h.current -= sz
			delete(h.live, a.Address)
		}
		return
	}
	h.live[a.Address] = a.Size
	h.current += a.Size
	if h.current > h.peak {
		h.peak = h.current
		h.peakRecord = h.seen
	}
}

// Peak returns the highest live-byte total observed, and how many
// allocation events had been processed when it was reached.
func (h *HighWatermarkFinder) Peak() (bytes uint64, atEvent int) {
	return h.peak, h.peakRecord
}

// Current returns the live-byte total as of the most recently fed
// event, useful for a running "current usage" display.
func (h *HighWatermarkFinder) Current() uint64 { return h.current }
