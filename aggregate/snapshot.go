package aggregate

import "github.com/godlygeek/memtrace/reader"

// LocationStats is one call site's contribution to a snapshot: total
// live bytes and live allocation count at the moment the snapshot was
// taken.
type LocationStats struct {
	Bytes uint64
	Count int
}

// SnapshotAllocationAggregator groups every currently-live allocation by
// call site, for the single-point-in-time "what does the heap look
// like right now" report, as opposed to HighWatermarkFinder's single
// global peak number.
type SnapshotAllocationAggregator struct {
	live map[uint64]reader.Allocation // address -> the allocation that produced it
}

// NewSnapshotAllocationAggregator returns an empty aggregator.
func NewSnapshotAllocationAggregator() *SnapshotAllocationAggregator {
	return &SnapshotAllocationAggregator{live: make(map[uint64]reader.Allocation)}
}

func (s *SnapshotAllocationAggregator) onAllocation(a reader.Allocation) {
	if a.Kind.IsDeallocator() {
		delete(s.live, a.Address)
		return
	}
	s.live[a.Address] = a
}

// ByLocation returns the current snapshot grouped by call site.
func (s *SnapshotAllocationAggregator) ByLocation() map[LocationKey]LocationStats {
	out := make(map[LocationKey]LocationStats)
	for _, a := range s.live {
		k := keyOf(a.Stack)
		st := out[k]
		st.Bytes += a.Size
		st.Count++
		out[k] = st
	}
	return out
}

// HighWaterMarkAggregator is HighWatermarkFinder's per-location
// counterpart: instead of one global peak, it remembers each call
// site's own highest live-byte total, even if different sites peaked at
// different points in the run.
type HighWaterMarkAggregator struct {
	live map[uint64]reader.Allocation
	peak map[LocationKey]uint64
	cur  map[LocationKey]uint64
}

// NewHighWaterMarkAggregator returns an empty aggregator.
func NewHighWaterMarkAggregator() *HighWaterMarkAggregator {
	return &HighWaterMarkAggregator{
		live: make(map[uint64]reader.Allocation),
		peak: make(map[LocationKey]uint64),
		cur:  make(map[LocationKey]uint64),
	}
}

func (h *HighWaterMarkAggregator) onAllocation(a reader.Allocation) {
	if a.Kind.IsDeallocator() {
		if prev, ok := h.live[a.Address]; ok {
			k := keyOf(prev.Stack)
			h.cur[k] -= prev.Size
			delete(h.live, a.Address)
		}
		return
	}
	h.live[a.Address] = a
	k := keyOf(a.Stack)
	h.cur[k] += a.Size
	if h.cur[k] > h.peak[k] {
		h.peak[k] = h.cur[k]
	}
}

// PeakByLocation returns each call site's highest-ever live-byte total.
func (h *HighWaterMarkAggregator) PeakByLocation() map[LocationKey]uint64 {
	out := make(map[LocationKey]uint64, len(h.peak))
	for k, v := range h.peak {
		out[k] = v
	}
	return out
}

// MultiSnapshotAggregator takes named snapshots at caller-chosen points
// in the stream (e.g. one per GC cycle, or once per N allocations) and
// exposes the delta between any two, answering "did this grow between
// these two points".
type MultiSnapshotAggregator struct {
	inner     *SnapshotAllocationAggregator
	snapshots map[string]map[LocationKey]LocationStats
}

// NewMultiSnapshotAggregator returns an aggregator with no snapshots
// taken yet.
func NewMultiSnapshotAggregator() *MultiSnapshotAggregator {
	return &MultiSnapshotAggregator{
		inner:     NewSnapshotAllocationAggregator(),
		snapshots: make(map[string]map[LocationKey]LocationStats),
	}
}

func (m *MultiSnapshotAggregator) onAllocation(a reader.Allocation) {
	m.inner.onAllocation(a)
}

// TakeSnapshot freezes the current live-allocation breakdown under
// name, overwriting any prior snapshot with the same name.
func (m *MultiSnapshotAggregator) TakeSnapshot(name string) {
	m.snapshots[name] = m.inner.ByLocation()
}

// LocationDelta is the signed difference between two LocationStats,
// returned by Diff: unlike a live snapshot, a delta can legitimately be
// negative (a call site that shrank or disappeared between snapshots).
type LocationDelta struct {
	Bytes int64
	Count int
}

// Diff returns, per call site, how many bytes and allocations changed
// between the from and to snapshots (to minus from). A call site
// present in only one snapshot is reported relative to zero.
func (m *MultiSnapshotAggregator) Diff(from, to string) map[LocationKey]LocationDelta {
	a := m.snapshots[from]
	b := m.snapshots[to]
	out := make(map[LocationKey]LocationDelta)
	for k, bv := range b {
		av := a[k]
		out[k] = LocationDelta{
			Bytes: int64(bv.Bytes) - int64(av.Bytes),
			Count: bv.Count - av.Count,
		}
	}
	for k, av := range a {
		if _, ok := b[k]; !ok {
			out[k] = LocationDelta{Bytes: -int64(av.Bytes), Count: -av.Count}
		}
	}
	return out
}
