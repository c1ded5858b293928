package aggregate

import (
	"testing"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/reader"
)

func frame(fn string) []codec.RawFrame {
	return []codec.RawFrame{{FunctionName: fn, FileName: fn + ".go", Lineno: 1}}
}

func alloc(addr, size uint64, fn string) reader.Allocation {
	return reader.Allocation{Kind: codec.AllocMalloc, Address: addr, Size: size, Stack: frame(fn)}
}

func free(addr uint64) reader.Allocation {
	return reader.Allocation{Kind: codec.AllocFree, Address: addr}
}

func TestHighWatermarkFinderTracksPeak(t *testing.T) {
	h := NewHighWatermarkFinder()
	h.onAllocation(alloc(1, 100, "f"))
	h.onAllocation(alloc(2, 50, "g"))
	h.onAllocation(free(1))
	h.onAllocation(alloc(3, 200, "h"))

	peak, atEvent := h.Peak()
	if peak != 150 {
		t.Fatalf("peak = %d, want 150 (100+50 before the free)", peak)
	}
	if atEvent != 2 {
		t.Fatalf("atEvent = %d, want 2", atEvent)
	}
	if h.Current() != 250 {
		t.Fatalf("current = %d, want 250 (50 + 200 live)", h.Current())
	}
}

func TestTemporaryAllocationsAggregatorCountsShortLived(t *testing.T) {
	agg, err := NewTemporaryAllocationsAggregator(4)
	if err != nil {
		t.Fatal(err)
	}
	agg.onAllocation(alloc(1, 8, "temp_fn"))
	agg.onAllocation(free(1))
	counts := agg.Counts()
	if counts[LocationKey{Function: "temp_fn", File: "temp_fn.go", Line: 1}] != 1 {
		t.Fatalf("expected 1 temporary allocation at temp_fn, got %v", counts)
	}
}

func TestTemporaryAllocationsAggregatorIgnoresEvictedAllocations(t *testing.T) {
	agg, err := NewTemporaryAllocationsAggregator(1)
	if err != nil {
		t.Fatal(err)
	}
	agg.onAllocation(alloc(1, 8, "a"))
	agg.onAllocation(alloc(2, 8, "b")) // evicts address 1 from a size-1 LRU
	agg.onAllocation(free(1))
	counts := agg.Counts()
	if len(counts) != 0 {
		t.Fatalf("expected no temporary allocations once evicted from the LRU, got %v", counts)
	}
}

func TestSnapshotAllocationAggregatorByLocation(t *testing.T) {
	s := NewSnapshotAllocationAggregator()
	s.onAllocation(alloc(1, 10, "f"))
	s.onAllocation(alloc(2, 20, "f"))
	s.onAllocation(alloc(3, 30, "g"))
	s.onAllocation(free(2))

	stats := s.ByLocation()
	fKey := LocationKey{Function: "f", File: "f.go", Line: 1}
	if got := stats[fKey]; got.Bytes != 10 || got.Count != 1 {
		t.Fatalf("stats[f] = %+v, want {10 1}", got)
	}
}

func TestMultiSnapshotAggregatorDiff(t *testing.T) {
	m := NewMultiSnapshotAggregator()
	m.onAllocation(alloc(1, 10, "f"))
	m.TakeSnapshot("before")
	m.onAllocation(alloc(2, 20, "f"))
	m.onAllocation(free(1))
	m.TakeSnapshot("after")

	delta := m.Diff("before", "after")
	fKey := LocationKey{Function: "f", File: "f.go", Line: 1}
	got := delta[fKey]
	if got.Bytes != 10 || got.Count != 0 {
		t.Fatalf("delta[f] = %+v, want {10 0} (added 20, removed 10, net +10 bytes, same count)", got)
	}
}

func TestHighWaterMarkAggregatorPerLocation(t *testing.T) {
	h := NewHighWaterMarkAggregator()
	h.onAllocation(alloc(1, 100, "f"))
	h.onAllocation(free(1))
	h.onAllocation(alloc(2, 40, "f"))

	peaks := h.PeakByLocation()
	fKey := LocationKey{Function: "f", File: "f.go", Line: 1}
	if peaks[fKey] != 100 {
		t.Fatalf("peaks[f] = %d, want 100 (the high point before the free)", peaks[fKey])
	}
}
