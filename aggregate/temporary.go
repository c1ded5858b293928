package aggregate

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/godlygeek/memtrace/reader"
)

// TemporaryAllocationsAggregator counts allocations that are freed
// again while still within a bounded recency window: a "temporary
// allocation" is memory that never contributes to long-term
// growth but still costs allocator overhead on every call. The window
// is a fixed-size LRU rather than a time/event threshold: an allocation
// that gets evicted (because `threshold` other allocations happened
// since) is presumed to have outlived its "temporary" classification,
// matching how memray's own temporary-allocation detector bounds its
// per-thread tracking table.
type TemporaryAllocationsAggregator struct {
	cache     *lru.Cache
	perLoc    map[LocationKey]int
	threshold int
}

// NewTemporaryAllocationsAggregator builds an aggregator whose LRU holds
// at most threshold live, not-yet-classified allocations at a time.
func NewTemporaryAllocationsAggregator(threshold int) (*TemporaryAllocationsAggregator, error) {
	t := &TemporaryAllocationsAggregator{perLoc: make(map[LocationKey]int), threshold: threshold}
	cache, err := lru.NewWithEvict(threshold, t.onEvict)
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

type pendingAlloc struct {
	key  LocationKey
	size uint64
}

// onEvict fires when the LRU drops an allocation that was never freed
// within the window; it is therefore not counted as temporary.
func (t *TemporaryAllocationsAggregator) onEvict(key, value interface{}) {}

func (t *TemporaryAllocationsAggregator) onAllocation(a reader.Allocation) {
	if !a.Kind.IsDeallocator() {
		t.cache.Add(a.Address, pendingAlloc{key: keyOf(a.Stack), size: a.Size})
		return
	}
	if v, ok := t.cache.Get(a.Address); ok {
		t.cache.Remove(a.Address)
		p := v.(pendingAlloc)
		t.perLoc[p.key]++
	}
}

// Counts returns, per call site, how many allocations from that site
// were classified temporary.
func (t *TemporaryAllocationsAggregator) Counts() map[LocationKey]int {
	out := make(map[LocationKey]int, len(t.perLoc))
	for k, v := range t.perLoc {
		out[k] = v
	}
	return out
}
