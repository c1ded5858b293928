// Package aggregate turns a reader.Reader's event stream into summary
// views: the live high-watermark, short-lived "temporary" allocations,
// point-in-time snapshots, and
// multi-snapshot diffs. Each aggregator only needs Allocation events
// (Feed ignores every other reader.Event kind), so they can run
// independently over the same stream without coordinating.
package aggregate

import (
	"fmt"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/reader"
)

// LocationKey identifies one allocation call site, coarse enough that
// many individual allocations collapse into one reporting row — the
// grouping key for every aggregator below.
type LocationKey struct {
	Function string
	File     string
	Line     int32
}

func keyOf(stack []codec.RawFrame) LocationKey {
	if len(stack) == 0 {
		return LocationKey{Function: "<unknown>"}
	}
	top := stack[0]
	return LocationKey{Function: top.FunctionName, File: top.FileName, Line: top.Lineno}
}

// Feed pushes every Allocation event out of r into each of the given
// aggregators, stopping cleanly at io.EOF (the TRAILER).
func Feed(r *reader.Reader, aggs ...interface{ onAllocation(reader.Allocation) }) error {
	for {
		ev, err := r.Next()
		if err != nil {
			if ev.Trailer {
				return nil
			}
			return fmt.Errorf("aggregate: reading stream: %w", err)
		}
		if ev.Allocation == nil {
			continue
		}
		for _, a := range aggs {
			a.onAllocation(*ev.Allocation)
		}
	}
}
