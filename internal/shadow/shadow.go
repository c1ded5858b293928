// Package shadow mirrors the Go call stack of one thread so that
// allocations can be attributed to Go frames without paying for a full
// stack walk on every allocation. The Tracker keeps one Shadow per
// thread id its callers pass in; nothing here detects a goroutine
// migrating between OS threads.
package shadow

import (
	"sync"

	"github.com/godlygeek/memtrace/internal/codec"
)

// FrameSink is the capability a Shadow needs from the Tracker to turn
// pending pushes/pops into wire records: register a RawFrame (returning
// its dense id), then push/pop that id. It resolves the Tracker/Shadow
// cyclic reference.
type FrameSink interface {
	InternFrame(f codec.RawFrame) (id int64, isNew bool)
	EmitFramePush(id int64) bool
	EmitFramePop(count int) bool
}

// lazyFrame is a shadow-stack entry not yet reflected in the output.
type lazyFrame struct {
	frame   codec.RawFrame
	frameID int64
	emitted bool
}

// Shadow is a single goroutine's shadow call stack. It is exclusively
// owned by its goroutine: all mutating methods must only be called from
// that goroutine (or with external synchronization the caller provides).
type Shadow struct {
	mu          sync.Mutex // guards only the fields the generation handoff touches
	stack       []lazyFrame
	pendingPops int
	generation  uint64
	destroyed   bool
}

// New returns an empty Shadow at generation gen.
func New(gen uint64) *Shadow {
	return &Shadow{generation: gen}
}

// Depth returns the shadow's logical depth, including not-yet-emitted
// entries.
func (s *Shadow) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// Push records a Go frame's entry into the logical call stack without
// emitting anything yet (lazy emission).
func (s *Shadow) Push(f codec.RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.stack = append(s.stack, lazyFrame{frame: f})
}

// Pop records a Go frame's exit. If the popped entry was never emitted,
// it is simply dropped: pushes/pops that don't bracket any allocation
// never reach the wire.
func (s *Shadow) Pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || len(s.stack) == 0 {
		return
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	if top.emitted {
		s.pendingPops++
	}
}

// UpdateLine schedules a re-emit of the top frame with a new line
// number: if the top entry was already emitted, an extra pending pop
// is scheduled and the top is marked unemitted so the next Flush
// re-pushes it with the new line.
func (s *Shadow) UpdateLine(line int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || len(s.stack) == 0 {
		return
	}
	top := &s.stack[len(s.stack)-1]
	top.frame.Lineno = line
	if top.emitted {
		s.pendingPops++
		top.emitted = false
	}
}

// Flush emits pending pops (as one or more FRAME_POP records) then any
// trailing unemitted pushes, oldest first, via sink. It must be called
// before every allocation event.
func (s *Shadow) Flush(sink FrameSink) {
	s.mu.Lock()
	pops := s.pendingPops
	s.pendingPops = 0
	toPush := make([]int, 0)
	for i, f := range s.stack {
		if !f.emitted {
			toPush = append(toPush, i)
		}
	}
	s.mu.Unlock()

	if pops > 0 {
		sink.EmitFramePop(pops)
	}
	for _, i := range toPush {
		s.mu.Lock()
		if i >= len(s.stack) {
			s.mu.Unlock()
			continue
		}
		f := s.stack[i].frame
		s.mu.Unlock()

		id, _ := sink.InternFrame(f)
		sink.EmitFramePush(id)

		s.mu.Lock()
		if i < len(s.stack) {
			s.stack[i].emitted = true
			s.stack[i].frameID = id
		}
		s.mu.Unlock()
	}
}

// Generation returns the shadow's current tracker generation.
func (s *Shadow) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// ReloadIfStale discards local state and reloads from deposit if gen
// differs from the shadow's own generation: tracking that is stopped
// and later restarted does not carry stale entries across the gap.
func (s *Shadow) ReloadIfStale(gen uint64, deposit []codec.RawFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		return
	}
	s.generation = gen
	s.pendingPops = 0
	s.stack = s.stack[:0]
	for _, f := range deposit {
		s.stack = append(s.stack, lazyFrame{frame: f})
	}
}

// Destroy marks the shadow empty for the remainder of thread teardown.
// After this point Push/Pop/UpdateLine are no-ops: the shadow's backing
// storage must not be re-created after its destructor has already fired.
func (s *Shadow) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.stack = nil
	s.pendingPops = 0
}
