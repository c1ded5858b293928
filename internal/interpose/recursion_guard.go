package interpose

import (
	"sync"
	"sync/atomic"
)

// RecursionGuard prevents a shim from re-entering itself when the
// tracer's own bookkeeping (interning a frame, growing a slice) triggers
// the very allocator entry point being shimmed: every shim enters a
// thread-local RecursionGuard on entry and must bail out to the real
// allocator, untraced, if it is already held.
//
// Guards are keyed per-thread rather than truly thread-local because Go
// has no portable TLS primitive; callers identify the calling OS thread
// themselves (the same thread id they pass to the tracker, which uses it
// to stamp CONTEXT_SWITCH records) and every entry point in this package
// takes that id as its first argument.
type RecursionGuard struct {
	held sync.Map // uint64 threadID -> *int32, 0=free 1=held
}

func slot(m *sync.Map, tid uint64) *int32 {
	if v, ok := m.Load(tid); ok {
		return v.(*int32)
	}
	v, _ := m.LoadOrStore(tid, new(int32))
	return v.(*int32)
}

// Enter attempts to acquire the guard for tid. It returns false if the
// guard is already held, meaning the caller must fall through to the
// real, untraced allocator.
func (g *RecursionGuard) Enter(tid uint64) bool {
	return atomic.CompareAndSwapInt32(slot(&g.held, tid), 0, 1)
}

// Exit releases the guard acquired by a successful Enter.
func (g *RecursionGuard) Exit(tid uint64) {
	atomic.StoreInt32(slot(&g.held, tid), 0)
}

// Held reports whether tid currently holds the guard, for tests and
// diagnostics.
func (g *RecursionGuard) Held(tid uint64) bool {
	return atomic.LoadInt32(slot(&g.held, tid)) == 1
}
