// Package tracker is the process-wide coordinator: one Tracker exists
// per live trace, owns the Writer, the RawFrame intern table and native
// trace tree, and the per-thread Shadow stacks. It is the capability
// Shadow.Flush and interpose.Interposer.Track report through.
package tracker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/shadow"
	"github.com/godlygeek/memtrace/internal/tracelog"
	"github.com/godlygeek/memtrace/internal/writer"
)

// Tracker is the process-wide singleton. Only one can be active at a
// time; Create fails if one already is — at most one active Tracker
// per process.
type Tracker struct {
	mu         sync.Mutex
	w          *writer.Writer
	active     atomic.Bool
	generation uint64

	frameIDs   map[codec.RawFrame]int64
	nextFrame  int64

	nativeNodes map[nativeKey]int64
	nextNative  int64

	shadows map[uint64]*shadow.Shadow // keyed by OS thread id

	watchpoints *watchpointSet
}

type nativeKey struct {
	ip     uint64
	parent int64
}

var (
	globalMu sync.Mutex
	global   *Tracker
)

// Create installs t as the process-wide active tracker. It fails if a
// tracker is already active: a second trace run against an
// already-traced process is a user error, not something to silently
// merge into one stream.
func Create(w *writer.Writer) (*Tracker, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil && global.active.Load() {
		return nil, fmt.Errorf("tracker: a tracker is already active in this process")
	}
	t := &Tracker{
		w:           w,
		frameIDs:    make(map[codec.RawFrame]int64),
		nativeNodes: make(map[nativeKey]int64),
		shadows:     make(map[uint64]*shadow.Shadow),
		watchpoints: newWatchpointSet(),
	}
	t.active.Store(true)
	global = t
	return t, nil
}

// Current returns the process-wide active tracker, or nil if none is
// active.
func Current() *Tracker {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil && global.active.Load() {
		return global
	}
	return nil
}

// Active reports whether t is still the live, active tracker.
func (t *Tracker) Active() bool { return t.active.Load() }

// Destroy finalizes the underlying writer and deactivates t. The final
// header's end_time_ms must equal the wall clock at destruction;
// endTimeMS is supplied by the caller so tracker has no wall-clock
// dependency of its own.
func (t *Tracker) Destroy(endTimeMS uint64) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if !t.active.CompareAndSwap(true, false) {
		return nil
	}
	if global == t {
		global = nil
	}
	return t.w.Finish(endTimeMS)
}

// shadowFor returns (creating if needed) the Shadow for OS thread tid,
// at the tracker's current generation.
func (t *Tracker) shadowFor(tid uint64) *shadow.Shadow {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.shadows[tid]
	if !ok {
		s = shadow.New(t.generation)
		t.shadows[tid] = s
	}
	return s
}

// ShadowPush/ShadowPop/ShadowUpdateLine forward directly to the named
// thread's shadow; they're the hook points Go-frame instrumentation
// (generated or manually inserted at interesting call sites) uses.
func (t *Tracker) ShadowPush(tid uint64, f codec.RawFrame) { t.shadowFor(tid).Push(f) }
func (t *Tracker) ShadowPop(tid uint64)                    { t.shadowFor(tid).Pop() }
func (t *Tracker) ShadowUpdateLine(tid uint64, line int32) { t.shadowFor(tid).UpdateLine(line) }

// ThreadTeardown destroys the shadow for tid: after this call, any
// Shadow* call for tid starts a brand new (empty) shadow rather than
// resurrecting stale frames.
func (t *Tracker) ThreadTeardown(tid uint64) {
	t.mu.Lock()
	s, ok := t.shadows[tid]
	delete(t.shadows, tid)
	t.mu.Unlock()
	if ok {
		s.Destroy()
	}
}

// InternFrame assigns or reuses a dense id for f; flushAdapter wraps it
// to satisfy shadow.FrameSink. isNew tells the caller whether a FRAME_INDEX record
// still needs to be written for this id.
func (t *Tracker) InternFrame(f codec.RawFrame) (id int64, isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.frameIDs[f]; ok {
		return id, false
	}
	id = t.nextFrame
	t.nextFrame++
	t.frameIDs[f] = id
	return id, true
}

// emitFrameIndexIfNew writes the FRAME_INDEX record for a frame that
// InternFrame has just assigned an id. flushAdapter's EmitFramePush and
// EmitFramePop satisfy shadow.FrameSink by forwarding to the writer. The thread id threading through FrameIndex/FramePush/Pop
// must match the shadow that called InternFrame, so Flush is always
// invoked with that thread's id in scope (see TrackAllocation below).
func (t *Tracker) emitFrameIndexIfNew(tid uint64, id int64, f codec.RawFrame) {
	t.w.WriteFrameIndex(tid, id, f)
}

func (t *Tracker) flushShadow(tid uint64, s *shadow.Shadow) {
	s.Flush(flushAdapter{t: t, tid: tid})
}

// flushAdapter binds a thread id to the Tracker so Shadow.Flush's
// FrameSink calls land tagged with the right thread without Shadow
// itself needing to know about thread ids.
type flushAdapter struct {
	t   *Tracker
	tid uint64
}

func (a flushAdapter) InternFrame(f codec.RawFrame) (int64, bool) {
	id, isNew := a.t.InternFrame(f)
	if isNew {
		a.t.emitFrameIndexIfNew(a.tid, id, f)
	}
	return id, isNew
}

func (a flushAdapter) EmitFramePush(id int64) bool {
	return a.t.w.WriteFramePush(a.tid, id)
}

func (a flushAdapter) EmitFramePop(count int) bool {
	return a.t.w.WriteFramePop(a.tid, count)
}

// TrackAllocation flushes tid's shadow stack (so the frames bracketing
// this allocation are on record) and then emits the ALLOCATION record.
// It satisfies both shadow-less interposed calls (which pass an empty
// shadow implicitly, since nothing was ever pushed) and Go-code
// allocations instrumented with Shadow.Push/Pop.
func (t *Tracker) TrackAllocation(tid uint64, kind codec.AllocatorKind, address, size uint64) {
	if !t.active.Load() {
		return
	}
	s := t.shadowFor(tid)
	t.flushShadow(tid, s)
	t.w.WriteAllocation(tid, kind, address, size)
	t.watchpoints.check(kind, address, size)
}

// TrackDeallocation is sugar for TrackAllocation with size 0: every
// IsDeallocator() record always omits size on the wire.
func (t *Tracker) TrackDeallocation(tid uint64, kind codec.AllocatorKind, address uint64) {
	t.TrackAllocation(tid, kind, address, 0)
}

// InternNative assigns or reuses a dense id for the (ip, parent) pair
// that forms one frame of a native (cgo/DWARF-resolved) backtrace. parent
// is the already-interned index of the caller frame, or -1 for a trace
// root. A fresh id also writes a NATIVE_TRACE_INDEX record.
func (t *Tracker) InternNative(ip uint64, parent int64) int64 {
	t.mu.Lock()
	key := nativeKey{ip: ip, parent: parent}
	if id, ok := t.nativeNodes[key]; ok {
		t.mu.Unlock()
		return id
	}
	id := t.nextNative
	t.nextNative++
	t.nativeNodes[key] = id
	t.mu.Unlock()

	parentIndex := parent
	if parentIndex < 0 {
		parentIndex = id // root sentinel: parent == own index
	}
	t.w.WriteNativeTraceIndex(ip, parentIndex)
	return id
}

// TrackAllocationWithNative records an allocation whose call site
// includes a native (cgo) frame, identified by its interned native
// trace node id.
func (t *Tracker) TrackAllocationWithNative(tid uint64, kind codec.AllocatorKind, address, size uint64, nativeID int64) {
	if !t.active.Load() {
		return
	}
	s := t.shadowFor(tid)
	t.flushShadow(tid, s)
	t.w.WriteAllocationWithNative(tid, kind, address, size, nativeID)
	t.watchpoints.check(kind, address, size)
}

// UpdateModuleCache forwards a fresh snapshot of loaded images to the
// writer as a module-cache burst, called after interpose detects a
// dlopen/dlclose via InvalidateModuleCache.
func (t *Tracker) UpdateModuleCache(images []writer.Image) bool {
	return t.w.WriteModuleCache(images)
}

// RegisterThreadName attaches a human name to tid in the trace.
func (t *Tracker) RegisterThreadName(tid uint64, name string) bool {
	return t.w.WriteThreadRecord(tid, name)
}

// Generation returns the tracker's current generation, used by Shadow's
// ReloadIfStale to detect a stop/restart gap.
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// bumpGeneration is called when tracking restarts after having been
// fully stopped (not just paused), invalidating every shadow's cached
// stack.
func (t *Tracker) bumpGeneration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.shadows = make(map[uint64]*shadow.Shadow)
	tracelog.Debugf("tracker: generation bumped to %d, shadow table cleared", t.generation)
}
