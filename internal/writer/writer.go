// Package writer serializes the record stream to a Sink under a single
// mutex, owning the per-stream delta-encoding state. It is the only
// package that mutates a Sink; everything else (Tracker, Shadow, the
// sampler) goes through a *Writer.
package writer

import (
	"sync"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/sink"
	"github.com/godlygeek/memtrace/internal/tracelog"
)

// Writer owns a Sink, the live delta-field state, and running statistics.
// All methods are safe for concurrent use. Multi-record bursts
// (WriteFramePop, WriteModuleCache) are emitted under one hold of the
// mutex, so they land contiguously in the stream.
type Writer struct {
	mu   sync.Mutex
	sink sink.Sink
	enc  *codec.Encoder

	// delta-encoded fields. These are
	// shared across every thread because the writer linearizes all
	// records under mu: there is exactly one stream, not one per thread.
	pythonFrameID      codec.DeltaEncoder
	pythonLineNumber   codec.DeltaEncoder
	instructionPointer codec.DeltaEncoder
	nativeParentIndex  codec.DeltaEncoder
	nativeFrameID      codec.DeltaEncoder
	dataPointer        codec.DeltaEncoder

	stats      codec.TrackerStats
	header     codec.HeaderRecord // fixed fields reused when rewriting the header at Finish
	active     bool
	currentTID uint64
	haveTID    bool
}

// New creates a Writer around sink s and immediately writes a HeaderRecord
// built from the given parameters. The header's EndTimeMS is 0 until
// Finish rewrites it with the final value.
func New(s sink.Sink, nativeTraces bool, commandLine string, pid int32, pyAllocator codec.PythonAllocator, startTimeMS uint64) (*Writer, error) {
	w := &Writer{
		sink: s,
		enc:  codec.NewEncoder(),
		stats: codec.TrackerStats{
			StartTimeMS: startTimeMS,
		},
		active: true,
	}
	w.header = codec.HeaderRecord{
		Version:         codec.CurrentVersion,
		NativeTraces:    nativeTraces,
		Stats:           w.stats,
		CommandLine:     commandLine,
		PID:             pid,
		PythonAllocator: pyAllocator,
	}
	w.enc.Reset()
	codec.EncodeHeader(w.enc, w.header)
	if !s.WriteAll(w.enc.Bytes()) {
		return nil, errInit("writing initial header")
	}
	return w, nil
}

type errInit string

func (e errInit) Error() string { return "writer: init error: " + string(e) }

// Active reports whether the writer still accepts records. Once a write
// fails, the writer deactivates permanently.
func (w *Writer) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Lock is a handle on the writer's mutex. It implements sync.Locker.
// Every Write* method takes the same mutex, so while a Lock is held no
// record can be emitted, not even by its holder; the tracker holds one
// across fork to keep the writer still.
type Lock struct{ w *Writer }

func (l Lock) Lock()   { l.w.mu.Lock() }
func (l Lock) Unlock() { l.w.mu.Unlock() }

// AcquireLock returns a Locker over the writer's mutex. A caller that
// Locks it must Unlock it on every exit path and must not call any
// Write* method in between.
func (w *Writer) AcquireLock() Lock {
	return Lock{w: w}
}

func (w *Writer) deactivate(reason string) {
	if w.active {
		w.active = false
		tracelog.Errorf("deactivating tracer: %s", reason)
	}
}

func (w *Writer) emit(build func(*codec.Encoder)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.emitLocked(build)
}

// emitLocked assumes w.mu is already held (used by emit() and by the
// Write* methods that hold the mutex across a burst).
func (w *Writer) emitLocked(build func(*codec.Encoder)) bool {
	if !w.active {
		return false
	}
	w.enc.Reset()
	build(w.enc)
	if !w.sink.WriteAll(w.enc.Bytes()) {
		w.deactivate("sink write failed")
		return false
	}
	return true
}

func (w *Writer) ensureContextSwitchLocked(threadID uint64) {
	if w.haveTID && w.currentTID == threadID {
		return
	}
	w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeContextSwitch(e, threadID)
	})
	w.currentTID = threadID
	w.haveTID = true
}

// EnsureContextSwitch emits a CONTEXT_SWITCH record if the current thread
// identity in the stream differs from threadID, satisfying the ordering
// guarantee that CONTEXT_SWITCH precedes the first thread-specific record
// for a new thread.
func (w *Writer) EnsureContextSwitch(threadID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
}

// WriteMemoryRecord emits a MEMORY_RECORD for the background sampler.
func (w *Writer) WriteMemoryRecord(rss, msSinceStart uint64) bool {
	ok := w.emit(func(e *codec.Encoder) {
		codec.EncodeMemoryRecord(e, rss, msSinceStart)
	})
	return ok
}

// WriteFrameIndex interns a new RawFrame under frameID, emitting it once.
func (w *Writer) WriteFrameIndex(threadID uint64, frameID int64, frame codec.RawFrame) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
	ok := w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeFrameIndex(e, &w.pythonFrameID, &w.pythonLineNumber, frameID, frame.FunctionName, frame.FileName, frame.Lineno, frame.IsEntryFrame)
	})
	if ok {
		w.stats.NFrames++
	}
	return ok
}

// WriteFramePush emits a FRAME_PUSH for an already-interned frame id.
func (w *Writer) WriteFramePush(threadID uint64, frameID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
	return w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeFramePush(e, &w.pythonFrameID, frameID)
	})
}

// WriteFramePop emits one or more FRAME_POP records totalling count pops,
// split into batches of at most codec.MaxFramePopBatch.
func (w *Writer) WriteFramePop(threadID uint64, count int) bool {
	if count <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
	for _, batch := range codec.SplitFramePopBatches(count) {
		if !w.emitLocked(func(e *codec.Encoder) {
			codec.EncodeFramePop(e, batch)
		}) {
			return false
		}
	}
	return true
}

// WriteAllocation emits an ALLOCATION record and updates running stats.
func (w *Writer) WriteAllocation(threadID uint64, kind codec.AllocatorKind, address, size uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
	ok := w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeAllocation(e, &w.dataPointer, kind, address, size)
	})
	if ok && !kind.IsDeallocator() {
		w.stats.NAllocations++
	}
	return ok
}

// WriteAllocationWithNative emits an ALLOCATION_WITH_NATIVE record.
func (w *Writer) WriteAllocationWithNative(threadID uint64, kind codec.AllocatorKind, address, size uint64, nativeFrameID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
	ok := w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeAllocationWithNative(e, &w.dataPointer, &w.nativeFrameID, kind, address, size, nativeFrameID)
	})
	if ok && !kind.IsDeallocator() {
		w.stats.NAllocations++
	}
	return ok
}

// WriteNativeTraceIndex interns a new (ip, parent) node of the
// NativeTraceTree. parentIndex is the already-interned index of the
// caller frame, or the node's own (about-to-be-assigned) index for a
// tree root.
func (w *Writer) WriteNativeTraceIndex(ip uint64, parentIndex int64) bool {
	return w.emit(func(e *codec.Encoder) {
		codec.EncodeNativeTraceIndex(e, &w.instructionPointer, &w.nativeParentIndex, ip, parentIndex)
	})
}

// WriteThreadRecord emits a THREAD_RECORD naming the current thread.
func (w *Writer) WriteThreadRecord(threadID uint64, name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureContextSwitchLocked(threadID)
	return w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeThreadRecord(e, name)
	})
}

// ImageSegment is one mapping of a loaded image.
type ImageSegment struct {
	Vaddr uint64
	Memsz uint64
}

// Image describes one loaded dynamic image for WriteModuleCache.
type Image struct {
	Filename string
	BaseAddr uint64
	Segments []ImageSegment
}

// WriteModuleCache emits MEMORY_MAP_START followed by a SEGMENT_HEADER +
// SEGMENT burst per image, as a single atomic burst under the writer
// lock.
func (w *Writer) WriteModuleCache(images []Image) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeMemoryMapStart(e)
	}) {
		return false
	}
	for _, img := range images {
		if !w.emitLocked(func(e *codec.Encoder) {
			codec.EncodeSegmentHeader(e, img.Filename, len(img.Segments), img.BaseAddr)
		}) {
			return false
		}
		for _, seg := range img.Segments {
			if !w.emitLocked(func(e *codec.Encoder) {
				codec.EncodeSegment(e, seg.Vaddr, seg.Memsz)
			}) {
				return false
			}
		}
	}
	return true
}

// Finish writes the TRAILER and, if the sink supports seeking, rewrites
// the header in place with final stats. endTimeMS is the wall-clock at
// Tracker destruction.
func (w *Writer) Finish(endTimeMS uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return nil
	}
	w.stats.EndTimeMS = endTimeMS
	w.emitLocked(func(e *codec.Encoder) {
		codec.EncodeTrailer(e)
	})
	w.sink.Flush()

	if w.sink.Seek(0, 0) {
		w.header.Stats = w.stats
		w.enc.Reset()
		codec.EncodeHeader(w.enc, w.header)
		if !w.sink.WriteAll(w.enc.Bytes()) {
			tracelog.Errorf("header rewrite failed; final stats are only in the TRAILER/counted records")
		}
		w.sink.Flush()
	} else {
		tracelog.Debugf("sink does not support seek; relying on TRAILER for final stats")
	}
	w.active = false
	return nil
}

// Stats returns a snapshot of the running statistics.
func (w *Writer) Stats() codec.TrackerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
