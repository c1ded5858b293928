package codec

// RecordType is the wire vocabulary's record table. It is written as
// the first byte of every record (RecordTypeAndFlags), followed
// by a type-specific flags byte for the record kinds that need one (see the
// "record header" note in records_codec.go for why flags live in their own byte
// rather than the low 3 bits of the type byte).
type RecordType byte

const (
	RecordMemory RecordType = iota
	RecordContextSwitch
	RecordFrameIndex
	RecordFramePush
	RecordFramePop
	RecordAllocation
	RecordAllocationWithNative
	RecordNativeTraceIndex
	RecordMemoryMapStart
	RecordSegmentHeader
	RecordSegment
	RecordThread
	RecordTrailer
	recordTypeCount
)

func (t RecordType) Valid() bool {
	return t < recordTypeCount
}

func (t RecordType) String() string {
	switch t {
	case RecordMemory:
		return "MEMORY_RECORD"
	case RecordContextSwitch:
		return "CONTEXT_SWITCH"
	case RecordFrameIndex:
		return "FRAME_INDEX"
	case RecordFramePush:
		return "FRAME_PUSH"
	case RecordFramePop:
		return "FRAME_POP"
	case RecordAllocation:
		return "ALLOCATION"
	case RecordAllocationWithNative:
		return "ALLOCATION_WITH_NATIVE"
	case RecordNativeTraceIndex:
		return "NATIVE_TRACE_INDEX"
	case RecordMemoryMapStart:
		return "MEMORY_MAP_START"
	case RecordSegmentHeader:
		return "SEGMENT_HEADER"
	case RecordSegment:
		return "SEGMENT"
	case RecordThread:
		return "THREAD_RECORD"
	case RecordTrailer:
		return "TRAILER"
	default:
		return "UNKNOWN"
	}
}

// AllocatorKind enumerates every allocation/deallocation entry point the
// tracer recognizes. RAW corresponds to the interposed libc family, MEM
// to the wrapped sync.Pool domain, and OBJ to the heap-object counters.
type AllocatorKind byte

const (
	AllocMalloc AllocatorKind = iota
	AllocCalloc
	AllocRealloc
	AllocFree
	AllocMmap
	AllocMunmap
	AllocPosixMemalign
	AllocAlignedAlloc
	AllocMemalign
	AllocValloc
	AllocPvalloc
	AllocPymallocRawMalloc
	AllocPymallocRawCalloc
	AllocPymallocRawRealloc
	AllocPymallocRawFree
	AllocPymallocMemMalloc
	AllocPymallocMemCalloc
	AllocPymallocMemRealloc
	AllocPymallocMemFree
	AllocPymallocObjMalloc
	AllocPymallocObjCalloc
	AllocPymallocObjRealloc
	AllocPymallocObjFree
	allocatorKindCount
)

func (k AllocatorKind) Valid() bool {
	return k < allocatorKindCount
}

// IsDeallocator reports whether this allocator kind frees memory rather
// than allocating it; such ALLOCATION records omit the size field.
func (k AllocatorKind) IsDeallocator() bool {
	switch k {
	case AllocFree, AllocMunmap, AllocPymallocRawFree, AllocPymallocMemFree, AllocPymallocObjFree:
		return true
	default:
		return false
	}
}

func (k AllocatorKind) String() string {
	switch k {
	case AllocMalloc:
		return "MALLOC"
	case AllocCalloc:
		return "CALLOC"
	case AllocRealloc:
		return "REALLOC"
	case AllocFree:
		return "FREE"
	case AllocMmap:
		return "MMAP"
	case AllocMunmap:
		return "MUNMAP"
	case AllocPosixMemalign:
		return "POSIX_MEMALIGN"
	case AllocAlignedAlloc:
		return "ALIGNED_ALLOC"
	case AllocMemalign:
		return "MEMALIGN"
	case AllocValloc:
		return "VALLOC"
	case AllocPvalloc:
		return "PVALLOC"
	case AllocPymallocRawMalloc:
		return "PYMALLOC_RAW_MALLOC"
	case AllocPymallocRawCalloc:
		return "PYMALLOC_RAW_CALLOC"
	case AllocPymallocRawRealloc:
		return "PYMALLOC_RAW_REALLOC"
	case AllocPymallocRawFree:
		return "PYMALLOC_RAW_FREE"
	case AllocPymallocMemMalloc:
		return "PYMALLOC_MEM_MALLOC"
	case AllocPymallocMemCalloc:
		return "PYMALLOC_MEM_CALLOC"
	case AllocPymallocMemRealloc:
		return "PYMALLOC_MEM_REALLOC"
	case AllocPymallocMemFree:
		return "PYMALLOC_MEM_FREE"
	case AllocPymallocObjMalloc:
		return "PYMALLOC_OBJ_MALLOC"
	case AllocPymallocObjCalloc:
		return "PYMALLOC_OBJ_CALLOC"
	case AllocPymallocObjRealloc:
		return "PYMALLOC_OBJ_REALLOC"
	case AllocPymallocObjFree:
		return "PYMALLOC_OBJ_FREE"
	default:
		return "UNKNOWN"
	}
}

// PythonAllocator records which managed-allocator domain a header was
// captured under; it is part of the wire contract
// (HeaderRecord.python_allocator).
type PythonAllocator byte

const (
	AllocatorPyMalloc PythonAllocator = iota
	AllocatorMalloc
	AllocatorPyMallocDebug
)

// Magic is the 8-byte file-format magic. Byte-exact; the reader
// rejects any other value before doing further decoding.
var Magic = [8]byte{'m', 'e', 'm', 't', 'r', 'c', 0, 0}

// CurrentVersion is the on-disk format version this codec writes.
const CurrentVersion uint16 = 1

// MinSupportedVersion and MaxSupportedVersion bound the versions this
// reader accepts.
const (
	MinSupportedVersion uint16 = 1
	MaxSupportedVersion uint16 = 1
)

// TrackerStats holds the running counters and timestamps recorded in
// every capture's header and trailer.
type TrackerStats struct {
	NAllocations uint64
	NFrames      uint64
	StartTimeMS  uint64
	EndTimeMS    uint64
}

// HeaderRecord is the fixed-layout record written at the start (and,
// for seekable sinks, rewritten at the end) of every capture.
type HeaderRecord struct {
	Version         uint16
	NativeTraces    bool
	Stats           TrackerStats
	CommandLine     string
	PID             int32
	PythonAllocator PythonAllocator
}

// RawFrame identifies one source location by tuple, with a dense id
// assigned on first sight.
type RawFrame struct {
	FunctionName string
	FileName     string
	Lineno       int32
	IsEntryFrame bool
}

// Segment is one entry of an ImageSegments snapshot.
type Segment struct {
	Vaddr uint64
	Memsz uint64
}
