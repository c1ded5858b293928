package codec

import "fmt"

// Record header encoding.
//
// The wire format packs a single RecordTypeAndFlags byte: 5 high bits of
// type, 3 low bits of flags. That packs every record type that needs at most 3
// bits of flags (FRAME_INDEX's is_entry_frame bit; everything else that
// carries no flags at all). Two record types need more than 3 bits of
// flags: FRAME_POP's repeat count (1..16, needing 4 bits) and
// ALLOCATION[_WITH_NATIVE]'s allocator_kind (up to 23 distinct values,
// needing 5 bits). For those two record types only, this implementation
// writes a dedicated full flags byte immediately after the type byte
// instead of trying to squeeze the value into 3 bits; every other record
// type uses the literal 5+3 packing. ReadRecordHeader hides the
// distinction from callers, returning a single effective flags value
// either way. This choice is recorded in DESIGN.md's internal/codec
// entry.
func writeHeaderByte(e *Encoder, t RecordType, flags3 byte) {
	e.Byte(byte(t)<<3 | (flags3 & 0x7))
}

func needsWideFlags(t RecordType) bool {
	switch t {
	case RecordFramePop, RecordAllocation, RecordAllocationWithNative:
		return true
	default:
		return false
	}
}

// ReadRecordHeader reads the type byte (and, for FRAME_POP and the
// ALLOCATION record types, the following wide-flags byte) and returns the
// record type plus its effective flags value.
func ReadRecordHeader(d *Decoder) (RecordType, byte, error) {
	b, err := d.Byte()
	if err != nil {
		return 0, 0, err
	}
	t := RecordType(b >> 3)
	if !t.Valid() {
		return t, 0, fmt.Errorf("codec: unknown record type %d", b>>3)
	}
	if needsWideFlags(t) {
		wb, err := d.Byte()
		if err != nil {
			return t, 0, err
		}
		return t, wb, nil
	}
	return t, b & 0x7, nil
}

// ---- MEMORY_RECORD ----

func EncodeMemoryRecord(e *Encoder, rss, msSinceStart uint64) {
	writeHeaderByte(e, RecordMemory, 0)
	e.Varint(rss)
	e.Varint(msSinceStart)
}

func DecodeMemoryRecord(d *Decoder) (rss, msSinceStart uint64, err error) {
	if rss, err = d.Varint(); err != nil {
		return 0, 0, err
	}
	if msSinceStart, err = d.Varint(); err != nil {
		return 0, 0, err
	}
	return rss, msSinceStart, nil
}

// ---- CONTEXT_SWITCH ----

func EncodeContextSwitch(e *Encoder, threadID uint64) {
	writeHeaderByte(e, RecordContextSwitch, 0)
	e.Uint64(threadID)
}

func DecodeContextSwitch(d *Decoder) (uint64, error) {
	return d.Uint64()
}

// ---- FRAME_INDEX ----

func EncodeFrameIndex(e *Encoder, frameIDDelta, lineDelta *DeltaEncoder, frameID int64, function, filename string, line int32, isEntryFrame bool) {
	var flags3 byte
	if !isEntryFrame {
		flags3 = 1
	}
	writeHeaderByte(e, RecordFrameIndex, flags3)
	e.AppendDelta(frameIDDelta, frameID)
	e.CString(function)
	e.CString(filename)
	e.AppendDelta(lineDelta, int64(line))
}

type DecodedFrameIndex struct {
	FrameID int64
	Frame   RawFrame
}

func DecodeFrameIndex(d *Decoder, flags byte, frameIDDelta, lineDelta *DeltaDecoder) (DecodedFrameIndex, error) {
	var out DecodedFrameIndex
	frameID, err := d.Delta(frameIDDelta)
	if err != nil {
		return out, err
	}
	function, err := d.CString()
	if err != nil {
		return out, err
	}
	filename, err := d.CString()
	if err != nil {
		return out, err
	}
	line, err := d.Delta(lineDelta)
	if err != nil {
		return out, err
	}
	out.FrameID = frameID
	out.Frame = RawFrame{
		FunctionName: function,
		FileName:     filename,
		Lineno:       int32(line),
		IsEntryFrame: flags&0x1 == 0,
	}
	return out, nil
}

// ---- FRAME_PUSH ----

func EncodeFramePush(e *Encoder, frameIDDelta *DeltaEncoder, frameID int64) {
	writeHeaderByte(e, RecordFramePush, 0)
	e.AppendDelta(frameIDDelta, frameID)
}

func DecodeFramePush(d *Decoder, frameIDDelta *DeltaDecoder) (int64, error) {
	return d.Delta(frameIDDelta)
}

// ---- FRAME_POP ----

// MaxFramePopBatch is the largest pop count a single FRAME_POP record can
// carry; larger pop counts must be split across ceil(n/16) records.
const MaxFramePopBatch = 16

func EncodeFramePop(e *Encoder, count int) {
	if count < 1 || count > MaxFramePopBatch {
		panic("codec: FRAME_POP count out of range")
	}
	writeHeaderByte(e, RecordFramePop, 0)
	e.Byte(byte(count - 1))
}

// DecodeFramePop interprets the wide flags byte already read by
// ReadRecordHeader as a pop count.
func DecodeFramePop(flags byte) int {
	return int(flags) + 1
}

// SplitFramePopBatches returns how many records of what size are needed to
// emit a pop of n frames, largest-first, following a ⌈N/16⌉ rule
// (e.g. a pop of 20 becomes batches of 16 then 4).
func SplitFramePopBatches(n int) []int {
	if n <= 0 {
		return nil
	}
	var batches []int
	for n > 0 {
		b := n
		if b > MaxFramePopBatch {
			b = MaxFramePopBatch
		}
		batches = append(batches, b)
		n -= b
	}
	return batches
}

// ---- ALLOCATION / ALLOCATION_WITH_NATIVE ----

func EncodeAllocation(e *Encoder, addrDelta *DeltaEncoder, kind AllocatorKind, address uint64, size uint64) {
	writeHeaderByte(e, RecordAllocation, 0)
	e.Byte(byte(kind))
	e.AppendDelta(addrDelta, int64(address))
	if !kind.IsDeallocator() {
		e.Varint(size)
	}
}

type DecodedAllocation struct {
	Kind    AllocatorKind
	Address uint64
	Size    uint64
}

func DecodeAllocation(d *Decoder, flags byte, addrDelta *DeltaDecoder) (DecodedAllocation, error) {
	kind := AllocatorKind(flags)
	if !kind.Valid() {
		return DecodedAllocation{}, fmt.Errorf("codec: unknown allocator kind %d", flags)
	}
	addr, err := d.Delta(addrDelta)
	if err != nil {
		return DecodedAllocation{}, err
	}
	var size uint64
	if !kind.IsDeallocator() {
		if size, err = d.Varint(); err != nil {
			return DecodedAllocation{}, err
		}
	}
	return DecodedAllocation{Kind: kind, Address: uint64(addr), Size: size}, nil
}

func EncodeAllocationWithNative(e *Encoder, addrDelta, nativeFrameDelta *DeltaEncoder, kind AllocatorKind, address uint64, size uint64, nativeFrameID int64) {
	writeHeaderByte(e, RecordAllocationWithNative, 0)
	e.Byte(byte(kind))
	e.AppendDelta(addrDelta, int64(address))
	if !kind.IsDeallocator() {
		e.Varint(size)
	}
	e.AppendDelta(nativeFrameDelta, nativeFrameID)
}

type DecodedAllocationWithNative struct {
	DecodedAllocation
	NativeFrameID int64
}

func DecodeAllocationWithNative(d *Decoder, flags byte, addrDelta, nativeFrameDelta *DeltaDecoder) (DecodedAllocationWithNative, error) {
	kind := AllocatorKind(flags)
	if !kind.Valid() {
		return DecodedAllocationWithNative{}, fmt.Errorf("codec: unknown allocator kind %d", flags)
	}
	addr, err := d.Delta(addrDelta)
	if err != nil {
		return DecodedAllocationWithNative{}, err
	}
	var size uint64
	if !kind.IsDeallocator() {
		if size, err = d.Varint(); err != nil {
			return DecodedAllocationWithNative{}, err
		}
	}
	nativeFrameID, err := d.Delta(nativeFrameDelta)
	if err != nil {
		return DecodedAllocationWithNative{}, err
	}
	return DecodedAllocationWithNative{
		DecodedAllocation: DecodedAllocation{Kind: kind, Address: uint64(addr), Size: size},
		NativeFrameID:     nativeFrameID,
	}, nil
}

// ---- NATIVE_TRACE_INDEX ----

// EncodeNativeTraceIndex interns one node of the NativeTraceTree: ip is
// this node's native instruction pointer, parentIndex is the
// already-interned index of its caller frame (or index itself, for a
// tree root — DecodeNativeTraceIndex's caller treats parent == index as
// the root sentinel rather than reserving a separate out-of-band value).
func EncodeNativeTraceIndex(e *Encoder, ipDelta, parentDelta *DeltaEncoder, ip uint64, parentIndex int64) {
	writeHeaderByte(e, RecordNativeTraceIndex, 0)
	e.AppendDelta(ipDelta, int64(ip))
	e.AppendDelta(parentDelta, parentIndex)
}

type DecodedNativeTraceIndex struct {
	IP          uint64
	ParentIndex int64
}

func DecodeNativeTraceIndex(d *Decoder, ipDelta, parentDelta *DeltaDecoder) (DecodedNativeTraceIndex, error) {
	ipv, err := d.Delta(ipDelta)
	if err != nil {
		return DecodedNativeTraceIndex{}, err
	}
	parent, err := d.Delta(parentDelta)
	if err != nil {
		return DecodedNativeTraceIndex{}, err
	}
	return DecodedNativeTraceIndex{IP: uint64(ipv), ParentIndex: parent}, nil
}

// ---- MEMORY_MAP_START ----

func EncodeMemoryMapStart(e *Encoder) {
	writeHeaderByte(e, RecordMemoryMapStart, 0)
}

// ---- SEGMENT_HEADER ----

func EncodeSegmentHeader(e *Encoder, filename string, numSegments int, baseAddr uint64) {
	writeHeaderByte(e, RecordSegmentHeader, 0)
	e.CString(filename)
	e.Varint(uint64(numSegments))
	e.Uint64(baseAddr)
}

type DecodedSegmentHeader struct {
	Filename    string
	NumSegments int
	BaseAddr    uint64
}

func DecodeSegmentHeader(d *Decoder) (DecodedSegmentHeader, error) {
	filename, err := d.CString()
	if err != nil {
		return DecodedSegmentHeader{}, err
	}
	n, err := d.Varint()
	if err != nil {
		return DecodedSegmentHeader{}, err
	}
	base, err := d.Uint64()
	if err != nil {
		return DecodedSegmentHeader{}, err
	}
	return DecodedSegmentHeader{Filename: filename, NumSegments: int(n), BaseAddr: base}, nil
}

// ---- SEGMENT ----

func EncodeSegment(e *Encoder, vaddr uint64, memsz uint64) {
	writeHeaderByte(e, RecordSegment, 0)
	e.Uint64(vaddr)
	e.Varint(memsz)
}

func DecodeSegment(d *Decoder) (Segment, error) {
	vaddr, err := d.Uint64()
	if err != nil {
		return Segment{}, err
	}
	memsz, err := d.Varint()
	if err != nil {
		return Segment{}, err
	}
	return Segment{Vaddr: vaddr, Memsz: memsz}, nil
}

// ---- THREAD_RECORD ----

func EncodeThreadRecord(e *Encoder, name string) {
	writeHeaderByte(e, RecordThread, 0)
	e.CString(name)
}

func DecodeThreadRecord(d *Decoder) (string, error) {
	return d.CString()
}

// ---- TRAILER ----

func EncodeTrailer(e *Encoder) {
	writeHeaderByte(e, RecordTrailer, 0)
	e.Raw(Magic[:])
}

func DecodeTrailer(d *Decoder) error {
	got, err := d.Raw(len(Magic))
	if err != nil {
		return err
	}
	for i := range Magic {
		if got[i] != Magic[i] {
			return fmt.Errorf("codec: trailer magic mismatch")
		}
	}
	return nil
}
