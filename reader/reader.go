// Package reader is the offline, symmetrical counterpart to
// internal/writer: it replays a recorded stream back into a sequence of
// Allocation and auxiliary events for the aggregate package to consume.
package reader

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownFrameID and ErrUnknownNativeID are sentinel decode errors
// returned when a stack reference names an id that no prior
// FRAME_INDEX/NATIVE_TRACE_INDEX record ever interned — a frame-id
// reference before its definition, which is a corrupt or out-of-order
// stream rather than a recoverable condition.
var (
	ErrUnknownFrameID  = errors.New("reader: frame id referenced before FRAME_INDEX")
	ErrUnknownNativeID = errors.New("reader: native id referenced before NATIVE_TRACE_INDEX")
)

// Allocation is one reconstructed allocation or deallocation event,
// with its call stack already resolved from the frame/native intern
// tables — the reader's whole job is to turn the wire's delta-encoded,
// intern-table-indirected records back into self-contained values like
// this one.
type Allocation struct {
	ThreadID uint64
	Kind     codec.AllocatorKind
	Address  uint64
	Size     uint64
	Stack    []codec.RawFrame // innermost frame first
	NativeIP []uint64         // innermost native ip first, empty if none
}

// MemorySample is one MEMORY_RECORD.
type MemorySample struct {
	RSS          uint64
	MSSinceStart uint64
}

// Reader decodes one trace stream. Allocation records reference frame
// and native-trace ids that must already have been interned by a prior
// FRAME_INDEX/NATIVE_TRACE_INDEX record, matching the writer's
// intern-before-reference invariant.
type Reader struct {
	d   *codec.Decoder
	hdr codec.HeaderRecord

	currentTID uint64

	frames        map[int64]codec.RawFrame
	natives       map[int64]nativeNode
	nextNativeIdx int64
	stacks        map[uint64][]int64 // per-thread shadow stack of live frame ids

	pythonFrameID     codec.DeltaDecoder
	pythonLineNumber  codec.DeltaDecoder
	instructionPtr    codec.DeltaDecoder
	nativeParentIndex codec.DeltaDecoder
	nativeFrameID     codec.DeltaDecoder
	dataPointer       codec.DeltaDecoder
}

type nativeNode struct {
	ip     uint64
	parent int64
}

// New decodes the file header and returns a Reader positioned at the
// first record. A zstd-compressed capture is recognised by its frame
// magic and decompressed transparently.
func New(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(4); err == nil && string(magic) == "\x28\xb5\x2f\xfd" {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("reader: opening zstd stream: %w", err)
		}
		src = zr
	}
	d := codec.NewDecoder(src)
	hdr, err := codec.DecodeHeader(d)
	if err != nil {
		return nil, fmt.Errorf("reader: decoding header: %w", err)
	}
	return &Reader{
		d:       d,
		hdr:     hdr,
		frames:  make(map[int64]codec.RawFrame),
		natives: make(map[int64]nativeNode),
		stacks:  make(map[uint64][]int64),
	}, nil
}

// Header returns the decoded file header (the HeaderRecord, including
// TrackerStats as of either the initial or final write, depending on
// whether the producer supported seek-based rewrite).
func (r *Reader) Header() codec.HeaderRecord { return r.hdr }

// Event is the sum type the reader's Next returns: exactly one of its
// fields is non-nil/non-zero per call, mirroring the wire's one-of-many
// record kinds after ALLOCATION/ALLOCATION_WITH_NATIVE have had their
// referenced stacks resolved inline.
type Event struct {
	Allocation *Allocation
	Memory     *MemorySample
	ThreadName *ThreadName
	Segment    *SegmentSnapshot
	Trailer    bool
}

// ThreadName is a decoded THREAD_RECORD.
type ThreadName struct {
	ThreadID uint64
	Name     string
}

// SegmentSnapshot is one decoded SEGMENT_HEADER plus its SEGMENT burst.
type SegmentSnapshot struct {
	Filename string
	BaseAddr uint64
	Segments []codec.Segment
}

// Next decodes and returns the next event in the stream. It returns
// io.EOF once the TRAILER has been consumed (the reader treats TRAILER
// as the one event it also surfaces, so callers can distinguish a clean
// end from a truncated file: a truncated file returns a non-EOF error
// from inside a partially read record instead).
func (r *Reader) Next() (Event, error) {
	for {
		typ, flags, err := codec.ReadRecordHeader(r.d)
		if err != nil {
			return Event{}, err
		}

		switch typ {
		case codec.RecordContextSwitch:
			tid, err := codec.DecodeContextSwitch(r.d)
			if err != nil {
				return Event{}, fmt.Errorf("reader: CONTEXT_SWITCH: %w", err)
			}
			r.currentTID = tid
			continue

		case codec.RecordFrameIndex:
			fi, err := codec.DecodeFrameIndex(r.d, flags, &r.pythonFrameID, &r.pythonLineNumber)
			if err != nil {
				return Event{}, fmt.Errorf("reader: FRAME_INDEX: %w", err)
			}
			r.frames[fi.FrameID] = fi.Frame
			continue

		case codec.RecordFramePush:
			id, err := codec.DecodeFramePush(r.d, &r.pythonFrameID)
			if err != nil {
				return Event{}, fmt.Errorf("reader: FRAME_PUSH: %w", err)
			}
			if _, ok := r.frames[id]; !ok {
				return Event{}, fmt.Errorf("reader: FRAME_PUSH: %w (id %d)", ErrUnknownFrameID, id)
			}
			r.stacks[r.currentTID] = append(r.stacks[r.currentTID], id)
			continue

		case codec.RecordFramePop:
			count := codec.DecodeFramePop(flags)
			stack := r.stacks[r.currentTID]
			if count > len(stack) {
				count = len(stack)
			}
			r.stacks[r.currentTID] = stack[:len(stack)-count]
			continue

		case codec.RecordAllocation:
			da, err := codec.DecodeAllocation(r.d, flags, &r.dataPointer)
			if err != nil {
				return Event{}, fmt.Errorf("reader: ALLOCATION: %w", err)
			}
			return Event{Allocation: &Allocation{
				ThreadID: r.currentTID,
				Kind:     da.Kind,
				Address:  da.Address,
				Size:     da.Size,
				Stack:    r.resolveStack(r.currentTID),
			}}, nil

		case codec.RecordAllocationWithNative:
			da, err := codec.DecodeAllocationWithNative(r.d, flags, &r.dataPointer, &r.nativeFrameID)
			if err != nil {
				return Event{}, fmt.Errorf("reader: ALLOCATION_WITH_NATIVE: %w", err)
			}
			nativeIP, err := r.resolveNative(da.NativeFrameID)
			if err != nil {
				return Event{}, fmt.Errorf("reader: ALLOCATION_WITH_NATIVE: %w", err)
			}
			return Event{Allocation: &Allocation{
				ThreadID: r.currentTID,
				Kind:     da.Kind,
				Address:  da.Address,
				Size:     da.Size,
				Stack:    r.resolveStack(r.currentTID),
				NativeIP: nativeIP,
			}}, nil

		case codec.RecordNativeTraceIndex:
			ni, err := codec.DecodeNativeTraceIndex(r.d, &r.instructionPtr, &r.nativeParentIndex)
			if err != nil {
				return Event{}, fmt.Errorf("reader: NATIVE_TRACE_INDEX: %w", err)
			}
			id := r.nextNativeIdx
			r.nextNativeIdx++
			r.natives[id] = nativeNode{ip: ni.IP, parent: ni.ParentIndex}
			continue

		case codec.RecordMemory:
			rss, ms, err := codec.DecodeMemoryRecord(r.d)
			if err != nil {
				return Event{}, fmt.Errorf("reader: MEMORY_RECORD: %w", err)
			}
			return Event{Memory: &MemorySample{RSS: rss, MSSinceStart: ms}}, nil

		case codec.RecordThread:
			name, err := codec.DecodeThreadRecord(r.d)
			if err != nil {
				return Event{}, fmt.Errorf("reader: THREAD_RECORD: %w", err)
			}
			return Event{ThreadName: &ThreadName{ThreadID: r.currentTID, Name: name}}, nil

		case codec.RecordMemoryMapStart:
			continue

		case codec.RecordSegmentHeader:
			sh, err := codec.DecodeSegmentHeader(r.d)
			if err != nil {
				return Event{}, fmt.Errorf("reader: SEGMENT_HEADER: %w", err)
			}
			snap := SegmentSnapshot{Filename: sh.Filename, BaseAddr: sh.BaseAddr}
			for i := 0; i < sh.NumSegments; i++ {
				if t, _, err := codec.ReadRecordHeader(r.d); err != nil || t != codec.RecordSegment {
					return Event{}, fmt.Errorf("reader: expected SEGMENT after SEGMENT_HEADER: %w", err)
				}
				seg, err := codec.DecodeSegment(r.d)
				if err != nil {
					return Event{}, fmt.Errorf("reader: SEGMENT: %w", err)
				}
				snap.Segments = append(snap.Segments, seg)
			}
			return Event{Segment: &snap}, nil

		case codec.RecordTrailer:
			if err := codec.DecodeTrailer(r.d); err != nil {
				return Event{}, fmt.Errorf("reader: TRAILER: %w", err)
			}
			return Event{Trailer: true}, io.EOF

		default:
			return Event{}, fmt.Errorf("reader: unhandled record type %s", typ)
		}
	}
}

func (r *Reader) resolveStack(tid uint64) []codec.RawFrame {
	ids := r.stacks[tid]
	out := make([]codec.RawFrame, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = r.frames[id]
	}
	return out
}

func (r *Reader) resolveNative(leafID int64) ([]uint64, error) {
	var out []uint64
	id := leafID
	for {
		node, ok := r.natives[id]
		if !ok {
			return nil, fmt.Errorf("%w (id %d)", ErrUnknownNativeID, id)
		}
		out = append(out, node.ip)
		if node.parent == id {
			break
		}
		id = node.parent
	}
	return out, nil
}
