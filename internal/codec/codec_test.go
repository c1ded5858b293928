package codec

import (
	"bytes"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<64 - 1}
	for _, x := range cases {
		buf := AppendVarint(nil, x)
		got, n, err := ReadVarint(buf)
		if err != nil {
			t.Fatalf("ReadVarint(%d): %v", x, err)
		}
		if got != x || n != len(buf) {
			t.Fatalf("ReadVarint(%d) = %d, %d bytes; want %d, %d bytes", x, got, n, x, len(buf))
		}
	}
}

func TestZigZagRoundTrip(t *testing.T) {
	cases := []int64{-1 << 63, -1, 0, 1, 1<<63 - 1}
	for _, x := range cases {
		u := ZigZagEncode(x)
		got := ZigZagDecode(u)
		if got != x {
			t.Fatalf("ZigZagDecode(ZigZagEncode(%d)) = %d", x, got)
		}
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	xs := []int64{10, 10, 5, 1000, -5, -1000, 0, 0, 42}
	var enc DeltaEncoder
	var buf []byte
	for _, x := range xs {
		buf = enc.Append(buf, x)
	}
	var dec DeltaDecoder
	got := make([]int64, 0, len(xs))
	for len(buf) > 0 {
		v, n, err := dec.Read(buf)
		if err != nil {
			t.Fatalf("DeltaDecoder.Read: %v", err)
		}
		got = append(got, v)
		buf = buf[n:]
	}
	if len(got) != len(xs) {
		t.Fatalf("got %d values, want %d", len(got), len(xs))
	}
	for i := range xs {
		if got[i] != xs[i] {
			t.Fatalf("value %d: got %d, want %d", i, got[i], xs[i])
		}
	}
}

func TestFramePopBatching(t *testing.T) {
	batches := SplitFramePopBatches(20)
	if len(batches) != 2 || batches[0] != 16 || batches[1] != 4 {
		t.Fatalf("SplitFramePopBatches(20) = %v, want [16 4]", batches)
	}
	sum := 0
	for _, b := range batches {
		sum += b
	}
	if sum != 20 {
		t.Fatalf("batches sum to %d, want 20", sum)
	}

	for _, n := range []int{1, 16, 17, 32, 33, 100} {
		batches := SplitFramePopBatches(n)
		sum := 0
		for _, b := range batches {
			if b < 1 || b > MaxFramePopBatch {
				t.Fatalf("batch %d out of range for n=%d", b, n)
			}
			sum += b
		}
		if sum != n {
			t.Fatalf("batches for n=%d sum to %d", n, sum)
		}
	}
}

func TestFramePopRecordRoundTrip(t *testing.T) {
	e := NewEncoder()
	EncodeFramePop(e, 16)
	d := NewDecoder(bytes.NewReader(e.Bytes()))
	typ, flags, err := ReadRecordHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	if typ != RecordFramePop {
		t.Fatalf("type = %v, want FRAME_POP", typ)
	}
	if got := DecodeFramePop(flags); got != 16 {
		t.Fatalf("count = %d, want 16", got)
	}
}

func TestAllocationRecordRoundTrip(t *testing.T) {
	e := NewEncoder()
	var addrEnc DeltaEncoder
	EncodeAllocation(e, &addrEnc, AllocMalloc, 0x1000, 16)
	EncodeAllocation(e, &addrEnc, AllocFree, 0x1000, 0)

	d := NewDecoder(bytes.NewReader(e.Bytes()))
	var addrDec DeltaDecoder

	typ, flags, err := ReadRecordHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	if typ != RecordAllocation {
		t.Fatalf("type = %v", typ)
	}
	a1, err := DecodeAllocation(d, flags, &addrDec)
	if err != nil {
		t.Fatal(err)
	}
	if a1.Kind != AllocMalloc || a1.Address != 0x1000 || a1.Size != 16 {
		t.Fatalf("a1 = %+v", a1)
	}

	typ, flags, err = ReadRecordHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := DecodeAllocation(d, flags, &addrDec)
	if err != nil {
		t.Fatal(err)
	}
	if a2.Kind != AllocFree || a2.Address != 0x1000 || a2.Size != 0 {
		t.Fatalf("a2 = %+v", a2)
	}
}

func TestAllocationWithNativeRecordRoundTrip(t *testing.T) {
	e := NewEncoder()
	var addrEnc, nativeEnc DeltaEncoder
	EncodeAllocationWithNative(e, &addrEnc, &nativeEnc, AllocMalloc, 0x2000, 32, 7)

	d := NewDecoder(bytes.NewReader(e.Bytes()))
	var addrDec, nativeDec DeltaDecoder

	typ, flags, err := ReadRecordHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	if typ != RecordAllocationWithNative {
		t.Fatalf("type = %v, want ALLOCATION_WITH_NATIVE", typ)
	}
	a, err := DecodeAllocationWithNative(d, flags, &addrDec, &nativeDec)
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != AllocMalloc || a.Address != 0x2000 || a.Size != 32 || a.NativeFrameID != 7 {
		t.Fatalf("a = %+v", a)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := HeaderRecord{
		Version:      CurrentVersion,
		NativeTraces: true,
		Stats: TrackerStats{
			NAllocations: 42,
			NFrames:      7,
			StartTimeMS:  1000,
			EndTimeMS:    0,
		},
		CommandLine:     "mybinary --flag",
		PID:             1234,
		PythonAllocator: AllocatorMalloc,
	}
	e := NewEncoder()
	EncodeHeader(e, h)
	d := NewDecoder(bytes.NewReader(e.Bytes()))
	got, err := DecodeHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestHeaderBadMagic(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, 64)
	d := NewDecoder(bytes.NewReader(buf))
	if _, err := DecodeHeader(d); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestFrameIndexRoundTrip(t *testing.T) {
	e := NewEncoder()
	var frameIDEnc, lineEnc DeltaEncoder
	EncodeFrameIndex(e, &frameIDEnc, &lineEnc, 0, "f", "a.go", 10, true)
	EncodeFrameIndex(e, &frameIDEnc, &lineEnc, 1, "g", "b.go", 20, false)

	d := NewDecoder(bytes.NewReader(e.Bytes()))
	var frameIDDec, lineDec DeltaDecoder

	typ, flags, err := ReadRecordHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	if typ != RecordFrameIndex {
		t.Fatal("wrong type")
	}
	r1, err := DecodeFrameIndex(d, flags, &frameIDDec, &lineDec)
	if err != nil {
		t.Fatal(err)
	}
	if r1.FrameID != 0 || r1.Frame.FunctionName != "f" || !r1.Frame.IsEntryFrame {
		t.Fatalf("r1 = %+v", r1)
	}

	typ, flags, err = ReadRecordHeader(d)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := DecodeFrameIndex(d, flags, &frameIDDec, &lineDec)
	if err != nil {
		t.Fatal(err)
	}
	if r2.FrameID != 1 || r2.Frame.FunctionName != "g" || r2.Frame.IsEntryFrame {
		t.Fatalf("r2 = %+v", r2)
	}
}
