package reader

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/sink"
	"github.com/godlygeek/memtrace/internal/writer"
)

// memSink is a growable in-memory sink, copied from the writer
// package's test helper since both need the same overwrite-in-place
// Seek semantics to exercise a full write-then-read round trip.
type memSink struct {
	data   []byte
	cursor int
}

func (m *memSink) WriteAll(p []byte) bool {
	end := m.cursor + len(p)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.cursor:end], p)
	m.cursor = end
	return true
}
func (m *memSink) Flush() bool { return true }
func (m *memSink) Seek(offset int64, whence int) bool {
	if whence != 0 || offset < 0 {
		return false
	}
	m.cursor = int(offset)
	return true
}
func (m *memSink) CloneInChild() (sink.Sink, bool) { return nil, false }
func (m *memSink) Close() error                    { return nil }

func TestReaderRoundTripsS1MallocFree(t *testing.T) {
	s := &memSink{}
	w, err := writer.New(s, false, "prog", 1, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteFrameIndex(1, 0, codec.RawFrame{FunctionName: "main.alloc", FileName: "a.go", Lineno: 5})
	w.WriteFramePush(1, 0)
	w.WriteAllocation(1, codec.AllocMalloc, 0xdead, 16)
	w.WriteFramePop(1, 1)
	w.WriteAllocation(1, codec.AllocFree, 0xdead, 0)
	if err := w.Finish(1000); err != nil {
		t.Fatal(err)
	}

	r, err := New(bytes.NewReader(s.data))
	if err != nil {
		t.Fatal(err)
	}

	ev1, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev1.Allocation == nil || ev1.Allocation.Kind != codec.AllocMalloc || ev1.Allocation.Size != 16 {
		t.Fatalf("unexpected first event: %+v", ev1)
	}
	if len(ev1.Allocation.Stack) != 1 || ev1.Allocation.Stack[0].FunctionName != "main.alloc" {
		t.Fatalf("expected malloc to be attributed to main.alloc, got %+v", ev1.Allocation.Stack)
	}

	ev2, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev2.Allocation == nil || ev2.Allocation.Kind != codec.AllocFree {
		t.Fatalf("unexpected second event: %+v", ev2)
	}
	if len(ev2.Allocation.Stack) != 0 {
		t.Fatalf("expected free (after the pop) to carry no frames, got %+v", ev2.Allocation.Stack)
	}

	_, err = r.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF at the trailer, got %v", err)
	}
}

func TestReaderRejectsFramePushBeforeFrameIndex(t *testing.T) {
	s := &memSink{}
	w, err := writer.New(s, false, "prog", 1, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteFramePush(1, 0) // no prior WriteFrameIndex(1, 0, ...)
	w.WriteAllocation(1, codec.AllocMalloc, 0xdead, 16)
	if err := w.Finish(1000); err != nil {
		t.Fatal(err)
	}

	r, err := New(bytes.NewReader(s.data))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Next()
	if !errors.Is(err, ErrUnknownFrameID) {
		t.Fatalf("err = %v, want ErrUnknownFrameID", err)
	}
}

func TestReaderRejectsUnknownNativeFrameID(t *testing.T) {
	s := &memSink{}
	w, err := writer.New(s, true, "prog", 1, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteAllocationWithNative(1, codec.AllocMalloc, 0xbeef, 64, 9) // no prior WriteNativeTraceIndex
	if err := w.Finish(1); err != nil {
		t.Fatal(err)
	}

	r, err := New(bytes.NewReader(s.data))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Next()
	if !errors.Is(err, ErrUnknownNativeID) {
		t.Fatalf("err = %v, want ErrUnknownNativeID", err)
	}
}

func TestReaderResolvesNativeChain(t *testing.T) {
	s := &memSink{}
	w, err := writer.New(s, true, "prog", 1, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteNativeTraceIndex(0x1000, 0) // root, parent == own index (0)
	w.WriteNativeTraceIndex(0x2000, 0) // child of index 0
	w.WriteAllocationWithNative(1, codec.AllocMalloc, 0xbeef, 64, 1)
	if err := w.Finish(1); err != nil {
		t.Fatal(err)
	}

	r, err := New(bytes.NewReader(s.data))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Allocation == nil {
		t.Fatalf("expected an allocation event, got %+v", ev)
	}
	want := []uint64{0x2000, 0x1000}
	if len(ev.Allocation.NativeIP) != len(want) {
		t.Fatalf("NativeIP = %v, want %v", ev.Allocation.NativeIP, want)
	}
	for i := range want {
		if ev.Allocation.NativeIP[i] != want[i] {
			t.Fatalf("NativeIP = %v, want %v", ev.Allocation.NativeIP, want)
		}
	}
}
