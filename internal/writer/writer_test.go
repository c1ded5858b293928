package writer

import (
	"bytes"
	"testing"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/sink"
)

// memSink is a minimal in-memory Sink for writer tests. It supports
// Seek(0, io.SeekStart) by tracking a write cursor into a growable byte
// slice, mimicking a real file's overwrite-in-place semantics.
type memSink struct {
	data   []byte
	cursor int
	broken bool
}

func (m *memSink) WriteAll(p []byte) bool {
	if m.broken {
		return false
	}
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
func (m *memSink) Flush() bool { return !m.broken }
func (m *memSink) Seek(offset int64, whence int) bool {
	if m.broken || whence != 0 || offset < 0 {
		return false
	}
	m.cursor = int(offset)
	return true
}
func (m *memSink) CloneInChild() (sink.Sink, bool) { return nil, false }
func (m *memSink) Close() error                    { return nil }
func (m *memSink) bytes() []byte                   { return m.data }

func TestWriterS1MallocFree(t *testing.T) {
	s := &memSink{}
	w, err := New(s, false, "prog", 123, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}

	const tid = uint64(1)
	if !w.WriteAllocation(tid, codec.AllocMalloc, 0xdead, 16) {
		t.Fatal("malloc write failed")
	}
	if !w.WriteAllocation(tid, codec.AllocFree, 0xdead, 0) {
		t.Fatal("free write failed")
	}
	if err := w.Finish(1000); err != nil {
		t.Fatal(err)
	}

	stats := w.Stats()
	if stats.NAllocations != 1 {
		t.Fatalf("NAllocations = %d, want 1", stats.NAllocations)
	}
}

func TestWriterEmitsContextSwitchOncePerThread(t *testing.T) {
	s := &memSink{}
	w, err := New(s, false, "prog", 1, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	w.WriteAllocation(1, codec.AllocMalloc, 1, 1)
	w.WriteAllocation(1, codec.AllocMalloc, 2, 1)
	w.WriteAllocation(2, codec.AllocMalloc, 3, 1)

	data := s.bytes()
	d := codec.NewDecoder(bytes.NewReader(data))
	if _, err := codec.DecodeHeader(d); err != nil {
		t.Fatal(err)
	}

	var contextSwitches int
	var addrDec codec.DeltaDecoder
	for i := 0; i < 3; i++ {
		typ, flags, err := codec.ReadRecordHeader(d)
		if err != nil {
			t.Fatal(err)
		}
		switch typ {
		case codec.RecordContextSwitch:
			contextSwitches++
			if _, err := codec.DecodeContextSwitch(d); err != nil {
				t.Fatal(err)
			}
			i-- // context switch doesn't consume an allocation slot
		case codec.RecordAllocation:
			if _, err := codec.DecodeAllocation(d, flags, &addrDec); err != nil {
				t.Fatal(err)
			}
		}
	}
	if contextSwitches != 2 {
		t.Fatalf("contextSwitches = %d, want 2 (one per distinct thread)", contextSwitches)
	}
}

func TestWriterDeactivatesOnSinkFailure(t *testing.T) {
	s := &memSink{}
	w, err := New(s, false, "prog", 1, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	s.broken = true
	if w.WriteAllocation(1, codec.AllocMalloc, 1, 1) {
		t.Fatal("expected write to fail once sink is broken")
	}
	if w.Active() {
		t.Fatal("writer should have deactivated after a failed write")
	}
}
