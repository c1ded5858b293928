package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/sink"
	"github.com/godlygeek/memtrace/internal/writer"
)

// writeSampleCapture builds a tiny real on-disk capture (one malloc, one
// free, one memory sample) for report subcommands to read back.
func writeSampleCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.bin")
	s, err := sink.NewFileSink(path, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := writer.New(s, false, "sample-prog", 42, codec.AllocatorMalloc, 0)
	if err != nil {
		t.Fatal(err)
	}
	const tid = uint64(1)
	w.WriteFrameIndex(tid, 0, codec.RawFrame{FunctionName: "alloc_fn", FileName: "main.go", Lineno: 10})
	w.WriteFramePush(tid, 0)
	w.WriteAllocation(tid, codec.AllocMalloc, 0x1000, 64)
	w.WriteFramePop(tid, 1)
	w.WriteAllocation(tid, codec.AllocFree, 0x1000, 0)
	w.WriteMemoryRecord(4096, 5)
	if err := w.Finish(10); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSummaryCommandReadsCapture(t *testing.T) {
	path := writeSampleCapture(t)
	if err := summaryCommand([]string{path}); err != nil {
		t.Fatalf("summaryCommand: %v", err)
	}
}

func TestStatsCommandReadsCapture(t *testing.T) {
	path := writeSampleCapture(t)
	if err := statsCommand([]string{path}); err != nil {
		t.Fatalf("statsCommand: %v", err)
	}
}

func TestTableCommandReadsCapture(t *testing.T) {
	path := writeSampleCapture(t)
	if err := tableCommand([]string{path}); err != nil {
		t.Fatalf("tableCommand: %v", err)
	}
}

func TestTreeCommandReadsCapture(t *testing.T) {
	path := writeSampleCapture(t)
	if err := treeCommand([]string{path}); err != nil {
		t.Fatalf("treeCommand: %v", err)
	}
}

func TestFlamegraphCommandWritesHTML(t *testing.T) {
	path := writeSampleCapture(t)
	out := filepath.Join(t.TempDir(), "out.html")
	if err := flamegraphCommand([]string{path, out}); err != nil {
		t.Fatalf("flamegraphCommand: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty flamegraph HTML")
	}
}

func TestTransformCommandRoundTrips(t *testing.T) {
	path := writeSampleCapture(t)
	out := filepath.Join(t.TempDir(), "out.bin")
	if err := transformCommand([]string{path, out}); err != nil {
		t.Fatalf("transformCommand: %v", err)
	}
	if err := summaryCommand([]string{out}); err != nil {
		t.Fatalf("summaryCommand on transformed capture: %v", err)
	}
}

func TestTransformCommandCompresses(t *testing.T) {
	path := writeSampleCapture(t)
	out := filepath.Join(t.TempDir(), "out.zst.bin")
	if err := transformCommand([]string{"-compress", path, out}); err != nil {
		t.Fatalf("transformCommand -compress: %v", err)
	}
}

func TestInsertStackAccumulatesBytesAlongPath(t *testing.T) {
	root := newTreeNode(flameRootKey())
	stackA := []codec.RawFrame{
		{FunctionName: "inner", FileName: "a.go", Lineno: 2},
		{FunctionName: "outer", FileName: "a.go", Lineno: 1},
	}
	insertStack(root, stackA, 100)
	insertStack(root, stackA, 50)

	if root.bytes != 150 || root.count != 2 {
		t.Fatalf("root = %+v, want bytes=150 count=2", root)
	}
	var outer *treeNode
	for _, c := range root.children {
		outer = c
	}
	if outer == nil || outer.bytes != 150 || outer.key.Function != "outer" {
		t.Fatalf("outer child = %+v, want bytes=150 function=outer", outer)
	}
	var inner *treeNode
	for _, c := range outer.children {
		inner = c
	}
	if inner == nil || inner.bytes != 150 || inner.key.Function != "inner" {
		t.Fatalf("inner grandchild = %+v, want bytes=150 function=inner", inner)
	}
}
