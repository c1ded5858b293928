package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkWriteAndSeek(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.bin")

	s, err := NewFileSink(path, false)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	if !s.WriteAll([]byte("hello ")) {
		t.Fatal("first WriteAll failed")
	}
	if !s.WriteAll([]byte("world")) {
		t.Fatal("second WriteAll failed")
	}
	if !s.Flush() {
		t.Fatal("Flush failed")
	}

	if !s.Seek(0, os.SEEK_SET) {
		t.Fatal("Seek failed")
	}
	if !s.WriteAll([]byte("HELLO")) {
		t.Fatal("overwrite WriteAll failed")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "HELLO world" {
		t.Fatalf("got %q, want %q", got, "HELLO world")
	}
}

func TestFileSinkCloneInChild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.bin")

	s, err := NewFileSink(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	child, ok := s.CloneInChild()
	if !ok {
		t.Fatal("CloneInChild failed")
	}
	defer child.Close()

	if !child.WriteAll([]byte("child data")) {
		t.Fatal("child WriteAll failed")
	}
}

func TestSocketSinkCannotClone(t *testing.T) {
	s := &SocketSink{}
	if _, ok := s.CloneInChild(); ok {
		t.Fatal("socket sink should not support CloneInChild")
	}
	if s.Seek(0, os.SEEK_SET) {
		t.Fatal("socket sink should not support Seek")
	}
}

func TestNullSinkDiscardsEverything(t *testing.T) {
	s := NewNullSink()
	if !s.WriteAll([]byte("anything")) {
		t.Fatal("null sink should always accept writes")
	}
	if !s.Flush() {
		t.Fatal("null sink flush should succeed")
	}
	if s.Seek(0, os.SEEK_SET) {
		t.Fatal("null sink should not support seek")
	}
}

func TestFileSinkBrokenAfterWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.bin")
	s, err := NewFileSink(path, false)
	if err != nil {
		t.Fatal(err)
	}
	s.file.Close() // force subsequent writes to fail
	if s.WriteAll([]byte("x")) {
		t.Fatal("expected WriteAll to fail after file closed")
	}
	if s.WriteAll([]byte("y")) {
		t.Fatal("sink should stay broken, not attempt further writes")
	}
}
