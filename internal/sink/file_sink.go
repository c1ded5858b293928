package sink

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// FileSink is a seekable append sink backed by an *os.File, with an
// optional zstd encoder layered over it. It does no buffering of its
// own: each WriteAll goes straight to the file, or to the zstd encoder
// when compression is on.
type FileSink struct {
	file    *os.File
	path    string
	w       io.Writer
	zstdEnc *zstd.Encoder
	broken  atomic.Bool
}

// NewFileSink creates path, or truncates it if it already exists, opens
// it for reading and writing, and optionally wraps writes in a zstd
// encoder.
func NewFileSink(path string, compress bool) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	s := &FileSink{file: f, path: path, w: f}
	if compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		s.zstdEnc = enc
		s.w = enc
	}
	return s, nil
}

func (s *FileSink) WriteAll(p []byte) bool {
	if s.broken.Load() {
		return false
	}
	if _, err := s.w.Write(p); err != nil {
		s.broken.Store(true)
		return false
	}
	return true
}

func (s *FileSink) Flush() bool {
	if s.broken.Load() {
		return false
	}
	if s.zstdEnc != nil {
		if err := s.zstdEnc.Flush(); err != nil {
			s.broken.Store(true)
			return false
		}
	}
	if err := s.file.Sync(); err != nil {
		s.broken.Store(true)
		return false
	}
	return true
}

// Seek repositions the underlying file. Compressed sinks cannot be
// meaningfully reseeked mid-stream: callers must not compress when
// they need the header-rewrite path, and should rely on the TRAILER
// instead.
func (s *FileSink) Seek(offset int64, whence int) bool {
	if s.broken.Load() || s.zstdEnc != nil {
		return false
	}
	if _, err := s.file.Seek(offset, whence); err != nil {
		return false
	}
	return true
}

// CloneInChild reopens the same path for append, giving the forked child
// an independent file descriptor and offset.
func (s *FileSink) CloneInChild() (Sink, bool) {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false
	}
	child := &FileSink{file: f, path: s.path, w: f}
	return child, true
}

func (s *FileSink) Close() error {
	if s.zstdEnc != nil {
		s.zstdEnc.Close()
	}
	return s.file.Close()
}
