// Package sink implements the append-only byte channels memtrace writes
// its record stream to: a seekable file, an unbuffered socket, and a
// discarding null sink, each with seek and fork-clone capabilities
// where the underlying transport allows it.
package sink

import "io"

// Sink is the capability set every concrete sink implements. A false
// return from WriteAll or Flush means the sink has become unusable;
// the caller (package writer) must stop issuing further writes.
type Sink interface {
	// WriteAll writes all of p or none of it; a caller never observes a
	// partial write.
	WriteAll(p []byte) bool
	// Flush pushes any buffered bytes to the underlying transport.
	Flush() bool
	// Seek repositions the sink for the header rewrite on shutdown. It
	// returns false if the sink does not support seeking (sockets, the
	// null sink).
	Seek(offset int64, whence int) bool
	// CloneInChild returns a sink usable by a forked child process, or
	// (nil, false) if the underlying transport cannot be safely reused
	// after fork (e.g. a socket connection).
	CloneInChild() (Sink, bool)
	// Close releases the sink's resources.
	Close() error
}

// Writer exposes the subset of Sink that behaves like an io.Writer, for
// callers (e.g. compression wrappers) that only need to push bytes.
type Writer interface {
	io.Writer
}
