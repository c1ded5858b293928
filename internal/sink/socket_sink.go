package sink

import (
	"net"
	"sync/atomic"
)

// SocketSink writes unbuffered to a TCP connection (the CLI's `-live
// host:port` mode). It is not seekable and cannot be cloned into a forked
// child: a socket's peer has no way to distinguish the parent's bytes
// from the child's after a fork, so CloneInChild returns (nil, false)
// here.
type SocketSink struct {
	conn   net.Conn
	broken atomic.Bool
}

// NewSocketSink dials addr (host:port) and returns a sink that streams
// records to it.
func NewSocketSink(addr string) (*SocketSink, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &SocketSink{conn: conn}, nil
}

// NewSocketSinkFromConn wraps an already-accepted connection, used by a
// live-mode server that accepts incoming tracer connections.
func NewSocketSinkFromConn(conn net.Conn) *SocketSink {
	return &SocketSink{conn: conn}
}

func (s *SocketSink) WriteAll(p []byte) bool {
	if s.broken.Load() {
		return false
	}
	written := 0
	for written < len(p) {
		n, err := s.conn.Write(p[written:])
		if err != nil {
			s.broken.Store(true)
			return false
		}
		written += n
	}
	return true
}

func (s *SocketSink) Flush() bool {
	return !s.broken.Load()
}

func (s *SocketSink) Seek(offset int64, whence int) bool {
	return false
}

func (s *SocketSink) CloneInChild() (Sink, bool) {
	return nil, false
}

func (s *SocketSink) Close() error {
	return s.conn.Close()
}
