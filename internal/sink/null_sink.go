package sink

// NullSink discards every write. Useful for benchmarking interposition
// overhead without I/O, and as the sink a no-op Tracker falls back to.
type NullSink struct{}

func NewNullSink() *NullSink { return &NullSink{} }

func (NullSink) WriteAll(p []byte) bool           { return true }
func (NullSink) Flush() bool                      { return true }
func (NullSink) Seek(offset int64, whence int) bool { return false }
func (NullSink) CloneInChild() (Sink, bool)       { return NewNullSink(), true }
func (NullSink) Close() error                     { return nil }
