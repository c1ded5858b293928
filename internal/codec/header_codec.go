package codec

import "fmt"

// EncodeHeader writes a full HeaderRecord: the format's fixed-layout
// prologue, not part of the delta-encoded record stream. It is written
// once at file open and rewritten (via Sink.Seek) at Tracker shutdown
// with final stats.
func EncodeHeader(e *Encoder, h HeaderRecord) {
	e.Raw(Magic[:])
	e.Uint16(h.Version)
	e.Bool(h.NativeTraces)
	e.Uint64(h.Stats.NAllocations)
	e.Uint64(h.Stats.NFrames)
	e.Uint64(h.Stats.StartTimeMS)
	e.Uint64(h.Stats.EndTimeMS)
	e.CString(h.CommandLine)
	e.Int32(h.PID)
	e.Byte(byte(h.PythonAllocator))
}

// DecodeHeader reads a HeaderRecord and validates the magic and version
// before returning. A magic mismatch or out-of-range version is reported
// immediately, without attempting to decode the rest of the stream.
func DecodeHeader(d *Decoder) (HeaderRecord, error) {
	var h HeaderRecord
	magic, err := d.Raw(len(Magic))
	if err != nil {
		return h, fmt.Errorf("codec: reading magic: %w", err)
	}
	for i := range Magic {
		if magic[i] != Magic[i] {
			return h, fmt.Errorf("%w: got %x", ErrBadMagic, magic)
		}
	}
	if h.Version, err = d.Uint16(); err != nil {
		return h, err
	}
	if h.Version < MinSupportedVersion || h.Version > MaxSupportedVersion {
		return h, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, h.Version)
	}
	if h.NativeTraces, err = d.Bool(); err != nil {
		return h, err
	}
	if h.Stats.NAllocations, err = d.Uint64(); err != nil {
		return h, err
	}
	if h.Stats.NFrames, err = d.Uint64(); err != nil {
		return h, err
	}
	if h.Stats.StartTimeMS, err = d.Uint64(); err != nil {
		return h, err
	}
	if h.Stats.EndTimeMS, err = d.Uint64(); err != nil {
		return h, err
	}
	if h.CommandLine, err = d.CString(); err != nil {
		return h, err
	}
	if h.PID, err = d.Int32(); err != nil {
		return h, err
	}
	pa, err := d.Byte()
	if err != nil {
		return h, err
	}
	h.PythonAllocator = PythonAllocator(pa)
	return h, nil
}

// ErrBadMagic and ErrUnsupportedVersion are sentinel errors so callers can
// distinguish a corrupt/foreign file from one merely written by a newer or
// older release.
var (
	ErrBadMagic           = fmt.Errorf("codec: bad magic")
	ErrUnsupportedVersion = fmt.Errorf("codec: unsupported version")
)
