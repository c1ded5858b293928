// Package codec implements the pure (no I/O) encode/decode logic for
// memtrace's binary record stream: varint and zig-zag-signed-varint
// primitives, per-field delta streams, and the fixed record vocabulary.
// Nothing in this package touches a file descriptor or socket;
// Encoder appends to an in-memory buffer and Decoder reads from whatever
// io.Reader its caller supplies (the Reader in package reader owns the
// actual file).
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder accumulates the bytes of one or more records into an in-memory
// buffer. It is not safe for concurrent use; package writer serializes
// access to it under its own mutex.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with a pre-sized scratch buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// Reset empties the encoder's buffer for reuse without reallocating.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the bytes accumulated so far. The slice is only valid
// until the next Reset or write call.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *Encoder) Varint(x uint64) {
	e.buf = AppendVarint(e.buf, x)
}

func (e *Encoder) Zigzag(n int64) {
	e.buf = AppendZigzag(e.buf, n)
}

// AppendDelta encodes v as the next value of the delta stream d and
// advances d's running state.
func (e *Encoder) AppendDelta(d *DeltaEncoder, v int64) {
	e.buf = d.Append(e.buf, v)
}

func (e *Encoder) Uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) Int32(v int32) {
	e.Uint32(uint32(v))
}

func (e *Encoder) Bool(v bool) {
	if v {
		e.Byte(1)
	} else {
		e.Byte(0)
	}
}

// CString appends s followed by a NUL terminator.
func (e *Encoder) CString(s string) {
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
}

// Raw appends b verbatim, e.g. the file magic.
func (e *Encoder) Raw(b []byte) {
	e.buf = append(e.buf, b...)
}

// Decoder reads records sequentially from an underlying byte stream.
// Records are not self-delimiting: a Decoder must be driven in the
// same order the Encoder wrote, and it keeps no buffering beyond
// what bufio.Reader needs to satisfy ReadByte.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r for sequential record decoding.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

func (d *Decoder) Byte() (byte, error) {
	return d.r.ReadByte()
}

// Varint reads a little-endian base-128 varint from the stream.
func (d *Decoder) Varint() (uint64, error) {
	var x uint64
	var shift uint
	for {
		if shift >= 64 {
			return 0, fmt.Errorf("codec: varint overflow")
		}
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		x |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return x, nil
		}
		shift += 7
	}
}

func (d *Decoder) Zigzag() (int64, error) {
	u, err := d.Varint()
	if err != nil {
		return 0, err
	}
	return ZigZagDecode(u), nil
}

// Delta reads a zig-zag varint and reconstructs the absolute value from dd's
// running state, advancing dd.
func (d *Decoder) Delta(dd *DeltaDecoder) (int64, error) {
	diff, err := d.Zigzag()
	if err != nil {
		return 0, err
	}
	var value int64
	if dd.set {
		value = dd.last + diff
	} else {
		value = diff
	}
	dd.last = value
	dd.set = true
	return value, nil
}

func (d *Decoder) Uint16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (d *Decoder) Uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (d *Decoder) Uint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

func (d *Decoder) Bool() (bool, error) {
	b, err := d.r.ReadByte()
	return b != 0, err
}

// CString reads bytes up to and including the next NUL terminator and
// returns the string without the terminator.
func (d *Decoder) CString() (string, error) {
	s, err := d.r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

// Raw reads exactly n bytes.
func (d *Decoder) Raw(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
