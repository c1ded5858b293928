package codec

import "fmt"

// AppendVarint appends x encoded as little-endian base-128 varint with a
// continuation bit to dst and returns the extended slice.
func AppendVarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

// ReadVarint decodes a varint from the front of src, returning the value
// and the number of bytes consumed. An error is returned if src runs out
// before a terminating byte is found.
func ReadVarint(src []byte) (uint64, int, error) {
	var x uint64
	var shift uint
	for i, b := range src {
		if shift >= 64 {
			return 0, 0, fmt.Errorf("codec: varint overflow")
		}
		x |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return x, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("codec: truncated varint")
}

// ZigZagEncode maps a signed integer to an unsigned one so that small
// magnitude values (positive or negative) encode to small varints:
// (n<<1) ^ (n>>63).
func ZigZagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

// ZigZagDecode is the inverse of ZigZagEncode.
func ZigZagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// AppendZigzag appends the zig-zag varint encoding of n.
func AppendZigzag(dst []byte, n int64) []byte {
	return AppendVarint(dst, ZigZagEncode(n))
}

// ReadZigzag reads a zig-zag varint from src.
func ReadZigzag(src []byte) (int64, int, error) {
	u, n, err := ReadVarint(src)
	if err != nil {
		return 0, 0, err
	}
	return ZigZagDecode(u), n, nil
}

// DeltaEncoder tracks the last value emitted for one field of a delta
// stream. Zero value starts from a last value of 0, matching the
// writer's fresh-per-stream state.
type DeltaEncoder struct {
	last int64
	set  bool
}

// Append encodes new relative to the last value seen (or 0, the first
// time) and updates the running last value.
func (d *DeltaEncoder) Append(dst []byte, new int64) []byte {
	var diff int64
	if d.set {
		diff = new - d.last
	} else {
		diff = new
	}
	d.last = new
	d.set = true
	return AppendZigzag(dst, diff)
}

// Reset restores the encoder to its initial, no-value-seen state.
// Nothing in this module calls it: writers and tests construct fresh
// encoders instead.
func (d *DeltaEncoder) Reset() {
	d.last = 0
	d.set = false
}

// DeltaDecoder mirrors DeltaEncoder on the read side.
type DeltaDecoder struct {
	last int64
	set  bool
}

// Read consumes one zig-zag varint from src and returns the reconstructed
// absolute value along with the bytes consumed.
func (d *DeltaDecoder) Read(src []byte) (int64, int, error) {
	diff, n, err := ReadZigzag(src)
	if err != nil {
		return 0, 0, err
	}
	var value int64
	if d.set {
		value = d.last + diff
	} else {
		value = diff
	}
	d.last = value
	d.set = true
	return value, n, nil
}
