package handle

import (
	"encoding/binary"
	"errors"
)

// Length-prefixed buffer framing for crossing the handle boundary. Each
// buffer is [Len:4 little-endian][bytes]; no null termination is assumed
// or produced, so keys and values may contain arbitrary bytes.

// ErrShortBuffer indicates a truncated length-prefixed buffer.
var ErrShortBuffer = errors.New("handle: short buffer")

// AppendBuffer appends one length-prefixed buffer to dst and returns the
// extended slice.
func AppendBuffer(dst, buf []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(buf)))
	return append(dst, buf...)
}

// NextBuffer decodes the first length-prefixed buffer in src. It returns
// the buffer contents and the remaining bytes. The returned contents
// alias src; use CopyBuffer when the caller needs ownership.
func NextBuffer(src []byte) ([]byte, []byte, error) {
	if len(src) < 4 {
		return nil, nil, ErrShortBuffer
	}
	n := binary.LittleEndian.Uint32(src)
	if uint32(len(src)-4) < n {
		return nil, nil, ErrShortBuffer
	}
	return src[4 : 4+n], src[4+n:], nil
}

// CopyBuffer decodes like NextBuffer but returns a caller-owned copy of
// the contents.
func CopyBuffer(src []byte) ([]byte, []byte, error) {
	buf, rest, err := NextBuffer(src)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), buf...), rest, nil
}
