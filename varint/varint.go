// Package varint implements the compact-size unsigned integer used for every
// count and length prefix in the block wire format.
//
// https://en.bitcoin.it/wiki/Protocol_documentation#Variable_length_integer
package varint

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

const (
	marker16 = 0xfd
	marker32 = 0xfe
	marker64 = 0xff
)

// ErrShortBuffer is returned when the input ends in the middle of a varint.
var ErrShortBuffer = errors.New("varint: not enough bytes")

// Size returns the number of bytes Encode(n) produces.
func Size(n uint64) int {
	switch {
	case n < marker16:
		return 1
	case n <= 0xffff:
		return 3
	case n <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// Encode returns the shortest encoding of n.
func Encode(n uint64) []byte {
	return Append(make([]byte, 0, Size(n)), n)
}

// Append appends the encoding of n to dst and returns the extended slice.
func Append(dst []byte, n uint64) []byte {
	switch {
	case n < marker16:
		return append(dst, byte(n))
	case n <= 0xffff:
		return append(dst, marker16, byte(n), byte(n>>8))
	case n <= 0xffffffff:
		return append(dst, marker32, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	default:
		return append(dst, marker64,
			byte(n), byte(n>>8), byte(n>>16), byte(n>>24),
			byte(n>>32), byte(n>>40), byte(n>>48), byte(n>>56))
	}
}

// Decode reads a varint from the start of b and returns it with the number of
// bytes it took up.
func Decode(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, errors.WithStack(ErrShortBuffer)
	}

	width := 0
	switch b[0] {
	case marker64:
		width = 8
	case marker32:
		width = 4
	case marker16:
		width = 2
	default:
		return uint64(b[0]), 1, nil
	}

	if len(b) < 1+width {
		return 0, 0, errors.Wrapf(ErrShortBuffer, "marker 0x%x needs %d bytes, have %d", b[0], width, len(b)-1)
	}

	v := b[1 : 1+width]
	switch width {
	case 8:
		return binary.LittleEndian.Uint64(v), 9, nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(v)), 5, nil
	default:
		return uint64(binary.LittleEndian.Uint16(v)), 3, nil
	}
}

// Read reads one varint from r.
func Read(r io.Reader) (uint64, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return 0, shortRead(err)
	}

	width := 0
	switch buf[0] {
	case marker64:
		width = 8
	case marker32:
		width = 4
	case marker16:
		width = 2
	default:
		return uint64(buf[0]), nil
	}

	if _, err := io.ReadFull(r, buf[1:1+width]); err != nil {
		return 0, shortRead(err)
	}
	n, _, err := Decode(buf[:1+width])
	return n, err
}

// Write writes the encoding of n to w.
func Write(w io.Writer, n uint64) error {
	var buf [9]byte
	_, err := w.Write(Append(buf[:0], n))
	return errors.Wrap(err, "write varint")
}

func shortRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.WithStack(ErrShortBuffer)
	}
	// plain io.EOF is left as is so callers can tell "nothing left" apart from
	// "cut off mid-value"
	return errors.Wrap(err, "read varint")
}
