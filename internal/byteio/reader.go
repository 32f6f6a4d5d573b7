// Package byteio reads and writes the big-endian encodings used by JVM class files.
package byteio

import (
	"encoding/binary"
	"errors"
)

var ErrEOF = errors.New("byteio: unexpected end of data")

// Reader reads class file data sequentially.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a reader over the given data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current read position.
func (r *Reader) Position() int { return r.pos }

// Remaining returns bytes left to read.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, ErrEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// U16 reads a big-endian uint16.
func (r *Reader) U16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrEOF
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// U32 reads a big-endian uint32.
func (r *Reader) U32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// U64 reads a big-endian uint64.
func (r *Reader) U64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, ErrEOF
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) S8() (int8, error) {
	v, err := r.U8()
	return int8(v), err
}

func (r *Reader) S16() (int16, error) {
	v, err := r.U16()
	return int16(v), err
}

func (r *Reader) S32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// Bytes reads n bytes. The returned slice aliases the underlying data.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrEOF
	}
	out := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return out, nil
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return ErrEOF
	}
	r.pos += n
	return nil
}
