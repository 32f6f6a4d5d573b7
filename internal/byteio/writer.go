package byteio

import "encoding/binary"

// Writer accumulates big-endian output. Writes never fail.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) U8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) U16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *Writer) U64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *Writer) S8(v int8)    { w.U8(uint8(v)) }
func (w *Writer) S16(v int16)  { w.U16(uint16(v)) }
func (w *Writer) S32(v int32)  { w.U32(uint32(v)) }

// Write appends p. It implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the accumulated output.
func (w *Writer) Bytes() []byte { return w.buf }
