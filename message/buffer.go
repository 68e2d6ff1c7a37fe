// Package message holds the opaque payload type exchanged over connections.
// The transport never interprets its contents.
package message

import "encoding/binary"

// Buffer is a growable byte payload. It satisfies connection.Payload.
// A Buffer is not safe for concurrent mutation.
type Buffer struct {
	data []byte
}

// NewBuffer returns a Buffer holding a copy of the given chunks.
func NewBuffer(chunks ...[]byte) *Buffer {
	return &Buffer{data: JoinBytes(chunks...)}
}

// Length returns the number of bytes in the buffer.
func (b *Buffer) Length() int {
	return len(b.data)
}

// Bytes returns the buffer contents. The slice aliases the buffer until the
// next write.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteByte appends c.
func (b *Buffer) WriteByte(c byte) error {
	b.data = append(b.data, c)
	return nil
}

// WriteUint16 appends v in little-endian order.
func (b *Buffer) WriteUint16(v uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
}

// WriteUint32 appends v in little-endian order.
func (b *Buffer) WriteUint32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

// WriteFixedString appends s as exactly length bytes.
func (b *Buffer) WriteFixedString(s string, length int) {
	b.data = append(b.data, FixedLengthStringBytes(s, length)...)
}

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}
