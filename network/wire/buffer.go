package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a read runs past the end of the buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// Buffer is a little-endian byte buffer used for reliable command payloads.
// Writes append to the tail; reads consume from an internal cursor.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer wraps b for reading. The slice is not copied.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{data: b}
}

// NewWriteBuffer returns an empty buffer with the given capacity hint.
func NewWriteBuffer(capHint int) *Buffer {
	return &Buffer{data: make([]byte, 0, capHint)}
}

// Bytes returns the full underlying contents, ignoring the read cursor.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns the unread part of the buffer.
func (b *Buffer) Remaining() []byte { return b.data[b.off:] }

// EOF reports whether every byte has been read.
func (b *Buffer) EOF() bool { return b.off >= len(b.data) }

func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) WriteUint16(v uint16) { b.data = binary.LittleEndian.AppendUint16(b.data, v) }

func (b *Buffer) WriteUint32(v uint32) { b.data = binary.LittleEndian.AppendUint32(b.data, v) }

func (b *Buffer) WriteUint64(v uint64) { b.data = binary.LittleEndian.AppendUint64(b.data, v) }

func (b *Buffer) WriteBytes(p []byte) { b.data = append(b.data, p...) }

// WriteCString writes s followed by a NUL terminator.
func (b *Buffer) WriteCString(s string) {
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)
}

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || len(b.data)-b.off < n {
		return nil, ErrShortBuffer
	}
	p := b.data[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// ReadBytes consumes n bytes. The returned slice aliases the buffer.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	return b.take(n)
}
