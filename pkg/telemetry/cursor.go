package telemetry

import (
	"encoding/binary"
	"math"
)

// ByteOrder is the byte order of every multi-byte packet field.
var ByteOrder = binary.LittleEndian

// Cursor is a bounds-checked read/write position over a byte buffer.
// Every encode and decode step goes through a Cursor; a failed step never
// moves it.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor creates a Cursor at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Pos is the offset of the next byte.
func (c *Cursor) Pos() int {
	return c.pos
}

// Cap is the size of the underlying buffer.
func (c *Cursor) Cap() int {
	return len(c.buf)
}

// Remaining is the number of bytes after Pos.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Bytes returns the bytes before Pos.
func (c *Cursor) Bytes() []byte {
	return c.buf[:c.pos]
}

// Seek moves the cursor to an absolute position.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return ErrShortBuffer
	}
	c.pos = pos
	return nil
}

// Advance skips n bytes and returns them for in-place access.
func (c *Cursor) Advance(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, ErrShortBuffer
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Write copies p at the cursor.
func (c *Cursor) Write(p []byte) (int, error) {
	b, err := c.Advance(len(p))
	if err != nil {
		return 0, err
	}
	return copy(b, p), nil
}

// Read fills p from the cursor.
func (c *Cursor) Read(p []byte) (int, error) {
	b, err := c.Advance(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// PutUint8 writes one byte.
func (c *Cursor) PutUint8(v uint8) error {
	b, err := c.Advance(1)
	if err == nil {
		b[0] = v
	}
	return err
}

// PutUint16 writes a 16-bit value.
func (c *Cursor) PutUint16(v uint16) error {
	b, err := c.Advance(2)
	if err == nil {
		ByteOrder.PutUint16(b, v)
	}
	return err
}

// PutUint32 writes a 32-bit value.
func (c *Cursor) PutUint32(v uint32) error {
	b, err := c.Advance(4)
	if err == nil {
		ByteOrder.PutUint32(b, v)
	}
	return err
}

// PutInt32 writes a signed 32-bit value.
func (c *Cursor) PutInt32(v int32) error {
	return c.PutUint32(uint32(v))
}

// PutFloat32 writes an IEEE-754 single.
func (c *Cursor) PutFloat32(v float32) error {
	return c.PutUint32(math.Float32bits(v))
}

// PutFloat64 writes an IEEE-754 double.
func (c *Cursor) PutFloat64(v float64) error {
	b, err := c.Advance(8)
	if err == nil {
		ByteOrder.PutUint64(b, math.Float64bits(v))
	}
	return err
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.Advance(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a 16-bit value.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Advance(2)
	if err != nil {
		return 0, err
	}
	return ByteOrder.Uint16(b), nil
}

// Uint32 reads a 32-bit value.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Advance(4)
	if err != nil {
		return 0, err
	}
	return ByteOrder.Uint32(b), nil
}

// Int32 reads a signed 32-bit value.
func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

// Float32 reads an IEEE-754 single.
func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	return math.Float32frombits(v), err
}

// Float64 reads an IEEE-754 double.
func (c *Cursor) Float64() (float64, error) {
	b, err := c.Advance(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(ByteOrder.Uint64(b)), nil
}
