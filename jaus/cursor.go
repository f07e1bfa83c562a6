package jaus

import (
	"encoding/binary"
	"fmt"
)

// Cursor is a bounded, forward-only view over a byte slice. Every read is
// checked against the remaining length and fails with ErrShortBuffer instead
// of reading out of bounds.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a Cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Next returns the next n bytes without copying and advances past them.
func (c *Cursor) Next(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, c.Remaining())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.Next(n)
	return err
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.Next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a little-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Address reads an address in wire order: instance, component, node, subsystem.
func (c *Cursor) Address() (Address, error) {
	b, err := c.Next(4)
	if err != nil {
		return Address{}, err
	}
	return Address{Instance: b[0], Component: b[1], Node: b[2], Subsystem: b[3]}, nil
}
