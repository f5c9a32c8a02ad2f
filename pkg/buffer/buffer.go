// Package buffer implements a cursored, bounds-checked byte buffer used as
// the single output medium for everything that emits bytes in this module:
// the native emitter, the p-code assembler and the PE editor's region I/O.
package buffer

import (
	"encoding/binary"
	"fmt"
)

// Cursor is a fixed-capacity, zero-initialized byte region with a write
// cursor. Every write either fully succeeds and advances the cursor, or
// fails and leaves the buffer and cursor untouched.
type Cursor struct {
	data   []byte
	cursor int
}

// Allocate returns a zero-filled buffer of exactly n bytes.
func Allocate(n int) (*Cursor, error) {
	if n < 0 {
		return nil, fmt.Errorf("[[buffer]] negative size %d", n)
	}
	return &Cursor{data: make([]byte, n)}, nil
}

// Wrap presents an existing slice as a cursor positioned at offset 0. Used
// by callers that already own a byte slice (e.g. bytes read from a PE
// region) and want cursored, bounds-checked writes over it.
func Wrap(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Size returns the total capacity of the buffer.
func (c *Cursor) Size() int { return len(c.data) }

// CursorPos returns the number of bytes written so far.
func (c *Cursor) CursorPos() int { return c.cursor }

// Bytes returns the full backing slice (capacity, not just what was
// written). Callers that want only the written prefix should slice with
// CursorPos().
func (c *Cursor) Bytes() []byte { return c.data }

// Written returns the slice of bytes actually written so far.
func (c *Cursor) Written() []byte { return c.data[:c.cursor] }

// Remaining reports how many more bytes can be written before the buffer
// is exhausted.
func (c *Cursor) Remaining() int { return len(c.data) - c.cursor }

// Write appends n raw bytes and advances the cursor by n. It fails without
// mutating the buffer if fewer than n bytes remain.
func (c *Cursor) Write(p []byte) error {
	if len(p) > c.Remaining() {
		return fmt.Errorf("[[buffer]] write of %d bytes would overflow buffer (cursor=%d, size=%d)", len(p), c.cursor, len(c.data))
	}
	copy(c.data[c.cursor:], p)
	c.cursor += len(p)
	return nil
}

// WriteByte appends a single byte.
func (c *Cursor) WriteByte(v byte) error {
	return c.Write([]byte{v})
}

// WriteUint16 appends v as 2 little-endian bytes.
func (c *Cursor) WriteUint16(v uint16) error {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return c.Write(tmp[:])
}

// WriteUint32 appends v as 4 little-endian bytes.
func (c *Cursor) WriteUint32(v uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return c.Write(tmp[:])
}

// WriteInt32 appends v as 4 little-endian bytes (signed, two's complement).
func (c *Cursor) WriteInt32(v int32) error {
	return c.WriteUint32(uint32(v))
}

// WriteUint64 appends v as 8 little-endian bytes.
func (c *Cursor) WriteUint64(v uint64) error {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return c.Write(tmp[:])
}
