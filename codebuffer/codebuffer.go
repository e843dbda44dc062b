// Package codebuffer provides the append-only arena that holds
// translated-block artifacts.
package codebuffer

import (
	"errors"
	"fmt"
)

// ErrBufferFull is returned when a reservation does not fit in the
// remaining capacity. It is fatal for the session: the host must reset
// translations rather than continue with mismatched addressing.
var ErrBufferFull = errors.New("code buffer exhausted")

// A Handle references one reserved extent inside a Buffer.
type Handle struct {
	Offset int
	Size   int
}

// A Buffer is a growable-by-reservation arena. The write cursor only
// ever advances, until Reset rewinds it to zero.
type Buffer struct {
	data   []byte
	cursor int
}

// New creates a Buffer with the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("codebuffer: capacity must be positive")
	}

	return &Buffer{
		data: make([]byte, capacity),
	}
}

// Reserve advances the cursor by size and returns a handle to the
// reserved extent. If size exceeds the remaining capacity it returns
// ErrBufferFull and the cursor is unchanged; there is no partial write.
func (b *Buffer) Reserve(size int) (Handle, error) {
	if size <= 0 {
		panic("codebuffer: reservation size must be positive")
	}

	if size > b.Remaining() {
		return Handle{}, fmt.Errorf(
			"reserving %d bytes with %d remaining: %w",
			size, b.Remaining(), ErrBufferFull)
	}

	h := Handle{Offset: b.cursor, Size: size}
	b.cursor += size

	return h, nil
}

// Bytes returns the writable extent for a handle. The handle must have
// been produced by Reserve on this buffer; anything else is a
// programming-contract violation.
func (b *Buffer) Bytes(h Handle) []byte {
	if !b.Contains(h) {
		panic(fmt.Sprintf(
			"codebuffer: handle [%d,%d) outside written range [0,%d)",
			h.Offset, h.Offset+h.Size, b.cursor))
	}

	return b.data[h.Offset : h.Offset+h.Size]
}

// Contains reports whether a handle lies entirely inside the written
// range of the buffer.
func (b *Buffer) Contains(h Handle) bool {
	return h.Offset >= 0 && h.Size > 0 && h.Offset+h.Size <= b.cursor
}

// Capacity returns the total capacity in bytes.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Used returns the number of bytes reserved so far.
func (b *Buffer) Used() int {
	return b.cursor
}

// Remaining returns the unreserved capacity.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.cursor
}

// Reset rewinds the cursor to zero. Handles issued before the reset are
// no longer valid; the block registry must be reset together with the
// buffer.
func (b *Buffer) Reset() {
	b.cursor = 0
}
