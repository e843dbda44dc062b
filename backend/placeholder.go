package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/codebuffer"
)

// placeholderEntrySize is the fixed artifact size reserved per block.
// The marker gives every block a unique code buffer address so the
// registry's addressing invariants hold before a real translator
// exists.
const placeholderEntrySize = 4

// placeholderBackend reserves a marker artifact for every block and
// skips compilation. The dispatch loop never executes the marker; the
// block stays on the interpret path.
type placeholderBackend struct {
	buf *codebuffer.Buffer
}

func newPlaceholderBackend(buf *codebuffer.Buffer) *placeholderBackend {
	return &placeholderBackend{buf: buf}
}

func (b *placeholderBackend) Compile(
	block *blocks.BlockInfo,
	words []uint16,
) (CompileResult, error) {
	h, err := b.buf.Reserve(placeholderEntrySize)
	if err != nil {
		return CompileResult{}, fmt.Errorf(
			"compiling block %08x: %w", block.Addr, err)
	}

	// The marker records the guest address the reservation belongs to.
	binary.LittleEndian.PutUint32(b.buf.Bytes(h), block.Addr)

	block.Entry = h
	block.HasEntry = true

	return CompileResult{Status: CompileSkipped}, nil
}

func (b *placeholderBackend) Entry(h codebuffer.Handle) BlockFn {
	// No block ever reaches compiled status with this backend.
	return nil
}

func (b *placeholderBackend) Reset() {
}

var _ Backend = (*placeholderBackend)(nil)
