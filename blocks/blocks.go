// Package blocks tracks metadata for guest basic blocks.
package blocks

import (
	"github.com/sarchlab/sh4sim/codebuffer"
)

// Status tells the dispatch loop how a block executes. It is the single
// switch that moves a block from interpreted to compiled execution.
type Status int

const (
	// StatusInterpreted blocks execute through the per-instruction
	// interpreter.
	StatusInterpreted Status = iota

	// StatusCompiled blocks execute through the entry artifact
	// referenced by the BlockInfo.
	StatusCompiled
)

func (s Status) String() string {
	switch s {
	case StatusInterpreted:
		return "interpreted"
	case StatusCompiled:
		return "compiled"
	}
	return "unknown"
}

// A BlockInfo is the registry's metadata for one guest basic block.
// Exactly one BlockInfo exists per live start address.
type BlockInfo struct {
	// Addr is the guest address of the block's first instruction.
	Addr uint32

	// NumInsts is the number of guest instructions in the block,
	// including a trailing delay slot. Zero means the block has been
	// created but not yet scanned.
	NumInsts int

	Status Status

	// Entry references this block's artifact in the code buffer.
	// Valid only when HasEntry is true. When Status is
	// StatusInterpreted the entry is a placeholder reservation that is
	// never executed.
	Entry    codebuffer.Handle
	HasEntry bool
}

// SpanEnd returns the first guest address past the block's instruction
// span. An unscanned block spans a single instruction word.
func (b *BlockInfo) SpanEnd() uint32 {
	n := b.NumInsts
	if n == 0 {
		n = 1
	}
	return b.Addr + uint32(n)*2
}

// overlaps reports whether the block's span intersects [start, end].
func (b *BlockInfo) overlaps(start, end uint32) bool {
	return b.Addr <= end && start < b.SpanEnd()
}

// A Registry is the sole authority for block metadata, keyed by exact
// guest start address.
type Registry struct {
	blocks map[uint32]*BlockInfo
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		blocks: make(map[uint32]*BlockInfo),
	}
}

// LookupOrCreate returns the BlockInfo for addr, creating an unscanned
// interpreted placeholder on first encounter. Calling it twice without
// an intervening invalidation returns the same BlockInfo identity.
func (r *Registry) LookupOrCreate(addr uint32) *BlockInfo {
	if b, ok := r.blocks[addr]; ok {
		return b
	}

	b := &BlockInfo{
		Addr:   addr,
		Status: StatusInterpreted,
	}
	r.blocks[addr] = b

	return b
}

// Lookup returns the BlockInfo for addr, or nil if the address has not
// been seen.
func (r *Registry) Lookup(addr uint32) *BlockInfo {
	return r.blocks[addr]
}

// Invalidate removes every block whose start address or instruction
// span overlaps [start, end]. It returns the number of blocks retired.
// The host must call this whenever guest-executable memory in the range
// has been externally modified.
func (r *Registry) Invalidate(start, end uint32) int {
	n := 0
	for addr, b := range r.blocks {
		if b.overlaps(start, end) {
			delete(r.blocks, addr)
			n++
		}
	}
	return n
}

// Reset removes all blocks.
func (r *Registry) Reset() {
	r.blocks = make(map[uint32]*BlockInfo)
}

// Count returns the number of live blocks.
func (r *Registry) Count() int {
	return len(r.blocks)
}

// ForEach visits every live block. Iteration order is unspecified.
func (r *Registry) ForEach(visit func(*BlockInfo)) {
	for _, b := range r.blocks {
		visit(b)
	}
}
