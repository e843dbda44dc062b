// Package backend is the translation seam of the dispatch engine. A
// backend turns a scanned basic block into an executable artifact in
// the code buffer; the dispatch loop invokes the artifact whenever the
// block's status is compiled.
package backend

import (
	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/codebuffer"
	"github.com/sarchlab/sh4sim/emu"
)

// Kind selects the backend implementation at engine-build time.
type Kind int

const (
	// KindPlaceholder reserves a placeholder artifact per block and
	// leaves every block interpreted. It exercises the code buffer
	// addressing scheme end to end without emitting executable code.
	KindPlaceholder Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindPlaceholder:
		return "placeholder"
	}
	return "unknown"
}

// CompileStatus is the outcome tag of a compilation attempt.
type CompileStatus int

const (
	// CompileSkipped means the backend declined the block; it stays on
	// the interpret path.
	CompileSkipped CompileStatus = iota

	// CompileCompiled means the block now executes through its entry.
	CompileCompiled
)

// CompileResult reports the outcome of compiling one block. Entry is
// meaningful only when Status is CompileCompiled.
type CompileResult struct {
	Status CompileStatus
	Entry  codebuffer.Handle
}

// A BlockFn executes one compiled block against the context. It retires
// the whole block or faults partway through.
type BlockFn func(ctx *emu.Context, bus emu.Bus) emu.ExecResult

// A Backend compiles blocks and resolves compiled entries. A returned
// error is a host-level failure (code buffer exhaustion), distinct from
// guest faults, and is fatal for the session.
type Backend interface {
	// Compile attempts to translate a scanned block. words holds the
	// block's instruction words in guest order.
	Compile(block *blocks.BlockInfo, words []uint16) (CompileResult, error)

	// Entry resolves a compiled entry handle to its executable
	// function, or nil if the handle does not name a compiled block.
	Entry(h codebuffer.Handle) BlockFn

	// Reset discards backend state when the code buffer is cleared.
	Reset()
}

// New creates the backend selected by kind, emitting into buf.
func New(kind Kind, buf *codebuffer.Buffer) Backend {
	switch kind {
	case KindPlaceholder:
		return newPlaceholderBackend(buf)
	}

	panic("backend: unknown backend kind")
}
