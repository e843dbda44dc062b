package dispatch

import (
	"github.com/rs/xid"

	"github.com/sarchlab/sh4sim/backend"
	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/codebuffer"
	"github.com/sarchlab/sh4sim/emu"
	"github.com/sarchlab/sh4sim/insts"
)

// DefaultTimeslice is the cycle budget between system-event passes.
const DefaultTimeslice = 448

// DefaultCodeBufferSize is the default code buffer capacity in bytes.
const DefaultCodeBufferSize = 8 << 20

// Builder can be used to build a dispatch engine.
type Builder struct {
	bus            emu.Bus
	system         SystemHandler
	timeslice      int64
	codeBufferSize int
	backendKind    backend.Kind
	maxInsts       uint64
}

// MakeBuilder creates a new builder with the default parameters.
func MakeBuilder() Builder {
	return Builder{
		timeslice:      DefaultTimeslice,
		codeBufferSize: DefaultCodeBufferSize,
		backendKind:    backend.KindPlaceholder,
	}
}

// WithBus sets the guest-memory bus. Required.
func (b Builder) WithBus(bus emu.Bus) Builder {
	b.bus = bus
	return b
}

// WithSystemHandler sets the interrupt/timer controller ticked once per
// timeslice boundary.
func (b Builder) WithSystemHandler(s SystemHandler) Builder {
	b.system = s
	return b
}

// WithTimeslice sets the cycle budget replenished at each timeslice
// boundary.
func (b Builder) WithTimeslice(cycles int64) Builder {
	b.timeslice = cycles
	return b
}

// WithCodeBufferSize sets the code buffer capacity in bytes.
func (b Builder) WithCodeBufferSize(size int) Builder {
	b.codeBufferSize = size
	return b
}

// WithBackend selects the translation backend implementation.
func (b Builder) WithBackend(kind backend.Kind) Builder {
	b.backendKind = kind
	return b
}

// WithMaxInstructions halts the engine after retiring n instructions.
// Zero means no limit.
func (b Builder) WithMaxInstructions(n uint64) Builder {
	b.maxInsts = n
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.bus == nil {
		panic("dispatch: a bus is required to build an engine")
	}

	if b.timeslice <= 0 {
		panic("dispatch: timeslice must be positive")
	}

	if b.codeBufferSize <= 0 {
		panic("dispatch: code buffer size must be positive")
	}
}

// Build allocates the execution context and the code buffer and wires
// the engine together. The context starts with a full cycle budget.
func (b Builder) Build() *Engine {
	b.parametersMustBeValid()

	ctx := emu.NewContext()
	ctx.CycleCount = b.timeslice

	buf := codebuffer.New(b.codeBufferSize)

	system := b.system
	if system == nil {
		system = NullSystemHandler{}
	}

	return &Engine{
		id:        xid.New().String(),
		ctx:       ctx,
		bus:       b.bus,
		decoder:   insts.NewDecoder(),
		registry:  blocks.NewRegistry(),
		buffer:    buf,
		backend:   backend.New(b.backendKind, buf),
		system:    system,
		timeslice: b.timeslice,
		maxInsts:  b.maxInsts,
	}
}
