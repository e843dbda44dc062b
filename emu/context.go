// Package emu holds the SH4 execution context and per-instruction
// functional execution.
package emu

// StatusReg is the SH4 status register. Bit accessors cover the bits the
// engine cares about.
type StatusReg uint32

// Status register bit positions.
const (
	srTBit  = 0
	srFDBit = 15
	srBLBit = 28
	srRBBit = 29
	srMDBit = 30
)

// T returns the T (test/carry) bit.
func (sr StatusReg) T() bool {
	return sr&(1<<srTBit) != 0
}

// SetT sets the T bit.
func (sr *StatusReg) SetT(v bool) {
	sr.setBit(srTBit, v)
}

// FD reports whether the floating-point unit is administratively
// disabled. Executing an FP-class instruction while FD is set raises a
// guest fault.
func (sr StatusReg) FD() bool {
	return sr&(1<<srFDBit) != 0
}

// SetFD sets the FPU-disable bit.
func (sr *StatusReg) SetFD(v bool) {
	sr.setBit(srFDBit, v)
}

// BL returns the exception block bit.
func (sr StatusReg) BL() bool {
	return sr&(1<<srBLBit) != 0
}

func (sr *StatusReg) setBit(bit int, v bool) {
	if v {
		*sr |= 1 << bit
	} else {
		*sr &^= 1 << bit
	}
}

// A Context is the register file and scheduling state of one emulated
// SH4 core. It is owned exclusively by the engine instance that runs it
// and is mutated on every instruction.
type Context struct {
	R  [16]uint32
	FR [16]float32

	PC  uint32
	PR  uint32
	GBR uint32
	VBR uint32

	SR StatusReg

	// Exception state. SPC/SSR capture the pre-fault PC and SR, EXPEVT
	// the cause code, when a guest fault enters the exception vector.
	SPC    uint32
	SSR    StatusReg
	EXPEVT uint32

	MACH uint32
	MACL uint32

	// CycleCount is the remaining cycle budget for the current
	// timeslice. It may go transiently negative mid-instruction and is
	// replenished only at a timeslice boundary.
	CycleCount int64

	// Running is the cooperative run flag. The dispatch loop observes
	// it at instruction boundaries, never mid-instruction.
	Running bool
}

// NewContext creates a Context with the power-on register state. The
// reset PC and VBR follow the SH4 convention of vectoring through VBR.
func NewContext() *Context {
	return &Context{
		SR: 1 << srMDBit,
	}
}

// Snapshot returns a copy of the context. Used by tests and by the
// monitor to inspect state without aliasing the live registers.
func (c *Context) Snapshot() Context {
	return *c
}
