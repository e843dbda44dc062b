package emu

// FaultCause is a guest synchronous-exception cause, carried as the SH4
// EXPEVT code.
type FaultCause uint32

// Guest fault causes. The slot variants are raised when the faulting
// instruction sits in a branch delay slot.
const (
	FaultIllegalInstruction FaultCause = 0x180
	FaultSlotIllegal        FaultCause = 0x1A0
	FaultFPUDisabled        FaultCause = 0x800
	FaultSlotFPUDisabled    FaultCause = 0x820
)

// ExecResult is the tagged outcome of executing one instruction: either
// OK or a guest fault. Guest faults are recoverable, guest-visible
// events; they are never raised as Go errors or panics.
type ExecResult struct {
	faulted bool
	cause   FaultCause
	addr    uint32
}

// OK returns the successful result.
func OK() ExecResult {
	return ExecResult{}
}

// Fault returns a faulting result with the cause and the address of the
// instruction that raised it.
func Fault(cause FaultCause, addr uint32) ExecResult {
	return ExecResult{faulted: true, cause: cause, addr: addr}
}

// Faulted reports whether the result carries a guest fault.
func (r ExecResult) Faulted() bool {
	return r.faulted
}

// Cause returns the fault cause. Only meaningful when Faulted is true.
func (r ExecResult) Cause() FaultCause {
	return r.cause
}

// Addr returns the faulting instruction address. Only meaningful when
// Faulted is true.
func (r ExecResult) Addr() uint32 {
	return r.addr
}

// exceptionVectorOffset is the offset from VBR at which the general
// exception handler lives.
const exceptionVectorOffset = 0x100

// EnterException redirects the context into the guest exception vector
// for a fault raised at epc. The pre-fault PC and SR are captured in
// SPC/SSR so the guest handler can resume, and the cause is latched in
// EXPEVT.
func EnterException(ctx *Context, cause FaultCause, epc uint32) {
	ctx.SPC = epc
	ctx.SSR = ctx.SR
	ctx.EXPEVT = uint32(cause)

	ctx.SR.setBit(srBLBit, true)
	ctx.SR.setBit(srMDBit, true)
	ctx.SR.setBit(srRBBit, true)

	ctx.PC = ctx.VBR + exceptionVectorOffset
}
