package emu

import (
	"github.com/sarchlab/sh4sim/insts"
)

// Execute runs one non-delayed instruction against the context. addr is
// the address the word was fetched from; the PC has already advanced
// past it. Delayed branches are handled by the dispatch layer so that
// the branch and its delay slot retire atomically.
func Execute(ctx *Context, bus Bus, def *insts.Definition, word uint16, addr uint32) ExecResult {
	n := insts.Rn(word)
	m := insts.Rm(word)

	switch def.Op {
	case insts.OpNOP:
		// nothing

	case insts.OpSLEEP:
		ctx.Running = false

	case insts.OpSTSPR:
		ctx.R[n] = ctx.PR

	case insts.OpLDSPR:
		ctx.PR = ctx.R[n]

	case insts.OpDT:
		ctx.R[n]--
		ctx.SR.SetT(ctx.R[n] == 0)

	case insts.OpSHLL:
		ctx.SR.SetT(ctx.R[n]&0x80000000 != 0)
		ctx.R[n] <<= 1

	case insts.OpSHLR:
		ctx.SR.SetT(ctx.R[n]&1 != 0)
		ctx.R[n] >>= 1

	case insts.OpMOVI:
		ctx.R[n] = uint32(insts.Imm8(word))

	case insts.OpADDI:
		ctx.R[n] += uint32(insts.Imm8(word))

	case insts.OpMOVRR:
		ctx.R[n] = ctx.R[m]

	case insts.OpMOVLL:
		ctx.R[n] = bus.Read32(ctx.R[m])

	case insts.OpMOVLS:
		bus.Write32(ctx.R[n], ctx.R[m])

	case insts.OpADD:
		ctx.R[n] += ctx.R[m]

	case insts.OpSUB:
		ctx.R[n] -= ctx.R[m]

	case insts.OpCMPEQ:
		ctx.SR.SetT(ctx.R[n] == ctx.R[m])

	case insts.OpCMPGT:
		ctx.SR.SetT(int32(ctx.R[n]) > int32(ctx.R[m]))

	case insts.OpAND:
		ctx.R[n] &= ctx.R[m]

	case insts.OpOR:
		ctx.R[n] |= ctx.R[m]

	case insts.OpXOR:
		ctx.R[n] ^= ctx.R[m]

	case insts.OpBT:
		if ctx.SR.T() {
			ctx.PC = addr + 4 + uint32(insts.Disp8(word))*2
		}

	case insts.OpBF:
		if !ctx.SR.T() {
			ctx.PC = addr + 4 + uint32(insts.Disp8(word))*2
		}

	case insts.OpFADD:
		ctx.FR[n] += ctx.FR[m]

	case insts.OpFMOV:
		ctx.FR[n] = ctx.FR[m]

	default:
		return Fault(FaultIllegalInstruction, addr)
	}

	return OK()
}

// BranchTarget resolves a delayed branch: it returns the target address
// and whether the branch is taken, and commits the branch's register
// side effects (the PR link for BSR/JSR). The caller executes the delay
// slot and then commits the target, in that order.
func BranchTarget(ctx *Context, def *insts.Definition, word uint16, addr uint32) (target uint32, taken bool) {
	switch def.Op {
	case insts.OpBRA:
		return addr + 4 + uint32(insts.Disp12(word))*2, true

	case insts.OpBSR:
		ctx.PR = addr + 4
		return addr + 4 + uint32(insts.Disp12(word))*2, true

	case insts.OpBTS:
		return addr + 4 + uint32(insts.Disp8(word))*2, ctx.SR.T()

	case insts.OpBFS:
		return addr + 4 + uint32(insts.Disp8(word))*2, !ctx.SR.T()

	case insts.OpJMP:
		return ctx.R[insts.Rn(word)], true

	case insts.OpJSR:
		ctx.PR = addr + 4
		return ctx.R[insts.Rn(word)], true

	case insts.OpRTS:
		return ctx.PR, true
	}

	// Reaching here means a definition is flagged DelaySlot without a
	// branch resolution, which is a table bug, not a guest condition.
	panic("emu: no branch resolution for delayed instruction " + def.Mnemonic)
}
