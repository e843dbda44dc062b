package dispatch

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/sh4sim/backend"
	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/codebuffer"
	"github.com/sarchlab/sh4sim/emu"
)

const (
	ramBase = 0x8C000000
	ramSize = 0x10000

	wordNOP   = 0x0009
	wordSLEEP = 0x001B
	wordADD1  = 0x7001 // ADD #1,R0
	wordFADD  = 0xF120 // FADD FR2,FR1
)

func writeProgram(ram *emu.RAM, addr uint32, words ...uint16) {
	for i, w := range words {
		ram.Write16(addr+uint32(i*2), w)
	}
}

// hookRecorder captures every hook invocation for later inspection.
type hookRecorder struct {
	ctxs []HookCtx
}

func (h *hookRecorder) Func(ctx HookCtx) {
	h.ctxs = append(h.ctxs, ctx)
}

func (h *hookRecorder) at(pos *HookPos) []HookCtx {
	var out []HookCtx
	for _, c := range h.ctxs {
		if c.Pos == pos {
			out = append(out, c)
		}
	}
	return out
}

// fakeBackend compiles exactly one block address to a host closure, so
// the compiled dispatch path can be exercised without a real translator.
type fakeBackend struct {
	buf  *codebuffer.Buffer
	addr uint32
	fn   backend.BlockFn

	fns map[int]backend.BlockFn
}

func (f *fakeBackend) Compile(
	b *blocks.BlockInfo,
	words []uint16,
) (backend.CompileResult, error) {
	if b.Addr != f.addr {
		return backend.CompileResult{Status: backend.CompileSkipped}, nil
	}

	h, err := f.buf.Reserve(4)
	if err != nil {
		return backend.CompileResult{}, err
	}

	f.fns[h.Offset] = f.fn

	return backend.CompileResult{
		Status: backend.CompileCompiled,
		Entry:  h,
	}, nil
}

func (f *fakeBackend) Entry(h codebuffer.Handle) backend.BlockFn {
	return f.fns[h.Offset]
}

func (f *fakeBackend) Reset() {
	f.fns = map[int]backend.BlockFn{}
}

var _ = Describe("Engine", func() {
	var ram *emu.RAM

	BeforeEach(func() {
		ram = emu.NewRAM(ramBase, ramSize)
	})

	It("should stop when the guest sleeps", func() {
		writeProgram(ram, ramBase, wordADD1, wordADD1, wordSLEEP)

		e := MakeBuilder().WithBus(ram).Build()
		e.Context().PC = ramBase

		Expect(e.Run()).To(Succeed())

		Expect(e.Context().Running).To(BeFalse())
		Expect(e.Context().R[0]).To(Equal(uint32(2)))
		Expect(e.Stats().Instructions).To(Equal(uint64(3)))
	})

	It("should replenish the budget and tick the system once per timeslice", func() {
		// A 10-instruction loop: eight ADDs, then a delayed branch back
		// to the top with a NOP in the slot.
		writeProgram(ram, ramBase,
			wordADD1, wordADD1, wordADD1, wordADD1,
			wordADD1, wordADD1, wordADD1, wordADD1,
			0xAFF6, // BRA back to ramBase
			wordNOP)

		ctrl := gomock.NewController(GinkgoT())
		system := NewMockSystemHandler(ctrl)

		// 1000 instructions at 100 cycles per slice is nine full slices
		// plus a final partial one that halts before its boundary.
		system.EXPECT().TickSystem().Times(9)

		e := MakeBuilder().
			WithBus(ram).
			WithSystemHandler(system).
			WithTimeslice(100).
			WithMaxInstructions(1000).
			Build()
		e.Context().PC = ramBase

		Expect(e.Run()).To(Succeed())

		Expect(e.Stats().Instructions).To(Equal(uint64(1000)))
		Expect(e.Stats().Timeslices).To(Equal(uint64(9)))
		Expect(e.Context().R[0]).To(Equal(uint32(800)))
	})

	It("should never run more than one instruction past budget exhaustion", func() {
		ctrl := gomock.NewController(GinkgoT())
		bus := NewMockBus(ctrl)
		bus.EXPECT().Fetch(gomock.Any()).Return(uint16(wordNOP)).AnyTimes()

		system := NewMockSystemHandler(ctrl)
		system.EXPECT().TickSystem().Times(2)

		e := MakeBuilder().
			WithBus(bus).
			WithSystemHandler(system).
			WithTimeslice(1).
			WithMaxInstructions(3).
			Build()

		Expect(e.Run()).To(Succeed())
		Expect(e.Stats().Instructions).To(Equal(uint64(3)))
	})

	Context("when a fault is raised", func() {
		BeforeEach(func() {
			// The guest exception handler is a single SLEEP.
			writeProgram(ram, ramBase+0x100, wordSLEEP)
		})

		It("should drain an illegal instruction into the vector", func() {
			writeProgram(ram, ramBase+0x200, 0xFFFD)

			e := MakeBuilder().WithBus(ram).Build()
			ctx := e.Context()
			ctx.PC = ramBase + 0x200
			ctx.VBR = ramBase

			Expect(e.Run()).To(Succeed())

			Expect(ctx.EXPEVT).To(Equal(uint32(emu.FaultIllegalInstruction)))
			Expect(ctx.SPC).To(Equal(uint32(ramBase + 0x200)))
			Expect(ctx.SR.BL()).To(BeTrue())
			Expect(e.Stats().Faults).To(Equal(uint64(1)))
		})

		It("should charge the drain overhead but not the faulting instruction", func() {
			writeProgram(ram, ramBase+0x200, wordFADD)

			e := MakeBuilder().WithBus(ram).Build()
			ctx := e.Context()
			ctx.PC = ramBase + 0x200
			ctx.VBR = ramBase
			ctx.SR.SetFD(true)

			Expect(e.Run()).To(Succeed())

			Expect(ctx.EXPEVT).To(Equal(uint32(emu.FaultFPUDisabled)))
			// Only the handler's SLEEP retired, plus the 5-cycle drain.
			Expect(e.Stats().Instructions).To(Equal(uint64(1)))
			Expect(ctx.CycleCount).To(Equal(int64(DefaultTimeslice - 1 - 5)))
		})

		It("should retire the branch before draining a slot fault", func() {
			// BRA to ramBase+0x208 with a floating-point op in the slot
			// while the FPU is disabled.
			writeProgram(ram, ramBase+0x200, 0xA002, wordFADD)

			e := MakeBuilder().WithBus(ram).Build()
			recorder := &hookRecorder{}
			e.AcceptHook(recorder)

			ctx := e.Context()
			ctx.PC = ramBase + 0x200
			ctx.VBR = ramBase
			ctx.SR.SetFD(true)

			Expect(e.Run()).To(Succeed())

			Expect(ctx.EXPEVT).To(Equal(uint32(emu.FaultSlotFPUDisabled)))
			// The handler restarts at the branch, not the slot.
			Expect(ctx.SPC).To(Equal(uint32(ramBase + 0x200)))

			// The fault was raised against a state in which the branch
			// had already redirected the PC.
			raised := recorder.at(HookPosFaultRaised)
			Expect(raised).To(HaveLen(1))
			Expect(raised[0].Detail).To(Equal(uint32(ramBase + 0x208)))
			Expect(recorder.at(HookPosFaultDrained)).To(HaveLen(1))

			// The branch retired, the slot did not.
			Expect(e.Stats().Instructions).To(Equal(uint64(2)))
		})

		It("should reject a branch in a delay slot", func() {
			writeProgram(ram, ramBase+0x200, 0xA002, 0xA002)

			e := MakeBuilder().WithBus(ram).Build()
			ctx := e.Context()
			ctx.PC = ramBase + 0x200
			ctx.VBR = ramBase

			Expect(e.Run()).To(Succeed())

			Expect(ctx.EXPEVT).To(Equal(uint32(emu.FaultSlotIllegal)))
			Expect(ctx.SPC).To(Equal(uint32(ramBase + 0x200)))
		})
	})

	It("should report block dispatches through the hook", func() {
		writeProgram(ram, ramBase, wordADD1, wordSLEEP)

		e := MakeBuilder().WithBus(ram).Build()
		recorder := &hookRecorder{}
		e.AcceptHook(recorder)
		e.Context().PC = ramBase

		Expect(e.Run()).To(Succeed())

		dispatches := recorder.at(HookPosBlockDispatch)
		Expect(dispatches).To(HaveLen(1))

		b := dispatches[0].Item.(*blocks.BlockInfo)
		Expect(b.Addr).To(Equal(uint32(ramBase)))
		Expect(b.NumInsts).To(Equal(2))
		Expect(b.Status).To(Equal(blocks.StatusInterpreted))
	})

	It("should surface code buffer exhaustion as a session error", func() {
		// Two blocks: a conditional branch taken into a second block.
		// The placeholder reservation is 4 bytes per block, so a 4-byte
		// buffer fails on the second.
		writeProgram(ram, ramBase, 0x8B02) // BF to ramBase+8
		writeProgram(ram, ramBase+8, wordSLEEP)

		e := MakeBuilder().
			WithBus(ram).
			WithCodeBufferSize(4).
			Build()
		e.Context().PC = ramBase

		err := e.Run()
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, codebuffer.ErrBufferFull)).To(BeTrue())
		Expect(e.CodeBuffer().Used()).To(Equal(4))
		Expect(e.Context().Running).To(BeFalse())
	})

	It("should rescan a block after invalidation", func() {
		writeProgram(ram, ramBase, wordADD1, wordSLEEP)

		e := MakeBuilder().WithBus(ram).Build()
		ctx := e.Context()
		ctx.PC = ramBase

		Expect(e.Run()).To(Succeed())
		Expect(e.Registry().Lookup(ramBase).NumInsts).To(Equal(2))

		// The host rewrites the block, extending it by one instruction.
		writeProgram(ram, ramBase, wordADD1, wordADD1, wordSLEEP)
		Expect(e.Invalidate(ramBase, ramBase+4)).To(Equal(1))

		ctx.PC = ramBase
		Expect(e.Run()).To(Succeed())

		Expect(e.Registry().Lookup(ramBase).NumInsts).To(Equal(3))
		Expect(ctx.R[0]).To(Equal(uint32(3)))
	})

	It("should drop translations but keep register state on reset", func() {
		writeProgram(ram, ramBase, wordADD1, wordSLEEP)

		e := MakeBuilder().WithBus(ram).Build()
		e.Context().PC = ramBase

		Expect(e.Run()).To(Succeed())
		Expect(e.Registry().Count()).To(Equal(1))

		e.ResetTranslations()

		Expect(e.Registry().Count()).To(Equal(0))
		Expect(e.CodeBuffer().Used()).To(Equal(0))
		Expect(e.Context().R[0]).To(Equal(uint32(1)))
	})

	Context("with a compiling backend", func() {
		It("should invoke the compiled entry instead of interpreting", func() {
			writeProgram(ram, ramBase, wordADD1, wordADD1, wordSLEEP)

			e := MakeBuilder().WithBus(ram).Build()
			e.backend = &fakeBackend{
				buf:  e.buffer,
				addr: ramBase,
				fn: func(ctx *emu.Context, bus emu.Bus) emu.ExecResult {
					ctx.R[5] = 42
					ctx.Running = false
					return emu.OK()
				},
				fns: map[int]backend.BlockFn{},
			}
			e.Context().PC = ramBase

			Expect(e.Run()).To(Succeed())

			b := e.Registry().Lookup(ramBase)
			Expect(b.Status).To(Equal(blocks.StatusCompiled))
			Expect(b.HasEntry).To(BeTrue())

			Expect(e.Context().R[5]).To(Equal(uint32(42)))
			// The whole block retires at its compiled cost.
			Expect(e.Stats().Instructions).To(Equal(uint64(3)))
		})

		It("should drain a fault raised by a compiled block", func() {
			writeProgram(ram, ramBase+0x100, wordSLEEP)
			writeProgram(ram, ramBase+0x200, wordADD1, wordSLEEP)

			e := MakeBuilder().WithBus(ram).Build()
			e.backend = &fakeBackend{
				buf:  e.buffer,
				addr: ramBase + 0x200,
				fn: func(ctx *emu.Context, bus emu.Bus) emu.ExecResult {
					return emu.Fault(emu.FaultIllegalInstruction, ctx.PC)
				},
				fns: map[int]backend.BlockFn{},
			}

			ctx := e.Context()
			ctx.PC = ramBase + 0x200
			ctx.VBR = ramBase

			Expect(e.Run()).To(Succeed())

			Expect(ctx.EXPEVT).To(Equal(uint32(emu.FaultIllegalInstruction)))
			Expect(e.Stats().Faults).To(Equal(uint64(1)))
		})
	})

	It("should pause and continue without losing state", func() {
		// An infinite loop: BRA back to itself with a NOP in the slot.
		writeProgram(ram, ramBase, 0xAFFE, wordNOP)

		e := MakeBuilder().
			WithBus(ram).
			WithTimeslice(64).
			Build()
		e.Context().PC = ramBase

		done := make(chan error, 1)
		go func() {
			done <- e.Run()
		}()

		Eventually(func() uint64 {
			return e.Stats().Timeslices
		}).Should(BeNumerically(">", 0))

		e.Pause()
		before := e.Stats().Instructions
		Consistently(func() uint64 {
			return e.Stats().Instructions
		}).Should(Equal(before))
		e.Continue()

		Eventually(func() uint64 {
			return e.Stats().Instructions
		}).Should(BeNumerically(">", before))

		e.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should run again after a stop is cleared", func() {
		writeProgram(ram, ramBase, 0xAFFE, wordNOP)

		e := MakeBuilder().
			WithBus(ram).
			WithMaxInstructions(10).
			Build()
		e.Context().PC = ramBase

		Expect(e.Run()).To(Succeed())
		Expect(e.Stats().Instructions).To(Equal(uint64(10)))

		e.ClearHalt()
		e.maxInsts = 20

		Expect(e.Run()).To(Succeed())
		Expect(e.Stats().Instructions).To(Equal(uint64(20)))
	})
})

var _ = Describe("Builder", func() {
	It("should require a bus", func() {
		Expect(func() {
			MakeBuilder().Build()
		}).To(Panic())
	})

	It("should reject a non-positive timeslice", func() {
		Expect(func() {
			MakeBuilder().
				WithBus(emu.NewRAM(ramBase, ramSize)).
				WithTimeslice(0).
				Build()
		}).To(Panic())
	})

	It("should start with a full cycle budget", func() {
		e := MakeBuilder().
			WithBus(emu.NewRAM(ramBase, ramSize)).
			WithTimeslice(100).
			Build()

		Expect(e.Context().CycleCount).To(Equal(int64(100)))
		Expect(e.ID()).NotTo(BeEmpty())
	})
})
