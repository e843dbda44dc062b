package dispatch

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/sh4sim/backend"
	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/codebuffer"
	"github.com/sarchlab/sh4sim/emu"
	"github.com/sarchlab/sh4sim/insts"
)

// cyclesPerInstruction is the cost charged per retired instruction.
const cyclesPerInstruction = 1

// faultDrainCycles is the fixed cost charged for fault-entry overhead
// when a guest fault drains into the exception vector.
const faultDrainCycles = 5

// maxBlockInsts bounds the number of instructions scanned into one
// basic block.
const maxBlockInsts = 64

// Stats is a snapshot of the engine's execution counters.
type Stats struct {
	// Instructions is the number of guest instructions retired.
	Instructions uint64

	// Timeslices is the number of system-event passes performed.
	Timeslices uint64

	// Faults is the number of guest faults drained.
	Faults uint64

	// Blocks is the number of live entries in the block registry.
	Blocks int

	// CodeBufferUsed is the number of code buffer bytes reserved.
	CodeBufferUsed int
}

// An Engine owns one emulated core: its execution context, block
// registry, code buffer, and translation backend. All of them are
// mutated only by the engine's dispatch loop; external actors interact
// through Stop, Pause/Continue, Invalidate, and hooks.
type Engine struct {
	HookableBase

	id string

	ctx     *emu.Context
	bus     emu.Bus
	decoder *insts.Decoder

	registry *blocks.Registry
	buffer   *codebuffer.Buffer
	backend  backend.Backend
	system   SystemHandler

	timeslice int64
	maxInsts  uint64

	// curBlock tracks the block being interpreted, so the registry is
	// consulted once per block entry rather than once per instruction.
	curBlock   *blocks.BlockInfo
	blockIndex int

	halt atomic.Bool

	runLock      sync.Mutex
	pauseLock    sync.Mutex
	isPaused     bool
	isPausedLock sync.Mutex

	instCount      atomic.Uint64
	timesliceCount atomic.Uint64
	faultCount     atomic.Uint64
}

// ID returns the engine's unique identity.
func (e *Engine) ID() string {
	return e.id
}

// Context returns the engine's execution context. The context must not
// be mutated by the host while the engine is running.
func (e *Engine) Context() *emu.Context {
	return e.ctx
}

// Registry returns the engine's block registry.
func (e *Engine) Registry() *blocks.Registry {
	return e.registry
}

// CodeBuffer returns the engine's code buffer.
func (e *Engine) CodeBuffer() *codebuffer.Buffer {
	return e.buffer
}

// Stats returns a snapshot of the execution counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Instructions:   e.instCount.Load(),
		Timeslices:     e.timesliceCount.Load(),
		Faults:         e.faultCount.Load(),
		Blocks:         e.registry.Count(),
		CodeBufferUsed: e.buffer.Used(),
	}
}

// Run executes guest instructions until the halt flag transitions true,
// the context stops running (e.g. the guest executes SLEEP), or an
// unrecoverable error occurs. Guest faults are drained into the guest's
// exception vector and never surface here; a non-nil return is either
// code buffer exhaustion or a wrapped invariant failure, distinct from
// normal termination.
func (e *Engine) Run() error {
	e.runLock.Lock()
	defer e.runLock.Unlock()

	e.ctx.Running = true

	for e.ctx.Running && !e.halt.Load() {
		e.pauseLock.Lock()

		err := e.runTimeslice()
		if err != nil {
			e.ctx.Running = false
			e.pauseLock.Unlock()
			return err
		}

		e.pauseLock.Unlock()
	}

	e.ctx.Running = false

	return nil
}

// runTimeslice drains the cycle budget one instruction at a time, then
// performs the system-event pass and replenishes the budget.
func (e *Engine) runTimeslice() error {
	for e.ctx.CycleCount > 0 && e.ctx.Running && !e.halt.Load() {
		if err := e.dispatchOne(); err != nil {
			return err
		}

		if e.maxInsts > 0 && e.instCount.Load() >= e.maxInsts {
			e.halt.Store(true)
		}
	}

	if !e.ctx.Running || e.halt.Load() {
		return nil
	}

	e.ctx.CycleCount += e.timeslice
	e.system.TickSystem()
	e.timesliceCount.Add(1)

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosTimeslice,
		Item:   e.Stats(),
	})

	return nil
}

// dispatchOne consults the block registry at the current PC when
// entering a block, then either invokes the block's compiled entry or
// interprets one instruction of it.
func (e *Engine) dispatchOne() error {
	if e.curBlock == nil {
		if err := e.enterBlock(); err != nil {
			return err
		}
	}

	if e.curBlock.Status == blocks.StatusCompiled {
		e.execCompiled(e.curBlock)
		return nil
	}

	retired, res := e.step()
	e.blockIndex += retired

	if res.Faulted() {
		e.drainFault(res)
		e.curBlock = nil
		return nil
	}

	if e.blockIndex >= e.curBlock.NumInsts {
		e.curBlock = nil
	}

	return nil
}

// enterBlock looks up (or scans and hands to the backend) the block at
// the current PC.
func (e *Engine) enterBlock() error {
	b := e.registry.LookupOrCreate(e.ctx.PC)

	if b.NumInsts == 0 {
		if err := e.setupBlock(b); err != nil {
			return err
		}
	}

	e.curBlock = b
	e.blockIndex = 0

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosBlockDispatch,
		Item:   b,
	})

	return nil
}

// setupBlock scans the straight-line instruction run starting at the
// block's address and offers it to the translation backend. A returned
// error is fatal for the session.
func (e *Engine) setupBlock(b *blocks.BlockInfo) error {
	words := make([]uint16, 0, maxBlockInsts)
	addr := b.Addr

	for len(words) < maxBlockInsts {
		word := e.bus.Fetch(addr)
		words = append(words, word)
		addr += 2

		def := e.decoder.Decode(word)
		if def == nil {
			// The block ends at the undecodable word; dispatching it
			// raises the guest fault.
			break
		}

		if def.DelaySlot {
			words = append(words, e.bus.Fetch(addr))
			break
		}

		if def.Branch || def.Op == insts.OpSLEEP {
			break
		}
	}

	b.NumInsts = len(words)

	result, err := e.backend.Compile(b, words)
	if err != nil {
		return err
	}

	if result.Status == backend.CompileCompiled {
		if !e.buffer.Contains(result.Entry) {
			log.Panicf(
				"dispatch: block %08x compiled to entry [%d,%d) outside code buffer",
				b.Addr, result.Entry.Offset, result.Entry.Offset+result.Entry.Size)
		}

		b.Entry = result.Entry
		b.HasEntry = true
		b.Status = blocks.StatusCompiled
	}

	return nil
}

// execCompiled invokes a block's compiled entry and charges its cycle
// cost. A compiled block without a resolvable artifact is a
// programming-contract violation.
func (e *Engine) execCompiled(b *blocks.BlockInfo) {
	if !b.HasEntry || !e.buffer.Contains(b.Entry) {
		log.Panicf(
			"dispatch: compiled block %08x has no valid code buffer entry", b.Addr)
	}

	fn := e.backend.Entry(b.Entry)
	if fn == nil {
		log.Panicf(
			"dispatch: no executable artifact for compiled block %08x", b.Addr)
	}

	res := fn(e.ctx, e.bus)

	if res.Faulted() {
		e.drainFault(res)
	} else {
		e.retire(b.NumInsts)
	}

	e.curBlock = nil
}

// step executes one guest instruction, or one delayed branch together
// with its delay slot. It returns the number of instructions retired
// and the execution result.
func (e *Engine) step() (int, emu.ExecResult) {
	ctx := e.ctx

	addr := ctx.PC
	word := e.bus.Fetch(addr)
	ctx.PC = addr + 2

	def := e.decoder.Decode(word)
	if def == nil {
		return 0, emu.Fault(emu.FaultIllegalInstruction, addr)
	}

	if def.FloatingPoint && ctx.SR.FD() {
		return 0, emu.Fault(emu.FaultFPUDisabled, addr)
	}

	if def.DelaySlot {
		return e.stepDelayedBranch(def, word, addr)
	}

	res := emu.Execute(ctx, e.bus, def, word, addr)
	if res.Faulted() {
		return 0, res
	}

	e.retire(1)

	return 1, res
}

// stepDelayedBranch executes a delayed branch atomically with its delay
// slot. The branch's side effects are committed in architectural order:
// the link register at branch time, the PC redirection after the slot —
// even when the slot faults, so that the fault drains against a state
// in which the branch has retired.
func (e *Engine) stepDelayedBranch(
	def *insts.Definition,
	word uint16,
	addr uint32,
) (int, emu.ExecResult) {
	ctx := e.ctx

	target, taken := emu.BranchTarget(ctx, def, word, addr)

	slotAddr := ctx.PC
	slotWord := e.bus.Fetch(slotAddr)
	ctx.PC = slotAddr + 2

	res := e.execDelaySlot(slotWord, slotAddr, addr)

	if taken {
		ctx.PC = target
	}

	if res.Faulted() {
		// The branch retired; the slot did not.
		e.retire(1)
		return 1, res
	}

	e.retire(2)

	return 2, res
}

// execDelaySlot executes the instruction in a branch delay slot.
// Faults raised in the slot use the slot-specific cause codes and
// report the branch's address, so the guest handler restarts at the
// branch.
func (e *Engine) execDelaySlot(
	word uint16,
	addr uint32,
	branchAddr uint32,
) emu.ExecResult {
	ctx := e.ctx

	def := e.decoder.Decode(word)
	if def == nil {
		return emu.Fault(emu.FaultSlotIllegal, branchAddr)
	}

	// A branch cannot occupy a delay slot.
	if def.DelaySlot || def.Branch {
		return emu.Fault(emu.FaultSlotIllegal, branchAddr)
	}

	if def.FloatingPoint && ctx.SR.FD() {
		return emu.Fault(emu.FaultSlotFPUDisabled, branchAddr)
	}

	return emu.Execute(ctx, e.bus, def, word, addr)
}

// retire charges the cycle cost for n retired instructions.
func (e *Engine) retire(n int) {
	e.ctx.CycleCount -= int64(n) * cyclesPerInstruction
	e.instCount.Add(uint64(n))
}

// drainFault redirects the context into the guest exception vector and
// charges the fault-entry overhead. Guest faults never unwind through
// the host call stack; the dispatch loop continues at the vector.
func (e *Engine) drainFault(res emu.ExecResult) {
	e.faultCount.Add(1)

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosFaultRaised,
		Item:   res,
		Detail: e.ctx.PC,
	})

	emu.EnterException(e.ctx, res.Cause(), res.Addr())
	e.ctx.CycleCount -= faultDrainCycles

	e.InvokeHook(HookCtx{
		Domain: e,
		Pos:    HookPosFaultDrained,
		Item:   res,
	})
}

// Stop requests a cooperative halt. It is observed at the next
// per-instruction check, never mid-instruction.
func (e *Engine) Stop() {
	e.halt.Store(true)
}

// ClearHalt rearms the engine after a Stop so Run can be called again.
func (e *Engine) ClearHalt() {
	e.halt.Store(false)
}

// Pause suspends the dispatch loop at the next timeslice boundary and
// blocks until the loop has yielded.
func (e *Engine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue resumes a paused dispatch loop.
func (e *Engine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}

// Invalidate retires every block whose span overlaps [start, end]. The
// host must call it whenever guest-executable memory in the range has
// been externally modified, before the addresses are next dispatched.
func (e *Engine) Invalidate(start, end uint32) int {
	e.curBlock = nil
	return e.registry.Invalidate(start, end)
}

// ResetTranslations discards all block metadata, rewinds the code
// buffer, and resets the backend. The execution context's register
// state is untouched.
func (e *Engine) ResetTranslations() {
	e.curBlock = nil
	e.registry.Reset()
	e.buffer.Reset()
	e.backend.Reset()
}
