// Package tracing records engine activity through hooks.
package tracing

import (
	"github.com/sarchlab/sh4sim/blocks"
	"github.com/sarchlab/sh4sim/datarecording"
	"github.com/sarchlab/sh4sim/dispatch"
	"github.com/sarchlab/sh4sim/emu"
)

// blockEntry is one block-dispatch record.
type blockEntry struct {
	Addr     uint32
	NumInsts int
	Status   string
}

// timesliceEntry is one system-event pass record.
type timesliceEntry struct {
	Instructions uint64
	Faults       uint64
	Blocks       int
}

// faultEntry is one drained guest fault record.
type faultEntry struct {
	Cause uint32
	Addr  uint32
}

// A BlockTracer is a dispatch hook that records block dispatches,
// timeslice boundaries, and drained faults through a DataRecorder.
type BlockTracer struct {
	recorder datarecording.DataRecorder
}

// NewBlockTracer creates a BlockTracer writing to recorder and creates
// the tables it records into. Attach it to an engine with AcceptHook.
func NewBlockTracer(recorder datarecording.DataRecorder) *BlockTracer {
	t := &BlockTracer{recorder: recorder}

	recorder.CreateTable("block_dispatches", blockEntry{})
	recorder.CreateTable("timeslices", timesliceEntry{})
	recorder.CreateTable("faults", faultEntry{})

	return t
}

// Func records the hook event.
func (t *BlockTracer) Func(ctx dispatch.HookCtx) {
	switch ctx.Pos {
	case dispatch.HookPosBlockDispatch:
		b := ctx.Item.(*blocks.BlockInfo)
		t.recorder.InsertData("block_dispatches", blockEntry{
			Addr:     b.Addr,
			NumInsts: b.NumInsts,
			Status:   b.Status.String(),
		})

	case dispatch.HookPosTimeslice:
		stats := ctx.Item.(dispatch.Stats)
		t.recorder.InsertData("timeslices", timesliceEntry{
			Instructions: stats.Instructions,
			Faults:       stats.Faults,
			Blocks:       stats.Blocks,
		})

	case dispatch.HookPosFaultDrained:
		res := ctx.Item.(emu.ExecResult)
		t.recorder.InsertData("faults", faultEntry{
			Cause: uint32(res.Cause()),
			Addr:  res.Addr(),
		})
	}
}

var _ dispatch.Hook = (*BlockTracer)(nil)
