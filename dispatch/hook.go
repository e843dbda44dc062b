// Package dispatch implements the hybrid dispatch/scheduler loop that
// executes guest instructions block by block, interpreting today and
// invoking compiled artifacts per block as a translation backend
// produces them.
package dispatch

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookPosBlockDispatch triggers when the loop enters a basic block. The
// hook item is the *blocks.BlockInfo being dispatched.
var HookPosBlockDispatch = &HookPos{Name: "BlockDispatch"}

// HookPosTimeslice triggers after the system-event pass at a timeslice
// boundary. The hook item is the engine's Stats snapshot.
var HookPosTimeslice = &HookPos{Name: "Timeslice"}

// HookPosFaultRaised triggers when a guest fault has been raised but
// before the context is redirected into the exception vector. The hook
// item is the emu.ExecResult; the detail is the guest PC at raise time.
var HookPosFaultRaised = &HookPos{Name: "FaultRaised"}

// HookPosFaultDrained triggers after the fault has been drained into
// the guest exception vector.
var HookPosFaultDrained = &HookPos{Name: "FaultDrained"}

// HookCtx is the context that holds all the information about the site
// that a hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accepts Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)
}

// Hook is a short piece of program that can be invoked by a hookable
// object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// A HookableBase provides some utility functions for types that
// implement the Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// InvokeHook triggers the registered Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
