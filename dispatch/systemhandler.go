package dispatch

// A SystemHandler services interrupts and timers. The engine calls it
// exactly once per timeslice boundary, after the cycle budget is
// replenished. This bounds the latency between budget exhaustion and
// interrupt servicing to one instruction.
type SystemHandler interface {
	TickSystem()
}

// NullSystemHandler is the SystemHandler for hosts that wire no
// interrupt or timer controller.
type NullSystemHandler struct{}

// TickSystem does nothing.
func (NullSystemHandler) TickSystem() {}
