package emu

// Bus is the guest-memory interface the engine consumes. Fetch reads an
// instruction word; the data accessors are used by load/store handlers.
// External writers that mutate guest-executable memory must invalidate
// the affected addresses on the engine before they are next dispatched.
type Bus interface {
	Fetch(addr uint32) uint16

	Read8(addr uint32) uint8
	Read16(addr uint32) uint16
	Read32(addr uint32) uint32

	Write8(addr uint32, v uint8)
	Write16(addr uint32, v uint16)
	Write32(addr uint32, v uint32)
}

// RAM is a flat little-endian memory backing a fixed address window.
// It is the Bus implementation used by the CLI and by integration tests.
type RAM struct {
	base uint32
	data []byte
}

// NewRAM creates a RAM covering [base, base+size).
func NewRAM(base uint32, size int) *RAM {
	return &RAM{
		base: base,
		data: make([]byte, size),
	}
}

// Base returns the lowest address the RAM covers.
func (r *RAM) Base() uint32 {
	return r.base
}

// Size returns the size of the RAM in bytes.
func (r *RAM) Size() int {
	return len(r.data)
}

// Load copies a program image into memory at addr.
func (r *RAM) Load(addr uint32, image []byte) {
	copy(r.data[addr-r.base:], image)
}

// Fetch reads one instruction word.
func (r *RAM) Fetch(addr uint32) uint16 {
	return r.Read16(addr)
}

func (r *RAM) Read8(addr uint32) uint8 {
	return r.data[addr-r.base]
}

func (r *RAM) Read16(addr uint32) uint16 {
	o := addr - r.base
	return uint16(r.data[o]) | uint16(r.data[o+1])<<8
}

func (r *RAM) Read32(addr uint32) uint32 {
	o := addr - r.base
	return uint32(r.data[o]) |
		uint32(r.data[o+1])<<8 |
		uint32(r.data[o+2])<<16 |
		uint32(r.data[o+3])<<24
}

func (r *RAM) Write8(addr uint32, v uint8) {
	r.data[addr-r.base] = v
}

func (r *RAM) Write16(addr uint32, v uint16) {
	o := addr - r.base
	r.data[o] = byte(v)
	r.data[o+1] = byte(v >> 8)
}

func (r *RAM) Write32(addr uint32, v uint32) {
	o := addr - r.base
	r.data[o] = byte(v)
	r.data[o+1] = byte(v >> 8)
	r.data[o+2] = byte(v >> 16)
	r.data[o+3] = byte(v >> 24)
}
