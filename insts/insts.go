// Package insts decodes SH4 instruction words into instruction definitions.
package insts

// Opcode identifies one instruction in the implemented SH4 subset.
type Opcode int

// The implemented SH4 subset.
const (
	OpInvalid Opcode = iota
	OpNOP
	OpSLEEP
	OpRTS
	OpSTSPR
	OpLDSPR
	OpJMP
	OpJSR
	OpDT
	OpSHLL
	OpSHLR
	OpMOVI
	OpADDI
	OpMOVRR
	OpMOVLL
	OpMOVLS
	OpADD
	OpSUB
	OpCMPEQ
	OpCMPGT
	OpAND
	OpOR
	OpXOR
	OpBRA
	OpBSR
	OpBT
	OpBF
	OpBTS
	OpBFS
	OpFADD
	OpFMOV
)

// A Definition describes one decodable instruction pattern.
type Definition struct {
	Op       Opcode
	Mnemonic string

	// FloatingPoint instructions raise a guest fault when the FPU is
	// administratively disabled (SR.FD=1).
	FloatingPoint bool

	// Branch marks instructions that alter control flow.
	Branch bool

	// DelaySlot marks branches whose following instruction executes
	// before the branch target takes effect.
	DelaySlot bool

	// MemoryAccess marks instructions that read or write guest memory
	// through the bus.
	MemoryAccess bool
}

// patterns are matched in order. Entries with wider masks must come first
// so that fully-specified encodings win over field-carrying ones.
type pattern struct {
	mask uint16
	bits uint16
	def  Definition
}

var patterns = []pattern{
	{0xFFFF, 0x0009, Definition{Op: OpNOP, Mnemonic: "NOP"}},
	{0xFFFF, 0x001B, Definition{Op: OpSLEEP, Mnemonic: "SLEEP"}},
	{0xFFFF, 0x000B, Definition{Op: OpRTS, Mnemonic: "RTS", Branch: true, DelaySlot: true}},
	{0xF0FF, 0x002A, Definition{Op: OpSTSPR, Mnemonic: "STS PR"}},
	{0xF0FF, 0x402A, Definition{Op: OpLDSPR, Mnemonic: "LDS PR"}},
	{0xF0FF, 0x402B, Definition{Op: OpJMP, Mnemonic: "JMP", Branch: true, DelaySlot: true}},
	{0xF0FF, 0x400B, Definition{Op: OpJSR, Mnemonic: "JSR", Branch: true, DelaySlot: true}},
	{0xF0FF, 0x4010, Definition{Op: OpDT, Mnemonic: "DT"}},
	{0xF0FF, 0x4000, Definition{Op: OpSHLL, Mnemonic: "SHLL"}},
	{0xF0FF, 0x4001, Definition{Op: OpSHLR, Mnemonic: "SHLR"}},
	{0xF00F, 0x6003, Definition{Op: OpMOVRR, Mnemonic: "MOV"}},
	{0xF00F, 0x6002, Definition{Op: OpMOVLL, Mnemonic: "MOV.L @Rm,Rn", MemoryAccess: true}},
	{0xF00F, 0x2002, Definition{Op: OpMOVLS, Mnemonic: "MOV.L Rm,@Rn", MemoryAccess: true}},
	{0xF00F, 0x300C, Definition{Op: OpADD, Mnemonic: "ADD"}},
	{0xF00F, 0x3008, Definition{Op: OpSUB, Mnemonic: "SUB"}},
	{0xF00F, 0x3000, Definition{Op: OpCMPEQ, Mnemonic: "CMP/EQ"}},
	{0xF00F, 0x3007, Definition{Op: OpCMPGT, Mnemonic: "CMP/GT"}},
	{0xF00F, 0x2009, Definition{Op: OpAND, Mnemonic: "AND"}},
	{0xF00F, 0x200B, Definition{Op: OpOR, Mnemonic: "OR"}},
	{0xF00F, 0x200A, Definition{Op: OpXOR, Mnemonic: "XOR"}},
	{0xF00F, 0xF000, Definition{Op: OpFADD, Mnemonic: "FADD", FloatingPoint: true}},
	{0xF00F, 0xF00C, Definition{Op: OpFMOV, Mnemonic: "FMOV", FloatingPoint: true}},
	{0xFF00, 0x8900, Definition{Op: OpBT, Mnemonic: "BT", Branch: true}},
	{0xFF00, 0x8B00, Definition{Op: OpBF, Mnemonic: "BF", Branch: true}},
	{0xFF00, 0x8D00, Definition{Op: OpBTS, Mnemonic: "BT/S", Branch: true, DelaySlot: true}},
	{0xFF00, 0x8F00, Definition{Op: OpBFS, Mnemonic: "BF/S", Branch: true, DelaySlot: true}},
	{0xF000, 0xE000, Definition{Op: OpMOVI, Mnemonic: "MOV #imm"}},
	{0xF000, 0x7000, Definition{Op: OpADDI, Mnemonic: "ADD #imm"}},
	{0xF000, 0xA000, Definition{Op: OpBRA, Mnemonic: "BRA", Branch: true, DelaySlot: true}},
	{0xF000, 0xB000, Definition{Op: OpBSR, Mnemonic: "BSR", Branch: true, DelaySlot: true}},
}

// A Decoder maps 16-bit SH4 instruction words to definitions. The full
// 64K encoding space is resolved once at construction time.
type Decoder struct {
	table [1 << 16]*Definition
}

// NewDecoder creates a new Decoder.
func NewDecoder() *Decoder {
	d := new(Decoder)

	for word := 0; word < len(d.table); word++ {
		for i := range patterns {
			p := &patterns[i]
			if uint16(word)&p.mask == p.bits {
				d.table[word] = &p.def
				break
			}
		}
	}

	return d
}

// Decode returns the definition for an instruction word, or nil if the
// word is not a recognized encoding. Decode failure is reported to the
// caller, never panicked; the dispatch layer converts it into a guest
// illegal-instruction fault.
func (d *Decoder) Decode(word uint16) *Definition {
	return d.table[word]
}

// Rn extracts the destination register field (bits 11:8).
func Rn(word uint16) int {
	return int(word>>8) & 0xF
}

// Rm extracts the source register field (bits 7:4).
func Rm(word uint16) int {
	return int(word>>4) & 0xF
}

// Imm8 extracts the 8-bit immediate, sign-extended to 32 bits.
func Imm8(word uint16) int32 {
	return int32(int8(word))
}

// Disp8 extracts the 8-bit branch displacement, sign-extended.
func Disp8(word uint16) int32 {
	return int32(int8(word))
}

// Disp12 extracts the 12-bit branch displacement, sign-extended.
func Disp12(word uint16) int32 {
	d := int32(word & 0x0FFF)
	if d&0x800 != 0 {
		d -= 0x1000
	}
	return d
}
