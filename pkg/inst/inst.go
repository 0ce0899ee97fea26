package inst

import "github.com/rv64emu/rv64emu/pkg/regfile"

// Inst is a decoded instruction record: a value type with no identity,
// carrying only the fields its Op actually uses (the teacher's
// InstructionADD/InstructionADDI/... family collapsed into one struct with
// an exhaustive Op tag, since Go has no tagged unions).
//
// Instructions are cacheable by PC: decoding is a pure function of the
// 16/32-bit word, nothing else.
type Inst struct {
	Op Op

	Rd  regfile.IReg
	Rs1 regfile.IReg
	Rs2 regfile.IReg

	Frd  regfile.FReg
	Frs1 regfile.FReg
	Frs2 regfile.FReg

	// Imm holds a sign-extended 32-bit immediate (branch/jump offsets,
	// load/store offsets, ADDI-family immediates, U-type immediates
	// pre-shifted into place by the decoder).
	Imm int32

	// Shamt holds an unsigned 6-bit shift amount for SLLI/SRLI/SRAI and a
	// 5-bit amount for the *IW word variants (the decoder masks to the
	// field width the opcode actually defines).
	Shamt uint32

	// Amo holds the read-modify-write operation for AMOW/AMOD.
	Amo AmoOp

	// Raw carries the original encoding for Unknown instructions, for
	// diagnostics only.
	Raw uint32
}

// SignExtend sign-extends the low `bits` bits of v (interpreted as a 32-bit
// quantity) to the full 32-bit width, by arithmetic shift of the sign bit
// into the high bits — the same technique as the teacher's SignExtend17,
// generalized to an arbitrary bit width.
func SignExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}
