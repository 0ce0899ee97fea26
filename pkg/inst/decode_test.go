package inst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/regfile"
)

func TestDecode32LUI(t *testing.T) {
	// lui a0, 1000 -> imm20 = 1000, rd = a0 (x10)
	in := Decode32(0x003e8537)
	require.Equal(t, LUI, in.Op)
	assert.Equal(t, regfile.A0, in.Rd)
	assert.Equal(t, int32(1000<<12), in.Imm)
}

func TestDecode32JALR(t *testing.T) {
	// jalr ra, 0(a0): opcode=1100111, rd=ra(x1), funct3=0, rs1=a0(x10), imm=0
	w := uint32(0b1100111)
	w |= uint32(regfile.RA) << 7
	w |= uint32(regfile.A0) << 15
	in := Decode32(w)
	require.Equal(t, JALR, in.Op)
	assert.Equal(t, regfile.RA, in.Rd)
	assert.Equal(t, regfile.A0, in.Rs1)
}

func TestDecode32ECallAndEBreak(t *testing.T) {
	ecall := Decode32(0b1110011)
	assert.Equal(t, ECALL, ecall.Op)

	ebreak := Decode32((1 << 20) | 0b1110011)
	assert.Equal(t, EBREAK, ebreak.Op)
}

func TestDecode16CompressedLUI(t *testing.T) {
	in := Decode16(0x65a9)
	require.Equal(t, LUI, in.Op)
	assert.Equal(t, regfile.A1, in.Rd)
	assert.Equal(t, int32(40_960), in.Imm)
}

func TestDecode16CJal(t *testing.T) {
	// c.j with a zero immediate decodes to JAL x0, 0
	in := Decode16(0b101_00000000000_01)
	require.Equal(t, JAL, in.Op)
	assert.Equal(t, regfile.Zero, in.Rd)
}

func TestDecode16AddI16SP(t *testing.T) {
	// c.addi16sp, quadrant 01 funct3 011, rd=sp(x2); imm field layout per
	// the RVC encoding: v[4]=w[6], v[5]=w[2], v[8:7]=w[4:3], v[6]=w[5],
	// v[9]=w[12]. Build a word whose immediate decodes to 32.
	const v = uint32(32) // 0b00_0100000, sign bit (v[9]) clear
	w := uint32(0b01)    // quadrant
	w |= uint32(regfile.SP) << 7
	w |= uint32(0b011) << 13
	w |= ((v >> 4) & 1) << 6
	w |= ((v >> 5) & 1) << 2
	w |= ((v >> 6) & 1) << 5
	w |= ((v >> 7) & 1) << 3
	w |= ((v >> 8) & 1) << 4
	w |= ((v >> 9) & 1) << 12

	in := Decode16(uint16(w))
	require.Equal(t, ADDI, in.Op)
	assert.Equal(t, regfile.SP, in.Rd)
	assert.Equal(t, regfile.SP, in.Rs1)
	assert.Equal(t, int32(32), in.Imm)
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, int32(-1), SignExtend(0b1, 1))
	assert.Equal(t, int32(1), SignExtend(0b01, 2))
	assert.Equal(t, int32(-2), SignExtend(0b10, 2))
}

func TestDecode32UnknownOpcodeIsNotFatal(t *testing.T) {
	in := Decode32(0x7f) // opcode7 = 0b1111111, unassigned
	assert.Equal(t, Unknown, in.Op)
}
