package inst

import "github.com/rv64emu/rv64emu/pkg/regfile"

// Decode16 decodes a 16-bit compressed instruction. Every compressed form
// expands into the equivalent base Inst (spec §4.1: "Compressed instructions
// expand 3-bit register fields by adding 8"); the interpreter never sees a
// "compressed" tag, only the base Op it is equivalent to. Unrecognized
// encodings become Op == Unknown, exactly like Decode32.
func Decode16(w16 uint16) Inst {
	w := uint32(w16)
	quadrant := w & 0b11
	f3 := (w >> 13) & 0b111

	switch quadrant {
	case 0b00:
		return decodeCQ0(w, f3)
	case 0b01:
		return decodeCQ1(w, f3)
	case 0b10:
		return decodeCQ2(w, f3)
	}
	return Inst{Op: Unknown, Raw: w}
}

// cReg expands a 3-bit compressed register field (bits 2..4 of some larger
// field) into the full 5-bit register space: x8..x15.
func cReg(field uint32) regfile.IReg {
	return regfile.IReg(field + 8)
}

func bit(w uint32, i uint) uint32 { return (w >> i) & 1 }

func decodeCQ0(w, f3 uint32) Inst {
	rdp := cReg((w >> 2) & 0b111)
	rs1p := cReg((w >> 7) & 0b111)
	switch f3 {
	case 0b000: // C.ADDI4SPN
		imm := (bit(w, 11) << 4) | (bit(w, 12) << 5) | (bit(w, 9) << 8) |
			(bit(w, 8) << 7) | (bit(w, 7) << 6) | (bit(w, 6) << 2) |
			(bit(w, 5) << 3) | (bit(w, 10) << 9)
		if imm == 0 {
			return Inst{Op: Unknown, Raw: w}
		}
		return Inst{Op: ADDI, Rd: rdp, Rs1: regfile.SP, Imm: int32(imm), Raw: w}
	case 0b010: // C.LW
		imm := (bit(w, 6) << 2) | (bit(w, 5) << 6) | (((w >> 10) & 0b111) << 3)
		return Inst{Op: LW, Rd: rdp, Rs1: rs1p, Imm: int32(imm), Raw: w}
	case 0b011: // C.LD
		imm := (((w >> 5) & 0b11) << 6) | (((w >> 10) & 0b111) << 3)
		return Inst{Op: LD, Rd: rdp, Rs1: rs1p, Imm: int32(imm), Raw: w}
	case 0b110: // C.SW
		imm := (bit(w, 6) << 2) | (bit(w, 5) << 6) | (((w >> 10) & 0b111) << 3)
		return Inst{Op: SW, Rs1: rs1p, Rs2: rdp, Imm: int32(imm), Raw: w}
	case 0b111: // C.SD
		imm := (((w >> 5) & 0b11) << 6) | (((w >> 10) & 0b111) << 3)
		return Inst{Op: SD, Rs1: rs1p, Rs2: rdp, Imm: int32(imm), Raw: w}
	}
	return Inst{Op: Unknown, Raw: w}
}

func decodeCQ1(w, f3 uint32) Inst {
	rd := regfile.IReg((w >> 7) & 0b11111)
	switch f3 {
	case 0b000: // C.NOP / C.ADDI
		imm := cImm6(w)
		return Inst{Op: ADDI, Rd: rd, Rs1: rd, Imm: imm, Raw: w}
	case 0b001: // C.ADDIW
		imm := cImm6(w)
		return Inst{Op: ADDIW, Rd: rd, Rs1: rd, Imm: imm, Raw: w}
	case 0b010: // C.LI
		imm := cImm6(w)
		return Inst{Op: ADDI, Rd: rd, Rs1: regfile.Zero, Imm: imm, Raw: w}
	case 0b011:
		if rd == regfile.SP { // C.ADDI16SP
			v := (bit(w, 6) << 4) | (bit(w, 2) << 5) | (((w >> 3) & 0b11) << 7) |
				(bit(w, 5) << 6) | (bit(w, 12) << 9)
			imm := SignExtend(v, 10)
			return Inst{Op: ADDI, Rd: regfile.SP, Rs1: regfile.SP, Imm: imm, Raw: w}
		}
		// C.LUI
		v := (((w >> 2) & 0b11111) << 12) | (bit(w, 12) << 17)
		imm := SignExtend(v, 18)
		return Inst{Op: LUI, Rd: rd, Imm: imm, Raw: w}
	case 0b100:
		return decodeCQ1Alu(w)
	case 0b101: // C.J
		imm := cJImm(w)
		return Inst{Op: JAL, Rd: regfile.Zero, Imm: imm, Raw: w}
	case 0b110, 0b111: // C.BEQZ / C.BNEZ
		rs1p := cReg((w >> 7) & 0b111)
		imm := cBImm(w)
		op := BEQ
		if f3 == 0b111 {
			op = BNE
		}
		return Inst{Op: op, Rs1: rs1p, Rs2: regfile.Zero, Imm: imm, Raw: w}
	}
	return Inst{Op: Unknown, Raw: w}
}

func cImm6(w uint32) int32 {
	v := ((w >> 2) & 0b11111) | (bit(w, 12) << 5)
	return SignExtend(v, 6)
}

func cJImm(w uint32) int32 {
	v := (bit(w, 3) << 1) | (bit(w, 4) << 2) | (bit(w, 5) << 3) |
		(bit(w, 11) << 4) | (bit(w, 2) << 5) | (bit(w, 7) << 6) |
		(bit(w, 6) << 7) | (((w >> 9) & 0b11) << 8) | (bit(w, 8) << 10) |
		(bit(w, 12) << 11)
	return SignExtend(v, 12)
}

func cBImm(w uint32) int32 {
	v := (bit(w, 3) << 1) | (bit(w, 4) << 2) | (bit(w, 10) << 3) |
		(bit(w, 11) << 4) | (bit(w, 2) << 5) | (bit(w, 5) << 6) |
		(bit(w, 6) << 7) | (bit(w, 12) << 8)
	return SignExtend(v, 9)
}

func decodeCQ1Alu(w uint32) Inst {
	rdp := cReg((w >> 7) & 0b111)
	funct2 := (w >> 10) & 0b11
	switch funct2 {
	case 0b00: // C.SRLI
		shamt := ((w >> 2) & 0b11111) | (bit(w, 12) << 5)
		return Inst{Op: SRLI, Rd: rdp, Rs1: rdp, Shamt: shamt, Raw: w}
	case 0b01: // C.SRAI
		shamt := ((w >> 2) & 0b11111) | (bit(w, 12) << 5)
		return Inst{Op: SRAI, Rd: rdp, Rs1: rdp, Shamt: shamt, Raw: w}
	case 0b10: // C.ANDI
		imm := cImm6(w)
		return Inst{Op: ANDI, Rd: rdp, Rs1: rdp, Imm: imm, Raw: w}
	case 0b11:
		rs2p := cReg((w >> 2) & 0b111)
		f2b := (w >> 5) & 0b11
		if bit(w, 12) == 0 {
			switch f2b {
			case 0b00:
				return Inst{Op: SUB, Rd: rdp, Rs1: rdp, Rs2: rs2p, Raw: w}
			case 0b01:
				return Inst{Op: XOR, Rd: rdp, Rs1: rdp, Rs2: rs2p, Raw: w}
			case 0b10:
				return Inst{Op: OR, Rd: rdp, Rs1: rdp, Rs2: rs2p, Raw: w}
			case 0b11:
				return Inst{Op: AND, Rd: rdp, Rs1: rdp, Rs2: rs2p, Raw: w}
			}
		} else {
			switch f2b {
			case 0b00:
				return Inst{Op: SUBW, Rd: rdp, Rs1: rdp, Rs2: rs2p, Raw: w}
			case 0b01:
				return Inst{Op: ADDW, Rd: rdp, Rs1: rdp, Rs2: rs2p, Raw: w}
			}
		}
	}
	return Inst{Op: Unknown, Raw: w}
}

func decodeCQ2(w, f3 uint32) Inst {
	rd := regfile.IReg((w >> 7) & 0b11111)
	rs2 := regfile.IReg((w >> 2) & 0b11111)
	switch f3 {
	case 0b000: // C.SLLI
		shamt := ((w >> 2) & 0b11111) | (bit(w, 12) << 5)
		return Inst{Op: SLLI, Rd: rd, Rs1: rd, Shamt: shamt, Raw: w}
	case 0b010: // C.LWSP
		imm := (((w >> 4) & 0b111) << 2) | (((w >> 2) & 0b11) << 6) | (bit(w, 12) << 5)
		return Inst{Op: LW, Rd: rd, Rs1: regfile.SP, Imm: int32(imm), Raw: w}
	case 0b011: // C.LDSP
		imm := (((w >> 5) & 0b11) << 3) | (((w >> 2) & 0b111) << 6) | (bit(w, 12) << 5)
		return Inst{Op: LD, Rd: rd, Rs1: regfile.SP, Imm: int32(imm), Raw: w}
	case 0b100:
		if bit(w, 12) == 0 {
			if rs2 == regfile.Zero {
				// C.JR
				return Inst{Op: JALR, Rd: regfile.Zero, Rs1: rd, Imm: 0, Raw: w}
			}
			// C.MV
			return Inst{Op: ADD, Rd: rd, Rs1: regfile.Zero, Rs2: rs2, Raw: w}
		}
		if rd == regfile.Zero && rs2 == regfile.Zero {
			return Inst{Op: EBREAK, Raw: w}
		}
		if rs2 == regfile.Zero {
			// C.JALR
			return Inst{Op: JALR, Rd: regfile.RA, Rs1: rd, Imm: 0, Raw: w}
		}
		// C.ADD
		return Inst{Op: ADD, Rd: rd, Rs1: rd, Rs2: rs2, Raw: w}
	case 0b101: // C.SDSP
		imm := (((w >> 10) & 0b111) << 3) | (((w >> 7) & 0b111) << 6)
		return Inst{Op: SD, Rs1: regfile.SP, Rs2: rs2, Imm: int32(imm), Raw: w}
	case 0b110: // C.SWSP
		imm := (((w >> 9) & 0b1111) << 2) | (((w >> 7) & 0b11) << 6)
		return Inst{Op: SW, Rs1: regfile.SP, Rs2: rs2, Imm: int32(imm), Raw: w}
	}
	return Inst{Op: Unknown, Raw: w}
}
