// Package disasm renders decoded instructions back to assembly text and
// maintains the symbol table used for nearest-symbol lookup and the
// profiler's profile_label entry point.
//
// Disassemble follows the teacher's vm.Disassemble exactly in shape: one
// fmt.Sprintf case per opcode (vm.go:331-363), generalized from RiSC-32's
// eleven opcodes to the RV64GC set.
package disasm

import (
	"fmt"
	"sort"

	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/inst"
)

// Symbol is one (address, name) entry.
type Symbol struct {
	Addr uint64
	Name string
}

// SymbolTable holds symbols sorted by address, populated from the ELF
// symbol table (function and notype symbols) plus synthetic section-start
// entries (.plt, .text).
type SymbolTable struct {
	syms []Symbol
}

// NewSymbolTable builds a table from an unsorted symbol slice.
func NewSymbolTable(syms []Symbol) *SymbolTable {
	cp := append([]Symbol(nil), syms...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Addr < cp[j].Addr })
	return &SymbolTable{syms: cp}
}

// Nearest returns the symbol at or before addr; ok is false if addr
// precedes every known symbol.
func (t *SymbolTable) Nearest(addr uint64) (Symbol, bool) {
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr })
	if i == 0 {
		return Symbol{}, false
	}
	return t.syms[i-1], true
}

// Resolve looks up a symbol by exact name, for profile_label(name) (spec
// §7's InvalidLabel arises from exactly this call failing).
func (t *SymbolTable) Resolve(name string) (uint64, error) {
	for _, s := range t.syms {
		if s.Name == name {
			return s.Addr, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", emuerr.ErrInvalidLabel, name)
}

// Relocate shifts every symbol address by offset, used when the dynamic
// linker image is loaded at a non-zero base.
func (t *SymbolTable) Relocate(offset uint64) {
	for i := range t.syms {
		t.syms[i].Addr += offset
	}
}

// Disassemble renders a single decoded instruction as RV64GC assembly text,
// given the PC it was fetched from (needed for PC-relative branch/jump
// listing).
func Disassemble(pc uint64, in inst.Inst) string {
	switch in.Op {
	case inst.LUI:
		return fmt.Sprintf("lui x%d, %d", in.Rd, in.Imm>>12)
	case inst.AUIPC:
		return fmt.Sprintf("auipc x%d, %d", in.Rd, in.Imm>>12)
	case inst.JAL:
		return fmt.Sprintf("jal x%d, 0x%x", in.Rd, pc+uint64(int64(in.Imm)))
	case inst.JALR:
		return fmt.Sprintf("jalr x%d, %d(x%d)", in.Rd, in.Imm, in.Rs1)
	case inst.BEQ, inst.BNE, inst.BLT, inst.BGE, inst.BLTU, inst.BGEU:
		return fmt.Sprintf("%s x%d, x%d, 0x%x", branchMnemonic(in.Op), in.Rs1, in.Rs2, pc+uint64(int64(in.Imm)))
	case inst.LB, inst.LH, inst.LW, inst.LBU, inst.LHU, inst.LWU, inst.LD:
		return fmt.Sprintf("%s x%d, %d(x%d)", loadMnemonic(in.Op), in.Rd, in.Imm, in.Rs1)
	case inst.SB, inst.SH, inst.SW, inst.SD:
		return fmt.Sprintf("%s x%d, %d(x%d)", storeMnemonic(in.Op), in.Rs2, in.Imm, in.Rs1)
	case inst.ADDI, inst.SLTI, inst.SLTIU, inst.XORI, inst.ORI, inst.ANDI, inst.ADDIW:
		return fmt.Sprintf("%s x%d, x%d, %d", aluIMnemonic(in.Op), in.Rd, in.Rs1, in.Imm)
	case inst.SLLI, inst.SRLI, inst.SRAI, inst.SLLIW, inst.SRLIW, inst.SRAIW:
		return fmt.Sprintf("%s x%d, x%d, %d", aluIMnemonic(in.Op), in.Rd, in.Rs1, in.Shamt)
	case inst.ADD, inst.SUB, inst.SLL, inst.SLT, inst.SLTU, inst.XOR, inst.SRL, inst.SRA, inst.OR, inst.AND,
		inst.ADDW, inst.SUBW, inst.SLLW, inst.SRLW, inst.SRAW,
		inst.MUL, inst.MULH, inst.MULHSU, inst.MULHU, inst.DIV, inst.DIVU, inst.REM, inst.REMU,
		inst.MULW, inst.DIVW, inst.DIVUW, inst.REMW, inst.REMUW:
		return fmt.Sprintf("%s x%d, x%d, x%d", aluRMnemonic(in.Op), in.Rd, in.Rs1, in.Rs2)
	case inst.FENCE:
		return "fence"
	case inst.ECALL:
		return "ecall"
	case inst.EBREAK:
		return "ebreak"
	case inst.LRW:
		return fmt.Sprintf("lr.w x%d, (x%d)", in.Rd, in.Rs1)
	case inst.LRD:
		return fmt.Sprintf("lr.d x%d, (x%d)", in.Rd, in.Rs1)
	case inst.SCW:
		return fmt.Sprintf("sc.w x%d, x%d, (x%d)", in.Rd, in.Rs2, in.Rs1)
	case inst.SCD:
		return fmt.Sprintf("sc.d x%d, x%d, (x%d)", in.Rd, in.Rs2, in.Rs1)
	case inst.AMOW:
		return fmt.Sprintf("amo%s.w x%d, x%d, (x%d)", amoMnemonic(in.Amo), in.Rd, in.Rs2, in.Rs1)
	case inst.AMOD:
		return fmt.Sprintf("amo%s.d x%d, x%d, (x%d)", amoMnemonic(in.Amo), in.Rd, in.Rs2, in.Rs1)
	case inst.FLD:
		return fmt.Sprintf("fld f%d, %d(x%d)", in.Frd, in.Imm, in.Rs1)
	case inst.FSD:
		return fmt.Sprintf("fsd f%d, %d(x%d)", in.Frs2, in.Imm, in.Rs1)
	case inst.FLED:
		return fmt.Sprintf("fle.d x%d, f%d, f%d", in.Rd, in.Frs1, in.Frs2)
	case inst.FDIVD:
		return fmt.Sprintf("fdiv.d f%d, f%d, f%d", in.Frd, in.Frs1, in.Frs2)
	case inst.FCVTDW:
		return fmt.Sprintf("fcvt.d.w f%d, x%d", in.Frd, in.Rs1)
	case inst.FCVTWD:
		return fmt.Sprintf("fcvt.w.d x%d, f%d", in.Rd, in.Frs1)
	default:
		return fmt.Sprintf("<unknown instruction: 0x%x>", in.Raw)
	}
}

func branchMnemonic(op inst.Op) string {
	switch op {
	case inst.BEQ:
		return "beq"
	case inst.BNE:
		return "bne"
	case inst.BLT:
		return "blt"
	case inst.BGE:
		return "bge"
	case inst.BLTU:
		return "bltu"
	case inst.BGEU:
		return "bgeu"
	}
	return "b?"
}

func loadMnemonic(op inst.Op) string {
	switch op {
	case inst.LB:
		return "lb"
	case inst.LH:
		return "lh"
	case inst.LW:
		return "lw"
	case inst.LBU:
		return "lbu"
	case inst.LHU:
		return "lhu"
	case inst.LWU:
		return "lwu"
	case inst.LD:
		return "ld"
	}
	return "l?"
}

func storeMnemonic(op inst.Op) string {
	switch op {
	case inst.SB:
		return "sb"
	case inst.SH:
		return "sh"
	case inst.SW:
		return "sw"
	case inst.SD:
		return "sd"
	}
	return "s?"
}

func aluIMnemonic(op inst.Op) string {
	switch op {
	case inst.ADDI:
		return "addi"
	case inst.SLTI:
		return "slti"
	case inst.SLTIU:
		return "sltiu"
	case inst.XORI:
		return "xori"
	case inst.ORI:
		return "ori"
	case inst.ANDI:
		return "andi"
	case inst.SLLI:
		return "slli"
	case inst.SRLI:
		return "srli"
	case inst.SRAI:
		return "srai"
	case inst.ADDIW:
		return "addiw"
	case inst.SLLIW:
		return "slliw"
	case inst.SRLIW:
		return "srliw"
	case inst.SRAIW:
		return "sraiw"
	}
	return "i?"
}

func aluRMnemonic(op inst.Op) string {
	switch op {
	case inst.ADD:
		return "add"
	case inst.SUB:
		return "sub"
	case inst.SLL:
		return "sll"
	case inst.SLT:
		return "slt"
	case inst.SLTU:
		return "sltu"
	case inst.XOR:
		return "xor"
	case inst.SRL:
		return "srl"
	case inst.SRA:
		return "sra"
	case inst.OR:
		return "or"
	case inst.AND:
		return "and"
	case inst.ADDW:
		return "addw"
	case inst.SUBW:
		return "subw"
	case inst.SLLW:
		return "sllw"
	case inst.SRLW:
		return "srlw"
	case inst.SRAW:
		return "sraw"
	case inst.MUL:
		return "mul"
	case inst.MULH:
		return "mulh"
	case inst.MULHSU:
		return "mulhsu"
	case inst.MULHU:
		return "mulhu"
	case inst.DIV:
		return "div"
	case inst.DIVU:
		return "divu"
	case inst.REM:
		return "rem"
	case inst.REMU:
		return "remu"
	case inst.MULW:
		return "mulw"
	case inst.DIVW:
		return "divw"
	case inst.DIVUW:
		return "divuw"
	case inst.REMW:
		return "remw"
	case inst.REMUW:
		return "remuw"
	}
	return "r?"
}

func amoMnemonic(op inst.AmoOp) string {
	switch op {
	case inst.AmoSwap:
		return "swap"
	case inst.AmoAdd:
		return "add"
	case inst.AmoXor:
		return "xor"
	case inst.AmoAnd:
		return "and"
	case inst.AmoOr:
		return "or"
	case inst.AmoMin:
		return "min"
	case inst.AmoMax:
		return "max"
	case inst.AmoMinu:
		return "minu"
	case inst.AmoMaxu:
		return "maxu"
	}
	return "?"
}
