// Package cpu implements the fetch-decode-execute loop: the instruction
// interpreter bound to a register file, a paged address space and an
// optional cost-model profiler.
//
// Step/Run and the big opcode switch in execute generalize the teacher's
// vm.VM.Execute (vm.go:261-321): decode, a deferred "x0 stays zero", one
// case per opcode, return an error to signal halt or fault. The teacher had
// eleven opcodes; this has the full RV64GC set defined in pkg/inst.
package cpu

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/inst"
	"github.com/rv64emu/rv64emu/pkg/memory"
	"github.com/rv64emu/rv64emu/pkg/profiler"
	"github.com/rv64emu/rv64emu/pkg/regfile"
)

// SyscallHandler dispatches an ECALL. It is an interface (rather than a
// direct pkg/sysemu import) so pkg/cpu never depends on pkg/sysemu: the
// driver wires the two together, avoiding an import cycle since sysemu's
// mmap/brk syscalls need to mutate the same memory.Memory this package
// already owns.
type SyscallHandler interface {
	ECall(c *CPU) error
}

// CPU is one RV64GC hart: a register file, the address space it executes
// against, the program counter, and optional collaborators (profiler,
// syscall handler) that may be nil.
type CPU struct {
	Regs *regfile.File
	Mem  *memory.Memory
	Prof *profiler.Profiler
	Sys  SyscallHandler

	PC        uint64
	InstCount uint64
	Exited    bool
	ExitCode  int

	profActive bool // this instruction falls in the active profile window
}

// New builds a CPU starting execution at entry.
func New(mem *memory.Memory, entry uint64) *CPU {
	return &CPU{
		Regs: &regfile.File{},
		Mem:  mem,
		PC:   entry,
	}
}

// Halt marks the CPU as exited with the given status, the only way a guest
// program's exit/exit_group syscall should stop the run loop.
func (c *CPU) Halt(code int) {
	c.Exited = true
	c.ExitCode = code
}

// Step fetches, decodes and executes exactly one instruction (16 or 32 bits
// wide), returning emuerr.ErrHalted once the guest has exited and any fault
// (segfault, unknown syscall) encountered along the way.
func (c *CPU) Step() error {
	if c.Exited {
		return emuerr.ErrHalted
	}
	lo, err := c.Mem.LoadU16(c.PC)
	if err != nil {
		return err
	}

	var in inst.Inst
	var length uint64
	if lo&0b11 == 0b11 {
		hi, err := c.Mem.LoadU16(c.PC + 2)
		if err != nil {
			return err
		}
		in = inst.Decode32(uint32(lo) | uint32(hi)<<16)
		length = 4
	} else {
		in = inst.Decode16(lo)
		length = 2
	}

	c.profActive = false
	if c.Prof != nil {
		c.profActive = c.Prof.OnFetch(c.PC, c.Regs.Get(regfile.RA))
	}
	c.InstCount++

	nextPC := c.PC + length
	if err := c.execute(in, length, &nextPC); err != nil {
		return err
	}
	c.Regs.Zero()
	c.PC = nextPC

	if c.Exited {
		return emuerr.ErrHalted
	}
	return nil
}

// Run steps until halt or fault. A clean exit (the guest syscalled exit or
// exit_group) is reported as emuerr.ErrHalted, exactly like any other
// Step error; callers distinguish a clean exit from a fault by checking
// c.Exited.
func (c *CPU) Run() error {
	for {
		if err := c.Step(); err != nil {
			return err
		}
	}
}

func (c *CPU) account(rs1, rs2, rd regfile.IReg, latency uint64) {
	if !c.profActive {
		return
	}
	src1 := c.Prof.ReadyInt(int(rs1))
	src2 := c.Prof.ReadyInt(int(rs2))
	var dst *uint64
	if rd != regfile.Zero {
		dst = c.Prof.ReadyInt(int(rd))
	}
	c.Prof.Tick(src1, src2, dst, latency)
}

func (c *CPU) execute(in inst.Inst, length uint64, nextPC *uint64) error {
	r := c.Regs
	switch in.Op {
	case inst.LUI:
		r.Set(in.Rd, uint64(int64(in.Imm)))
		c.account(regfile.Zero, regfile.Zero, in.Rd, 1)
	case inst.AUIPC:
		r.Set(in.Rd, c.PC+uint64(int64(in.Imm)))
		c.account(regfile.Zero, regfile.Zero, in.Rd, 1)

	case inst.JAL:
		r.Set(in.Rd, c.PC+length)
		*nextPC = c.PC + uint64(int64(in.Imm))
		c.account(regfile.Zero, regfile.Zero, in.Rd, 1)
	case inst.JALR:
		target := (r.Get(in.Rs1) + uint64(int64(in.Imm))) &^ 1
		r.Set(in.Rd, c.PC+length)
		*nextPC = target
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)

	case inst.BEQ, inst.BNE, inst.BLT, inst.BGE, inst.BLTU, inst.BGEU:
		taken := evalBranch(in.Op, r.Get(in.Rs1), r.Get(in.Rs2))
		if taken {
			*nextPC = c.PC + uint64(int64(in.Imm))
		}
		if c.profActive {
			c.Prof.Branch(c.PC, taken)
		}
		c.account(in.Rs1, in.Rs2, regfile.Zero, 1)

	case inst.LB, inst.LH, inst.LW, inst.LBU, inst.LHU, inst.LWU, inst.LD:
		return c.execLoad(in)
	case inst.SB, inst.SH, inst.SW, inst.SD:
		return c.execStore(in)

	case inst.ADDI:
		r.Set(in.Rd, r.Get(in.Rs1)+uint64(int64(in.Imm)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SLTI:
		r.Set(in.Rd, boolU64(int64(r.Get(in.Rs1)) < int64(in.Imm)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SLTIU:
		r.Set(in.Rd, boolU64(r.Get(in.Rs1) < uint64(int64(in.Imm))))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.XORI:
		r.Set(in.Rd, r.Get(in.Rs1)^uint64(int64(in.Imm)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.ORI:
		r.Set(in.Rd, r.Get(in.Rs1)|uint64(int64(in.Imm)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.ANDI:
		r.Set(in.Rd, r.Get(in.Rs1)&uint64(int64(in.Imm)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SLLI:
		r.Set(in.Rd, r.Get(in.Rs1)<<(in.Shamt&0x3f))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SRLI:
		r.Set(in.Rd, r.Get(in.Rs1)>>(in.Shamt&0x3f))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SRAI:
		r.Set(in.Rd, uint64(int64(r.Get(in.Rs1))>>(in.Shamt&0x3f)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)

	case inst.ADD:
		r.Set(in.Rd, r.Get(in.Rs1)+r.Get(in.Rs2))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SUB:
		r.Set(in.Rd, r.Get(in.Rs1)-r.Get(in.Rs2))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SLL:
		r.Set(in.Rd, r.Get(in.Rs1)<<(r.Get(in.Rs2)&0x3f))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SLT:
		r.Set(in.Rd, boolU64(int64(r.Get(in.Rs1)) < int64(r.Get(in.Rs2))))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SLTU:
		r.Set(in.Rd, boolU64(r.Get(in.Rs1) < r.Get(in.Rs2)))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.XOR:
		r.Set(in.Rd, r.Get(in.Rs1)^r.Get(in.Rs2))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SRL:
		r.Set(in.Rd, r.Get(in.Rs1)>>(r.Get(in.Rs2)&0x3f))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SRA:
		r.Set(in.Rd, uint64(int64(r.Get(in.Rs1))>>(r.Get(in.Rs2)&0x3f)))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.OR:
		r.Set(in.Rd, r.Get(in.Rs1)|r.Get(in.Rs2))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.AND:
		r.Set(in.Rd, r.Get(in.Rs1)&r.Get(in.Rs2))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)

	case inst.ADDIW:
		r.Set(in.Rd, signExtend32(int32(r.Get(in.Rs1))+in.Imm))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SLLIW:
		r.Set(in.Rd, signExtend32(int32(uint32(r.Get(in.Rs1))<<(in.Shamt&0x1f))))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SRLIW:
		r.Set(in.Rd, signExtend32(int32(uint32(r.Get(in.Rs1))>>(in.Shamt&0x1f))))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)
	case inst.SRAIW:
		r.Set(in.Rd, signExtend32(int32(r.Get(in.Rs1))>>(in.Shamt&0x1f)))
		c.account(in.Rs1, regfile.Zero, in.Rd, 1)

	case inst.ADDW:
		r.Set(in.Rd, signExtend32(int32(r.Get(in.Rs1))+int32(r.Get(in.Rs2))))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SUBW:
		r.Set(in.Rd, signExtend32(int32(r.Get(in.Rs1))-int32(r.Get(in.Rs2))))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SLLW:
		r.Set(in.Rd, signExtend32(int32(uint32(r.Get(in.Rs1))<<(r.Get(in.Rs2)&0x1f))))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SRLW:
		r.Set(in.Rd, signExtend32(int32(uint32(r.Get(in.Rs1))>>(r.Get(in.Rs2)&0x1f))))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)
	case inst.SRAW:
		r.Set(in.Rd, signExtend32(int32(r.Get(in.Rs1))>>(r.Get(in.Rs2)&0x1f)))
		c.account(in.Rs1, in.Rs2, in.Rd, 1)

	case inst.FENCE, inst.EBREAK:
		// No observable guest-visible effect: single-hart, no debugger
		// attached.

	case inst.ECALL:
		if c.Sys == nil {
			return fmt.Errorf("%w: no syscall handler attached", emuerr.ErrUnknownSyscall)
		}
		if err := c.Sys.ECall(c); err != nil {
			return err
		}

	case inst.MUL:
		r.Set(in.Rd, r.Get(in.Rs1)*r.Get(in.Rs2))
		c.account(in.Rs1, in.Rs2, in.Rd, profiler.MulLatency)
	case inst.MULH:
		r.Set(in.Rd, mulhSigned(int64(r.Get(in.Rs1)), int64(r.Get(in.Rs2))))
		c.account(in.Rs1, in.Rs2, in.Rd, profiler.MulLatency)
	case inst.MULHSU:
		r.Set(in.Rd, mulhSignedUnsigned(int64(r.Get(in.Rs1)), r.Get(in.Rs2)))
		c.account(in.Rs1, in.Rs2, in.Rd, profiler.MulLatency)
	case inst.MULHU:
		hi, _ := bits.Mul64(r.Get(in.Rs1), r.Get(in.Rs2))
		r.Set(in.Rd, hi)
		c.account(in.Rs1, in.Rs2, in.Rd, profiler.MulLatency)
	case inst.DIV:
		a, b := int64(r.Get(in.Rs1)), int64(r.Get(in.Rs2))
		r.Set(in.Rd, uint64(divSigned(a, b)))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatency(a, b))
	case inst.DIVU:
		a, b := r.Get(in.Rs1), r.Get(in.Rs2)
		r.Set(in.Rd, divUnsigned(a, b))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatencyUnsigned(a, b))
	case inst.REM:
		a, b := int64(r.Get(in.Rs1)), int64(r.Get(in.Rs2))
		r.Set(in.Rd, uint64(remSigned(a, b)))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatency(a, b))
	case inst.REMU:
		a, b := r.Get(in.Rs1), r.Get(in.Rs2)
		r.Set(in.Rd, remUnsigned(a, b))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatencyUnsigned(a, b))

	case inst.MULW:
		r.Set(in.Rd, signExtend32(int32(r.Get(in.Rs1))*int32(r.Get(in.Rs2))))
		c.account(in.Rs1, in.Rs2, in.Rd, profiler.MulLatency)
	case inst.DIVW:
		a, b := int32(r.Get(in.Rs1)), int32(r.Get(in.Rs2))
		r.Set(in.Rd, signExtend32(int32(divSigned(int64(a), int64(b)))))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatency(int64(a), int64(b)))
	case inst.DIVUW:
		a, b := uint32(r.Get(in.Rs1)), uint32(r.Get(in.Rs2))
		r.Set(in.Rd, signExtend32(int32(uint32(divUnsigned(uint64(a), uint64(b))))))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatencyUnsigned(uint64(a), uint64(b)))
	case inst.REMW:
		a, b := int32(r.Get(in.Rs1)), int32(r.Get(in.Rs2))
		r.Set(in.Rd, signExtend32(int32(remSigned(int64(a), int64(b)))))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatency(int64(a), int64(b)))
	case inst.REMUW:
		a, b := uint32(r.Get(in.Rs1)), uint32(r.Get(in.Rs2))
		r.Set(in.Rd, signExtend32(int32(uint32(remUnsigned(uint64(a), uint64(b))))))
		c.account(in.Rs1, in.Rs2, in.Rd, divLatencyUnsigned(uint64(a), uint64(b)))

	case inst.LRW:
		v, err := c.Mem.LoadI32(r.Get(in.Rs1))
		if err != nil {
			return err
		}
		r.Set(in.Rd, uint64(int64(v)))
	case inst.LRD:
		v, err := c.Mem.LoadU64(r.Get(in.Rs1))
		if err != nil {
			return err
		}
		r.Set(in.Rd, v)
	case inst.SCW:
		if err := c.Mem.StoreU32(r.Get(in.Rs1), uint32(r.Get(in.Rs2))); err != nil {
			return err
		}
		r.Set(in.Rd, 0) // single-hart: the store-conditional always succeeds
	case inst.SCD:
		if err := c.Mem.StoreU64(r.Get(in.Rs1), r.Get(in.Rs2)); err != nil {
			return err
		}
		r.Set(in.Rd, 0)
	case inst.AMOW:
		return c.execAmo(in, false)
	case inst.AMOD:
		return c.execAmo(in, true)

	case inst.FLD:
		addr := r.Get(in.Rs1) + uint64(int64(in.Imm))
		bits64, err := c.Mem.LoadU64(addr)
		if err != nil {
			return err
		}
		r.SetF(in.Frd, math.Float64frombits(bits64))
		var ldLatency uint64 = 1
		if c.profActive {
			ldLatency = c.Prof.LoadLatency(addr)
		}
		c.account(in.Rs1, regfile.Zero, regfile.Zero, ldLatency)
	case inst.FSD:
		addr := r.Get(in.Rs1) + uint64(int64(in.Imm))
		if err := c.Mem.StoreU64(addr, math.Float64bits(r.GetF(in.Frs2))); err != nil {
			return err
		}
	case inst.FLED:
		r.Set(in.Rd, boolU64(r.GetF(in.Frs1) <= r.GetF(in.Frs2)))
	case inst.FDIVD:
		r.SetF(in.Frd, r.GetF(in.Frs1)/r.GetF(in.Frs2))
	case inst.FCVTDW:
		r.SetF(in.Frd, float64(int32(r.Get(in.Rs1))))
	case inst.FCVTWD:
		r.Set(in.Rd, signExtend32(int32(r.GetF(in.Frs1))))

	default:
		// Unknown encodings advance the PC without faulting (spec §4.3):
		// many guest binaries embed data or reserved opcodes in code
		// sections that are never actually reached.
	}
	return nil
}

func (c *CPU) execLoad(in inst.Inst) error {
	addr := c.Regs.Get(in.Rs1) + uint64(int64(in.Imm))
	var latency uint64 = 1
	if c.profActive {
		latency = c.Prof.LoadLatency(addr)
	}
	switch in.Op {
	case inst.LB:
		v, err := c.Mem.LoadI8(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, uint64(int64(v)))
	case inst.LH:
		v, err := c.Mem.LoadI16(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, uint64(int64(v)))
	case inst.LW:
		v, err := c.Mem.LoadI32(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, uint64(int64(v)))
	case inst.LBU:
		v, err := c.Mem.LoadU8(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, uint64(v))
	case inst.LHU:
		v, err := c.Mem.LoadU16(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, uint64(v))
	case inst.LWU:
		v, err := c.Mem.LoadU32(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, uint64(v))
	case inst.LD:
		v, err := c.Mem.LoadU64(addr)
		if err != nil {
			return err
		}
		c.Regs.Set(in.Rd, v)
	}
	c.account(in.Rs1, regfile.Zero, in.Rd, latency)
	return nil
}

func (c *CPU) execStore(in inst.Inst) error {
	addr := c.Regs.Get(in.Rs1) + uint64(int64(in.Imm))
	v := c.Regs.Get(in.Rs2)
	var err error
	switch in.Op {
	case inst.SB:
		err = c.Mem.StoreU8(addr, uint8(v))
	case inst.SH:
		err = c.Mem.StoreU16(addr, uint16(v))
	case inst.SW:
		err = c.Mem.StoreU32(addr, uint32(v))
	case inst.SD:
		err = c.Mem.StoreU64(addr, v)
	}
	if err != nil {
		return err
	}
	c.account(in.Rs1, in.Rs2, regfile.Zero, 1)
	return nil
}

func (c *CPU) execAmo(in inst.Inst, wide bool) error {
	addr := c.Regs.Get(in.Rs1)
	if wide {
		old, err := c.Mem.LoadU64(addr)
		if err != nil {
			return err
		}
		rhs := c.Regs.Get(in.Rs2)
		neu := amoApply(in.Amo, old, rhs, true)
		if err := c.Mem.StoreU64(addr, neu); err != nil {
			return err
		}
		c.Regs.Set(in.Rd, old)
		return nil
	}
	old32, err := c.Mem.LoadU32(addr)
	if err != nil {
		return err
	}
	rhs := uint32(c.Regs.Get(in.Rs2))
	neu := uint32(amoApply(in.Amo, uint64(old32), uint64(rhs), false))
	if err := c.Mem.StoreU32(addr, neu); err != nil {
		return err
	}
	c.Regs.Set(in.Rd, uint64(int64(int32(old32))))
	return nil
}

func amoApply(op inst.AmoOp, old, rhs uint64, wide bool) uint64 {
	switch op {
	case inst.AmoSwap:
		return rhs
	case inst.AmoAdd:
		return old + rhs
	case inst.AmoXor:
		return old ^ rhs
	case inst.AmoAnd:
		return old & rhs
	case inst.AmoOr:
		return old | rhs
	case inst.AmoMin:
		if signedOf(old, wide) < signedOf(rhs, wide) {
			return old
		}
		return rhs
	case inst.AmoMax:
		if signedOf(old, wide) > signedOf(rhs, wide) {
			return old
		}
		return rhs
	case inst.AmoMinu:
		if old < rhs {
			return old
		}
		return rhs
	case inst.AmoMaxu:
		if old > rhs {
			return old
		}
		return rhs
	}
	return rhs
}

func signedOf(v uint64, wide bool) int64 {
	if wide {
		return int64(v)
	}
	return int64(int32(uint32(v)))
}

func evalBranch(op inst.Op, a, b uint64) bool {
	switch op {
	case inst.BEQ:
		return a == b
	case inst.BNE:
		return a != b
	case inst.BLT:
		return int64(a) < int64(b)
	case inst.BGE:
		return int64(a) >= int64(b)
	case inst.BLTU:
		return a < b
	case inst.BGEU:
		return a >= b
	}
	return false
}

func boolU64(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func signExtend32(v int32) uint64 { return uint64(int64(v)) }

func divSigned(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == math.MinInt64 && b == -1 {
		return a
	}
	return a / b
}

func remSigned(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == math.MinInt64 && b == -1 {
		return 0
	}
	return a % b
}

func divUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remUnsigned(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func divLatency(a, b int64) uint64 {
	return profiler.DivLatency(a, b)
}

func divLatencyUnsigned(a, b uint64) uint64 {
	return profiler.DivLatencyUnsigned(a, b)
}

// mulhSigned returns the high 64 bits of the full 128-bit signed product,
// computed via the unsigned 128-bit product of the magnitudes and negated
// (as a 128-bit quantity) if the operands' signs differ.
func mulhSigned(a, b int64) uint64 {
	loFull, hiFull := bits.Mul64(uint64(absInt64(a)), uint64(absInt64(b)))
	if (a < 0) == (b < 0) {
		return hiFull
	}
	_, borrow := bits.Sub64(0, loFull, 0)
	negHi, _ := bits.Sub64(0, hiFull, borrow)
	return negHi
}

func mulhSignedUnsigned(a int64, b uint64) uint64 {
	loFull, hiFull := bits.Mul64(uint64(absInt64(a)), b)
	if a >= 0 {
		return hiFull
	}
	_, borrow := bits.Sub64(0, loFull, 0)
	negHi, _ := bits.Sub64(0, hiFull, borrow)
	return negHi
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
