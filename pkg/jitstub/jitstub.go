// Package jitstub sketches the just-in-time driver spec §1 calls out as a
// collaborator layer: an alternate way of running the guest that shares
// pkg/cpu's decode and memory contracts rather than reimplementing them.
//
// The original implementation this spec was distilled from actually emits
// x86-64 machine code per basic block via a Rust assembler library
// (dynasm-rs); no comparable native-codegen library is available from this
// module's dependency set, so this package does not generate code. It
// implements the one part of the JIT driver's contract that doesn't
// require codegen — discovering basic-block boundaries by decoding ahead
// to the next control-flow instruction and caching them — so a future
// native backend has a block cache to slot into; until one exists, running
// a block falls back to stepping the interpreter once per instruction in
// the block.
package jitstub

import (
	"github.com/rv64emu/rv64emu/pkg/cpu"
	"github.com/rv64emu/rv64emu/pkg/inst"
)

// block is a cached basic block: the PC it starts at and how many
// instructions it covers before hitting a control-flow instruction
// (branch, jump, call, ecall) or EBREAK.
type block struct {
	startPC uint64
	length  int // instruction count, not byte length
}

// Driver runs a CPU one cached block at a time. Blocks are discovered
// lazily and memoized by start PC; self-modifying code is not a supported
// guest behavior (spec's non-goals don't name it, but a JIT block cache is
// inherently unsound against it, same as the real implementation's).
type Driver struct {
	CPU    *cpu.CPU
	blocks map[uint64]block
}

// New wraps cpu for block-at-a-time execution.
func New(c *cpu.CPU) *Driver {
	return &Driver{CPU: c, blocks: make(map[uint64]block)}
}

// isBlockEnd reports whether op ends a basic block: anything that can
// redirect control flow, plus ecall (a syscall may mutate memory the next
// block's decode would otherwise have cached stale).
func isBlockEnd(op inst.Op) bool {
	switch op {
	case inst.JAL, inst.JALR,
		inst.BEQ, inst.BNE, inst.BLT, inst.BGE, inst.BLTU, inst.BGEU,
		inst.ECALL, inst.EBREAK:
		return true
	}
	return false
}

// discover decodes forward from pc without executing, returning the
// instruction count up to and including the first block-ending
// instruction (or up to a small cap, guarding against decoding deep into
// data masquerading as code).
func (d *Driver) discover(pc uint64) block {
	const maxBlockLen = 64
	cur := pc
	for n := 1; n <= maxBlockLen; n++ {
		lo, err := d.CPU.Mem.LoadU16(cur)
		if err != nil {
			return block{startPC: pc, length: n}
		}
		var op inst.Op
		var length uint64
		if lo&0b11 == 0b11 {
			hi, err := d.CPU.Mem.LoadU16(cur + 2)
			if err != nil {
				return block{startPC: pc, length: n}
			}
			decoded := inst.Decode32(uint32(lo) | uint32(hi)<<16)
			op, length = decoded.Op, 4
		} else {
			decoded := inst.Decode16(lo)
			op, length = decoded.Op, 2
		}
		if isBlockEnd(op) {
			return block{startPC: pc, length: n}
		}
		cur += length
	}
	return block{startPC: pc, length: maxBlockLen}
}

// RunBlock executes one basic block starting at the CPU's current PC,
// returning the first error Step reports (including emuerr.ErrHalted on a
// clean exit).
func (d *Driver) RunBlock() error {
	b, ok := d.blocks[d.CPU.PC]
	if !ok {
		b = d.discover(d.CPU.PC)
		d.blocks[b.startPC] = b
	}
	for i := 0; i < b.length; i++ {
		if err := d.CPU.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the guest to completion one block at a time.
func (d *Driver) Run() error {
	for {
		if err := d.RunBlock(); err != nil {
			return err
		}
	}
}
