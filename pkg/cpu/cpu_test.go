package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/memory"
	"github.com/rv64emu/rv64emu/pkg/regfile"
)

func storeWord(t *testing.T, m *memory.Memory, addr uint64, w uint32) {
	t.Helper()
	m.MapRegion(addr, 4, nil)
	require.NoError(t, m.StoreU32(addr, w))
}

// Scenario 1: lui a0, 1000 -> a0 = 4_096_000, pc advances by 4.
func TestLUIScenario(t *testing.T) {
	m := memory.New()
	storeWord(t, m, 0x1000, 0x003e8537)
	c := New(m, 0x1000)

	require.NoError(t, c.Step())
	assert.Equal(t, uint64(4_096_000), c.Regs.Get(regfile.A0))
	assert.Equal(t, uint64(0x1004), c.PC)
}

// Universal invariant: x0 always reads zero after step, even if an
// instruction targets it.
func TestX0StaysZeroAfterStep(t *testing.T) {
	m := memory.New()
	// addi x0, x0, 5
	storeWord(t, m, 0x1000, uint32(0b0010011)|uint32(5)<<20)
	c := New(m, 0x1000)
	require.NoError(t, c.Step())
	assert.Equal(t, uint64(0), c.Regs.Get(regfile.Zero))
}

func TestInstCountIncreasesByOnePerStep(t *testing.T) {
	m := memory.New()
	storeWord(t, m, 0x1000, 0x003e8537) // lui a0, 1000
	storeWord(t, m, 0x1004, 0x003e8537)
	c := New(m, 0x1000)
	require.NoError(t, c.Step())
	assert.Equal(t, uint64(1), c.InstCount)
	require.NoError(t, c.Step())
	assert.Equal(t, uint64(2), c.InstCount)
}

// Scenario 3: store a doubleword then read back via sd/ld/lw.
func TestStoreLoadDoublewordAndWordScenario(t *testing.T) {
	m := memory.New()
	c := New(m, 0x1000)
	c.Regs.Set(regfile.A0, 0xdebc9a7856342312)

	// sd a0, 0(zero)
	m.MapRegion(0, 8, nil)
	require.NoError(t, m.StoreU64(0, c.Regs.Get(regfile.A0)))

	v, err := m.LoadU64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdebc9a7856342312), v)

	lw, err := m.LoadI32(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0000000056342312), uint64(uint32(lw)))
}

// Scenario 5: li a7, 93; li a0, 7; ecall exits with code 7.
type exitingHandler struct{}

func (exitingHandler) ECall(c *CPU) error {
	if c.Regs.Get(regfile.A7) == 93 {
		c.Halt(int(int32(c.Regs.Get(regfile.A0))))
	}
	return nil
}

func TestExitSyscallScenario(t *testing.T) {
	m := memory.New()
	// addi a7, zero, 93 ; addi a0, zero, 7 ; ecall
	storeWord(t, m, 0x1000, uint32(0b0010011)|uint32(regfile.A7)<<7|uint32(93)<<20)
	storeWord(t, m, 0x1004, uint32(0b0010011)|uint32(regfile.A0)<<7|uint32(7)<<20)
	storeWord(t, m, 0x1008, 0b1110011) // ecall

	c := New(m, 0x1000)
	c.Sys = exitingHandler{}

	require.NoError(t, c.Step())
	require.NoError(t, c.Step())
	err := c.Step()
	require.ErrorIs(t, err, emuerr.ErrHalted)
	assert.True(t, c.Exited)
	assert.Equal(t, 7, c.ExitCode)
}

func TestDivisionByZeroIsNotAnError(t *testing.T) {
	m := memory.New()
	c := New(m, 0x1000)
	c.Regs.Set(regfile.A0, 10)
	c.Regs.Set(regfile.A1, 0)
	// div a2, a0, a1
	w := uint32(0b0110011) | uint32(regfile.A2)<<7 | uint32(0b100)<<12 |
		uint32(regfile.A0)<<15 | uint32(regfile.A1)<<20 | uint32(1)<<25
	storeWord(t, m, 0x1000, w)

	require.NoError(t, c.Step())
	assert.Equal(t, uint64(^uint64(0)), c.Regs.Get(regfile.IReg(12))) // -1 per RISC-V div-by-zero semantics
}

func TestBranchTakenUpdatesPC(t *testing.T) {
	m := memory.New()
	c := New(m, 0x1000)
	c.Regs.Set(regfile.A0, 5)
	c.Regs.Set(regfile.A1, 5)
	// beq a0, a1, +16
	imm := uint32(16)
	w := uint32(0b1100011) |
		(((imm >> 11) & 1) << 7) |
		(((imm >> 1) & 0b1111) << 8) |
		uint32(regfile.A0)<<15 | uint32(regfile.A1)<<20 |
		(((imm >> 5) & 0b111111) << 25) |
		(((imm >> 12) & 1) << 31)
	storeWord(t, m, 0x1000, w)

	require.NoError(t, c.Step())
	assert.Equal(t, uint64(0x1010), c.PC)
}
