package emulator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/cpu"
	"github.com/rv64emu/rv64emu/pkg/disasm"
	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/memory"
	"github.com/rv64emu/rv64emu/pkg/profiler"
	"github.com/rv64emu/rv64emu/pkg/regfile"
	"github.com/rv64emu/rv64emu/pkg/sysemu"
)

// newEmulator builds an Emulator directly from its collaborators, the way
// New would after elfimage.Load succeeds, without needing a toolchain-valid
// ELF file on disk.
func newEmulator(t *testing.T) *Emulator {
	t.Helper()
	mem := memory.New()
	c := cpu.New(mem, 0x1000)
	sys := sysemu.New()
	c.Sys = sys
	prof := profiler.New()
	c.Prof = prof

	return &Emulator{
		CPU:     c,
		Mem:     mem,
		Sys:     sys,
		Prof:    prof,
		Symbols: disasm.NewSymbolTable([]disasm.Symbol{{Addr: 0x1000, Name: "main"}}),
	}
}

func TestStepAdvancesOneInstruction(t *testing.T) {
	e := newEmulator(t)
	e.Mem.MapRegion(0x1000, 4, nil)
	require.NoError(t, e.Mem.StoreU32(0x1000, 0x003e8537)) // lui a0, 1000
	require.NoError(t, e.Step())
	assert.Equal(t, uint64(4_096_000), e.CPU.Regs.Get(regfile.A0))
	assert.Equal(t, uint64(0x1004), e.CPU.PC)
}

func TestExitedAndExitCodeReflectHalt(t *testing.T) {
	e := newEmulator(t)
	e.CPU.Halt(9)
	assert.True(t, e.Exited())
	assert.Equal(t, 9, e.ExitCode())
}

func TestProfileLabelResolvesSymbol(t *testing.T) {
	e := newEmulator(t)
	require.NoError(t, e.ProfileLabel("main"))
	assert.True(t, e.Prof.Active())
}

func TestProfileLabelRejectsUnknownSymbol(t *testing.T) {
	e := newEmulator(t)
	err := e.ProfileLabel("nonexistent")
	assert.ErrorIs(t, err, emuerr.ErrInvalidLabel)
}

func TestSetStdinFeedsReadSyscall(t *testing.T) {
	e := newEmulator(t)
	e.SetStdin([]byte("abc"))
	assert.Equal(t, []byte(nil), e.Stdout())

	e.CPU.Regs.Set(regfile.A7, 63) // read
	e.CPU.Regs.Set(regfile.A0, 0)
	e.CPU.Regs.Set(regfile.A1, 0x2000)
	e.CPU.Regs.Set(regfile.A2, 3)
	require.NoError(t, e.Sys.ECall(e.CPU))
	assert.Equal(t, uint64(3), e.CPU.Regs.Get(regfile.A0))
	assert.Equal(t, "abc", e.Mem.ReadStringN(0x2000, 3))
}

func TestCloneProducesIndependentEmulator(t *testing.T) {
	e := newEmulator(t)
	e.CPU.Regs.Set(regfile.A0, 42)

	clone := e.Clone()
	clone.CPU.Regs.Set(regfile.A0, 99)

	assert.Equal(t, uint64(42), e.CPU.Regs.Get(regfile.A0))
	assert.Equal(t, uint64(99), clone.CPU.Regs.Get(regfile.A0))
	assert.NotSame(t, e.Mem, clone.Mem)
	assert.NotSame(t, e.Sys, clone.Sys)
}
