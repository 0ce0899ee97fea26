package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/inst"
	"github.com/rv64emu/rv64emu/pkg/regfile"
)

func TestSymbolTableNearestAndResolve(t *testing.T) {
	st := NewSymbolTable([]Symbol{
		{Addr: 0x2000, Name: "main"},
		{Addr: 0x1000, Name: "_start"},
		{Addr: 0x3000, Name: "exit"},
	})

	sym, ok := st.Nearest(0x2500)
	require.True(t, ok)
	assert.Equal(t, "main", sym.Name)

	_, ok = st.Nearest(0x500)
	assert.False(t, ok)

	addr, err := st.Resolve("exit")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3000), addr)

	_, err = st.Resolve("nonexistent")
	assert.Error(t, err)
}

func TestSymbolTableRelocate(t *testing.T) {
	st := NewSymbolTable([]Symbol{{Addr: 0x1000, Name: "f"}})
	st.Relocate(0x500)
	sym, ok := st.Nearest(0x1500)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1500), sym.Addr)
}

func TestDisassembleLUI(t *testing.T) {
	in := inst.Inst{Op: inst.LUI, Rd: regfile.A0, Imm: 1000 << 12}
	text := Disassemble(0x1000, in)
	assert.Contains(t, text, "lui")
}

func TestDisassembleBranch(t *testing.T) {
	in := inst.Inst{Op: inst.BEQ, Rs1: regfile.A0, Rs2: regfile.A1, Imm: 16}
	text := Disassemble(0x1000, in)
	assert.Contains(t, text, "beq")
}
