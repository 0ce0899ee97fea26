package elfimage

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/memory"
)

// minimalHeader builds a bare, structurally-valid 64-byte Elf64 header with
// no program or section headers, so debug/elf's own parse succeeds and only
// the class/machine/type fields under test are exercised.
func minimalHeader(class, data byte, machine, etype uint16) []byte {
	raw := make([]byte, 64)
	copy(raw, "\x7fELF")
	raw[4] = class
	raw[5] = data
	raw[6] = 1 // EI_VERSION = EV_CURRENT
	binary.LittleEndian.PutUint16(raw[16:18], etype)
	binary.LittleEndian.PutUint16(raw[18:20], machine)
	binary.LittleEndian.PutUint32(raw[20:24], 1) // e_version
	return raw
}

func TestLoadRejectsShortFile(t *testing.T) {
	_, err := Load([]byte{1, 2, 3})
	assert.ErrorIs(t, err, emuerr.ErrInvalidFileType)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	raw := make([]byte, 64)
	copy(raw, "NOTANELF")
	_, err := Load(raw)
	assert.ErrorIs(t, err, emuerr.ErrInvalidFileType)
}

func TestLoadRejectsWrongClassOrEndianness(t *testing.T) {
	raw := minimalHeader(1 /* ELFCLASS32 */, 1, uint16(elf.EM_RISCV), uint16(elf.ET_EXEC))
	_, err := Load(raw)
	assert.ErrorIs(t, err, emuerr.ErrInvalidFileType)
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	raw := minimalHeader(2, 1, uint16(elf.EM_X86_64), uint16(elf.ET_EXEC))
	_, err := Load(raw)
	assert.ErrorIs(t, err, emuerr.ErrInvalidFileType)
}

func TestLoadRejectsNonExecutableType(t *testing.T) {
	raw := minimalHeader(2, 1, uint16(elf.EM_RISCV), uint16(elf.ET_REL))
	_, err := Load(raw)
	assert.ErrorIs(t, err, emuerr.ErrInvalidFileType)
}

func TestLoadAcceptsMinimalValidExecutable(t *testing.T) {
	raw := minimalHeader(2, 1, uint16(elf.EM_RISCV), uint16(elf.ET_EXEC))
	img, err := Load(raw)
	require.NoError(t, err)
	assert.Empty(t, img.segments)
	assert.False(t, img.HasDynamic)
}

func TestMapIntoLoadsSegmentsAndZeroFillsBSS(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	raw := make([]byte, 0x2000)
	copy(raw[0x1000:], data)

	img := &Image{
		raw: raw,
		PH:  ProgramHeaderInfo{Entry: 0x4000},
		segments: []segment{
			{kind: elf.PT_LOAD, offset: 0x1000, vaddr: 0x4000, filesz: uint64(len(data)), memsz: 0x2000},
		},
	}
	mem := memory.New()
	entry := img.MapInto(mem)
	assert.Equal(t, uint64(0x4000), entry)

	for i, want := range data {
		b, err := mem.LoadU8(0x4000 + uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, b)
	}
	tail, err := mem.LoadU8(0x4000 + 0x1000)
	require.NoError(t, err)
	assert.Equal(t, byte(0), tail)
}

func TestMapIntoSkipsNonLoadSegments(t *testing.T) {
	raw := make([]byte, 0x100)
	img := &Image{
		raw: raw,
		segments: []segment{
			{kind: elf.PT_NOTE, offset: 0, vaddr: 0x9000, filesz: 0x10, memsz: 0x10},
		},
	}
	mem := memory.New()
	img.MapInto(mem)
	_, err := mem.LoadU8(0x9000)
	assert.Error(t, err)
}

func TestInitStackWritesArgcArgvAuxv(t *testing.T) {
	img := &Image{PH: ProgramHeaderInfo{Entry: 0x4000, Address: 0x4040, EntSize: 56, Number: 3}}
	mem := memory.New()
	sp := img.InitStack(mem)

	argc, err := mem.LoadU64(sp)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), argc)

	envp, err := mem.LoadU64(sp + 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), envp)

	entryKey, err := mem.LoadU64(sp + 24)
	require.NoError(t, err)
	assert.Equal(t, uint64(atEntry), entryKey)

	entryVal, err := mem.LoadU64(sp + 32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4000), entryVal)
}
