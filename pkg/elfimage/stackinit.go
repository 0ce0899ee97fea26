package elfimage

import "github.com/rv64emu/rv64emu/pkg/memory"

// Auxiliary vector keys used by spec §4.5's stack initializer (Linux's
// <elf.h> AT_* numbering).
const (
	atNull   = 0
	atPhdr   = 3
	atPhent  = 4
	atPhnum  = 5
	atPagesz = 6
	atEntry  = 9
	atUID    = 11
	atEUID   = 12
	atGID    = 13
	atEGID   = 14
	atSecure = 23
	atRandom = 25
	atExecfn = 31
)

const (
	progName = "/prog\x00"
	envStr   = "LD_DEBUG=all\x00"
)

// InitStack writes the guest's initial stack frame below the stack sentinel
// and returns the stack pointer the caller installs into x2 before the
// first Step: argc, argv[0], a single NULL standing in for an empty envp,
// the auxiliary vector, then (at higher addresses, already written) the
// deterministic "random" bytes, the program name and one environment
// string — exactly the shape spec §4.5 describes, including its departure
// from a real kernel's frame (no argv/envp terminator pair, just the one
// NULL word the spec text calls for).
func (img *Image) InitStack(mem *memory.Memory) uint64 {
	const auxCount = 13
	fixedSize := uint64(8 + 8 + 8 + auxCount*16) // argc, argv0, NULL, auxv
	const padding = 8
	const randomSize = 16

	stringsSize := uint64(randomSize + len(progName) + len(envStr))
	total := fixedSize + padding + stringsSize
	total = (total + 15) &^ 15 // 16-byte align the frame

	sp := memory.StackTop - total
	sp &^= 15

	// Touch the lowest address first so the stack-growth guard tracks the
	// true bottom from here on; WriteN/StoreU64 below create pages
	// directly and would otherwise leave mem's notion of the stack bottom
	// at its initial sentinel value.
	mem.StoreU8(sp, 0)

	randomAddr := sp + fixedSize + padding
	progNameAddr := randomAddr + randomSize
	envAddr := progNameAddr + uint64(len(progName))

	var rnd [randomSize]byte
	for i := range rnd {
		rnd[i] = byte(i)
	}
	mem.WriteN(rnd[:], randomAddr, randomSize)
	mem.WriteN([]byte(progName), progNameAddr, len(progName))
	mem.WriteN([]byte(envStr), envAddr, len(envStr))

	aux := [auxCount][2]uint64{
		{atEntry, img.PH.Entry},
		{atPhdr, img.PH.Address},
		{atPhent, img.PH.EntSize},
		{atPhnum, img.PH.Number},
		{atUID, 0},
		{atEUID, 0},
		{atGID, 0},
		{atEGID, 0},
		{atSecure, 0},
		{atPagesz, memory.PageSize},
		{atRandom, randomAddr},
		{atExecfn, progNameAddr},
		{atNull, 0},
	}

	mem.StoreU64(sp, 1)             // argc
	mem.StoreU64(sp+8, progNameAddr) // argv[0]
	mem.StoreU64(sp+16, 0)           // NULL (envp, per spec §4.5)
	for i, pair := range aux {
		base := sp + 24 + uint64(i)*16
		mem.StoreU64(base, pair[0])
		mem.StoreU64(base+8, pair[1])
	}

	return sp
}
