// Package elfimage loads a 64-bit RISC-V ELF executable into the emulator's
// paged address space: program headers, the DT_NEEDED dynamic-library
// table, the symbol table, and the guest's initial stack/auxv frame (spec
// §4.2's "program image... mapped from PT_LOAD/PT_PHDR/PT_DYNAMIC segments"
// and §4.5's stack initializer).
//
// Parsing is done with the standard library's debug/elf, the same package
// zboralski/galago (in this retrieval pack) uses for its own emulator's ELF
// loader: program headers via f.Progs, DT_NEEDED via f.ImportedLibraries,
// and the symbol table via f.Symbols/f.DynamicSymbols. No third-party ELF
// reader in this module's dependency set exposes a richer surface than
// debug/elf already does for this job, so there is nothing left for one to
// add here (see DESIGN.md).
package elfimage

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/rv64emu/rv64emu/pkg/disasm"
	"github.com/rv64emu/rv64emu/pkg/elfimage/synthlibs"
	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/memory"
)

// elfPhdrEntSize is the on-disk size of an Elf64_Phdr; debug/elf doesn't
// expose it directly, but it is fixed for every 64-bit ELF.
const elfPhdrEntSize = 56

// ProgramHeaderInfo captures the four values spec §4.5's stack initializer
// needs out of the ELF program header table (spec §3's "Program-header
// metadata").
type ProgramHeaderInfo struct {
	Entry   uint64
	Address uint64 // PHDR's own virtual address (AT_PHDR)
	EntSize uint64
	Number  uint64
}

// Image is a parsed, not-yet-mapped ELF executable.
type Image struct {
	PH ProgramHeaderInfo

	segments   []segment
	NeededLibs []string
	HasDynamic bool
	Symbols    []disasm.Symbol

	raw []byte
}

type segment struct {
	kind   elf.ProgType
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

// Load parses raw ELF bytes into an Image, validating the RISC-V/executable
// shape spec §6 asks for beyond what debug/elf's own parse already checks
// (debug/elf happily parses any valid ELF32/ELF64 of any machine and type;
// the class/machine/type fields are spec-exact requirements, so they are
// checked explicitly here).
func Load(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", emuerr.ErrInvalidFileType, err)
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: not 64-bit little-endian", emuerr.ErrInvalidFileType)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w: machine %v, want RISC-V", emuerr.ErrInvalidFileType, f.Machine)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("%w: e_type %v not executable or dynamic", emuerr.ErrInvalidFileType, f.Type)
	}

	img := &Image{raw: raw}
	img.PH.Entry = f.Entry
	img.PH.EntSize = elfPhdrEntSize
	img.PH.Number = uint64(len(f.Progs))

	for _, p := range f.Progs {
		seg := segment{
			kind:   p.Type,
			offset: p.Off,
			vaddr:  p.Vaddr,
			filesz: p.Filesz,
			memsz:  p.Memsz,
		}
		img.segments = append(img.segments, seg)
		switch p.Type {
		case elf.PT_PHDR:
			img.PH.Address = p.Vaddr
		case elf.PT_DYNAMIC:
			img.HasDynamic = true
		}
	}

	if img.HasDynamic {
		if libs, err := f.ImportedLibraries(); err == nil {
			img.NeededLibs = libs
		}
	}

	img.Symbols = parseSymbols(f)
	return img, nil
}

// parseSymbols prefers the static symbol table and falls back to the
// dynamic one (stripped executables only carry .dynsym), keeping only
// function and notype symbols per spec §3's symbol-table description.
func parseSymbols(f *elf.File) []disasm.Symbol {
	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		syms, err = f.DynamicSymbols()
	}
	if err != nil {
		return nil
	}
	var out []disasm.Symbol
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		typ := elf.ST_TYPE(s.Info)
		if typ != elf.STT_FUNC && typ != elf.STT_NOTYPE {
			continue
		}
		out = append(out, disasm.Symbol{Addr: s.Value, Name: s.Name})
	}
	return out
}

// MapInto installs every PT_LOAD segment (and, if present, the synthetic
// dynamic linker image) into mem, initializes the heap break past the last
// segment, and returns the entry point to start execution at.
func (img *Image) MapInto(mem *memory.Memory) uint64 {
	for _, s := range img.segments {
		if s.kind != elf.PT_LOAD {
			continue
		}
		end := s.offset + s.filesz
		if end > uint64(len(img.raw)) {
			end = uint64(len(img.raw))
		}
		data := img.raw[s.offset:end]
		mem.MapRegion(s.vaddr, s.memsz, data)
	}
	if img.HasDynamic {
		mem.MapRegion(synthlibs.DynLinkerBase, uint64(len(synthlibs.DynLinkerImage)), synthlibs.DynLinkerImage)
	}
	return img.PH.Entry
}
