// Package emulator wires the core collaborators — register file, paged
// memory, the interpreter, the syscall emulator, the profiler, and the
// symbol table — into the single value spec §3 calls "Emulator state",
// built from a loaded ELF image.
//
// This plays the role the teacher's pkg/vm.VM plays: one struct owning all
// sub-state, constructed once and stepped by the driver (vm.go:159-164).
// Where the teacher's VM is one flat struct of arrays, this one is a
// struct of collaborator structs, because the RV64GC core decomposes into
// genuinely separate concerns (decode, memory, cost model, syscalls) that
// the RiSC-32 teacher never had to split out.
package emulator

import (
	"github.com/rv64emu/rv64emu/pkg/cpu"
	"github.com/rv64emu/rv64emu/pkg/disasm"
	"github.com/rv64emu/rv64emu/pkg/elfimage"
	"github.com/rv64emu/rv64emu/pkg/elfimage/synthlibs"
	"github.com/rv64emu/rv64emu/pkg/memory"
	"github.com/rv64emu/rv64emu/pkg/profiler"
	"github.com/rv64emu/rv64emu/pkg/regfile"
	"github.com/rv64emu/rv64emu/pkg/sysemu"
)

// Emulator is the top-level, value-copyable emulator instance (spec §5:
// snapshotting a running emulator is exactly copying this struct's
// pointees, which Clone does deeply).
type Emulator struct {
	CPU     *cpu.CPU
	Mem     *memory.Memory
	Sys     *sysemu.Syscalls
	Prof    *profiler.Profiler
	Symbols *disasm.SymbolTable

	// Advisories is a list of diagnostic strings that Clone carries over.
	// Nothing in this module appends to it and cmd/rvemu does not read it;
	// an unknown instruction advances the PC without any diagnostic.
	Advisories []string
}

// New builds an Emulator from raw ELF bytes: parses the image, maps its
// segments (and the synthetic dynamic linker, if dynamically linked) into
// a fresh address space, preloads the synthetic shared libraries the image
// declares as DT_NEEDED, writes the initial stack/auxv frame, and points
// the CPU at the entry point with sp installed.
func New(raw []byte) (*Emulator, error) {
	img, err := elfimage.Load(raw)
	if err != nil {
		return nil, err
	}

	mem := memory.New()
	entry := img.MapInto(mem)
	mem.InitBrk(mem.BrkBase())
	sp := img.InitStack(mem)

	sys := sysemu.New()
	for _, name := range img.NeededLibs {
		// The built-in blobs and openat use the full /lib/tls/ path; a
		// config override is keyed by the bare DT_NEEDED name and wins.
		path := "/lib/tls/" + name
		blob, ok := synthlibs.Blobs[name]
		if !ok {
			blob, ok = synthlibs.Blobs[path]
		}
		if ok {
			sys.Preload[path] = blob
		}
	}

	c := cpu.New(mem, entry)
	c.Regs.Set(regfile.SP, sp)
	c.Sys = sys

	prof := profiler.New()
	c.Prof = prof

	return &Emulator{
		CPU:     c,
		Mem:     mem,
		Sys:     sys,
		Prof:    prof,
		Symbols: disasm.NewSymbolTable(img.Symbols),
	}, nil
}

// Step advances the guest by exactly one instruction. Returns
// emuerr.ErrHalted once the guest has exited (e.Exited distinguishes a
// clean exit from a fault) and any other error as a fault.
func (e *Emulator) Step() error { return e.CPU.Step() }

// Run steps until halt or fault.
func (e *Emulator) Run() error { return e.CPU.Run() }

// Exited reports whether the guest has invoked exit/exit_group.
func (e *Emulator) Exited() bool { return e.CPU.Exited }

// ExitCode returns the guest's reported exit status (valid only once
// Exited is true).
func (e *Emulator) ExitCode() int { return e.CPU.ExitCode }

// Stdout/Stderr return the process-wide output buffers accumulated so far
// (spec §6: "flushed by the driver on exit").
func (e *Emulator) Stdout() []byte { return e.Sys.Stdout }
func (e *Emulator) Stderr() []byte { return e.Sys.Stderr }

// SetStdin installs the bytes fd 0 reads back (spec's --stdin flag).
func (e *Emulator) SetStdin(data []byte) { e.Sys.SetStdin(data) }

// ProfileLabel activates the profiler's window starting at the named
// symbol (spec §7's InvalidLabel arises from exactly this lookup failing).
func (e *Emulator) ProfileLabel(name string) error {
	addr, err := e.Symbols.Resolve(name)
	if err != nil {
		return err
	}
	e.Prof.SetWindow(addr, addr)
	return nil
}

// Clone deep-copies the whole emulator value (spec §5: "the core exposes a
// value-copy operation... a copied emulator behaves identically when
// stepped independently"), the collaborator the time-travel snapshot ring
// is built on.
func (e *Emulator) Clone() *Emulator {
	regs := *e.CPU.Regs
	mem := e.Mem.Clone()
	sys := e.Sys.Clone()
	prof := *e.Prof

	c := &cpu.CPU{
		Regs:      &regs,
		Mem:       mem,
		Prof:      &prof,
		Sys:       sys,
		PC:        e.CPU.PC,
		InstCount: e.CPU.InstCount,
		Exited:    e.CPU.Exited,
		ExitCode:  e.CPU.ExitCode,
	}

	return &Emulator{
		CPU:        c,
		Mem:        mem,
		Sys:        sys,
		Prof:       &prof,
		Symbols:    e.Symbols,
		Advisories: append([]string(nil), e.Advisories...),
	}
}
