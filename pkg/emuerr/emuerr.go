// Package emuerr defines the tagged fault kinds shared by the emulator core.
//
// This mirrors the sentinel-error style of the teacher VM (ErrHalted,
// ErrNotPermitted, ErrSIGSEGV): a package-level errors.New value that callers
// wrap with fmt.Errorf("%w: ...") and detect with errors.Is.
package emuerr

import "errors"

var (
	// ErrSegfault indicates an access to memory outside any mapped region,
	// after any eligible stack-growth attempt has already failed.
	ErrSegfault = errors.New("emuerr: segmentation fault")

	// ErrInvalidLabel indicates that profile_label(name) named a symbol that
	// is not present in the disassembler's symbol table.
	ErrInvalidLabel = errors.New("emuerr: invalid label")

	// ErrInvalidFileType indicates that an ELF file did not match the
	// expected shape (64-bit little-endian, machine RISC-V).
	ErrInvalidFileType = errors.New("emuerr: invalid file type")

	// ErrHalted indicates a clean exit from Run/Step — the guest invoked
	// exit or exit_group. Not a fault; used as a loop-termination sentinel
	// the way the teacher VM uses ErrHalted.
	ErrHalted = errors.New("emuerr: halted")

	// ErrUnknownSyscall indicates a7 named a syscall number this emulator
	// does not implement a no-op for. Returning a value here would
	// desynchronize the guest, so this aborts the run.
	ErrUnknownSyscall = errors.New("emuerr: unknown syscall")
)
