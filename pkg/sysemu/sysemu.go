// Package sysemu emulates the subset of the Linux RISC-V syscall ABI that
// a statically-linked or dynamically-linked RV64GC user-mode binary needs
// to run to completion under this emulator: file descriptor I/O, program
// break, a fixed mmap/munmap/mprotect model, process exit, and a handful of
// syscalls that are safe to answer with a constant because no guest program
// this emulator targets inspects their result closely (spec §4.4).
//
// Syscalls dispatches to an *cpu.CPU passed in by the caller, so this
// package depends on pkg/cpu (for register/memory access) rather than the
// other way around — cpu.SyscallHandler is the seam that keeps pkg/cpu
// itself free of any syscall-table knowledge, the way the teacher's VM kept
// WSR/RSR status-register access as plain opcodes with no notion of "OS".
package sysemu

import (
	"fmt"

	"github.com/rv64emu/rv64emu/pkg/cpu"
	"github.com/rv64emu/rv64emu/pkg/emuerr"
	"github.com/rv64emu/rv64emu/pkg/regfile"
)

// Linux RISC-V syscall numbers (a7) this emulator recognizes.
const (
	sysFaccessat     = 48
	sysGetcwd        = 17
	sysFcntl         = 25
	sysIoctl         = 29
	sysOpenat        = 56
	sysClose         = 57
	sysLseek         = 62
	sysRead          = 63
	sysWrite         = 64
	sysWritev        = 66
	sysReadlinkat    = 78
	sysNewfstatat    = 79
	sysExit          = 93
	sysExitGroup     = 94
	sysSetTidAddress = 96
	sysFutex         = 98
	sysSetRobustList = 99
	sysClockGettime  = 113
	sysSchedYield    = 124
	sysTgkill        = 131
	sysRtSigaction   = 134
	sysRtSigprocmask = 135
	sysUname         = 160
	sysGetpid        = 172
	sysGetppid       = 173
	sysGetuid        = 174
	sysGeteuid       = 175
	sysGetgid        = 176
	sysGetegid       = 177
	sysGettid        = 178
	sysBrk           = 214
	sysMunmap        = 215
	sysMmap          = 222
	sysMprotect      = 226
	sysPrlimit64     = 261
	sysGetrandom     = 278
)

// futexWait is the op code this emulator recognizes out of Linux's futex
// argument bitmask. It is not Linux's own FUTEX_WAIT (0): the synthetic
// dynamic linker this emulator preloads issues futex calls with this value,
// so it is what the original profiling target's runtime actually emits.
const futexWait = 128

// Fixed descriptor numbers for the four synthetic shared libraries this
// emulator preloads in place of a real dynamic linker's library set. A
// guest's openat only ever resolves one of these four paths; anything else
// is ENOENT.
const (
	fdLibc    = 10
	fdLibstdc = 11
	fdLibm    = 12
	fdLibgcc  = 13
)

var synthLibFD = map[string]int64{
	"/lib/tls/libc.so.6":      fdLibc,
	"/lib/tls/libstdc++.so.6": fdLibstdc,
	"/lib/tls/libm.so.6":      fdLibm,
	"/lib/tls/libgcc_s.so.1":  fdLibgcc,
}

// Negative-errno results, returned the way the Linux syscall ABI reports
// failure (no separate errno register on RISC-V; the return value itself is
// negative).
const (
	errBADF  = -9
	errINVAL = -22
	errNOENT = -2
)

// fd is an open file description: a byte slice plus a cursor. Guest
// programs only ever open the synthetic shared libraries or read-only
// files this emulator preloads, so the backing store is always an
// in-memory slice rather than a real OS file descriptor.
type fd struct {
	data   []byte
	offset int64
}

// Syscalls is the emulator's syscall table state: the open-file table
// (seeded with stdin/stdout/stderr and any preloaded files), and the
// captured stdout/stderr streams the driver prints or inspects after Run
// returns.
type Syscalls struct {
	files map[int64]*fd

	Stdout []byte
	Stderr []byte

	// Preload maps an openat path to its synthetic contents (populated by
	// pkg/emulator.New with the DT_NEEDED shared-library blobs).
	Preload map[string][]byte
}

// New creates a syscall table with the standard three descriptors wired to
// s.Stdout/s.Stderr (fd 0 starts empty and reads back whatever SetStdin
// installs).
func New() *Syscalls {
	s := &Syscalls{
		files:   make(map[int64]*fd),
		Preload: make(map[string][]byte),
	}
	s.files[0] = &fd{}
	s.files[1] = &fd{}
	s.files[2] = &fd{}
	return s
}

// SetStdin installs the contents read back by fd 0 (spec's --stdin flag).
func (s *Syscalls) SetStdin(data []byte) {
	s.files[0] = &fd{data: data}
}

// Clone deep-copies the syscall table for the emulator's value-copy
// contract (spec §5): every open descriptor gets its own backing slice and
// cursor, and the Preload table is shared read-only (its contents never
// mutate after pkg/emulator.New populates it).
func (s *Syscalls) Clone() *Syscalls {
	out := &Syscalls{
		files:   make(map[int64]*fd, len(s.files)),
		Preload: s.Preload,
		Stdout:  append([]byte(nil), s.Stdout...),
		Stderr:  append([]byte(nil), s.Stderr...),
	}
	for k, f := range s.files {
		out.files[k] = &fd{data: append([]byte(nil), f.data...), offset: f.offset}
	}
	return out
}

// ECall implements cpu.SyscallHandler: dispatch on a7, read arguments from
// a0..a5, write the return value to a0.
func (s *Syscalls) ECall(c *cpu.CPU) error {
	r := c.Regs
	num := r.Get(regfile.A7)
	a0, a1, a2, a3 := r.Get(regfile.A0), r.Get(regfile.A1), r.Get(regfile.A2), r.Get(regfile.A3)

	switch num {
	case sysWrite:
		n, err := s.write(c, int64(a0), a1, a2)
		if err != nil {
			return err
		}
		r.Set(regfile.A0, uint64(n))
	case sysWritev:
		n, err := s.writev(c, int64(a0), a1, a2)
		if err != nil {
			return err
		}
		r.Set(regfile.A0, uint64(n))
	case sysRead:
		n, err := s.read(c, int64(a0), a1, a2)
		if err != nil {
			return err
		}
		r.Set(regfile.A0, uint64(n))
	case sysOpenat:
		path := c.Mem.ReadStringN(a1, 4096)
		fdnum := s.openat(path)
		r.Set(regfile.A0, uint64(fdnum))
	case sysClose:
		r.Set(regfile.A0, uint64(s.close(int64(a0))))
	case sysLseek:
		off, err := s.lseek(int64(a0), int64(a1), int32(a2))
		if err != nil {
			return err
		}
		r.Set(regfile.A0, uint64(off))
	case sysReadlinkat:
		n := s.readlinkat(c, a1, a2, a3)
		r.Set(regfile.A0, uint64(n))
	case sysBrk:
		r.Set(regfile.A0, c.Mem.Brk(a0))
	case sysMmap:
		a4, a5 := r.Get(regfile.A4), r.Get(regfile.A5)
		r.Set(regfile.A0, s.mmap(c, a0, a1, int64(a4), a5))
	case sysMunmap, sysMprotect:
		// This emulator's address space has no facility to unmap or
		// reprotect pages once mapped (pkg/memory is append-only); both
		// calls report success without effect, a documented divergence.
		r.Set(regfile.A0, 0)
	case sysExit:
		c.Halt(int(int32(a0)))
	case sysExitGroup:
		c.Halt(int(int32(a0)))
	case sysGetrandom:
		n := s.getrandom(c, a0, a1)
		r.Set(regfile.A0, uint64(n))
	case sysFutex:
		// Single-hart: nothing else runs to wake a waiter, or to be woken.
		// FUTEX_WAIT clears the word at *uaddr so a spin-loop guarded by it
		// observes the wait as already satisfied; every other op is a no-op.
		op := int32(r.Get(regfile.A1))
		if op == futexWait {
			uaddr := a0
			if err := c.Mem.StoreU64(uaddr, 0); err != nil {
				return err
			}
		}
		r.Set(regfile.A0, 0)
	case sysFaccessat:
		// Always reports the path inaccessible; original_source notes this
		// is a no-op stand-in rather than a real access check.
		r.Set(regfile.A0, ^uint64(0)) // -1
	case sysGetcwd, sysFcntl, sysIoctl, sysClockGettime, sysTgkill,
		sysRtSigaction, sysRtSigprocmask, sysUname,
		sysGetpid, sysGetppid, sysGetuid, sysGeteuid, sysGetgid, sysGetegid, sysGettid,
		sysSetTidAddress, sysSetRobustList, sysSchedYield, sysPrlimit64, sysNewfstatat:
		r.Set(regfile.A0, 0)
	default:
		return fmt.Errorf("%w: a7=%d", emuerr.ErrUnknownSyscall, num)
	}
	return nil
}

func (s *Syscalls) write(c *cpu.CPU, fdnum int64, addr, length uint64) (int64, error) {
	buf := make([]byte, length)
	for i := range buf {
		b, err := c.Mem.LoadU8(addr + uint64(i))
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	switch fdnum {
	case 1:
		s.Stdout = append(s.Stdout, buf...)
	case 2:
		s.Stderr = append(s.Stderr, buf...)
	default:
		f, ok := s.files[fdnum]
		if !ok {
			return errBADF, nil
		}
		f.data = append(f.data[:f.offset], buf...)
		f.offset += int64(len(buf))
	}
	return int64(length), nil
}

func (s *Syscalls) writev(c *cpu.CPU, fdnum int64, iovAddr, iovCnt uint64) (int64, error) {
	var total int64
	for i := uint64(0); i < iovCnt; i++ {
		base := iovAddr + i*16
		baseAddr, err := c.Mem.LoadU64(base)
		if err != nil {
			return 0, err
		}
		length, err := c.Mem.LoadU64(base + 8)
		if err != nil {
			return 0, err
		}
		n, err := s.write(c, fdnum, baseAddr, length)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *Syscalls) read(c *cpu.CPU, fdnum int64, addr, length uint64) (int64, error) {
	f, ok := s.files[fdnum]
	if !ok {
		return errBADF, nil
	}
	end := f.offset + int64(length)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	chunk := f.data[f.offset:end]
	if err := c.Mem.WriteN(chunk, addr, len(chunk)); err != nil {
		return 0, err
	}
	f.offset = end
	return int64(len(chunk)), nil
}

// openat recognizes exactly the four synthetic shared-library paths this
// emulator preloads in place of a real dynamic linker's library set,
// returning their fixed descriptor numbers; any other path is ENOENT.
func (s *Syscalls) openat(path string) int64 {
	fdnum, ok := synthLibFD[path]
	if !ok {
		return errNOENT
	}
	data, ok := s.Preload[path]
	if !ok {
		return errNOENT
	}
	s.files[fdnum] = &fd{data: data}
	return fdnum
}

func (s *Syscalls) close(fdnum int64) int64 {
	if fdnum <= 2 {
		return 0
	}
	if _, ok := s.files[fdnum]; !ok {
		return errBADF
	}
	delete(s.files, fdnum)
	return 0
}

func (s *Syscalls) lseek(fdnum, offset int64, whence int32) (int64, error) {
	f, ok := s.files[fdnum]
	if !ok {
		return errBADF, nil
	}
	switch whence {
	case 0: // SEEK_SET
		f.offset = offset
	case 1: // SEEK_CUR
		f.offset += offset
	case 2: // SEEK_END
		f.offset = int64(len(f.data)) + offset
	default:
		return errINVAL, nil
	}
	return f.offset, nil
}

// readlinkat answers only the one link a guest ever queries to find its own
// executable path: /proc/self/exe, resolving to the synthetic program name
// this emulator reports itself as running ("/prog", unterminated — readlink
// never NUL-terminates its result). Any other path is ENOENT.
func (s *Syscalls) readlinkat(c *cpu.CPU, pathAddr, bufAddr, bufLen uint64) int64 {
	const self = "/proc/self/exe"
	const target = "/prog"
	path := c.Mem.ReadStringN(pathAddr, 4096)
	if path != self {
		return errNOENT
	}
	n := len(target)
	if uint64(n) > bufLen {
		n = int(bufLen)
	}
	if err := c.Mem.WriteN([]byte(target), bufAddr, n); err != nil {
		return errINVAL
	}
	return int64(n)
}

func (s *Syscalls) mmap(c *cpu.CPU, addr, length uint64, fdnum int64, offset uint64) uint64 {
	if fdnum < 0 {
		return c.Mem.Mmap(addr, length)
	}
	f, ok := s.files[fdnum]
	if !ok {
		return ^uint64(0)
	}
	base, err := c.Mem.MmapFile(addr, f.data, offset, length)
	if err != nil {
		return ^uint64(0)
	}
	return base
}

// getrandom fills the buffer with a constant byte rather than real entropy:
// this emulator's runs must be deterministic and reproducible, including
// whatever a guest's runtime seeds its PRNG or stack canary with.
func (s *Syscalls) getrandom(c *cpu.CPU, addr, length uint64) int64 {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = 0xff
	}
	if err := c.Mem.WriteN(buf, addr, len(buf)); err != nil {
		return errINVAL
	}
	return int64(length)
}
