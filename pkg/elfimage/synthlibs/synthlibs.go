// Package synthlibs holds the four synthetic shared-library blobs this
// emulator hands back to a guest that resolves DT_NEEDED dependencies, in
// place of real glibc/libstdc++/libm/libgcc_s binaries this module has no
// access to (spec §6's "Synthetic files" note). Each blob is a minimal valid
// ELF64 shared-object header followed by a handful of zero pages: enough to
// satisfy openat/read/lseek/mmap without claiming to be byte-faithful to the
// real library it stands in for.
package synthlibs

import "encoding/binary"

// Names are the exact paths this emulator's openat recognizes (pkg/sysemu
// keys its fixed file descriptors on these same strings).
const (
	Libc    = "/lib/tls/libc.so.6"
	Libstdc = "/lib/tls/libstdc++.so.6"
	Libm    = "/lib/tls/libm.so.6"
	Libgcc  = "/lib/tls/libgcc_s.so.1"
)

// DynLinker is the synthetic dynamic linker image path and load offset
// (pkg/elfimage places it here when the guest ELF carries PT_DYNAMIC).
const (
	DynLinkerPath = "ld-linux-riscv64-lp64d.so.1"
	DynLinkerBase = 0x0200_0000_0000_0000
)

const blobPages = 4

// Blobs maps each synthetic path to its placeholder contents, built once at
// package init.
var Blobs = map[string][]byte{
	Libc:    makeBlob(),
	Libstdc: makeBlob(),
	Libm:    makeBlob(),
	Libgcc:  makeBlob(),
}

// DynLinkerImage is the synthetic dynamic linker's own blob, mapped at
// DynLinkerBase rather than opened through the file descriptor table.
var DynLinkerImage = makeBlob()

// makeBlob builds a minimal valid ELF64 shared-object (ET_DYN) header for
// machine RISC-V (0xF3), zero program/section headers, padded out to a few
// pages so mmap/read callers always have backing bytes to return.
func makeBlob() []byte {
	buf := make([]byte, blobPages*4096)
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:18], 3)      // e_type = ET_DYN
	binary.LittleEndian.PutUint16(buf[18:20], 0xf3)   // e_machine = EM_RISCV
	binary.LittleEndian.PutUint32(buf[20:24], 1)      // e_version
	binary.LittleEndian.PutUint16(buf[52:54], 64)     // e_ehsize
	binary.LittleEndian.PutUint16(buf[58:60], 64)     // e_shentsize
	return buf
}
