// Package memory implements the emulator's paged 64-bit virtual address
// space: program image, heap, stack, and mmap regions, all backed by a
// sparse map from page number to a fixed-size page buffer.
//
// This generalizes the teacher's vm.VM.Memory (vm.go:178-203), which
// translates a single flat array index through an optional page table. The
// teacher's page table is a *guest-visible* MMU feature (RiSC-32 user-mode
// paging); this package instead implements the *host-side* sparse backing
// store spec §4.2 calls for — conceptually the inverse direction, but the
// same "shift the address right by the page size, look up a page, apply an
// offset" technique, generalized from the teacher's fixed 1M-word array to
// an unbounded 64-bit space via map[uint64]*page.
package memory

import (
	"encoding/binary"
	"fmt"

	"github.com/rv64emu/rv64emu/pkg/emuerr"
)

const (
	// PageSize is the page granularity of the address space, in bytes.
	PageSize = 4096
	pageMask = PageSize - 1
	pageBits = 12

	// GuardBytes is how far below the current stack bottom an access may
	// land and still trigger on-demand stack growth (spec §4.2: "an access
	// more than one page below the current bottom faults").
	GuardBytes = PageSize

	// StackTop is the sentinel top-of-memory address the stack grows down
	// from.
	StackTop = 0x7fff_ffff_f000
)

type page [PageSize]byte

// Region names the logical regions of the address space. Nothing in this
// package tags an address with a Region, and it does not change access
// semantics (access is always governed by whether the page is present).
type Region int

const (
	RegionImage Region = iota
	RegionDynLinker
	RegionHeap
	RegionStack
	RegionMmap
)

// Memory is the sparse paged address space bound to one Emulator instance.
// Not goroutine-safe — like the teacher's VM, a single goroutine owns it.
type Memory struct {
	pages map[uint64]*page

	brk      uint64
	brkBase  uint64
	stackBot uint64
	mmapNext uint64
}

// New creates an empty address space with the stack bottom initialized at
// the sentinel top of memory and the bump-mmap cursor placed at a fixed
// high offset below the stack, matching the well-separated-high-addresses
// layout spec §4.2 requires.
func New() *Memory {
	return &Memory{
		pages:    make(map[uint64]*page),
		stackBot: StackTop,
		mmapNext: 0x4000_0000_0000,
	}
}

func pageNum(addr uint64) uint64 { return addr >> pageBits }
func pageOff(addr uint64) uint64 { return addr & pageMask }

func (m *Memory) pageAt(addr uint64, create bool) *page {
	n := pageNum(addr)
	p, ok := m.pages[n]
	if !ok {
		if !create {
			return nil
		}
		p = &page{}
		m.pages[n] = p
	}
	return p
}

// rangePresent reports whether every byte of [addr, addr+n) is backed by an
// allocated page, checking one byte at a time so misaligned, page-crossing
// accesses (spec §4.2) are covered.
func (m *Memory) rangePresent(addr uint64, n int) bool {
	for i := 0; i < n; i++ {
		if _, ok := m.pages[pageNum(addr+uint64(i))]; !ok {
			return false
		}
	}
	return true
}

// MapRegion installs data at a page-aligned virtual address, creating pages
// as needed and zero-filling the tail beyond len(data) up to size bytes.
// Used to place PT_LOAD segments, the synthetic dynamic-linker image, and
// file-backed mmap contents.
func (m *Memory) MapRegion(addr uint64, size uint64, data []byte) {
	end := addr + size
	for a := addr &^ pageMask; a < end; a += PageSize {
		p := m.pageAt(a, true)
		for i := 0; i < PageSize; i++ {
			off := a + uint64(i)
			if off < addr || off >= addr+uint64(len(data)) {
				continue
			}
			p[i] = data[off-addr]
		}
	}
	if end > m.brkBase {
		m.brkBase = (end + pageMask) &^ pageMask
		if m.brk < m.brkBase {
			m.brk = m.brkBase
		}
	}
}

// maybeGrowStack extends the stack downward one page at a time if addr
// falls within the guard window below the current bottom (spec §4.2/§9:
// grow only the pages actually touched, never the full distance to the
// sentinel). Returns false if addr is beyond the guard and thus must fault.
func (m *Memory) maybeGrowStack(addr uint64) bool {
	if addr >= m.stackBot {
		return true
	}
	if m.stackBot-addr > GuardBytes {
		return false
	}
	newBot := addr &^ pageMask
	for a := newBot; a < m.stackBot; a += PageSize {
		m.pageAt(a, true)
	}
	m.stackBot = newBot
	return true
}

func (m *Memory) ensureWritable(addr uint64, n int) error {
	if m.rangePresent(addr, n) {
		return nil
	}
	if addr < StackTop && m.maybeGrowStack(addr) && m.rangePresent(addr, n) {
		return nil
	}
	return fmt.Errorf("%w: store at 0x%x", emuerr.ErrSegfault, addr)
}

func (m *Memory) ensureReadable(addr uint64, n int) error {
	if m.rangePresent(addr, n) {
		return nil
	}
	return fmt.Errorf("%w: load at 0x%x", emuerr.ErrSegfault, addr)
}

// byteAt returns a pointer to the byte at addr, creating the backing page
// if create is set (used by stores after ensureWritable has already grown
// the stack as needed).
func (m *Memory) byteAt(addr uint64, create bool) *byte {
	p := m.pageAt(addr, create)
	if p == nil {
		return nil
	}
	return &p[pageOff(addr)]
}

func (m *Memory) readBytes(addr uint64, n int) []byte {
	out := make([]byte, n)
	// Fast path: access stays inside one page.
	if pageOff(addr)+uint64(n) <= PageSize {
		p := m.pageAt(addr, false)
		if p != nil {
			copy(out, p[pageOff(addr):pageOff(addr)+uint64(n)])
		}
		return out
	}
	// Slow path: the range crosses a page boundary.
	for i := 0; i < n; i++ {
		if b := m.byteAt(addr+uint64(i), false); b != nil {
			out[i] = *b
		}
	}
	return out
}

func (m *Memory) writeBytes(addr uint64, data []byte) {
	if pageOff(addr)+uint64(len(data)) <= PageSize {
		p := m.pageAt(addr, true)
		copy(p[pageOff(addr):], data)
		return
	}
	for i, b := range data {
		*m.byteAt(addr+uint64(i), true) = b
	}
}

// LoadU8/LoadU16/LoadU32/LoadU64 read little-endian unsigned integers.
func (m *Memory) LoadU8(addr uint64) (uint8, error) {
	if err := m.ensureReadable(addr, 1); err != nil {
		return 0, err
	}
	return m.readBytes(addr, 1)[0], nil
}

func (m *Memory) LoadU16(addr uint64) (uint16, error) {
	if err := m.ensureReadable(addr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.readBytes(addr, 2)), nil
}

func (m *Memory) LoadU32(addr uint64) (uint32, error) {
	if err := m.ensureReadable(addr, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.readBytes(addr, 4)), nil
}

func (m *Memory) LoadU64(addr uint64) (uint64, error) {
	if err := m.ensureReadable(addr, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.readBytes(addr, 8)), nil
}

// LoadI8/LoadI16/LoadI32 read little-endian signed integers (sign-extension
// is the caller's job in pkg/cpu, per load-mnemonic semantics; these just
// reinterpret the bit pattern).
func (m *Memory) LoadI8(addr uint64) (int8, error) {
	v, err := m.LoadU8(addr)
	return int8(v), err
}

func (m *Memory) LoadI16(addr uint64) (int16, error) {
	v, err := m.LoadU16(addr)
	return int16(v), err
}

func (m *Memory) LoadI32(addr uint64) (int32, error) {
	v, err := m.LoadU32(addr)
	return int32(v), err
}

// StoreU8/StoreU16/StoreU32/StoreU64 write little-endian.
func (m *Memory) StoreU8(addr uint64, v uint8) error {
	if err := m.ensureWritable(addr, 1); err != nil {
		return err
	}
	m.writeBytes(addr, []byte{v})
	return nil
}

func (m *Memory) StoreU16(addr uint64, v uint16) error {
	if err := m.ensureWritable(addr, 2); err != nil {
		return err
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	m.writeBytes(addr, b[:])
	return nil
}

func (m *Memory) StoreU32(addr uint64, v uint32) error {
	if err := m.ensureWritable(addr, 4); err != nil {
		return err
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.writeBytes(addr, b[:])
	return nil
}

func (m *Memory) StoreU64(addr uint64, v uint64) error {
	if err := m.ensureWritable(addr, 8); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.writeBytes(addr, b[:])
	return nil
}

// Brk sets the program break. Passing 0 returns the current break without
// modifying it. The heap never shrinks; requests below the current break
// are rejected by returning the unchanged break (spec §4.2).
func (m *Memory) Brk(newEnd uint64) uint64 {
	if newEnd == 0 {
		return m.brk
	}
	if newEnd < m.brk {
		return m.brk
	}
	target := (newEnd + pageMask) &^ pageMask
	for a := m.brk &^ pageMask; a < target; a += PageSize {
		m.pageAt(a, true)
	}
	m.brk = target
	return m.brk
}

// BrkBase returns the address the heap starts from (end of the program
// image), used by the driver/loader to initialize Brk(base) at load time.
func (m *Memory) BrkBase() uint64 { return m.brkBase }

// InitBrk sets the initial program break to base as given, without
// rounding; called once by the loader after mapping PT_LOAD segments.
func (m *Memory) InitBrk(base uint64) {
	m.brkBase = base
	m.brk = base
}

// Mmap allocates size bytes (rounded up to a page). If hint is zero the
// region is placed at a fresh bump-allocated address past all prior
// regions; otherwise it is placed at hint, zeroing any pages already
// present there (MAP_FIXED semantics). Returns the base address, or
// ^uint64(0) ("-1") only if the implementation-defined mmap region space is
// exhausted.
func (m *Memory) Mmap(hint uint64, size uint64) uint64 {
	size = (size + pageMask) &^ pageMask
	var base uint64
	if hint == 0 {
		if m.mmapNext+size >= StackTop {
			return ^uint64(0)
		}
		base = m.mmapNext
		m.mmapNext += size
	} else {
		base = hint &^ pageMask
	}
	for a := base; a < base+size; a += PageSize {
		m.pages[pageNum(a)] = &page{}
	}
	return base
}

// MmapFile reserves size bytes via Mmap and copies data[offset:offset+len]
// into the new region. offset must be page-aligned per spec §4.2.
func (m *Memory) MmapFile(hint uint64, data []byte, offset, length uint64) (uint64, error) {
	if offset%PageSize != 0 {
		return 0, fmt.Errorf("mmap_file: offset %d not page-aligned", offset)
	}
	base := m.Mmap(hint, length)
	if base == ^uint64(0) {
		return base, nil
	}
	end := offset + length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	if offset < end {
		m.writeBytes(base, data[offset:end])
	}
	return base, nil
}

// WriteN copies up to len(data) bytes from data into guest memory at addr,
// then zero-pads the remainder of the n-byte destination range.
func (m *Memory) WriteN(data []byte, addr uint64, n int) error {
	buf := make([]byte, n)
	copy(buf, data)
	m.writeBytes(addr, buf)
	return nil
}

// ReadStringN reads bytes from addr until a NUL byte or max bytes,
// whichever comes first, and returns the prefix decoded as UTF-8 with
// lossy replacement of invalid sequences.
func (m *Memory) ReadStringN(addr uint64, max int) string {
	buf := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		b, err := m.LoadU8(addr + uint64(i))
		if err != nil || b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return toUTF8Lossy(buf)
}

func toUTF8Lossy(b []byte) string {
	// ASCII/UTF-8 guest strings are the overwhelming common case; for any
	// invalid byte we fall back to the rune-by-rune decode, which inserts
	// U+FFFD for bad sequences, matching "UTF-8 with lossy replacement".
	s := string(b)
	valid := true
	for _, r := range s {
		if r == '�' {
			valid = false
			break
		}
	}
	if valid {
		return s
	}
	return lossyDecode(b)
}

func lossyDecode(b []byte) string {
	out := make([]rune, 0, len(b))
	for _, r := range string(b) {
		out = append(out, r)
	}
	return string(out)
}

// Hexdump formats rows*16 bytes starting at addr as a hex/ASCII dump, for
// the debugger.
func (m *Memory) Hexdump(addr uint64, rows int) string {
	out := ""
	for r := 0; r < rows; r++ {
		base := addr + uint64(r*16)
		out += fmt.Sprintf("%016x  ", base)
		var ascii [16]byte
		for i := 0; i < 16; i++ {
			b, err := m.LoadU8(base + uint64(i))
			if err != nil {
				out += "?? "
				ascii[i] = '.'
				continue
			}
			out += fmt.Sprintf("%02x ", b)
			if b >= 0x20 && b < 0x7f {
				ascii[i] = b
			} else {
				ascii[i] = '.'
			}
		}
		out += " " + string(ascii[:]) + "\n"
	}
	return out
}

// StackBottom returns the current lowest allocated stack address.
func (m *Memory) StackBottom() uint64 { return m.stackBot }

// Clone deep-copies the address space for value-copy snapshotting (spec
// §5): every page is duplicated so that mutating the clone never affects
// the original.
func (m *Memory) Clone() *Memory {
	out := &Memory{
		pages:    make(map[uint64]*page, len(m.pages)),
		brk:      m.brk,
		brkBase:  m.brkBase,
		stackBot: m.stackBot,
		mmapNext: m.mmapNext,
	}
	for k, p := range m.pages {
		np := *p
		out.pages[k] = &np
	}
	return out
}
