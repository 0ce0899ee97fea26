package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/emuerr"
)

func TestStoreLoadRoundTripLittleEndian(t *testing.T) {
	m := New()
	const addr = 0x1000
	m.MapRegion(addr, 8, nil)
	require.NoError(t, m.StoreU64(addr, 0xdebc9a7856342312))

	v, err := m.LoadU64(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdebc9a7856342312), v)

	for i := 0; i < 8; i++ {
		b, err := m.LoadU8(addr + uint64(i))
		require.NoError(t, err)
		want := byte(0xdebc9a7856342312 >> (8 * i))
		assert.Equal(t, want, b, "byte %d", i)
	}
}

func TestLoadWordFromStoredDoubleword(t *testing.T) {
	m := New()
	const addr = 0x2000
	m.MapRegion(addr, 8, nil)
	require.NoError(t, m.StoreU64(addr, 0xdebc9a7856342312))
	lw, err := m.LoadU32(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x56342312), lw)
}

func TestLoadUnmappedFaults(t *testing.T) {
	m := New()
	_, err := m.LoadU8(0x9999_0000)
	require.Error(t, err)
	assert.ErrorIs(t, err, emuerr.ErrSegfault)
}

func TestStoreFarBelowStackBottomFaults(t *testing.T) {
	m := New()
	err := m.StoreU8(StackTop-GuardBytes*2, 0)
	assert.ErrorIs(t, err, emuerr.ErrSegfault)
}

func TestStoreWithinGuardWindowGrowsStackByOnePage(t *testing.T) {
	m := New()
	before := m.StackBottom()
	addr := before - PageSize
	require.NoError(t, m.StoreU8(addr, 7))
	assert.Equal(t, before-PageSize, m.StackBottom())

	b, err := m.LoadU8(addr)
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)
}

func TestBrkNeverShrinks(t *testing.T) {
	m := New()
	m.InitBrk(0x10000)
	got := m.Brk(0x20000)
	assert.Equal(t, uint64(0x20000), got)

	got = m.Brk(0x15000) // below current break: rejected
	assert.Equal(t, uint64(0x20000), got)

	got = m.Brk(0) // query
	assert.Equal(t, uint64(0x20000), got)
}

func TestMapRegionZeroFillsTailBeyondFileData(t *testing.T) {
	m := New()
	m.MapRegion(0x1000, 0x2000, []byte{1, 2, 3})
	b, err := m.LoadU8(0x1000 + 0x1000)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)
}

func TestCloneIsIndependent(t *testing.T) {
	m := New()
	m.MapRegion(0x1000, 8, nil)
	require.NoError(t, m.StoreU64(0x1000, 42))
	clone := m.Clone()
	require.NoError(t, clone.StoreU64(0x1000, 99))

	orig, err := m.LoadU64(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), orig)

	cloned, err := clone.LoadU64(0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cloned)
}

func TestMmapBumpAllocatesDistinctRegions(t *testing.T) {
	m := New()
	a := m.Mmap(0, PageSize)
	b := m.Mmap(0, PageSize)
	assert.NotEqual(t, a, b)
}
