package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInactiveProfilerNeverCounts(t *testing.T) {
	p := New()
	assert.False(t, p.Active())
	assert.False(t, p.OnFetch(0x1000, 0))
}

func TestWindowLatchesEndOnFirstVisitToStart(t *testing.T) {
	p := New()
	p.SetWindow(0x1000, 0) // end unknown until latched from ra
	assert.True(t, p.OnFetch(0x1000, 0x2000))
	assert.True(t, p.OnFetch(0x1500, 0))  // inside [start, end)
	assert.False(t, p.OnFetch(0x2000, 0)) // end is exclusive
}

func TestIgnoreDynLinkerExcludesHighPCs(t *testing.T) {
	p := New()
	p.SetWindow(0, ^uint64(0))
	p.seenStart = true
	dynPC := uint64(2) << 56
	assert.False(t, p.counted(dynPC))
	assert.True(t, p.counted(0x1000))
}

func TestLoadLatencyHitVsMiss(t *testing.T) {
	p := New()
	first := p.LoadLatency(0x1000)
	assert.Equal(t, LoadMissLatency, first)

	near := p.LoadLatency(0x1000 + 0x10)
	assert.Equal(t, LoadHitLatency, near)
	assert.Equal(t, uint64(1), p.CacheHits)

	far := p.LoadLatency(0x1000 + 0x10 + CacheMissWindow + 1)
	assert.Equal(t, LoadMissLatency, far)
	assert.Equal(t, uint64(2), p.CacheMisses)
}

func TestDivLatencyFloorsAtTwoCycles(t *testing.T) {
	assert.Equal(t, uint64(2), DivLatency(10, 10))
	assert.Equal(t, uint64(2), DivLatency(1, 100))
}

func TestDivLatencyGrowsWithDividendMagnitude(t *testing.T) {
	small := DivLatency(4, 4)
	big := DivLatency(1<<20, 4)
	assert.Greater(t, big, small)
}

// A uint64 with the high bit set would come out negative (and wrap under
// abs) if narrowed to int64 and run through DivLatency; DivLatencyUnsigned
// must use the raw magnitude instead.
func TestDivLatencyUnsignedHandlesHighBitSet(t *testing.T) {
	big := uint64(1) << 63
	got := DivLatencyUnsigned(big, 4)
	assert.Equal(t, uint64(2+ilog2(big)-ilog2(4)), got)
	assert.Greater(t, got, DivLatencyUnsigned(4, 4))
}

func TestBranchDefaultPredictionIsNotTaken(t *testing.T) {
	p := New()
	p.Branch(0x1000, false)
	assert.Equal(t, uint64(1), p.BranchPredicted)
	assert.Equal(t, uint64(0), p.BranchMispredict)

	p.Branch(0x1000, true) // now mispredicts against the recorded outcome
	assert.Equal(t, uint64(1), p.BranchMispredict)
	assert.Equal(t, MispredictExtra, p.Cycles)
}

func TestTickAccountsPipelineStall(t *testing.T) {
	p := New()
	var src1 uint64 = 50
	var dst uint64
	p.Tick(&src1, nil, &dst, 3)
	assert.Equal(t, uint64(50), p.Cycles) // stalled until src1's ready cycle
	assert.Equal(t, uint64(53), dst)
}
