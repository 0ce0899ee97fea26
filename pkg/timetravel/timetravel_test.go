package timetravel

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv64emu/rv64emu/pkg/cpu"
	"github.com/rv64emu/rv64emu/pkg/disasm"
	"github.com/rv64emu/rv64emu/pkg/emulator"
	"github.com/rv64emu/rv64emu/pkg/memory"
	"github.com/rv64emu/rv64emu/pkg/profiler"
	"github.com/rv64emu/rv64emu/pkg/sysemu"
)

// loopingEmulator builds an emulator whose guest program is a single
// infinite self-jump (jal x0, 0), so it can be stepped an arbitrary number
// of instructions without ever halting or faulting.
func loopingEmulator(t *testing.T) *emulator.Emulator {
	t.Helper()
	mem := memory.New()
	mem.MapRegion(0x1000, 4, nil)
	require.NoError(t, mem.StoreU32(0x1000, 0b1101111)) // jal x0, +0
	c := cpu.New(mem, 0x1000)
	sys := sysemu.New()
	c.Sys = sys
	c.Prof = profiler.New()
	return &emulator.Emulator{
		CPU:     c,
		Mem:     mem,
		Sys:     sys,
		Prof:    c.Prof,
		Symbols: disasm.NewSymbolTable(nil),
	}
}

func TestNewSeedsHistoryWithStartingCheckpoint(t *testing.T) {
	e := loopingEmulator(t)
	tt := New(e, nil)
	assert.Len(t, tt.history, 1)
	assert.NotSame(t, e, tt.Current)
}

func TestForwardStepTakesCheckpointAtInterval(t *testing.T) {
	e := loopingEmulator(t)
	tt := New(e, logrus.NewEntry(logrus.New()))

	code, exited := tt.Step(int32(stateInterval))
	assert.False(t, exited)
	assert.Equal(t, 0, code)
	assert.Equal(t, uint64(stateInterval), tt.Current.CPU.InstCount)
	assert.Len(t, tt.history, 2) // checkpoint 0 (seed) and checkpoint 1
}

func TestRewindReplaysFromNearestCheckpoint(t *testing.T) {
	e := loopingEmulator(t)
	tt := New(e, nil)
	tt.Step(int32(stateInterval + 5))
	require.Equal(t, uint64(stateInterval+5), tt.Current.CPU.InstCount)

	tt.Step(-5)
	assert.Equal(t, uint64(stateInterval), tt.Current.CPU.InstCount)
}

func TestRewindPastStartLeavesStateUnchanged(t *testing.T) {
	e := loopingEmulator(t)
	tt := New(e, nil)
	tt.Step(3)
	code, exited := tt.Step(-100)
	assert.False(t, exited)
	assert.Equal(t, 0, code)
	// amount would drive instCount negative: stepBackward leaves Current
	// untouched in that case.
	assert.Equal(t, uint64(3), tt.Current.CPU.InstCount)
}

func TestHistoryEvictsOldestBeyondLimit(t *testing.T) {
	e := loopingEmulator(t)
	tt := New(e, nil)
	tt.Step(int32(stateInterval * (stateLimit + 2)))
	assert.LessOrEqual(t, len(tt.history), stateLimit)
	_, hasOldest := tt.history[0]
	assert.False(t, hasOldest)
}
