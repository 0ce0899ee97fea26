package regfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZeroAlwaysReadsZero(t *testing.T) {
	r := &File{}
	r.Set(Zero, 0xdead_beef)
	assert.Equal(t, uint64(0), r.Get(Zero))
}

func TestSetGetRoundTrip(t *testing.T) {
	r := &File{}
	r.Set(A0, 4_096_000)
	assert.Equal(t, uint64(4_096_000), r.Get(A0))
}

func TestZeroMethodReenforcesInvariant(t *testing.T) {
	r := &File{}
	r.X[Zero] = 123 // simulate a raw write bypassing Set's discipline
	r.Zero()
	assert.Equal(t, uint64(0), r.Get(Zero))
}

func TestFloatRegisters(t *testing.T) {
	r := &File{}
	r.SetF(FReg(1), 3.5)
	assert.Equal(t, 3.5, r.GetF(FReg(1)))
}
