package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllocatorNeverHandsOutReservedRAX(t *testing.T) {
	ra := NewRegisterAllocator()
	arena := newVinfoArena()
	for i := 0; i < numRegisters; i++ {
		v := arena.New(NewRunTimeSource(0, RegNone, false, false))
		reg, _ := ra.Allocate(v)
		assert.NotEqual(t, RegRAX, reg)
	}
}

func TestRegisterAllocatorAllocateAndFree(t *testing.T) {
	ra := NewRegisterAllocator()
	arena := newVinfoArena()
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))

	reg, evicted := ra.Allocate(v)
	assert.Nil(t, evicted)
	assert.Same(t, v, ra.Owner(reg))

	ra.Free(reg)
	assert.Nil(t, ra.Owner(reg))
}

func TestRegisterAllocatorEvictsLRUWhenFull(t *testing.T) {
	ra := NewRegisterAllocator()
	arena := newVinfoArena()

	var allocated []*Vinfo
	var regs []int
	for i := 0; i < numRegisters-1; i++ { // every non-reserved register
		v := arena.New(NewRunTimeSource(0, RegNone, false, false))
		reg, evicted := ra.Allocate(v)
		require.Nil(t, evicted)
		allocated = append(allocated, v)
		regs = append(regs, reg)
	}

	overflow := arena.New(NewRunTimeSource(0, RegNone, false, false))
	reg, evicted := ra.Allocate(overflow)
	require.NotNil(t, evicted)
	assert.Same(t, allocated[0], evicted, "the least-recently-touched register should be evicted first")
	assert.Same(t, overflow, ra.Owner(reg))
}

func TestRegisterAllocatorTouchReordersLRU(t *testing.T) {
	ra := NewRegisterAllocator()
	arena := newVinfoArena()

	var allocated []*Vinfo
	for i := 0; i < numRegisters-1; i++ {
		v := arena.New(NewRunTimeSource(0, RegNone, false, false))
		reg, _ := ra.Allocate(v)
		allocated = append(allocated, v)
		_ = reg
	}

	// Re-allocating the first-bound Vinfo's register touches it, so when
	// the pool overflows again, it should no longer be the eviction
	// candidate.
	firstOwnerReg := -1
	for r := 0; r < numRegisters; r++ {
		if ra.Owner(r) == allocated[0] {
			firstOwnerReg = r
		}
	}
	require.NotEqual(t, -1, firstOwnerReg)
	ra.Free(firstOwnerReg)
	reg, _ := ra.Allocate(allocated[0])
	assert.Equal(t, firstOwnerReg, reg)

	overflow := arena.New(NewRunTimeSource(0, RegNone, false, false))
	_, evicted := ra.Allocate(overflow)
	assert.NotSame(t, allocated[0], evicted)
}

func TestRegisterAllocatorFreeOutOfRangeIsNoop(t *testing.T) {
	ra := NewRegisterAllocator()
	assert.NotPanics(t, func() {
		ra.Free(-1)
		ra.Free(numRegisters + 5)
	})
}

func TestRegisterAllocatorOwnerOutOfRangeIsNil(t *testing.T) {
	ra := NewRegisterAllocator()
	assert.Nil(t, ra.Owner(-1))
	assert.Nil(t, ra.Owner(numRegisters+5))
}

func TestRegisterAllocatorReset(t *testing.T) {
	ra := NewRegisterAllocator()
	arena := newVinfoArena()
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	reg, _ := ra.Allocate(v)
	ra.Reset()
	assert.Nil(t, ra.Owner(reg))
}
