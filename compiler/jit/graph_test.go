package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrame(width int) (*vinfoArena, *FrameState) {
	arena := newVinfoArena()
	return arena, NewFrameState(arena, width)
}

func TestFrameStateGetSet(t *testing.T) {
	arena, f := newTestFrame(3)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	f.Set(1, v)
	assert.Same(t, v, f.Get(1))
	assert.Nil(t, f.Get(0))
	assert.Nil(t, f.Get(99))
	assert.EqualValues(t, 2, v.RefCount())
}

func TestFrameStateSetReplacesDecrefsOld(t *testing.T) {
	arena, f := newTestFrame(2)
	a := arena.New(NewRunTimeSource(0, RegNone, false, false))
	b := arena.New(NewRunTimeSource(8, RegNone, false, false))
	f.Set(0, a)
	f.Set(0, b)
	assert.Same(t, b, f.Get(0))
	assert.EqualValues(t, 1, a.RefCount())
}

func TestFrameStateMove(t *testing.T) {
	arena, f := newTestFrame(2)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	f.Set(0, v)
	f.Move(1, 0)
	assert.Same(t, v, f.Get(1))
	assert.Same(t, f.Get(0), f.Get(1))
}

func TestFrameStateCopyIsIndependentButSharesNodes(t *testing.T) {
	arena, f := newTestFrame(2)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	f.Set(0, v)

	cp := f.Copy()
	assert.Same(t, v, cp.Get(0))
	assert.EqualValues(t, 3, v.RefCount()) // f's own + copy's slot + arena's original alloc

	cp.Set(1, v)
	assert.Nil(t, f.Get(1), "mutating the copy must not mutate the original")
}

func TestFrameStateRelease(t *testing.T) {
	arena, f := newTestFrame(2)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	f.Set(0, v)
	f.Release()
	assert.Nil(t, f.Get(0))
	// The frame's reference is gone; the arena's original alloc remains.
	assert.EqualValues(t, 1, v.RefCount())
}

func TestFrameStateSub(t *testing.T) {
	arena, f := newTestFrame(3)
	v0 := arena.New(NewRunTimeSource(0, RegNone, false, false))
	v2 := arena.New(NewRunTimeSource(16, RegNone, false, false))
	f.Set(0, v0)
	f.Set(2, v2)

	sub := f.Sub([]int{2, 0})
	require.Equal(t, 2, sub.Width())
	assert.Same(t, v2, sub.Get(0))
	assert.Same(t, v0, sub.Get(1))
}

func TestFrameStateSimplifyDropsZeroRefcountNodes(t *testing.T) {
	arena, f := newTestFrame(2)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	f.Slots[0] = v // installed without incref, simulating a node whose only other owner already released
	v.Decref()

	n := f.Simplify()
	assert.Equal(t, 1, n)
	assert.Nil(t, f.Get(0))
}

func TestFrameStateWidth(t *testing.T) {
	_, f := newTestFrame(5)
	assert.Equal(t, 5, f.Width())
}

func TestDiffIdenticalSlots(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	a.Set(0, v)
	b.Set(0, v)

	diffs := diff(a, b)
	require.Len(t, diffs, 1)
	assert.Equal(t, MatchIdentical, diffs[0].Result)
}

func TestDiffRegisterStackMismatchIsCompatible(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewRunTimeSource(8, RegNone, false, false)))
	b.Set(0, arena.New(NewRunTimeSource(-1, RegRAX, false, false)))

	diffs := diff(a, b)
	require.Len(t, diffs, 1)
	assert.Equal(t, MatchCompatible, diffs[0].Result)
	assert.Equal(t, "reload", diffs[0].FixupKind)
}

func TestDiffDifferentConstantsRequireDemote(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(1))))
	b.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(2))))

	diffs := diff(a, b)
	assert.Equal(t, MatchCompatible, diffs[0].Result)
	assert.Equal(t, "demote", diffs[0].FixupKind)
}

func TestDiffSameConstantIsIdentical(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(5))))
	b.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(5))))

	diffs := diff(a, b)
	assert.Equal(t, MatchIdentical, diffs[0].Result)
}

func TestDiffCompileTimeVsRunTimeRequiresDemote(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(5))))
	b.Set(0, arena.New(NewRunTimeSource(0, RegNone, false, false)))

	diffs := diff(a, b)
	assert.Equal(t, MatchCompatible, diffs[0].Result)
	assert.Equal(t, "demote", diffs[0].FixupKind)
}

func TestDiffVirtualTimeIsIncompatible(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewVirtualTimeSource(nil)))
	b.Set(0, arena.New(NewRunTimeSource(0, RegNone, false, false)))

	diffs := diff(a, b)
	assert.Equal(t, MatchIncompatible, diffs[0].Result)
}

func TestDiffNilSlotIsIncompatible(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	b.Set(0, arena.New(NewRunTimeSource(0, RegNone, false, false)))

	diffs := diff(a, b)
	assert.Equal(t, MatchIncompatible, diffs[0].Result)
}

func TestDiffPanicsOnWidthMismatch(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 2)
	assert.Panics(t, func() { diff(a, b) })
}

func TestCompatibleAllIdenticalReturnsNoFixups(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	a.Set(0, v)
	b.Set(0, v)

	ok, fixups := compatible(a, b)
	assert.True(t, ok)
	assert.Empty(t, fixups)
}

func TestCompatibleCollectsFixups(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewRunTimeSource(8, RegNone, false, false)))
	b.Set(0, arena.New(NewRunTimeSource(-1, RegRAX, false, false)))

	ok, fixups := compatible(a, b)
	assert.True(t, ok)
	require.Len(t, fixups, 1)
	assert.Equal(t, "reload", fixups[0].FixupKind)
}

func TestCompatibleFalseOnIncompatibility(t *testing.T) {
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewVirtualTimeSource(nil)))
	b.Set(0, arena.New(NewRunTimeSource(0, RegNone, false, false)))

	ok, fixups := compatible(a, b)
	assert.False(t, ok)
	assert.Nil(t, fixups)
}
