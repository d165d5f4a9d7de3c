package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDiffSlotVirtualTimeSharedSpecIsIdentical covers spec.md §4.4: two
// slots deferring the exact same construction (structural sharing from a
// common ancestor) must compare as MatchIdentical, not incompatible, even
// though neither side has materialized a value yet.
func TestDiffSlotVirtualTimeSharedSpecIsIdentical(t *testing.T) {
	spec := &VirtualSpec{}
	arena := newVinfoArena()
	a := arena.New(NewVirtualTimeSource(spec))
	b := arena.New(NewVirtualTimeSource(spec))

	result := diffSlot(0, a, b)
	assert.Equal(t, MatchIdentical, result.Result)
}

// TestDiffSlotVirtualTimeDistinctSpecsAreIncompatible covers the other
// half: two independently deferred constructions, even if they would
// eventually materialize to the same value, cannot be unified cheaply and
// must grow a second specialization.
func TestDiffSlotVirtualTimeDistinctSpecsAreIncompatible(t *testing.T) {
	arena := newVinfoArena()
	a := arena.New(NewVirtualTimeSource(&VirtualSpec{}))
	b := arena.New(NewVirtualTimeSource(&VirtualSpec{}))

	result := diffSlot(0, a, b)
	assert.Equal(t, MatchIncompatible, result.Result)
}

// TestDiffSlotVirtualTimeAgainstOtherKindIsIncompatible checks the mixed
// case: a VirtualTime slot meeting a RunTime or CompileTime peer from
// another path can't be cheaply reconciled either.
func TestDiffSlotVirtualTimeAgainstOtherKindIsIncompatible(t *testing.T) {
	arena := newVinfoArena()
	a := arena.New(NewVirtualTimeSource(&VirtualSpec{}))
	b := arena.New(NewRunTimeSource(RegNone, RegRAX, false, false))

	result := diffSlot(0, a, b)
	assert.Equal(t, MatchIncompatible, result.Result)
}

func TestCompatibleAcceptsSharedVirtualSpecAcrossWholeFrame(t *testing.T) {
	spec := &VirtualSpec{}
	arena := newVinfoArena()
	a := NewFrameState(arena, 1)
	b := NewFrameState(arena, 1)
	a.Set(0, arena.New(NewVirtualTimeSource(spec)))
	b.Set(0, arena.New(NewVirtualTimeSource(spec)))

	ok, fixups := compatible(a, b)
	assert.True(t, ok)
	assert.Empty(t, fixups)
}
