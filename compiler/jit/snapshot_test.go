package jit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreezeUnfreezeRoundTripsFixedKnown(t *testing.T) {
	arena := newVinfoArena()
	f := NewFrameState(arena, 2)
	f.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(42))))
	f.Set(1, arena.New(NewRunTimeSource(8, RegNone, false, true)))

	cfg := DefaultConfig()
	cfg.CompressCompileTimeSubitems = false
	snap := Freeze(f, nil, cfg)
	require.NotZero(t, snap.Size())

	out, err := snap.Unfreeze(newVinfoArena(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, out.Width())

	v0 := out.Get(0)
	require.NotNil(t, v0)
	assert.True(t, v0.Source.IsCompileTime())
	assert.EqualValues(t, 42, v0.Source.CT.Known.FixedValue())

	v1 := out.Get(1)
	require.NotNil(t, v1)
	assert.True(t, v1.Source.IsRunTime())
	assert.Equal(t, 8, v1.Source.RT.StackOffset)
	assert.True(t, v1.Source.RT.NonNeg)
}

func TestFreezeUnfreezeRoundTripsNilSlot(t *testing.T) {
	arena := newVinfoArena()
	f := NewFrameState(arena, 1)

	snap := Freeze(f, nil, DefaultConfig())
	out, err := snap.Unfreeze(newVinfoArena(), nil)
	require.NoError(t, err)
	assert.Nil(t, out.Get(0))
}

func TestFreezeSkipsUnchangedSlotsAgainstBase(t *testing.T) {
	arena := newVinfoArena()
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	base := NewFrameState(arena, 2)
	base.Set(0, v)
	base.Set(1, arena.New(NewRunTimeSource(8, RegNone, false, false)))
	baseSnap := Freeze(base, nil, DefaultConfig())

	next := NewFrameState(arena, 2)
	next.Set(0, v) // unchanged
	next.Set(1, arena.New(NewRunTimeSource(16, RegNone, false, false)))
	skipSnap := Freeze(next, baseSnap, DefaultConfig())

	fullSnap := Freeze(next, nil, DefaultConfig())
	assert.Less(t, skipSnap.Size(), fullSnap.Size())
}

func TestFreezeElidesCompileTimeSubitemsWhenConfigured(t *testing.T) {
	arena := newVinfoArena()
	f := NewFrameState(arena, 1)
	f.Set(0, arena.New(NewCompileTimeSource(NewFixedKnown(7))))

	cfg := DefaultConfig()
	cfg.CompressCompileTimeSubitems = true
	snap := Freeze(f, nil, cfg)

	out, err := snap.Unfreeze(newVinfoArena(), nil)
	require.NoError(t, err)
	v := out.Get(0)
	require.NotNil(t, v)
	assert.True(t, v.Source.IsCompileTime())
	assert.Nil(t, v.Source.CT.Known)
}

func TestUnfreezeRejectsOpSkipWithoutBase(t *testing.T) {
	arena := newVinfoArena()
	base := NewFrameState(arena, 1)
	base.Set(0, arena.New(NewRunTimeSource(0, RegNone, false, false)))
	next := NewFrameState(arena, 1)
	next.Set(0, base.Get(0))
	baseSnap := Freeze(base, nil, DefaultConfig())
	skipSnap := Freeze(next, baseSnap, DefaultConfig())

	_, err := skipSnap.Unfreeze(newVinfoArena(), nil)
	assert.Error(t, err)
}

func TestSnapshotIDDeterministicOverride(t *testing.T) {
	fixed := uuid.New()
	old := newSnapshotID
	newSnapshotID = func() uuid.UUID { return fixed }
	defer func() { newSnapshotID = old }()

	arena := newVinfoArena()
	snap := Freeze(NewFrameState(arena, 0), nil, DefaultConfig())
	assert.Equal(t, fixed, snap.ID)
}
