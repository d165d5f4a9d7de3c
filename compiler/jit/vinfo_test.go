package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVinfoArenaNewAssignsSequentialIDs(t *testing.T) {
	arena := newVinfoArena()
	a := arena.New(NewRunTimeSource(0, RegNone, false, false))
	b := arena.New(NewRunTimeSource(8, RegNone, false, false))
	assert.EqualValues(t, 0, a.ID())
	assert.EqualValues(t, 1, b.ID())
	assert.EqualValues(t, 1, a.RefCount())
	assert.Equal(t, 2, arena.Len())
}

func TestVinfoArenaGet(t *testing.T) {
	arena := newVinfoArena()
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	got := arena.Get(v.ID())
	require.NotNil(t, got)
	assert.Same(t, v, got)
	assert.Nil(t, arena.Get(VinfoID(99)))
}

func TestVinfoIncrefDecref(t *testing.T) {
	arena := newVinfoArena()
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	v.Incref()
	assert.EqualValues(t, 2, v.RefCount())

	assert.False(t, v.Decref())
	assert.EqualValues(t, 1, v.RefCount())
	assert.True(t, v.Decref())
	assert.EqualValues(t, 0, v.RefCount())
}

func TestVinfoDecrefNeverGoesNegative(t *testing.T) {
	arena := newVinfoArena()
	v := arena.New(NewRunTimeSource(0, RegNone, false, false))
	v.Decref()
	assert.True(t, v.Decref())
	assert.EqualValues(t, 0, v.RefCount())
}

func TestVinfoDecrefReleasesCompileTimeKnown(t *testing.T) {
	arena := newVinfoArena()
	k := NewFixedKnown(3)
	v := arena.New(NewCompileTimeSource(k))
	assert.True(t, v.Decref())
}
