package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallSlabConfig() *Config {
	cfg := DefaultConfig()
	cfg.SlabSize = 4096
	cfg.BufferMargin = 64
	return cfg
}

func TestNewCodeBufferStartsWithOneSlab(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()
	assert.Equal(t, 1, cb.SlabCount())
	assert.Equal(t, 0, cb.CurrentSlabIndex())
}

func TestCodeBufferReserveAndPublish(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()

	code := []byte{0x90, 0x90, 0xc3}
	chunk, view, err := cb.Reserve(len(code))
	require.NoError(t, err)
	require.Len(t, view, len(code))

	require.NoError(t, cb.Publish(cb.CurrentSlabIndex(), chunk, code))
	entry := cb.EntryPoint(cb.CurrentSlabIndex(), chunk)
	assert.NotZero(t, entry)
}

func TestCodeBufferReserveGrowsSlabWhenMarginExceeded(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()

	// Reserve nearly the whole slab so the next reservation must grow.
	_, _, err = cb.Reserve(4096 - 64 - 8)
	require.NoError(t, err)
	before := cb.SlabCount()

	_, _, err = cb.Reserve(256)
	require.NoError(t, err)
	assert.Greater(t, cb.SlabCount(), before)
}

func TestCodeBufferReserveOversizedChunkGetsDedicatedSlab(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()

	chunk, view, err := cb.Reserve(8192)
	require.NoError(t, err)
	assert.Len(t, view, 8192)
	assert.Equal(t, 8192, chunk.Length)
	assert.Equal(t, 2, cb.SlabCount())
}

func TestCodeBufferBackpatch(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()

	code := []byte{0x90, 0x90, 0x90, 0xc3}
	chunk, _, err := cb.Reserve(len(code))
	require.NoError(t, err)
	require.NoError(t, cb.Publish(cb.CurrentSlabIndex(), chunk, code))

	require.NoError(t, cb.Backpatch(cb.CurrentSlabIndex(), chunk.Offset, []byte{0xcc}))
}

func TestCodeBufferPublishToUnknownSlabErrors(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()

	chunk, _, err := cb.Reserve(4)
	require.NoError(t, err)
	assert.Error(t, cb.Publish(99, chunk, []byte{0, 0, 0, 0}))
}

func TestCodeBufferEntryPointUnknownSlabIsZero(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	defer cb.Free()
	assert.Zero(t, cb.EntryPoint(99, codeChunk{}))
}

func TestCodeBufferFreeUnmapsAllSlabs(t *testing.T) {
	cb, err := NewCodeBuffer(smallSlabConfig())
	require.NoError(t, err)
	require.NoError(t, cb.Free())
	assert.Nil(t, cb.slabs)
}
