package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompilerThreadAssignsUniqueIDs(t *testing.T) {
	a := NewCompilerThread(DefaultConfig(), nil)
	b := NewCompilerThread(DefaultConfig(), nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCompilerThreadDepth(t *testing.T) {
	root := NewCompilerThread(DefaultConfig(), nil)
	assert.Equal(t, 0, root.Depth())

	child := NewCompilerThread(DefaultConfig(), root)
	assert.Equal(t, 1, child.Depth())

	grandchild := NewCompilerThread(DefaultConfig(), child)
	assert.Equal(t, 2, grandchild.Depth())
}

func TestThreadPoolReusesIdleThreads(t *testing.T) {
	pool := newThreadPool(DefaultConfig())
	t1 := pool.Get(nil)
	pool.Put(t1)
	t2 := pool.Get(nil)
	assert.Same(t, t1, t2)
}

func TestThreadPoolGetWithEmptyPoolCreatesFresh(t *testing.T) {
	pool := newThreadPool(DefaultConfig())
	th := pool.Get(nil)
	require.NotNil(t, th)
	assert.Nil(t, th.FrameLink)
}

func TestThreadPoolPutClearsFrameLink(t *testing.T) {
	pool := newThreadPool(DefaultConfig())
	parent := NewCompilerThread(DefaultConfig(), nil)
	child := pool.Get(parent)
	require.Same(t, parent, child.FrameLink)

	pool.Put(child)
	assert.Nil(t, child.FrameLink)
}

// TestThreadPoolGetResetsPromotions guards against a reused thread leaking
// one function's promotion history into an unrelated function that
// happens to reuse the same bytecode offsets: PromotionSites are keyed
// only by offset, so a stale PromotionTable would let a different
// function's compile see "cached" values it never actually observed.
func TestThreadPoolGetResetsPromotions(t *testing.T) {
	pool := newThreadPool(DefaultConfig())
	t1 := pool.Get(nil)
	site := t1.Promotions.SiteAt(0)
	require.NoError(t, site.Observe(99, NewFixedKnown(99)))

	pool.Put(t1)
	t2 := pool.Get(nil)
	require.Same(t, t1, t2, "the pool should hand back the same idle thread")

	_, ok := t2.Promotions.SiteAt(0).Lookup(99)
	assert.False(t, ok, "a reused thread must start with a cold PromotionTable")
}
