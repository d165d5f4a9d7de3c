package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromotionSiteObserveCachesDistinctValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MegamorphicMax = 3
	site := NewPromotionSite(10, cfg)

	require.NoError(t, site.Observe(1, NewFixedKnown(1)))
	require.NoError(t, site.Observe(2, NewFixedKnown(2)))

	k, ok := site.Lookup(1)
	require.True(t, ok)
	assert.EqualValues(t, 1, k.FixedValue())
}

func TestPromotionSiteObserveHitsDontCountAsNew(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MegamorphicMax = 2
	site := NewPromotionSite(0, cfg)

	require.NoError(t, site.Observe(1, NewFixedKnown(1)))
	require.NoError(t, site.Observe(1, NewFixedKnown(1)))
	assert.Equal(t, 1.0, site.HitRatio())
}

func TestPromotionSiteBecomesMegamorphic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MegamorphicMax = 2
	site := NewPromotionSite(0, cfg)

	require.NoError(t, site.Observe(1, NewFixedKnown(1)))
	require.NoError(t, site.Observe(2, NewFixedKnown(2)))
	err := site.Observe(3, NewFixedKnown(3))
	assert.ErrorIs(t, err, ErrMegamorphic)
}

func TestPromotionSiteHitRatioEmpty(t *testing.T) {
	site := NewPromotionSite(0, DefaultConfig())
	assert.Equal(t, 0.0, site.HitRatio())
}

func TestPromotionTableSiteAtIsStable(t *testing.T) {
	table := NewPromotionTable(DefaultConfig())
	a := table.SiteAt(5)
	b := table.SiteAt(5)
	assert.Same(t, a, b)
	c := table.SiteAt(6)
	assert.NotSame(t, a, c)
}

func TestUnpromoteReturnsFreshRunTimeVinfo(t *testing.T) {
	arena := newVinfoArena()
	original := arena.New(NewCompileTimeSource(NewFixedKnown(9)))
	fresh := Unpromote(arena, original, RegRAX)
	assert.True(t, fresh.Source.IsRunTime())
	assert.NotSame(t, original, fresh)
	assert.Equal(t, RegRAX, fresh.Source.RT.Register)
}
