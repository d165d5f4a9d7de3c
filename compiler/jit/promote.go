package jit

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PromotionSite is one location in a function where the compiler has
// decided to speculate: rather than compiling generic code that handles
// every value a RunTime slot might hold, it emits a guard plus a fast path
// specialized to the single value most recently observed there, falling
// back to un-promoted general code (or the next promotion) on mismatch
// (spec.md §4.6).
//
// local_cache is an MRU cache of the few most recent distinct values seen
// at this site (Psyco's promotion stub keeps one; this module, grounded on
// SPEC_FULL.md §2's hashicorp/golang-lru wiring, keeps up to
// Config.MegamorphicMax entries before declaring the site megamorphic).
type PromotionSite struct {
	Offset int
	cache  *lru.Cache[int64, *Known]
	max    int
	hits   int
	misses int
}

// NewPromotionSite creates a promotion site bounded by cfg.MegamorphicMax
// distinct values.
func NewPromotionSite(offset int, cfg *Config) *PromotionSite {
	max := 5
	if cfg != nil && cfg.MegamorphicMax > 0 {
		max = cfg.MegamorphicMax
	}
	cache, _ := lru.New[int64, *Known](max)
	return &PromotionSite{Offset: offset, cache: cache, max: max}
}

// Observe records that value was seen at this site during compilation of
// a concrete specialization (a respawn replay, or the initial compile
// triggered by a specific call). It returns ErrMegamorphic once more than
// max distinct values have been observed, at which point the caller
// should stop promoting this site and compile fully generic code instead.
func (p *PromotionSite) Observe(tag int64, k *Known) error {
	if _, ok := p.cache.Get(tag); ok {
		p.hits++
		return nil
	}
	p.misses++
	if p.cache.Len() >= p.max {
		return fmt.Errorf("%w: site at offset %d has seen %d distinct values",
			ErrMegamorphic, p.Offset, p.cache.Len()+1)
	}
	p.cache.Add(tag, k)
	return nil
}

// Lookup returns the cached Known for tag, if this site has promoted it
// before.
func (p *PromotionSite) Lookup(tag int64) (*Known, bool) {
	return p.cache.Get(tag)
}

// IsMegamorphic reports whether this site has already hit the cap.
func (p *PromotionSite) IsMegamorphic() bool {
	return p.cache.Len() >= p.max && p.misses > p.max
}

// HitRatio reports the fraction of Observe calls that matched an
// already-cached value.
func (p *PromotionSite) HitRatio() float64 {
	total := p.hits + p.misses
	if total == 0 {
		return 0
	}
	return float64(p.hits) / float64(total)
}

// PromotionTable owns every PromotionSite within one compiled function,
// keyed by bytecode offset.
type PromotionTable struct {
	sites map[int]*PromotionSite
	cfg   *Config
}

// NewPromotionTable creates an empty table.
func NewPromotionTable(cfg *Config) *PromotionTable {
	return &PromotionTable{sites: make(map[int]*PromotionSite), cfg: cfg}
}

// SiteAt returns (creating if needed) the PromotionSite for offset.
func (t *PromotionTable) SiteAt(offset int) *PromotionSite {
	if s, ok := t.sites[offset]; ok {
		return s
	}
	s := NewPromotionSite(offset, t.cfg)
	t.sites[offset] = s
	return s
}

// Unpromote reverses a speculative promotion: given a Vinfo currently
// holding a CompileTime Known that turned out to be site-specific, it
// returns a fresh RunTime-sourced Vinfo so the rest of the compile can
// proceed generically. This is the literal "un-promotion" spec.md's
// component title names: a promotion is not permanent, and any point
// downstream that assumed a specific compile-time value must be prepared
// to see it become run-time again.
func Unpromote(arena *vinfoArena, v *Vinfo, reg int) *Vinfo {
	return arena.New(NewRunTimeSource(RegNone, reg, false, false))
}
