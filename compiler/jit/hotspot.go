package jit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HotspotDetector tracks how often each named function is called and
// reports which ones have crossed the compilation threshold. Adapted from
// the teacher's map-backed version: call counts are now kept in an
// LRU-bounded cache (SPEC_FULL.md §2) instead of an unbounded
// map[string]*FunctionCallInfo, so a long-running process that generates
// many short-lived function names (closures, eval'd code) doesn't grow
// this table without bound. The teacher's own time-based cleanupRoutine is
// kept alongside the LRU bound as a second line of defense — the LRU
// bound caps memory; the cleanup sweep still evicts by idleness so a
// recently-hot-but-now-cold function doesn't occupy a slot a genuinely hot
// one needs.
type HotspotDetector struct {
	threshold int

	mu    sync.RWMutex
	cache *lru.Cache[string, *FunctionCallInfo]

	cleanupTicker *time.Ticker
	stopCleanup   chan bool
}

// FunctionCallInfo records one function's call history.
type FunctionCallInfo struct {
	CallCount     int64
	FirstCallTime time.Time
	LastCallTime  time.Time
	CallFrequency float64
	IsHotspot     bool
	HotspotTime   time.Time
}

// hotspotCacheSize bounds the LRU table; sized generously relative to the
// default MaxCompiledFunctions since many more functions get *profiled*
// than ever get *compiled*.
const hotspotCacheSize = 8192

// NewHotspotDetector creates a detector with the given compilation
// threshold and starts its background cleanup sweep.
func NewHotspotDetector(threshold int) *HotspotDetector {
	cache, _ := lru.New[string, *FunctionCallInfo](hotspotCacheSize)
	hd := &HotspotDetector{
		threshold:     threshold,
		cache:         cache,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan bool),
	}
	go hd.cleanupRoutine()
	return hd
}

// RecordCall records one invocation of functionName.
func (hd *HotspotDetector) RecordCall(functionName string) {
	hd.mu.Lock()
	defer hd.mu.Unlock()

	now := time.Now()
	info, ok := hd.cache.Get(functionName)
	if !ok {
		info = &FunctionCallInfo{CallCount: 1, FirstCallTime: now, LastCallTime: now}
		hd.cache.Add(functionName, info)
	} else {
		info.CallCount++
		if d := now.Sub(info.FirstCallTime); d > 0 {
			info.CallFrequency = float64(info.CallCount) / d.Seconds()
		}
		info.LastCallTime = now
	}

	if !info.IsHotspot && info.CallCount >= int64(hd.threshold) {
		info.IsHotspot = true
		info.HotspotTime = now
	}
}

// IsHotspot reports whether functionName has crossed the threshold.
func (hd *HotspotDetector) IsHotspot(functionName string) bool {
	hd.mu.RLock()
	defer hd.mu.RUnlock()
	if info, ok := hd.cache.Peek(functionName); ok {
		return info.IsHotspot
	}
	return false
}

// GetHotspots returns every function currently flagged hot.
func (hd *HotspotDetector) GetHotspots() []string {
	hd.mu.RLock()
	defer hd.mu.RUnlock()
	var out []string
	for _, name := range hd.cache.Keys() {
		if info, ok := hd.cache.Peek(name); ok && info.IsHotspot {
			out = append(out, name)
		}
	}
	return out
}

// GetFunctionInfo returns a copy of the call-history record for
// functionName.
func (hd *HotspotDetector) GetFunctionInfo(functionName string) (*FunctionCallInfo, bool) {
	hd.mu.RLock()
	defer hd.mu.RUnlock()
	if info, ok := hd.cache.Peek(functionName); ok {
		cp := *info
		return &cp, true
	}
	return nil, false
}

// GetAllFunctionInfo returns a copy of every tracked function's record.
func (hd *HotspotDetector) GetAllFunctionInfo() map[string]FunctionCallInfo {
	hd.mu.RLock()
	defer hd.mu.RUnlock()
	out := make(map[string]FunctionCallInfo)
	for _, name := range hd.cache.Keys() {
		if info, ok := hd.cache.Peek(name); ok {
			out[name] = *info
		}
	}
	return out
}

// HotspotRank is one entry of GetTopHotspots' result.
type HotspotRank struct {
	FunctionName  string
	CallCount     int64
	CallFrequency float64
	IsHotspot     bool
}

// GetTopHotspots returns the n functions with the highest call count
// (ties broken by call frequency).
func (hd *HotspotDetector) GetTopHotspots(n int) []HotspotRank {
	hd.mu.RLock()
	defer hd.mu.RUnlock()

	var ranks []HotspotRank
	for _, name := range hd.cache.Keys() {
		info, ok := hd.cache.Peek(name)
		if !ok {
			continue
		}
		ranks = append(ranks, HotspotRank{
			FunctionName:  name,
			CallCount:     info.CallCount,
			CallFrequency: info.CallFrequency,
			IsHotspot:     info.IsHotspot,
		})
	}

	for i := 0; i < len(ranks)-1; i++ {
		for j := i + 1; j < len(ranks); j++ {
			if ranks[j].CallCount > ranks[i].CallCount ||
				(ranks[j].CallCount == ranks[i].CallCount && ranks[j].CallFrequency > ranks[i].CallFrequency) {
				ranks[i], ranks[j] = ranks[j], ranks[i]
			}
		}
	}

	if len(ranks) > n {
		ranks = ranks[:n]
	}
	return ranks
}

// SetThreshold changes the compilation threshold and re-evaluates every
// tracked function against it.
func (hd *HotspotDetector) SetThreshold(threshold int) {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	hd.threshold = threshold
	now := time.Now()
	for _, name := range hd.cache.Keys() {
		if info, ok := hd.cache.Peek(name); ok && !info.IsHotspot && info.CallCount >= int64(threshold) {
			info.IsHotspot = true
			info.HotspotTime = now
		}
	}
}

// Reset clears every tracked function.
func (hd *HotspotDetector) Reset() {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	hd.cache.Purge()
}

func (hd *HotspotDetector) cleanupRoutine() {
	for {
		select {
		case <-hd.cleanupTicker.C:
			hd.cleanup()
		case <-hd.stopCleanup:
			return
		}
	}
}

// cleanup evicts non-hot entries idle longer than staleAfter, supplementing
// the LRU bound with time-based eviction of cold functions.
func (hd *HotspotDetector) cleanup() {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	now := time.Now()
	for _, name := range hd.cache.Keys() {
		info, ok := hd.cache.Peek(name)
		if ok && !info.IsHotspot && now.Sub(info.LastCallTime) > staleAfter {
			hd.cache.Remove(name)
		}
	}
}

// Stop halts the background cleanup goroutine.
func (hd *HotspotDetector) Stop() {
	if hd.cleanupTicker != nil {
		hd.cleanupTicker.Stop()
		close(hd.stopCleanup)
	}
}

// HotspotStats summarizes the detector's current state.
type HotspotStats struct {
	TotalFunctions      int
	HotspotFunctions    int
	Threshold           int
	TotalCalls          int64
	AverageCallsPerFunc float64
}

// GetStats computes a HotspotStats snapshot.
func (hd *HotspotDetector) GetStats() HotspotStats {
	hd.mu.RLock()
	defer hd.mu.RUnlock()

	stats := HotspotStats{TotalFunctions: hd.cache.Len(), Threshold: hd.threshold}
	var totalCalls int64
	for _, name := range hd.cache.Keys() {
		info, ok := hd.cache.Peek(name)
		if !ok {
			continue
		}
		if info.IsHotspot {
			stats.HotspotFunctions++
		}
		totalCalls += info.CallCount
	}
	stats.TotalCalls = totalCalls
	if stats.TotalFunctions > 0 {
		stats.AverageCallsPerFunc = float64(totalCalls) / float64(stats.TotalFunctions)
	}
	return stats
}
