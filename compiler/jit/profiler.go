package jit

import (
	"sync/atomic"
	"time"
)

// Profiler decides when a function has run often enough, or expensively
// enough, to be worth compiling. spec.md §6 calls this "a profiling hook"
// without fixing its shape; SPEC_FULL.md §3 supplements three concrete
// flavors grounded on Psyco's profile.c, which shipped exactly these three
// strategies as compile-time alternatives.
type Profiler interface {
	// RecordEntry is called every time the interpreter enters a function.
	RecordEntry(functionName string)
	// ShouldCompile reports whether functionName has crossed this
	// profiler's threshold for compilation.
	ShouldCompile(functionName string) bool
	// Reset clears all counts, used between benchmark runs and tests.
	Reset()
}

// CallCounter triggers compilation after a function has been entered
// Threshold times, the simplest and default strategy (and the one
// HotspotDetector already implements independently; CallCounter exists so
// a CompilerThread can select a profiling strategy explicitly rather than
// only through the package-level hotspot detector).
type CallCounter struct {
	Threshold int
	counts    map[string]int64
}

// NewCallCounter creates a CallCounter with the given threshold.
func NewCallCounter(threshold int) *CallCounter {
	return &CallCounter{Threshold: threshold, counts: make(map[string]int64)}
}

func (c *CallCounter) RecordEntry(name string) { c.counts[name]++ }

func (c *CallCounter) ShouldCompile(name string) bool {
	return c.counts[name] >= int64(c.Threshold)
}

func (c *CallCounter) Reset() { c.counts = make(map[string]int64) }

// TickSampler triggers compilation based on wall-clock time spent inside a
// function rather than call count, catching a function that's called only
// once but runs for a very long time (a case CallCounter's threshold would
// never reach). RecordEntry in this flavor is paired with RecordExit,
// called by the interpreter's frame-teardown path.
type TickSampler struct {
	ThresholdTime time.Duration
	entries       map[string]time.Time
	accumulated   map[string]time.Duration
}

// NewTickSampler creates a TickSampler triggering after threshold
// cumulative time in a function.
func NewTickSampler(threshold time.Duration) *TickSampler {
	return &TickSampler{
		ThresholdTime: threshold,
		entries:       make(map[string]time.Time),
		accumulated:   make(map[string]time.Duration),
	}
}

func (t *TickSampler) RecordEntry(name string) {
	t.entries[name] = timeNow()
}

// RecordExit closes out the timing interval RecordEntry opened.
func (t *TickSampler) RecordExit(name string) {
	start, ok := t.entries[name]
	if !ok {
		return
	}
	t.accumulated[name] += timeNow().Sub(start)
	delete(t.entries, name)
}

func (t *TickSampler) ShouldCompile(name string) bool {
	return t.accumulated[name] >= t.ThresholdTime
}

func (t *TickSampler) Reset() {
	t.entries = make(map[string]time.Time)
	t.accumulated = make(map[string]time.Duration)
}

// RunIfCompiled is the degenerate strategy: it never recommends
// compilation on its own, and exists so a caller can force
// interpretation-only mode without special-casing "no profiler" throughout the rest
// of the compiler. ShouldCompile only ever returns true for a function
// explicitly marked via MarkCompiled, matching Psyco's manual
// "force-compile this one" debugging hook. Marks are rare (a handful of
// functions in a debug session) and never contended the way hot-path call
// counting is, so a plain map plus an atomic count (for Stats) suffices.
type RunIfCompiled struct {
	marks     map[string]bool
	markCount int64
}

func (r *RunIfCompiled) RecordEntry(name string) {}

// MarkCompiled forces ShouldCompile to return true for name from now on.
func (r *RunIfCompiled) MarkCompiled(name string) {
	if r.marks == nil {
		r.marks = make(map[string]bool)
	}
	if !r.marks[name] {
		atomic.AddInt64(&r.markCount, 1)
	}
	r.marks[name] = true
}

func (r *RunIfCompiled) ShouldCompile(name string) bool {
	return r.marks[name]
}

func (r *RunIfCompiled) Reset() {
	r.marks = nil
	atomic.StoreInt64(&r.markCount, 0)
}

// MarkedCount reports how many functions have been force-marked.
func (r *RunIfCompiled) MarkedCount() int64 {
	return atomic.LoadInt64(&r.markCount)
}
