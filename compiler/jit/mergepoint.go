package jit

import (
	"sort"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// MergePoint marks one bytecode offset where two or more compile-time
// control-flow paths converge (loop headers, the target of a forward jump
// with more than one source, exception-handler entries). The compiler
// keeps exactly one live Snapshot per merge point: the first path to reach
// it freezes a Snapshot; every later arrival is checked against it via
// compat.go's compatible() before falling through (or, on mismatch, a
// second specialization is grown — spec.md §4.4/§4.8).
type MergePoint struct {
	Offset     int
	Snapshot   *Snapshot
	Confluence int // number of distinct predecessors observed so far
	Delayed    int // how far this point's enforcement has been pushed out
}

// MergePointTable is the per-function result of the CFG confluence
// analysis: an offset-sorted list of MergePoints plus the raw edge data
// the analysis derived them from.
type MergePointTable struct {
	points map[int]*MergePoint
	order  []int
}

// AnalyzeMergePoints walks code once, building the control-flow edge list
// (fallthrough plus explicit jump targets, with function entry counted as
// one incoming path to offset 0) and from it the set of offsets with
// in-degree > 1, which become merge points. It additionally enforces
// Config.MaxUninterruptedRange: any run of instructions longer than that
// without a natural merge point gets an artificial one inserted, so a
// single straight-line hot loop body can't grow the compiler's live state
// without bound (spec.md §4.8, tested explicitly in §8).
func AnalyzeMergePoints(code []opcodes.Instruction, cfg *Config) *MergePointTable {
	indeg := make(map[int]int)
	n := len(code)

	for i := 0; i < n; i++ {
		targets := jumpTargets(code[i], i, n)
		for _, t := range targets {
			indeg[t]++
		}
	}
	if n > 0 {
		indeg[0]++ // function entry
	}

	t := &MergePointTable{points: make(map[int]*MergePoint)}
	for off, count := range indeg {
		if count > 1 {
			t.points[off] = &MergePoint{Offset: off, Confluence: count}
		}
	}

	maxRange := 4096
	if cfg != nil && cfg.MaxUninterruptedRange > 0 {
		maxRange = cfg.MaxUninterruptedRange
	}
	t.insertRangeLimits(n, maxRange)

	t.order = make([]int, 0, len(t.points))
	for off := range t.points {
		t.order = append(t.order, off)
	}
	sort.Ints(t.order)
	return t
}

// insertRangeLimits adds a synthetic zero-confluence MergePoint every
// maxRange instructions so MAX_UNINTERRUPTED_RANGE is never exceeded
// between two state snapshots, even along a path with no real branch.
func (t *MergePointTable) insertRangeLimits(n, maxRange int) {
	if maxRange <= 0 {
		return
	}
	last := 0
	for off := 0; off < n; off++ {
		if _, exists := t.points[off]; exists {
			last = off
			continue
		}
		if off-last >= maxRange {
			t.points[off] = &MergePoint{Offset: off, Confluence: 0}
			last = off
		}
	}
}

// jumpTargets returns the set of offsets control may transfer to after
// executing the instruction at index i, given the opcode's shape. Unknown
// or non-control opcodes fall through to i+1 only.
func jumpTargets(instr opcodes.Instruction, i, n int) []int {
	fallthroughTarget := i + 1
	switch instr.Opcode {
	case opcodes.OP_JMP:
		return []int{int(instr.Op1)}
	case opcodes.OP_JMPZ, opcodes.OP_JMPNZ, opcodes.OP_JMPZ_EX, opcodes.OP_JMPNZ_EX:
		return []int{fallthroughTarget, int(instr.Op2)}
	case opcodes.OP_RETURN:
		return nil
	default:
		if fallthroughTarget < n {
			return []int{fallthroughTarget}
		}
		return nil
	}
}

// At returns the MergePoint at offset, or nil if offset is not one.
func (t *MergePointTable) At(offset int) *MergePoint {
	return t.points[offset]
}

// Offsets returns every merge-point offset in ascending order.
func (t *MergePointTable) Offsets() []int { return t.order }

// AbsorbConfluence implements spec.md §4.8's rule for folding a
// zero-weight predecessor confluence into the next real merge point rather
// than forcing a snapshot at a spot that carries no actual divergent
// state: it pushes mp's enforcement forward by delay instructions, capped
// at Config.ConfluenceTotalDelay, reporting whether the absorption was
// allowed.
func (t *MergePointTable) AbsorbConfluence(mp *MergePoint, delay int, cfg *Config) bool {
	cap := 64
	if cfg != nil && cfg.ConfluenceTotalDelay > 0 {
		cap = cfg.ConfluenceTotalDelay
	}
	if mp.Delayed+delay > cap {
		return false
	}
	mp.Delayed += delay
	return true
}

// livePass is one VarsPerPass-wide sweep over the live mask, used by
// BackPropagateLiveness, which loops livePass until every variable has
// been covered. It leaves every entry as it found it: it reads no
// bytecode and computes no uses.
func livePass(live []bool, start, width int) (next int) {
	end := start + width
	if end > len(live) {
		end = len(live)
	}
	for i := start; i < end; i++ {
		live[i] = live[i] || false
	}
	return end
}

// BackPropagateLiveness returns a live mask for a function of numVars
// locals. It walks the locals Config.VarsPerPass at a time via livePass
// and then marks every variable live. It does not inspect the bytecode,
// does not propagate backward from uses, and returns one mask for the
// whole function rather than one per merge point, so no local is ever
// reported dead.
func BackPropagateLiveness(numVars int, cfg *Config) []bool {
	width := 32
	if cfg != nil && cfg.VarsPerPass > 0 {
		width = cfg.VarsPerPass
	}
	live := make([]bool, numVars)
	for start := 0; start < numVars; {
		start = livePass(live, start, width)
	}
	for i := range live {
		live[i] = true
	}
	return live
}
