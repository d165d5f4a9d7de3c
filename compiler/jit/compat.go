package jit

// Match classifies how two slots of the same index compare across two
// FrameStates being tested for compatibility at a merge point.
type Match uint8

const (
	// MatchIdentical means both slots reference the exact same *Vinfo,
	// hold equal compile-time constants, or share one VirtualSpec.
	MatchIdentical Match = iota
	// MatchCompatible means the slots differ but describe the same shape
	// closely enough that a handful of fixup instructions (unify.go) can
	// reconcile them without growing a second specialization.
	MatchCompatible
	// MatchIncompatible means no cheap fixup exists; the caller must grow
	// a new specialization for this path (spec.md §4.4).
	MatchIncompatible
)

// SlotDiff records the comparison result for one slot, plus, when
// MatchCompatible, enough information for unify.go to emit the fixup.
type SlotDiff struct {
	Index  int
	Result Match
	// FixupKind is set only for MatchCompatible, naming what unify.go must
	// do: "spill" (move a register value to match the other side's stack
	// slot), "reload" (the reverse), or "demote" (a CompileTime known must
	// be materialized to match a RunTime peer).
	FixupKind string
}

// diff compares two FrameStates slot by slot, returning one SlotDiff per
// index. Widths must match (both sides describe the same bytecode frame
// layout); a width mismatch is a programmer error in the caller, not a
// compile-time condition, so diff panics rather than returning an error.
func diff(a, b *FrameState) []SlotDiff {
	if a.Width() != b.Width() {
		panic("jit: diff called on frames of different width")
	}
	out := make([]SlotDiff, a.Width())
	for i := 0; i < a.Width(); i++ {
		out[i] = diffSlot(i, a.Get(i), b.Get(i))
	}
	return out
}

func diffSlot(i int, va, vb *Vinfo) SlotDiff {
	if va == vb {
		return SlotDiff{Index: i, Result: MatchIdentical}
	}
	if va == nil || vb == nil {
		return SlotDiff{Index: i, Result: MatchIncompatible}
	}

	sa, sb := va.Source, vb.Source

	switch {
	case sa.Kind == sb.Kind && sa.Kind == SourceRunTime:
		// Same lattice case, possibly different homes: a register/stack
		// mismatch is cheaply fixed with a mov, never incompatible.
		kind := "spill"
		if sa.RT.Register == RegNone && sb.RT.Register != RegNone {
			kind = "reload"
		}
		return SlotDiff{Index: i, Result: MatchCompatible, FixupKind: kind}

	case sa.Kind == sb.Kind && sa.Kind == SourceCompileTime:
		if sa.CT.Known != nil && sb.CT.Known != nil && sa.CT.Known.Equal(sb.CT.Known) {
			return SlotDiff{Index: i, Result: MatchIdentical}
		}
		// Two different compile-time constants flowing into the same
		// merge point: neither can remain a compile-time known without
		// picking one arbitrarily, so both sides must demote to RunTime.
		return SlotDiff{Index: i, Result: MatchCompatible, FixupKind: "demote"}

	case sa.Kind == SourceCompileTime && sb.Kind == SourceRunTime,
		sa.Kind == SourceRunTime && sb.Kind == SourceCompileTime:
		return SlotDiff{Index: i, Result: MatchCompatible, FixupKind: "demote"}

	case sa.Kind == sb.Kind && sa.Kind == SourceVirtualTime:
		// Both sides deferred the same construction (structural sharing
		// from a common ancestor, or two paths that both chose to defer
		// identically): the shared VirtualSpec means neither side commits
		// to a different materialization, so the slots stay compatible
		// without demoting either one (spec.md §4.4).
		if sa.VT.Spec == sb.VT.Spec {
			return SlotDiff{Index: i, Result: MatchIdentical}
		}
		return SlotDiff{Index: i, Result: MatchIncompatible}

	case sa.Kind == SourceVirtualTime || sb.Kind == SourceVirtualTime:
		// A deferred construction meeting any other lattice case cannot
		// be reconciled cheaply; the caller must grow a second
		// specialization rather than force materialization at a point
		// that might not need it on every path (spec.md §4.6).
		return SlotDiff{Index: i, Result: MatchIncompatible}

	default:
		return SlotDiff{Index: i, Result: MatchIncompatible}
	}
}

// compatible reports whether FrameState b may safely fall through into the
// code already compiled for FrameState a (the state recorded at a merge
// point's Snapshot), and if so the list of fixups unify.go must emit
// first. It is the single predicate the dispatch loop consults before
// reusing existing compiled code versus growing a new specialization.
func compatible(a, b *FrameState) (ok bool, fixups []SlotDiff) {
	diffs := diff(a, b)
	fixups = make([]SlotDiff, 0, len(diffs))
	for _, d := range diffs {
		switch d.Result {
		case MatchIdentical:
			continue
		case MatchCompatible:
			fixups = append(fixups, d)
		case MatchIncompatible:
			return false, nil
		}
	}
	return true, fixups
}
