package jit

import "fmt"

// Unifier applies the fixups compat.go's compatible() identified, emitting
// the handful of move/spill/reload/demote instructions needed to bring an
// incoming FrameState into alignment with the Snapshot already recorded at
// a merge point. It is handed an Emitter so the fixup instructions land in
// the same code stream the rest of dispatch.go is writing to.
type Unifier struct {
	em       Emitter
	cfg      *Config
	debugger *JITDebugger
}

// NewUnifier builds a Unifier bound to the given code emitter.
func NewUnifier(em Emitter, cfg *Config) *Unifier {
	return &Unifier{em: em, cfg: cfg}
}

// SetDebugger attaches a JITDebugger so Apply reports each fixup it emits;
// a nil dbg (the zero value new Unifiers start with) disables logging.
func (u *Unifier) SetDebugger(dbg *JITDebugger) {
	u.debugger = dbg
}

// Apply emits the fixups in fixups against the frame b, mutating b's slots
// in place so that, after this call, b is structurally compatible with the
// frame the fixups were computed against (the merge point's canonical
// Snapshot-derived frame, target).
func (u *Unifier) Apply(fixups []SlotDiff, target, b *FrameState) error {
	for _, f := range fixups {
		if err := u.applyOne(f, target, b); err != nil {
			return fmt.Errorf("unifying slot %d: %w", f.Index, err)
		}
		if u.debugger != nil {
			u.debugger.LogCompileEvent("unify", f.Index, fmt.Sprintf("applied %s fixup", f.FixupKind))
		}
	}
	return nil
}

func (u *Unifier) applyOne(f SlotDiff, target, b *FrameState) error {
	tv := target.Get(f.Index)
	bv := b.Get(f.Index)
	if tv == nil || bv == nil {
		return fmt.Errorf("%w: nil vinfo during unification", ErrIncompatibleState)
	}

	switch f.FixupKind {
	case "spill":
		if bv.Source.Kind != SourceRunTime {
			return fmt.Errorf("%w: spill fixup on non-RunTime source", ErrIncompatibleState)
		}
		u.em.EmitSpill(bv.Source.RT.Register, tv.Source.RT.StackOffset)
		b.Set(f.Index, target.Get(f.Index))
		return nil

	case "reload":
		if bv.Source.Kind != SourceRunTime {
			return fmt.Errorf("%w: reload fixup on non-RunTime source", ErrIncompatibleState)
		}
		u.em.EmitReload(bv.Source.RT.StackOffset, tv.Source.RT.Register)
		b.Set(f.Index, target.Get(f.Index))
		return nil

	case "demote":
		return u.demote(f.Index, target, b)

	default:
		return fmt.Errorf("jit: unknown unification fixup kind %q", f.FixupKind)
	}
}

// demote materializes a CompileTime (or VirtualTime) source into a
// run-time register or stack slot so it can be unified with a peer that is
// already RunTime, matching target's chosen home exactly so subsequent
// code generated past the merge point can address the slot uniformly.
func (u *Unifier) demote(index int, target, b *FrameState) error {
	bv := b.Get(index)
	tv := target.Get(index)

	var reg int
	var stackOffset int
	if tv.Source.Kind == SourceRunTime {
		reg = tv.Source.RT.Register
		stackOffset = tv.Source.RT.StackOffset
	} else {
		reg = RegNone
		stackOffset = index * wordSize
	}

	switch bv.Source.Kind {
	case SourceCompileTime:
		k := bv.Source.CT.Known
		if k == nil {
			return fmt.Errorf("%w: demoting nil known", ErrIncompatibleState)
		}
		if k.IsFixed() {
			u.em.EmitLoadImmediate(k.FixedValue(), reg, stackOffset)
		} else {
			u.em.EmitLoadPointer(k.HostValue(), reg, stackOffset)
		}
	case SourceVirtualTime:
		known, err := bv.Source.VT.Spec.Materialize()
		if err != nil {
			return fmt.Errorf("demoting virtual-time slot: %w", err)
		}
		if known != nil && known.IsFixed() {
			u.em.EmitLoadImmediate(known.FixedValue(), reg, stackOffset)
		}
	case SourceRunTime:
		// Already run-time but homed differently than target; treat as a
		// spill/reload instead.
		if bv.Source.RT.Register != RegNone && reg == RegNone {
			u.em.EmitSpill(bv.Source.RT.Register, stackOffset)
		} else if bv.Source.RT.Register == RegNone && reg != RegNone {
			u.em.EmitReload(bv.Source.RT.StackOffset, reg)
		}
	}

	b.Set(index, NewFrameSlotLike(target, index, b.arena))
	return nil
}

// wordSize is the machine word size in bytes assumed throughout the AMD64
// emitter; SPEC_FULL.md §1 scopes this module to a single target
// architecture.
const wordSize = 8

// NewFrameSlotLike allocates a fresh Vinfo in the same RunTime home that
// target's slot at index occupies, used after demote() has emitted the
// instructions to actually put a value there.
func NewFrameSlotLike(target *FrameState, index int, arena *vinfoArena) *Vinfo {
	tv := target.Get(index)
	if tv == nil {
		return nil
	}
	return arena.New(tv.Source.Clone())
}
