package jit

// FrameState is the full compile-time picture of one activation: a slice of
// *Vinfo, one per bytecode local/temp/stack slot, plus the arena that owns
// them. Slots may alias the same *Vinfo (structural sharing, spec.md §4.2);
// FrameState never mutates a shared Vinfo in place without first checking
// whether it is actually shared (RefCount() > 1) and copying if so.
type FrameState struct {
	arena *vinfoArena
	Slots []*Vinfo
}

// NewFrameState creates an empty frame of the given width, all slots nil
// (meaning "not yet assigned"; bytecode locals start this way until the
// first STORE).
func NewFrameState(arena *vinfoArena, width int) *FrameState {
	return &FrameState{arena: arena, Slots: make([]*Vinfo, width)}
}

// Get returns the node currently occupying slot i, or nil.
func (f *FrameState) Get(i int) *Vinfo {
	if i < 0 || i >= len(f.Slots) {
		return nil
	}
	return f.Slots[i]
}

// Set installs v into slot i, increfing it, and decrefs whatever previously
// occupied that slot. This is the single mutation primitive every opcode
// handler in dispatch.go funnels through, matching spec.md's "graph ops:
// copy/incref/decref/move/sub" component list.
func (f *FrameState) Set(i int, v *Vinfo) {
	if i < 0 || i >= len(f.Slots) {
		return
	}
	if v != nil {
		v.Incref()
	}
	old := f.Slots[i]
	f.Slots[i] = v
	if old != nil {
		old.Decref()
	}
}

// Move reuses whatever node is in slot src for slot dst, sharing structure
// rather than allocating a fresh node (spec.md's "move" graph op: a
// bytecode-level copy becomes a refcount bump, not new work).
func (f *FrameState) Move(dst, src int) {
	f.Set(dst, f.Get(src))
}

// Copy produces an independent FrameState snapshot of f: a new Slots slice
// with the same Vinfo pointers, each increfed once. Mutating the copy's
// Slots (via Set/Move) never mutates f's, but the two frames still alias
// the underlying Vinfo nodes until one of them writes to a shared slot.
func (f *FrameState) Copy() *FrameState {
	out := &FrameState{arena: f.arena, Slots: make([]*Vinfo, len(f.Slots))}
	for i, v := range f.Slots {
		if v != nil {
			v.Incref()
		}
		out.Slots[i] = v
	}
	return out
}

// Release decrefs every slot, used when a FrameState (a dead branch of a
// merge, an abandoned speculative compile) is discarded entirely.
func (f *FrameState) Release() {
	for i := range f.Slots {
		f.Set(i, nil)
	}
}

// Sub extracts the sub-FrameState needed to describe just the slots in
// indices, used by snapshot.go when only part of a frame changed since the
// last merge point and the rest can be reconstructed from the prior
// snapshot (spec.md §4.3's "Snapshots only need to describe what changed").
func (f *FrameState) Sub(indices []int) *FrameState {
	out := &FrameState{arena: f.arena, Slots: make([]*Vinfo, len(indices))}
	for j, i := range indices {
		v := f.Get(i)
		if v != nil {
			v.Incref()
		}
		out.Slots[j] = v
	}
	return out
}

// clearTmpMarks resets the tmp mark on every reachable node before a fresh
// graph walk begins. Simplify calls this first so that a node visited in a
// previous pass doesn't spuriously look "already seen" in this one — the
// mark is scoped to a single pass, never left dirty across calls.
func (f *FrameState) clearTmpMarks() {
	for _, v := range f.Slots {
		if v != nil {
			v.tmp = false
		}
	}
}

// Simplify walks the frame and drops vinfo nodes whose refcount has reached
// zero from the live Slots (replacing them with nil). It does no constant
// folding and no check of CompileTime-backed nodes (dispatch.go
// constant-folds eagerly). Returns the number of slots simplified.
func (f *FrameState) Simplify() int {
	f.clearTmpMarks()
	n := 0
	for i, v := range f.Slots {
		if v == nil {
			continue
		}
		if v.tmp {
			continue // already visited via a shared pointer elsewhere in Slots
		}
		v.tmp = true
		if v.RefCount() <= 0 {
			f.Slots[i] = nil
			n++
		}
	}
	f.clearTmpMarks()
	return n
}

// Width reports the number of slots.
func (f *FrameState) Width() int { return len(f.Slots) }
