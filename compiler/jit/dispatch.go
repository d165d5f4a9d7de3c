package jit

import (
	"fmt"
	"time"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// dispatcher drives one compilation: it walks a function's bytecode in
// order, consulting metaopTable for each opcode, threading a FrameState
// through the walk, and asking an Emitter to produce machine code. This is
// the opcode dispatch loop spec.md §4.9 names; jit.go's Compiler wraps it
// with hotspot detection, caching, and the public API.
type dispatcher struct {
	cfg    *Config
	em     Emitter
	arena  *vinfoArena
	frame  *FrameState
	regs   *RegisterAllocator
	merges *MergePointTable

	pendingCompare Condition

	// jumpFixups maps a bytecode target offset to the list of Emitter
	// fixup tokens waiting to be patched once that offset's machine-code
	// position is known (every instruction is visited in order, so a
	// backward jump's target position is already known but a forward
	// jump's isn't).
	jumpFixups    map[int][]int
	offsetToCode  map[int]int // bytecode offset -> machine-code byte offset at entry to that instruction

	unifier *Unifier

	// code is the full instruction stream this dispatch is walking, kept
	// around (rather than just the current instruction) so an incompatible
	// merge-point arrival can slice out "everything from here to the end"
	// for respawn.go's CodingPauseProxy.
	code []opcodes.Instruction

	// thread is the CompilerThread this compile is running under, holding
	// the PromotionTable metaops.go's binary/compare handlers consult
	// before specializing an operand whose value this specific call
	// observed. Nil when compiling outside a thread (e.g. respawn.go's
	// replay, which inherits its Vinfos from a frozen Snapshot rather than
	// from fresh argument bindings and so has nothing left to promote).
	thread *CompilerThread

	// debugger receives LogCompileEvent calls for snapshot freezes,
	// unifications, promotions, and respawns, nil when the owning Compiler
	// wasn't built with DebugMode.
	debugger *JITDebugger

	// argSlotValue and argVinfo let a metaop recover "this RunTime operand
	// is frame slot N, and slot N's actual argument value for this
	// specific call was V" so it can attempt a promotion; populated by
	// bindArguments from the observedArgs a real call site supplies.
	argSlotValue map[int]int64
	argVinfo     map[VinfoID]int

	// respawns remembers the CodingPauseProxy already grown for a given
	// merge-point offset, so a third (or later) incompatible arrival at the
	// same point replays the same proxy instead of growing an unbounded
	// number of specializations.
	respawns map[int]*CodingPauseProxy
}

// newDispatcher builds a dispatcher ready to compile one function body of
// the given local-variable width. thread and dbg may be nil (respawn.go's
// replay passes both nil, since it has no argument provenance left to
// promote and logs through the proxy's own caller instead).
func newDispatcher(cfg *Config, em Emitter, width int, thread *CompilerThread, dbg *JITDebugger) *dispatcher {
	arena := newVinfoArena()
	d := &dispatcher{
		cfg:          cfg,
		em:           em,
		arena:        arena,
		frame:        NewFrameState(arena, width),
		regs:         NewRegisterAllocator(),
		jumpFixups:   make(map[int][]int),
		offsetToCode: make(map[int]int),
		thread:       thread,
		debugger:     dbg,
	}
	d.unifier = NewUnifier(em, cfg)
	d.unifier.SetDebugger(dbg)
	return d
}

// ensureRegister materializes v into a register if it isn't already in
// one: a RunTime value already in a register is returned as-is; a RunTime
// stack value is reloaded; a CompileTime value is loaded as an immediate;
// a VirtualTime value is materialized first.
func (d *dispatcher) ensureRegister(v *Vinfo) int {
	switch v.Source.Kind {
	case SourceRunTime:
		if v.Source.RT.Register != RegNone {
			return v.Source.RT.Register
		}
		reg, evicted := d.regs.Allocate(v)
		if evicted != nil {
			d.spillEvicted(evicted, reg)
		}
		d.em.EmitReload(v.Source.RT.StackOffset, reg)
		v.Source.RT.Register = reg
		d.regs.owner[reg] = v
		return reg
	case SourceCompileTime:
		reg, evicted := d.regs.Allocate(v)
		if evicted != nil {
			d.spillEvicted(evicted, reg)
		}
		k := v.Source.CT.Known
		if k != nil && k.IsFixed() {
			d.em.EmitLoadImmediate(k.FixedValue(), reg, RegNone)
		} else if k != nil && k.IsHostObject() {
			d.em.EmitLoadPointer(k.HostValue(), reg, RegNone)
		}
		d.regs.owner[reg] = v
		return reg
	case SourceVirtualTime:
		known, err := v.Source.VT.Spec.Materialize()
		reg, evicted := d.regs.Allocate(v)
		if evicted != nil {
			d.spillEvicted(evicted, reg)
		}
		if err == nil && known != nil && known.IsFixed() {
			d.em.EmitLoadImmediate(known.FixedValue(), reg, RegNone)
		}
		d.regs.owner[reg] = v
		return reg
	default:
		return RegNone
	}
}

// spillEvicted emits the instructions to move evicted's value out of the
// register the allocator just reassigned to someone else, giving it a
// fresh stack home recorded on its Source.
func (d *dispatcher) spillEvicted(evicted *Vinfo, freedReg int) {
	off := int(evicted.id) * wordSize
	d.em.EmitSpill(freedReg, off)
	if evicted.Source.Kind == SourceRunTime {
		evicted.Source.RT.Register = RegNone
		evicted.Source.RT.StackOffset = off
	}
}

// bindArguments seeds the leading argCount frame slots as RunTime values
// already resident in the System V integer argument registers, matching
// the calling convention the compiled prolog is entered under. Arguments
// beyond len(sysVArgRegs) are not supported by this module's single
// register-based calling convention (spec.md scopes instruction selection
// to one architecture, and stack-passed arguments are not a goal here).
//
// observedArgs, when the caller supplies one value per bound argument,
// records what this particular call actually passed for each slot; it is
// kept on argSlotValue/argVinfo so metaBinOp/metaCompare's tryPromote can
// look up "slot N's Vinfo came from an observed value of V" the first time
// that slot reaches a PromotionSite (spec.md §4.6). A caller that doesn't
// know its argument values yet (respawn.go's replay, which recovers its
// Vinfos from a Snapshot instead) simply passes a nil or short slice.
func (d *dispatcher) bindArguments(argCount int, observedArgs []int64) {
	for i := 0; i < argCount && i < len(sysVArgRegs) && i < len(d.frame.Slots); i++ {
		reg := sysVArgRegs[i]
		v := d.arena.New(NewRunTimeSource(RegNone, reg, false, false))
		d.frame.Set(i, v)
		d.regs.owner[reg] = v
		if i < len(observedArgs) {
			if d.argSlotValue == nil {
				d.argSlotValue = make(map[int]int64)
				d.argVinfo = make(map[VinfoID]int)
			}
			d.argSlotValue[i] = observedArgs[i]
			d.argVinfo[v.ID()] = i
		}
	}
}

// tryPromote consults the dispatcher's CompilerThread PromotionTable for
// the site at bytecode offset, looking up whether v (a RunTime value whose
// provenance traces back to a bound argument slot with a known observed
// value) has a cached CompileTime specialization for that value. The first
// call at a site Observes the value instead, growing the site's MRU cache;
// once a site sees enough distinct values to exceed Config.MegamorphicMax
// it goes megamorphic and every later call here is a no-op, leaving v
// untouched (spec.md §4.6). tryPromote returns v unchanged whenever there
// is no thread, no promotion site, or no recoverable observed value, so
// every call site may call it unconditionally.
func (d *dispatcher) tryPromote(offset int, v *Vinfo) *Vinfo {
	if d.thread == nil || d.thread.Promotions == nil || v == nil || !v.Source.IsRunTime() {
		return v
	}
	slot, ok := d.argVinfo[v.ID()]
	if !ok {
		return v
	}
	value, ok := d.argSlotValue[slot]
	if !ok {
		return v
	}

	site := d.thread.Promotions.SiteAt(offset)
	if cached, ok := site.Lookup(value); ok {
		if d.debugger != nil {
			d.debugger.LogCompileEvent("promote", offset, fmt.Sprintf("slot %d specialized to observed value %d", slot, value))
		}
		return d.arena.New(NewCompileTimeSource(cached))
	}

	known := NewFixedKnown(value)
	if err := site.Observe(value, known); err != nil {
		if d.debugger != nil {
			d.debugger.LogCompileEvent("megamorphic", offset, fmt.Sprintf("slot %d: %v", slot, err))
		}
		return v
	}
	if d.debugger != nil {
		d.debugger.LogCompileEvent("promote", offset, fmt.Sprintf("slot %d observed value %d for the first time", slot, value))
	}
	return d.arena.New(NewCompileTimeSource(known))
}

// recordJumpFixup remembers that the Emitter fixup token must be patched
// to point at bytecode offset target once that offset's code position is
// known.
func (d *dispatcher) recordJumpFixup(target int, fixup int) {
	if pos, known := d.offsetToCode[target]; known {
		d.em.Patch(fixup, pos) // backward jump: target position already known
		return
	}
	d.jumpFixups[target] = append(d.jumpFixups[target], fixup)
}

// CompileResult is the output of compiling one function body: the
// finished Emitter (holding the machine code bytes) plus the merge-point
// table and arena, kept around for debugging and for respawn.go's replay
// check.
type CompileResult struct {
	Code       []byte
	MergePoint *MergePointTable
	Instr      int
}

// compileBody runs the dispatch loop over code, returns the compiled
// result. frameWidth bounds the FrameState this compile allocates;
// argCount is how many of those leading slots are incoming arguments
// (bound to argument registers by bindArguments before the walk begins).
// An opcode with no registered MetaOp produces ErrUnsupportedBytecode,
// which the caller (jit.go's Compiler.CompileFunction) treats as "decline
// to compile this function" rather than a fatal error, matching spec.md's
// explicit tolerance for unsupported opcodes.
//
// thread, when non-nil, is the CompilerThread tryPromote (below)
// consults for this compile's promotion sites; observedArgs carries the
// actual argument values the call that triggered this compile passed, so
// a promotion site can specialize on them; dbg, when non-nil, receives
// LogCompileEvent calls for every snapshot, unification, promotion, and
// respawn this compile performs.
func compileBody(cfg *Config, em Emitter, code []opcodes.Instruction, frameWidth, argCount int, thread *CompilerThread, observedArgs []int64, dbg *JITDebugger) (*CompileResult, error) {
	d := newDispatcher(cfg, em, frameWidth, thread, dbg)
	d.merges = AnalyzeMergePoints(code, cfg)
	d.code = code

	em.EmitProlog(frameWidth * wordSize)
	d.bindArguments(argCount, observedArgs)

	budget := newCompileBudget(cfg)

	for i, instr := range code {
		if err := budget.checkIn(); err != nil {
			return nil, NewCompileError(i, err)
		}
		d.offsetToCode[i] = em.Offset()

		if mp := d.merges.At(i); mp != nil {
			respawned, err := d.enterMergePoint(mp, i)
			if err != nil {
				return nil, NewCompileError(i, err)
			}
			if respawned {
				break
			}
		}

		fn, ok := LookupMetaOp(instr.Opcode)
		if !ok {
			return nil, NewCompileError(i, fmt.Errorf("%w: %s", ErrUnsupportedBytecode, instr.Opcode.String()))
		}
		if err := fn(d, instr, i); err != nil {
			return nil, NewCompileError(i, err)
		}

		if fixups, pending := d.jumpFixups[i]; pending {
			for _, f := range fixups {
				em.Patch(f, d.offsetToCode[i])
			}
			delete(d.jumpFixups, i)
		}
	}

	// Any jump whose target offset equals len(code) (falling off the end)
	// patches to the current position, matching a function whose last
	// instruction is itself a merge point target.
	if fixups, pending := d.jumpFixups[len(code)]; pending {
		for _, f := range fixups {
			em.Patch(f, em.Offset())
		}
	}

	return &CompileResult{Code: em.Bytes(), MergePoint: d.merges, Instr: len(code)}, nil
}

// enterMergePoint freezes or reconciles the dispatcher's current frame
// against the MergePoint's recorded Snapshot: the first arrival at a merge
// point freezes one; every later arrival (a loop back-edge, a second
// forward-jump source) is checked with compatible() and, when compatible,
// unified via unify.go. An incompatible arrival does not abort the compile:
// per spec.md §4.4 it installs a CodingPauseProxy (respawn.go) over the
// remaining bytecode and respawns a second specialization inline, sharing
// the same Emitter so the two specializations live in one contiguous code
// buffer. The returned bool tells compileBody's loop to stop walking code
// itself once a respawn has taken over emitting the remainder.
func (d *dispatcher) enterMergePoint(mp *MergePoint, offset int) (bool, error) {
	if mp.Snapshot == nil {
		mp.Snapshot = Freeze(d.frame, nil, d.cfg)
		if d.debugger != nil {
			d.debugger.LogCompileEvent("snapshot", offset, fmt.Sprintf("froze %d-slot frame state", d.frame.Width()))
		}
		return false, nil
	}
	target, err := mp.Snapshot.Unfreeze(d.arena, d.frame)
	if err != nil {
		return false, fmt.Errorf("thawing merge point snapshot at offset %d: %w", offset, err)
	}
	ok, fixups := compatible(target, d.frame)
	if !ok {
		if d.respawns == nil {
			d.respawns = make(map[int]*CodingPauseProxy)
		}
		proxy, exists := d.respawns[offset]
		if !exists {
			proxy = NewCodingPauseProxy(d.code[offset:], d.frame, d.cfg, d.em.Offset())
			d.respawns[offset] = proxy
		}
		if d.debugger != nil {
			d.debugger.LogCompileEvent("respawn", offset, "incompatible arrival at merge point, growing a second specialization")
		}
		if _, err := proxy.Respawn(d.cfg, d.em, d.arena, d.debugger); err != nil {
			return false, fmt.Errorf("%w: at bytecode offset %d: %v", ErrIncompatibleState, offset, err)
		}
		return true, nil
	}
	if len(fixups) > 0 {
		if err := d.unifier.Apply(fixups, target, d.frame); err != nil {
			return false, err
		}
	}
	return false, nil
}

// compileBudget enforces Config.MaxCompileTimeShare (SPEC_FULL.md §3,
// Psyco's alarm.c watchdog): it samples wall-clock time at a coarse
// granularity (every budgetSampleStride instructions) rather than on every
// instruction, since time.Now() is not free and a specializing JIT's inner
// loop is exactly where that cost would be felt most.
type compileBudget struct {
	enabled  bool
	start    time.Time
	limit    time.Duration
	count    int
}

const budgetSampleStride = 256

func newCompileBudget(cfg *Config) *compileBudget {
	if cfg == nil || cfg.MaxCompileTimeShare <= 0 {
		return &compileBudget{enabled: false}
	}
	return &compileBudget{
		enabled: true,
		start:   timeNow(),
		limit:   time.Duration(float64(time.Second) * cfg.MaxCompileTimeShare),
	}
}

func (b *compileBudget) checkIn() error {
	if !b.enabled {
		return nil
	}
	b.count++
	if b.count%budgetSampleStride != 0 {
		return nil
	}
	if timeNow().Sub(b.start) > b.limit {
		return ErrCompileBudgetExceeded
	}
	return nil
}

// timeNow is a package variable so tests can freeze time; production code
// just calls time.Now().
var timeNow = time.Now
