package jit

import (
	"bytes"
	"fmt"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// CodingPauseProxy freezes enough state at a promotion stub or a
// not-yet-compiled merge point to resume compilation later as if it had
// never stopped: the bytecode slice remaining to compile, the FrameState
// at the pause point, and the byte offset within the partially-emitted
// code buffer where resumption should continue writing. spec.md §4.7
// calls this "respawning"; its defining invariant is that replaying a
// proxy must reproduce byte-for-byte identical machine code to a
// hypothetical single uninterrupted compile, which Replay checks itself.
type CodingPauseProxy struct {
	Remaining    []opcodes.Instruction
	Snapshot     *Snapshot
	FrameWidth   int
	ResumeOffset int

	// firstCompile, when non-nil, is the code produced the first time
	// this pause point was compiled, which every later Respawn compares
	// its output against for bit-exactness. It is kept for the proxy's
	// whole lifetime.
	firstCompile []byte

	// RespawnCount tracks how many times this proxy has actually been
	// replayed, reported via CompilerStats.
	RespawnCount int
}

// NewCodingPauseProxy captures a pause point mid-compile.
func NewCodingPauseProxy(remaining []opcodes.Instruction, frame *FrameState, cfg *Config, resumeOffset int) *CodingPauseProxy {
	return &CodingPauseProxy{
		Remaining:    remaining,
		Snapshot:     Freeze(frame, nil, cfg),
		FrameWidth:   frame.Width(),
		ResumeOffset: resumeOffset,
	}
}

// Respawn resumes compilation of Remaining against em, an Emitter already
// positioned (via prior EmitProlog/instructions) at ResumeOffset. It
// rehydrates the frozen FrameState, re-enters compileBody's dispatch loop
// for just the remaining instructions, and verifies — on every replay
// after the first — that the emitted bytes exactly match what the first
// replay produced, per spec.md's respawn invariant. dbg, when non-nil,
// receives one LogCompileEvent call reporting which replay this is.
func (p *CodingPauseProxy) Respawn(cfg *Config, em Emitter, arena *vinfoArena, dbg *JITDebugger) (*CompileResult, error) {
	p.RespawnCount++
	if dbg != nil {
		dbg.LogCompileEvent("respawn", p.ResumeOffset, fmt.Sprintf("replay #%d of %d remaining instructions", p.RespawnCount, len(p.Remaining)))
	}

	frame, err := p.Snapshot.Unfreeze(arena, NewFrameState(arena, p.FrameWidth))
	if err != nil {
		return nil, fmt.Errorf("jit: respawn %d: thawing snapshot: %w", p.RespawnCount, err)
	}

	d := newDispatcher(cfg, em, p.FrameWidth, nil, dbg)
	d.frame = frame
	d.code = p.Remaining
	d.merges = AnalyzeMergePoints(p.Remaining, cfg)

	startOffset := em.Offset()
	for i, instr := range p.Remaining {
		fn, ok := LookupMetaOp(instr.Opcode)
		if !ok {
			return nil, NewCompileError(i, fmt.Errorf("%w: %s", ErrUnsupportedBytecode, instr.Opcode.String()))
		}
		if err := fn(d, instr, i); err != nil {
			return nil, NewCompileError(i, err)
		}
		if fixups, pending := d.jumpFixups[i]; pending {
			for _, f := range fixups {
				em.Patch(f, em.Offset())
			}
			delete(d.jumpFixups, i)
		}
	}

	produced := em.Bytes()[startOffset:]
	if p.firstCompile == nil {
		p.firstCompile = append([]byte(nil), produced...)
	} else if !bytes.Equal(p.firstCompile, produced) {
		return nil, fmt.Errorf("%w: respawn %d diverged from first compile at byte 0",
			ErrRespawnMismatch, p.RespawnCount)
	}

	return &CompileResult{Code: produced, MergePoint: d.merges, Instr: len(p.Remaining)}, nil
}
