package jit

import (
	"errors"
	"fmt"
)

// Sentinel errors for the expected, named failure modes spec.md's ERROR
// HANDLING DESIGN section calls out. Callers use errors.Is against these
// rather than string-matching, per SPEC_FULL.md §1.
var (
	// ErrUnsupportedBytecode is returned when the dispatch loop meets an
	// opcode with no meta-op handler; Compiler.CompileFunction returns it
	// wrapped in a *CompileError and caches nothing for that function.
	ErrUnsupportedBytecode = errors.New("jit: unsupported bytecode instruction")

	// ErrBufferExhausted is returned by the code buffer manager when an
	// emergency enlargement itself fails to recover enough room.
	ErrBufferExhausted = errors.New("jit: code buffer exhausted")

	// ErrMegamorphic is returned by PromotionSite.Observe (promote.go) when
	// a new value arrives at a site that has already seen
	// Config.MegamorphicMax distinct values; dispatch.go's tryPromote then
	// leaves the slot un-promoted.
	ErrMegamorphic = errors.New("jit: promotion site is megamorphic")

	// ErrVirtualTooDeep is returned when a chain of deferred constructions
	// would exceed Config.NestedWeightCeiling.
	ErrVirtualTooDeep = errors.New("jit: virtual-time nesting too deep")

	// ErrIncompatibleState is returned when two FrameStates at a merge
	// point cannot be reconciled: by dispatch.go's enterMergePoint when the
	// respawn for an incompatible arrival fails, and by unify.go when a
	// slot can be neither unified nor demoted. compat.go itself only
	// classifies slots and returns no error.
	ErrIncompatibleState = errors.New("jit: incompatible compiler state at merge point")

	// ErrRespawnMismatch is returned when replaying a coding-pause proxy
	// produces a machine-code byte sequence that doesn't match the
	// original compile, which spec.md's respawn invariant says must never
	// happen; seeing it means the bug is in this compiler, not the input
	// program.
	ErrRespawnMismatch = errors.New("jit: respawn produced non-identical code")

	// ErrCompileBudgetExceeded is returned by the dispatch loop when the
	// MaxCompileTimeShare watchdog (SPEC_FULL.md §3, grounded on Psyco's
	// alarm.c) trips, i.e. one compile has run past its time budget;
	// Compiler.CompileFunction returns it wrapped in a *CompileError.
	ErrCompileBudgetExceeded = errors.New("jit: compile time budget exceeded")
)

// CompileError is the concrete error type wrapping a sentinel with the
// bytecode offset it occurred at, mirroring errors/errors.go's
// position-carrying Error but scoped to compile-time pseudo-exceptions
// (spec.md §7) rather than parse errors.
type CompileError struct {
	Offset int
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("jit: at offset %d: %v", e.Offset, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// NewCompileError wraps err with the offset it was raised at.
func NewCompileError(offset int, err error) *CompileError {
	return &CompileError{Offset: offset, Err: err}
}

// PseudoExc is the compile-time analogue of spec.md §7's "pseudo-exception"
// design note: rather than unwinding the Go call stack with a panic, an
// opcode handler in dispatch.go returns a *PseudoExc value up through its
// ordinary error return, and the dispatch loop's caller decides whether to
// retry at a different specialization, demote to interpretation, or
// propagate further. This keeps the compiler's control flow in the same
// idiom Go already uses for expected failure, while preserving Psyco's
// "some compile-time failures are just a different path, not a crash"
// semantics.
type PseudoExc struct {
	Kind    string
	Offset  int
	Wrapped error
}

func (p *PseudoExc) Error() string {
	return fmt.Sprintf("jit: pseudo-exception %q at offset %d: %v", p.Kind, p.Offset, p.Wrapped)
}

func (p *PseudoExc) Unwrap() error { return p.Wrapped }

// NewPseudoExc constructs a PseudoExc of the given kind ("Megamorphic",
// "Unsupported", "VirtualTooDeep", ...).
func NewPseudoExc(kind string, offset int, wrapped error) *PseudoExc {
	return &PseudoExc{Kind: kind, Offset: offset, Wrapped: wrapped}
}
