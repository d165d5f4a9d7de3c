package jit

import "time"

// Config controls every tunable threshold the compiler consults. Defaults
// mirror the constants spec.md names explicitly in its TESTABLE PROPERTIES
// section so the boundary-behavior tests have concrete numbers to assert
// against.
type Config struct {
	// CompilationThreshold is how many times a function must run in the
	// interpreter (or be sampled by the tick profiler) before it becomes a
	// hotspot worth compiling.
	CompilationThreshold int

	// MaxCompiledFunctions bounds the compiled-code cache.
	MaxCompiledFunctions int

	// EnableOptimizations toggles the bytecode optimization passes applied
	// before code generation (optimize.go registers one: NOP elimination).
	// Constant folding over compile-time vinfos happens in the meta-ops
	// whether or not this is set.
	EnableOptimizations bool

	// TargetArch selects the code generator. Only "amd64" has a real
	// implementation; spec.md §1 excludes instruction selection for
	// non-integer numerics, and this module only ships one architecture.
	TargetArch string

	// DebugMode enables verbose compiler and JIT-function tracing.
	DebugMode bool

	// MegamorphicMax is the number of distinct observed values a promotion
	// site tolerates before falling back to a single megamorphic
	// specialization (spec.md §4.6, §8).
	MegamorphicMax int

	// MaxUninterruptedRange is the longest run of bytecode offsets allowed
	// without forcing a merge point (spec.md §4.8, §8).
	MaxUninterruptedRange int

	// ConfluenceTotalDelay caps how far a confluence point may be pushed
	// forward when absorbing a zero-weight predecessor confluence
	// (spec.md §4.8).
	ConfluenceTotalDelay int

	// VarsPerPass bounds the width of each live-variable back-propagation
	// sweep (spec.md §4.8).
	VarsPerPass int

	// BufferMargin is the remaining-capacity threshold below which a code
	// buffer triggers emergency enlargement (spec.md §4.11, §8).
	BufferMargin int

	// SlabSize is the default size of a freshly reserved executable arena
	// slab (spec.md §4.11: "target ~1 MiB per slab, configurable").
	SlabSize int

	// CompressCompileTimeSubitems, when set, skips compile-time sub-arrays
	// during snapshot compression since their content is reloadable
	// (spec.md §4.3).
	CompressCompileTimeSubitems bool

	// MaxCompileTimeShare sets each compile's wall-clock budget to
	// MaxCompileTimeShare × 1 s (SPEC_FULL.md §3, grounded on Psyco's
	// alarm.c watchdog). The dispatch loop samples the clock every
	// budgetSampleStride instructions and aborts that one compile with
	// ErrCompileBudgetExceeded once the budget is spent; no share is
	// tracked across compiles. Zero disables the watchdog.
	MaxCompileTimeShare float64

	// NestedWeightCeiling bounds the sum of VirtualSpec.NestedWeight values
	// along a chain of virtual-time materializations (spec.md §3
	// "VirtualSpec").
	NestedWeightCeiling int
}

// DefaultConfig returns the tuning spec.md's boundary-behavior tests assume.
func DefaultConfig() *Config {
	return &Config{
		CompilationThreshold:        10,
		MaxCompiledFunctions:        1000,
		EnableOptimizations:         true,
		TargetArch:                  "amd64",
		DebugMode:                   false,
		MegamorphicMax:              5,
		MaxUninterruptedRange:       4096,
		ConfluenceTotalDelay:        64,
		VarsPerPass:                 32,
		BufferMargin:                1024,
		SlabSize:                    1 << 20,
		CompressCompileTimeSubitems: true,
		MaxCompileTimeShare:         0.5,
		NestedWeightCeiling:         16,
	}
}

// cleanupInterval is how often the hotspot detector sweeps stale entries.
const cleanupInterval = 5 * time.Minute

// staleAfter is how long an un-hot function call record survives without a
// fresh call before the hotspot detector discards it.
const staleAfter = 10 * time.Minute
