package jit

import (
	"fmt"
	"sync"
	"time"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// Compiler is the top-level JIT handle an interpreter embeds: one per
// running process, shared across every CompilerThread it hands out.
// Where the teacher's JITCompiler drove a single CodeGenerator
// implementation directly, Compiler instead drives the
// architecture-independent dispatch loop (dispatch.go's compileBody)
// against whichever Emitter TargetArch selects, so adding arm64 later
// means writing an Emitter, not forking the compiler.
type Compiler struct {
	config *Config

	hotspotDetector *HotspotDetector
	buffer          *CodeBuffer
	threads         *threadPool

	// compiledCode maps function name to its most recent CompiledFunction.
	// Stubs (stub.go) track per-call-site specialization separately; this
	// map is the simple "compiled at all" cache CompileFunction consults.
	compiledCode sync.Map // map[string]*CompiledFunction

	// stubs maps function name to the Stub (stub.go) a caller dispatches
	// through once ToExecutable has registered at least one
	// SpecializedFunction for it.
	stubs sync.Map // map[string]*Stub

	// debugger is shared by every CompileFunction/ToExecutable call on this
	// Compiler, so LogCompileEvent calls from the dispatch loop, the
	// unifier, promotion, and respawning all land in the same trace.
	debugger *JITDebugger

	stats *CompilerStats

	mu sync.RWMutex
}

// CompiledFunction is one compiled specialization's machine code plus the
// bookkeeping the teacher's JITCompiler already tracked per function.
type CompiledFunction struct {
	Name        string
	ByteCode    []opcodes.Instruction
	MachineCode []byte
	EntryPoint  uintptr
	CompileTime time.Time

	ExecutionCount int64
	ExecutionTime  time.Duration

	OptimizationLevel int
	OptimizationFlags []string

	// Promotions is the PromotionTable the CompilerThread that produced
	// this compile was carrying, kept here so a later recompile of the
	// same function (e.g. after a respawn) can hand the same table back to
	// the next thread rather than starting every promotion site cold
	// again.
	Promotions *PromotionTable
}

// Optimization is a bytecode-to-bytecode rewrite applied before dispatch,
// e.g. a peephole pass folding adjacent constant loads. The metaop table
// (metaops.go) already folds constants for CompileTime operands as it
// emits; Optimization exists for passes that need to see the whole
// instruction stream at once, which a single-pass dispatcher cannot.
type Optimization interface {
	Name() string
	Apply(bytecode []opcodes.Instruction) ([]opcodes.Instruction, error)
	IsApplicable(bytecode []opcodes.Instruction) bool
}

// CompilerStats aggregates compilation activity across every function
// this Compiler has ever compiled.
type CompilerStats struct {
	TotalCompilations      int64
	SuccessfulCompilations int64
	FailedCompilations     int64

	TotalCompileTime   time.Duration
	AverageCompileTime time.Duration

	TotalJITExecutions    int64
	TotalJITExecutionTime time.Duration

	CompiledCodeSize int64
	MaxCodeCacheSize int64

	mu sync.RWMutex
}

// NewCompiler creates a Compiler from cfg, or DefaultConfig() if cfg is
// nil. Unlike the teacher's constructor, it never needs to pick a
// CodeGenerator implementation up front — AMD64Emitter is selected
// lazily per compile, matching cfg.TargetArch.
func NewCompiler(cfg *Config) (*Compiler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TargetArch != "amd64" {
		return nil, fmt.Errorf("jit: unsupported target architecture: %s", cfg.TargetArch)
	}

	buffer, err := NewCodeBuffer(cfg)
	if err != nil {
		return nil, fmt.Errorf("jit: failed to create code buffer: %w", err)
	}

	debugger := NewJITDebugger()
	if cfg.DebugMode {
		debugger.Enable()
		debugger.SetTraceLevel(DebugLevelDebug)
	}

	return &Compiler{
		config:          cfg,
		hotspotDetector: NewHotspotDetector(cfg.CompilationThreshold),
		buffer:          buffer,
		threads:         newThreadPool(cfg),
		debugger:        debugger,
		stats:           &CompilerStats{},
	}, nil
}

// ShouldCompile reports whether functionName is hot and not yet compiled.
func (c *Compiler) ShouldCompile(functionName string) bool {
	if _, exists := c.compiledCode.Load(functionName); exists {
		return false
	}
	return c.hotspotDetector.IsHotspot(functionName)
}

// CompileFunction runs the dispatch loop over bytecode and caches the
// result under functionName. frameWidth is the number of local slots the
// function's frame needs, used to size the initial FrameState; argCount
// is how many of those leading slots are incoming arguments, bound to
// the System V integer argument registers before the walk begins.
//
// observedArgs is optional: a caller that already knows the actual
// argument values this compile is being triggered by (a real call site
// warming up, rather than an ahead-of-time compile with no call history)
// may pass them so promote.go's promotion sites have something to
// specialize on from the very first compile (spec.md §4.6). Every
// existing caller that predates promotion support keeps working
// unchanged by simply not passing any.
func (c *Compiler) CompileFunction(functionName string, bytecode []opcodes.Instruction, frameWidth, argCount int, observedArgs ...int64) (*CompiledFunction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if compiled, exists := c.compiledCode.Load(functionName); exists {
		return compiled.(*CompiledFunction), nil
	}

	c.stats.mu.Lock()
	c.stats.TotalCompilations++
	c.stats.mu.Unlock()

	startTime := time.Now()

	optimizedBytecode, appliedOptimizations := bytecode, []Optimization(nil)
	if c.config.EnableOptimizations {
		optimizedBytecode, appliedOptimizations = c.applyOptimizations(bytecode)
	}

	thread := c.threads.Get(nil)
	defer c.threads.Put(thread)

	em := NewAMD64Emitter(c.config)
	result, err := compileBody(c.config, em, optimizedBytecode, frameWidth, argCount, thread, observedArgs, c.debugger)
	if err != nil {
		c.stats.mu.Lock()
		c.stats.FailedCompilations++
		c.stats.mu.Unlock()
		return nil, fmt.Errorf("jit: failed to compile %s: %w", functionName, err)
	}

	flags := make([]string, 0, len(appliedOptimizations))
	for _, opt := range appliedOptimizations {
		flags = append(flags, opt.Name())
	}

	compiledFunc := &CompiledFunction{
		Name:              functionName,
		ByteCode:          bytecode,
		MachineCode:       result.Code,
		CompileTime:       time.Now(),
		OptimizationFlags: flags,
		Promotions:        thread.Promotions,
	}

	c.compiledCode.Store(functionName, compiledFunc)

	compileTime := time.Since(startTime)
	c.stats.mu.Lock()
	c.stats.SuccessfulCompilations++
	c.stats.TotalCompileTime += compileTime
	c.stats.AverageCompileTime = c.stats.TotalCompileTime / time.Duration(c.stats.SuccessfulCompilations)
	c.stats.CompiledCodeSize += int64(len(compiledFunc.MachineCode))
	c.stats.mu.Unlock()

	if c.config.DebugMode {
		fmt.Printf("JIT: compiled %s in %v, %d bytes of machine code\n",
			functionName, compileTime, len(compiledFunc.MachineCode))
	}

	return compiledFunc, nil
}

// ToExecutable compiles functionName (if not already compiled) and
// publishes its machine code into an executable JITFunction ready to
// call. It is the Compiler-level replacement for the teacher's
// AMD64CodeGenerator.CompileToExecutable, now split across
// CompileFunction (produce bytes) and this method (publish them).
//
// Publishing also registers the result as a SpecializedFunction on
// functionName's Stub (stub.go), so a caller holding only the function
// name can look up the right compiled entry point through StubFor/
// Dispatch rather than having to keep the *JITFunction around itself;
// this is the proxy object spec.md §6 describes every call site as going
// through. observedArgs is forwarded to CompileFunction unchanged.
func (c *Compiler) ToExecutable(functionName string, bytecode []opcodes.Instruction, frameWidth, argCount int, observedArgs ...int64) (*JITFunction, error) {
	compiledFunc, err := c.CompileFunction(functionName, bytecode, frameWidth, argCount, observedArgs...)
	if err != nil {
		return nil, err
	}

	if err := EnableNativeExecution(); err != nil && c.debugger != nil {
		c.debugger.LogCompileEvent("native-exec", 0, fmt.Sprintf("%s: falling back to simulated execution", err))
	}

	slabIndex := c.buffer.CurrentSlabIndex()
	chunk, dst, err := c.buffer.Reserve(len(compiledFunc.MachineCode))
	if err != nil {
		return nil, fmt.Errorf("jit: failed to reserve code buffer space: %w", err)
	}
	// Reserve may have grown a new slab to fit this chunk; re-read the
	// index it actually landed in rather than trusting the pre-Reserve one.
	slabIndex = c.buffer.CurrentSlabIndex()
	copy(dst, compiledFunc.MachineCode)

	jitFunc := &JITFunction{
		CompiledFunction: compiledFunc,
		entryPoint:       c.buffer.EntryPoint(slabIndex, chunk),
		slabIndex:        slabIndex,
		chunk:            chunk,
		buffer:           c.buffer,
		nativeCaller:     NewNativeFunctionCaller(),
		debugger:         NewJITDebugger(),
		memProfiler:      NewMemoryProfiler(),
	}
	jitFunc.EntryPoint = jitFunc.entryPoint

	if c.config.DebugMode {
		jitFunc.debugger.Enable()
		jitFunc.debugger.SetTraceLevel(DebugLevelDebug)
		jitFunc.debugger.DumpMachineCode(functionName, compiledFunc.MachineCode, jitFunc.entryPoint)
	}
	jitFunc.memProfiler.RecordAllocation(jitFunc.entryPoint, int64(len(compiledFunc.MachineCode)), functionName)

	stub := c.StubFor(functionName)
	jitFunc.stub = stub
	stub.Add(&SpecializedFunction{
		Name:       functionName,
		EntryPoint: jitFunc.entryPoint,
		FrameWidth: frameWidth,
		Promotions: compiledFunc.Promotions,
		Result:     &CompileResult{Code: compiledFunc.MachineCode},
	})

	return jitFunc, nil
}

// StubFor returns functionName's Stub, creating an empty one the first
// time it's asked for. Every ToExecutable call registers its result here,
// and Dispatch (below) is the read side a caller uses to route a call by
// name without holding onto the *JITFunction itself.
func (c *Compiler) StubFor(functionName string) *Stub {
	if v, ok := c.stubs.Load(functionName); ok {
		return v.(*Stub)
	}
	stub := NewStub(functionName, nil)
	actual, _ := c.stubs.LoadOrStore(functionName, stub)
	return actual.(*Stub)
}

// Dispatch selects the SpecializedFunction functionName's Stub would route
// a call with the given argument values to. It returns an error if
// functionName has never been published through ToExecutable.
func (c *Compiler) Dispatch(functionName string, args []int64) (*SpecializedFunction, error) {
	v, ok := c.stubs.Load(functionName)
	if !ok {
		return nil, fmt.Errorf("jit: %q has no stub (never compiled via ToExecutable)", functionName)
	}
	return v.(*Stub).Dispatch(args)
}

// GetCompiledFunction looks up a previously compiled function by name.
func (c *Compiler) GetCompiledFunction(functionName string) (*CompiledFunction, bool) {
	if compiled, exists := c.compiledCode.Load(functionName); exists {
		return compiled.(*CompiledFunction), true
	}
	return nil, false
}

// RecordFunctionCall feeds the hotspot detector one more call of
// functionName.
func (c *Compiler) RecordFunctionCall(functionName string) {
	c.hotspotDetector.RecordCall(functionName)
}

// GetStats returns a copy of the compiler's aggregate statistics.
func (c *Compiler) GetStats() CompilerStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return *c.stats
}

// applyOptimizations runs every pass c.optimizations() lists whose
// IsApplicable reports true against bytecode, feeding each pass's output
// into the next, and returns the final rewritten stream plus the list of
// passes that actually changed something (surfaced to callers via
// CompiledFunction.OptimizationFlags).
func (c *Compiler) applyOptimizations(bytecode []opcodes.Instruction) ([]opcodes.Instruction, []Optimization) {
	result := bytecode
	var applied []Optimization
	for _, opt := range c.optimizations() {
		if !opt.IsApplicable(result) {
			continue
		}
		rewritten, err := opt.Apply(result)
		if err != nil {
			continue
		}
		result = rewritten
		applied = append(applied, opt)
	}
	return result, applied
}

// ClearCompiledCode discards every cached compilation, used by tests and
// by debug sessions that want to force recompilation.
func (c *Compiler) ClearCompiledCode() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compiledCode = sync.Map{}

	c.stats.mu.Lock()
	c.stats.CompiledCodeSize = 0
	c.stats.mu.Unlock()
}

// IsEnabled reports whether c is a usable, configured compiler.
func (c *Compiler) IsEnabled() bool {
	return c != nil && c.config != nil
}

// GetTopHotspots returns the n functions with the highest call count.
func (c *Compiler) GetTopHotspots(n int) []HotspotRank {
	return c.hotspotDetector.GetTopHotspots(n)
}

// NewThread hands out a CompilerThread for a goroutine about to drive a
// compile, reusing an idle one from the pool when available.
func (c *Compiler) NewThread(parent *CompilerThread) *CompilerThread {
	return c.threads.Get(parent)
}

// ReleaseThread returns a CompilerThread to the idle pool.
func (c *Compiler) ReleaseThread(t *CompilerThread) {
	c.threads.Put(t)
}
