package jit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyjit/compiler/opcodes"
)

func TestNewCompiler(t *testing.T) {
	compiler, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, compiler)
	assert.True(t, compiler.IsEnabled())
}

func TestNewCompilerRejectsUnsupportedArch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetArch = "arm64"
	_, err := NewCompiler(cfg)
	assert.Error(t, err)
}

func TestHotspotDetector(t *testing.T) {
	detector := NewHotspotDetector(3)
	defer detector.Stop()

	funcName := "testFunction"

	assert.False(t, detector.IsHotspot(funcName))

	detector.RecordCall(funcName)
	detector.RecordCall(funcName)
	assert.False(t, detector.IsHotspot(funcName), "should not be hot with 2 calls against a threshold of 3")

	detector.RecordCall(funcName)
	assert.True(t, detector.IsHotspot(funcName), "should be hot after the third call")

	stats := detector.GetStats()
	assert.Equal(t, 1, stats.HotspotFunctions)
	assert.EqualValues(t, 3, stats.TotalCalls)
}

func TestFunctionCallInfo(t *testing.T) {
	detector := NewHotspotDetector(5)
	defer detector.Stop()

	funcName := "testFunction"
	for i := 0; i < 3; i++ {
		detector.RecordCall(funcName)
		time.Sleep(time.Millisecond)
	}

	info, exists := detector.GetFunctionInfo(funcName)
	require.True(t, exists)
	assert.EqualValues(t, 3, info.CallCount)
	assert.Greater(t, info.CallFrequency, 0.0)
	assert.False(t, info.IsHotspot, "threshold is 5, three calls shouldn't trip it")
}

// addTwoBytecode is a minimal function body compileBody can actually
// finish: load two args into a temporary via ASSIGN semantics, ADD them,
// RETURN the result. Argument slots 0 and 1 are bound by bindArguments
// before the walk starts, so OP_ADD can read them directly.
func addTwoBytecode() []opcodes.Instruction {
	return []opcodes.Instruction{
		{
			Opcode: opcodes.OP_ADD,
			Op1:    0,
			Op2:    1,
			Result: 2,
		},
		{
			Opcode: opcodes.OP_RETURN,
			Op1:    2,
		},
	}
}

func TestCompileFunction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompilationThreshold = 1

	compiler, err := NewCompiler(cfg)
	require.NoError(t, err)

	funcName := "addTwo"
	compiler.RecordFunctionCall(funcName)
	assert.True(t, compiler.ShouldCompile(funcName))

	compiledFunc, err := compiler.CompileFunction(funcName, addTwoBytecode(), 3, 2)
	require.NoError(t, err)
	require.NotNil(t, compiledFunc)
	assert.Equal(t, funcName, compiledFunc.Name)
	assert.NotEmpty(t, compiledFunc.MachineCode)

	cached, exists := compiler.GetCompiledFunction(funcName)
	require.True(t, exists)
	assert.Same(t, compiledFunc, cached)

	// Recompiling the same name returns the cached result rather than
	// compiling a second time.
	again, err := compiler.CompileFunction(funcName, addTwoBytecode(), 3, 2)
	require.NoError(t, err)
	assert.Same(t, compiledFunc, again)
}

func TestCompileFunctionRejectsUnsupportedOpcode(t *testing.T) {
	compiler, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)

	bytecode := []opcodes.Instruction{
		{Opcode: opcodes.OP_YIELD},
	}

	_, err = compiler.CompileFunction("uncompilable", bytecode, 1, 0)
	assert.ErrorIs(t, err, ErrUnsupportedBytecode)
}

func TestToExecutable(t *testing.T) {
	compiler, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)

	jitFunc, err := compiler.ToExecutable("addTwo", addTwoBytecode(), 3, 2)
	require.NoError(t, err)
	require.NotNil(t, jitFunc)
	assert.NotZero(t, jitFunc.entryPoint)
	assert.Equal(t, jitFunc.entryPoint, jitFunc.EntryPoint)

	// CodeBuffer-backed functions don't own a standalone ExecutableMemory,
	// so Free is a no-op rather than an unmap.
	assert.NoError(t, jitFunc.Free())
}

func TestCompilerStats(t *testing.T) {
	compiler, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)

	stats := compiler.GetStats()
	assert.Zero(t, stats.TotalCompilations)

	funcName := "testFunction"
	for i := 0; i < 5; i++ {
		compiler.RecordFunctionCall(funcName)
	}

	hotspotStats := compiler.hotspotDetector.GetStats()
	assert.EqualValues(t, 5, hotspotStats.TotalCalls)

	_, err = compiler.CompileFunction(funcName, addTwoBytecode(), 3, 2)
	require.NoError(t, err)

	stats = compiler.GetStats()
	assert.EqualValues(t, 1, stats.TotalCompilations)
	assert.EqualValues(t, 1, stats.SuccessfulCompilations)
	assert.Positive(t, stats.CompiledCodeSize)
}

func TestHotspotRanking(t *testing.T) {
	detector := NewHotspotDetector(2)
	defer detector.Stop()

	functions := []struct {
		name  string
		calls int
	}{
		{"func1", 5},
		{"func2", 10},
		{"func3", 3},
		{"func4", 15},
	}

	for _, f := range functions {
		for i := 0; i < f.calls; i++ {
			detector.RecordCall(f.name)
			if i < f.calls-1 {
				time.Sleep(100 * time.Microsecond)
			}
		}
	}

	topHotspots := detector.GetTopHotspots(3)
	require.Len(t, topHotspots, 3)

	for i := 0; i < len(topHotspots)-1; i++ {
		assert.GreaterOrEqual(t, topHotspots[i].CallCount, topHotspots[i+1].CallCount)
	}
	assert.Equal(t, "func4", topHotspots[0].FunctionName)
}

func TestThresholdUpdate(t *testing.T) {
	detector := NewHotspotDetector(5)
	defer detector.Stop()

	funcName := "testFunction"
	for i := 0; i < 3; i++ {
		detector.RecordCall(funcName)
	}
	assert.False(t, detector.IsHotspot(funcName))

	detector.SetThreshold(2)
	assert.True(t, detector.IsHotspot(funcName), "lowering the threshold below the existing call count should flip it hot immediately")
}

func TestCompilerConfiguration(t *testing.T) {
	cfg := &Config{
		CompilationThreshold: 20,
		MaxCompiledFunctions: 500,
		EnableOptimizations:  false,
		TargetArch:           "amd64",
		DebugMode:            true,
	}

	compiler, err := NewCompiler(cfg)
	require.NoError(t, err)
	assert.Equal(t, 20, compiler.config.CompilationThreshold)
	assert.False(t, compiler.config.EnableOptimizations)
	assert.True(t, compiler.config.DebugMode)
}

// TestCompileFunctionWithObservedArgsPopulatesPromotions checks that
// passing observedArgs through to CompileFunction (rather than compiling
// blind) ends up on the resulting CompiledFunction's Promotions table, so a
// later recompile or Dispatch can see what this compile specialized on.
func TestCompileFunctionWithObservedArgsPopulatesPromotions(t *testing.T) {
	cfg := DefaultConfig()
	compiler, err := NewCompiler(cfg)
	require.NoError(t, err)

	compiledFunc, err := compiler.CompileFunction("addTwoObserved", addTwoBytecode(), 3, 2, 5, 7)
	require.NoError(t, err)
	require.NotNil(t, compiledFunc.Promotions)

	site := compiledFunc.Promotions.SiteAt(0)
	_, ok := site.Lookup(5)
	assert.True(t, ok)
}

// TestToExecutableRegistersStubAndDispatch covers stub.go's review point:
// publishing a function through ToExecutable must register a
// SpecializedFunction on its Stub so a caller holding only the function
// name can route a call through Compiler.Dispatch (spec.md §6).
func TestToExecutableRegistersStubAndDispatch(t *testing.T) {
	compiler, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)

	jitFunc, err := compiler.ToExecutable("addTwo", addTwoBytecode(), 3, 2)
	require.NoError(t, err)
	defer jitFunc.Free()

	require.NotNil(t, jitFunc.stub)
	assert.Same(t, jitFunc.stub, compiler.StubFor("addTwo"))

	spec, err := compiler.Dispatch("addTwo", []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, jitFunc.entryPoint, spec.EntryPoint)
}

// TestDispatchOnUncompiledFunctionErrors confirms Dispatch doesn't panic on
// a name no ToExecutable call has ever published.
func TestDispatchOnUncompiledFunctionErrors(t *testing.T) {
	compiler, err := NewCompiler(DefaultConfig())
	require.NoError(t, err)

	_, err = compiler.Dispatch("neverCompiled", nil)
	assert.Error(t, err)
}

// TestApplyOptimizationsRunsNopElimination exercises the real optimization
// pass registered in optimize.go rather than the no-op
// applyOptimizations used to be: a function whose bytecode starts with an
// OP_NOP compiles, and the applied pass is reported on OptimizationFlags.
func TestApplyOptimizationsRunsNopElimination(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableOptimizations = true
	compiler, err := NewCompiler(cfg)
	require.NoError(t, err)

	withNop := append([]opcodes.Instruction{{Opcode: opcodes.OP_NOP}}, addTwoBytecode()...)
	compiled, err := compiler.CompileFunction("addTwoWithNop", withNop, 3, 2)
	require.NoError(t, err)
	assert.Contains(t, compiled.OptimizationFlags, "NopElimination")
}

func BenchmarkHotspotDetection(b *testing.B) {
	detector := NewHotspotDetector(100)
	defer detector.Stop()

	funcName := "benchmarkFunction"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		detector.RecordCall(funcName)
	}
}

func BenchmarkCompilerCreation(b *testing.B) {
	cfg := DefaultConfig()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		compiler, err := NewCompiler(cfg)
		if err != nil {
			b.Fatalf("failed to create compiler: %v", err)
		}
		_ = compiler
	}
}
