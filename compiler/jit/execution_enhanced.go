package jit

import (
	"fmt"
	"time"

	"github.com/wudi/heyjit/compiler/values"
)

// SetDebugMode toggles execution tracing for this function independently
// of the Compiler-level DebugMode it was published under, used by
// cmd/heyjit's inspect command to turn tracing on for a single call
// without rebuilding the whole Compiler.
func (jf *JITFunction) SetDebugMode(enabled bool) {
	if jf.debugger == nil {
		jf.debugger = NewJITDebugger()
	}

	if enabled {
		jf.debugger.Enable()
		jf.debugger.SetTraceLevel(DebugLevelDebug)
	} else {
		jf.debugger.Disable()
	}
}

// AddBreakpoint arms a breakpoint at this function's entry point.
func (jf *JITFunction) AddBreakpoint() {
	if jf.debugger != nil {
		jf.debugger.AddBreakpoint(jf.entryPoint)
	}
}

// RemoveBreakpoint disarms a previously added breakpoint.
func (jf *JITFunction) RemoveBreakpoint() {
	if jf.debugger != nil {
		jf.debugger.RemoveBreakpoint(jf.entryPoint)
	}
}

// GetDebugStats returns this function's execution-trace statistics.
func (jf *JITFunction) GetDebugStats() DebugStats {
	if jf.debugger != nil {
		return jf.debugger.GetStats()
	}
	return DebugStats{}
}

// GetMemoryStats returns this function's code-memory allocation stats.
func (jf *JITFunction) GetMemoryStats() MemoryStats {
	if jf.memProfiler != nil {
		return jf.memProfiler.GetMemoryStats()
	}
	return MemoryStats{}
}

// GetPerformanceMetrics combines debug, memory, and execution stats into
// one summary, used by cmd/heyjit's inspect command and by IsHealthy's
// success-rate check.
func (jf *JITFunction) GetPerformanceMetrics() JITPerformanceMetrics {
	debugStats := jf.GetDebugStats()
	memStats := jf.GetMemoryStats()
	execStats := jf.GetExecutionStats()

	totalExecutions := debugStats.TotalExecutions
	if totalExecutions == 0 {
		totalExecutions = 1 // avoid a division by zero below
	}

	return JITPerformanceMetrics{
		FunctionName:         jf.Name,
		ExecutionCount:       debugStats.TotalExecutions,
		SuccessRate:          float64(debugStats.SuccessfulExecutions) / float64(totalExecutions),
		AverageExecutionTime: debugStats.AverageExecutionTime,
		TotalExecutionTime:   debugStats.TotalExecutionTime,
		MachineCodeSize:      int64(execStats.MachineCodeSize),
		MemoryUsage:          memStats.CurrentUsage,
		OptimizationLevel:    int64(jf.OptimizationLevel),
	}
}

// JITPerformanceMetrics is a point-in-time snapshot of one function's
// execution health.
type JITPerformanceMetrics struct {
	FunctionName         string
	ExecutionCount       int64
	SuccessRate          float64
	AverageExecutionTime time.Duration
	TotalExecutionTime   time.Duration
	MachineCodeSize      int64
	MemoryUsage          int64
	OptimizationLevel    int64
}

// Validate checks this JITFunction's invariants before the inspect
// command (or any other caller) trusts it enough to execute: a non-null
// entry point, executable memory actually backing it, and a clean bill of
// health from the debugger's machine-code validator.
func (jf *JITFunction) Validate() error {
	if jf.entryPoint == 0 {
		return fmt.Errorf("invalid entry point")
	}

	if jf.executableMemory == nil && jf.buffer == nil {
		return fmt.Errorf("no executable memory allocated")
	}

	if len(jf.MachineCode) == 0 {
		return fmt.Errorf("no machine code generated")
	}

	if jf.debugger != nil {
		issues := jf.debugger.ValidateMachineCode(jf.MachineCode)
		for _, issue := range issues {
			if issue.Level == "ERROR" {
				return fmt.Errorf("machine code validation error: %s", issue.Message)
			}
		}
	}

	return nil
}

// Clone copies this function's machine code into a fresh, independently
// owned executable allocation, used for ad hoc testing of a function
// outside the CodeBuffer it was originally published into.
func (jf *JITFunction) Clone(newName string) (*JITFunction, error) {
	newExecMem, err := AllocateExecutableMemory(len(jf.MachineCode))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate memory for clone: %v", err)
	}

	err = newExecMem.WriteBytes(0, jf.MachineCode)
	if err != nil {
		newExecMem.Free()
		return nil, fmt.Errorf("failed to write machine code to clone: %v", err)
	}

	clone := &JITFunction{
		CompiledFunction: &CompiledFunction{
			Name:              newName,
			MachineCode:       make([]byte, len(jf.MachineCode)),
			EntryPoint:        newExecMem.GetFunctionPointer(0),
			OptimizationLevel: jf.OptimizationLevel,
			OptimizationFlags: make([]string, len(jf.OptimizationFlags)),
		},
		executableMemory: newExecMem,
		entryPoint:       newExecMem.GetFunctionPointer(0),
		nativeCaller:     NewNativeFunctionCaller(),
		debugger:         NewJITDebugger(),
		memProfiler:      NewMemoryProfiler(),
	}

	copy(clone.MachineCode, jf.MachineCode)
	copy(clone.OptimizationFlags, jf.OptimizationFlags)

	clone.memProfiler.RecordAllocation(clone.entryPoint, int64(len(clone.MachineCode)), newName)

	return clone, nil
}

// ExecuteWithContext runs the compiled function against a caller-supplied
// JITExecutionContext instead of a fresh one, letting a caller inspect or
// reuse the register/stack shadow state across several calls. Nothing in
// this module calls it.
func (jf *JITFunction) ExecuteWithContext(ctx *JITExecutionContext, args []*values.Value) (*values.Value, error) {
	nativeArgs, err := jf.convertArgsToNative(args)
	if err != nil {
		return nil, fmt.Errorf("failed to convert arguments: %v", err)
	}

	result, err := jf.executeNative(ctx, nativeArgs)
	if err != nil {
		return nil, err
	}

	return jf.convertResultFromNative(result)
}

// CreateTrampoline builds a standalone jump stub pointing at this
// function's entry point, usable as a second, independently freeable
// handle to the same compiled code.
func (jf *JITFunction) CreateTrampoline() (*ExecutableMemory, error) {
	if jf.nativeCaller == nil {
		jf.nativeCaller = NewNativeFunctionCaller()
	}

	return jf.nativeCaller.CreateFunctionTrampoline(jf.entryPoint)
}

// WarmUp calls the function a few times with placeholder arguments,
// letting a caller (the inspect command, or a server warming up a hot
// path before traffic arrives) absorb the first-call cost of page faults
// and branch predictor training ahead of time.
func (jf *JITFunction) WarmUp() error {
	warmupArgs := []*values.Value{
		values.NewInt(1),
		values.NewInt(2),
	}

	for i := 0; i < 3; i++ {
		_, err := jf.Execute(warmupArgs)
		if err != nil {
			return fmt.Errorf("warmup execution %d failed: %v", i+1, err)
		}
	}

	return nil
}

// ExecuteWithTimeout runs Execute on its own goroutine and returns an
// error if it doesn't finish within timeout — a safety net for the
// inspect command's --timeout flag when pointed at an untrusted or
// hand-edited bytecode program.
func (jf *JITFunction) ExecuteWithTimeout(args []*values.Value, timeout time.Duration) (*values.Value, error) {
	resultChan := make(chan *values.Value, 1)
	errorChan := make(chan error, 1)

	go func() {
		result, err := jf.Execute(args)
		if err != nil {
			errorChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("JIT execution timed out after %v", timeout)
	}
}

// GetInstructionCount estimates the number of x86 instructions in this
// function's machine code, assuming an average instruction length of
// three bytes (AMD64Emitter's REX+opcode+ModR/M shapes average close to
// that across add/mov/cmp/jmp).
func (jf *JITFunction) GetInstructionCount() int {
	return len(jf.MachineCode) / 3
}

// PrintDebugInfo dumps this function's entry point, code size, and
// execution/memory stats to stdout; the inspect command's --verbose flag
// is a thin wrapper over this.
func (jf *JITFunction) PrintDebugInfo() {
	fmt.Printf("=== JIT Function Debug Info: %s ===\n", jf.Name)
	fmt.Printf("Entry Point: 0x%x\n", jf.entryPoint)
	fmt.Printf("Machine Code Size: %d bytes\n", len(jf.MachineCode))
	fmt.Printf("Estimated Instructions: %d\n", jf.GetInstructionCount())
	fmt.Printf("Optimization Level: %d\n", jf.OptimizationLevel)

	if jf.debugger != nil {
		fmt.Println("\nExecution Stats:")
		jf.debugger.PrintStats()

		fmt.Println("\nMemory Stats:")
		jf.memProfiler.PrintMemoryStats()

		fmt.Println("\nMachine Code:")
		jf.debugger.DumpMachineCode(jf.Name, jf.MachineCode, jf.entryPoint)
	}

	fmt.Println("=====================================")
}

// IsHealthy reports whether this function both validates and has a
// recorded success rate above 80%, the threshold the inspect command uses
// to flag a function worth investigating further.
func (jf *JITFunction) IsHealthy() bool {
	err := jf.Validate()
	if err != nil {
		return false
	}

	metrics := jf.GetPerformanceMetrics()
	return metrics.SuccessRate > 0.8
}
