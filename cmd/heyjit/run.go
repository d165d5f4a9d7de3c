package main

import (
	"fmt"

	"github.com/wudi/heyjit/compiler/jit"
	"github.com/wudi/heyjit/compiler/values"
)

// runProgram compiles program fresh (one Compiler per run, so the
// hotspot/threshold state of one invocation never leaks into the next)
// and executes it against program.Args, converting each int64 argument to
// the *values.Value the compiled entry point's Execute expects.
func runProgram(program *Program, debug bool) (*values.Value, error) {
	bytecode, err := program.Bytecode()
	if err != nil {
		return nil, err
	}

	cfg := jit.DefaultConfig()
	cfg.DebugMode = debug
	compiler, err := jit.NewCompiler(cfg)
	if err != nil {
		return nil, err
	}

	jitFunc, err := compiler.ToExecutable(program.Name, bytecode, program.FrameWidth, program.ArgCount)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}
	defer jitFunc.Free()

	args := make([]*values.Value, len(program.Args))
	for i, a := range program.Args {
		args[i] = values.NewInt(a)
	}

	return jitFunc.Execute(args)
}

// newHarnessCompiler is the default-config Compiler the repl's compile
// command uses; kept separate from runProgram's since the repl only
// compiles and never needs ToExecutable's CodeBuffer publication step.
func newHarnessCompiler() (*jit.Compiler, error) {
	return jit.NewCompiler(jit.DefaultConfig())
}

// printREPLHotspots mirrors hotspotsCommand's ranking demo for repl use,
// sharing the same simulated call-traffic shape so the two surfaces agree.
func printREPLHotspots() error {
	compiler, err := newHarnessCompiler()
	if err != nil {
		return err
	}

	names := sortedDemoNames()
	for i, name := range names {
		for c := 0; c <= i; c++ {
			compiler.RecordFunctionCall(name)
		}
	}

	for _, rank := range compiler.GetTopHotspots(len(names)) {
		marker := " "
		if rank.IsHotspot {
			marker = "*"
		}
		fmt.Printf("%s %-12s calls=%d freq=%.2f/s\n", marker, rank.FunctionName, rank.CallCount, rank.CallFrequency)
	}
	return nil
}
