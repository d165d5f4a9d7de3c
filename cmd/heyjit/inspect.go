package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/wudi/heyjit/compiler/jit"
	"github.com/wudi/heyjit/compiler/values"
)

// inspectCommand publishes a demo program to an executable JITFunction and
// drives it through the health-check and diagnostic surface
// execution_enhanced.go exposes: warm-up, a timeout-bounded call, a
// validity check, and a printed debug dump. Where compile/run only care
// about the result of one call, inspect exists to exercise the
// operational tooling around a compiled function the way an embedder
// debugging a slow or crashing specialization would.
var inspectCommand = &cli.Command{
	Name:      "inspect",
	Usage:     "publish a program and report its health, warm it up, and dump debug info",
	ArgsUsage: "<demo-name-or-path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "verbose", Usage: "print the full PrintDebugInfo dump"},
		&cli.DurationFlag{Name: "timeout", Value: 2 * time.Second, Usage: "timeout for the probe call"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("heyjit inspect: expected a program name or path")
		}
		program, err := resolveProgram(cmd.Args().First())
		if err != nil {
			return err
		}
		bytecode, err := program.Bytecode()
		if err != nil {
			return err
		}

		cfg := jit.DefaultConfig()
		compiler, err := jit.NewCompiler(cfg)
		if err != nil {
			return err
		}

		jitFunc, err := compiler.ToExecutable(program.Name, bytecode, program.FrameWidth, program.ArgCount)
		if err != nil {
			return fmt.Errorf("inspect: compile failed: %w", err)
		}
		defer jitFunc.Free()

		jitFunc.SetDebugMode(true)
		jitFunc.AddBreakpoint()

		if err := jitFunc.Validate(); err != nil {
			return fmt.Errorf("inspect: %q failed validation: %w", program.Name, err)
		}

		if err := jitFunc.WarmUp(); err != nil {
			return fmt.Errorf("inspect: warm-up failed: %w", err)
		}

		args := make([]*values.Value, len(program.Args))
		for i, a := range program.Args {
			args[i] = values.NewInt(a)
		}
		result, err := jitFunc.ExecuteWithTimeout(args, cmd.Duration("timeout"))
		if err != nil {
			return fmt.Errorf("inspect: timed probe call failed: %w", err)
		}

		metrics := jitFunc.GetPerformanceMetrics()
		fmt.Printf("%s(%v) = %s\n", program.Name, program.Args, result.ToString())
		fmt.Printf("healthy=%v success_rate=%.2f machine_code=%d bytes\n",
			jitFunc.IsHealthy(), metrics.SuccessRate, metrics.MachineCodeSize)

		if cmd.Bool("verbose") {
			jitFunc.PrintDebugInfo()

			trampoline, err := jitFunc.CreateTrampoline()
			if err != nil {
				return fmt.Errorf("inspect: trampoline: %w", err)
			}
			defer trampoline.Free()
			fmt.Printf("trampoline entry: 0x%x\n", trampoline.GetFunctionPointer(0))
		}

		jitFunc.RemoveBreakpoint()

		return nil
	},
}
