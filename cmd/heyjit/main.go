package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wudi/heyjit/compiler/jit"
	"github.com/wudi/heyjit/version"
)

func main() {
	app := &cli.Command{
		Name:  "heyjit",
		Usage: "a standalone harness for the specializing JIT compiler",
		Commands: []*cli.Command{
			compileCommand,
			runCommand,
			hotspotsCommand,
			replCommand,
			inspectCommand,
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "version",
				Usage: "print the version and exit",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("version") {
				fmt.Println(version.Version())
				return nil
			}
			return cli.ShowAppHelp(cmd)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveProgram loads a Program either from a named demo (one of
// demoPrograms) or from a JSON file on disk, so every subcommand shares
// one lookup rule instead of re-implementing it.
func resolveProgram(nameOrPath string) (*Program, error) {
	if p, ok := demoPrograms[nameOrPath]; ok {
		return p, nil
	}
	return LoadProgram(nameOrPath)
}

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "compile a bytecode program and report the result without executing it",
	ArgsUsage: "<demo-name-or-path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "debug", Usage: "enable compiler debug tracing"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("heyjit compile: expected a program name or path")
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
		cfg.DebugMode = cmd.Bool("debug")
		compiler, err := jit.NewCompiler(cfg)
		if err != nil {
			return err
		}

		compiled, err := compiler.CompileFunction(program.Name, bytecode, program.FrameWidth, program.ArgCount)
		if err != nil {
			return fmt.Errorf("compile failed: %w", err)
		}

		fmt.Printf("compiled %q: %d bytes of machine code, %d instructions\n",
			compiled.Name, len(compiled.MachineCode), len(bytecode))
		return nil
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "compile and execute a bytecode program against its sample arguments",
	ArgsUsage: "<demo-name-or-path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "debug", Usage: "enable compiler and execution debug tracing"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("heyjit run: expected a program name or path")
		}
		program, err := resolveProgram(cmd.Args().First())
		if err != nil {
			return err
		}

		result, err := runProgram(program, cmd.Bool("debug"))
		if err != nil {
			return err
		}

		fmt.Printf("%s(%v) = %s\n", program.Name, program.Args, result.ToString())
		return nil
	},
}

var hotspotsCommand = &cli.Command{
	Name:  "hotspots",
	Usage: "feed every known demo program through the hotspot detector and print the ranking",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "threshold", Value: 3, Usage: "call count a function must reach to be considered hot"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg := jit.DefaultConfig()
		cfg.CompilationThreshold = int(cmd.Int("threshold"))
		compiler, err := jit.NewCompiler(cfg)
		if err != nil {
			return err
		}

		names := sortedDemoNames()
		for i, name := range names {
			// Give later-listed demos more simulated traffic so the
			// ranking has something to show.
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
	},
}

func sortedDemoNames() []string {
	names := make([]string, 0, len(demoPrograms))
	for name := range demoPrograms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func demoNameList() string {
	return strings.Join(sortedDemoNames(), ", ")
}
