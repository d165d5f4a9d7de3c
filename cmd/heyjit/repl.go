package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"
)

// replCommand drives an interactive shell over the same compile/run/
// hotspots operations the non-interactive subcommands expose, so a
// developer can poke at the compiler without re-invoking the binary for
// every demo program. Unlike the teacher's shell (bufio.Scanner over
// os.Stdin), this one genuinely uses chzyer/readline for line editing and
// history — there is no source language to parse here, so there is no
// multiline-buffering concern the teacher's shell had to solve.
var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "interactive shell for compiling and running demo programs",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runREPL()
	},
}

func runREPL() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "heyjit> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("heyjit: starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("heyjit interactive shell. Commands: list, compile <name>, run <name>, hotspots, exit")
	fmt.Printf("known demo programs: %s\n", demoNameList())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmdName := fields[0]
		var arg string
		if len(fields) > 1 {
			arg = fields[1]
		}

		if err := dispatchREPLCommand(cmdName, arg); err != nil {
			if err == errREPLExit {
				return nil
			}
			fmt.Printf("error: %v\n", err)
		}
	}
}

var errREPLExit = fmt.Errorf("heyjit: repl exit requested")

func dispatchREPLCommand(cmdName, arg string) error {
	switch cmdName {
	case "exit", "quit":
		return errREPLExit
	case "list":
		fmt.Println(demoNameList())
		return nil
	case "compile":
		if arg == "" {
			return fmt.Errorf("usage: compile <name>")
		}
		program, err := resolveProgram(arg)
		if err != nil {
			return err
		}
		bytecode, err := program.Bytecode()
		if err != nil {
			return err
		}
		compiler, err := newHarnessCompiler()
		if err != nil {
			return err
		}
		compiled, err := compiler.CompileFunction(program.Name, bytecode, program.FrameWidth, program.ArgCount)
		if err != nil {
			return err
		}
		fmt.Printf("compiled %q: %d bytes of machine code\n", compiled.Name, len(compiled.MachineCode))
		return nil
	case "run":
		if arg == "" {
			return fmt.Errorf("usage: run <name>")
		}
		program, err := resolveProgram(arg)
		if err != nil {
			return err
		}
		result, err := runProgram(program, false)
		if err != nil {
			return err
		}
		fmt.Printf("%s(%v) = %s\n", program.Name, program.Args, result.ToString())
		return nil
	case "hotspots":
		return printREPLHotspots()
	default:
		return fmt.Errorf("unknown command %q (try: list, compile, run, hotspots, exit)", cmdName)
	}
}
