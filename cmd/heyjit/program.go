package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// Program is the unit compile/run operate on: a named bytecode function
// plus the frame geometry Compiler.CompileFunction needs to size its
// FrameState. This module has no PHP parser of its own (bytecode decoding
// is an external collaborator, per DESIGN.md), so a Program is the
// smallest thing that can stand in for "a function the real interpreter
// would have handed the compiler".
type Program struct {
	Name       string     `json:"name"`
	FrameWidth int        `json:"frame_width"`
	ArgCount   int        `json:"arg_count"`
	Code       []rawInstr `json:"code"`
	Args       []int64    `json:"args,omitempty"`
}

// rawInstr mirrors opcodes.Instruction field-for-field in JSON form: the
// byte-packed OpType1/OpType2 encoding is an internal wire-format detail
// no one hand-writing a demo program should have to reproduce, so
// toInstruction always encodes every operand as IS_TMP_VAR — every
// metaop in this compiler reads operands as frame-slot indices regardless
// of the declared operand kind, so the distinction carries no weight here.
type rawInstr struct {
	Op     string `json:"op"`
	Op1    uint32 `json:"op1"`
	Op2    uint32 `json:"op2"`
	Result uint32 `json:"result"`
}

var opcodeByName = map[string]opcodes.Opcode{
	"ADD":                 opcodes.OP_ADD,
	"SUB":                 opcodes.OP_SUB,
	"MUL":                 opcodes.OP_MUL,
	"DIV":                 opcodes.OP_DIV,
	"IS_EQUAL":            opcodes.OP_IS_EQUAL,
	"IS_NOT_EQUAL":        opcodes.OP_IS_NOT_EQUAL,
	"IS_SMALLER":          opcodes.OP_IS_SMALLER,
	"IS_SMALLER_OR_EQUAL": opcodes.OP_IS_SMALLER_OR_EQUAL,
	"ASSIGN":              opcodes.OP_ASSIGN,
	"FETCH_R":             opcodes.OP_FETCH_R,
	"FETCH_W":             opcodes.OP_FETCH_W,
	"JMP":                 opcodes.OP_JMP,
	"JMPZ":                opcodes.OP_JMPZ,
	"JMPNZ":               opcodes.OP_JMPNZ,
	"RETURN":              opcodes.OP_RETURN,
	"NOP":                 opcodes.OP_NOP,
}

func (r rawInstr) toInstruction() (opcodes.Instruction, error) {
	op, ok := opcodeByName[r.Op]
	if !ok {
		return opcodes.Instruction{}, fmt.Errorf("heyjit: unknown opcode %q (supported: ADD SUB MUL DIV IS_EQUAL IS_NOT_EQUAL IS_SMALLER IS_SMALLER_OR_EQUAL ASSIGN FETCH_R FETCH_W JMP JMPZ JMPNZ RETURN NOP)", r.Op)
	}
	opType1, opType2 := opcodes.EncodeOpTypes(opcodes.IS_TMP_VAR, opcodes.IS_TMP_VAR, opcodes.IS_TMP_VAR)
	return opcodes.Instruction{
		Opcode:  op,
		OpType1: opType1,
		OpType2: opType2,
		Op1:     r.Op1,
		Op2:     r.Op2,
		Result:  r.Result,
	}, nil
}

// LoadProgram decodes a Program from a JSON file.
func LoadProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heyjit: reading program file: %w", err)
	}
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("heyjit: decoding program file: %w", err)
	}
	return &p, nil
}

// Bytecode decodes the program's instruction list, reporting the first
// unrecognized opcode name it finds.
func (p *Program) Bytecode() ([]opcodes.Instruction, error) {
	out := make([]opcodes.Instruction, len(p.Code))
	for i, r := range p.Code {
		instr, err := r.toInstruction()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out[i] = instr
	}
	return out, nil
}

// demoPrograms are small hand-built bytecode functions exercising the
// compiler end to end without needing a real PHP frontend, mirroring how
// the teacher's own examples/jit-demo hand-assembles sample bytecode
// (DESIGN.md).
var demoPrograms = map[string]*Program{
	"add": {
		Name:       "add",
		FrameWidth: 3,
		ArgCount:   2,
		Code: []rawInstr{
			{Op: "ADD", Op1: 0, Op2: 1, Result: 2},
			{Op: "RETURN", Op1: 2},
		},
		Args: []int64{17, 25},
	},
	"sub": {
		Name:       "sub",
		FrameWidth: 3,
		ArgCount:   2,
		Code: []rawInstr{
			{Op: "SUB", Op1: 0, Op2: 1, Result: 2},
			{Op: "RETURN", Op1: 2},
		},
		Args: []int64{100, 42},
	},
	"countdown": {
		// Not a loop: "n = n - 1" can't be written here since this module
		// has no constant-pool opcode of its own (constants fold purely
		// through the CompileTime lattice, not a bytecode immediate). The
		// program compares n (slot 0, the argument) against itself, which
		// is always equal, so JMPZ falls through and the first RETURN
		// yields n. No offset has two incoming paths, so it has no merge
		// point.
		Name:       "countdown",
		FrameWidth: 2,
		ArgCount:   1,
		Code: []rawInstr{
			{Op: "IS_EQUAL", Op1: 0, Op2: 0},
			{Op: "JMPZ", Op2: 3},
			{Op: "RETURN", Op1: 0},
			{Op: "RETURN", Op1: 0},
		},
		Args: []int64{7},
	},
}
