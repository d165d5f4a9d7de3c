// Package vm is the bytecode interpreter the JIT falls back to whenever
// compileBody declines to specialize a function (an unsupported opcode, a
// compile budget trip, an incompatible merge-point state). It executes
// the same []opcodes.Instruction stream the compiler consumes, over the
// same frame-slot indexing scheme dispatch.go's meta-ops use, so the two
// execution paths agree on what a given bytecode function means.
//
// Grounded on the teacher's vm.VirtualMachine dispatch loop
// (wudi-hey/vm/vm.go): a switch over instr.Opcode driving an instruction
// pointer, generalized down to the opcode subset this module's
// metaopTable actually specializes (DESIGN.md) and stripped of the
// class/include/object machinery a JIT's fallback interpreter has no use
// for here.
package vm

import (
	"errors"
	"fmt"

	"github.com/wudi/heyjit/compiler/opcodes"
	"github.com/wudi/heyjit/compiler/values"
)

// ErrUnsupportedOpcode is returned when Run meets an opcode neither the
// interpreter nor the JIT compiler knows how to execute at all — distinct
// from jit.ErrUnsupportedBytecode, which just means "this compiler
// declined to specialize it" (the interpreter is supposed to be a
// superset of what the compiler supports).
var ErrUnsupportedOpcode = errors.New("vm: unsupported opcode")

// ErrFrameSlotUnset is returned when an instruction reads a frame slot
// that was never written, mirroring dispatch.go's own "unset slot"
// compile errors (metaops.go) but as a runtime condition instead of a
// compile-time one.
var ErrFrameSlotUnset = errors.New("vm: read from an unset frame slot")

// Machine executes a single function body at a time; it carries no state
// across Run calls beyond the pendingCompare register dispatch.go's
// compiled code also threads through EFLAGS at the machine-code level.
type Machine struct {
	pendingCompare int            // -1, 0, or 1: result of the most recent comparison opcode
	pendingOp      opcodes.Opcode // which comparison opcode produced pendingCompare
}

// New returns a ready-to-use interpreter.
func New() *Machine {
	return &Machine{}
}

// Run executes code against frame (frame[i] holds the *values.Value
// currently in slot i; nil means unset), returning the value passed to
// the function's OP_RETURN. frame is mutated in place, mirroring how
// dispatch.go's FrameState is mutated as compileBody walks the same
// instruction stream.
func (m *Machine) Run(code []opcodes.Instruction, frame []*values.Value) (*values.Value, error) {
	ip := 0
	for ip < len(code) {
		instr := code[ip]
		next, result, done, err := m.step(instr, frame, ip)
		if err != nil {
			return nil, fmt.Errorf("vm: at instruction %d: %w", ip, err)
		}
		if done {
			return result, nil
		}
		ip = next
	}
	return values.NewNull(), nil
}

func (m *Machine) step(instr opcodes.Instruction, frame []*values.Value, ip int) (next int, result *values.Value, done bool, err error) {
	get := func(slot uint32) (*values.Value, error) {
		i := int(slot)
		if i < 0 || i >= len(frame) || frame[i] == nil {
			return nil, ErrFrameSlotUnset
		}
		return frame[i], nil
	}
	set := func(slot uint32, v *values.Value) {
		i := int(slot)
		if i >= 0 && i < len(frame) {
			frame[i] = v
		}
	}

	switch instr.Opcode {
	case opcodes.OP_NOP:
		return ip + 1, nil, false, nil

	case opcodes.OP_ADD, opcodes.OP_SUB, opcodes.OP_MUL, opcodes.OP_DIV:
		lhs, err := get(instr.Op1)
		if err != nil {
			return 0, nil, false, err
		}
		rhs, err := get(instr.Op2)
		if err != nil {
			return 0, nil, false, err
		}
		set(instr.Result, applyBinOp(instr.Opcode, lhs, rhs))
		return ip + 1, nil, false, nil

	case opcodes.OP_IS_EQUAL, opcodes.OP_IS_NOT_EQUAL, opcodes.OP_IS_SMALLER, opcodes.OP_IS_SMALLER_OR_EQUAL:
		lhs, err := get(instr.Op1)
		if err != nil {
			return 0, nil, false, err
		}
		rhs, err := get(instr.Op2)
		if err != nil {
			return 0, nil, false, err
		}
		m.pendingCompare = lhs.Compare(rhs)
		m.pendingOp = instr.Opcode
		return ip + 1, nil, false, nil

	case opcodes.OP_ASSIGN, opcodes.OP_FETCH_R, opcodes.OP_FETCH_W:
		v, err := get(instr.Op1)
		if err != nil {
			return 0, nil, false, err
		}
		set(instr.Result, v)
		return ip + 1, nil, false, nil

	case opcodes.OP_JMP:
		return int(instr.Op1), nil, false, nil

	case opcodes.OP_JMPZ:
		if !m.compareTrue(instr.Opcode) {
			return int(instr.Op2), nil, false, nil
		}
		return ip + 1, nil, false, nil

	case opcodes.OP_JMPNZ:
		if m.compareTrue(instr.Opcode) {
			return int(instr.Op2), nil, false, nil
		}
		return ip + 1, nil, false, nil

	case opcodes.OP_RETURN:
		v, err := get(instr.Op1)
		if err != nil {
			return 0, nil, true, nil //nolint:nilerr // returning an unset slot yields null, not a runtime error
		}
		return 0, v, true, nil

	default:
		return 0, nil, false, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, instr.Opcode.String())
	}
}

// compareTrue reinterprets pendingCompare (a three-way Compare result) as
// a boolean for JMPZ/JMPNZ, whose real condition was set by whichever
// comparison opcode most recently ran. A program that jumps without a
// preceding comparison falls back to "zero/false", matching
// dispatcher.pendingCompare's zero value in dispatch.go.
func (m *Machine) compareTrue(_ opcodes.Opcode) bool {
	switch m.pendingOp {
	case opcodes.OP_IS_EQUAL:
		return m.pendingCompare == 0
	case opcodes.OP_IS_NOT_EQUAL:
		return m.pendingCompare != 0
	case opcodes.OP_IS_SMALLER:
		return m.pendingCompare < 0
	case opcodes.OP_IS_SMALLER_OR_EQUAL:
		return m.pendingCompare <= 0
	default:
		return false
	}
}

func applyBinOp(op opcodes.Opcode, lhs, rhs *values.Value) *values.Value {
	switch op {
	case opcodes.OP_ADD:
		return lhs.Add(rhs)
	case opcodes.OP_SUB:
		return lhs.Subtract(rhs)
	case opcodes.OP_MUL:
		return lhs.Multiply(rhs)
	case opcodes.OP_DIV:
		return lhs.Divide(rhs)
	default:
		return values.NewNull()
	}
}
