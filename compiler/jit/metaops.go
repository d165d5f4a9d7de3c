package jit

import (
	"fmt"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// MetaOp is the compile-time counterpart of a single bytecode opcode: given
// the current FrameState and the instruction's decoded operands, it emits
// machine code (via the Compiler's Emitter), updates the FrameState in
// place (which slot, if any, now holds a new Vinfo), and returns an error
// if it cannot compile the instruction. spec.md §4.9 calls
// this "a host function paired with a compile-time counterpart"; the
// registry below is the concrete pairing table.
type MetaOp func(c *dispatcher, instr opcodes.Instruction, index int) error

// metaopTable maps each supported opcode to its MetaOp. Per
// SPEC_FULL.md §5(a), a failed emission deliberately does not roll back an
// already-installed table entry — this reproduces Psyco's
// psyco_generic_call behavior rather than "fixing" it.
var metaopTable = map[opcodes.Opcode]MetaOp{
	opcodes.OP_ADD: metaBinOp("add"),
	opcodes.OP_SUB: metaBinOp("sub"),
	opcodes.OP_MUL: metaBinOp("mul"),
	opcodes.OP_DIV: metaBinOp("div"),

	opcodes.OP_IS_EQUAL:             metaCompare(CondEqual),
	opcodes.OP_IS_NOT_EQUAL:         metaCompare(CondNotEqual),
	opcodes.OP_IS_SMALLER:           metaCompare(CondLess),
	opcodes.OP_IS_SMALLER_OR_EQUAL:  metaCompare(CondLessEqual),

	opcodes.OP_ASSIGN:  metaAssign,
	opcodes.OP_FETCH_R: metaFetch,
	opcodes.OP_FETCH_W: metaFetch,

	opcodes.OP_JMP:   metaJump,
	opcodes.OP_JMPZ:  metaJumpCond(false),
	opcodes.OP_JMPNZ: metaJumpCond(true),

	opcodes.OP_RETURN: metaReturn,
	opcodes.OP_NOP:    metaNop,
}

// RegisterMetaOp installs or overrides the handler for opcode op in the
// package-wide table every compile consults. The change is permanent for
// the process; nothing in this module calls it.
func RegisterMetaOp(op opcodes.Opcode, fn MetaOp) {
	metaopTable[op] = fn
}

// LookupMetaOp returns the handler for op and whether one is registered.
func LookupMetaOp(op opcodes.Opcode) (MetaOp, bool) {
	fn, ok := metaopTable[op]
	return fn, ok
}

// CloneMetaopTable returns a shallow copy of the registry for tests that
// want an isolated table to mutate.
func CloneMetaopTable() map[opcodes.Opcode]MetaOp {
	out := make(map[opcodes.Opcode]MetaOp, len(metaopTable))
	for k, v := range metaopTable {
		out[k] = v
	}
	return out
}

func metaBinOp(op string) MetaOp {
	return func(c *dispatcher, instr opcodes.Instruction, index int) error {
		lhs := c.frame.Get(int(instr.Op1))
		rhs := c.frame.Get(int(instr.Op2))
		if lhs == nil || rhs == nil {
			return NewCompileError(index, fmt.Errorf("%w: binop on unset slot", ErrUnsupportedBytecode))
		}

		// Give this instruction's promotion site (on its first observation
		// as on any later one) a chance to turn a RunTime argument slot
		// into a CompileTime known before falling through to the
		// constant-fold/register path below (spec.md §4.6).
		lhs = c.tryPromote(index, lhs)
		rhs = c.tryPromote(index, rhs)

		// Constant-fold when both operands are compile-time fixed
		// integers: spec.md's optimizer-free core still gets this for
		// free because it falls straight out of the Source lattice.
		if lhs.Source.IsCompileTime() && rhs.Source.IsCompileTime() &&
			lhs.Source.CT.Known != nil && rhs.Source.CT.Known != nil &&
			lhs.Source.CT.Known.IsFixed() && rhs.Source.CT.Known.IsFixed() {
			folded, ok := foldFixed(op, lhs.Source.CT.Known.FixedValue(), rhs.Source.CT.Known.FixedValue())
			if ok {
				result := c.arena.New(NewCompileTimeSource(NewFixedKnown(folded)))
				c.frame.Set(int(instr.Result), result)
				return nil
			}
		}

		lr, rr := c.ensureRegister(lhs), c.ensureRegister(rhs)
		dst, evicted := c.regs.Allocate(nil)
		if evicted != nil {
			c.spillEvicted(evicted, dst)
		}
		c.em.EmitBinOp(op, dst, lr, rr)
		result := c.arena.New(NewRunTimeSource(RegNone, dst, false, false))
		c.regs.owner[dst] = result
		c.frame.Set(int(instr.Result), result)
		return nil
	}
}

func foldFixed(op string, a, b int64) (int64, bool) {
	switch op {
	case "add":
		return a + b, true
	case "sub":
		return a - b, true
	case "mul":
		return a * b, true
	case "div":
		if b == 0 {
			return 0, false
		}
		return a / b, true
	default:
		return 0, false
	}
}

func metaCompare(cond Condition) MetaOp {
	return func(c *dispatcher, instr opcodes.Instruction, index int) error {
		lhs := c.frame.Get(int(instr.Op1))
		rhs := c.frame.Get(int(instr.Op2))
		if lhs == nil || rhs == nil {
			return NewCompileError(index, fmt.Errorf("%w: compare on unset slot", ErrUnsupportedBytecode))
		}
		lhs = c.tryPromote(index, lhs)
		rhs = c.tryPromote(index, rhs)
		lr, rr := c.ensureRegister(lhs), c.ensureRegister(rhs)
		c.em.EmitCompare(lr, rr, cond)
		c.pendingCompare = cond
		return nil
	}
}

func metaAssign(c *dispatcher, instr opcodes.Instruction, index int) error {
	c.frame.Move(int(instr.Result), int(instr.Op1))
	return nil
}

func metaFetch(c *dispatcher, instr opcodes.Instruction, index int) error {
	c.frame.Move(int(instr.Result), int(instr.Op1))
	return nil
}

func metaJump(c *dispatcher, instr opcodes.Instruction, index int) error {
	fixup := c.em.EmitJump()
	c.recordJumpFixup(int(instr.Op1), fixup)
	return nil
}

func metaJumpCond(onTrue bool) MetaOp {
	return func(c *dispatcher, instr opcodes.Instruction, index int) error {
		cond := c.pendingCompare
		if !onTrue {
			cond = invert(cond)
		}
		fixup := c.em.EmitJumpIf(cond)
		c.recordJumpFixup(int(instr.Op2), fixup)
		return nil
	}
}

func invert(c Condition) Condition {
	switch c {
	case CondEqual:
		return CondNotEqual
	case CondNotEqual:
		return CondEqual
	case CondLess:
		return CondGreaterEqual
	case CondLessEqual:
		return CondGreater
	case CondGreater:
		return CondLessEqual
	case CondGreaterEqual:
		return CondLess
	default:
		return c
	}
}

func metaReturn(c *dispatcher, instr opcodes.Instruction, index int) error {
	reg := RegNone
	if v := c.frame.Get(int(instr.Op1)); v != nil && v.Source.InRegister() {
		reg = v.Source.RT.Register
	}
	c.em.EmitReturn(reg)
	return nil
}

func metaNop(c *dispatcher, instr opcodes.Instruction, index int) error {
	return nil
}
