package jit

import "github.com/wudi/heyjit/compiler/opcodes"

// nopElimination strips OP_NOP instructions out of a bytecode stream
// before dispatch.go ever sees them, remapping every jump target that
// pointed past a removed instruction. This is the Go-native counterpart of
// the teacher's passes.JumpOptimizationPass, which works the other
// direction (folding a jump-to-next into a NOP); here the NOP is the
// input this module's callers sometimes hand in (an opcode the teacher's
// own optimizer left behind, or one present in a hand-written test
// fixture) and removing it shrinks both the bytecode the dispatch loop
// walks and the machine code compileBody emits for it.
type nopElimination struct{}

func (nopElimination) Name() string { return "NopElimination" }

func (nopElimination) IsApplicable(bytecode []opcodes.Instruction) bool {
	for _, instr := range bytecode {
		if instr.Opcode == opcodes.OP_NOP {
			return true
		}
	}
	return false
}

// Apply removes every OP_NOP and rewrites Op1/Op2 on every remaining jump
// so each still points at the same logical instruction, now at a
// possibly-lower index. A forward reference to an offset that itself gets
// removed (a jump targeting a NOP) is retargeted to the next surviving
// instruction, matching how falling through a removed NOP would have
// behaved.
func (nopElimination) Apply(bytecode []opcodes.Instruction) ([]opcodes.Instruction, error) {
	remap := make([]int, len(bytecode)+1)
	out := make([]opcodes.Instruction, 0, len(bytecode))
	for i, instr := range bytecode {
		remap[i] = len(out)
		if instr.Opcode == opcodes.OP_NOP {
			continue
		}
		out = append(out, instr)
	}
	remap[len(bytecode)] = len(out)

	target := func(old uint32) uint32 {
		o := int(old)
		for o < len(bytecode) && bytecode[o].Opcode == opcodes.OP_NOP {
			o++
		}
		if o >= len(remap) {
			return uint32(len(out))
		}
		return uint32(remap[o])
	}

	for i := range out {
		switch out[i].Opcode {
		case opcodes.OP_JMP:
			out[i].Op1 = target(out[i].Op1)
		case opcodes.OP_JMPZ, opcodes.OP_JMPNZ, opcodes.OP_JMPZ_EX, opcodes.OP_JMPNZ_EX:
			out[i].Op2 = target(out[i].Op2)
		}
	}

	return out, nil
}

// optimizations returns the Optimization passes applyOptimizations runs,
// in order. A second pass would be appended here (e.g. the teacher's
// ConstantFoldingPass, already subsumed by metaops.go's own fold-as-you-go
// behavior for the CompileTime lattice case — see DESIGN.md).
func (c *Compiler) optimizations() []Optimization {
	return []Optimization{nopElimination{}}
}
