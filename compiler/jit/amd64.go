package jit

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/wudi/heyjit/compiler/values"
)

// pointerBits returns the bit pattern of a *values.Value pointer, used to
// embed host-object addresses as 64-bit immediates in emitted code.
func pointerBits(v *values.Value) uintptr {
	return uintptr(unsafe.Pointer(v))
}

// AMD64Emitter is the System V AMD64 implementation of Emitter, adapted
// from the teacher's AMD64CodeGenerator: the same manual REX.W/ModR/M byte
// emission, generalized from the teacher's string-keyed, PHP-bytecode-tied
// register allocator to the architecture-independent RegisterAllocator in
// regalloc.go and the Emitter contract the rest of this package (unify.go,
// promote.go, dispatch.go) is written against.
type AMD64Emitter struct {
	config      *Config
	code        []byte
	fixups      []amd64Fixup
	pendingCond Condition
}

// amd64Fixup records a forward jump whose displacement is patched once its
// target offset is known, the same deferred-patch approach the teacher's
// fixupJumps used, generalized to the Patch(fixup, target) contract.
type amd64Fixup struct {
	patchAt int // byte offset of the 4-byte rel32 placeholder
}

// amd64Regs maps the architecture-independent register indices in
// regalloc.go to their AMD64 ModR/M encodings. R8-R11 need REX.B, tracked
// by regNeedsREXB.
var amd64Regs = map[int]byte{
	RegRAX: 0,
	RegRCX: 1,
	RegRDX: 2,
	RegRBX: 3,
	RegRSI: 6,
	RegRDI: 7,
	RegR8:  0,
	RegR9:  1,
	RegR10: 2,
	RegR11: 3,
}

func regNeedsREXB(reg int) bool {
	return reg == RegR8 || reg == RegR9 || reg == RegR10 || reg == RegR11
}

// NewAMD64Emitter returns an Emitter targeting AMD64, the only backend
// Config.TargetArch="amd64" selects (SPEC_FULL.md §1 scopes this module to
// one architecture).
func NewAMD64Emitter(config *Config) *AMD64Emitter {
	return &AMD64Emitter{config: config}
}

func (e *AMD64Emitter) emitByte(b byte)       { e.code = append(e.code, b) }
func (e *AMD64Emitter) emitBytes(bs ...byte)  { e.code = append(e.code, bs...) }

func (e *AMD64Emitter) rex(reg int) byte {
	b := byte(0x48) // REX.W always, this module only handles 64-bit integers
	if regNeedsREXB(reg) {
		b |= 0x01
	}
	return b
}

func (e *AMD64Emitter) EmitProlog(frameSize int) {
	e.emitByte(0x55)                   // push rbp
	e.emitBytes(0x48, 0x89, 0xe5)       // mov rbp, rsp
	if frameSize <= 0 {
		frameSize = 128
	}
	e.emitBytes(0x48, 0x81, 0xec) // sub rsp, imm32
	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(frameSize))
	e.emitBytes(sz[:]...)
}

func (e *AMD64Emitter) EmitEpilog() {
	e.emitBytes(0x48, 0x89, 0xec) // mov rsp, rbp
	e.emitByte(0x5d)              // pop rbp
	e.emitByte(0xc3)              // ret
}

func (e *AMD64Emitter) EmitLoadImmediate(value int64, reg, stackOffset int) {
	if reg != RegNone {
		code := amd64Regs[reg]
		e.emitByte(e.rex(reg))
		e.emitByte(0xb8 + code) // mov r64, imm64
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], uint64(value))
		e.emitBytes(v[:]...)
		return
	}
	// Load into RAX, then store to [rbp - stackOffset].
	e.EmitLoadImmediate(value, RegRAX, RegNone)
	e.emitStoreToStack(RegRAX, stackOffset)
}

func (e *AMD64Emitter) EmitLoadPointer(v *values.Value, reg, stackOffset int) {
	// Host pointers are embedded exactly like fixed integers: a 64-bit
	// immediate move of the pointer's bit pattern. This is the step that
	// makes the refcount bookkeeping in known.go mandatory: once this
	// instruction is emitted, the Go GC can no longer see the reference.
	e.EmitLoadImmediate(int64(pointerBits(v)), reg, stackOffset)
}

func (e *AMD64Emitter) emitStoreToStack(reg, stackOffset int) {
	code := amd64Regs[reg]
	e.emitByte(e.rex(reg))
	e.emitByte(0x89) // mov [rbp+disp32], r64
	e.emitByte(0x85 | (code << 3))
	var off [4]byte
	binary.LittleEndian.PutUint32(off[:], uint32(-stackOffset))
	e.emitBytes(off[:]...)
}

func (e *AMD64Emitter) emitLoadFromStack(stackOffset, reg int) {
	code := amd64Regs[reg]
	e.emitByte(e.rex(reg))
	e.emitByte(0x8b) // mov r64, [rbp+disp32]
	e.emitByte(0x85 | (code << 3))
	var off [4]byte
	binary.LittleEndian.PutUint32(off[:], uint32(-stackOffset))
	e.emitBytes(off[:]...)
}

func (e *AMD64Emitter) EmitSpill(reg, stackOffset int) {
	e.emitStoreToStack(reg, stackOffset)
}

func (e *AMD64Emitter) EmitReload(stackOffset, reg int) {
	e.emitLoadFromStack(stackOffset, reg)
}

func (e *AMD64Emitter) EmitBinOp(op string, dst, lhs, rhs int) {
	if dst != lhs {
		e.emitMovReg(dst, lhs)
	}
	dstCode, rhsCode := amd64Regs[dst], amd64Regs[rhs]
	switch op {
	case "add":
		e.emitByte(e.rex(dst))
		e.emitByte(0x01)
		e.emitByte(0xc0 | (rhsCode << 3) | dstCode)
	case "sub":
		e.emitByte(e.rex(dst))
		e.emitByte(0x29)
		e.emitByte(0xc0 | (rhsCode << 3) | dstCode)
	case "mul":
		e.emitByte(e.rex(dst))
		e.emitByte(0x0f)
		e.emitByte(0xaf)
		e.emitByte(0xc0 | (dstCode << 3) | rhsCode)
	case "div":
		// idiv rbx semantics: dividend in rax:rdx, divisor in rhs.
		e.emitBytes(0x48, 0xf7, 0xf8|rhsCode)
	default:
		panic(fmt.Sprintf("jit: amd64 emitter asked for unknown binop %q", op))
	}
}

func (e *AMD64Emitter) emitMovReg(dst, src int) {
	dstCode, srcCode := amd64Regs[dst], amd64Regs[src]
	e.emitByte(e.rex(dst))
	e.emitByte(0x89)
	e.emitByte(0xc0 | (srcCode << 3) | dstCode)
}

func (e *AMD64Emitter) EmitCompare(lhs, rhs int, cond Condition) {
	lhsCode, rhsCode := amd64Regs[lhs], amd64Regs[rhs]
	e.emitByte(e.rex(lhs))
	e.emitByte(0x39) // cmp r/m64, r64
	e.emitByte(0xc0 | (rhsCode << 3) | lhsCode)
	e.pendingCond = cond
}

func (e *AMD64Emitter) EmitJumpIf(cond Condition) int {
	opByte, ok := jccOpcodes[cond]
	if !ok {
		opByte = jccOpcodes[e.pendingCond]
	}
	e.emitByte(0x0f)
	e.emitByte(opByte)
	pos := len(e.code)
	e.emitBytes(0, 0, 0, 0)
	e.fixups = append(e.fixups, amd64Fixup{patchAt: pos})
	return len(e.fixups) - 1
}

func (e *AMD64Emitter) EmitJump() int {
	e.emitByte(0xe9) // jmp rel32
	pos := len(e.code)
	e.emitBytes(0, 0, 0, 0)
	e.fixups = append(e.fixups, amd64Fixup{patchAt: pos})
	return len(e.fixups) - 1
}

func (e *AMD64Emitter) Patch(fixup int, target int) {
	if fixup < 0 || fixup >= len(e.fixups) {
		return
	}
	f := e.fixups[fixup]
	rel := int32(target - (f.patchAt + 4))
	binary.LittleEndian.PutUint32(e.code[f.patchAt:f.patchAt+4], uint32(rel))
}

func (e *AMD64Emitter) EmitCall(target uintptr, argRegs []int) {
	// mov rax, imm64 (target); call rax
	e.EmitLoadImmediate(int64(target), RegRAX, RegNone)
	e.emitBytes(0xff, 0xd0)
}

func (e *AMD64Emitter) EmitReturn(reg int) {
	if reg != RegNone && reg != RegRAX {
		e.emitMovReg(RegRAX, reg)
	}
	e.EmitEpilog()
}

func (e *AMD64Emitter) Bytes() []byte { return e.code }
func (e *AMD64Emitter) Offset() int   { return len(e.code) }

// jccOpcodes maps a Condition to its two-byte 0F opcode suffix for the near
// (rel32) Jcc encoding.
var jccOpcodes = map[Condition]byte{
	CondEqual:       0x84,
	CondNotEqual:    0x85,
	CondLess:        0x8c,
	CondLessEqual:   0x8e,
	CondGreater:     0x8f,
	CondGreaterEqual: 0x8d,
}

// EmitCompare stashes its Condition on the emitter (pendingCond) for a
// following EmitJumpIf call, matching the teacher's back-to-back
// test-then-jump idiom (test rax, rax; jz label).
