package jit

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAMD64EmitterProlog(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitProlog(64)
	code := e.Bytes()
	require.GreaterOrEqual(t, len(code), 8)
	assert.Equal(t, byte(0x55), code[0], "push rbp")
	assert.Equal(t, []byte{0x48, 0x89, 0xe5}, code[1:4], "mov rbp, rsp")
	assert.Equal(t, []byte{0x48, 0x81, 0xec}, code[4:7], "sub rsp, imm32")
	assert.EqualValues(t, 64, binary.LittleEndian.Uint32(code[7:11]))
}

func TestAMD64EmitterPrologDefaultsFrameSize(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitProlog(0)
	code := e.Bytes()
	assert.EqualValues(t, 128, binary.LittleEndian.Uint32(code[7:11]))
}

func TestAMD64EmitterEpilog(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitEpilog()
	assert.Equal(t, []byte{0x48, 0x89, 0xec, 0x5d, 0xc3}, e.Bytes())
}

func TestAMD64EmitterLoadImmediateIntoRegister(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitLoadImmediate(0x1122334455, RegRAX, RegNone)
	code := e.Bytes()
	require.Len(t, code, 10)
	assert.Equal(t, byte(0x48), code[0])
	assert.Equal(t, byte(0xb8), code[1])
	assert.EqualValues(t, 0x1122334455, binary.LittleEndian.Uint64(code[2:10]))
}

func TestAMD64EmitterLoadImmediateIntoStackSlotRoutesThroughRAX(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitLoadImmediate(7, RegNone, 16)
	code := e.Bytes()
	// 10 bytes to load 7 into RAX, then a store-to-stack instruction.
	require.Greater(t, len(code), 10)
	assert.Equal(t, byte(0xb8), code[1])
}

func TestAMD64EmitterREXSetsRexBForExtendedRegisters(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	assert.Equal(t, byte(0x48), e.rex(RegRAX))
	assert.Equal(t, byte(0x49), e.rex(RegR8))
}

func TestAMD64EmitterBinOpAdd(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitBinOp("add", RegRAX, RegRAX, RegRBX)
	code := e.Bytes()
	require.Len(t, code, 3)
	assert.Equal(t, byte(0x48), code[0])
	assert.Equal(t, byte(0x01), code[1])
}

func TestAMD64EmitterBinOpMovesDstWhenDistinctFromLhs(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitBinOp("add", RegRCX, RegRAX, RegRBX)
	code := e.Bytes()
	// emitMovReg (3 bytes) followed by the add encoding (3 bytes).
	require.Len(t, code, 6)
}

func TestAMD64EmitterBinOpUnknownOpPanics(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	assert.Panics(t, func() { e.EmitBinOp("xor", RegRAX, RegRAX, RegRBX) })
}

func TestAMD64EmitterJumpAndPatch(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	fixup := e.EmitJump()
	target := e.Offset()
	e.Patch(fixup, target)

	code := e.Bytes()
	require.Len(t, code, 5)
	assert.Equal(t, byte(0xe9), code[0])
	rel := int32(binary.LittleEndian.Uint32(code[1:5]))
	assert.EqualValues(t, target-5, rel)
}

func TestAMD64EmitterPatchOutOfRangeIsNoop(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitJump()
	assert.NotPanics(t, func() { e.Patch(99, 0) })
}

func TestAMD64EmitterJumpIfUsesConditionOpcode(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitCompare(RegRAX, RegRBX, CondEqual)
	e.EmitJumpIf(CondEqual)
	code := e.Bytes()
	// cmp (3 bytes) + 0f + Jcc opcode + 4-byte rel32 placeholder.
	require.Len(t, code, 3+2+4)
	assert.Equal(t, byte(0x0f), code[3])
	assert.Equal(t, jccOpcodes[CondEqual], code[4])
}

func TestAMD64EmitterReturnMovesNonRAXRegisterFirst(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitReturn(RegRBX)
	code := e.Bytes()
	// emitMovReg (3 bytes) then EmitEpilog (5 bytes).
	require.Len(t, code, 8)
	assert.Equal(t, byte(0xc3), code[len(code)-1])
}

func TestAMD64EmitterReturnFromRAXSkipsMov(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	e.EmitReturn(RegRAX)
	code := e.Bytes()
	require.Len(t, code, 5) // just the epilog
}

func TestAMD64EmitterOffsetTracksByteLength(t *testing.T) {
	e := NewAMD64Emitter(DefaultConfig())
	assert.Equal(t, 0, e.Offset())
	e.EmitEpilog()
	assert.Equal(t, 5, e.Offset())
}
