package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/heyjit/compiler/opcodes"
)

// newTestDispatcher builds a dispatcher with a minimal one-instruction body
// so enterMergePoint and CodingPauseProxy.Respawn have something concrete
// to slice out and recompile.
func newTestDispatcher(t *testing.T) *dispatcher {
	t.Helper()
	cfg := DefaultConfig()
	em := NewAMD64Emitter(cfg)
	d := newDispatcher(cfg, em, 2, nil, nil)
	d.code = []opcodes.Instruction{
		{Opcode: opcodes.OP_RETURN, Op1: 0},
	}
	d.merges = AnalyzeMergePoints(d.code, cfg)
	em.EmitProlog(d.frame.Width() * wordSize)
	return d
}

func TestEnterMergePointFreezesOnFirstArrival(t *testing.T) {
	d := newTestDispatcher(t)
	d.frame.Set(0, d.arena.New(NewRunTimeSource(RegNone, RegRAX, false, false)))

	mp := &MergePoint{Offset: 0}
	respawned, err := d.enterMergePoint(mp, 0)
	require.NoError(t, err)
	assert.False(t, respawned)
	assert.NotNil(t, mp.Snapshot)
}

// A VirtualTime slot never round-trips through Freeze/Unfreeze with the
// same *VirtualSpec pointer (snapshot.go rebuilds a fresh VirtualSpec on
// thaw), so a second arrival at a merge point carrying one is always
// MatchIncompatible per compat.go. That makes it the simplest way to
// exercise the CodingPauseProxy/Respawn path a real loop with a
// not-yet-materialized value would eventually hit (spec.md §4.4/§4.7).
func TestEnterMergePointRespawnsOnIncompatibleSecondArrival(t *testing.T) {
	d := newTestDispatcher(t)
	d.frame.Set(0, d.arena.New(NewVirtualTimeSource(&VirtualSpec{})))

	mp := &MergePoint{Offset: 0}
	respawned, err := d.enterMergePoint(mp, 0)
	require.NoError(t, err)
	require.False(t, respawned)

	d.frame.Set(0, d.arena.New(NewVirtualTimeSource(&VirtualSpec{})))
	respawned, err = d.enterMergePoint(mp, 0)
	require.NoError(t, err)
	assert.True(t, respawned, "an incompatible second arrival should install and run a CodingPauseProxy instead of erroring")

	require.NotNil(t, d.respawns)
	proxy, ok := d.respawns[0]
	require.True(t, ok)
	assert.Equal(t, 1, proxy.RespawnCount)
}

func TestEnterMergePointReusesSameProxyAcrossArrivals(t *testing.T) {
	d := newTestDispatcher(t)
	d.frame.Set(0, d.arena.New(NewVirtualTimeSource(&VirtualSpec{})))
	mp := &MergePoint{Offset: 0}
	_, err := d.enterMergePoint(mp, 0)
	require.NoError(t, err)

	d.frame.Set(0, d.arena.New(NewVirtualTimeSource(&VirtualSpec{})))
	_, err = d.enterMergePoint(mp, 0)
	require.NoError(t, err)
	first := d.respawns[0]

	d.frame.Set(0, d.arena.New(NewVirtualTimeSource(&VirtualSpec{})))
	_, err = d.enterMergePoint(mp, 0)
	require.NoError(t, err)
	second := d.respawns[0]

	assert.Same(t, first, second, "a third incompatible arrival at the same offset should replay the existing proxy, not grow a new one")
	assert.Equal(t, 2, first.RespawnCount)
}

func TestCodingPauseProxyRespawnProducesBitExactReplay(t *testing.T) {
	cfg := DefaultConfig()
	em := NewAMD64Emitter(cfg)
	arena := newVinfoArena()
	frame := NewFrameState(arena, 1)
	frame.Set(0, arena.New(NewRunTimeSource(RegNone, RegRAX, false, false)))

	remaining := []opcodes.Instruction{{Opcode: opcodes.OP_RETURN, Op1: 0}}
	proxy := NewCodingPauseProxy(remaining, frame, cfg, em.Offset())

	first, err := proxy.Respawn(cfg, em, arena, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, proxy.RespawnCount)

	second, err := proxy.Respawn(cfg, em, arena, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, proxy.RespawnCount)

	assert.Equal(t, first.Code, second.Code, "replaying the same proxy must reproduce byte-for-byte identical machine code")
}

func TestCodingPauseProxyRespawnLogsThroughDebugger(t *testing.T) {
	cfg := DefaultConfig()
	em := NewAMD64Emitter(cfg)
	arena := newVinfoArena()
	frame := NewFrameState(arena, 1)
	frame.Set(0, arena.New(NewRunTimeSource(RegNone, RegRAX, false, false)))

	dbg := NewJITDebugger()
	dbg.Enable()
	dbg.SetTraceLevel(DebugLevelDebug)

	remaining := []opcodes.Instruction{{Opcode: opcodes.OP_RETURN, Op1: 0}}
	proxy := NewCodingPauseProxy(remaining, frame, cfg, em.Offset())

	_, err := proxy.Respawn(cfg, em, arena, dbg)
	require.NoError(t, err)
}
