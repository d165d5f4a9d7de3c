package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLogCompileEventRequiresEnabledDebugAtTraceLevel checks
// LogCompileEvent's gating: it is a silent no-op unless the debugger is
// both enabled and at DebugLevelDebug or finer, matching LogExecution's
// own gating style just above it.
func TestLogCompileEventRequiresEnabledDebugAtTraceLevel(t *testing.T) {
	dbg := NewJITDebugger()
	assert.NotPanics(t, func() { dbg.LogCompileEvent("promote", 0, "disabled by default") })

	dbg.Enable()
	dbg.SetTraceLevel(DebugLevelInfo)
	assert.NotPanics(t, func() { dbg.LogCompileEvent("promote", 0, "below DebugLevelDebug") })

	dbg.SetTraceLevel(DebugLevelDebug)
	assert.NotPanics(t, func() { dbg.LogCompileEvent("promote", 0, "enabled and at trace level") })
}
