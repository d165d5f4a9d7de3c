package jit

import "fmt"

// SpecializedFunction is the run-time-visible wrapper around one compiled
// specialization of a bytecode function: the thing `run()` actually calls
// through. A single bytecode function can have several SpecializedFunctions
// (one per distinct promotion path that turned out to need its own
// compiled code), selected at call time by Stub.Dispatch.
type SpecializedFunction struct {
	Name       string
	EntryPoint uintptr
	FrameWidth int
	Promotions *PromotionTable
	Result     *CompileResult
}

// Stub is the proxy object spec.md §6 calls for: every call site initially
// points at a Stub rather than directly at machine code. The Stub picks,
// per call, which already-compiled SpecializedFunction runs: the one its
// guard selects from the call's arguments, or else the first registered.
type Stub struct {
	FunctionName    string
	specializations []*SpecializedFunction
	guard           func(args []int64) (*SpecializedFunction, bool)
}

// NewStub creates an empty proxy for functionName; guard, if non-nil,
// selects among already-compiled specializations by inspecting the call's
// arguments (e.g. "is arg0 the same host class as last time").
func NewStub(functionName string, guard func(args []int64) (*SpecializedFunction, bool)) *Stub {
	return &Stub{FunctionName: functionName, guard: guard}
}

// Add registers a newly compiled specialization.
func (s *Stub) Add(fn *SpecializedFunction) {
	s.specializations = append(s.specializations, fn)
}

// Dispatch selects a specialization for this call: the guard's choice when
// the guard accepts the arguments, otherwise the first registered
// specialization. It returns an error only when none has been added yet.
func (s *Stub) Dispatch(args []int64) (*SpecializedFunction, error) {
	if len(s.specializations) == 0 {
		return nil, fmt.Errorf("jit: stub %q has no compiled specializations", s.FunctionName)
	}
	if s.guard != nil {
		if fn, ok := s.guard(args); ok {
			return fn, nil
		}
	}
	return s.specializations[0], nil
}

// Specializations returns the current list of registered specializations.
func (s *Stub) Specializations() []*SpecializedFunction {
	return s.specializations
}
