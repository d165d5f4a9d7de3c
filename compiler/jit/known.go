package jit

import (
	"fmt"

	"github.com/wudi/heyjit/compiler/values"
)

// KnownFlag records which shape a Known's payload takes.
type KnownFlag uint8

const (
	// KnownFixed is a small integer that fits in a machine word and can be
	// embedded directly as an immediate operand.
	KnownFixed KnownFlag = 1 << iota
	// KnownHostObject is a pointer to a *values.Value living on the host
	// heap; the Known carries that pointer plus the refcount discipline
	// described in compiler/values/refcount.go.
	KnownHostObject
	// KnownNonNeg additionally records a proven non-negativity fact,
	// independent of which of the two flags above is set (mirrors spec.md's
	// "a concrete integer or tagged host-object pointer... plus flags such
	// as 'is a small int', 'non-negative'").
	KnownNonNeg
)

// Known is the compile-time-proven content of a CompileTime Source: either
// a fixed integer or a pointer to a host object, carrying the refcount
// bookkeeping the emitted machine code needs once the Go GC can no longer
// see the reference (see compiler/values/refcount.go).
type Known struct {
	flag    KnownFlag
	fixed   int64
	host    *values.Value
	refs    *values.RefCounted
}

// NewFixedKnown wraps a small integer constant.
func NewFixedKnown(v int64) *Known {
	k := &Known{flag: KnownFixed, fixed: v}
	if v >= 0 {
		k.flag |= KnownNonNeg
	}
	return k
}

// NewHostObjectKnown wraps a pointer to a host value and begins refcount
// tracking for it via values.RefFor.
func NewHostObjectKnown(v *values.Value) *Known {
	k := &Known{flag: KnownHostObject, host: v, refs: values.RefFor(v)}
	k.refs.Incref()
	return k
}

// IsFixed, IsHostObject, IsNonNeg mirror the flag bits as predicates.
func (k *Known) IsFixed() bool      { return k.flag&KnownFixed != 0 }
func (k *Known) IsHostObject() bool { return k.flag&KnownHostObject != 0 }
func (k *Known) IsNonNeg() bool     { return k.flag&KnownNonNeg != 0 }

// FixedValue returns the embedded integer. Only meaningful when IsFixed.
func (k *Known) FixedValue() int64 { return k.fixed }

// HostValue returns the wrapped host value pointer. Only meaningful when
// IsHostObject.
func (k *Known) HostValue() *values.Value { return k.host }

// Incref/Decref forward to the host value's refcount tracker for
// HostObject knowns; they are no-ops for fixed integers, which need no
// bookkeeping.
func (k *Known) Incref() {
	if k.refs != nil {
		k.refs.Incref()
	}
}

func (k *Known) Decref() {
	if k.refs != nil {
		// Per SPEC_FULL.md §5(b) a zero refcount does not trigger release:
		// this module never frees a HostObject Known once it has been
		// embedded in code, matching the documented leak.
		k.refs.Decref()
	}
}

// RefCount reports the live reference count for a HostObject Known, or 0
// for a fixed integer (which is never refcounted).
func (k *Known) RefCount() int32 {
	if k.refs == nil {
		return 0
	}
	return k.refs.Count()
}

// Equal reports whether two Knowns describe the same compile-time value,
// used by compat.go's compatible() check and by constant folding in
// dispatch.go.
func (k *Known) Equal(other *Known) bool {
	if k == nil || other == nil {
		return k == other
	}
	if k.flag&(KnownFixed|KnownHostObject) != other.flag&(KnownFixed|KnownHostObject) {
		return false
	}
	if k.IsFixed() {
		return k.fixed == other.fixed
	}
	return k.host == other.host
}

func (k *Known) String() string {
	switch {
	case k == nil:
		return "<nil known>"
	case k.IsFixed():
		return fmt.Sprintf("Fixed(%d)", k.fixed)
	case k.IsHostObject():
		return fmt.Sprintf("HostObject(%p,refs=%d)", k.host, k.RefCount())
	default:
		return "<empty known>"
	}
}
