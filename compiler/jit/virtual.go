package jit

import "fmt"

// fieldSpec describes one field of a deferred host-object construction:
// its byte offset within the eventual struct layout, its width, and
// whether it holds a nested Vinfo (another VirtualTime value) or a direct
// scalar. Grounded on Psyco's cstruct.c struct-member descriptors (see
// SPEC_FULL.md §3).
type fieldSpec struct {
	Offset int
	Size   int
	Nested *Vinfo // non-nil when this field is itself virtual-time
}

// VirtualSpec describes a deferred object construction: the compiler has
// decided not to materialize a value yet, in the hope that it is consumed
// (e.g. immediately destructured) before ever needing a real home. Direct
// fields are laid out by fieldSpec; Compute, when non-nil, is a pure
// function of already-known operands used for fields whose value is
// derived rather than stored (e.g. a computed array length).
type VirtualSpec struct {
	// Fields lists the direct, stored fields of the eventual object.
	Fields []fieldSpec
	// PyObjectMask records, for each field, whether materializing it
	// requires a full refcounted host-object write (as opposed to a raw
	// scalar store) — named after Psyco's PyObject* tagging convention.
	PyObjectMask []bool
	// Compute, if set, derives the materialized value instead of reading
	// it from Fields (spec.md §3 "VirtualSpec ... Compute").
	Compute func(args []*Vinfo) (*Known, error)
	// Args feeds Compute.
	Args []*Vinfo
	// NestedWeight is this spec's contribution to the nested-weight sum
	// spec.md requires be bounded (Config.NestedWeightCeiling) to stop a
	// pathological chain of deferred constructions from blowing the stack
	// during materialization.
	NestedWeight int
}

// NestedWeightOf sums this spec's own weight plus the weight of every
// nested virtual field, used to enforce Config.NestedWeightCeiling before
// a new layer of deferral is added on top of an existing one.
func (vs *VirtualSpec) NestedWeightOf() int {
	total := vs.NestedWeight
	for _, f := range vs.Fields {
		if f.Nested != nil {
			if f.Nested.Source.IsVirtualTime() {
				total += f.Nested.Source.VT.Spec.NestedWeightOf()
			}
		}
	}
	return total
}

// Materialize forces a VirtualTime vinfo into a real value. With Compute
// set it returns Compute's Known. Otherwise it walks Fields, replacing
// each nested virtual child's Source with its materialized CompileTime
// value, and returns a nil Known. This does not allocate registers or emit
// code; its callers (dispatch.go's ensureRegister, unify.go's demote) do
// that themselves.
func (vs *VirtualSpec) Materialize() (*Known, error) {
	if vs.Compute != nil {
		return vs.Compute(vs.Args)
	}
	for _, f := range vs.Fields {
		if f.Nested == nil {
			continue
		}
		if f.Nested.Source.IsVirtualTime() {
			k, err := f.Nested.Source.VT.Spec.Materialize()
			if err != nil {
				return nil, fmt.Errorf("materializing nested field at offset %d: %w", f.Offset, err)
			}
			f.Nested.Source = NewCompileTimeSource(k)
		}
	}
	return nil, nil
}

// checkNestedWeight returns ErrVirtualTooDeep when materializing spec would
// exceed ceiling. Nothing in this module calls it.
func checkNestedWeight(spec *VirtualSpec, ceiling int) error {
	if spec.NestedWeightOf() > ceiling {
		return fmt.Errorf("%w: nested weight %d exceeds ceiling %d",
			ErrVirtualTooDeep, spec.NestedWeightOf(), ceiling)
	}
	return nil
}
