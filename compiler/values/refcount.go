package values

import "sync/atomic"

// RefCounted tracks the reference count of a heap value that the JIT must
// reason about explicitly. The interpreter itself is happy to let the Go
// garbage collector own TypeArray/TypeObject/TypeCallable payloads, but
// once a *Value's address is embedded as an immediate in emitted machine
// code (see jit.Known), the Go GC can no longer see that reference and the
// JIT must track it by hand.
type RefCounted struct {
	count int32
}

// Incref records one more owner of the value.
func (r *RefCounted) Incref() {
	atomic.AddInt32(&r.count, 1)
}

// Decref records one fewer owner. It returns true when the count reaches
// zero, i.e. the caller was the last owner.
func (r *RefCounted) Decref() bool {
	return atomic.AddInt32(&r.count, -1) == 0
}

// Count reports the current reference count. Values created outside the
// refcounted discipline (most interpreter-only values) report zero.
func (r *RefCounted) Count() int32 {
	return atomic.LoadInt32(&r.count)
}

// heapRefs tracks refcounts for *Value instances that have entered
// refcounted territory (i.e. a Known wraps them). Keyed by pointer identity;
// values never leave the map once a Known has leaked them, matching the
// deliberate leak documented in DESIGN.md.
var heapRefs = struct {
	m map[*Value]*RefCounted
}{m: make(map[*Value]*RefCounted)}

// RefFor returns the RefCounted tracker for v, creating one on first use.
// Not safe for concurrent first-use on the same *Value from multiple
// threads without the caller already holding the host lock that spec.md's
// concurrency model (§5) requires around compile-time mutation.
func RefFor(v *Value) *RefCounted {
	if rc, ok := heapRefs.m[v]; ok {
		return rc
	}
	rc := &RefCounted{}
	heapRefs.m[v] = rc
	return rc
}
