package jit

// SourceKind tags which of the three tri-valued lattice cases a Source is
// currently in. Every Vinfo carries exactly one Source, and the kind can
// change over the vinfo's lifetime (RunTime demotes to CompileTime when a
// value is promoted; CompileTime can be pushed to VirtualTime when a
// constructor call is deferred).
type SourceKind uint8

const (
	// SourceRunTime means the value lives in a register or stack slot at
	// run time; nothing about its content is known at compile time beyond
	// the flags carried alongside it.
	SourceRunTime SourceKind = iota
	// SourceCompileTime means the value's content is fully known while
	// compiling (a Known wrapping either a small fixed integer or a
	// pointer to a host object).
	SourceCompileTime
	// SourceVirtualTime means construction of the value has been deferred;
	// its fields are known but the value itself has not been materialized
	// into a register, stack slot, or heap object yet.
	SourceVirtualTime
)

func (k SourceKind) String() string {
	switch k {
	case SourceRunTime:
		return "RunTime"
	case SourceCompileTime:
		return "CompileTime"
	case SourceVirtualTime:
		return "VirtualTime"
	default:
		return "Unknown"
	}
}

// RunTime describes a value that exists as data flowing through registers
// and the stack at run time. StackOffset and Register are mutually
// exclusive homes: a RunTime value lives in exactly one of them (Register
// >= 0 means register-resident, StackOffset is meaningful only otherwise).
type RunTime struct {
	StackOffset int  // byte offset from the frame base; -1 if not stack-resident
	Register    int  // RegNone if not register-resident
	HasRef      bool // the current home owns a reference that must be released on overwrite
	NonNeg      bool // compiler has proven this integer is >= 0
	Megamorphic bool // this run-time slot has already hit MegamorphicMax at a promotion point
}

// CompileTime wraps a Known value whose content the compiler has proven,
// not merely guessed: condition-checked promotions, constant-folded
// arithmetic, and literal bytecode operands all produce CompileTime
// sources.
type CompileTime struct {
	Known *Known
}

// VirtualTime describes a deferred construction: the fields needed to build
// the value are known, but the value itself is not yet real. See virtual.go
// for VirtualSpec and the materialization routine.
type VirtualTime struct {
	Spec *VirtualSpec
}

// Source is the tri-valued union. Exactly one of RT/CT/VT is non-nil,
// enforced by the constructors below rather than by exporting raw fields.
type Source struct {
	Kind SourceKind
	RT   *RunTime
	CT   *CompileTime
	VT   *VirtualTime
}

// RegNone marks a RunTime value as not currently register-resident.
const RegNone = -1

// NewRunTimeSource builds a Source in the RunTime case.
func NewRunTimeSource(stackOffset, register int, hasRef, nonNeg bool) Source {
	return Source{
		Kind: SourceRunTime,
		RT: &RunTime{
			StackOffset: stackOffset,
			Register:    register,
			HasRef:      hasRef,
			NonNeg:      nonNeg,
		},
	}
}

// NewCompileTimeSource builds a Source in the CompileTime case.
func NewCompileTimeSource(k *Known) Source {
	return Source{Kind: SourceCompileTime, CT: &CompileTime{Known: k}}
}

// NewVirtualTimeSource builds a Source in the VirtualTime case.
func NewVirtualTimeSource(spec *VirtualSpec) Source {
	return Source{Kind: SourceVirtualTime, VT: &VirtualTime{Spec: spec}}
}

// IsRunTime, IsCompileTime, IsVirtualTime are the three lattice queries
// every component that branches on a Vinfo's source spells out explicitly
// rather than type-switching, matching the teacher's preference for named
// boolean predicates over reflection-style switches (compiler/values).
func (s Source) IsRunTime() bool     { return s.Kind == SourceRunTime }
func (s Source) IsCompileTime() bool { return s.Kind == SourceCompileTime }
func (s Source) IsVirtualTime() bool { return s.Kind == SourceVirtualTime }

// InRegister reports whether a RunTime source currently holds a register.
func (s Source) InRegister() bool {
	return s.Kind == SourceRunTime && s.RT.Register != RegNone
}

// Clone makes an independent copy of the Source, deep enough that mutating
// the clone's RT/CT/VT does not alias the original's. Known values are
// reference-counted and therefore shared, not copied (see known.go).
func (s Source) Clone() Source {
	switch s.Kind {
	case SourceRunTime:
		rt := *s.RT
		return Source{Kind: SourceRunTime, RT: &rt}
	case SourceCompileTime:
		if s.CT.Known != nil {
			s.CT.Known.Incref()
		}
		return Source{Kind: SourceCompileTime, CT: &CompileTime{Known: s.CT.Known}}
	case SourceVirtualTime:
		vt := *s.VT
		return Source{Kind: SourceVirtualTime, VT: &vt}
	default:
		return Source{}
	}
}

// Release drops the reference a CompileTime source's Known holds. It is a
// no-op for the other two kinds. Per SPEC_FULL.md §5(b) this deliberately
// does not reclaim HostObject-backed Knowns that have leaked into emitted
// machine code; it only undoes the bookkeeping increments this package
// itself performed (graph copies, Clone calls).
func (s Source) Release() {
	if s.Kind == SourceCompileTime && s.CT.Known != nil {
		s.CT.Known.Decref()
	}
}
