package jit

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// snapshotOp tags each byte-stream opcode Snapshot compression emits.
// spec.md §4.3 calls for "a prefix-packed byte stream" rather than a naive
// per-slot struct array, so two snapshots that differ in only a handful of
// slots cost only a few bytes more than the smaller one.
type snapshotOp byte

const (
	// opNull encodes a nil slot (no vinfo occupies it).
	opNull snapshotOp = iota
	// opVinfo encodes a full, freshly-serialized Vinfo: kind byte plus
	// payload.
	opVinfo
	// opLink encodes a back-reference to a Vinfo already serialized
	// earlier in this stream (structural sharing, or a slot unchanged
	// since the snapshot at the dominating merge point).
	opLink
	// opSkip encodes a run of slots unchanged relative to a base snapshot.
	opSkip
)

// Snapshot is the frozen, compressed form of a FrameState taken at a merge
// point, code buffer boundary, or promotion stub. It exists so that a
// suspended compile (respawn.go) or an alternate specialization path
// (compat.go) can cheaply compare "was this the same state" or rehydrate a
// full FrameState without re-walking bytecode.
type Snapshot struct {
	ID    uuid.UUID
	Width int
	bytes []byte

	// links maps a VinfoID to the byte offset within bytes where that
	// node's opVinfo payload begins, so later opLink entries in the same
	// stream can point back at it. Only populated during Freeze; Unfreeze
	// rebuilds its own offset table as it reads.
	links map[VinfoID]int
}

// Freeze compresses f into a Snapshot. base, if non-nil, is the snapshot
// taken at the dominating merge point; slots whose Vinfo is unchanged
// relative to base are encoded as opSkip runs instead of being
// re-serialized, matching spec.md's "snapshots only need to describe what
// changed" sizing goal.
func Freeze(f *FrameState, base *Snapshot, cfg *Config) *Snapshot {
	s := &Snapshot{ID: newSnapshotID(), Width: f.Width(), links: make(map[VinfoID]int)}
	buf := make([]byte, 0, f.Width()*4)

	i := 0
	for i < len(f.Slots) {
		v := f.Slots[i]
		if base != nil && base.unchangedAt(i, v) {
			run := 1
			for i+run < len(f.Slots) && base.unchangedAt(i+run, f.Slots[i+run]) {
				run++
			}
			buf = append(buf, byte(opSkip))
			buf = binary.AppendUvarint(buf, uint64(run))
			i += run
			continue
		}
		buf = s.encodeSlot(buf, v, cfg)
		i++
	}
	s.bytes = buf
	return s
}

// unchangedAt reports whether slot i in a prior snapshot held the same
// Vinfo identity that v does now. A nil base slot table (snapshot taken
// before any merge point existed) never matches.
func (s *Snapshot) unchangedAt(i int, v *Vinfo) bool {
	if s == nil || i >= s.Width {
		return false
	}
	prior, ok := s.slotIDs()[i]
	if !ok {
		return v == nil
	}
	return v != nil && v.id == prior
}

// slotIDs lazily decodes just the identity (not full payload) of each slot
// the last time this snapshot was frozen, for unchangedAt's use. Real
// Psyco-derived implementations keep this table around from Freeze time;
// we recompute it on first need and cache nothing further since snapshots
// are short-lived in practice (one merge-point lifetime).
func (s *Snapshot) slotIDs() map[int]VinfoID {
	ids := make(map[int]VinfoID, s.Width)
	// The encoder always visits slots in order and opVinfo/opLink entries
	// both carry the VinfoID as their first varint field, so a lightweight
	// re-walk recovers identities without fully decoding payload bytes.
	pos := 0
	slot := 0
	for pos < len(s.bytes) && slot < s.Width {
		op := snapshotOp(s.bytes[pos])
		pos++
		switch op {
		case opNull:
			slot++
		case opSkip:
			run, n := binary.Uvarint(s.bytes[pos:])
			pos += n
			slot += int(run)
		case opVinfo, opLink:
			id, n := binary.Uvarint(s.bytes[pos:])
			pos += n
			ids[slot] = VinfoID(id)
			if op == opVinfo {
				pos = skipVinfoPayload(s.bytes, pos)
			}
			slot++
		}
	}
	return ids
}

// encodeSlot appends the opNull/opLink/opVinfo encoding of v to buf.
func (s *Snapshot) encodeSlot(buf []byte, v *Vinfo, cfg *Config) []byte {
	if v == nil {
		return append(buf, byte(opNull))
	}
	if offset, seen := s.links[v.id]; seen {
		_ = offset
		buf = append(buf, byte(opLink))
		return binary.AppendUvarint(buf, uint64(v.id))
	}
	s.links[v.id] = len(buf)
	buf = append(buf, byte(opVinfo))
	buf = binary.AppendUvarint(buf, uint64(v.id))
	return encodeSource(buf, v.Source, cfg)
}

// encodeSource appends a Source's payload: a kind byte, then
// kind-specific fields. CompileTime sub-items are elided entirely when
// cfg.CompressCompileTimeSubitems is set, since a Known's content is
// always reloadable from the bytecode constant pool or a prior fold,
// matching spec.md §4.3.
func encodeSource(buf []byte, src Source, cfg *Config) []byte {
	buf = append(buf, byte(src.Kind))
	switch src.Kind {
	case SourceRunTime:
		buf = binary.AppendVarint(buf, int64(src.RT.StackOffset))
		buf = binary.AppendVarint(buf, int64(src.RT.Register))
		buf = append(buf, boolByte(src.RT.HasRef), boolByte(src.RT.NonNeg), boolByte(src.RT.Megamorphic))
	case SourceCompileTime:
		if cfg != nil && cfg.CompressCompileTimeSubitems {
			buf = append(buf, 0) // elided marker; Unfreeze leaves Known nil
			return buf
		}
		buf = append(buf, 1)
		if src.CT.Known != nil && src.CT.Known.IsFixed() {
			buf = append(buf, 1)
			buf = binary.AppendVarint(buf, src.CT.Known.FixedValue())
		} else {
			buf = append(buf, 0)
		}
	case SourceVirtualTime:
		w := 0
		if src.VT.Spec != nil {
			w = src.VT.Spec.NestedWeightOf()
		}
		buf = binary.AppendVarint(buf, int64(w))
	}
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// skipVinfoPayload advances pos past one encodeSource payload without
// interpreting it, used by slotIDs' lightweight identity scan.
func skipVinfoPayload(b []byte, pos int) int {
	if pos >= len(b) {
		return pos
	}
	kind := SourceKind(b[pos])
	pos++
	switch kind {
	case SourceRunTime:
		_, n := binary.Varint(b[pos:])
		pos += n
		_, n = binary.Varint(b[pos:])
		pos += n
		pos += 3
	case SourceCompileTime:
		elided := b[pos]
		pos++
		if elided == 1 {
			hasFixed := b[pos]
			pos++
			if hasFixed == 1 {
				_, n := binary.Varint(b[pos:])
				pos += n
			}
		}
	case SourceVirtualTime:
		_, n := binary.Varint(b[pos:])
		pos += n
	}
	return pos
}

// Unfreeze rebuilds a full FrameState from the snapshot, resolving opSkip
// runs against base and opLink entries against nodes already materialized
// earlier in this same decode pass (or, failing that, against arena.Get).
func (s *Snapshot) Unfreeze(arena *vinfoArena, base *FrameState) (*FrameState, error) {
	out := NewFrameState(arena, s.Width)
	decoded := make(map[VinfoID]*Vinfo)

	pos := 0
	slot := 0
	for pos < len(s.bytes) && slot < s.Width {
		op := snapshotOp(s.bytes[pos])
		pos++
		switch op {
		case opNull:
			out.Slots[slot] = nil
			slot++
		case opSkip:
			run, n := binary.Uvarint(s.bytes[pos:])
			pos += n
			for k := 0; k < int(run); k++ {
				if base == nil || slot >= base.Width() {
					return nil, fmt.Errorf("jit: snapshot opSkip with no base frame at slot %d", slot)
				}
				v := base.Get(slot)
				if v != nil {
					v.Incref()
				}
				out.Slots[slot] = v
				slot++
			}
		case opLink:
			id, n := binary.Uvarint(s.bytes[pos:])
			pos += n
			v := decoded[VinfoID(id)]
			if v == nil {
				v = arena.Get(VinfoID(id))
			}
			if v == nil {
				return nil, fmt.Errorf("jit: snapshot opLink to unknown vinfo %d", id)
			}
			v.Incref()
			out.Slots[slot] = v
			slot++
		case opVinfo:
			id, n := binary.Uvarint(s.bytes[pos:])
			pos += n
			src, newPos, err := decodeSource(s.bytes, pos)
			if err != nil {
				return nil, err
			}
			pos = newPos
			v := arena.New(src)
			v.id = VinfoID(id)
			decoded[VinfoID(id)] = v
			out.Slots[slot] = v
			slot++
		default:
			return nil, fmt.Errorf("jit: corrupt snapshot opcode %d at byte %d", op, pos-1)
		}
	}
	return out, nil
}

func decodeSource(b []byte, pos int) (Source, int, error) {
	if pos >= len(b) {
		return Source{}, pos, fmt.Errorf("jit: truncated snapshot at byte %d", pos)
	}
	kind := SourceKind(b[pos])
	pos++
	switch kind {
	case SourceRunTime:
		stackOffset, n := binary.Varint(b[pos:])
		pos += n
		reg, n := binary.Varint(b[pos:])
		pos += n
		hasRef, nonNeg, mega := b[pos] == 1, b[pos+1] == 1, b[pos+2] == 1
		pos += 3
		return NewRunTimeSource(int(stackOffset), int(reg), hasRef, nonNeg).withMega(mega), pos, nil
	case SourceCompileTime:
		present := b[pos]
		pos++
		if present == 0 {
			return NewCompileTimeSource(nil), pos, nil
		}
		hasFixed := b[pos]
		pos++
		if hasFixed == 1 {
			val, n := binary.Varint(b[pos:])
			pos += n
			return NewCompileTimeSource(NewFixedKnown(val)), pos, nil
		}
		return NewCompileTimeSource(nil), pos, nil
	case SourceVirtualTime:
		w, n := binary.Varint(b[pos:])
		pos += n
		return NewVirtualTimeSource(&VirtualSpec{NestedWeight: int(w)}), pos, nil
	default:
		return Source{}, pos, fmt.Errorf("jit: unknown source kind %d in snapshot", kind)
	}
}

// withMega sets the Megamorphic flag on a freshly constructed RunTime
// source; a tiny helper so decodeSource can stay a single expression per
// branch.
func (s Source) withMega(m bool) Source {
	if s.Kind == SourceRunTime {
		s.RT.Megamorphic = m
	}
	return s
}

// newSnapshotID is a package variable so tests can substitute a
// deterministic generator; production code calls uuid.New().
var newSnapshotID = uuid.New

// Size reports the compressed byte length.
func (s *Snapshot) Size() int { return len(s.bytes) }
