package jit

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// codeChunk is one contiguous region a CodeBuffer has handed out to a
// single compiled function; chunks are never individually unmapped, only
// the whole slab they belong to, matching the teacher's all-or-nothing
// ExecutableMemory.Free lifecycle.
type codeChunk struct {
	ID     uuid.UUID
	Offset int
	Length int
}

// codeSlab is one mmap'd ExecutableMemory region subdivided into chunks.
type codeSlab struct {
	mem      *ExecutableMemory
	used     int
	chunks   []codeChunk
}

// CodeBuffer is the arena of executable pages the compiler writes
// generated machine code into: it hands out chunks from the current slab,
// reserving BufferMargin bytes of headroom so an in-progress compile never
// writes past the mapped region, and transparently grows (an "emergency
// enlargement": a fresh slab of the configured SlabSize, with the old slab kept alive because
// already-published entry points still point into it) when headroom drops
// below the margin (spec.md §4.11).
type CodeBuffer struct {
	mu     sync.Mutex
	cfg    *Config
	slabs  []*codeSlab
}

// NewCodeBuffer creates a buffer with one slab of Config.SlabSize bytes.
func NewCodeBuffer(cfg *Config) (*CodeBuffer, error) {
	cb := &CodeBuffer{cfg: cfg}
	if err := cb.growSlab(); err != nil {
		return nil, err
	}
	return cb, nil
}

func (cb *CodeBuffer) slabSize() int {
	if cb.cfg != nil && cb.cfg.SlabSize > 0 {
		return cb.cfg.SlabSize
	}
	return 1 << 20
}

func (cb *CodeBuffer) margin() int {
	if cb.cfg != nil && cb.cfg.BufferMargin > 0 {
		return cb.cfg.BufferMargin
	}
	return 1024
}

func (cb *CodeBuffer) growSlab() error {
	mem, err := AllocateExecutableMemory(cb.slabSize())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBufferExhausted, err)
	}
	cb.slabs = append(cb.slabs, &codeSlab{mem: mem})
	return nil
}

func (cb *CodeBuffer) currentSlab() *codeSlab {
	return cb.slabs[len(cb.slabs)-1]
}

// Reserve hands out room for at least size bytes in the current slab,
// enlarging (allocating a new slab; never reallocating the old one, since
// stale entry points must keep working) when the remaining headroom in
// the current slab is below Config.BufferMargin. It returns the chunk
// descriptor and the []byte view the caller writes machine code into.
func (cb *CodeBuffer) Reserve(size int) (codeChunk, []byte, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	slab := cb.currentSlab()
	remaining := slab.mem.Size - slab.used
	if remaining-size < cb.margin() {
		if size > cb.slabSize()-cb.margin() {
			// A single function's code is bigger than a whole slab minus
			// margin: grow a slab sized exactly to fit it plus margin.
			mem, err := AllocateExecutableMemory(size + cb.margin())
			if err != nil {
				return codeChunk{}, nil, fmt.Errorf("%w: %v", ErrBufferExhausted, err)
			}
			cb.slabs = append(cb.slabs, &codeSlab{mem: mem})
		} else if err := cb.growSlab(); err != nil {
			return codeChunk{}, nil, err
		}
		slab = cb.currentSlab()
	}

	chunk := codeChunk{ID: uuid.New(), Offset: slab.used, Length: size}
	slab.chunks = append(slab.chunks, chunk)
	view := slab.mem.Data[slab.used : slab.used+size]
	slab.used += size
	return chunk, view, nil
}

// Publish copies code into the chunk previously reserved for it. The
// region is already PROT_EXEC (AllocateExecutableMemory maps it
// read/write/exec up front, matching the teacher's memory.go), so no
// MakeWritable/MakeExecutable dance is needed for an initial publish —
// only Backpatch, which targets code that may already be running on
// another goroutine, brackets its write.
func (cb *CodeBuffer) Publish(slabIndex int, chunk codeChunk, code []byte) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if slabIndex < 0 || slabIndex >= len(cb.slabs) {
		return fmt.Errorf("jit: publish to unknown slab %d", slabIndex)
	}
	return cb.slabs[slabIndex].mem.WriteBytes(chunk.Offset, code)
}

// Backpatch rewrites length bytes at byte offset within the given slab,
// toggling W^X so a concurrently-executing thread never observes a
// partially-written instruction as executable-but-torn (spec.md's
// concurrency model, §5).
func (cb *CodeBuffer) Backpatch(slabIndex, offset int, patch []byte) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if slabIndex < 0 || slabIndex >= len(cb.slabs) {
		return fmt.Errorf("jit: backpatch to unknown slab %d", slabIndex)
	}
	mem := cb.slabs[slabIndex].mem
	if err := mem.MakeWritable(); err != nil {
		return err
	}
	err := mem.WriteBytes(offset, patch)
	if e2 := mem.MakeExecutable(); e2 != nil && err == nil {
		err = e2
	}
	return err
}

// SlabCount reports how many slabs this buffer has grown to, used by
// CompilerStats.
func (cb *CodeBuffer) SlabCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.slabs)
}

// CurrentSlabIndex reports the index of the slab Reserve will hand chunks
// out of right now, for callers that need to remember which slab a chunk
// came from (Publish/Backpatch/EntryPoint all key off it).
func (cb *CodeBuffer) CurrentSlabIndex() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.slabs) - 1
}

// EntryPoint returns the callable address of chunk within slabIndex's
// slab. Chunks are never unmapped individually (only a whole slab, on
// Free), so this address stays valid for the process lifetime even after
// later chunks are reserved alongside it.
func (cb *CodeBuffer) EntryPoint(slabIndex int, chunk codeChunk) uintptr {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if slabIndex < 0 || slabIndex >= len(cb.slabs) {
		return 0
	}
	return cb.slabs[slabIndex].mem.GetFunctionPointer(chunk.Offset)
}

// Free releases every slab. Per SPEC_FULL.md §5(b), this does not attempt
// to walk embedded Known pointers and release them; it only unmaps the
// executable pages themselves.
func (cb *CodeBuffer) Free() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	var first error
	for _, s := range cb.slabs {
		if err := s.mem.Free(); err != nil && first == nil {
			first = err
		}
	}
	cb.slabs = nil
	return first
}
