package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ExecutableMemory is one mmap'd region backing compiled machine code.
// Adapted from the teacher's memory.go, which called
// syscall.Syscall6(syscall.SYS_MMAP, ...) directly; this module uses the
// typed golang.org/x/sys/unix wrapper instead (SPEC_FULL.md §2), which
// also gives us Mprotect for the W^X toggling CodeBuffer needs when
// patching already-executable pages (backpatching a forward jump,
// demoting a promotion stub after a respawn).
type ExecutableMemory struct {
	Data []byte
	Size int
}

// AllocateExecutableMemory reserves size bytes (rounded up to a page)
// mapped PROT_READ|PROT_WRITE|PROT_EXEC. Unlike the teacher's version this
// package only targets linux/darwin via golang.org/x/sys/unix; Windows
// support is a non-goal spec.md never asks for (single target
// architecture, §1).
func AllocateExecutableMemory(size int) (*ExecutableMemory, error) {
	pageSize := unix.Getpagesize()
	aligned := ((size + pageSize - 1) / pageSize) * pageSize
	if aligned == 0 {
		aligned = pageSize
	}

	data, err := unix.Mmap(-1, 0, aligned,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap executable region: %w", err)
	}

	return &ExecutableMemory{Data: data, Size: aligned}, nil
}

// Free unmaps the region.
func (em *ExecutableMemory) Free() error {
	if em.Data == nil {
		return nil
	}
	err := unix.Munmap(em.Data)
	em.Data = nil
	if err != nil {
		return fmt.Errorf("jit: munmap executable region: %w", err)
	}
	return nil
}

// WriteBytes copies data into the region at offset. Callers that need to
// patch an already-published (and therefore already PROT_EXEC) region
// should bracket the call with MakeWritable/MakeExecutable.
func (em *ExecutableMemory) WriteBytes(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(em.Data) {
		return fmt.Errorf("jit: write at offset %d length %d exceeds region of size %d", offset, len(data), len(em.Data))
	}
	copy(em.Data[offset:], data)
	return nil
}

// MakeWritable toggles the region to PROT_READ|PROT_WRITE, dropping
// PROT_EXEC, before a backpatch. Pairs with MakeExecutable.
func (em *ExecutableMemory) MakeWritable() error {
	if err := unix.Mprotect(em.Data, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("jit: mprotect writable: %w", err)
	}
	return nil
}

// MakeExecutable restores PROT_READ|PROT_EXEC after a backpatch.
func (em *ExecutableMemory) MakeExecutable() error {
	if err := unix.Mprotect(em.Data, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect executable: %w", err)
	}
	return nil
}

// GetFunctionPointer returns the address of the instruction at offset
// within the region, suitable for casting to a Go function value via
// unsafe (execution.go does this).
func (em *ExecutableMemory) GetFunctionPointer(offset int) uintptr {
	if len(em.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&em.Data[0])) + uintptr(offset)
}
