// Package regs gives bounds-checked access to memory-mapped peripheral
// registers.
//
// All unsafe pointer arithmetic for MMIO lives here. Everything above this
// package works with byte offsets and uint32 values.
package regs

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem is the character device exposing physical memory.
const DevMem = "/dev/mem"

// ErrMap is returned when a peripheral window cannot be mapped.
var ErrMap = errors.New("regs: cannot map peripheral window")

// Registers is the word-addressed access a peripheral driver needs.
// Offsets are in bytes from the start of the peripheral block.
type Registers interface {
	Get(off uint32) uint32
	Set(off, value uint32)
}

// Window is a mapped peripheral register range.
type Window struct {
	name  string
	phys  uint64
	words []uint32
	raw   []byte // non-nil when the window owns an mmap
}

// Map maps size bytes of physical memory starting at phys through the given
// memory device. phys does not need to be page aligned.
func Map(name, device string, phys uint64, size int) (*Window, error) {
	f, err := os.OpenFile(device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrMap, name, err)
	}
	defer f.Close()

	page := uint64(os.Getpagesize())
	base := phys &^ (page - 1)
	lead := int(phys - base)
	length := (lead + size + int(page) - 1) &^ (int(page) - 1)

	raw, err := unix.Mmap(int(f.Fd()), int64(base), length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w %s at %#x: %w", ErrMap, name, phys, err)
	}

	w := &Window{
		name:  name,
		phys:  phys,
		words: unsafe.Slice((*uint32)(unsafe.Pointer(&raw[lead])), size/4),
		raw:   raw,
	}
	return w, nil
}

// NewWindow wraps plain memory as a register window. Used for peripherals
// emulated in software and in tests.
func NewWindow(name string, words []uint32) *Window {
	return &Window{name: name, words: words}
}

// Name returns the peripheral name the window was created with.
func (w *Window) Name() string {
	return w.name
}

// Size returns the window size in bytes.
func (w *Window) Size() uint32 {
	return uint32(len(w.words) * 4)
}

func (w *Window) index(off uint32) int {
	if off&3 != 0 {
		panic(fmt.Sprintf("regs: %s: unaligned offset %#x", w.name, off))
	}
	i := int(off >> 2)
	if i >= len(w.words) {
		panic(fmt.Sprintf("regs: %s: offset %#x outside %d byte window", w.name, off, len(w.words)*4))
	}
	return i
}

// Get reads the register at byte offset off.
func (w *Window) Get(off uint32) uint32 {
	return atomic.LoadUint32(&w.words[w.index(off)])
}

// Set writes the register at byte offset off.
func (w *Window) Set(off, value uint32) {
	atomic.StoreUint32(&w.words[w.index(off)], value)
}

// Close unmaps the window. Memory-backed windows are left untouched.
func (w *Window) Close() error {
	if w.raw == nil {
		return nil
	}
	err := unix.Munmap(w.raw)
	w.raw = nil
	w.words = nil
	return err
}
