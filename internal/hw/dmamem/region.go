// Package dmamem allocates memory the DMA engine can address: physically
// contiguous, locked by the firmware and mapped uncached into the process.
package dmamem

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Allocation failures are distinct so callers can tell whether retrying
// makes sense.
var (
	ErrOutOfMemory = errors.New("dmamem: firmware out of memory")
	ErrLock        = errors.New("dmamem: cannot lock allocation")
	ErrMap         = errors.New("dmamem: cannot map allocation")
)

// busToPhys strips the VideoCore cache alias bits from a bus address.
const busToPhys = ^uint32(0xc0000000)

// Allocator is the firmware memory manager.
type Allocator interface {
	MemAlloc(size, align, flags uint32) (uint32, error)
	MemLock(handle uint32) (uint32, error)
	MemUnlock(handle uint32) error
	MemFree(handle uint32) error
}

// Mapper maps physical memory into the process.
type Mapper interface {
	Map(phys uint64, size int) ([]byte, error)
	Unmap(b []byte) error
}

// Region is an owned block of bus-addressable memory.
type Region struct {
	mem    []byte
	bus    uint32
	handle uint32
	alloc  Allocator
	mapper Mapper
	locked bool
}

// Alloc obtains size bytes (rounded up to whole pages) from the firmware,
// locks them and maps them. On failure everything acquired so far is
// released.
func Alloc(a Allocator, m Mapper, size int, flags uint32) (*Region, error) {
	page := os.Getpagesize()
	size = (size + page - 1) &^ (page - 1)

	r := &Region{alloc: a, mapper: m}

	handle, err := a.MemAlloc(uint32(size), uint32(page), flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrOutOfMemory, size, err)
	}
	if handle == 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutOfMemory, size)
	}
	r.handle = handle

	bus, err := a.MemLock(handle)
	if err != nil || bus == 0 {
		_ = r.Close()
		if err == nil {
			err = errors.New("null bus address")
		}
		return nil, fmt.Errorf("%w: %w", ErrLock, err)
	}
	r.bus = bus
	r.locked = true

	mem, err := m.Map(uint64(bus&busToPhys), size)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%w: bus %#x: %w", ErrMap, bus, err)
	}
	r.mem = mem
	return r, nil
}

// NewHeap returns a region backed by ordinary process memory that pretends
// to live at bus address bus. Nothing but software may touch it.
func NewHeap(size int, bus uint32) *Region {
	return &Region{mem: make([]byte, size), bus: bus}
}

// Bytes returns the mapped memory.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Size returns the region size in bytes.
func (r *Region) Size() int {
	return len(r.mem)
}

// BusAddrAt translates a byte offset inside the region.
func (r *Region) BusAddrAt(off int) (uint32, error) {
	if off < 0 || off >= len(r.mem) {
		return 0, fmt.Errorf("dmamem: offset %d outside %d byte region", off, len(r.mem))
	}
	return r.bus + uint32(off), nil
}

// BusAddr translates a pointer into the region to its bus address.
func (r *Region) BusAddr(p unsafe.Pointer) (uint32, error) {
	if len(r.mem) == 0 {
		return 0, errors.New("dmamem: region is closed")
	}
	base := uintptr(unsafe.Pointer(&r.mem[0]))
	addr := uintptr(p)
	if addr < base || addr >= base+uintptr(len(r.mem)) {
		return 0, fmt.Errorf("dmamem: pointer %#x outside region [%#x, %#x)", addr, base, base+uintptr(len(r.mem)))
	}
	return r.bus + uint32(addr-base), nil
}

// Words returns n uint32 words starting at byte offset off.
func (r *Region) Words(off, n int) []uint32 {
	if off&3 != 0 || off < 0 || off+4*n > len(r.mem) {
		panic(fmt.Sprintf("dmamem: %d words at %d outside %d byte region", n, off, len(r.mem)))
	}
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&r.mem[off])), n)
}

// Close unlocks, frees and unmaps the region, in that order. It may be
// called on a partially constructed region and more than once.
func (r *Region) Close() error {
	var errs []error
	if r.alloc != nil && r.handle != 0 {
		if r.locked {
			if err := r.alloc.MemUnlock(r.handle); err != nil {
				errs = append(errs, err)
			}
			r.locked = false
		}
		if err := r.alloc.MemFree(r.handle); err != nil {
			errs = append(errs, err)
		}
		r.handle = 0
	}
	if r.mapper != nil && r.mem != nil {
		if err := r.mapper.Unmap(r.mem); err != nil {
			errs = append(errs, err)
		}
	}
	r.mem = nil
	return errors.Join(errs...)
}

// DevMem maps physical memory through a memory device such as /dev/mem.
type DevMem struct {
	Path string
}

// Map implements Mapper.
func (d DevMem) Map(phys uint64, size int) ([]byte, error) {
	f, err := os.OpenFile(d.Path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return unix.Mmap(int(f.Fd()), int64(phys), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// Unmap implements Mapper.
func (d DevMem) Unmap(b []byte) error {
	return unix.Munmap(b)
}
