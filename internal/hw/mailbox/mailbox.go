// Package mailbox talks to the VideoCore firmware through the property
// mailbox exposed by /dev/vcio.
package mailbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is the VideoCore mailbox character device.
const Device = "/dev/vcio"

// Property tags used by this package.
const (
	TagBoardRevision = 0x00010002
	TagMemAlloc      = 0x0003000c
	TagMemLock       = 0x0003000d
	TagMemUnlock     = 0x0003000e
	TagMemFree       = 0x0003000f
)

// Memory allocation flags for TagMemAlloc.
const (
	MemFlagDirect          = 1 << 2 // uncached, 0xC0000000 alias
	MemFlagCoherent        = 2 << 2 // non-allocating in L2, 0x80000000 alias
	MemFlagL1NonAllocating = MemFlagDirect | MemFlagCoherent
	MemFlagZero            = 1 << 4
)

const (
	requestCode = 0x00000000
	responseOK  = 0x80000000
	maxWords    = 32
)

// ioctlProperty is _IOWR(100, 0, char *); the size field depends on the
// pointer width of the running kernel ABI.
var ioctlProperty = uintptr(0xc0000000 | uintptr(unsafe.Sizeof(uintptr(0)))<<16 | 100<<8)

// Mailbox is an open property channel.
type Mailbox struct {
	fd int
}

// Open opens the mailbox device.
func Open() (*Mailbox, error) {
	fd, err := unix.Open(Device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("mailbox: open %s: %w", Device, err)
	}
	return &Mailbox{fd: fd}, nil
}

// Close releases the device.
func (m *Mailbox) Close() error {
	return unix.Close(m.fd)
}

// Property sends one tag with its request words and returns respWords
// response words.
func (m *Mailbox) Property(tag uint32, respWords int, args ...uint32) ([]uint32, error) {
	n := max(len(args), respWords)
	if n+6 > maxWords {
		return nil, fmt.Errorf("mailbox: tag %#x: %d value words exceed buffer", tag, n)
	}

	buf := encode(tag, n, args)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(m.fd), ioctlProperty, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, fmt.Errorf("mailbox: tag %#x: %w", tag, errno)
	}
	if buf[1] != responseOK {
		return nil, fmt.Errorf("mailbox: tag %#x: firmware returned %#x", tag, buf[1])
	}

	out := make([]uint32, respWords)
	copy(out, buf[5:5+respWords])
	return out, nil
}

// encode lays out a single-tag property request with n value words.
func encode(tag uint32, n int, args []uint32) [maxWords]uint32 {
	var buf [maxWords]uint32
	buf[0] = uint32((n + 6) * 4)
	buf[1] = requestCode
	buf[2] = tag
	buf[3] = uint32(n * 4)
	buf[4] = 0
	copy(buf[5:5+n], args)
	buf[5+n] = 0 // end tag
	return buf
}

// MemAlloc allocates size bytes of GPU memory and returns its handle.
// A zero handle means the firmware had no memory left.
func (m *Mailbox) MemAlloc(size, align, flags uint32) (uint32, error) {
	r, err := m.Property(TagMemAlloc, 1, size, align, flags)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// MemLock pins an allocation and returns its bus address.
func (m *Mailbox) MemLock(handle uint32) (uint32, error) {
	r, err := m.Property(TagMemLock, 1, handle)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// MemUnlock releases the pin taken by MemLock.
func (m *Mailbox) MemUnlock(handle uint32) error {
	r, err := m.Property(TagMemUnlock, 1, handle)
	if err != nil {
		return err
	}
	if r[0] != 0 {
		return fmt.Errorf("mailbox: unlock %#x: status %d", handle, r[0])
	}
	return nil
}

// MemFree returns an allocation to the firmware.
func (m *Mailbox) MemFree(handle uint32) error {
	r, err := m.Property(TagMemFree, 1, handle)
	if err != nil {
		return err
	}
	if r[0] != 0 {
		return fmt.Errorf("mailbox: free %#x: status %d", handle, r[0])
	}
	return nil
}

// BoardRevision returns the board revision code.
func (m *Mailbox) BoardRevision() (uint32, error) {
	r, err := m.Property(TagBoardRevision, 1)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}
