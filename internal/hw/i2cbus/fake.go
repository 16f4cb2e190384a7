package i2cbus

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Fake is an in-memory register file on an I2C bus. The first byte written
// in a transaction is the register pointer; further bytes are written to
// consecutive registers and reads continue from the pointer.
type Fake struct {
	mu     sync.Mutex
	regs   [256]byte
	writes []Write
	closed bool
	// Addr, when set, is the only address that acknowledges.
	Addr uint16
	// Fail makes every access to the listed registers fail.
	Fail map[byte]error
}

var _ i2c.BusCloser = (*Fake)(nil)

// Write records one register write.
type Write struct {
	Reg   byte
	Value byte
}

// NewFake returns a fake with the given initial register values.
func NewFake(init map[byte]byte) *Fake {
	f := &Fake{}
	for r, v := range init {
		f.regs[r] = v
	}
	return f
}

func (f *Fake) String() string                  { return "fake-i2c" }
func (f *Fake) Halt() error                     { return nil }
func (f *Fake) SetSpeed(physic.Frequency) error { return nil }

// Tx implements i2c.Bus.
func (f *Fake) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("i2c: fake: bus closed")
	}
	if f.Addr != 0 && addr != f.Addr {
		return fmt.Errorf("i2c: fake: no device at %#02x", addr)
	}
	if len(w) == 0 {
		return errors.New("i2c: fake: no register pointer")
	}
	reg := w[0]
	if err := f.Fail[reg]; err != nil {
		return fmt.Errorf("i2c: fake: reg %#02x: %w", reg, err)
	}
	for i, v := range w[1:] {
		at := reg + byte(i)
		f.regs[at] = v
		f.writes = append(f.writes, Write{at, v})
	}
	for i := range r {
		r[i] = f.regs[reg+byte(len(w)-1)+byte(i)]
	}
	return nil
}

// Register returns the current value of reg.
func (f *Fake) Register(reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg]
}

// Poke changes a register without recording a write.
func (f *Fake) Poke(reg, value byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg] = value
}

// Writes returns the recorded writes in order.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Close implements i2c.BusCloser.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
