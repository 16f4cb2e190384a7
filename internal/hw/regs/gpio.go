package regs

import (
	"fmt"
	"sync"
	"time"
)

// GPIO register offsets (BCM2835 ARM Peripherals, section 6.1).
const (
	gpfsel0   = 0x00
	gpset0    = 0x1c
	gpclr0    = 0x28
	gplev0    = 0x34
	gppud     = 0x94
	gppudclk0 = 0x98
	gppupdn0  = 0xe4 // BCM2711 only
)

// GPIO block placement relative to the peripheral base, and its size in bytes.
const (
	GPIOOffset = 0x200000
	GPIOSize   = 0xf4
)

// NumPins is the number of GPIO lines on the BCM283x/BCM2711.
const NumPins = 54

// Function is the 3-bit function select value of a pin.
type Function uint32

// Pin functions. The alternate function encoding is not monotonic.
const (
	Input  Function = 0
	Output Function = 1
	Alt0   Function = 4
	Alt1   Function = 5
	Alt2   Function = 6
	Alt3   Function = 7
	Alt4   Function = 3
	Alt5   Function = 2
)

func (f Function) String() string {
	switch f {
	case Input:
		return "in"
	case Output:
		return "out"
	case Alt0:
		return "alt0"
	case Alt1:
		return "alt1"
	case Alt2:
		return "alt2"
	case Alt3:
		return "alt3"
	case Alt4:
		return "alt4"
	case Alt5:
		return "alt5"
	}
	return fmt.Sprintf("Function(%d)", uint32(f))
}

// Level is the logic level of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pull is the pull resistor applied to a pin.
type Pull uint8

const (
	PullNone Pull = iota
	PullDown
	PullUp
)

// PullStyle selects how pull resistors are programmed.
type PullStyle int

const (
	// PullClocked is the BCM2835/6/7 GPPUD + GPPUDCLK sequence.
	PullClocked PullStyle = iota
	// PullDirect is the BCM2711 per-pin PUP_PDN control registers.
	PullDirect
)

// GPIO drives pins through the GPIO register block.
type GPIO struct {
	r     Registers
	style PullStyle
	mu    sync.Mutex // serializes read-modify-write of shared control words
}

// NewGPIO returns a pin driver on top of the GPIO register block.
func NewGPIO(r Registers, style PullStyle) *GPIO {
	return &GPIO{r: r, style: style}
}

func checkPin(pin int) {
	if pin < 0 || pin >= NumPins {
		panic(fmt.Sprintf("regs: invalid GPIO %d", pin))
	}
}

// SetFunction selects the function of a pin. Ten pins share each function
// select word, so the 3-bit field update is done as one locked
// read-modify-write.
func (g *GPIO) SetFunction(pin int, fn Function) {
	checkPin(pin)
	off := uint32(gpfsel0 + 4*(pin/10))
	shift := uint32(pin%10) * 3

	g.mu.Lock()
	v := g.r.Get(off)
	v = v&^(7<<shift) | (uint32(fn)&7)<<shift
	g.r.Set(off, v)
	g.mu.Unlock()
}

// Function returns the currently selected function of a pin.
func (g *GPIO) Function(pin int) Function {
	checkPin(pin)
	v := g.r.Get(uint32(gpfsel0 + 4*(pin/10)))
	return Function(v >> (uint32(pin%10) * 3) & 7)
}

// Set drives an output pin high.
func (g *GPIO) Set(pin int) {
	checkPin(pin)
	g.r.Set(uint32(gpset0+4*(pin/32)), 1<<uint(pin%32))
}

// Clear drives an output pin low.
func (g *GPIO) Clear(pin int) {
	checkPin(pin)
	g.r.Set(uint32(gpclr0+4*(pin/32)), 1<<uint(pin%32))
}

// Write drives an output pin to l.
func (g *GPIO) Write(pin int, l Level) {
	if l {
		g.Set(pin)
	} else {
		g.Clear(pin)
	}
}

// Read returns the current level of a pin.
func (g *GPIO) Read(pin int) Level {
	checkPin(pin)
	v := g.r.Get(uint32(gplev0 + 4*(pin/32)))
	return v&(1<<uint(pin%32)) != 0
}

// Pull applies a pull resistor to a pin.
func (g *GPIO) Pull(pin int, p Pull) {
	checkPin(pin)
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.style == PullDirect {
		// 00 none, 01 up, 10 down.
		var code uint32
		switch p {
		case PullUp:
			code = 1
		case PullDown:
			code = 2
		}
		off := uint32(gppupdn0 + 4*(pin/16))
		shift := uint32(pin%16) * 2
		v := g.r.Get(off)
		g.r.Set(off, v&^(3<<shift)|code<<shift)
		return
	}

	// 00 none, 01 down, 10 up; the control signal needs 150 cycles of setup
	// and hold around the clock pulse.
	var code uint32
	switch p {
	case PullDown:
		code = 1
	case PullUp:
		code = 2
	}
	clk := uint32(gppudclk0 + 4*(pin/32))
	g.r.Set(gppud, code)
	pullWait()
	g.r.Set(clk, 1<<uint(pin%32))
	pullWait()
	g.r.Set(gppud, 0)
	g.r.Set(clk, 0)
}

func pullWait() {
	time.Sleep(time.Microsecond)
}
