// Package pcm drives the BCM283x PCM/I2S peripheral in slave mode with DMA
// pacing.
package pcm

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/fxnode/internal/hw/regs"
)

// syncTimeout bounds the wait for the SYNC bit to echo back. It takes two
// PCM clocks; without an external clock it never does.
const syncTimeout = time.Millisecond

// Config is the frame format and FIFO policy.
type Config struct {
	FrameLength     int    // bit clocks per frame
	FrameSyncLength int    // bit clocks FS stays asserted
	SampleBits      int    // 8 to 32
	Positions       [2]int // first bit clock of each channel within the frame
	ClockSlave      bool
	FrameSlave      bool
	InvertClock     bool
	InvertFrameSync bool
	TXThreshold     uint32
	RXThreshold     uint32
	DREQ            DREQLevels
}

// DREQLevels are the FIFO levels at which the peripheral asks for DMA.
type DREQLevels struct {
	TX      uint32
	RX      uint32
	TXPanic uint32
	RXPanic uint32
}

// I2S returns the 64 clock stereo frame an I2S master codec produces. Data
// lags the frame sync edge by one clock, so channels start at bits 1 and 33.
func I2S(bits int) Config {
	return Config{
		FrameLength:     64,
		FrameSyncLength: 32,
		SampleBits:      bits,
		Positions:       [2]int{1, 33},
		ClockSlave:      true,
		FrameSlave:      true,
		InvertClock:     true,
		InvertFrameSync: true,
		TXThreshold:     ThresholdLow,
		RXThreshold:     ThresholdEmpty,
		DREQ:            DREQLevels{TX: 0x30, RX: 0x20, TXPanic: 0x10, RXPanic: 0x30},
	}
}

// Validate checks the frame format fits the register fields.
func (c Config) Validate() error {
	if c.SampleBits < 8 || c.SampleBits > 32 {
		return fmt.Errorf("pcm: sample width %d out of range 8..32", c.SampleBits)
	}
	if c.FrameLength < 1 || c.FrameLength > 1024 {
		return fmt.Errorf("pcm: frame length %d out of range", c.FrameLength)
	}
	if c.FrameSyncLength < 0 || c.FrameSyncLength > 1023 {
		return fmt.Errorf("pcm: frame sync length %d out of range", c.FrameSyncLength)
	}
	for i, p := range c.Positions {
		if p < 0 || p+c.SampleBits > c.FrameLength {
			return fmt.Errorf("pcm: channel %d at bit %d does not fit a %d clock frame", i+1, p, c.FrameLength)
		}
	}
	return nil
}

func (c Config) mode() uint32 {
	m := uint32(c.FrameSyncLength)<<ModeFSLenShift | uint32(c.FrameLength-1)<<ModeFLenShift
	if c.FrameSlave {
		m |= ModeFSM
	}
	if c.ClockSlave {
		m |= ModeCLKM
	}
	if c.InvertFrameSync {
		m |= ModeFSI
	}
	if c.InvertClock {
		m |= ModeCLKI
	}
	return m
}

// channels encodes RXC_A/TXC_A: both channels enabled at their positions.
func (c Config) channels() uint32 {
	w := uint32(c.SampleBits - 8)
	half := func(pos int) uint32 {
		v := chEN | uint32(pos)<<chPosShift | w&chWidMask
		if w > chWidMask {
			v |= chWEX
		}
		return v
	}
	return half(c.Positions[0])<<ch1Shift | half(c.Positions[1])
}

func (d DREQLevels) word() uint32 {
	return (d.TXPanic&dreqMask)<<dreqTXPanicShift |
		(d.RXPanic&dreqMask)<<dreqRXPanicShift |
		(d.TX&dreqMask)<<dreqTXShift |
		(d.RX&dreqMask)<<dreqRXShift
}

// Status is a snapshot of CS_A.
type Status uint32

// RXError reports a receive FIFO overflow.
func (s Status) RXError() bool { return s&CSRXErr != 0 }

// TXError reports a transmit FIFO underflow.
func (s Status) TXError() bool { return s&CSTXErr != 0 }

func (s Status) String() string {
	var flags []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{CSEn, "EN"},
		{CSRXOn, "RXON"},
		{CSTXOn, "TXON"},
		{CSDMAEn, "DMAEN"},
		{CSTXErr, "TXERR"},
		{CSRXErr, "RXERR"},
		{CSTXE, "TXE"},
		{CSRXF, "RXF"},
		{CSSync, "SYNC"},
	} {
		if uint32(s)&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("%#08x(%s)", uint32(s), strings.Join(flags, "|"))
}

// Controller drives the PCM block.
type Controller struct {
	r regs.Registers
}

// New returns a controller over the PCM register block.
func New(r regs.Registers) *Controller {
	return &Controller{r: r}
}

// Disable stops transmit and receive and turns the block off.
func (p *Controller) Disable() {
	cs := p.r.Get(RegCS)
	p.r.Set(RegCS, cs&^(CSTXOn|CSRXOn|CSErrors))
	p.r.Set(RegCS, 0)
}

// Configure programs the frame format, FIFO thresholds and DMA pacing.
// Received samples are sign extended to 32 bits. Transmit and receive stay
// off until Enable.
func (p *Controller) Configure(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	p.Disable()
	p.r.Set(RegCS, CSEn|CSStby)
	p.r.Set(RegMode, c.mode())
	ch := c.channels()
	p.r.Set(RegRXC, ch)
	p.r.Set(RegTXC, ch)
	p.r.Set(RegIntEn, 0)
	p.r.Set(RegIntStC, 0x0f)
	p.r.Set(RegDREQ, c.DREQ.word())
	p.r.Set(RegCS, CSEn|CSStby|CSDMAEn|CSRXSEx|
		(c.TXThreshold&3)<<csTXThrShift|
		(c.RXThreshold&3)<<csRXThrShift)
	return nil
}

// ClearFIFOs empties both FIFOs and waits for the clear to cross into the
// PCM clock domain.
func (p *Controller) ClearFIFOs() {
	p.r.Set(RegCS, p.r.Get(RegCS)|CSTXClr|CSRXClr)
	p.waitSync()
}

// waitSync writes SYNC and waits for it to read back, which takes two PCM
// clocks. Gives up after syncTimeout.
func (p *Controller) waitSync() bool {
	cs := p.r.Get(RegCS) &^ (CSTXClr | CSRXClr | CSErrors)
	p.r.Set(RegCS, cs|CSSync)
	deadline := time.Now().Add(syncTimeout)
	ok := false
	for time.Now().Before(deadline) {
		if p.r.Get(RegCS)&CSSync != 0 {
			ok = true
			break
		}
	}
	p.r.Set(RegCS, p.r.Get(RegCS)&^(CSSync|CSTXClr|CSRXClr|CSErrors))
	return ok
}

// Prefill pushes n silent words into the transmit FIFO.
func (p *Controller) Prefill(n int) {
	for range n {
		p.r.Set(RegFIFO, 0)
	}
}

// Enable starts receive and transmit.
func (p *Controller) Enable() {
	cs := p.r.Get(RegCS) &^ CSErrors
	p.r.Set(RegCS, cs|CSRXOn|CSTXOn)
}

// Status reads CS_A.
func (p *Controller) Status() Status {
	return Status(p.r.Get(RegCS))
}

// TakeErrors returns the latched FIFO error flags and clears them. The flags
// are write-one-to-clear, so writing back the register clears exactly what
// was read.
func (p *Controller) TakeErrors() Status {
	cs := p.r.Get(RegCS)
	errs := cs & CSErrors
	if errs != 0 {
		p.r.Set(RegCS, cs&^(CSTXClr|CSRXClr|CSSync)|errs)
	}
	return Status(errs)
}
