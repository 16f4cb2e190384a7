package dma

import (
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/fxnode/internal/hw/regs"
)

// resetSettle is how long the engine is given to finish a reset. The reset
// bit self-clears but is not polled, so a stuck engine cannot hang the caller.
const resetSettle = 100 * time.Microsecond

// Status is a snapshot of a channel CS register.
type Status uint32

// Active reports whether the channel is running a descriptor.
func (s Status) Active() bool { return s&CSActive != 0 }

// Error reports whether the channel latched an error.
func (s Status) Error() bool { return s&CSError != 0 }

// Paused reports whether the channel is paused.
func (s Status) Paused() bool { return s&CSPaused != 0 }

func (s Status) String() string {
	var flags []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{CSActive, "ACTIVE"},
		{CSEnd, "END"},
		{CSInt, "INT"},
		{CSDReq, "DREQ"},
		{CSPaused, "PAUSED"},
		{CSDReqStopsDMA, "DREQ_STOPS_DMA"},
		{CSWaitingForWrites, "WAITING"},
		{CSError, "ERROR"},
	} {
		if uint32(s)&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	if len(flags) == 0 {
		return fmt.Sprintf("%#08x", uint32(s))
	}
	return fmt.Sprintf("%#08x(%s)", uint32(s), strings.Join(flags, "|"))
}

// Channel drives one DMA channel of the controller block.
type Channel struct {
	r    regs.Registers
	n    int
	base uint32

	// Priority and PanicPriority are written to CS on Start.
	Priority      uint32
	PanicPriority uint32
}

// NewChannel returns channel n of the controller block mapped at r.
func NewChannel(r regs.Registers, n int) (*Channel, error) {
	if n < 0 || n > MaxChannel {
		return nil, fmt.Errorf("dma: channel %d out of range 0..%d", n, MaxChannel)
	}
	return &Channel{
		r:             r,
		n:             n,
		base:          uint32(n) * ChannelStride,
		Priority:      8,
		PanicPriority: 8,
	}, nil
}

// Number returns the channel number.
func (c *Channel) Number() int {
	return c.n
}

func (c *Channel) get(off uint32) uint32 {
	return c.r.Get(c.base + off)
}

func (c *Channel) set(off, v uint32) {
	c.r.Set(c.base+off, v)
}

// Enable sets the channel bit in the global enable register.
func (c *Channel) Enable() {
	c.r.Set(regEnable, c.r.Get(regEnable)|1<<c.n)
}

// Reset resets the channel and clears latched debug errors.
func (c *Channel) Reset() {
	c.set(RegCS, CSReset)
	time.Sleep(resetSettle)
	c.ClearErrors()
	c.set(RegConblkAd, 0)
}

// ClearErrors clears the DEBUG error flags and returns those that were set.
func (c *Channel) ClearErrors() uint32 {
	errs := c.get(RegDebug) & DebugErrors
	c.set(RegDebug, DebugErrors)
	return errs
}

// Start points the channel at the descriptor at bus address cb and activates
// it. END and INT are written back to clear stale completion flags.
func (c *Channel) Start(cb uint32) error {
	if cb&31 != 0 {
		return fmt.Errorf("dma: descriptor %#x not 32 byte aligned", cb)
	}
	c.set(RegConblkAd, cb)
	c.set(RegCS, CSWaitForOutstandingWrites|
		(c.PanicPriority&csPriorityMask)<<csPanicPriorityShift|
		(c.Priority&csPriorityMask)<<csPriorityShift|
		CSEnd|CSInt|CSActive)
	return nil
}

// CurrentDescriptor returns the bus address of the descriptor being executed.
func (c *Channel) CurrentDescriptor() uint32 {
	return c.get(RegConblkAd)
}

// Status reads the CS register.
func (c *Channel) Status() Status {
	return Status(c.get(RegCS))
}

// Abort stops the current transfer and resets the channel.
func (c *Channel) Abort() {
	c.set(RegCS, c.get(RegCS)&^CSActive)
	c.set(RegCS, CSAbort)
	c.Reset()
}
