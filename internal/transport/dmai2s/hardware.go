package dmai2s

import (
	"errors"
	"fmt"
	"io"

	"github.com/smazurov/fxnode/internal/board"
	"github.com/smazurov/fxnode/internal/codec"
	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/dmamem"
	"github.com/smazurov/fxnode/internal/hw/i2cbus"
	"github.com/smazurov/fxnode/internal/hw/mailbox"
	"github.com/smazurov/fxnode/internal/hw/pcm"
	"github.com/smazurov/fxnode/internal/hw/regs"
	"github.com/smazurov/fxnode/internal/transport"
)

// DMA is the part of the DMA channel driver the transport uses.
type DMA interface {
	Enable()
	Reset()
	Start(cb uint32) error
	CurrentDescriptor() uint32
	Status() dma.Status
	Abort()
}

// PCM is the part of the PCM driver the transport uses.
type PCM interface {
	Configure(c pcm.Config) error
	ClearFIFOs()
	Prefill(n int)
	Enable()
	Disable()
	Status() pcm.Status
	TakeErrors() pcm.Status
}

// Hardware is everything a started transport touches.
type Hardware struct {
	Board  string
	GPIO   *regs.GPIO // nil when pins are routed elsewhere
	Pins   pcm.Pins
	PCM    PCM
	DMA    DMA
	FIFO   uint32
	Region *dmamem.Region
	Codec  codec.Codec

	closers []io.Closer
}

// Close releases the hardware in reverse acquisition order.
func (h *Hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

// OpenRequest sizes the hardware to acquire.
type OpenRequest struct {
	Driver     string
	RegionSize int
	SampleRate int
}

// Opener acquires hardware for a transport.
type Opener func(req OpenRequest) (*Hardware, error)

// gpioLine drives one GPIO pin as a codec reset line.
type gpioLine struct {
	g   *regs.GPIO
	pin int
}

func (l gpioLine) Write(high bool) {
	l.g.Write(l.pin, regs.Level(high))
}

func resourceError(what string, err error) error {
	return transport.NewError(transport.ErrCodeResourceAcquisition, what, err)
}

// OpenHardware maps the peripherals of the detected board, allocates the DMA
// region and brings up the control channel of the requested codec.
func OpenHardware(req OpenRequest) (hw *Hardware, err error) {
	b, err := board.Detect()
	if err != nil {
		return nil, resourceError("detect board", err)
	}

	hw = &Hardware{Board: b.Name, Pins: b.PCMPins(), FIFO: pcm.FIFOBus}
	defer func() {
		if err != nil {
			_ = hw.Close()
			hw = nil
		}
	}()

	gpioWin, err := regs.Map("gpio", regs.DevMem, b.GPIOBase(), regs.GPIOSize)
	if err != nil {
		return nil, resourceError("map gpio", err)
	}
	hw.closers = append(hw.closers, gpioWin)
	hw.GPIO = regs.NewGPIO(gpioWin, b.PullStyle())

	pcmWin, err := regs.Map("pcm", regs.DevMem, b.PCMBase(), pcm.Size)
	if err != nil {
		return nil, resourceError("map pcm", err)
	}
	hw.closers = append(hw.closers, pcmWin)
	hw.PCM = pcm.New(pcmWin)

	dmaWin, err := regs.Map("dma", regs.DevMem, b.DMABase(), dma.ControllerSize)
	if err != nil {
		return nil, resourceError("map dma", err)
	}
	hw.closers = append(hw.closers, dmaWin)
	ch, err := dma.NewChannel(dmaWin, b.DMAChannel)
	if err != nil {
		return nil, transport.NewError(transport.ErrCodeConfiguration, "dma channel", err)
	}
	hw.DMA = ch

	mbox, err := mailbox.Open()
	if err != nil {
		return nil, resourceError("open mailbox", err)
	}
	hw.closers = append(hw.closers, mbox)

	region, err := dmamem.Alloc(mbox, dmamem.DevMem{Path: regs.DevMem}, req.RegionSize, b.MemFlags)
	if err != nil {
		return nil, resourceError(fmt.Sprintf("allocate %d byte dma region", req.RegionSize), err)
	}
	hw.closers = append(hw.closers, region)
	hw.Region = region

	deps := codec.Deps{SampleRate: req.SampleRate}
	if req.Driver != "none" {
		bus, err := i2cbus.Open(b.I2CBus)
		if err != nil {
			return nil, resourceError("open codec control bus", err)
		}
		hw.closers = append(hw.closers, bus)
		hw.GPIO.SetFunction(b.CodecReset, regs.Output)
		deps.Bus = bus
		deps.Addr = b.CodecAddress
		deps.Reset = gpioLine{g: hw.GPIO, pin: b.CodecReset}
	}
	c, err := codec.New(req.Driver, deps)
	if err != nil {
		return nil, transport.NewError(transport.ErrCodeConfiguration, "codec", err)
	}
	hw.Codec = c
	return hw, nil
}
