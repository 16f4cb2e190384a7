package dmai2s

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/smazurov/fxnode/internal/codec"
	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/dmamem"
	"github.com/smazurov/fxnode/internal/hw/pcm"
	"github.com/smazurov/fxnode/internal/hw/regs"
)

// fakeDMA walks the descriptor cycle, advancing step descriptors on every
// position read.
type fakeDMA struct {
	mu     sync.Mutex
	n      int
	step   int
	head   uint32
	idx    int
	active bool
	starts int
	aborts int
	// startErr fails the next Start calls while set.
	startErr error
}

func (f *fakeDMA) Enable() {}

func (f *fakeDMA) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakeDMA) Start(cb uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.head = cb
	f.idx = 0
	f.active = true
	f.starts++
	return nil
}

func (f *fakeDMA) CurrentDescriptor() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return 0
	}
	addr := f.head + uint32(f.idx*dma.DescriptorSize)
	f.idx = (f.idx + f.step) % f.n
	return addr
}

// skip jumps the engine forward by n descriptors.
func (f *fakeDMA) skip(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idx = (f.idx + n) % f.n
}

func (f *fakeDMA) Status() dma.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return dma.CSActive
	}
	return 0
}

func (f *fakeDMA) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.aborts++
}

// fakePCM latches injected errors until TakeErrors clears them.
type fakePCM struct {
	mu         sync.Mutex
	cs         uint32
	configured int
	prefilled  int
}

func (f *fakePCM) Configure(pcm.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured++
	f.cs = pcm.CSEn | pcm.CSDMAEn
	return nil
}

func (f *fakePCM) ClearFIFOs() {}

func (f *fakePCM) Prefill(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefilled += n
}

func (f *fakePCM) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cs |= pcm.CSTXOn | pcm.CSRXOn
}

func (f *fakePCM) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cs = 0
}

func (f *fakePCM) Status() pcm.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pcm.Status(f.cs)
}

func (f *fakePCM) TakeErrors() pcm.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := f.cs & pcm.CSErrors
	f.cs &^= errs
	return pcm.Status(errs)
}

func (f *fakePCM) inject(bits uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cs |= bits
}

// fakeCodec counts bring-ups and fails checks on demand.
type fakeCodec struct {
	starts   atomic.Int32
	stops    atomic.Int32
	checkErr atomic.Value
}

func (c *fakeCodec) Name() string { return "fake" }

func (c *fakeCodec) Start(context.Context) error {
	c.starts.Add(1)
	return nil
}

func (c *fakeCodec) Stop() error {
	c.stops.Add(1)
	return nil
}

func (c *fakeCodec) SampleRate() int { return 48000 }

func (c *fakeCodec) Check() error {
	if err, ok := c.checkErr.Load().(error); ok {
		return err
	}
	return nil
}

func (c *fakeCodec) ChipID() (byte, error) { return 0, nil }

var _ codec.Codec = (*fakeCodec)(nil)

// callback counts what the transport reports.
type callback struct {
	blocks   atomic.Int64
	dropouts atomic.Int64
	exits    atomic.Int64
	reason   atomic.Value
}

func (c *callback) ProcessBlock(out, in [][]float32, frames int) {
	c.blocks.Add(1)
	for i := range out {
		copy(out[i], in[i])
	}
}

func (c *callback) NotifyDropout() { c.dropouts.Add(1) }

func (c *callback) RequestExit(reason string) {
	c.exits.Add(1)
	c.reason.Store(reason)
}

type fakeHardware struct {
	dma   *fakeDMA
	pcm   *fakePCM
	codec *fakeCodec
	gpio  *regs.GPIO
}

func (f *fakeHardware) failDMAStart(err error) {
	f.dma.mu.Lock()
	defer f.dma.mu.Unlock()
	f.dma.startErr = err
}

// pinFunctions returns the function of each PCM pin.
func (f *fakeHardware) pinFunctions() []regs.Function {
	p := pcm.DefaultPins
	return []regs.Function{
		f.gpio.Function(p.Clock),
		f.gpio.Function(p.FrameSync),
		f.gpio.Function(p.DataIn),
		f.gpio.Function(p.DataOut),
	}
}

// opener returns an Opener handing out fake hardware whose engine advances
// one frame per position read.
func (f *fakeHardware) opener(channels int) Opener {
	return func(req OpenRequest) (*Hardware, error) {
		f.dma.step = channels * 2
		region := dmamem.NewHeap(req.RegionSize, 0xc0000000)
		return &Hardware{
			Board:  "test",
			GPIO:   f.gpio,
			Pins:   pcm.DefaultPins,
			PCM:    f.pcm,
			DMA:    f.dma,
			FIFO:   pcm.FIFOBus,
			Region: region,
			Codec:  f.codec,
		}, nil
	}
}

func newFakeHardware(descriptors int) *fakeHardware {
	return &fakeHardware{
		dma:   &fakeDMA{n: descriptors},
		pcm:   &fakePCM{},
		codec: &fakeCodec{},
		gpio:  regs.NewGPIO(regs.NewWindow("gpio", make([]uint32, regs.GPIOSize/4)), regs.PullDirect),
	}
}
