// Package dmai2s is the DMA driven I2S transport for BCM283x/BCM2711 boards.
//
// The PCM block runs as a clock slave to the codec. A circular chain of
// single-sample DMA descriptors moves every word between the PCM FIFO and
// two alternating buffer pairs; a real-time goroutine converts the pair the
// engine is not using and paces itself against the engine position.
package dmai2s

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/fxnode/internal/codec"
	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/pcm"
	"github.com/smazurov/fxnode/internal/logging"
	"github.com/smazurov/fxnode/internal/pipeline"
	"github.com/smazurov/fxnode/internal/transport"
)

// Name is the backend name in the transport registry.
const Name = "rpi-dma"

// Defaults.
const (
	DefaultBlockSize       = 64
	DefaultChannels        = 2
	DefaultPrefill         = 2
	DefaultPriority        = 80
	DefaultMonitorInterval = time.Second

	buffers       = 2
	sampleBits    = 24
	monitorMisses = 3
)

func init() {
	transport.Register(Name, func(cb transport.Callback, opts transport.Options) (transport.Transport, error) {
		return New(cb, opts, OpenHardware), nil
	})
}

// Transport implements transport.Transport over the PCM block and one DMA
// channel.
type Transport struct {
	cb     transport.Callback
	opts   transport.Options
	open   Opener
	logger logging.Logger

	// MonitorInterval is how often the codec is checked while running;
	// 0 disables the check.
	MonitorInterval time.Duration
	// Sleep replaces the thread sleep of the polling loop.
	Sleep func(time.Duration)

	mu      sync.Mutex
	hw      *Hardware
	geo     dma.Geometry
	pipe    *pipeline.Pipeline
	info    transport.Info
	chain   *dma.Chain
	state   transport.State
	stop    atomic.Bool
	done    chan struct{}
	monitor context.CancelFunc
	monDone chan struct{}
	stats   counters
	lastErr transport.LastError
}

// New creates a transport that acquires its hardware through open at Init.
func New(cb transport.Callback, opts transport.Options, open Opener) *Transport {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Channels == 0 {
		opts.Channels = DefaultChannels
	}
	if opts.Prefill == 0 {
		opts.Prefill = DefaultPrefill
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("dmai2s")
	}
	return &Transport{
		cb:              cb,
		opts:            opts,
		open:            open,
		logger:          logger,
		MonitorInterval: DefaultMonitorInterval,
		Sleep:           nanosleep,
		state:           transport.StateStopped,
	}
}

func (t *Transport) fail(err error) error {
	if err != nil {
		t.logger.Error("Transport error", "error", err)
	}
	return t.lastErr.Record(err)
}

// Init acquires the hardware and sizes the buffers. It fails with a
// configuration error when the channel mapping does not fit the hardware.
func (t *Transport) Init(req transport.InitRequest) (transport.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hw != nil {
		return transport.Info{}, t.fail(transport.NewError(transport.ErrCodeInvalidState, "already initialized", nil))
	}
	if req.Driver == "" {
		req.Driver = "cs4272"
	}

	geo := dma.Geometry{Buffers: buffers, BlockSize: t.opts.BlockSize, Channels: t.opts.Channels}
	if err := geo.Validate(); err != nil {
		return transport.Info{}, t.fail(transport.NewError(transport.ErrCodeConfiguration, "buffer geometry", err))
	}
	if geo.Channels != 2 {
		return transport.Info{}, t.fail(transport.NewError(transport.ErrCodeConfiguration,
			fmt.Sprintf("i2s frame carries 2 channels, %d requested", geo.Channels), nil))
	}
	pipe, err := pipeline.New(pipeline.Config{
		Channels:   geo.Channels,
		BlockSize:  geo.BlockSize,
		InputBase:  req.InputBase,
		OutputBase: req.OutputBase,
	})
	if err != nil {
		return transport.Info{}, t.fail(transport.NewError(transport.ErrCodeConfiguration, "channel mapping", err))
	}

	hw, err := t.open(OpenRequest{Driver: req.Driver, RegionSize: geo.RegionSize(), SampleRate: t.opts.SampleRate})
	if err != nil {
		return transport.Info{}, t.fail(err)
	}
	if hw.Region == nil || hw.Region.Size() < geo.RegionSize() {
		_ = hw.Close()
		return transport.Info{}, t.fail(transport.NewError(transport.ErrCodeResourceAcquisition, "dma region too small", nil))
	}

	if hw.Codec.SampleRate() <= 0 {
		_ = hw.Close()
		return transport.Info{}, t.fail(transport.NewError(transport.ErrCodeConfiguration,
			fmt.Sprintf("codec %s reports no sample rate", hw.Codec.Name()), nil))
	}

	t.hw = hw
	t.geo = geo
	t.pipe = pipe
	t.info = transport.Info{
		SampleRate:   hw.Codec.SampleRate(),
		MaxBlockSize: geo.BlockSize,
		Inputs:       pipe.Inputs(),
		Outputs:      pipe.Outputs(),
	}
	t.logger.Info("Transport initialized",
		"board", hw.Board,
		"codec", hw.Codec.Name(),
		"sample_rate", t.info.SampleRate,
		"block_size", geo.BlockSize,
		"descriptors", geo.Descriptors(),
		"vector", pipe.Vector())
	return t.info, nil
}

// Start brings up the codec, programs PCM and DMA and launches the polling
// loop.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fail(t.start())
}

func (t *Transport) start() error {
	if t.hw == nil {
		return transport.NewError(transport.ErrCodeInvalidState, "start before init", nil)
	}
	if t.state == transport.StateRunning {
		return transport.NewError(transport.ErrCodeInvalidState, "already running", nil)
	}
	hw := t.hw

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hw.Codec.Start(ctx); err != nil {
		return transport.NewError(transport.ErrCodeResourceAcquisition, "codec bring-up", err)
	}

	chain, err := t.arm(hw)
	if err != nil {
		if qerr := t.quiesce(hw); qerr != nil {
			t.logger.Warn("Codec power down after failed start", "error", qerr)
		}
		return err
	}
	t.chain = chain

	p := &poller{
		chain:  chain,
		dma:    hw.DMA,
		pcm:    hw.PCM,
		pipe:   t.pipe,
		cb:     t.cb,
		period: time.Second / time.Duration(t.info.SampleRate),
		sleep:  t.Sleep,
		stop:   &t.stop,
		stats:  &t.stats,
	}
	p.overhead = measureOverhead(t.Sleep, 50*time.Microsecond, 8)

	t.stop.Store(false)
	t.done = make(chan struct{})
	go t.poll(p, t.done)

	if t.MonitorInterval > 0 {
		mctx, mcancel := context.WithCancel(context.Background())
		t.monitor = mcancel
		t.monDone = make(chan struct{})
		var once sync.Once
		go func(done chan struct{}) {
			defer close(done)
			codec.Watch(mctx, hw.Codec, t.MonitorInterval, monitorMisses, func(err error) {
				once.Do(func() {
					t.logger.Error("Codec check failed, requesting exit", "error", err)
					t.cb.RequestExit(err.Error())
				})
			})
		}(t.monDone)
	}

	t.state = transport.StateRunning
	t.logger.Info("Transport started", "overhead", p.overhead, "prefill", t.opts.Prefill)
	return nil
}

// arm routes the pins, programs PCM, builds the chain and starts DMA with
// the transmit FIFO primed.
func (t *Transport) arm(hw *Hardware) (*dma.Chain, error) {
	if hw.GPIO != nil {
		pcm.Route(hw.GPIO, hw.Pins)
	}
	if err := hw.PCM.Configure(pcm.I2S(sampleBits)); err != nil {
		return nil, transport.NewError(transport.ErrCodeConfiguration, "pcm format", err)
	}
	hw.PCM.ClearFIFOs()

	chain, err := dma.Build(hw.Region, t.geo, hw.FIFO, dma.DReqPCMRX, dma.DReqPCMTX)
	if err != nil {
		return nil, transport.NewError(transport.ErrCodeConfiguration, "descriptor chain", err)
	}
	chain.Layout().Clear()

	hw.DMA.Reset()
	hw.DMA.Enable()
	if err := hw.DMA.Start(chain.Head()); err != nil {
		return nil, transport.NewError(transport.ErrCodeResourceAcquisition, "dma start", err)
	}
	hw.PCM.Prefill(t.opts.Prefill)
	hw.PCM.Enable()
	return chain, nil
}

// quiesce undoes arm and powers the codec down.
func (t *Transport) quiesce(hw *Hardware) error {
	hw.PCM.Disable()
	hw.DMA.Abort()
	if hw.GPIO != nil {
		pcm.Release(hw.GPIO, hw.Pins)
	}
	return hw.Codec.Stop()
}

func (t *Transport) poll(p *poller, done chan struct{}) {
	defer close(done)
	// Never unlocked: the goroutine exits holding the thread, so the runtime
	// terminates it instead of handing a real-time thread to other goroutines.
	runtime.LockOSThread()

	if t.opts.Priority > 0 {
		if err := elevate(t.opts.Priority); err != nil {
			t.logger.Warn("Running without real-time scheduling", "error", err)
		}
	}
	p.run()
}

// Stop ends the polling loop, waits for it and quiesces the hardware. It is
// a no-op when already stopped.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fail(t.stopLocked())
}

func (t *Transport) stopLocked() error {
	if t.state != transport.StateRunning {
		return nil
	}
	t.stop.Store(true)
	<-t.done

	if t.monitor != nil {
		t.monitor()
		<-t.monDone
		t.monitor = nil
	}

	t.state = transport.StateStopped
	if err := t.quiesce(t.hw); err != nil {
		return transport.NewError(transport.ErrCodeResourceAcquisition, "codec power down", err)
	}
	t.logger.Info("Transport stopped", "stats", t.stats.snapshot())
	return nil
}

// Restart stops and starts the transport.
func (t *Transport) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.stopLocked(); err != nil {
		return t.fail(err)
	}
	return t.fail(t.start())
}

// LastError returns the most recent failure text.
func (t *Transport) LastError() string {
	return t.lastErr.String()
}

// State reports whether the loop is running.
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Info returns what Init reported.
func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Stats returns the polling loop counters.
func (t *Transport) Stats() transport.Stats {
	return t.stats.snapshot()
}

// Position decodes where the DMA engine currently is.
func (t *Transport) Position() (dma.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chain == nil {
		return dma.Position{}, false
	}
	return t.chain.Decode(t.hw.DMA.CurrentDescriptor())
}

// PCMStatus returns the raw PCM status register.
func (t *Transport) PCMStatus() (pcm.Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hw == nil {
		return 0, false
	}
	return t.hw.PCM.Status(), true
}

// InputSnapshot copies both input buffers.
func (t *Transport) InputSnapshot() [][]int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.chain == nil {
		return nil
	}
	return t.chain.Layout().InputSnapshot()
}

// Close stops the transport and releases the hardware.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.stopLocked()
	if t.hw != nil {
		if cerr := t.hw.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.hw = nil
		t.chain = nil
	}
	return err
}
