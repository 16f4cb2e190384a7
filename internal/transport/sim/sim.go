// Package sim is a transport without audio hardware. An acquisition
// goroutine paced by a ticker produces blocks and hands them to a processing
// goroutine through a condition variable, the way a sample-clock driven
// capture thread would.
package sim

import (
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/fxnode/internal/logging"
	"github.com/smazurov/fxnode/internal/pipeline"
	"github.com/smazurov/fxnode/internal/transport"
)

// Name is the backend name in the transport registry.
const Name = "sim"

const (
	defaultRate      = 48000
	defaultBlockSize = 64
	defaultChannels  = 2
	toneLevel        = 0.25
)

func init() {
	transport.Register(Name, func(cb transport.Callback, opts transport.Options) (transport.Transport, error) {
		return New(cb, opts), nil
	})
}

// Transport is the simulated backend.
type Transport struct {
	cb     transport.Callback
	opts   transport.Options
	logger logging.Logger
	toneHz float64

	mu      sync.Mutex
	pipe    *pipeline.Pipeline
	info    transport.Info
	state   transport.State
	quit    chan struct{}
	wg      sync.WaitGroup
	lastErr transport.LastError

	// handoff between acquisition and processing
	hmu     sync.Mutex
	cond    *sync.Cond
	pending int // buffer ready for processing, -1 if none
	busy    int // buffer being processed, -1 if none
	stopped bool

	in    [2][]int32
	out   [2][]int32
	phase float64

	blocks   atomic.Uint64
	dropouts atomic.Uint64
}

// New creates a simulated transport. The "tone_hz" extra option makes the
// input a sine wave instead of silence.
func New(cb transport.Callback, opts transport.Options) *Transport {
	if opts.SampleRate == 0 {
		opts.SampleRate = defaultRate
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = defaultBlockSize
	}
	if opts.Channels == 0 {
		opts.Channels = defaultChannels
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("sim")
	}
	t := &Transport{
		cb:     cb,
		opts:   opts,
		logger: logger,
		state:  transport.StateStopped,
	}
	if hz, err := strconv.ParseFloat(opts.Extra["tone_hz"], 64); err == nil && hz > 0 {
		t.toneHz = hz
	}
	t.cond = sync.NewCond(&t.hmu)
	return t
}

// Init sizes the buffers.
func (t *Transport) Init(req transport.InitRequest) (transport.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pipe != nil {
		return transport.Info{}, t.lastErr.Record(transport.NewError(transport.ErrCodeInvalidState, "already initialized", nil))
	}
	pipe, err := pipeline.New(pipeline.Config{
		Channels:   t.opts.Channels,
		BlockSize:  t.opts.BlockSize,
		InputBase:  req.InputBase,
		OutputBase: req.OutputBase,
	})
	if err != nil {
		return transport.Info{}, t.lastErr.Record(transport.NewError(transport.ErrCodeConfiguration, "channel mapping", err))
	}
	n := t.opts.BlockSize * t.opts.Channels
	for i := range t.in {
		t.in[i] = make([]int32, n)
		t.out[i] = make([]int32, n)
	}
	t.pipe = pipe
	t.info = transport.Info{
		SampleRate:   t.opts.SampleRate,
		MaxBlockSize: t.opts.BlockSize,
		Inputs:       pipe.Inputs(),
		Outputs:      pipe.Outputs(),
	}
	return t.info, nil
}

// Start launches the acquisition and processing goroutines.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr.Record(t.start())
}

func (t *Transport) start() error {
	if t.pipe == nil {
		return transport.NewError(transport.ErrCodeInvalidState, "start before init", nil)
	}
	if t.state == transport.StateRunning {
		return transport.NewError(transport.ErrCodeInvalidState, "already running", nil)
	}
	for i := range t.in {
		clear(t.in[i])
		clear(t.out[i])
	}
	t.phase = 0
	t.pending, t.busy, t.stopped = -1, -1, false
	t.quit = make(chan struct{})

	period := time.Duration(t.opts.BlockSize) * time.Second / time.Duration(t.opts.SampleRate)
	t.wg.Add(2)
	go t.acquire(period, t.quit)
	go t.process()

	t.state = transport.StateRunning
	t.logger.Info("Simulated transport started", "block_period", period, "tone_hz", t.toneHz)
	return nil
}

// acquire produces one block per tick and hands it over.
func (t *Transport) acquire(period time.Duration, quit <-chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	next := 0
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}

		t.hmu.Lock()
		if next == t.busy || t.pending >= 0 {
			// Processing has not caught up.
			t.hmu.Unlock()
			t.dropouts.Add(1)
			t.cb.NotifyDropout()
			continue
		}
		t.hmu.Unlock()

		t.fill(t.in[next])

		t.hmu.Lock()
		t.pending = next
		t.cond.Signal()
		t.hmu.Unlock()
		next ^= 1
	}
}

func (t *Transport) fill(buf []int32) {
	if t.toneHz == 0 {
		return
	}
	ch := t.opts.Channels
	step := 2 * math.Pi * t.toneHz / float64(t.opts.SampleRate)
	for f := 0; f < len(buf)/ch; f++ {
		v := pipeline.ToInt(float32(toneLevel * math.Sin(t.phase)))
		for c := 0; c < ch; c++ {
			buf[f*ch+c] = v
		}
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
}

// process waits for blocks and runs them through the pipeline.
func (t *Transport) process() {
	defer t.wg.Done()
	for {
		t.hmu.Lock()
		for t.pending < 0 && !t.stopped {
			t.cond.Wait()
		}
		if t.stopped {
			t.hmu.Unlock()
			return
		}
		idx := t.pending
		t.pending = -1
		t.busy = idx
		t.hmu.Unlock()

		t.pipe.Run(t.out[idx], t.in[idx], t.cb)
		t.blocks.Add(1)

		t.hmu.Lock()
		t.busy = -1
		t.hmu.Unlock()
	}
}

// Stop ends both goroutines and waits for them.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	return nil
}

func (t *Transport) stopLocked() {
	if t.state != transport.StateRunning {
		return
	}
	close(t.quit)
	t.hmu.Lock()
	t.stopped = true
	t.cond.Broadcast()
	t.hmu.Unlock()
	t.wg.Wait()
	t.state = transport.StateStopped
	t.logger.Info("Simulated transport stopped", "blocks", t.blocks.Load(), "dropouts", t.dropouts.Load())
}

// Restart stops and starts the transport.
func (t *Transport) Restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	return t.lastErr.Record(t.start())
}

// LastError returns the most recent failure text.
func (t *Transport) LastError() string {
	return t.lastErr.String()
}

// State reports whether the goroutines are running.
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns block and dropout counters.
func (t *Transport) Stats() transport.Stats {
	return transport.Stats{Blocks: t.blocks.Load(), Dropouts: t.dropouts.Load()}
}

// Close stops the transport.
func (t *Transport) Close() error {
	return t.Stop()
}
