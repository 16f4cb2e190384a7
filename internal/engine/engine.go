// Package engine owns the audio transport. It implements the transport
// callback, reports dropouts on the event bus, stops everything when the
// transport asks to exit and rebuilds the transport when its configuration
// changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/fxnode/internal/config"
	"github.com/smazurov/fxnode/internal/events"
	"github.com/smazurov/fxnode/internal/logging"
	"github.com/smazurov/fxnode/internal/metrics"
	"github.com/smazurov/fxnode/internal/pipeline"
	"github.com/smazurov/fxnode/internal/transport"
)

// DefaultReportInterval is used when the configuration leaves it unset.
const DefaultReportInterval = time.Second

// Factory creates a transport backend. transport.New is the default.
type Factory func(name string, cb transport.Callback, opts transport.Options) (transport.Transport, error)

// Options configures a new Engine.
type Options struct {
	// Config selects the backend and its geometry (required).
	Config config.Audio

	// Bus receives state, dropout, exit and reload events (optional).
	Bus *events.Bus

	// Factory overrides backend creation (optional).
	Factory Factory

	// Processor handles each block. Defaults to pipeline.Passthrough.
	Processor pipeline.Processor

	// Logger for engine operations. If nil, uses the "engine" module logger.
	Logger logging.Logger
}

// ExitError is returned by Run when the transport requested an exit.
type ExitError struct {
	Reason string
}

func (e *ExitError) Error() string {
	return "transport requested exit: " + e.Reason
}

// Status is a snapshot of the engine and its transport.
type Status struct {
	Backend   string           `json:"backend"`
	State     transport.State  `json:"state"`
	Info      transport.Info   `json:"info"`
	Stats     *transport.Stats `json:"stats,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	Dropouts  uint64           `json:"dropouts"`
}

// Engine implements transport.Callback.
type Engine struct {
	bus     *events.Bus
	factory Factory
	proc    pipeline.Processor
	logger  logging.Logger

	mu      sync.Mutex
	cfg     config.Audio
	tr      transport.Transport
	info    transport.Info
	running bool

	dropouts atomic.Uint64
	reported atomic.Uint64
	exit     chan string
}

// New creates an engine. The transport is created by the first Start.
func New(opts Options) *Engine {
	e := &Engine{
		bus:     opts.Bus,
		factory: opts.Factory,
		proc:    opts.Processor,
		logger:  opts.Logger,
		cfg:     opts.Config,
		exit:    make(chan string, 1),
	}
	if e.factory == nil {
		e.factory = transport.New
	}
	if e.proc == nil {
		e.proc = pipeline.Passthrough{}
	}
	if e.logger == nil {
		e.logger = logging.GetLogger("engine")
	}
	return e
}

// ProcessBlock runs the processor on one block.
func (e *Engine) ProcessBlock(out, in [][]float32, frames int) {
	start := time.Now()
	e.proc.ProcessBlock(out, in, frames)
	metrics.ObserveProcess(time.Since(start))
}

// NotifyDropout counts a dropout. The count is published by Run's reporter.
func (e *Engine) NotifyDropout() {
	e.dropouts.Add(1)
}

// RequestExit makes Run return an ExitError.
func (e *Engine) RequestExit(reason string) {
	e.logger.Error("Transport requested exit", "reason", reason)
	metrics.IncExitRequests()
	e.publish(events.ExitRequestedEvent{Reason: reason, Timestamp: now()})
	select {
	case e.exit <- reason:
	default:
	}
}

// Start creates and initializes the transport if needed, then starts it.
// Starting a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked()
}

func (e *Engine) startLocked() error {
	if e.tr != nil && e.stateLocked() == transport.StateRunning {
		return nil
	}
	if e.tr == nil {
		if err := e.createLocked(); err != nil {
			e.publishState(err)
			return err
		}
	}
	if err := e.tr.Start(); err != nil {
		e.publishState(err)
		return fmt.Errorf("start %s: %w", e.cfg.Backend, err)
	}
	e.running = true
	e.logger.Info("Transport started", "backend", e.cfg.Backend,
		"sample_rate", e.info.SampleRate, "block_size", e.info.MaxBlockSize)
	e.publishState(nil)
	return nil
}

func (e *Engine) createLocked() error {
	tr, err := e.factory(e.cfg.Backend, e, transport.Options{
		BlockSize:  e.cfg.BlockSize,
		Channels:   e.cfg.Channels,
		SampleRate: e.cfg.SampleRate,
		Prefill:    e.cfg.Prefill,
		Priority:   e.cfg.Priority,
		Extra:      e.cfg.Extra,
		Logger:     logging.GetLogger(e.cfg.Backend),
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", e.cfg.Backend, err)
	}
	info, err := tr.Init(transport.InitRequest{
		Driver:     e.cfg.Driver,
		InputBase:  e.cfg.InputBase,
		OutputBase: e.cfg.OutputBase,
	})
	if err != nil {
		closeTransport(tr)
		return fmt.Errorf("init %s: %w", e.cfg.Backend, err)
	}
	e.tr, e.info = tr, info
	return nil
}

// Stop stops streaming. The transport is kept for a later Start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	if e.tr == nil || (!e.running && e.stateLocked() != transport.StateRunning) {
		return nil
	}
	err := e.tr.Stop()
	e.running = false
	e.logger.Info("Transport stopped", "backend", e.cfg.Backend)
	e.publishState(err)
	return err
}

// Restart stops and starts the transport.
func (e *Engine) Restart() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tr == nil {
		return e.startLocked()
	}
	if err := e.tr.Restart(); err != nil {
		e.running = false
		e.publishState(err)
		return fmt.Errorf("restart %s: %w", e.cfg.Backend, err)
	}
	e.running = true
	e.logger.Info("Transport restarted", "backend", e.cfg.Backend)
	e.publishState(nil)
	return nil
}

// Close stops and releases the transport.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	if e.tr == nil {
		return nil
	}
	err := e.stopLocked()
	if cerr := closeTransport(e.tr); err == nil {
		err = cerr
	}
	e.tr, e.info = nil, transport.Info{}
	return err
}

// Reconfigure applies a new configuration. An equal configuration is a
// no-op; otherwise the transport is rebuilt and restarted if it was running.
func (e *Engine) Reconfigure(cfg config.Audio) (restarted bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Equal(e.cfg) {
		metrics.IncConfigReloads("unchanged")
		e.publish(events.ConfigReloadedEvent{Timestamp: now()})
		return false, nil
	}
	wasRunning := e.running
	err = e.closeLocked()
	e.cfg = cfg
	e.logger.Info("Audio configuration changed", "backend", cfg.Backend, "block_size", cfg.BlockSize)
	if wasRunning {
		err = errors.Join(err, e.startLocked())
	}
	ev := events.ConfigReloadedEvent{Restarted: wasRunning, Timestamp: now()}
	if err != nil {
		ev.Error = err.Error()
		metrics.IncConfigReloads("failed")
	} else {
		metrics.IncConfigReloads("restarted")
	}
	e.publish(ev)
	return wasRunning, err
}

// Run starts the transport and reports dropouts until ctx is done or the
// transport requests an exit. The transport is closed before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.report(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case reason := <-e.exit:
			return &ExitError{Reason: reason}
		}
	})

	err := g.Wait()
	e.flushDropouts()
	if cerr := e.Close(); cerr != nil {
		e.logger.Warn("Failed to close transport", "error", cerr)
	}
	return err
}

func (e *Engine) report(ctx context.Context) {
	e.mu.Lock()
	interval := e.cfg.ReportInterval
	e.mu.Unlock()
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flushDropouts()
		}
	}
}

// flushDropouts publishes dropouts counted since the last call.
func (e *Engine) flushDropouts() {
	total := e.dropouts.Load()
	prev := e.reported.Swap(total)
	if total <= prev {
		return
	}
	n := total - prev
	backend := e.Config().Backend
	metrics.AddDropouts(n)
	e.logger.Warn("Dropouts", "backend", backend, "count", n, "total", total)
	e.publish(events.DropoutEvent{Backend: backend, Count: n, Total: total, Timestamp: now()})
}

// Config returns the active configuration.
func (e *Engine) Config() config.Audio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Transport returns the current transport, or nil before the first Start.
// Callers use type assertions for backend-specific diagnostics.
func (e *Engine) Transport() transport.Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tr
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Backend:  e.cfg.Backend,
		State:    e.stateLocked(),
		Info:     e.info,
		Dropouts: e.dropouts.Load(),
	}
	if e.tr != nil {
		st.LastError = e.tr.LastError()
		if m, ok := e.tr.(transport.Monitored); ok {
			stats := m.Stats()
			st.Stats = &stats
		}
	}
	return st
}

// Stats reports the counters of the current transport. It matches
// metrics.StatsSource.
func (e *Engine) Stats() (transport.Stats, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.tr.(transport.Monitored)
	if !ok {
		return transport.Stats{}, e.cfg.Backend, false
	}
	return m.Stats(), e.cfg.Backend, true
}

// Running reports whether the transport is streaming.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked() == transport.StateRunning
}

func (e *Engine) stateLocked() transport.State {
	if s, ok := e.tr.(transport.Stateful); ok {
		return s.State()
	}
	if e.running {
		return transport.StateRunning
	}
	return transport.StateStopped
}

func (e *Engine) publishState(err error) {
	state := e.stateLocked()
	metrics.SetTransportRunning(e.cfg.Backend, state == transport.StateRunning)
	ev := events.TransportStateEvent{
		Backend:   e.cfg.Backend,
		State:     string(state),
		Timestamp: now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.publish(ev)
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func closeTransport(tr transport.Transport) error {
	if c, ok := tr.(io.Closer); ok {
		return c.Close()
	}
	return tr.Stop()
}

func now() string {
	return time.Now().Format(time.RFC3339)
}
