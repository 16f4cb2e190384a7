package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/fxnode/internal/config"
	"github.com/smazurov/fxnode/internal/events"
	"github.com/smazurov/fxnode/internal/transport"
	_ "github.com/smazurov/fxnode/internal/transport/sim"
)

type fakeTransport struct {
	mu       sync.Mutex
	cb       transport.Callback
	opts     transport.Options
	req      transport.InitRequest
	running  bool
	starts   int
	stops    int
	restarts int
	closed   bool
	startErr error
	initErr  error
}

func (f *fakeTransport) Init(req transport.InitRequest) (transport.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = req
	if f.initErr != nil {
		return transport.Info{}, f.initErr
	}
	return transport.Info{SampleRate: 48000, MaxBlockSize: f.opts.BlockSize, Inputs: 2, Outputs: 2}, nil
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.stops++
	}
	f.running = false
	return nil
}

func (f *fakeTransport) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	f.running = true
	return nil
}

func (f *fakeTransport) LastError() string { return "" }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.closed = true
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return transport.StateRunning
	}
	return transport.StateStopped
}

// fakeFactory records every transport it creates.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
	names   []string
	err     error
	prepare func(*fakeTransport)
}

func (ff *fakeFactory) New(name string, cb transport.Callback, opts transport.Options) (transport.Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.err != nil {
		return nil, ff.err
	}
	tr := &fakeTransport{cb: cb, opts: opts}
	if ff.prepare != nil {
		ff.prepare(tr)
	}
	ff.created = append(ff.created, tr)
	ff.names = append(ff.names, name)
	return tr, nil
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.created) == 0 {
		return nil
	}
	return ff.created[len(ff.created)-1]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.created)
}

func testConfig() config.Audio {
	return config.Audio{
		Backend:        "fake",
		Driver:         "cs4272",
		BlockSize:      64,
		Channels:       2,
		InputBase:      0,
		OutputBase:     0,
		ReportInterval: 20 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, ff *fakeFactory, bus *events.Bus) *Engine {
	t.Helper()
	return New(Options{Config: testConfig(), Bus: bus, Factory: ff.New})
}

func TestStartCreatesAndInitializes(t *testing.T) {
	ff := &fakeFactory{}
	e := newTestEngine(t, ff, nil)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr := ff.last()
	if tr == nil {
		t.Fatal("no transport created")
	}
	if ff.names[0] != "fake" {
		t.Errorf("backend = %q, want fake", ff.names[0])
	}
	if tr.opts.BlockSize != 64 || tr.opts.Channels != 2 {
		t.Errorf("options = %+v", tr.opts)
	}
	if tr.req.Driver != "cs4272" {
		t.Errorf("driver = %q", tr.req.Driver)
	}
	if tr.cb != e {
		t.Error("engine is not the transport callback")
	}

	st := e.Status()
	if st.State != transport.StateRunning {
		t.Errorf("state = %q, want running", st.State)
	}
	if st.Info.SampleRate != 48000 {
		t.Errorf("sample rate = %d", st.Info.SampleRate)
	}
}

func TestStartWhileRunning(t *testing.T) {
	ff := &fakeFactory{}
	e := newTestEngine(t, ff, nil)

	for range 2 {
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
	}
	if tr := ff.last(); tr.starts != 1 {
		t.Errorf("starts = %d, want 1", tr.starts)
	}
}

func TestStopKeepsTransport(t *testing.T) {
	ff := &fakeFactory{}
	e := newTestEngine(t, ff, nil)

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if ff.count() != 1 {
		t.Errorf("created %d transports, want 1", ff.count())
	}
	if tr := ff.last(); tr.starts != 2 || tr.stops != 1 {
		t.Errorf("starts=%d stops=%d, want 2 and 1", tr.starts, tr.stops)
	}
}

func TestCloseReleasesTransport(t *testing.T) {
	ff := &fakeFactory{}
	e := newTestEngine(t, ff, nil)

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !ff.last().closed {
		t.Error("transport not closed")
	}
	if e.Transport() != nil {
		t.Error("transport kept after Close")
	}
	if e.Running() {
		t.Error("running after Close")
	}
}

func TestInitFailureClosesTransport(t *testing.T) {
	ff := &fakeFactory{prepare: func(tr *fakeTransport) {
		tr.initErr = transport.NewError(transport.ErrCodeConfiguration, "bad mapping", nil)
	}}
	e := newTestEngine(t, ff, nil)

	err := e.Start()
	if !transport.IsCode(err, transport.ErrCodeConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if !ff.last().closed {
		t.Error("failed transport not closed")
	}
	if e.Transport() != nil {
		t.Error("failed transport kept")
	}
}

func TestFactoryError(t *testing.T) {
	ff := &fakeFactory{err: errors.New("no such backend")}
	bus := events.New()
	states := make(chan events.TransportStateEvent, 4)
	defer bus.Subscribe(func(e events.TransportStateEvent) { states <- e })()

	e := newTestEngine(t, ff, bus)
	if err := e.Start(); err == nil {
		t.Fatal("Start succeeded without a transport")
	}
	select {
	case ev := <-states:
		if ev.Error == "" || ev.Running() {
			t.Errorf("event = %+v, want stopped with error", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no state event")
	}
}

func TestRestart(t *testing.T) {
	ff := &fakeFactory{}
	e := newTestEngine(t, ff, nil)

	if err := e.Restart(); err != nil {
		t.Fatal(err)
	}
	if tr := ff.last(); tr == nil || tr.starts != 1 {
		t.Fatal("Restart before Start did not start")
	}
	if err := e.Restart(); err != nil {
		t.Fatal(err)
	}
	if tr := ff.last(); tr.restarts != 1 {
		t.Errorf("restarts = %d, want 1", tr.restarts)
	}
}

func TestStateEvents(t *testing.T) {
	ff := &fakeFactory{}
	bus := events.New()
	states := make(chan events.TransportStateEvent, 4)
	defer bus.Subscribe(func(e events.TransportStateEvent) { states <- e })()

	e := newTestEngine(t, ff, bus)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	want := []string{"running", "stopped"}
	for _, w := range want {
		select {
		case ev := <-states:
			if ev.State != w || ev.Backend != "fake" {
				t.Errorf("event = %+v, want state %s", ev, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", w)
		}
	}
}

func TestProcessBlockUsesProcessor(t *testing.T) {
	gain := processorFunc(func(out, in [][]float32, frames int) {
		for c := range out {
			for i := 0; i < frames; i++ {
				out[c][i] = in[c][i] * 2
			}
		}
	})
	e := New(Options{Config: testConfig(), Processor: gain})

	in := [][]float32{{0.1, 0.2}, {0.3, 0.4}}
	out := [][]float32{make([]float32, 2), make([]float32, 2)}
	e.ProcessBlock(out, in, 2)
	if out[1][1] != 0.8 {
		t.Errorf("out = %v", out)
	}
}

func TestPassthroughDefault(t *testing.T) {
	e := New(Options{Config: testConfig()})
	in := [][]float32{{0.5}, {-0.5}}
	out := [][]float32{{0}, {0}}
	e.ProcessBlock(out, in, 1)
	if out[0][0] != 0.5 || out[1][0] != -0.5 {
		t.Errorf("out = %v, want copy of input", out)
	}
}

type processorFunc func(out, in [][]float32, frames int)

func (f processorFunc) ProcessBlock(out, in [][]float32, frames int) { f(out, in, frames) }

func TestDropoutReporting(t *testing.T) {
	ff := &fakeFactory{}
	bus := events.New()
	drops := make(chan events.DropoutEvent, 8)
	defer bus.Subscribe(func(e events.DropoutEvent) { drops <- e })()

	e := newTestEngine(t, ff, bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool { return ff.last() != nil })
	cb := ff.last().cb
	cb.NotifyDropout()
	cb.NotifyDropout()
	cb.NotifyDropout()
	if got := collectDropouts(t, drops, 3); got != 3 {
		t.Errorf("reported %d dropouts, want 3", got)
	}

	cb.NotifyDropout()
	if got := collectDropouts(t, drops, 4); got != 1 {
		t.Errorf("reported %d dropouts, want 1", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil after cancel", err)
	}
	if e.Status().Dropouts != 4 {
		t.Errorf("dropouts = %d, want 4", e.Status().Dropouts)
	}
}

// collectDropouts sums event counts until an event reports total.
func collectDropouts(t *testing.T, drops <-chan events.DropoutEvent, total uint64) uint64 {
	t.Helper()
	var sum uint64
	for {
		select {
		case ev := <-drops:
			if ev.Backend != "fake" {
				t.Errorf("backend = %q", ev.Backend)
			}
			sum += ev.Count
			if ev.Total >= total {
				return sum
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no dropout event reaching total %d", total)
		}
	}
}

func TestRunStopsOnExitRequest(t *testing.T) {
	ff := &fakeFactory{}
	bus := events.New()
	exits := make(chan events.ExitRequestedEvent, 1)
	defer bus.Subscribe(func(e events.ExitRequestedEvent) { exits <- e })()

	e := newTestEngine(t, ff, bus)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	waitFor(t, func() bool { return ff.last() != nil })
	tr := ff.last()
	tr.cb.RequestExit("codec register mismatch")

	select {
	case err := <-done:
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("Run = %v, want ExitError", err)
		}
		if exitErr.Reason != "codec register mismatch" {
			t.Errorf("reason = %q", exitErr.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if !tr.closed {
		t.Error("transport not closed after exit")
	}

	select {
	case ev := <-exits:
		if ev.Reason != "codec register mismatch" {
			t.Errorf("event reason = %q", ev.Reason)
		}
	case <-time.After(time.Second):
		t.Error("no exit event")
	}
}

func TestRunStartFailure(t *testing.T) {
	ff := &fakeFactory{prepare: func(tr *fakeTransport) { tr.startErr = errors.New("pcm busy") }}
	e := newTestEngine(t, ff, nil)
	if err := e.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with a failing transport")
	}
}

func TestReconfigure(t *testing.T) {
	tests := []struct {
		name          string
		start         bool
		change        func(*config.Audio)
		wantRestarted bool
		wantCreated   int
	}{
		{"unchanged", true, func(*config.Audio) {}, false, 1},
		{"block size while running", true, func(c *config.Audio) { c.BlockSize = 128 }, true, 2},
		{"extra while running", true, func(c *config.Audio) { c.Extra = map[string]string{"tone_hz": "440"} }, true, 2},
		{"unchanged while stopped", false, func(*config.Audio) {}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ff := &fakeFactory{}
			bus := events.New()
			reloads := make(chan events.ConfigReloadedEvent, 1)
			defer bus.Subscribe(func(e events.ConfigReloadedEvent) { reloads <- e })()

			e := newTestEngine(t, ff, bus)
			if err := e.Start(); err != nil {
				t.Fatal(err)
			}
			if !tt.start {
				if err := e.Stop(); err != nil {
					t.Fatal(err)
				}
			}

			cfg := testConfig()
			tt.change(&cfg)
			restarted, err := e.Reconfigure(cfg)
			if err != nil {
				t.Fatalf("Reconfigure: %v", err)
			}
			if restarted != tt.wantRestarted {
				t.Errorf("restarted = %v, want %v", restarted, tt.wantRestarted)
			}
			if got := ff.count(); got != tt.wantCreated {
				t.Errorf("created %d transports, want %d", got, tt.wantCreated)
			}
			if e.Config().BlockSize != cfg.BlockSize {
				t.Errorf("block size = %d, want %d", e.Config().BlockSize, cfg.BlockSize)
			}

			select {
			case ev := <-reloads:
				if ev.Restarted != tt.wantRestarted || ev.Error != "" {
					t.Errorf("event = %+v", ev)
				}
			case <-time.After(time.Second):
				t.Fatal("no reload event")
			}
		})
	}
}

func TestReconfigureStoppedDefersCreation(t *testing.T) {
	ff := &fakeFactory{}
	e := newTestEngine(t, ff, nil)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.BlockSize = 256
	if _, err := e.Reconfigure(cfg); err != nil {
		t.Fatal(err)
	}
	if e.Transport() != nil {
		t.Fatal("stopped engine kept the old transport")
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if ff.count() != 2 {
		t.Errorf("created %d transports, want 2", ff.count())
	}
	if got := ff.last().opts.BlockSize; got != 256 {
		t.Errorf("new transport block size = %d, want 256", got)
	}
}

func TestStatsSource(t *testing.T) {
	e := New(Options{Config: testConfig(), Factory: (&fakeFactory{}).New})
	if _, backend, ok := e.Stats(); ok || backend != "fake" {
		t.Errorf("Stats before start = %q %v", backend, ok)
	}
}

func TestSimBackend(t *testing.T) {
	cfg := config.Audio{
		Backend:        "sim",
		BlockSize:      32,
		Channels:       2,
		SampleRate:     48000,
		ReportInterval: 50 * time.Millisecond,
		Extra:          map[string]string{"tone_hz": "440"},
	}
	e := New(Options{Config: cfg})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool {
		st, _, ok := e.Stats()
		return ok && st.Blocks > 10
	})
	st := e.Status()
	if st.State != transport.StateRunning {
		t.Errorf("state = %q, want running", st.State)
	}
	if st.Info.Inputs != 2 || st.Info.Outputs != 2 {
		t.Errorf("info = %+v", st.Info)
	}
	if st.Stats == nil {
		t.Error("sim stats missing")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
