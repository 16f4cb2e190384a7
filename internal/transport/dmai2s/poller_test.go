package dmai2s

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/hw/dmamem"
	"github.com/smazurov/fxnode/internal/hw/pcm"
	"github.com/smazurov/fxnode/internal/pipeline"
)

var stereo64 = dma.Geometry{Buffers: 2, BlockSize: 64, Channels: 2}

func testChain(t *testing.T, g dma.Geometry) *dma.Chain {
	t.Helper()
	c, err := dma.Build(dmamem.NewHeap(g.RegionSize(), 0xc0000000), g, pcm.FIFOBus, dma.DReqPCMRX, dma.DReqPCMTX)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSweepFlipsOncePerBuffer(t *testing.T) {
	c := testChain(t, stereo64)
	var tr tracker
	const cycles = 3

	lastFrame := -1
	flipsAt := []int{}
	for i := 0; i < cycles*c.Len(); i++ {
		pos, ok := c.Decode(c.Addr(i % c.Len()))
		if !ok {
			t.Fatalf("descriptor %d does not decode", i)
		}
		if tr.observe(pos) {
			flipsAt = append(flipsAt, i)
			if pos.Frame != 0 || pos.Channel != 0 || pos.Direction != dma.Read {
				t.Fatalf("flip at %v, want start of buffer", pos)
			}
			lastFrame = -1
		}
		if pos.Frame < lastFrame {
			t.Fatalf("frame went backwards within buffer %d: %d after %d", pos.Buffer, pos.Frame, lastFrame)
		}
		lastFrame = pos.Frame
	}

	// Starting in buffer 0, every later buffer entry flips exactly once.
	if want := cycles*stereo64.Buffers - 1; tr.flips != want || len(flipsAt) != want {
		t.Fatalf("flips = %d, want %d", tr.flips, want)
	}
	for i := 1; i < len(flipsAt); i++ {
		if d := flipsAt[i] - flipsAt[i-1]; d != stereo64.PerBuffer() {
			t.Errorf("flips %d descriptors apart, want %d", d, stereo64.PerBuffer())
		}
	}
}

type sleepLog struct {
	calls []time.Duration
}

func (s *sleepLog) sleep(d time.Duration) { s.calls = append(s.calls, d) }

func newTestPoller(t *testing.T) (*poller, *fakeDMA, *fakePCM, *callback, *sleepLog) {
	t.Helper()
	c := testChain(t, stereo64)
	d := &fakeDMA{n: c.Len(), step: stereo64.Channels * 2}
	_ = d.Start(c.Head())
	p := &fakePCM{}
	_ = p.Configure(pcm.I2S(24))
	p.Enable()
	pipe, err := pipeline.New(pipeline.Config{Channels: 2, BlockSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	cb := &callback{}
	sl := &sleepLog{}
	return &poller{
		chain:  c,
		dma:    d,
		pcm:    p,
		pipe:   pipe,
		cb:     cb,
		period: time.Second / 48000,
		sleep:  sl.sleep,
		stop:   &atomic.Bool{},
		stats:  &counters{},
	}, d, p, cb, sl
}

func TestIterateCleanBlocks(t *testing.T) {
	p, _, _, cb, sl := newTestPoller(t)
	for i := 0; i < 4; i++ {
		p.iterate()
	}
	if cb.blocks.Load() != 4 {
		t.Errorf("blocks = %d, want 4", cb.blocks.Load())
	}
	if cb.dropouts.Load() != 0 {
		t.Errorf("dropouts = %d on a clean run", cb.dropouts.Load())
	}
	if p.track.cur != 0 {
		t.Errorf("cur = %d after four blocks, want 0", p.track.cur)
	}

	// First read lands on frame 0, later ones one frame into the buffer.
	if want := 64 * (time.Second / 48000); sl.calls[0] != want {
		t.Errorf("first sleep = %v, want %v", sl.calls[0], want)
	}
	if want := 63 * (time.Second / 48000); sl.calls[1] != want {
		t.Errorf("second sleep = %v, want %v", sl.calls[1], want)
	}
}

func TestIterateFIFOErrorDropsOutOnce(t *testing.T) {
	p, _, fp, cb, _ := newTestPoller(t)
	p.iterate()

	fp.inject(pcm.CSRXErr)
	p.iterate()
	if got := cb.dropouts.Load(); got != 1 {
		t.Fatalf("dropouts = %d after one injected error, want 1", got)
	}
	if fp.Status().RXError() {
		t.Error("RXERR still set after the loop handled it")
	}
	if s := p.stats.snapshot(); s.FIFOErrors != 1 || s.SyncErrors != 0 {
		t.Errorf("stats = %+v", s)
	}

	p.iterate()
	if got := cb.dropouts.Load(); got != 1 {
		t.Errorf("dropouts = %d after a clean block, want 1", got)
	}

	fp.inject(pcm.CSTXErr | pcm.CSRXErr)
	p.iterate()
	if got := cb.dropouts.Load(); got != 2 {
		t.Errorf("dropouts = %d, both flags in one block count once", got)
	}
}

func TestIterateAdoptsHardwareBuffer(t *testing.T) {
	p, d, _, cb, _ := newTestPoller(t)
	p.iterate()
	cur := p.track.cur

	// The busy-poll at the end of iterate moves on to the next buffer, so
	// the adopted index is checked when the loop goes to sleep.
	var sleptOn []int
	p.sleep = func(time.Duration) { sleptOn = append(sleptOn, p.track.cur) }

	// The engine ran a whole buffer further than the loop believes.
	d.skip(stereo64.PerBuffer())
	p.iterate()

	if got := cb.dropouts.Load(); got != 1 {
		t.Errorf("dropouts = %d, want 1", got)
	}
	if s := p.stats.snapshot(); s.SyncErrors != 1 {
		t.Errorf("sync errors = %d, want 1", s.SyncErrors)
	}
	if len(sleptOn) != 1 || sleptOn[0] == cur {
		t.Errorf("buffer index at sleep = %v, want adopted from hardware (was %d)", sleptOn, cur)
	}

	p.iterate()
	if got := cb.dropouts.Load(); got != 1 {
		t.Errorf("dropouts = %d after resync, want 1", got)
	}
}

func TestIterateLostPositionIsTransient(t *testing.T) {
	p, d, _, cb, _ := newTestPoller(t)
	d.Abort()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.iterate()
	}()
	time.Sleep(10 * time.Millisecond)
	p.stop.Store(true)
	<-done

	if cb.dropouts.Load() != 1 || p.stats.snapshot().LostTrack != 1 {
		t.Errorf("dropouts = %d stats = %+v", cb.dropouts.Load(), p.stats.snapshot())
	}
}

func TestMeasureOverhead(t *testing.T) {
	if got := measureOverhead(func(time.Duration) {}, time.Millisecond, 4); got != 0 {
		t.Errorf("overhead of a no-op sleep = %v, want 0", got)
	}
	slow := func(d time.Duration) { time.Sleep(d + 2*time.Millisecond) }
	if got := measureOverhead(slow, 100*time.Microsecond, 2); got < 2*time.Millisecond {
		t.Errorf("overhead = %v, want at least 2ms", got)
	}
}
