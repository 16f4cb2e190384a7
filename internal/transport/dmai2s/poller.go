package dmai2s

import (
	"sync/atomic"
	"time"

	"github.com/smazurov/fxnode/internal/hw/dma"
	"github.com/smazurov/fxnode/internal/pipeline"
	"github.com/smazurov/fxnode/internal/transport"
)

type counters struct {
	blocks     atomic.Uint64
	dropouts   atomic.Uint64
	fifoErrors atomic.Uint64
	syncErrors atomic.Uint64
	lostTrack  atomic.Uint64
}

func (c *counters) snapshot() transport.Stats {
	return transport.Stats{
		Blocks:     c.blocks.Load(),
		Dropouts:   c.dropouts.Load(),
		FIFOErrors: c.fifoErrors.Load(),
		SyncErrors: c.syncErrors.Load(),
		LostTrack:  c.lostTrack.Load(),
	}
}

// tracker follows the buffer the engine is working on.
type tracker struct {
	cur   int
	flips int
}

// observe adopts the buffer of p and reports whether it changed.
func (t *tracker) observe(p dma.Position) bool {
	if p.Buffer == t.cur {
		return false
	}
	t.cur = p.Buffer
	t.flips++
	return true
}

// poller is the real-time loop. It touches only the idle half of the sample
// region, the DMA position register and the PCM status register.
type poller struct {
	chain    *dma.Chain
	dma      DMA
	pcm      PCM
	pipe     *pipeline.Pipeline
	cb       transport.Callback
	period   time.Duration
	overhead time.Duration
	sleep    func(time.Duration)
	stop     *atomic.Bool
	stats    *counters
	track    tracker
}

func (p *poller) position() (dma.Position, bool) {
	return p.chain.Decode(p.dma.CurrentDescriptor())
}

// run iterates until stop is set.
func (p *poller) run() {
	for !p.stop.Load() {
		p.iterate()
	}
}

// iterate processes the idle half, checks for faults, yields the CPU for
// most of the remaining block and then spins until the engine moves on.
func (p *poller) iterate() {
	idle := p.chain.Layout().Idle(p.track.cur)
	p.pipe.Run(idle.Out, idle.In, p.cb)
	p.stats.blocks.Add(1)

	fault := false
	pos, ok := p.position()
	if errs := p.pcm.TakeErrors(); errs != 0 {
		p.stats.fifoErrors.Add(1)
		fault = true
	}
	switch {
	case !ok:
		p.stats.lostTrack.Add(1)
		fault = true
	case p.track.observe(pos):
		p.stats.syncErrors.Add(1)
		fault = true
	}
	if fault {
		p.stats.dropouts.Add(1)
		p.cb.NotifyDropout()
	}

	if ok {
		remaining := time.Duration(p.chain.Geometry().BlockSize-pos.Frame)*p.period - p.overhead
		if remaining > 0 {
			p.sleep(remaining)
		}
	}

	for !p.stop.Load() {
		pos, ok := p.position()
		if ok && p.track.observe(pos) {
			return
		}
	}
}

// measureOverhead estimates how much longer than asked sleep takes.
func measureOverhead(sleep func(time.Duration), probe time.Duration, n int) time.Duration {
	if n < 1 {
		return 0
	}
	var extra time.Duration
	for range n {
		start := time.Now()
		sleep(probe)
		extra += time.Since(start) - probe
	}
	return max(extra/time.Duration(n), 0)
}
