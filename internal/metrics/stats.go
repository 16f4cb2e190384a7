package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smazurov/fxnode/internal/transport"
)

// StatsSource returns the counters of the current transport and its backend
// name; ok is false when no transport exists.
type StatsSource func() (stats transport.Stats, backend string, ok bool)

// StatsCollector exports transport counters read at scrape time, so the
// polling loop never touches Prometheus.
type StatsCollector struct {
	source     StatsSource
	blocks     *prometheus.Desc
	dropouts   *prometheus.Desc
	fifoErrors *prometheus.Desc
	syncErrors *prometheus.Desc
	lostTrack  *prometheus.Desc
}

// NewStatsCollector creates a collector over source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "transport", name), help, []string{"backend"}, nil)
	}
	return &StatsCollector{
		source:     source,
		blocks:     desc("blocks_total", "Blocks handed to the callback"),
		dropouts:   desc("dropouts_total", "Dropouts detected by the transport"),
		fifoErrors: desc("fifo_errors_total", "PCM FIFO overrun or underrun events"),
		syncErrors: desc("sync_errors_total", "Times the loop adopted the hardware buffer"),
		lostTrack:  desc("lost_track_total", "Polls where the DMA position could not be decoded"),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blocks
	ch <- c.dropouts
	ch <- c.fifoErrors
	ch <- c.syncErrors
	ch <- c.lostTrack
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st, backend, ok := c.source()
	if !ok {
		return
	}
	for _, m := range []struct {
		desc *prometheus.Desc
		v    uint64
	}{
		{c.blocks, st.Blocks},
		{c.dropouts, st.Dropouts},
		{c.fifoErrors, st.FIFOErrors},
		{c.syncErrors, st.SyncErrors},
		{c.lostTrack, st.LostTrack},
	} {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.v), backend)
	}
}

// RegisterStats registers a StatsCollector over source with the default
// registry served by Handler.
func RegisterStats(source StatsSource) error {
	return prometheus.Register(NewStatsCollector(source))
}
