// Package metrics exposes reactor's turn/queue counters as Prometheus
// metrics, grounded on the client_golang usage found in
// junjiewwang-perf-analysis and yesoreyeram-thaiyyal. Collector implements
// engine.Observer and transaction.Observer directly so it can be installed
// as the manager's/engine's observer via reactor.WithMetrics; its counters
// are pull-based gauges/counters read by Prometheus rather than pushed
// anywhere else.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/google/uuid"

	"github.com/leofalp/reactor/internal/engine"
)

// Collector implements prometheus.Collector, engine.Observer, and
// transaction.Observer over a small set of counters driven directly by
// turn/engine lifecycle events.
type Collector struct {
	turnsInFlight  atomic.Int64
	turnsCommitted atomic.Int64
	nodesUpdated   atomic.Int64
	nodesShifted   atomic.Int64
	mergeCount     atomic.Int64
	asyncOverflow  atomic.Int64
	asyncDispatch  atomic.Int64

	turnsInFlightDesc  *prometheus.Desc
	turnsCommittedDesc *prometheus.Desc
	nodesUpdatedDesc   *prometheus.Desc
	nodesShiftedDesc   *prometheus.Desc
	mergeCountDesc     *prometheus.Desc
	asyncOverflowDesc  *prometheus.Desc
	asyncDispatchDesc  *prometheus.Desc
}

// NewCollector returns a ready-to-register Collector with every counter at
// zero.
func NewCollector() *Collector {
	return &Collector{
		turnsInFlightDesc: prometheus.NewDesc(
			"reactor_turns_in_flight", "Number of turns currently admitted and propagating.", nil, nil),
		turnsCommittedDesc: prometheus.NewDesc(
			"reactor_turns_committed_total", "Total number of turns that completed propagation.", nil, nil),
		nodesUpdatedDesc: prometheus.NewDesc(
			"reactor_node_updates_total", "Total number of node update calls made during propagation.", nil, nil),
		nodesShiftedDesc: prometheus.NewDesc(
			"reactor_node_shifts_total", "Total number of nodes rescheduled at a corrected level.", nil, nil),
		mergeCountDesc: prometheus.NewDesc(
			"reactor_turn_merge_total", "Total number of caller bodies merged into another turn's admission.", nil, nil),
		asyncOverflowDesc: prometheus.NewDesc(
			"reactor_async_overflow_total", "Total number of async transactions rejected due to queue overflow.", nil, nil),
		asyncDispatchDesc: prometheus.NewDesc(
			"reactor_async_dispatched_total", "Total number of async transactions dispatched into a turn.", nil, nil),
	}
}

// NodeUpdated implements engine.Observer.
func (c *Collector) NodeUpdated(_ engine.Handle, _ engine.Result) { c.nodesUpdated.Add(1) }

// NodeShifted implements engine.Observer.
func (c *Collector) NodeShifted(_ engine.Handle) { c.nodesShifted.Add(1) }

// TurnStarted implements engine.Observer.
func (c *Collector) TurnStarted(_ int64) { c.turnsInFlight.Add(1) }

// TurnCommitted implements engine.Observer.
func (c *Collector) TurnCommitted(_ int64) {
	c.turnsInFlight.Add(-1)
	c.turnsCommitted.Add(1)
}

// QueueMerged implements transaction.Observer.
func (c *Collector) QueueMerged(_ int64) { c.mergeCount.Add(1) }

// AsyncOverflow implements transaction.Observer.
func (c *Collector) AsyncOverflow() { c.asyncOverflow.Add(1) }

// AsyncDispatched implements transaction.Observer.
func (c *Collector) AsyncDispatched(_ uuid.UUID, _ int64) { c.asyncDispatch.Add(1) }

// Snapshot is a point-in-time read of every counter, for callers (such as a
// CLI) that want to print current values without scraping /metrics.
type Snapshot struct {
	TurnsInFlight  int64
	TurnsCommitted int64
	NodesUpdated   int64
	NodesShifted   int64
	MergeCount     int64
	AsyncOverflow  int64
	AsyncDispatch  int64
}

// Snapshot reads every counter's current value.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TurnsInFlight:  c.turnsInFlight.Load(),
		TurnsCommitted: c.turnsCommitted.Load(),
		NodesUpdated:   c.nodesUpdated.Load(),
		NodesShifted:   c.nodesShifted.Load(),
		MergeCount:     c.mergeCount.Load(),
		AsyncOverflow:  c.asyncOverflow.Load(),
		AsyncDispatch:  c.asyncDispatch.Load(),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.turnsInFlightDesc
	ch <- c.turnsCommittedDesc
	ch <- c.nodesUpdatedDesc
	ch <- c.nodesShiftedDesc
	ch <- c.mergeCountDesc
	ch <- c.asyncOverflowDesc
	ch <- c.asyncDispatchDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.turnsInFlightDesc, prometheus.GaugeValue, float64(s.TurnsInFlight))
	ch <- prometheus.MustNewConstMetric(c.turnsCommittedDesc, prometheus.CounterValue, float64(s.TurnsCommitted))
	ch <- prometheus.MustNewConstMetric(c.nodesUpdatedDesc, prometheus.CounterValue, float64(s.NodesUpdated))
	ch <- prometheus.MustNewConstMetric(c.nodesShiftedDesc, prometheus.CounterValue, float64(s.NodesShifted))
	ch <- prometheus.MustNewConstMetric(c.mergeCountDesc, prometheus.CounterValue, float64(s.MergeCount))
	ch <- prometheus.MustNewConstMetric(c.asyncOverflowDesc, prometheus.CounterValue, float64(s.AsyncOverflow))
	ch <- prometheus.MustNewConstMetric(c.asyncDispatchDesc, prometheus.CounterValue, float64(s.AsyncDispatch))
}
