package reactor

import (
	"github.com/leofalp/reactor/internal/observability"
	"github.com/leofalp/reactor/metrics"
)

// EngineKind selects which propagation engine a Graph uses. Exactly one is
// active per graph instance.
type EngineKind int

const (
	// TopoSortSequential is the reference engine: one thread, one level
	// batch at a time.
	TopoSortSequential EngineKind = iota
	// TopoSortParallel dispatches each level batch across a worker pool.
	TopoSortParallel
	// PulseCount floods a threshold pre-pass, then nudges successors.
	PulseCount
	// SourceSet skips nodes whose source-id set doesn't intersect the
	// turn's admitted inputs.
	SourceSet
	// Flooding has no ordering discipline; the simplest baseline engine.
	Flooding
)

type config struct {
	engine            EngineKind
	maxConcurrency    int
	inputMergingOn    bool
	asyncQueueCap     int
	asyncMergeCap     int
	provider          observability.Provider
	metrics           *metrics.Collector
}

func defaultConfig() config {
	return config{
		engine:         TopoSortSequential,
		maxConcurrency: 0,
		inputMergingOn: true,
		asyncQueueCap:  0,
		asyncMergeCap:  100,
	}
}

// Option configures a Graph at construction time.
type Option func(*config)

// WithEngine selects the propagation engine.
func WithEngine(kind EngineKind) Option {
	return func(c *config) { c.engine = kind }
}

// WithMaxConcurrency bounds how many nodes a parallel engine updates at
// once within one level batch or counter-subset dispatch. 0 means
// unbounded.
func WithMaxConcurrency(n int) Option {
	return func(c *config) { c.maxConcurrency = n }
}

// WithInputMerging toggles whether bursty do_transaction callers may merge
// their inputs into a still-admitting turn instead of starting a new one.
func WithInputMerging(on bool) Option {
	return func(c *config) { c.inputMergingOn = on }
}

// WithAsyncQueueCapacity bounds the async transaction queue. 0 means
// unbounded (a large internal buffer, not truly infinite).
func WithAsyncQueueCapacity(n int) Option {
	return func(c *config) { c.asyncQueueCap = n }
}

// WithAsyncMergeCap bounds how many extra queued async transactions may
// merge into one drained turn.
func WithAsyncMergeCap(n int) Option {
	return func(c *config) { c.asyncMergeCap = n }
}

// WithObservability installs a tracing/metrics/logging provider.
func WithObservability(p observability.Provider) Option {
	return func(c *config) { c.provider = p }
}

// WithMetrics installs a Prometheus collector as an additional engine and
// transaction observer, alongside (not instead of) any provider installed
// with WithObservability.
func WithMetrics(c *metrics.Collector) Option {
	return func(cfg *config) { cfg.metrics = c }
}
