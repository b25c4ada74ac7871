// Package observability defines the tracing/metrics/logging provider
// interface used throughout the engine and transaction packages. Shape
// copied from the teacher's providers/observability package, generalized
// away from its LLM-specific attribute helpers.
package observability

import (
	"context"
	"time"
)

// Provider composes tracing, metrics, and logging behind one interface so
// call sites stay backend-agnostic.
type Provider interface {
	Tracer
	Metrics
	Logger
}

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Span is a single unit of traced work.
type Span interface {
	End()
	SetAttributes(attrs ...Attribute)
	SetStatus(code StatusCode, description string)
	RecordError(err error)
	AddEvent(name string, attrs ...Attribute)
}

// StatusCode mirrors OpenTelemetry's span status vocabulary.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// Metrics creates named counters and histograms.
type Metrics interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// Counter is a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, value int64, attrs ...Attribute)
}

// Histogram records a distribution of values.
type Histogram interface {
	Record(ctx context.Context, value float64, attrs ...Attribute)
}

// Logger emits structured log lines at four levels.
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...Attribute)
	Info(ctx context.Context, msg string, attrs ...Attribute)
	Warn(ctx context.Context, msg string, attrs ...Attribute)
	Error(ctx context.Context, msg string, attrs ...Attribute)
}

// Attribute is a structured key-value pair attached to spans, metrics, and
// log lines.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute   { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute  { return Attribute{Key: key, Value: value} }
func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value}
}

// Error converts a Go error into an attribute, matching the teacher's
// nil-safe Error() helper.
func Error(err error) Attribute {
	if err == nil {
		return Attribute{Key: "error", Value: ""}
	}
	return Attribute{Key: "error", Value: err.Error()}
}

// Common attribute keys shared across turn/node events.
const (
	AttrTurnID    = "reactor.turn.id"
	AttrNodeID    = "reactor.node.id"
	AttrResult    = "reactor.node.result"
	AttrDuration  = "reactor.duration"
	AttrEngine    = "reactor.engine"
)
