package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OtelProvider is a Provider backed by a real OpenTelemetry tracer and
// meter. It only depends on the otel API packages; the host that builds it
// configures the concrete exporter. The module's CLI (cmd/reactorctl) does
// not use it and installs a SlogProvider instead.
type OtelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOtelProvider returns a Provider using tracer and meter obtained from an
// already-configured TracerProvider/MeterProvider.
func NewOtelProvider(tracer trace.Tracer, meter metric.Meter) *OtelProvider {
	return &OtelProvider{
		tracer:     tracer,
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func toOtelAttrs(attrs []Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out = append(out, attribute.String(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		default:
			out = append(out, attribute.String(a.Key, fmt.Sprint(v)))
		}
	}
	return out
}

func (p *OtelProvider) StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(toOtelAttrs(attrs)...))
	return ctx, &otelSpan{span: span}
}

func (p *OtelProvider) Counter(name string) Counter {
	if c, ok := p.counters[name]; ok {
		return &otelCounter{counter: c}
	}
	c, _ := p.meter.Int64Counter(name)
	p.counters[name] = c
	return &otelCounter{counter: c}
}

func (p *OtelProvider) Histogram(name string) Histogram {
	if h, ok := p.histograms[name]; ok {
		return &otelHistogram{histogram: h}
	}
	h, _ := p.meter.Float64Histogram(name)
	p.histograms[name] = h
	return &otelHistogram{histogram: h}
}

func (p *OtelProvider) Debug(ctx context.Context, msg string, attrs ...Attribute) {
	p.event(ctx, msg, attrs)
}
func (p *OtelProvider) Info(ctx context.Context, msg string, attrs ...Attribute) {
	p.event(ctx, msg, attrs)
}
func (p *OtelProvider) Warn(ctx context.Context, msg string, attrs ...Attribute) {
	p.event(ctx, msg, attrs)
}
func (p *OtelProvider) Error(ctx context.Context, msg string, attrs ...Attribute) {
	p.event(ctx, msg, attrs)
}

func (p *OtelProvider) event(ctx context.Context, msg string, attrs []Attribute) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(msg, trace.WithAttributes(toOtelAttrs(attrs)...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }
func (s *otelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(toOtelAttrs(attrs)...)
}
func (s *otelSpan) SetStatus(code StatusCode, description string) {
	switch code {
	case StatusOK:
		s.span.SetStatus(codes.Ok, description)
	case StatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}
func (s *otelSpan) RecordError(err error) { s.span.RecordError(err) }
func (s *otelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(toOtelAttrs(attrs)...))
}

type otelCounter struct {
	counter metric.Int64Counter
}

func (c *otelCounter) Add(ctx context.Context, value int64, attrs ...Attribute) {
	c.counter.Add(ctx, value, metric.WithAttributes(toOtelAttrs(attrs)...))
}

type otelHistogram struct {
	histogram metric.Float64Histogram
}

func (h *otelHistogram) Record(ctx context.Context, value float64, attrs ...Attribute) {
	h.histogram.Record(ctx, value, metric.WithAttributes(toOtelAttrs(attrs)...))
}
