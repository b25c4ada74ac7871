package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// GetLogLevelFromEnv reads REACTOR_LOG_LEVEL ("debug"|"info"|"warn"|"error",
// case-insensitive), defaulting to info.
func GetLogLevelFromEnv() slog.Level {
	return ParseLogLevel(os.Getenv("REACTOR_LOG_LEVEL"))
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to info for
// anything unrecognized.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SlogProvider is a Provider backed by log/slog, with tracing/metrics
// reduced to structured log lines (span start/end, counter/histogram
// events) — the default backend when no OTel exporter is configured.
type SlogProvider struct {
	logger *slog.Logger
}

// NewSlogProvider returns a Provider writing to logger.
func NewSlogProvider(logger *slog.Logger) *SlogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogProvider{logger: logger}
}

func attrsToSlog(attrs []Attribute) []any {
	out := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		out = append(out, a.Key, a.Value)
	}
	return out
}

func (p *SlogProvider) StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	p.logger.DebugContext(ctx, "span start "+name, attrsToSlog(attrs)...)
	span := &slogSpan{provider: p, name: name}
	return ctx, span
}

func (p *SlogProvider) Counter(name string) Counter     { return &slogCounter{provider: p, name: name} }
func (p *SlogProvider) Histogram(name string) Histogram { return &slogHistogram{provider: p, name: name} }

func (p *SlogProvider) Debug(ctx context.Context, msg string, attrs ...Attribute) {
	p.logger.DebugContext(ctx, msg, attrsToSlog(attrs)...)
}
func (p *SlogProvider) Info(ctx context.Context, msg string, attrs ...Attribute) {
	p.logger.InfoContext(ctx, msg, attrsToSlog(attrs)...)
}
func (p *SlogProvider) Warn(ctx context.Context, msg string, attrs ...Attribute) {
	p.logger.WarnContext(ctx, msg, attrsToSlog(attrs)...)
}
func (p *SlogProvider) Error(ctx context.Context, msg string, attrs ...Attribute) {
	p.logger.ErrorContext(ctx, msg, attrsToSlog(attrs)...)
}

type slogSpan struct {
	provider *SlogProvider
	name     string
}

func (s *slogSpan) End() {
	s.provider.logger.Debug("span end " + s.name)
}
func (s *slogSpan) SetAttributes(attrs ...Attribute) {
	s.provider.logger.Debug("span attrs "+s.name, attrsToSlog(attrs)...)
}
func (s *slogSpan) SetStatus(code StatusCode, description string) {
	s.provider.logger.Debug("span status "+s.name, "code", code, "description", description)
}
func (s *slogSpan) RecordError(err error) {
	s.provider.logger.Error("span error "+s.name, "error", err)
}
func (s *slogSpan) AddEvent(name string, attrs ...Attribute) {
	s.provider.logger.Debug("span event "+s.name+" "+name, attrsToSlog(attrs)...)
}

type slogCounter struct {
	provider *SlogProvider
	name     string
}

func (c *slogCounter) Add(ctx context.Context, value int64, attrs ...Attribute) {
	c.provider.logger.DebugContext(ctx, "counter "+c.name, append([]any{"value", value}, attrsToSlog(attrs)...)...)
}

type slogHistogram struct {
	provider *SlogProvider
	name     string
}

func (h *slogHistogram) Record(ctx context.Context, value float64, attrs ...Attribute) {
	h.provider.logger.DebugContext(ctx, "histogram "+h.name, append([]any{"value", value}, attrsToSlog(attrs)...)...)
}
