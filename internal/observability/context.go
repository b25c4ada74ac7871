package observability

import "context"

type spanKey struct{}
type providerKey struct{}

// ContextWithSpan attaches span to ctx for downstream propagation.
func ContextWithSpan(ctx context.Context, span Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// SpanFromContext returns the span attached to ctx, or nil.
func SpanFromContext(ctx context.Context) Span {
	s, _ := ctx.Value(spanKey{}).(Span)
	return s
}

// ContextWithObserver attaches the active provider to ctx.
func ContextWithObserver(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// ObserverFromContext returns the provider attached to ctx, or nil.
func ObserverFromContext(ctx context.Context) Provider {
	p, _ := ctx.Value(providerKey{}).(Provider)
	return p
}
