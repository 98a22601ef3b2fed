package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	peerIDKey
)

// WithRequestID stores a request id for downstream log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithPeerID stores the acting peer id for downstream log enrichment.
func WithPeerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, peerIDKey, id)
}

// FromContext returns base enriched with whatever ids the context carries.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		base = base.With("request_id", id)
	}
	if id, ok := ctx.Value(peerIDKey).(string); ok && id != "" {
		base = base.With("peer_id", id)
	}
	return base
}
