package audit

import (
	"context"
	"strings"
)

// Actor identifies who performed a change. UserID is nil for system actions.
type Actor struct {
	UserID   *int64
	Username string
}

// Meta describes the inbound request that triggered a change.
type Meta struct {
	IP        string
	UserAgent string
	RequestID string
}

type actorKey struct{}
type metaKey struct{}

// WithActor attaches the acting subject to the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	actor.Username = strings.TrimSpace(actor.Username)
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the acting subject, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// WithRequestMeta attaches request metadata to the context.
func WithRequestMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext returns request metadata or the zero value.
func MetaFromContext(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}
