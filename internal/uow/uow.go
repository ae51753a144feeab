// Package uow defines the unit-of-work contract shared by services and stores.
//
// A store begins a transaction, attaches it to the context with Attach and
// runs the caller's function. Store methods called with that context join the
// transaction. Side effects registered with AfterCommit run only once the
// transaction commits.
package uow

import (
	"context"
	"sync"
)

// Runner executes fn inside one atomic unit. Any error returned by fn, or a
// panic, discards every change made through ctx.
type Runner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Scope is the per-transaction state carried in the context.
type Scope struct {
	Tx any

	mu    sync.Mutex
	hooks []func()
}

type scopeKey struct{}

// Attach returns a context carrying a new scope for tx.
func Attach(ctx context.Context, tx any) (context.Context, *Scope) {
	s := &Scope{Tx: tx}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// FromContext returns the active scope, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// AfterCommit defers fn until the active unit of work commits. Without an
// active unit fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	s, ok := FromContext(ctx)
	if !ok {
		fn()
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Committed runs the queued hooks in registration order. Stores call it after
// a successful commit.
func (s *Scope) Committed() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
