// Package memory is an in-process store implementing the auth, content and
// audit persistence contracts. Units of work are serialized and run against a
// private copy of the data that replaces the committed copy only on success,
// so readers outside a unit of work never see uncommitted writes.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/content"
	"securecms.org/internal/uow"
)

type pair struct{ a, b int64 }

type state struct {
	seq map[string]int64

	users       map[int64]auth.User
	roles       map[int64]auth.Role
	permissions map[int64]auth.Permission
	userRoles   map[pair]auth.Assignment
	grants      map[pair]auth.Grant

	contents    map[int64]content.Content
	tags        map[int64]content.Tag
	contentTags map[pair]struct{}

	audits []audit.Record
}

func newState() *state {
	return &state{
		seq:         map[string]int64{},
		users:       map[int64]auth.User{},
		roles:       map[int64]auth.Role{},
		permissions: map[int64]auth.Permission{},
		userRoles:   map[pair]auth.Assignment{},
		grants:      map[pair]auth.Grant{},
		contents:    map[int64]content.Content{},
		tags:        map[int64]content.Tag{},
		contentTags: map[pair]struct{}{},
	}
}

func (s *state) clone() *state {
	return &state{
		seq:         maps.Clone(s.seq),
		users:       maps.Clone(s.users),
		roles:       maps.Clone(s.roles),
		permissions: maps.Clone(s.permissions),
		userRoles:   maps.Clone(s.userRoles),
		grants:      maps.Clone(s.grants),
		contents:    maps.Clone(s.contents),
		tags:        maps.Clone(s.tags),
		contentTags: maps.Clone(s.contentTags),
		audits:      slices.Clone(s.audits),
	}
}

func (s *state) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

// Store implements auth.Store, content.Store and audit.Store.
type Store struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	committed *state
}

type tx struct {
	owner *Store
	st    *state
}

// New returns an empty store.
func New() *Store {
	return &Store{committed: newState()}
}

// WithinTx runs fn in a unit of work. Nested calls join the outer unit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := s.txFrom(ctx); ok {
		return fn(ctx)
	}
	s.txMu.Lock()
	s.mu.RLock()
	work := &tx{owner: s, st: s.committed.clone()}
	s.mu.RUnlock()

	txCtx, scope := uow.Attach(ctx, work)
	committed := false
	defer func() {
		if committed {
			s.mu.Lock()
			s.committed = work.st
			s.mu.Unlock()
		}
		s.txMu.Unlock()
		if committed {
			scope.Committed()
		}
	}()
	if err := fn(txCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) txFrom(ctx context.Context) (*tx, bool) {
	scope, ok := uow.FromContext(ctx)
	if !ok {
		return nil, false
	}
	t, ok := scope.Tx.(*tx)
	if !ok || t.owner != s {
		return nil, false
	}
	return t, true
}

// view returns the state visible to ctx. Committed states are never mutated.
func (s *Store) view(ctx context.Context) *state {
	if t, ok := s.txFrom(ctx); ok {
		return t.st
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed
}

// update applies fn to the unit of work in ctx, or to a fresh one. fn must
// validate before mutating.
func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	if t, ok := s.txFrom(ctx); ok {
		return fn(t.st)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		t, _ := s.txFrom(ctx)
		return fn(t.st)
	})
}

var (
	_ auth.Store    = (*Store)(nil)
	_ content.Store = (*Store)(nil)
	_ audit.Store   = (*Store)(nil)
)
