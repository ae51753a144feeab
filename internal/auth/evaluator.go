package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// GrantSource resolves the permissions reachable from a subject through its
// role assignments. Implementations read current state on every call.
type GrantSource interface {
	GrantsForSubject(ctx context.Context, subjectID int64) ([]Permission, error)
}

// Evaluator answers permission questions from live grant state. It keeps no
// cache and knows nothing about ownership.
type Evaluator struct {
	grants GrantSource
}

// NewEvaluator constructs an Evaluator over grants.
func NewEvaluator(grants GrantSource) (*Evaluator, error) {
	if grants == nil {
		return nil, errors.New("grant source is required")
	}
	return &Evaluator{grants: grants}, nil
}

// HasPermission reports whether subjectID holds (resource, action). Matching
// is exact and case-sensitive. A store failure is returned as an error, never
// as an allow.
func (e *Evaluator) HasPermission(ctx context.Context, subjectID int64, resource, action string) (bool, error) {
	if subjectID <= 0 || resource == "" || action == "" {
		return false, nil
	}
	perms, err := e.grants.GrantsForSubject(ctx, subjectID)
	if err != nil {
		return false, fmt.Errorf("resolve grants: %w", err)
	}
	for _, p := range perms {
		if p.Resource == resource && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

// ListPermissions returns the distinct "Resource:Action" keys held by
// subjectID, sorted.
func (e *Evaluator) ListPermissions(ctx context.Context, subjectID int64) ([]string, error) {
	if subjectID <= 0 {
		return []string{}, nil
	}
	perms, err := e.grants.GrantsForSubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve grants: %w", err)
	}
	set := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		key := p.Key()
		if _, ok := set[key]; ok {
			continue
		}
		set[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}
