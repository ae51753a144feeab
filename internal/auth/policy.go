package auth

import (
	"context"
	"errors"
	"fmt"

	"securecms.org/internal/obs"
)

// Decision is the outcome of a policy evaluation.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Ownership states who owns the target of a request.
type Ownership struct {
	OwnerID int64
}

// Request asks whether SubjectID may perform Action on Resource. Ownership is
// nil when the target has no owner or none is known.
type Request struct {
	SubjectID int64
	Resource  string
	Action    string
	Ownership *Ownership
}

// PermissionChecker is the evaluator contract the policy builds on.
type PermissionChecker interface {
	HasPermission(ctx context.Context, subjectID int64, resource, action string) (bool, error)
}

// ownerBypass lists the actions an owner may perform on their own resource
// without holding the permission.
var ownerBypass = map[string]struct{}{
	ResourceContent + ":" + ActionUpdate:  {},
	ResourceContent + ":" + ActionDelete:  {},
	ResourceContent + ":" + ActionPublish: {},
}

// Policy is the single decision point for authorization.
type Policy struct {
	checker PermissionChecker
}

// NewPolicy constructs a Policy over checker.
func NewPolicy(checker PermissionChecker) (*Policy, error) {
	if checker == nil {
		return nil, errors.New("permission checker is required")
	}
	return &Policy{checker: checker}, nil
}

// Decide evaluates req. Anonymous subjects are always denied.
func (p *Policy) Decide(ctx context.Context, req Request) (Decision, error) {
	if req.SubjectID <= 0 {
		obs.ObserveDecision(req.Resource, req.Action, false)
		return Deny, nil
	}
	if req.Ownership != nil && req.Ownership.OwnerID == req.SubjectID {
		if _, ok := ownerBypass[req.Resource+":"+req.Action]; ok {
			obs.ObserveDecision(req.Resource, req.Action, true)
			return Allow, nil
		}
	}
	ok, err := p.checker.HasPermission(ctx, req.SubjectID, req.Resource, req.Action)
	if err != nil {
		return Deny, err
	}
	obs.ObserveDecision(req.Resource, req.Action, ok)
	if ok {
		return Allow, nil
	}
	return Deny, nil
}

// Authorize is Decide that turns Deny into ErrForbidden.
func (p *Policy) Authorize(ctx context.Context, req Request) error {
	d, err := p.Decide(ctx, req)
	if err != nil {
		return err
	}
	if d != Allow {
		return fmt.Errorf("%w: %s:%s", ErrForbidden, req.Resource, req.Action)
	}
	return nil
}
