package auth

import "context"

type subjectContextKey struct{}

// Subject is the identity extracted from a validated session token.
type Subject struct {
	ID       int64
	Username string
	Email    string
	Roles    []string
}

// SubjectFromClaims builds a Subject from validated claims.
func SubjectFromClaims(c *Claims) Subject {
	roles := make([]string, len(c.Roles))
	copy(roles, c.Roles)
	return Subject{ID: c.UserID, Username: c.Username, Email: c.Email, Roles: roles}
}

// ContextWithSubject attaches the authenticated subject to the context.
func ContextWithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, &subject)
}

// SubjectFromContext extracts the authenticated subject from the context.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	if ctx == nil {
		return Subject{}, false
	}
	v, ok := ctx.Value(subjectContextKey{}).(*Subject)
	if !ok || v == nil {
		return Subject{}, false
	}
	return *v, true
}
