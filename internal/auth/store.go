package auth

import (
	"context"
	"time"

	"securecms.org/internal/audit"
	"securecms.org/internal/uow"
)

// UserStore persists subjects. Unique violations surface as ErrConflict and
// missing rows as ErrNotFound.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	UserExists(ctx context.Context, username, email string) (bool, error)
	SetLastLogin(ctx context.Context, id int64, at time.Time) error
	SetUserActive(ctx context.Context, id int64, active bool) error
}

// RoleStore persists roles, permissions and the join rows between them and
// users.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	// AssignRole rejects an existing (user, role) pair with ErrConflict.
	AssignRole(ctx context.Context, a *Assignment) error
	// RemoveRole returns the removed row or ErrNotFound.
	RemoveRole(ctx context.Context, userID, roleID int64) (Assignment, error)
	RoleNamesForUser(ctx context.Context, userID int64) ([]string, error)

	GrantPermission(ctx context.Context, g *Grant) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) (Grant, error)
}

// Store is everything the auth services need from persistence.
type Store interface {
	UserStore
	RoleStore
	GrantSource
	uow.Runner
}

// Auditor records state changes inside the caller's unit of work.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (int64, error)
}

func auditInsert(ctx context.Context, a Auditor, table string, v any) error {
	_, err := a.Record(ctx, audit.Entry{Table: table, Operation: audit.OpInsert, New: v})
	return err
}

func auditUpdate(ctx context.Context, a Auditor, table string, before, after any) error {
	_, err := a.Record(ctx, audit.Entry{Table: table, Operation: audit.OpUpdate, Old: before, New: after})
	return err
}

func auditDelete(ctx context.Context, a Auditor, table string, v any) error {
	_, err := a.Record(ctx, audit.Entry{Table: table, Operation: audit.OpDelete, Old: v})
	return err
}
