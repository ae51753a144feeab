package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RBACService administers roles, permissions and their assignments. Each
// mutation runs in one unit of work together with its audit records.
type RBACService struct {
	store   Store
	auditor Auditor
	now     func() time.Time
}

func NewRBACService(store Store, auditor Auditor) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if auditor == nil {
		return nil, errors.New("auditor is required")
	}
	return &RBACService{store: store, auditor: auditor, now: time.Now}, nil
}

func (s *RBACService) CreateRole(ctx context.Context, name, description string, permissionIDs []int64) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	description = strings.TrimSpace(description)

	var role Role
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetRoleByName(ctx, name); err == nil {
			return fmt.Errorf("%w: role %q already exists", ErrConflict, name)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		role = Role{Name: name, Description: description, CreatedAt: s.now().UTC()}
		if err := s.store.CreateRole(ctx, &role); err != nil {
			return err
		}
		if err := auditInsert(ctx, s.auditor, TableRoles, role); err != nil {
			return err
		}
		for _, pid := range dedupeIDs(permissionIDs) {
			perm, err := s.grant(ctx, role.ID, pid)
			if err != nil {
				return err
			}
			role.Permissions = append(role.Permissions, perm)
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (s *RBACService) AssignRole(ctx context.Context, userID, roleID int64) (Assignment, error) {
	if userID <= 0 || roleID <= 0 {
		return Assignment{}, fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	var a Assignment
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := s.store.GetRole(ctx, roleID); err != nil {
			return err
		}
		a = Assignment{UserID: userID, RoleID: roleID, AssignedAt: s.now().UTC()}
		if err := s.store.AssignRole(ctx, &a); err != nil {
			return err
		}
		return auditInsert(ctx, s.auditor, TableUserRoles, a)
	})
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (s *RBACService) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if userID <= 0 || roleID <= 0 {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	return s.store.WithinTx(ctx, func(ctx context.Context) error {
		removed, err := s.store.RemoveRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		return auditDelete(ctx, s.auditor, TableUserRoles, removed)
	})
}

func (s *RBACService) CreatePermission(ctx context.Context, name, resource, action, description string) (Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.ToLower(resource) + "." + strings.ToLower(action)
	}
	p := Permission{Name: name, Resource: resource, Action: action, Description: strings.TrimSpace(description)}
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePermission(ctx, &p); err != nil {
			return err
		}
		return auditInsert(ctx, s.auditor, TablePermissions, p)
	})
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

func (s *RBACService) GrantPermission(ctx context.Context, roleID, permissionID int64) (Permission, error) {
	if roleID <= 0 || permissionID <= 0 {
		return Permission{}, fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	var perm Permission
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetRole(ctx, roleID); err != nil {
			return err
		}
		var err error
		perm, err = s.grant(ctx, roleID, permissionID)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

func (s *RBACService) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	if roleID <= 0 || permissionID <= 0 {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	return s.store.WithinTx(ctx, func(ctx context.Context) error {
		revoked, err := s.store.RevokePermission(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		return auditDelete(ctx, s.auditor, TableRolePermissions, revoked)
	})
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// UserRoles returns the role names held by userID.
func (s *RBACService) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.RoleNamesForUser(ctx, userID)
}

func (s *RBACService) grant(ctx context.Context, roleID, permissionID int64) (Permission, error) {
	perm, err := s.store.GetPermission(ctx, permissionID)
	if err != nil {
		return Permission{}, err
	}
	g := Grant{RoleID: roleID, PermissionID: permissionID, GrantedAt: s.now().UTC()}
	if err := s.store.GrantPermission(ctx, &g); err != nil {
		return Permission{}, err
	}
	if err := auditInsert(ctx, s.auditor, TableRolePermissions, g); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

func dedupeIDs(values []int64) []int64 {
	if len(values) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(values))
	result := make([]int64, 0, len(values))
	for _, v := range values {
		if v <= 0 {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
