package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"securecms.org/internal/auth"
)

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	return s.update(ctx, func(st *state) error {
		for _, existing := range st.users {
			if existing.Username == u.Username {
				return fmt.Errorf("%w: username %q", auth.ErrConflict, u.Username)
			}
			if strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("%w: email %q", auth.ErrConflict, u.Email)
			}
		}
		u.ID = st.next("users")
		st.users[u.ID] = *u
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id int64) (auth.User, error) {
	u, ok := s.view(ctx).users[id]
	if !ok {
		return auth.User{}, fmt.Errorf("%w: user %d", auth.ErrNotFound, id)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	for _, u := range s.view(ctx).users {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, fmt.Errorf("%w: user %q", auth.ErrNotFound, username)
}

func (s *Store) UserExists(ctx context.Context, username, email string) (bool, error) {
	for _, u := range s.view(ctx).users {
		if u.Username == username || strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.update(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("%w: user %d", auth.ErrNotFound, id)
		}
		t := at
		u.LastLoginAt = &t
		st.users[id] = u
		return nil
	})
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.update(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return fmt.Errorf("%w: user %d", auth.ErrNotFound, id)
		}
		u.IsActive = active
		st.users[id] = u
		return nil
	})
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	return s.update(ctx, func(st *state) error {
		for _, existing := range st.roles {
			if existing.Name == r.Name {
				return fmt.Errorf("%w: role %q", auth.ErrConflict, r.Name)
			}
		}
		r.ID = st.next("roles")
		stored := *r
		stored.Permissions = nil
		st.roles[r.ID] = stored
		return nil
	})
}

func (s *Store) GetRole(ctx context.Context, id int64) (auth.Role, error) {
	st := s.view(ctx)
	r, ok := st.roles[id]
	if !ok {
		return auth.Role{}, fmt.Errorf("%w: role %d", auth.ErrNotFound, id)
	}
	r.Permissions = rolePermissions(st, id)
	return r, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	st := s.view(ctx)
	for _, r := range st.roles {
		if r.Name == name {
			r.Permissions = rolePermissions(st, r.ID)
			return r, nil
		}
	}
	return auth.Role{}, fmt.Errorf("%w: role %q", auth.ErrNotFound, name)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	st := s.view(ctx)
	out := make([]auth.Role, 0, len(st.roles))
	for _, r := range st.roles {
		r.Permissions = rolePermissions(st, r.ID)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreatePermission(ctx context.Context, p *auth.Permission) error {
	return s.update(ctx, func(st *state) error {
		for _, existing := range st.permissions {
			if existing.Resource == p.Resource && existing.Action == p.Action {
				return fmt.Errorf("%w: permission %s", auth.ErrConflict, p.Key())
			}
		}
		p.ID = st.next("permissions")
		st.permissions[p.ID] = *p
		return nil
	})
}

func (s *Store) GetPermission(ctx context.Context, id int64) (auth.Permission, error) {
	p, ok := s.view(ctx).permissions[id]
	if !ok {
		return auth.Permission{}, fmt.Errorf("%w: permission %d", auth.ErrNotFound, id)
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	st := s.view(ctx)
	out := make([]auth.Permission, 0, len(st.permissions))
	for _, p := range st.permissions {
		out = append(out, p)
	}
	sortPermissions(out)
	return out, nil
}

func (s *Store) AssignRole(ctx context.Context, a *auth.Assignment) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.users[a.UserID]; !ok {
			return fmt.Errorf("%w: user %d", auth.ErrNotFound, a.UserID)
		}
		if _, ok := st.roles[a.RoleID]; !ok {
			return fmt.Errorf("%w: role %d", auth.ErrNotFound, a.RoleID)
		}
		key := pair{a.UserID, a.RoleID}
		if _, ok := st.userRoles[key]; ok {
			return fmt.Errorf("%w: user %d already has role %d", auth.ErrConflict, a.UserID, a.RoleID)
		}
		st.userRoles[key] = *a
		return nil
	})
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID int64) (auth.Assignment, error) {
	var removed auth.Assignment
	err := s.update(ctx, func(st *state) error {
		key := pair{userID, roleID}
		a, ok := st.userRoles[key]
		if !ok {
			return fmt.Errorf("%w: user %d does not have role %d", auth.ErrNotFound, userID, roleID)
		}
		delete(st.userRoles, key)
		removed = a
		return nil
	})
	return removed, err
}

func (s *Store) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	st := s.view(ctx)
	names := []string{}
	for key := range st.userRoles {
		if key.a != userID {
			continue
		}
		if r, ok := st.roles[key.b]; ok {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) GrantPermission(ctx context.Context, g *auth.Grant) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.roles[g.RoleID]; !ok {
			return fmt.Errorf("%w: role %d", auth.ErrNotFound, g.RoleID)
		}
		if _, ok := st.permissions[g.PermissionID]; !ok {
			return fmt.Errorf("%w: permission %d", auth.ErrNotFound, g.PermissionID)
		}
		key := pair{g.RoleID, g.PermissionID}
		if _, ok := st.grants[key]; ok {
			return fmt.Errorf("%w: role %d already holds permission %d", auth.ErrConflict, g.RoleID, g.PermissionID)
		}
		st.grants[key] = *g
		return nil
	})
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID int64) (auth.Grant, error) {
	var revoked auth.Grant
	err := s.update(ctx, func(st *state) error {
		key := pair{roleID, permissionID}
		g, ok := st.grants[key]
		if !ok {
			return fmt.Errorf("%w: role %d does not hold permission %d", auth.ErrNotFound, roleID, permissionID)
		}
		delete(st.grants, key)
		revoked = g
		return nil
	})
	return revoked, err
}

// GrantsForSubject walks assignments to grants to permissions. Duplicates
// reachable through several roles are returned once per role.
func (s *Store) GrantsForSubject(ctx context.Context, subjectID int64) ([]auth.Permission, error) {
	st := s.view(ctx)
	var out []auth.Permission
	for key := range st.userRoles {
		if key.a != subjectID {
			continue
		}
		out = append(out, rolePermissions(st, key.b)...)
	}
	return out, nil
}

func rolePermissions(st *state, roleID int64) []auth.Permission {
	var out []auth.Permission
	for key := range st.grants {
		if key.a != roleID {
			continue
		}
		if p, ok := st.permissions[key.b]; ok {
			out = append(out, p)
		}
	}
	sortPermissions(out)
	return out
}

func sortPermissions(perms []auth.Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}
