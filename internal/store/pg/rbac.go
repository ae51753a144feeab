package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"securecms.org/internal/auth"
)

const userColumns = `id, username, email, password_hash, full_name, encrypted_ssn, encrypted_phone, is_active, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FullName,
		&u.EncryptedSSN, &u.EncryptedPhone, &u.IsActive, &u.CreatedAt, &lastLogin)
	if err != nil {
		return auth.User{}, err
	}
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	u.CreatedAt = nowIfZero(u.CreatedAt)
	err = q.QueryRowContext(ctx, `
		insert into users (username, email, password_hash, full_name, encrypted_ssn, encrypted_phone, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id
	`, u.Username, u.Email, u.PasswordHash, u.FullName, u.EncryptedSSN, u.EncryptedPhone, u.IsActive, u.CreatedAt).Scan(&u.ID)
	return mapErr(err, fmt.Sprintf("user %q", u.Username))
}

func (s *Store) GetUser(ctx context.Context, id int64) (auth.User, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.User{}, err
	}
	u, err := scanUser(q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return auth.User{}, mapErr(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.User{}, err
	}
	u, err := scanUser(q.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`, username))
	if err != nil {
		return auth.User{}, mapErr(err, fmt.Sprintf("user %q", username))
	}
	return u, nil
}

func (s *Store) UserExists(ctx context.Context, username, email string) (bool, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.QueryRowContext(ctx, `
		select exists(select 1 from users where username = $1 or lower(email) = lower($2))
	`, username, email).Scan(&exists)
	return exists, err
}

func (s *Store) SetLastLogin(ctx context.Context, id int64, at time.Time) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("user %d", id))
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `update users set is_active = $2 where id = $1`, id, active)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Sprintf("user %d", id))
}

func (s *Store) CreateRole(ctx context.Context, r *auth.Role) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	r.CreatedAt = nowIfZero(r.CreatedAt)
	err = q.QueryRowContext(ctx, `
		insert into roles (name, description, created_at)
		values ($1, $2, $3)
		returning id
	`, r.Name, r.Description, r.CreatedAt).Scan(&r.ID)
	return mapErr(err, fmt.Sprintf("role %q", r.Name))
}

func (s *Store) GetRole(ctx context.Context, id int64) (auth.Role, error) {
	return s.roleWhere(ctx, `id = $1`, id, fmt.Sprintf("role %d", id))
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	return s.roleWhere(ctx, `name = $1`, name, fmt.Sprintf("role %q", name))
}

func (s *Store) roleWhere(ctx context.Context, cond string, arg any, what string) (auth.Role, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Role{}, err
	}
	var r auth.Role
	err = q.QueryRowContext(ctx, `select id, name, description, created_at from roles where `+cond, arg).
		Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	if err != nil {
		return auth.Role{}, mapErr(err, what)
	}
	r.Permissions, err = s.queryPermissions(ctx, q, `
		select p.id, p.name, p.resource, p.action, p.description
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.resource, p.action
	`, r.ID)
	if err != nil {
		return auth.Role{}, err
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `select id, name, description, created_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []auth.Role{}
	index := map[int64]int{}
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	grants, err := q.QueryContext(ctx, `
		select rp.role_id, p.id, p.name, p.resource, p.action, p.description
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		order by p.resource, p.action
	`)
	if err != nil {
		return nil, err
	}
	defer grants.Close()
	for grants.Next() {
		var (
			roleID int64
			p      auth.Permission
		)
		if err := grants.Scan(&roleID, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return roles, grants.Err()
}

func (s *Store) CreatePermission(ctx context.Context, p *auth.Permission) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = q.QueryRowContext(ctx, `
		insert into permissions (name, resource, action, description)
		values ($1, $2, $3, $4)
		returning id
	`, p.Name, p.Resource, p.Action, p.Description).Scan(&p.ID)
	return mapErr(err, "permission "+p.Key())
}

func (s *Store) GetPermission(ctx context.Context, id int64) (auth.Permission, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Permission{}, err
	}
	var p auth.Permission
	err = q.QueryRowContext(ctx, `select id, name, resource, action, description from permissions where id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description)
	if err != nil {
		return auth.Permission{}, mapErr(err, fmt.Sprintf("permission %d", id))
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryPermissions(ctx, q, `
		select id, name, resource, action, description from permissions order by resource, action
	`)
}

func (s *Store) AssignRole(ctx context.Context, a *auth.Assignment) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	a.AssignedAt = nowIfZero(a.AssignedAt)
	_, err = q.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_at) values ($1, $2, $3)
	`, a.UserID, a.RoleID, a.AssignedAt)
	return mapErr(err, fmt.Sprintf("user %d role %d", a.UserID, a.RoleID))
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID int64) (auth.Assignment, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Assignment{}, err
	}
	a := auth.Assignment{UserID: userID, RoleID: roleID}
	err = q.QueryRowContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2 returning assigned_at
	`, userID, roleID).Scan(&a.AssignedAt)
	if err != nil {
		return auth.Assignment{}, mapErr(err, fmt.Sprintf("user %d role %d", userID, roleID))
	}
	return a, nil
}

func (s *Store) RoleNamesForUser(ctx context.Context, userID int64) ([]string, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) GrantPermission(ctx context.Context, g *auth.Grant) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	g.GrantedAt = nowIfZero(g.GrantedAt)
	_, err = q.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, granted_at) values ($1, $2, $3)
	`, g.RoleID, g.PermissionID, g.GrantedAt)
	return mapErr(err, fmt.Sprintf("role %d permission %d", g.RoleID, g.PermissionID))
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID int64) (auth.Grant, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return auth.Grant{}, err
	}
	g := auth.Grant{RoleID: roleID, PermissionID: permissionID}
	err = q.QueryRowContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2 returning granted_at
	`, roleID, permissionID).Scan(&g.GrantedAt)
	if err != nil {
		return auth.Grant{}, mapErr(err, fmt.Sprintf("role %d permission %d", roleID, permissionID))
	}
	return g, nil
}

// GrantsForSubject reads the assignment to grant to permission chain live.
func (s *Store) GrantsForSubject(ctx context.Context, subjectID int64) ([]auth.Permission, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryPermissions(ctx, q, `
		select p.id, p.name, p.resource, p.action, p.description
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
	`, subjectID)
}

func (s *Store) queryPermissions(ctx context.Context, q querier, query string, args ...any) ([]auth.Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
