package memory

import (
	"context"
	"time"

	"securecms.org/internal/auth"
)

// Seed installs the builtin permission catalogue and roles. It mirrors the
// SQL seed and is not audited.
func (s *Store) Seed(ctx context.Context) error {
	return s.update(ctx, func(st *state) error {
		now := time.Now().UTC()
		byKey := map[string]int64{}
		for _, p := range st.permissions {
			byKey[p.Key()] = p.ID
		}
		for _, p := range auth.BuiltinPermissions {
			if _, ok := byKey[p.Key()]; ok {
				continue
			}
			p.ID = st.next("permissions")
			st.permissions[p.ID] = p
			byKey[p.Key()] = p.ID
		}
		for _, br := range auth.BuiltinRoles {
			roleID := int64(0)
			for id, r := range st.roles {
				if r.Name == br.Name {
					roleID = id
				}
			}
			if roleID == 0 {
				roleID = st.next("roles")
				st.roles[roleID] = auth.Role{ID: roleID, Name: br.Name, Description: br.Description, CreatedAt: now}
			}
			for _, key := range br.Permissions {
				pid, ok := byKey[key]
				if !ok {
					continue
				}
				gk := pair{roleID, pid}
				if _, ok := st.grants[gk]; !ok {
					st.grants[gk] = auth.Grant{RoleID: roleID, PermissionID: pid, GrantedAt: now}
				}
			}
		}
		return nil
	})
}
