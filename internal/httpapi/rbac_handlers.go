package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
)

type createRoleRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permissionIds"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type roleAssignmentRequest struct {
	UserID int64 `json:"userId"`
	RoleID int64 `json:"roleId"`
}

type grantRequest struct {
	PermissionID int64 `json:"permissionId"`
}

func (a *API) rbacRoutes(r chi.Router) {
	r.Route("/role", func(r chi.Router) {
		r.With(a.requirePermission(auth.ResourceRole, auth.ActionRead)).Get("/", a.handleListRoles)
		r.With(a.requirePermission(auth.ResourceRole, auth.ActionCreate)).Post("/", a.handleCreateRole)
		r.Group(func(r chi.Router) {
			r.Use(a.requirePermission(auth.ResourceRole, auth.ActionUpdate))
			r.Post("/assign", a.handleAssignRole)
			r.Post("/remove", a.handleRemoveRole)
			r.Post("/{id}/permissions", a.handleGrantPermission)
			r.Delete("/{id}/permissions/{permissionId}", a.handleRevokePermission)
		})
		r.With(a.requirePermission(auth.ResourceUser, auth.ActionRead)).Get("/user/{userId}", a.handleUserRoles)
	})
	r.Route("/permissions", func(r chi.Router) {
		r.With(a.requirePermission(auth.ResourceRole, auth.ActionRead)).Get("/", a.handleListPermissions)
		r.With(a.requirePermission(auth.ResourceRole, auth.ActionCreate)).Post("/", a.handleCreatePermission)
	})
	r.Route("/users/{id}", func(r chi.Router) {
		r.With(a.requirePermission(auth.ResourceUser, auth.ActionUpdate)).Post("/deactivate", a.handleDeactivateUser)
		r.With(a.requirePermission(auth.ResourceUser, auth.ActionRead)).Get("/pii", a.handleUserPII)
	})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description, req.PermissionIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/role/%d", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	as, err := a.rbac.AssignRole(r.Context(), req.UserID, req.RoleID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, as)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	var req roleAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.RemoveRole(r.Context(), req.UserID, req.RoleID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.rbac.GrantPermission(r.Context(), roleID, req.PermissionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	permID, err := pathID(r, "permissionId")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.RevokePermission(r.Context(), roleID, permID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	roles, err := a.rbac.UserRoles(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "roles": roles})
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := a.rbac.CreatePermission(r.Context(), req.Name, req.Resource, req.Action, req.Description)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.accounts.Deactivate(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

// handleUserPII returns decrypted sensitive fields. Each read is logged.
func (a *API) handleUserPII(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pii, err := a.accounts.DecryptPII(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.pii.read", map[string]any{"user_id": userID})
	writeJSON(w, http.StatusOK, pii)
}
