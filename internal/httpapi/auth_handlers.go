package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	SSN      string `json:"ssn"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// userView is the public projection of a user. Encrypted fields and the
// password hash never leave the service.
type userView struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FullName    string     `json:"fullName,omitempty"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func viewUser(u auth.User) userView {
	return userView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func (a *API) authRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.limiter.Middleware)
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
		})
		r.Group(func(r chi.Router) {
			r.Use(requireSubject)
			r.Get("/permissions", a.handleMyPermissions)
			r.Get("/validate", a.handleValidate)
		})
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.accounts.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		SSN:      req.SSN,
		Phone:    req.Phone,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewUser(user))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.accounts.Login(r.Context(), auth.LoginInput{Username: req.Username, Password: req.Password})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"username":   res.Username,
		"roles":      res.Roles,
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.eval.ListPermissions(r.Context(), subjectID(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	s, _ := auth.SubjectFromContext(r.Context())
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"userId":   s.ID,
		"username": s.Username,
		"email":    s.Email,
		"roles":    roles,
	})
}
