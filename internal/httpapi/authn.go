package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// TokenAuthenticator turns a bearer token into a subject.
type TokenAuthenticator interface {
	Authenticate(token string) (auth.Subject, error)
}

// authenticate resolves the bearer token when one is sent. A request without
// an Authorization header continues anonymously; a bad token is rejected.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if header == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(header)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		subject, err := a.tokens.Authenticate(token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithSubject(r.Context(), subject)
		id := subject.ID
		ctx = audit.WithActor(ctx, audit.Actor{UserID: &id, Username: subject.Username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireSubject rejects anonymous requests.
func requireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.SubjectFromContext(r.Context()); !ok {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requirePermission gates a route on resource:action for the current subject.
func (a *API) requirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return requireSubject(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := a.policy.Authorize(r.Context(), auth.Request{
				SubjectID: subjectID(r),
				Resource:  resource,
				Action:    action,
			})
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// subjectID returns the authenticated subject id or 0.
func subjectID(r *http.Request) int64 {
	s, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		return 0
	}
	return s.ID
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
