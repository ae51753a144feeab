package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/content"
)

func (a *API) auditRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.Use(a.requirePermission(auth.ResourceAudit, auth.ActionRead))
		r.Get("/", a.handleQueryAudit)
		r.Get("/user/{id}", a.handleUserAudit)
		r.Get("/content/{id}", a.handleContentAudit)
		r.Get("/stream", a.handleAuditStream)
	})
}

func (a *API) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{Table: strings.TrimSpace(r.URL.Query().Get("tableName"))}
	userID, ok, err := queryInt(r, "userId")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		filter.UserID = &userID
	}
	a.queryAudit(w, r, filter)
}

func (a *API) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.queryAudit(w, r, audit.Filter{UserID: &userID})
}

func (a *API) handleContentAudit(w http.ResponseWriter, r *http.Request) {
	contentID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	a.queryAudit(w, r, audit.Filter{Table: content.TableContents, EntityID: &contentID})
}

func (a *API) queryAudit(w http.ResponseWriter, r *http.Request, filter audit.Filter) {
	pageSize, _, err := queryInt(r, "pageSize")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if pageSize < 0 {
		writeError(w, r, http.StatusBadRequest, "pageSize must not be negative")
		return
	}
	recs, err := a.audit.Query(r.Context(), filter, int(pageSize))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}
