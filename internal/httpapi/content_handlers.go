package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"securecms.org/internal/auth"
	"securecms.org/internal/content"
)

type createContentRequest struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// updateContentRequest leaves absent fields unchanged. A present tags array,
// even an empty one, replaces the tag set.
type updateContentRequest struct {
	Title   *string  `json:"title"`
	Body    *string  `json:"body"`
	Summary *string  `json:"summary"`
	Tags    []string `json:"tags"`
}

func (a *API) contentRoutes(r chi.Router) {
	r.Route("/content", func(r chi.Router) {
		r.Get("/", a.handleListContent)
		r.Get("/{id}", a.handleGetContent)
		r.Group(func(r chi.Router) {
			r.Use(requireSubject)
			r.Get("/my-contents", a.handleMyContent)
			r.Post("/", a.handleCreateContent)
			r.Put("/{id}", a.handleUpdateContent)
			r.Delete("/{id}", a.handleDeleteContent)
			r.Post("/{id}/publish", a.handlePublish)
			r.Post("/{id}/unpublish", a.handleUnpublish)
		})
	})
}

func (a *API) handleListContent(w http.ResponseWriter, r *http.Request) {
	items, err := a.content.List(r.Context(), subjectID(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []content.Content{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleMyContent(w http.ResponseWriter, r *http.Request) {
	items, err := a.content.ListByAuthor(r.Context(), subjectID(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []content.Content{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetContent serves published items to anyone. Drafts are visible to
// their author and to holders of Content:Update; everyone else gets 404.
func (a *API) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.content.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if c.Status != content.StatusPublished {
		d, err := a.policy.Decide(r.Context(), auth.Request{
			SubjectID: subjectID(r),
			Resource:  auth.ResourceContent,
			Action:    auth.ActionUpdate,
			Ownership: &auth.Ownership{OwnerID: c.AuthorID},
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if d != auth.Allow {
			writeError(w, r, http.StatusNotFound, "content not found")
			return
		}
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var req createContentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.content.Create(r.Context(), subjectID(r), content.CreateInput{
		Title:   req.Title,
		Body:    req.Body,
		Summary: req.Summary,
		Tags:    req.Tags,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var req updateContentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.content.Update(r.Context(), subjectID(r), id, content.UpdateInput{
		Title:   req.Title,
		Body:    req.Body,
		Summary: req.Summary,
		Tags:    req.Tags,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.content.Delete(r.Context(), subjectID(r), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePublish(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.content.Publish)
}

func (a *API) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.content.Unpublish)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (content.Content, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := fn(r.Context(), subjectID(r), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
