// Package api exposes the linker over HTTP: document CRUD, suggestion
// management and link placement, keyed by document ID.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/smartlink/anchor"
	"github.com/hazyhaar/smartlink/linker"
	"github.com/hazyhaar/smartlink/shield"
)

// Handler serves the linker REST surface. Server-side failures are logged
// through the request-scoped logger installed by shield.RequestID.
type Handler struct {
	svc    *linker.Service
	policy *bluemonday.Policy
}

// New creates a Handler over the linker service.
func New(svc *linker.Service) *Handler {
	return &Handler{
		svc:    svc,
		policy: contentPolicy(),
	}
}

// contentPolicy sanitizes submitted document markup. The UGC baseline plus
// the anchor attributes the engine reads and writes.
func contentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs(anchor.UIDAttr, "title", "class").OnElements("a")
	return p
}

// RegisterHTTP mounts all routes on the chi router.
func (h *Handler) RegisterHTTP(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/documents/{id}", func(r chi.Router) {
			r.Put("/", h.handlePutDocument)
			r.Get("/", h.handleGetDocument)
			r.Delete("/", h.handleDeleteDocument)
			r.Post("/revert", h.handleRevert)

			r.Get("/links", h.handleListLinks)
			r.Post("/links", h.handleApply)
			r.Get("/inbound", h.handleInbound)

			r.Get("/suggestions", h.handleSuggestions)
			r.Post("/suggestions", h.handleSaveSuggestion)
			r.Delete("/suggestions", h.handleDiscardPending)
		})

		r.Route("/links/{uid}", func(r chi.Router) {
			r.Delete("/", h.handleRemove)
			r.Patch("/", h.handleUpdateText)
			r.Get("/preview", h.handlePreview)
		})
		r.Post("/links/validate", h.handleValidate)
	})
}

type documentRequest struct {
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
	Content   string `json:"content"`
	Plain     bool   `json:"plain"`
}

func (h *Handler) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content := req.Content
	if !req.Plain {
		content = h.policy.Sanitize(content)
	}
	doc := &linker.Document{
		ID:        chi.URLParam(r, "id"),
		Title:     req.Title,
		Permalink: req.Permalink,
		Content:   content,
		Plain:     req.Plain,
	}
	if err := h.svc.PutDocument(r.Context(), doc); err != nil {
		h.fail(w, r, "put document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Document(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevert(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.RestoreRevision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "restore revision", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type linkRequest struct {
	DestinationID string `json:"destination_id"`
	Text          string `json:"text"`
	Href          string `json:"href"`
	Title         string `json:"title"`
	Offset        int    `json:"offset"`
	Context       string `json:"context"`
}

func (req *linkRequest) toLink(sourceID string) *anchor.Link {
	return &anchor.Link{
		SourceID:      sourceID,
		DestinationID: req.DestinationID,
		Text:          req.Text,
		Href:          req.Href,
		Title:         req.Title,
		Offset:        req.Offset,
		Context:       req.Context,
	}
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" || req.Href == "" {
		writeError(w, http.StatusBadRequest, "text and href required")
		return
	}

	link, err := h.svc.Apply(r.Context(), req.toLink(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "apply link", err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handler) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.Links(r.Context(), chi.URLParam(r, "id"), anchor.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, "list links", err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.Inbound(r.Context(), chi.URLParam(r, "id"), anchor.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, "list inbound", err)
		return
	}
	count, err := h.svc.PendingCount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "pending count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"links":         links,
		"pending_count": count,
	})
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.Suggestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "list suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) handleSaveSuggestion(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" || req.Href == "" {
		writeError(w, http.StatusBadRequest, "text and href required")
		return
	}

	link, err := h.svc.SaveSuggestion(r.Context(), req.toLink(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "save suggestion", err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handler) handleDiscardPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DiscardPending(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "discard pending", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"discarded": n})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	restore, _ := strconv.ParseBool(r.URL.Query().Get("restore"))
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "uid"), restore); err != nil {
		h.fail(w, r, "remove link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateTextRequest struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

func (h *Handler) handleUpdateText(w http.ResponseWriter, r *http.Request) {
	var req updateTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	link, err := h.svc.UpdateText(r.Context(), chi.URLParam(r, "uid"), req.Text, req.Offset)
	if err != nil {
		h.fail(w, r, "update link text", err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Preview(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, r, "preview link", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type validateRequest struct {
	SourceID string `json:"source_id"`
	linkRequest
	AllowDuplicates bool `json:"allow_duplicates"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.HasValidPlacement(r.Context(), req.toLink(req.SourceID), req.AllowDuplicates)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.fail(w, r, "validate placement", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// fail maps engine errors onto HTTP statuses and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error(op, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, linker.ErrDocumentNotFound),
		errors.Is(err, linker.ErrLinkNotFound),
		errors.Is(err, linker.ErrNoRevision),
		errors.Is(err, anchor.ErrAnchorNotFound):
		return http.StatusNotFound
	case errors.Is(err, anchor.ErrTextNotFound),
		errors.Is(err, anchor.ErrUnsupportedContainer),
		errors.Is(err, anchor.ErrOriginalLineNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, anchor.ErrNestedLink),
		errors.Is(err, anchor.ErrAlreadyLinked),
		errors.Is(err, linker.ErrDuplicateLink),
		errors.Is(err, linker.ErrSelfLink),
		errors.Is(err, linker.ErrAlreadyApplied):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
