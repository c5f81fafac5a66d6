package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/meetupwiki/internal/apperr"
	"github.com/starford/meetupwiki/internal/publishing"
)

// Handler holds API route handlers.
type Handler struct {
	svc *publishing.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *publishing.Service) *Handler {
	return &Handler{svc: svc}
}

func decodeSource(w http.ResponseWriter, r *http.Request) (SourceRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return req, false
	}
	return req, true
}

// statusFor maps a publish error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTemplateRender):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrVersionControl):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Publish handles POST /api/publish.
//
//	@Summary		Publish the wiki page for an announcement
//	@Tags			publish
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SourceRequest	true	"Announcement source"
//	@Success		200		{object}	publishing.Outcome
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSource(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Publish(r.Context(), req.SourceURI)
	if err != nil {
		body := errorBody(err.Error())
		if out != nil {
			body.RunID = out.RunID
			if out.Result != nil {
				body.State = out.Result.State.String()
			}
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Preview handles POST /api/preview.
//
//	@Summary		Render the wiki page for an announcement without publishing it
//	@Tags			publish
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SourceRequest	true	"Announcement source"
//	@Success		200		{object}	PreviewResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [post]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSource(w, r)
	if !ok {
		return
	}
	a, md, html, err := h.svc.Preview(r.Context(), req.SourceURI)
	if err != nil {
		writeJSON(w, statusFor(err), errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		Announcement: a,
		Markdown:     string(md),
		HTML:         string(html),
	})
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recent publish runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum number of runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// ListPages handles GET /api/pages.
//
//	@Summary		List the Markdown pages in the wiki checkout
//	@Tags			checkout
//	@Produce		json
//	@Success		200	{object}	PageListResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, _ *http.Request) {
	pages, err := h.svc.Pages()
	if err != nil {
		if errors.Is(err, apperr.ErrPrecondition) {
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
			return
		}
		slog.Error("list pages failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: pages})
}

// Status handles GET /api/status.
//
//	@Summary		Show HEAD and cleanliness of the wiki checkout
//	@Tags			checkout
//	@Produce		json
//	@Success		200	{object}	vcs.Status
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	st, err := h.svc.Status()
	if err != nil {
		if errors.Is(err, apperr.ErrPrecondition) {
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
			return
		}
		slog.Error("checkout status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
