package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/auth"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/service"
)

// VibeHandler serves the feed, single vibes, and voting.
type VibeHandler struct {
	vibes  *service.VibeService
	votes  *service.VoteService
	logger *slog.Logger
}

func NewVibeHandler(vibes *service.VibeService, votes *service.VoteService, logger *slog.Logger) *VibeHandler {
	return &VibeHandler{vibes: vibes, votes: votes, logger: logger}
}

type createVibeRequest struct {
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Image      string           `json:"image"`
	Visibility model.Visibility `json:"visibility"`
}

type voteRequest struct {
	Type model.VoteType `json:"type"`
}

// viewerID is the signed-in user, or "" for anonymous requests.
func viewerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// HandleFeed returns one page of public vibes.
//
// HTTP: GET /api/vibes?filter=latest|trending&limit=50&offset=0
func (h *VibeHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := intParam(query.Get("limit"), "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intParam(query.Get("offset"), "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}

	views, err := h.vibes.Feed(r.Context(), service.FeedQuery{
		Filter: model.FeedFilter(query.Get("filter")),
		Limit:  limit,
		Offset: offset,
	}, viewerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if views == nil {
		views = []model.VibeView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleCreate publishes a vibe.
//
// HTTP: POST /api/vibes
// Auth: Required
// REQUEST BODY: {"title": "...", "content": "...", "image": "...", "visibility": "public"}
func (h *VibeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createVibeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.vibes.Create(r.Context(), viewerID(r), service.CreateVibeInput{
		Title:      req.Title,
		Content:    req.Content,
		Image:      req.Image,
		Visibility: req.Visibility,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// HandleGet returns one vibe.
//
// HTTP: GET /api/vibes/{id}
func (h *VibeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.vibes.Get(r.Context(), r.PathValue("id"), viewerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleDelete removes one of the caller's vibes.
//
// HTTP: DELETE /api/vibes/{id}
// Auth: Required
func (h *VibeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.vibes.Delete(r.Context(), r.PathValue("id"), viewerID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMine lists the caller's vibes, private ones included.
//
// HTTP: GET /api/me/vibes
// Auth: Required
func (h *VibeHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	views, err := h.vibes.Mine(r.Context(), viewerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if views == nil {
		views = []model.VibeView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleVote casts a boost or chill.
//
// HTTP: POST /api/vibes/{id}/vote
// Auth: Required
// REQUEST BODY: {"type": "boost"}
func (h *VibeHandler) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.votes.Cast(r.Context(), viewerID(r), r.PathValue("id"), req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
