package handler

import (
	"net/http"

	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/service"
)

// CommunityHandler serves the public, read-only views: profiles, the
// leaderboard and the global resonance.
type CommunityHandler struct {
	users       *service.UserService
	leaderboard *service.LeaderboardService
}

func NewCommunityHandler(users *service.UserService, leaderboard *service.LeaderboardService) *CommunityHandler {
	return &CommunityHandler{users: users, leaderboard: leaderboard}
}

// HandleProfile returns a user with their public vibes.
//
// HTTP: GET /api/users/{id}
func (h *CommunityHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.Profile(r.Context(), r.PathValue("id"), viewerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleLeaderboard returns the ranked top users.
//
// HTTP: GET /api/leaderboard?faction=all|fire|ice&q=search
func (h *CommunityHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entries, err := h.leaderboard.Leaderboard(r.Context(), service.LeaderboardQuery{
		Faction: query.Get("faction"),
		Search:  query.Get("q"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleResonance returns the global boost/chill balance.
//
// HTTP: GET /api/resonance
func (h *CommunityHandler) HandleResonance(w http.ResponseWriter, r *http.Request) {
	resonance, err := h.leaderboard.Resonance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resonance)
}
