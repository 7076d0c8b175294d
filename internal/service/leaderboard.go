package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/cache"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

// FactionAll disables the faction filter of the leaderboard.
const FactionAll = "all"

// LeaderboardService ranks users and reports the global resonance.
//
// CACHING:
// Only one board is cached: the unfiltered top LeaderboardSize users under
// cache.LeaderboardKey. Faction and search filters run in memory over that
// list on every request, so one cache entry serves every filter and a
// single Invalidate(PrefixLeaderboard) after a vote, delete or profile edit
// clears them all. A filtered board therefore never reaches past the
// overall top LeaderboardSize.
//
// Resonance is not cached; it is one aggregate query.
type LeaderboardService struct {
	users  repository.UserRepository
	vibes  repository.VibeRepository
	cache  *cache.ReadThrough
	logger *slog.Logger
}

// NewLeaderboardService wires a LeaderboardService. rt may be nil.
func NewLeaderboardService(users repository.UserRepository, vibes repository.VibeRepository, rt *cache.ReadThrough, logger *slog.Logger) *LeaderboardService {
	if rt == nil {
		rt = cache.NewReadThrough(nil, logger)
	}
	return &LeaderboardService{users: users, vibes: vibes, cache: rt, logger: logger}
}

type LeaderboardQuery struct {
	Faction string // "all" (or empty), "fire" or "ice"
	Search  string // case-insensitive substring of username or handle
}

// Leaderboard returns the top LeaderboardSize users by vibe score, filtered
// by faction and search. Ranks are assigned 1..n after filtering, so a
// filtered board always starts at rank 1.
func (s *LeaderboardService) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]model.LeaderboardEntry, error) {
	faction := strings.ToLower(strings.TrimSpace(q.Faction))
	switch faction {
	case "", FactionAll, string(model.FactionFire), string(model.FactionIce):
	default:
		return nil, apperror.ValidationFailed("faction", "faction must be all, fire or ice")
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))

	// Cached entries carry no rank; ranks depend on the filter.
	top, err := cache.Load(ctx, s.cache, cache.LeaderboardKey, s.loadTop)
	if err != nil {
		return nil, fmt.Errorf("service/leaderboard: loading top users: %w", err)
	}

	entries := make([]model.LeaderboardEntry, 0, len(top))
	for _, e := range top {
		if faction != "" && faction != FactionAll && string(e.Faction) != faction {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Name), search) &&
			!strings.Contains(strings.ToLower(e.Handle), search) {
			continue
		}
		e.Rank = len(entries) + 1
		entries = append(entries, e)
	}
	return entries, nil
}

// loadTop builds the unfiltered, unranked board that is cached.
func (s *LeaderboardService) loadTop(ctx context.Context) ([]model.LeaderboardEntry, error) {
	users, err := s.users.TopUsers(ctx, LeaderboardSize)
	if err != nil {
		return nil, err
	}
	entries := make([]model.LeaderboardEntry, len(users))
	for i, u := range users {
		entries[i] = model.LeaderboardEntry{
			ID:        u.ID,
			Name:      u.Username,
			Handle:    u.Handle,
			VibeScore: u.VibeScore,
			Avatar:    u.Avatar,
			Faction:   u.Faction,
		}
	}
	return entries, nil
}

// Resonance returns the global boost/chill balance over public vibes.
func (s *LeaderboardService) Resonance(ctx context.Context) (model.Resonance, error) {
	r, err := s.vibes.Resonance(ctx)
	if err != nil {
		return model.Resonance{}, fmt.Errorf("service/leaderboard: computing resonance: %w", err)
	}
	return r, nil
}
