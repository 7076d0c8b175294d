package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/cache"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

// UserService serves profiles and profile edits.
//
// Profiles are read straight from the database. They change with every vote
// on the user's vibes, and a per-user cache key would need invalidating from
// VoteService too.
type UserService struct {
	users  repository.UserRepository
	vibes  repository.VibeRepository
	cache  *cache.ReadThrough
	logger *slog.Logger
}

// NewUserService wires a UserService. rt may be nil; it is used only to
// drop the leaderboard after a rename.
func NewUserService(users repository.UserRepository, vibes repository.VibeRepository, rt *cache.ReadThrough, logger *slog.Logger) *UserService {
	if rt == nil {
		rt = cache.NewReadThrough(nil, logger)
	}
	return &UserService{users: users, vibes: vibes, cache: rt, logger: logger}
}

type UpdateProfileInput struct {
	Username string
	Bio      string
}

// Profile returns a user and their public vibes, newest first. Private vibes
// are left out even when the viewer is the owner; Mine lists those.
func (s *UserService) Profile(ctx context.Context, userID, viewerID string) (*model.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: fetching user %s: %w", userID, err)
	}

	views, err := s.vibes.ListByAuthor(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing vibes of %s: %w", userID, err)
	}

	// Signed-in viewers see their own vote on each vibe.
	if viewerID != "" && len(views) > 0 {
		ids := make([]string, len(views))
		for i := range views {
			ids[i] = views[i].ID
		}
		votes, err := s.vibes.VotesByUser(ctx, viewerID, ids)
		if err != nil {
			return nil, fmt.Errorf("service/user: loading votes of %s: %w", viewerID, err)
		}
		for i := range views {
			views[i].MyVote = votes[views[i].ID]
		}
	}

	return &model.Profile{User: user, Vibes: views}, nil
}

// UpdateProfile changes the username and bio. The handle stays as it was.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	bio := strings.TrimSpace(in.Bio)
	if err := checkLength("bio", bio, MaxBioLength); err != nil {
		return nil, err
	}

	user, err := s.users.UpdateProfile(ctx, userID, username, bio)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/user: updating profile %s: %w", userID, err)
	}

	s.logger.Info("profile updated", slog.String("userID", userID))
	// Leaderboard entries embed the username.
	s.cache.Invalidate(ctx, cache.PrefixLeaderboard)
	return user, nil
}
