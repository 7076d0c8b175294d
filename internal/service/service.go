// Package service contains the business rules of VibeHub.
//
// Handlers parse HTTP and call a service; services validate input, run the
// writes inside a repository transaction, and then fan the committed result
// out to the cache and the event publishers:
//
//	Handler → Service → repository.Transactor / Tx (one atomic write)
//	                  ↘ cache.ReadThrough   (invalidate)
//	                  ↘ events.Publisher    (notify)
//
// Services accept and return domain types only. Failures are reported as
// apperror kinds so the HTTP layer can pick a status code; storage errors are
// wrapped with the operation that failed. Cache and publisher failures are
// logged and never fail the operation.
package service

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sakif/vibehub/internal/apperror"
)

// Point awards.
const (
	StartingPoints   = 100
	CreateVibePoints = 50
	VotePoints       = 10
)

// Field limits, counted in characters unless noted.
const (
	MaxTitleLength    = 40
	MaxContentLength  = 280
	MaxUsernameLength = 30
	MaxBioLength      = 160
	MaxImageBytes     = 2 << 20
	MinPasswordLength = 8

	DefaultFeedLimit = 50
	MaxFeedLimit     = 100
	LeaderboardSize  = 50
)

// DefaultBio is given to every new account.
const DefaultBio = "Just joined the VibeHub network."

const defaultAvatarURL = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// defaultAvatar derives a stable generated avatar from seed.
func defaultAvatar(seed string) string {
	return defaultAvatarURL + url.QueryEscape(seed)
}

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("%s must be %d characters or less", field, max))
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	return checkLength("username", username, MaxUsernameLength)
}

// validateImage accepts an empty string, an http(s) URL or an inline
// data:image/ URL no larger than MaxImageBytes.
func validateImage(image string) error {
	if image == "" {
		return nil
	}
	if len(image) > MaxImageBytes {
		return apperror.ValidationFailed("image",
			fmt.Sprintf("image must be %d bytes or less", MaxImageBytes))
	}
	if strings.HasPrefix(image, "data:image/") {
		return nil
	}
	u, err := url.Parse(image)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperror.ValidationFailed("image", "image must be an http(s) URL or a data:image/ URL")
	}
	return nil
}

// clampPage applies the feed paging defaults.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
