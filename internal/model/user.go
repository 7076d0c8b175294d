// Package model defines the data structures used throughout the application.
package model

import "time"

// Faction is a user's affinity label. It starts neutral and follows the
// polarity of the user's most recent vote.
type Faction string

const (
	FactionFire    Faction = "fire"
	FactionIce     Faction = "ice"
	FactionNeutral Faction = "neutral"
)

// Valid reports whether f is one of the known factions.
func (f Faction) Valid() bool {
	switch f {
	case FactionFire, FactionIce, FactionNeutral:
		return true
	}
	return false
}

// User represents a registered account.
//
// An account is created either by email/password signup or by the first
// GitHub OAuth login. GitHubID is nil for password accounts and Email may be
// empty for GitHub accounts that hide their address.
//
// PasswordHash never leaves the server: the json:"-" tag drops it from every
// response.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Email        string    `json:"email"     db:"email"`
	Username     string    `json:"username"  db:"username"`
	Handle       string    `json:"handle"    db:"handle"` // "@name", unique
	Avatar       string    `json:"avatar"    db:"avatar"`
	Bio          string    `json:"bio"       db:"bio"`
	Points       int64     `json:"points"    db:"points"`
	VibeScore    int64     `json:"vibeScore" db:"vibe_score"` // net boosts received across the user's vibes
	Faction      Faction   `json:"faction"   db:"faction"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	GitHubID     *int64    `json:"-"         db:"github_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// LeaderboardEntry is one row of the global leaderboard.
type LeaderboardEntry struct {
	Rank      int     `json:"rank"`
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Handle    string  `json:"handle"`
	VibeScore int64   `json:"vibeScore"`
	Avatar    string  `json:"avatar"`
	Faction   Faction `json:"faction"`
}

// Profile is a user's public page: the account plus their public vibes.
type Profile struct {
	User  *User      `json:"user"`
	Vibes []VibeView `json:"vibes"`
}
