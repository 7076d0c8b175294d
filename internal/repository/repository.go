// Package repository declares the storage contracts the service layer
// depends on. The sqlite subpackage is the production implementation; service
// tests use in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/vibehub/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// FeedOptions selects one page of the public feed.
type FeedOptions struct {
	Filter model.FeedFilter
	ListOptions
}

// UserRepository reads and writes user accounts outside of a transaction.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	HandleExists(ctx context.Context, handle string) (bool, error)
	UpdateProfile(ctx context.Context, id, username, bio string) (*model.User, error)
	UpdateAvatar(ctx context.Context, id, avatar string) error
	TopUsers(ctx context.Context, limit int) ([]model.User, error)
}

// VibeRepository holds the read side of vibes and votes.
type VibeRepository interface {
	GetVibe(ctx context.Context, id string) (*model.Vibe, error)
	GetVibeView(ctx context.Context, id string) (*model.VibeView, error)
	ListPublic(ctx context.Context, opts FeedOptions) ([]model.VibeView, error)
	ListByAuthor(ctx context.Context, authorID string, includePrivate bool) ([]model.VibeView, error)
	VotesByUser(ctx context.Context, userID string, vibeIDs []string) (map[string]model.VoteType, error)
	Resonance(ctx context.Context) (model.Resonance, error)
}

// Tx is the set of writes that must happen atomically. Every method runs on
// the same underlying transaction.
type Tx interface {
	GetVibe(ctx context.Context, id string) (*model.Vibe, error)
	InsertVibe(ctx context.Context, vibe *model.Vibe) error
	DeleteVibe(ctx context.Context, id string) error

	// FindVote returns (nil, nil) when the user has not voted on the vibe.
	FindVote(ctx context.Context, userID, vibeID string) (*model.Vote, error)
	InsertVote(ctx context.Context, vote *model.Vote) error
	DeleteVote(ctx context.Context, id string) error

	// AdjustVibeCounts adds the deltas to the vibe's counters and returns
	// the updated vibe.
	AdjustVibeCounts(ctx context.Context, vibeID string, boostDelta, chillDelta int64) (*model.Vibe, error)
	AdjustVibeScore(ctx context.Context, userID string, delta int64) error
	AddPoints(ctx context.Context, userID string, points int64) (*model.User, error)
	SetFaction(ctx context.Context, userID string, faction model.Faction) (*model.User, error)

	// Resonance sums the public counters as this transaction sees them.
	Resonance(ctx context.Context) (model.Resonance, error)

	// Seq is this transaction's position in commit order. It increases
	// strictly across the transactions of one Transactor.
	Seq() uint64
}

// Transactor runs fn inside a single transaction. If fn returns an error
// the transaction is rolled back and the error is returned unchanged.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
