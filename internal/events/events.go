// Package events publishes domain events after a write commits.
//
// Publishing is fire-and-forget from the caller's point of view: the service
// layer logs a failed publish and carries on, so subscribers must tolerate
// missed events and re-read state when they need it.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/vibehub/internal/model"
)

// Subjects, also used as the event kind on the live socket.
const (
	SubjectVibeCreated = "vibehub.vibe.created"
	SubjectVibeDeleted = "vibehub.vibe.deleted"
	SubjectVoteCast    = "vibehub.vote.cast"
)

type VibeCreated struct {
	VibeID     string           `json:"vibeId"`
	AuthorID   string           `json:"authorId"`
	Title      string           `json:"title"`
	Visibility model.Visibility `json:"visibility"`
	CreatedAt  time.Time        `json:"createdAt"`
}

type VibeDeleted struct {
	VibeID    string          `json:"vibeId"`
	AuthorID  string          `json:"authorId"`
	Resonance model.Resonance `json:"resonance"`
	Seq       uint64          `json:"seq"`
	DeletedAt time.Time       `json:"deletedAt"`
}

// VoteCast carries the vibe's new counters and the global resonance as of
// the vote's own transaction.
//
// Events are published after commit, so two votes can arrive out of order.
// Seq is the writing transaction's position in commit order; a consumer
// keeps the Resonance with the highest Seq it has seen.
type VoteCast struct {
	VibeID     string          `json:"vibeId"`
	UserID     string          `json:"userId"`
	Type       model.VoteType  `json:"type"`
	Switched   bool            `json:"switched"`
	BoostCount int64           `json:"boostCount"`
	ChillCount int64           `json:"chillCount"`
	Resonance  model.Resonance `json:"resonance"`
	Seq        uint64          `json:"seq"`
	CastAt     time.Time       `json:"castAt"`
}

// Publisher receives committed domain events.
type Publisher interface {
	PublishVibeCreated(ctx context.Context, e VibeCreated) error
	PublishVibeDeleted(ctx context.Context, e VibeDeleted) error
	PublishVoteCast(ctx context.Context, e VoteCast) error
}

// Multi fans every event out to each publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishVibeCreated(ctx context.Context, e VibeCreated) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishVibeCreated(ctx, e))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishVibeDeleted(ctx context.Context, e VibeDeleted) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishVibeDeleted(ctx, e))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishVoteCast(ctx context.Context, e VoteCast) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishVoteCast(ctx, e))
	}
	return errors.Join(errs...)
}

// Noop discards events.
type Noop struct{}

func (Noop) PublishVibeCreated(context.Context, VibeCreated) error { return nil }
func (Noop) PublishVibeDeleted(context.Context, VibeDeleted) error { return nil }
func (Noop) PublishVoteCast(context.Context, VoteCast) error       { return nil }
