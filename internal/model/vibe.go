package model

import "time"

// Visibility controls who can see a vibe.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Vibe is a short user-authored post.
//
// BoostCount and ChillCount are denormalised counters. They are only ever
// changed inside the same transaction that inserts or deletes the matching
// Vote rows, so they always equal the number of votes of each type.
type Vibe struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Image      string     `json:"image"`
	Visibility Visibility `json:"visibility"`
	BoostCount int64      `json:"boostCount"`
	ChillCount int64      `json:"chillCount"`
	AuthorID   string     `json:"authorId"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// NetScore is the vibe's contribution to its author's vibe score.
func (v *Vibe) NetScore() int64 {
	return v.BoostCount - v.ChillCount
}

// FeedFilter selects the ordering of the public feed.
type FeedFilter string

const (
	FeedLatest   FeedFilter = "latest"
	FeedTrending FeedFilter = "trending"
)

// Valid reports whether f is a known feed ordering.
func (f FeedFilter) Valid() bool {
	return f == FeedLatest || f == FeedTrending
}

// VibeView is a vibe joined with the display fields of its author, the shape
// every listing endpoint returns.
type VibeView struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	Image      string     `json:"image"`
	AuthorID   string     `json:"authorId"`
	Author     string     `json:"author"` // author handle
	Avatar     string     `json:"avatar"`
	BoostCount int64      `json:"boostCount"`
	ChillCount int64      `json:"chillCount"`
	Timestamp  int64      `json:"timestamp"` // creation time, Unix milliseconds
	Visibility Visibility `json:"visibility"`
	MyVote     VoteType   `json:"myVote,omitempty"` // set only when the viewer is known
}
