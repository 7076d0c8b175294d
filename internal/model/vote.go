package model

import "time"

// VoteType is one of the two poles of the vote axis.
type VoteType string

const (
	VoteBoost VoteType = "boost"
	VoteChill VoteType = "chill"
)

// Valid reports whether t is boost or chill.
func (t VoteType) Valid() bool {
	return t == VoteBoost || t == VoteChill
}

// Faction returns the faction a voter joins by casting a vote of this type.
func (t VoteType) Faction() Faction {
	if t == VoteBoost {
		return FactionFire
	}
	return FactionIce
}

// Polarity is +1 for a boost and -1 for a chill.
func (t VoteType) Polarity() int64 {
	if t == VoteBoost {
		return 1
	}
	return -1
}

// Vote records one user's vote on one vibe. (UserID, VibeID) is unique.
type Vote struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	VibeID    string    `json:"vibeId"`
	Type      VoteType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// VoteResult is what a successful vote returns to the caller.
type VoteResult struct {
	VibeID     string   `json:"vibeId"`
	Type       VoteType `json:"type"`
	BoostCount int64    `json:"boostCount"`
	ChillCount int64    `json:"chillCount"`
	Switched   bool     `json:"switched"` // true when an opposite vote was replaced
	Points     int64    `json:"points"`   // voter's new point total
	Faction    Faction  `json:"faction"`  // voter's new faction
}

// Resonance is the global balance of boosts and chills across public vibes.
type Resonance struct {
	BoostTotal int64   `json:"boostTotal"`
	ChillTotal int64   `json:"chillTotal"`
	Percent    float64 `json:"percent"` // share of boosts, 0..100
	GlobalVibe Faction `json:"globalVibe"`
}

// NewResonance derives the percentage and dominant pole from raw totals.
// With no votes at all the balance is an even 50 and the vibe is ice, since
// fire requires a strict boost majority.
func NewResonance(boost, chill int64) Resonance {
	r := Resonance{BoostTotal: boost, ChillTotal: chill, Percent: 50}
	if total := boost + chill; total > 0 {
		r.Percent = float64(boost) / float64(total) * 100
	}
	r.GlobalVibe = FactionIce
	if r.Percent > 50 {
		r.GlobalVibe = FactionFire
	}
	return r
}
