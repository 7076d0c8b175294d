package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/cache"
	"github.com/sakif/vibehub/internal/model"
)

// seedRanked stores users with fixed scores, factions and creation times.
func seedRanked(t *testing.T, store *fakeStore) {
	t.Helper()
	users := []model.User{
		{Username: "Blaze", Handle: "@blaze", VibeScore: 30, Points: 100, Faction: model.FactionFire},
		{Username: "Frost", Handle: "@frost", VibeScore: 20, Points: 300, Faction: model.FactionIce},
		{Username: "Ember", Handle: "@ember", VibeScore: 20, Points: 200, Faction: model.FactionFire},
		{Username: "Glacier", Handle: "@glacier_x", VibeScore: 5, Points: 100, Faction: model.FactionIce},
		{Username: "Newbie", Handle: "@newbie", VibeScore: 0, Points: 100, Faction: model.FactionNeutral},
	}
	for i := range users {
		users[i].CreatedAt = testEpoch.Add(time.Duration(i) * time.Minute)
		if err := store.CreateUser(context.Background(), &users[i]); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
}

func handles(entries []model.LeaderboardEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Handle
	}
	return out
}

func TestLeaderboard(t *testing.T) {
	tests := []struct {
		name  string
		query LeaderboardQuery
		want  []string
	}{
		{"all", LeaderboardQuery{}, []string{"@blaze", "@frost", "@ember", "@glacier_x", "@newbie"}},
		{"explicit all", LeaderboardQuery{Faction: "all"}, []string{"@blaze", "@frost", "@ember", "@glacier_x", "@newbie"}},
		{"fire", LeaderboardQuery{Faction: "fire"}, []string{"@blaze", "@ember"}},
		{"ice", LeaderboardQuery{Faction: "ICE"}, []string{"@frost", "@glacier_x"}},
		{"search username", LeaderboardQuery{Search: "fro"}, []string{"@frost"}},
		{"search handle", LeaderboardQuery{Search: "_X"}, []string{"@glacier_x"}},
		{"search and faction", LeaderboardQuery{Faction: "fire", Search: "e"}, []string{"@blaze", "@ember"}},
		{"no match", LeaderboardQuery{Search: "zzz"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			seedRanked(t, store)
			svc := NewLeaderboardService(store, store, nil, discardLogger())

			entries, err := svc.Leaderboard(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Leaderboard() error = %v", err)
			}
			got := handles(entries)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
				if entries[i].Rank != i+1 {
					t.Errorf("entry %d Rank = %d, want %d", i, entries[i].Rank, i+1)
				}
			}
		})
	}
}

func TestLeaderboard_InvalidFaction(t *testing.T) {
	svc := NewLeaderboardService(newFakeStore(), newFakeStore(), nil, discardLogger())
	_, err := svc.Leaderboard(context.Background(), LeaderboardQuery{Faction: "neutral"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestLeaderboard_CapsAtLeaderboardSize(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < LeaderboardSize+10; i++ {
		u := &model.User{Username: "u", Handle: fmt.Sprintf("@u%d", i)}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	svc := NewLeaderboardService(store, store, nil, discardLogger())

	entries, err := svc.Leaderboard(context.Background(), LeaderboardQuery{})
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(entries) != LeaderboardSize {
		t.Errorf("entries = %d, want %d", len(entries), LeaderboardSize)
	}
}

func TestLeaderboard_VotesInvalidateCache(t *testing.T) {
	env := newTestEnv(t)
	rt := cache.NewReadThrough(env.cache, discardLogger())
	env.votes = NewVoteService(env.store, rt, nil, nil, env.clock, discardLogger())
	board := NewLeaderboardService(env.store, env.store, rt, discardLogger())
	ctx := context.Background()

	low := seedUser(t, env.store, "low")
	voter := seedUser(t, env.store, "voter")
	v := env.post(t, low, "climb", model.VisibilityPublic)

	if _, err := board.Leaderboard(ctx, LeaderboardQuery{}); err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if _, err := env.votes.Cast(ctx, voter.ID, v.ID, model.VoteBoost); err != nil {
		t.Fatalf("Cast() error = %v", err)
	}

	entries, err := board.Leaderboard(ctx, LeaderboardQuery{})
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if entries[0].ID != low.ID || entries[0].VibeScore != 1 {
		t.Errorf("top = %+v, want %s with score 1", entries[0], low.ID)
	}
}

func TestResonance(t *testing.T) {
	env := newTestEnv(t)
	board := NewLeaderboardService(env.store, env.store, nil, discardLogger())
	author := seedUser(t, env.store, "author")
	ctx := context.Background()

	r, err := board.Resonance(ctx)
	if err != nil {
		t.Fatalf("Resonance() error = %v", err)
	}
	if r.Percent != 50 || r.GlobalVibe != model.FactionIce {
		t.Errorf("empty resonance = %+v, want 50%% ice", r)
	}

	public := env.post(t, author, "public", model.VisibilityPublic)
	private := env.post(t, author, "private", model.VisibilityPrivate)
	voters := []*model.User{seedUser(t, env.store, "a"), seedUser(t, env.store, "b"), seedUser(t, env.store, "c")}
	for _, u := range voters {
		if _, err := env.votes.Cast(ctx, u.ID, public.ID, model.VoteBoost); err != nil {
			t.Fatalf("Cast() error = %v", err)
		}
	}
	if _, err := env.votes.Cast(ctx, author.ID, private.ID, model.VoteChill); err != nil {
		t.Fatalf("Cast() error = %v", err)
	}

	r, err = board.Resonance(ctx)
	if err != nil {
		t.Fatalf("Resonance() error = %v", err)
	}
	if r.BoostTotal != 3 || r.ChillTotal != 0 || r.Percent != 100 || r.GlobalVibe != model.FactionFire {
		t.Errorf("resonance = %+v, want 3/0 at 100%% fire", r)
	}
}
