package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/events"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

// =========================================================================
// IN-MEMORY STORE
// =========================================================================
//
// fakeStore implements every repository interface the services use. WithTx
// snapshots the maps and restores them when fn fails, so rollback behaviour
// can be asserted without SQLite.

var (
	_ repository.UserRepository = (*fakeStore)(nil)
	_ repository.VibeRepository = (*fakeStore)(nil)
	_ repository.Transactor     = (*fakeStore)(nil)
	_ repository.Tx             = (*fakeTx)(nil)
)

type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	vibes  map[string]*model.Vibe
	votes  map[string]*model.Vote
	nextID int

	// set to a non-nil error to simulate a database failure
	resonanceErr  error
	setFactionErr error
	txCount       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[string]*model.User),
		vibes: make(map[string]*model.Vibe),
		votes: make(map[string]*model.Vote),
	}
}

func (f *fakeStore) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// ---- UserRepository ----

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if user.Email != "" && u.Email == user.Email {
			return apperror.Conflict("an account with this email already exists")
		}
		if strings.EqualFold(u.Handle, user.Handle) {
			return apperror.Conflict("handle is taken")
		}
		if user.GitHubID != nil && u.GitHubID != nil && *u.GitHubID == *user.GitHubID {
			return apperror.Conflict("this GitHub account is already linked")
		}
	}
	user.ID = f.newID("user")
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	if user.Faction == "" {
		user.Faction = model.FactionNeutral
	}
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userCopy(id)
}

func (f *fakeStore) userCopy(id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	c := *u
	return &c, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email != "" && u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeStore) GetUserByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.GitHubID != nil && *u.GitHubID == githubID {
			c := *u
			return &c, nil
		}
	}
	return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
}

func (f *fakeStore) HandleExists(_ context.Context, handle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Handle, handle) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, id, username, bio string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	u.Username = username
	u.Bio = bio
	return f.userCopy(id)
}

func (f *fakeStore) UpdateAvatar(_ context.Context, id, avatar string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Avatar = avatar
	return nil
}

func (f *fakeStore) TopUsers(_ context.Context, limit int) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.VibeScore != b.VibeScore {
			return a.VibeScore > b.VibeScore
		}
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// ---- VibeRepository ----

func (f *fakeStore) view(v *model.Vibe) model.VibeView {
	author := f.users[v.AuthorID]
	return model.VibeView{
		ID:         v.ID,
		Title:      v.Title,
		Content:    v.Content,
		Image:      v.Image,
		AuthorID:   v.AuthorID,
		Author:     author.Handle,
		Avatar:     author.Avatar,
		BoostCount: v.BoostCount,
		ChillCount: v.ChillCount,
		Timestamp:  v.CreatedAt.UnixMilli(),
		Visibility: v.Visibility,
	}
}

func (f *fakeStore) GetVibe(_ context.Context, id string) (*model.Vibe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vibeCopy(id)
}

func (f *fakeStore) vibeCopy(id string) (*model.Vibe, error) {
	v, ok := f.vibes[id]
	if !ok {
		return nil, apperror.NotFound("vibe", id)
	}
	c := *v
	return &c, nil
}

func (f *fakeStore) GetVibeView(_ context.Context, id string) (*model.VibeView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vibes[id]
	if !ok {
		return nil, apperror.NotFound("vibe", id)
	}
	view := f.view(v)
	return &view, nil
}

func (f *fakeStore) sortedVibes(keep func(*model.Vibe) bool, less func(a, b *model.Vibe) bool) []*model.Vibe {
	var out []*model.Vibe
	for _, v := range f.vibes {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func newestFirst(a, b *model.Vibe) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (f *fakeStore) ListPublic(_ context.Context, opts repository.FeedOptions) ([]model.VibeView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	less := newestFirst
	if opts.Filter == model.FeedTrending {
		less = func(a, b *model.Vibe) bool {
			if a.BoostCount != b.BoostCount {
				return a.BoostCount > b.BoostCount
			}
			return newestFirst(a, b)
		}
	}
	vibes := f.sortedVibes(func(v *model.Vibe) bool {
		return v.Visibility == model.VisibilityPublic
	}, less)

	views := []model.VibeView{}
	for i := opts.Offset; i < len(vibes) && len(views) < opts.Limit; i++ {
		views = append(views, f.view(vibes[i]))
	}
	return views, nil
}

func (f *fakeStore) ListByAuthor(_ context.Context, authorID string, includePrivate bool) ([]model.VibeView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	vibes := f.sortedVibes(func(v *model.Vibe) bool {
		return v.AuthorID == authorID && (includePrivate || v.Visibility == model.VisibilityPublic)
	}, newestFirst)

	views := []model.VibeView{}
	for _, v := range vibes {
		views = append(views, f.view(v))
	}
	return views, nil
}

func (f *fakeStore) VotesByUser(_ context.Context, userID string, vibeIDs []string) (map[string]model.VoteType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := make(map[string]bool, len(vibeIDs))
	for _, id := range vibeIDs {
		wanted[id] = true
	}
	out := make(map[string]model.VoteType)
	for _, v := range f.votes {
		if v.UserID == userID && wanted[v.VibeID] {
			out[v.VibeID] = v.Type
		}
	}
	return out, nil
}

func (f *fakeStore) Resonance(_ context.Context) (model.Resonance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resonanceLocked()
}

func (f *fakeStore) resonanceLocked() (model.Resonance, error) {
	if f.resonanceErr != nil {
		return model.Resonance{}, f.resonanceErr
	}
	var boost, chill int64
	for _, v := range f.vibes {
		if v.Visibility == model.VisibilityPublic {
			boost += v.BoostCount
			chill += v.ChillCount
		}
	}
	return model.NewResonance(boost, chill), nil
}

// ---- Transactor / Tx ----

func (f *fakeStore) WithTx(_ context.Context, fn func(tx repository.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCount++

	users, vibes, votes := cloneMap(f.users), cloneMap(f.vibes), cloneMap(f.votes)
	if err := fn(&fakeTx{f}); err != nil {
		f.users, f.vibes, f.votes = users, vibes, votes
		return err
	}
	return nil
}

func cloneMap[T any](m map[string]*T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		c := *v
		out[k] = &c
	}
	return out
}

// fakeTx runs with fakeStore.mu already held.
type fakeTx struct{ f *fakeStore }

func (t *fakeTx) GetVibe(_ context.Context, id string) (*model.Vibe, error) {
	return t.f.vibeCopy(id)
}

func (t *fakeTx) InsertVibe(_ context.Context, vibe *model.Vibe) error {
	if _, ok := t.f.users[vibe.AuthorID]; !ok {
		return errors.New("FOREIGN KEY constraint failed")
	}
	vibe.ID = t.f.newID("vibe")
	stored := *vibe
	t.f.vibes[vibe.ID] = &stored
	return nil
}

func (t *fakeTx) DeleteVibe(_ context.Context, id string) error {
	if _, ok := t.f.vibes[id]; !ok {
		return apperror.NotFound("vibe", id)
	}
	delete(t.f.vibes, id)
	for vid, v := range t.f.votes {
		if v.VibeID == id {
			delete(t.f.votes, vid)
		}
	}
	return nil
}

func (t *fakeTx) FindVote(_ context.Context, userID, vibeID string) (*model.Vote, error) {
	for _, v := range t.f.votes {
		if v.UserID == userID && v.VibeID == vibeID {
			c := *v
			return &c, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) InsertVote(ctx context.Context, vote *model.Vote) error {
	if existing, _ := t.FindVote(ctx, vote.UserID, vote.VibeID); existing != nil {
		return apperror.Conflict("you have already voted on this vibe")
	}
	vote.ID = t.f.newID("vote")
	stored := *vote
	t.f.votes[vote.ID] = &stored
	return nil
}

func (t *fakeTx) DeleteVote(_ context.Context, id string) error {
	if _, ok := t.f.votes[id]; !ok {
		return apperror.NotFound("vote", id)
	}
	delete(t.f.votes, id)
	return nil
}

func (t *fakeTx) AdjustVibeCounts(_ context.Context, vibeID string, boostDelta, chillDelta int64) (*model.Vibe, error) {
	v, ok := t.f.vibes[vibeID]
	if !ok {
		return nil, apperror.NotFound("vibe", vibeID)
	}
	if v.BoostCount+boostDelta < 0 || v.ChillCount+chillDelta < 0 {
		return nil, errors.New("CHECK constraint failed")
	}
	v.BoostCount += boostDelta
	v.ChillCount += chillDelta
	return t.f.vibeCopy(vibeID)
}

func (t *fakeTx) AdjustVibeScore(_ context.Context, userID string, delta int64) error {
	u, ok := t.f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.VibeScore += delta
	return nil
}

func (t *fakeTx) AddPoints(_ context.Context, userID string, points int64) (*model.User, error) {
	u, ok := t.f.users[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}
	u.Points += points
	return t.f.userCopy(userID)
}

func (t *fakeTx) Resonance(context.Context) (model.Resonance, error) {
	return t.f.resonanceLocked()
}

func (t *fakeTx) Seq() uint64 { return uint64(t.f.txCount) }

func (t *fakeTx) SetFaction(_ context.Context, userID string, faction model.Faction) (*model.User, error) {
	if t.f.setFactionErr != nil {
		return nil, t.f.setFactionErr
	}
	u, ok := t.f.users[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}
	u.Faction = faction
	return t.f.userCopy(userID)
}

// countVotes returns the stored boost and chill votes on vibeID.
func (f *fakeStore) countVotes(vibeID string) (boost, chill int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.votes {
		if v.VibeID != vibeID {
			continue
		}
		if v.Type == model.VoteBoost {
			boost++
		} else {
			chill++
		}
	}
	return boost, chill
}

// =========================================================================
// RECORDING PUBLISHER
// =========================================================================

type recordingPublisher struct {
	mu      sync.Mutex
	created []events.VibeCreated
	deleted []events.VibeDeleted
	votes   []events.VoteCast
	err     error
}

func (p *recordingPublisher) PublishVibeCreated(_ context.Context, e events.VibeCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func (p *recordingPublisher) PublishVibeDeleted(_ context.Context, e events.VibeDeleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, e)
	return p.err
}

func (p *recordingPublisher) PublishVoteCast(_ context.Context, e events.VoteCast) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.votes = append(p.votes, e)
	return p.err
}

// =========================================================================
// HELPERS
// =========================================================================

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedUser stores a user directly, bypassing AuthService.
func seedUser(t *testing.T, store *fakeStore, username string) *model.User {
	t.Helper()
	u := &model.User{
		Email:    username + "@example.com",
		Username: username,
		Handle:   "@" + username,
		Points:   StartingPoints,
		Faction:  model.FactionNeutral,
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seeding user %s: %v", username, err)
	}
	return u
}

func mustUser(t *testing.T, store *fakeStore, id string) *model.User {
	t.Helper()
	u, err := store.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUserByID(%s): %v", id, err)
	}
	return u
}

func mustVibe(t *testing.T, store *fakeStore, id string) *model.Vibe {
	t.Helper()
	v, err := store.GetVibe(context.Background(), id)
	if err != nil {
		t.Fatalf("GetVibe(%s): %v", id, err)
	}
	return v
}

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(testEpoch)
}
