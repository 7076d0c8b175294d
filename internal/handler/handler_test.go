package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/vibehub/internal/auth"
	"github.com/sakif/vibehub/internal/cache"
	"github.com/sakif/vibehub/internal/handler"
	"github.com/sakif/vibehub/internal/logging"
	"github.com/sakif/vibehub/internal/model"
	sqliteRepo "github.com/sakif/vibehub/internal/repository/sqlite"
	"github.com/sakif/vibehub/internal/service"
)

// testEnv is the real service stack over an in-memory database.
type testEnv struct {
	auth      *service.AuthService
	vibes     *service.VibeService
	tokens    *auth.TokenService
	authH     *handler.AuthHandler
	vibeH     *handler.VibeHandler
	community *handler.CommunityHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	db, err := sqliteRepo.New(":memory:", sqliteRepo.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logging.Discard()
	tokens, err := auth.NewTokenService("handler-test-secret-0123", time.Hour, clock)
	require.NoError(t, err)

	rt := cache.NewReadThrough(cache.NewMemory(time.Minute, clock), logger)
	authService := service.NewAuthService(db, tokens, auth.NewPasswordServiceWithCost(bcrypt.MinCost), clock, logger)
	vibes := service.NewVibeService(db, db, rt, nil, nil, clock, logger)
	votes := service.NewVoteService(db, rt, nil, nil, clock, logger)
	users := service.NewUserService(db, db, rt, logger)
	board := service.NewLeaderboardService(db, db, rt, logger)

	return &testEnv{
		auth:      authService,
		vibes:     vibes,
		tokens:    tokens,
		authH:     handler.NewAuthHandler(authService, users, nil, tokens, false, logger),
		vibeH:     handler.NewVibeHandler(vibes, votes, logger),
		community: handler.NewCommunityHandler(users, board),
	}
}

func (e *testEnv) signup(t *testing.T, name string) *model.User {
	t.Helper()
	res, err := e.auth.Signup(context.Background(), service.SignupInput{
		Email:    name + "@example.com",
		Password: "password123",
		Username: name,
	})
	require.NoError(t, err)
	return res.User
}

// request builds a request as userID (anonymous when empty) with an
// optional {id} path value.
type request struct {
	method string
	target string
	body   string
	userID string
	id     string
}

func serve(h http.HandlerFunc, rq request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(rq.method, rq.target, strings.NewReader(rq.body))
	req.Header.Set("Content-Type", "application/json")
	if rq.userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), rq.userID))
	}
	if rq.id != "" {
		req.SetPathValue("id", rq.id)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}
