package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/vibehub/internal/auth"
	"github.com/sakif/vibehub/internal/handler"
	"github.com/sakif/vibehub/internal/model"
)

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

func TestAuthHandler_Signup(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.authH.HandleSignup, request{
		method: http.MethodPost,
		target: "/auth/signup",
		body:   `{"email":"Neo@Example.com","password":"password123","username":"Neo"}`,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "password")

	cookie := sessionCookie(rr)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	body := decode[struct {
		User  model.User `json:"user"`
		Token string     `json:"token"`
	}](t, rr)
	assert.Equal(t, "neo@example.com", body.User.Email)
	assert.Equal(t, "@Neo", body.User.Handle)
	assert.Equal(t, int64(100), body.User.Points)
	assert.Equal(t, cookie.Value, body.Token)

	userID, err := env.tokens.Validate(body.Token)
	require.NoError(t, err)
	assert.Equal(t, body.User.ID, userID)

	t.Run("duplicate email", func(t *testing.T) {
		rr := serve(env.authH.HandleSignup, request{
			method: http.MethodPost,
			target: "/auth/signup",
			body:   `{"email":"neo@example.com","password":"password123"}`,
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("short password", func(t *testing.T) {
		rr := serve(env.authH.HandleSignup, request{
			method: http.MethodPost,
			target: "/auth/signup",
			body:   `{"email":"trinity@example.com","password":"short"}`,
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "password", decode[handler.ErrorResponse](t, rr).Field)
	})
}

func TestAuthHandler_Login(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "neo")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"email":"neo@example.com","password":"password123"}`, http.StatusOK},
		{"wrong password", `{"email":"neo@example.com","password":"password124"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"smith@example.com","password":"password123"}`, http.StatusUnauthorized},
		{"malformed body", `{"email":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(env.authH.HandleLogin, request{method: http.MethodPost, target: "/auth/login", body: tt.body})
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status == http.StatusOK {
				assert.NotNil(t, sessionCookie(rr))
			} else {
				assert.Nil(t, sessionCookie(rr))
			}
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	env := newTestEnv(t)

	rr := serve(env.authH.HandleLogout, request{method: http.MethodPost, target: "/auth/logout"})

	assert.Equal(t, http.StatusOK, rr.Code)
	cookie := sessionCookie(rr)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestAuthHandler_MeAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	neo := env.signup(t, "neo")

	rr := serve(env.authH.HandleMe, request{method: http.MethodGet, target: "/api/me", userID: neo.ID})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, neo.ID, decode[model.User](t, rr).ID)

	rr = serve(env.authH.HandleUpdateMe, request{
		method: http.MethodPut,
		target: "/api/me",
		body:   `{"username":"The One","bio":"There is no spoon."}`,
		userID: neo.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[model.User](t, rr)
	assert.Equal(t, "The One", updated.Username)
	assert.Equal(t, "There is no spoon.", updated.Bio)
	assert.Equal(t, neo.Handle, updated.Handle)

	rr = serve(env.authH.HandleUpdateMe, request{
		method: http.MethodPut,
		target: "/api/me",
		body:   `{"username":"neo","bio":"` + strings.Repeat("b", 161) + `"}`,
		userID: neo.ID,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "bio", decode[handler.ErrorResponse](t, rr).Field)

	rr = serve(env.authH.HandleUpdateMe, request{method: http.MethodPut, target: "/api/me", body: `{}`})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthHandler_GitHubCallback(t *testing.T) {
	env := newTestEnv(t)

	callback := func(query string, state *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+query, nil)
		if state != nil {
			req.AddCookie(state)
		}
		rr := httptest.NewRecorder()
		env.authH.HandleGitHubCallback(rr, req)
		return rr
	}
	state := &http.Cookie{Name: "oauth_state", Value: "abc123"}

	t.Run("missing state cookie", func(t *testing.T) {
		rr := callback("code=x&state=abc123", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("state mismatch", func(t *testing.T) {
		rr := callback("code=x&state=other", state)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "state", decode[handler.ErrorResponse](t, rr).Field)
	})

	t.Run("user denied", func(t *testing.T) {
		rr := callback("error=access_denied&state=abc123", state)
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/?auth=denied", rr.Header().Get("Location"))
	})

	t.Run("missing code", func(t *testing.T) {
		rr := callback("state=abc123", state)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "code", decode[handler.ErrorResponse](t, rr).Field)
	})
}
