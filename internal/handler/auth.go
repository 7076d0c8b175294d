package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/auth"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/service"
)

const stateCookieName = "oauth_state"

// AuthHandler serves signup, login, logout, the current user and the GitHub
// OAuth flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup / HandleLogin → decode credentials, start a session
//   - HandleLogout               → clear the session cookie
//   - HandleMe / HandleUpdateMe  → read and edit the signed-in profile
//   - HandleGitHubLogin          → redirect to GitHub with a CSRF state
//   - HandleGitHubCallback       → verify state, exchange code, start session
//
// The handler only translates HTTP. Every account rule lives in
// service.AuthService; errors go through writeError, which maps apperror
// kinds to status codes.
//
// DEPENDENCY CHAIN:
//   - auth   *service.AuthService     → account rules, token issuing
//   - users  *service.UserService     → profile edits for PUT /api/me
//   - github *auth.GitHubProvider     → OAuth code exchange (nil when disabled)
//   - tokens *auth.TokenService       → cookie lifetime
type AuthHandler struct {
	auth         *service.AuthService
	users        *service.UserService
	github       *auth.GitHubProvider
	tokens       *auth.TokenService
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil; the GitHub routes
// are then not mounted.
func NewAuthHandler(
	authService *service.AuthService,
	users *service.UserService,
	github *auth.GitHubProvider,
	tokens *auth.TokenService,
	cookieSecure bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:         authService,
		users:        users,
		github:       github,
		tokens:       tokens,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// credentialsRequest is shared by signup and login. Login ignores Username.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// sessionResponse is returned by signup and login. The token is also set as
// the session cookie; API clients may send it as a Bearer token instead.
type sessionResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// HandleSignup creates a password account and starts a session.
//
// HTTP: POST /auth/signup
// REQUEST BODY: {"email": "...", "password": "...", "username": "optional"}
//
// RESPONSES:
//   - 201 with {user, token} and the session cookie set
//   - 400 for a malformed body or a field that fails validation
//   - 409 when the email is already registered
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.auth.Signup(r.Context(), service.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	auth.SetSessionCookie(w, h.tokens, result.Token, h.cookieSecure)
	writeJSON(w, http.StatusCreated, sessionResponse{User: result.User, Token: result.Token})
}

// HandleLogin checks email and password and starts a session.
//
// HTTP: POST /auth/login
//
// Any credential failure is a 401 with one fixed message, whether the email
// exists or not. The body is decoded with the same size limit as signup.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	auth.SetSessionCookie(w, h.tokens, result.Token, h.cookieSecure)
	writeJSON(w, http.StatusOK, sessionResponse{User: result.User, Token: result.Token})
}

// HandleLogout clears the session cookie. Tokens are stateless, so one that
// was copied elsewhere stays valid until it expires.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookieSecure)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in user.
//
// HTTP: GET /api/me
// Auth: Required
//
// RequireAuth has already validated the token. A token for a deleted user
// still gets here and ends as a 404.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.auth.Me(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateProfileRequest struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

// HandleUpdateMe edits the signed-in user's username and bio.
//
// HTTP: PUT /api/me
// Auth: Required
// REQUEST BODY: {"username": "...", "bio": "..."}
//
// The handle is not editable; it stays what signup assigned.
func (h *AuthHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("valid authentication required"))
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), userID, service.UpdateProfileInput{
		Username: req.Username,
		Bio:      req.Bio,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL; the callback rejects any request where the two differ.
// A third-party page can start the flow but cannot read or set the cookie,
// so it cannot complete a login into its own GitHub account.
//
// The state cookie is:
//   - HttpOnly: scripts cannot read it
//   - SameSite=Lax: still sent on GitHub's top-level redirect back
//   - 10 minutes: long enough to approve the app on GitHub
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter against the cookie
//  2. Exchange the code for a GitHub profile
//  3. Find or create the account
//  4. Set the session cookie and redirect to the app
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// --- Step 1: validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || query.Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		writeError(w, r, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// GitHub sends ?error=access_denied when the user declines.
	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, r, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	// --- Step 2: exchange the code ---
	// The upstream error is logged but not returned; it can carry GitHub's
	// response body.
	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeError(w, r, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	// --- Step 3: find or create the account ---
	result, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// --- Step 4: session cookie and back to the app ---
	auth.SetSessionCookie(w, h.tokens, result.Token, h.cookieSecure)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
