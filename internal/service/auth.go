package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/jonboulle/clockwork"
	"github.com/rs/xid"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/auth"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

// maxHandleAttempts bounds the numbered suffixes tried before falling back
// to a random one.
const maxHandleAttempts = 20

var errBadCredentials = apperror.Unauthorized("invalid email or password")

// AuthService handles account creation and sign-in for both password and
// GitHub accounts.
//
// TWO KINDS OF ACCOUNT:
// A password account always has an email and a bcrypt hash. A GitHub account
// has a GitHub ID, an empty hash, and an email only when GitHub shared one
// that no other account uses. Both end in the same place: issue() signs a
// JWT for the user ID, and the handler stores it in the session cookie.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - clock      clockwork.Clock            → account timestamps
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewAuthService wires an AuthService. A nil clock means the real clock.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	clock clockwork.Clock,
	logger *slog.Logger,
) *AuthService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		clock:     clock,
		logger:    logger,
	}
}

// AuthResult bundles the user and the issued JWT so the handler can set the
// session cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

type SignupInput struct {
	Email    string
	Password string
	Username string // optional; defaults to the local part of Email
}

// Signup creates a password account and signs it in.
//
// The email is trimmed and lowercased. The handle is "@" + username, with a
// numeric suffix when that is already taken. New accounts start neutral with
// StartingPoints. A taken email returns apperror.ErrConflict.
//
// FLOW:
//  1. Validate email, password and username (cheap checks first)
//  2. Hash the password with bcrypt
//  3. Pick a free handle
//  4. Insert the user; the UNIQUE email index settles a race between two
//     signups with the same address
//  5. Issue a JWT
//
// Hashing runs before the handle lookup so a validation error never costs a
// bcrypt round, and a slow hash never holds a database connection.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	// --- Step 1: validate ---
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return nil, apperror.ValidationFailed("email", "email must be a valid address")
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email[:at]
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	// --- Step 2: hash ---
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	// --- Step 3: handle ---
	// HandleExists and CreateUser are separate statements, so a concurrent
	// signup can still take the handle; CreateUser then returns a conflict.
	handle, err := s.uniqueHandle(ctx, username)
	if err != nil {
		return nil, err
	}

	// --- Step 4: insert ---
	user := &model.User{
		Email:        email,
		Username:     username,
		Handle:       handle,
		Avatar:       defaultAvatar(email),
		Bio:          DefaultBio,
		Points:       StartingPoints,
		Faction:      model.FactionNeutral,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user %s: %w", handle, err)
	}

	s.logger.Info("user signed up",
		slog.String("userID", user.ID),
		slog.String("handle", user.Handle),
	)
	return s.issue(user)
}

// Login checks email and password.
//
// ACCOUNT ENUMERATION:
// An unknown email, a GitHub-only account and a wrong password all return
// the same errBadCredentials, with the same message. The response never
// tells a caller which emails are registered.
//
// Only infrastructure errors (database down, corrupt hash) are wrapped and
// surface as 500s.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errBadCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}
	// GitHub-only accounts have no password.
	if user.PasswordHash == "" {
		return nil, errBadCredentials
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// LoginOrRegisterGitHub handles the GitHub OAuth callback.
//
// First login creates the account: username and handle come from the GitHub
// login, the avatar from GitHub (or a generated one). Later logins find the
// account by GitHub ID and refresh the avatar. If the GitHub email already
// belongs to a password account, the new account is created without an
// email instead of failing.
//
// LOOKUP KEY:
// Accounts are matched on the numeric GitHub ID, never on login or email.
// A GitHub user can rename themselves or change their email; the ID stays.
//
// Accounts are never merged. Linking a GitHub identity to an existing
// password account would need the user to prove they own both.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	// --- Returning user ---

	existing, err := s.users.GetUserByGitHubID(ctx, ghUser.ID)
	switch {
	case err == nil:
		if ghUser.AvatarURL != "" && ghUser.AvatarURL != existing.Avatar {
			if err := s.users.UpdateAvatar(ctx, existing.ID, ghUser.AvatarURL); err != nil {
				return nil, fmt.Errorf("service/auth: refreshing avatar of %s: %w", existing.ID, err)
			}
			existing.Avatar = ghUser.AvatarURL
		}
		s.logger.Info("user authenticated via GitHub",
			slog.String("userID", existing.ID),
			slog.String("login", ghUser.Login),
		)
		return s.issue(existing)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up GitHub user %d: %w", ghUser.ID, err)
	}

	// --- First login: build a new account ---
	username := truncateRunes(strings.TrimSpace(ghUser.Login), MaxUsernameLength)
	if username == "" {
		return nil, apperror.ValidationFailed("login", "GitHub login is empty")
	}

	// An email already used by another account is dropped, not shared.
	email := normalizeEmail(ghUser.Email)
	if email != "" {
		if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
			email = ""
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
		}
	}

	avatar := ghUser.AvatarURL
	if avatar == "" {
		avatar = defaultAvatar(ghUser.Login)
	}

	handle, err := s.uniqueHandle(ctx, username)
	if err != nil {
		return nil, err
	}

	githubID := ghUser.ID
	user := &model.User{
		Email:     email,
		Username:  username,
		Handle:    handle,
		Avatar:    avatar,
		Bio:       DefaultBio,
		Points:    StartingPoints,
		Faction:   model.FactionNeutral,
		GitHubID:  &githubID,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating GitHub user %d: %w", ghUser.ID, err)
	}

	s.logger.Info("user registered via GitHub",
		slog.String("userID", user.ID),
		slog.String("login", ghUser.Login),
	)
	return s.issue(user)
}

// Me returns the signed-in user. An empty userID means the request carried
// no valid token.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("valid authentication required")
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user, nil
}

// issue signs a JWT for user. The token carries only the user ID; the
// profile is always re-read from the database.
func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// uniqueHandle returns "@base", or "@base2", "@base3"... for the first one
// not taken. Comparison is case-insensitive.
func (s *AuthService) uniqueHandle(ctx context.Context, username string) (string, error) {
	base := "@" + handleBase(username)

	for i := 1; i <= maxHandleAttempts; i++ {
		candidate := base
		if i > 1 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := s.users.HandleExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("service/auth: checking handle %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	// Every numbered handle is taken. The tail of an xid is random enough
	// that a second collision is not retried.
	id := xid.New().String()
	return base + id[len(id)-6:], nil
}

// handleBase keeps letters, digits, '_', '-' and '.' and turns whitespace
// into '_'.
func handleBase(username string) string {
	var b strings.Builder
	for _, r := range username {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	base := truncateRunes(b.String(), MaxUsernameLength)
	if base == "" {
		return "viber"
	}
	return base
}

// validatePassword enforces the length window. The upper bound is bcrypt's
// 72-byte input limit, counted in bytes rather than runes.
func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or less", auth.MaxPasswordBytes))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// truncateRunes cuts s to at most max runes without splitting a UTF-8
// sequence.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
