package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, username, handle, avatar, bio, points, vibe_score,
	faction, password_hash, github_id, created_at, updated_at`

// rowScanner is the common subset of *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u        model.User
		email    sql.NullString
		githubID sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&email,
		&u.Username,
		&u.Handle,
		&u.Avatar,
		&u.Bio,
		&u.Points,
		&u.VibeScore,
		&u.Faction,
		&u.PasswordHash,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	if githubID.Valid {
		id := githubID.Int64
		u.GitHubID = &id
	}
	return &u, nil
}

func getUser(ctx context.Context, q querier, where string, arg any, label string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", label, err)
	}
	return u, nil
}

// CreateUser inserts a new account. It sets ID and timestamps on user.
// A taken email or handle returns apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = db.now()
	}
	user.UpdatedAt = user.CreatedAt
	if user.Faction == "" {
		user.Faction = model.FactionNeutral
	}

	var githubID sql.NullInt64
	if user.GitHubID != nil {
		githubID = sql.NullInt64{Int64: *user.GitHubID, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, username, handle, avatar, bio, points, vibe_score,
		                    faction, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullString(user.Email),
		user.Username,
		user.Handle,
		user.Avatar,
		user.Bio,
		user.Points,
		user.VibeScore,
		user.Faction,
		user.PasswordHash,
		githubID,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users.email"):
			return apperror.Conflict("an account with this email already exists")
		case isUniqueViolation(err, "users.handle"):
			return apperror.Conflict(fmt.Sprintf("handle %s is taken", user.Handle))
		case isUniqueViolation(err, "users.github_id"):
			return apperror.Conflict("this GitHub account is already linked")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Handle, err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, db.conn, "id = ?", id, id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return getUser(ctx, db.conn, "email = ?", email, email)
}

func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return getUser(ctx, db.conn, "github_id = ?", githubID, fmt.Sprintf("github:%d", githubID))
}

func (db *DB) HandleExists(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE handle = ? COLLATE NOCASE)`, handle,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking handle %s: %w", handle, err)
	}
	return exists, nil
}

// UpdateProfile changes the editable profile fields and returns the updated user.
func (db *DB) UpdateProfile(ctx context.Context, id, username, bio string) (*model.User, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, bio = ?, updated_at = ? WHERE id = ?`,
		username, bio, db.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating profile %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	} else if n == 0 {
		return nil, apperror.NotFound("user", id)
	}
	return db.GetUserByID(ctx, id)
}

// UpdateAvatar refreshes the avatar, used when a GitHub user logs in again.
func (db *DB) UpdateAvatar(ctx context.Context, id, avatar string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET avatar = ?, updated_at = ? WHERE id = ?`,
		avatar, db.now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating avatar %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	} else if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// TopUsers returns up to limit users ordered by vibe score, then points,
// then account age.
func (db *DB) TopUsers(ctx context.Context, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 ORDER BY vibe_score DESC, points DESC, created_at ASC, id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing top users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}
