package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

var _ repository.Tx = (*Tx)(nil)

// Tx implements repository.Tx on top of a *sql.Tx. It is only ever created
// by DB.WithTx.
type Tx struct {
	q   querier
	now func() time.Time
	seq uint64
}

func (t *Tx) Seq() uint64 { return t.seq }

func (t *Tx) Resonance(ctx context.Context) (model.Resonance, error) {
	return resonance(ctx, t.q)
}

func (t *Tx) GetVibe(ctx context.Context, id string) (*model.Vibe, error) {
	return getVibe(ctx, t.q, id)
}

// InsertVibe sets ID (and CreatedAt when zero) on vibe.
func (t *Tx) InsertVibe(ctx context.Context, vibe *model.Vibe) error {
	vibe.ID = xid.New().String()
	if vibe.CreatedAt.IsZero() {
		vibe.CreatedAt = t.now()
	}

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO vibes (id, title, content, image, visibility, boost_count, chill_count, author_id, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		vibe.ID,
		vibe.Title,
		vibe.Content,
		vibe.Image,
		vibe.Visibility,
		vibe.AuthorID,
		vibe.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting vibe: %w", err)
	}
	return nil
}

// DeleteVibe removes the vibe; its votes go with it through ON DELETE CASCADE.
func (t *Tx) DeleteVibe(ctx context.Context, id string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM vibes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting vibe %s: %w", id, err)
	}
	return requireRow(result, "vibe", id)
}

func (t *Tx) FindVote(ctx context.Context, userID, vibeID string) (*model.Vote, error) {
	var v model.Vote
	err := t.q.QueryRowContext(ctx,
		`SELECT id, user_id, vibe_id, type, created_at
		 FROM votes WHERE user_id = ? AND vibe_id = ?`,
		userID, vibeID,
	).Scan(&v.ID, &v.UserID, &v.VibeID, &v.Type, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding vote %s/%s: %w", userID, vibeID, err)
	}
	return &v, nil
}

// InsertVote sets ID (and CreatedAt when zero). A second vote by the same
// user on the same vibe violates the UNIQUE(user_id, vibe_id) constraint and
// returns apperror.ErrConflict.
func (t *Tx) InsertVote(ctx context.Context, vote *model.Vote) error {
	vote.ID = xid.New().String()
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = t.now()
	}

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO votes (id, user_id, vibe_id, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		vote.ID, vote.UserID, vote.VibeID, vote.Type, vote.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "votes.") {
			return apperror.Conflict("you have already voted on this vibe")
		}
		return fmt.Errorf("sqlite: inserting vote: %w", err)
	}
	return nil
}

func (t *Tx) DeleteVote(ctx context.Context, id string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting vote %s: %w", id, err)
	}
	return requireRow(result, "vote", id)
}

func (t *Tx) AdjustVibeCounts(ctx context.Context, vibeID string, boostDelta, chillDelta int64) (*model.Vibe, error) {
	result, err := t.q.ExecContext(ctx,
		`UPDATE vibes SET boost_count = boost_count + ?, chill_count = chill_count + ? WHERE id = ?`,
		boostDelta, chillDelta, vibeID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: adjusting counts of vibe %s: %w", vibeID, err)
	}
	if err := requireRow(result, "vibe", vibeID); err != nil {
		return nil, err
	}
	return getVibe(ctx, t.q, vibeID)
}

func (t *Tx) AdjustVibeScore(ctx context.Context, userID string, delta int64) error {
	result, err := t.q.ExecContext(ctx,
		`UPDATE users SET vibe_score = vibe_score + ?, updated_at = ? WHERE id = ?`,
		delta, t.now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adjusting vibe score of %s: %w", userID, err)
	}
	return requireRow(result, "user", userID)
}

func (t *Tx) AddPoints(ctx context.Context, userID string, points int64) (*model.User, error) {
	result, err := t.q.ExecContext(ctx,
		`UPDATE users SET points = points + ?, updated_at = ? WHERE id = ?`,
		points, t.now(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: adding points to %s: %w", userID, err)
	}
	if err := requireRow(result, "user", userID); err != nil {
		return nil, err
	}
	return getUser(ctx, t.q, "id = ?", userID, userID)
}

func (t *Tx) SetFaction(ctx context.Context, userID string, faction model.Faction) (*model.User, error) {
	result, err := t.q.ExecContext(ctx,
		`UPDATE users SET faction = ?, updated_at = ? WHERE id = ?`,
		faction, t.now(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: setting faction of %s: %w", userID, err)
	}
	if err := requireRow(result, "user", userID); err != nil {
		return nil, err
	}
	return getUser(ctx, t.q, "id = ?", userID, userID)
}

func requireRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
