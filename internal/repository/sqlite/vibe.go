package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
)

var _ repository.VibeRepository = (*DB)(nil)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

const vibeColumns = `id, title, content, image, visibility, boost_count, chill_count, author_id, created_at`

// vibeViewSelect joins each vibe with its author's display fields.
const vibeViewSelect = `
	SELECT v.id, v.title, v.content, v.image, v.author_id, u.handle, u.avatar,
	       v.boost_count, v.chill_count, v.created_at, v.visibility
	FROM vibes v
	JOIN users u ON u.id = v.author_id`

func scanVibe(row rowScanner) (*model.Vibe, error) {
	var v model.Vibe
	if err := row.Scan(
		&v.ID, &v.Title, &v.Content, &v.Image, &v.Visibility,
		&v.BoostCount, &v.ChillCount, &v.AuthorID, &v.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanVibeView(row rowScanner) (*model.VibeView, error) {
	var (
		v         model.VibeView
		createdAt time.Time
	)
	if err := row.Scan(
		&v.ID, &v.Title, &v.Content, &v.Image, &v.AuthorID, &v.Author, &v.Avatar,
		&v.BoostCount, &v.ChillCount, &createdAt, &v.Visibility,
	); err != nil {
		return nil, err
	}
	v.Timestamp = createdAt.UnixMilli()
	return &v, nil
}

func getVibe(ctx context.Context, q querier, id string) (*model.Vibe, error) {
	v, err := scanVibe(q.QueryRowContext(ctx,
		`SELECT `+vibeColumns+` FROM vibes WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("vibe", id)
		}
		return nil, fmt.Errorf("sqlite: getting vibe %s: %w", id, err)
	}
	return v, nil
}

func (db *DB) GetVibe(ctx context.Context, id string) (*model.Vibe, error) {
	return getVibe(ctx, db.conn, id)
}

func (db *DB) GetVibeView(ctx context.Context, id string) (*model.VibeView, error) {
	v, err := scanVibeView(db.conn.QueryRowContext(ctx, vibeViewSelect+` WHERE v.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("vibe", id)
		}
		return nil, fmt.Errorf("sqlite: getting vibe view %s: %w", id, err)
	}
	return v, nil
}

// ListPublic returns one page of public vibes. "latest" orders by creation
// time, "trending" by boost count with creation time breaking ties.
func (db *DB) ListPublic(ctx context.Context, opts repository.FeedOptions) ([]model.VibeView, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	order := `v.created_at DESC, v.id DESC`
	if opts.Filter == model.FeedTrending {
		order = `v.boost_count DESC, v.created_at DESC, v.id DESC`
	}

	rows, err := db.conn.QueryContext(ctx,
		vibeViewSelect+`
		 WHERE v.visibility = 'public'
		 ORDER BY `+order+`
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing public vibes: %w", err)
	}
	return collectViews(rows, limit)
}

// ListByAuthor returns an author's vibes, newest first. Private vibes are
// included only when includePrivate is set.
func (db *DB) ListByAuthor(ctx context.Context, authorID string, includePrivate bool) ([]model.VibeView, error) {
	query := vibeViewSelect + ` WHERE v.author_id = ?`
	if !includePrivate {
		query += ` AND v.visibility = 'public'`
	}
	query += ` ORDER BY v.created_at DESC, v.id DESC`

	rows, err := db.conn.QueryContext(ctx, query, authorID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing vibes by %s: %w", authorID, err)
	}
	return collectViews(rows, 0)
}

func collectViews(rows *sql.Rows, capacity int) ([]model.VibeView, error) {
	defer rows.Close()

	views := make([]model.VibeView, 0, capacity)
	for rows.Next() {
		v, err := scanVibeView(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning vibe row: %w", err)
		}
		views = append(views, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating vibes: %w", err)
	}
	return views, nil
}

// VotesByUser returns the viewer's vote on each of the given vibes. Vibes the
// user has not voted on are absent from the map.
func (db *DB) VotesByUser(ctx context.Context, userID string, vibeIDs []string) (map[string]model.VoteType, error) {
	votes := make(map[string]model.VoteType, len(vibeIDs))
	if len(vibeIDs) == 0 {
		return votes, nil
	}

	args := make([]any, 0, len(vibeIDs)+1)
	args = append(args, userID)
	for _, id := range vibeIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vibeIDs)), ",")

	rows, err := db.conn.QueryContext(ctx,
		`SELECT vibe_id, type FROM votes WHERE user_id = ? AND vibe_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing votes of %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			vibeID string
			t      model.VoteType
		)
		if err := rows.Scan(&vibeID, &t); err != nil {
			return nil, fmt.Errorf("sqlite: scanning vote row: %w", err)
		}
		votes[vibeID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating votes: %w", err)
	}
	return votes, nil
}

// Resonance sums the counters of every public vibe.
func (db *DB) Resonance(ctx context.Context) (model.Resonance, error) {
	return resonance(ctx, db.conn)
}

func resonance(ctx context.Context, q querier) (model.Resonance, error) {
	var boost, chill int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(boost_count), 0), COALESCE(SUM(chill_count), 0)
		 FROM vibes WHERE visibility = 'public'`,
	).Scan(&boost, &chill)
	if err != nil {
		return model.Resonance{}, fmt.Errorf("sqlite: computing resonance: %w", err)
	}
	return model.NewResonance(boost, chill), nil
}
