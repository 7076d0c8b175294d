package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/vibehub/internal/apperror"
	"github.com/sakif/vibehub/internal/cache"
	"github.com/sakif/vibehub/internal/events"
	"github.com/sakif/vibehub/internal/metrics"
	"github.com/sakif/vibehub/internal/model"
	"github.com/sakif/vibehub/internal/repository"
	"github.com/sakif/vibehub/internal/telemetry"
)

const tracerName = "github.com/sakif/vibehub/internal/service"

// VibeService creates, lists and deletes vibes.
type VibeService struct {
	tx        repository.Transactor
	vibes     repository.VibeRepository
	cache     *cache.ReadThrough
	publisher events.Publisher
	metrics   *metrics.VibeMetrics
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewVibeService wires a VibeService. cache, publisher, m and clock may be
// nil.
func NewVibeService(
	tx repository.Transactor,
	vibes repository.VibeRepository,
	rt *cache.ReadThrough,
	publisher events.Publisher,
	m *metrics.VibeMetrics,
	clock clockwork.Clock,
	logger *slog.Logger,
) *VibeService {
	if rt == nil {
		rt = cache.NewReadThrough(nil, logger)
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VibeService{
		tx:        tx,
		vibes:     vibes,
		cache:     rt,
		publisher: publisher,
		metrics:   m,
		clock:     clock,
		logger:    logger,
	}
}

type CreateVibeInput struct {
	Title      string
	Content    string
	Image      string
	Visibility model.Visibility // empty means public
}

// FeedQuery selects one page of the public feed. Zero values pick the
// defaults: latest first, DefaultFeedLimit items.
type FeedQuery struct {
	Filter model.FeedFilter
	Limit  int
	Offset int
}

// Create validates and stores a new vibe and credits the author
// CreateVibePoints in the same transaction.
func (s *VibeService) Create(ctx context.Context, authorID string, in CreateVibeInput) (*model.VibeView, error) {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "VibeService.Create")
	defer span.End()

	vibe, err := newVibe(authorID, in)
	if err != nil {
		return nil, err
	}
	vibe.CreatedAt = s.clock.Now().UTC()

	err = s.tx.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertVibe(ctx, vibe); err != nil {
			return err
		}
		_, err := tx.AddPoints(ctx, authorID, CreateVibePoints)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, fmt.Errorf("service/vibe: creating vibe: %w", err)
	}
	span.SetAttributes(
		attribute.String("vibe.id", vibe.ID),
		attribute.String("vibe.visibility", string(vibe.Visibility)),
	)

	s.metrics.ObserveCreated(string(vibe.Visibility))
	s.logger.Info("vibe created",
		slog.String("vibeID", vibe.ID),
		slog.String("authorID", authorID),
		slog.String("visibility", string(vibe.Visibility)),
	)

	// Author points feed the leaderboard tie-break.
	prefixes := []string{cache.PrefixLeaderboard}
	if vibe.Visibility == model.VisibilityPublic {
		prefixes = append(prefixes, cache.PrefixFeed)
	}
	s.cache.Invalidate(ctx, prefixes...)

	if err := s.publisher.PublishVibeCreated(ctx, events.VibeCreated{
		VibeID:     vibe.ID,
		AuthorID:   authorID,
		Title:      vibe.Title,
		Visibility: vibe.Visibility,
		CreatedAt:  vibe.CreatedAt,
	}); err != nil {
		logPublishError(s.logger, events.SubjectVibeCreated, err)
	}

	view, err := s.vibes.GetVibeView(ctx, vibe.ID)
	if err != nil {
		return nil, fmt.Errorf("service/vibe: reading created vibe %s: %w", vibe.ID, err)
	}
	return view, nil
}

func newVibe(authorID string, in CreateVibeInput) (*model.Vibe, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "title is required")
	}
	if err := checkLength("title", title, MaxTitleLength); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if err := checkLength("content", content, MaxContentLength); err != nil {
		return nil, err
	}
	image := strings.TrimSpace(in.Image)
	if err := validateImage(image); err != nil {
		return nil, err
	}
	visibility := in.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, apperror.ValidationFailed("visibility", "visibility must be public or private")
	}

	return &model.Vibe{
		Title:      title,
		Content:    content,
		Image:      image,
		Visibility: visibility,
		AuthorID:   authorID,
	}, nil
}

// Feed returns one page of public vibes. The raw page is served through the
// cache; the viewer's own votes are overlaid afterwards so cached pages stay
// viewer-independent.
func (s *VibeService) Feed(ctx context.Context, q FeedQuery, viewerID string) ([]model.VibeView, error) {
	filter := q.Filter
	if filter == "" {
		filter = model.FeedLatest
	}
	if !filter.Valid() {
		return nil, apperror.ValidationFailed("filter", "filter must be latest or trending")
	}
	limit, offset := clampPage(q.Limit, q.Offset)

	views, err := cache.Load(ctx, s.cache, cache.FeedKey(string(filter), limit, offset),
		func(ctx context.Context) ([]model.VibeView, error) {
			return s.vibes.ListPublic(ctx, repository.FeedOptions{
				Filter:      filter,
				ListOptions: repository.ListOptions{Limit: limit, Offset: offset},
			})
		})
	if err != nil {
		return nil, fmt.Errorf("service/vibe: loading %s feed: %w", filter, err)
	}
	return s.withVotes(ctx, views, viewerID)
}

// Get returns one vibe. A private vibe is reported as not found to everyone
// but its author.
func (s *VibeService) Get(ctx context.Context, id, viewerID string) (*model.VibeView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "vibe ID is required")
	}

	view, err := s.vibes.GetVibeView(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/vibe: fetching vibe %s: %w", id, err)
	}
	if view.Visibility == model.VisibilityPrivate && view.AuthorID != viewerID {
		return nil, apperror.NotFound("vibe", id)
	}

	views, err := s.withVotes(ctx, []model.VibeView{*view}, viewerID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Mine lists every vibe the user wrote, private ones included, newest first.
func (s *VibeService) Mine(ctx context.Context, userID string) ([]model.VibeView, error) {
	views, err := s.vibes.ListByAuthor(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("service/vibe: listing vibes of %s: %w", userID, err)
	}
	return s.withVotes(ctx, views, userID)
}

// Delete removes a vibe and its votes. Only the author may delete; the
// vibe's net score is taken back off the author's vibe score in the same
// transaction.
func (s *VibeService) Delete(ctx context.Context, id, userID string) error {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "VibeService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("vibe.id", id))

	var (
		deleted      *model.Vibe
		resonance    model.Resonance
		resonanceErr error
		seq          uint64
	)
	err := s.tx.WithTx(ctx, func(tx repository.Tx) error {
		vibe, err := tx.GetVibe(ctx, id)
		if err != nil {
			return err
		}
		if vibe.AuthorID != userID {
			if vibe.Visibility == model.VisibilityPrivate {
				return apperror.NotFound("vibe", id)
			}
			return apperror.Forbidden("only the author can delete this vibe")
		}
		if net := vibe.NetScore(); net != 0 {
			if err := tx.AdjustVibeScore(ctx, vibe.AuthorID, -net); err != nil {
				return err
			}
		}
		if err := tx.DeleteVibe(ctx, id); err != nil {
			return err
		}
		deleted = vibe
		seq = tx.Seq()
		resonance, resonanceErr = tx.Resonance(ctx)
		return nil
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("service/vibe: deleting vibe %s: %w", id, err)
	}

	s.metrics.ObserveDeleted()
	s.logger.Info("vibe deleted",
		slog.String("vibeID", id),
		slog.String("authorID", userID),
	)
	s.cache.Invalidate(ctx, cache.PrefixFeed, cache.PrefixLeaderboard)

	// Only a public vibe moves the global balance.
	if deleted.Visibility == model.VisibilityPublic {
		if resonanceErr != nil {
			s.logger.Warn("resonance unavailable after delete",
				slog.String("vibeID", id),
				slog.String("error", resonanceErr.Error()),
			)
			return nil
		}
		if err := s.publisher.PublishVibeDeleted(ctx, events.VibeDeleted{
			VibeID:    id,
			AuthorID:  userID,
			Resonance: resonance,
			Seq:       seq,
			DeletedAt: s.clock.Now().UTC(),
		}); err != nil {
			logPublishError(s.logger, events.SubjectVibeDeleted, err)
		}
	}
	return nil
}

// withVotes returns a copy of views with MyVote set from the viewer's votes.
// Anonymous viewers get views back unchanged.
func (s *VibeService) withVotes(ctx context.Context, views []model.VibeView, viewerID string) ([]model.VibeView, error) {
	if viewerID == "" || len(views) == 0 {
		return views, nil
	}

	ids := make([]string, len(views))
	for i := range views {
		ids[i] = views[i].ID
	}
	votes, err := s.vibes.VotesByUser(ctx, viewerID, ids)
	if err != nil {
		return nil, fmt.Errorf("service/vibe: loading votes of %s: %w", viewerID, err)
	}

	out := slices.Clone(views)
	for i := range out {
		out[i].MyVote = votes[out[i].ID]
	}
	return out, nil
}

func logPublishError(logger *slog.Logger, subject string, err error) {
	logger.Warn("event publish failed",
		slog.String("subject", subject),
		slog.String("error", err.Error()),
	)
}
