package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

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

// VoteService casts Boost and Chill votes.
type VoteService struct {
	tx        repository.Transactor
	cache     *cache.ReadThrough
	publisher events.Publisher
	metrics   *metrics.VoteMetrics
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewVoteService wires a VoteService. cache, publisher, m and clock may be
// nil.
func NewVoteService(
	tx repository.Transactor,
	rt *cache.ReadThrough,
	publisher events.Publisher,
	m *metrics.VoteMetrics,
	clock clockwork.Clock,
	logger *slog.Logger,
) *VoteService {
	if rt == nil {
		rt = cache.NewReadThrough(nil, logger)
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &VoteService{
		tx:        tx,
		cache:     rt,
		publisher: publisher,
		metrics:   m,
		clock:     clock,
		logger:    logger,
	}
}

// Cast records userID's vote on vibeID.
//
// Within one transaction:
//  1. the vibe must exist and be visible to the voter;
//  2. an existing vote of the same type is a conflict and nothing changes;
//  3. an existing vote of the other type is removed and its counter
//     decremented;
//  4. the new vote is inserted and its counter incremented;
//  5. the author's vibe score moves by the net polarity change (±1 for a
//     fresh vote, ±2 for a switch);
//  6. the voter earns VotePoints and joins the vote's faction;
//  7. the global resonance is read back, so it reflects exactly this
//     vote and the ones committed before it.
//
// After commit the feed and leaderboard caches are dropped and a VoteCast
// event carrying that resonance and the transaction's Seq is published.
func (s *VoteService) Cast(ctx context.Context, userID, vibeID string, voteType model.VoteType) (*model.VoteResult, error) {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "VoteService.Cast")
	defer span.End()
	span.SetAttributes(
		attribute.String("vibe.id", vibeID),
		attribute.String("vote.type", string(voteType)),
	)

	start := s.clock.Now()
	if !voteType.Valid() {
		s.metrics.Observe(string(voteType), metrics.VoteResultRejected, s.clock.Since(start))
		return nil, apperror.ValidationFailed("type", "vote type must be boost or chill")
	}

	var (
		result  *model.VoteResult
		private bool

		// A failed resonance read only skips the event.
		resonance    model.Resonance
		resonanceErr error
		seq          uint64
	)
	err := s.tx.WithTx(ctx, func(tx repository.Tx) error {
		vibe, err := tx.GetVibe(ctx, vibeID)
		if err != nil {
			return err
		}
		if vibe.Visibility == model.VisibilityPrivate && vibe.AuthorID != userID {
			return apperror.NotFound("vibe", vibeID)
		}
		private = vibe.Visibility == model.VisibilityPrivate

		existing, err := tx.FindVote(ctx, userID, vibeID)
		if err != nil {
			return err
		}

		var boostDelta, chillDelta, scoreDelta int64
		switched := false
		if existing != nil {
			if existing.Type == voteType {
				return apperror.Conflict(fmt.Sprintf("you already voted %s on this vibe", voteType))
			}
			if err := tx.DeleteVote(ctx, existing.ID); err != nil {
				return err
			}
			boostDelta, chillDelta = counterDelta(existing.Type, -1)
			scoreDelta -= existing.Type.Polarity()
			switched = true
		}

		if err := tx.InsertVote(ctx, &model.Vote{
			UserID:    userID,
			VibeID:    vibeID,
			Type:      voteType,
			CreatedAt: s.clock.Now().UTC(),
		}); err != nil {
			return err
		}
		b, c := counterDelta(voteType, 1)
		boostDelta += b
		chillDelta += c
		scoreDelta += voteType.Polarity()

		updated, err := tx.AdjustVibeCounts(ctx, vibeID, boostDelta, chillDelta)
		if err != nil {
			return err
		}
		if err := tx.AdjustVibeScore(ctx, vibe.AuthorID, scoreDelta); err != nil {
			return err
		}
		if _, err := tx.AddPoints(ctx, userID, VotePoints); err != nil {
			return err
		}
		voter, err := tx.SetFaction(ctx, userID, voteType.Faction())
		if err != nil {
			return err
		}

		result = &model.VoteResult{
			VibeID:     vibeID,
			Type:       voteType,
			BoostCount: updated.BoostCount,
			ChillCount: updated.ChillCount,
			Switched:   switched,
			Points:     voter.Points,
			Faction:    voter.Faction,
		}
		seq = tx.Seq()
		resonance, resonanceErr = tx.Resonance(ctx)
		return nil
	})
	if err != nil {
		s.metrics.Observe(string(voteType), voteFailureResult(err), s.clock.Since(start))
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "vote failed")
		return nil, fmt.Errorf("service/vote: casting %s on %s: %w", voteType, vibeID, err)
	}

	outcome := metrics.VoteResultNew
	if result.Switched {
		outcome = metrics.VoteResultSwitched
	}
	s.metrics.Observe(string(voteType), outcome, s.clock.Since(start))
	span.SetAttributes(attribute.Bool("vote.switched", result.Switched))

	s.logger.Info("vote cast",
		slog.String("vibeID", vibeID),
		slog.String("userID", userID),
		slog.String("type", string(voteType)),
		slog.Bool("switched", result.Switched),
	)

	prefixes := []string{cache.PrefixLeaderboard}
	if !private {
		prefixes = append(prefixes, cache.PrefixFeed)
	}
	s.cache.Invalidate(ctx, prefixes...)

	if resonanceErr != nil {
		s.logger.Warn("resonance unavailable after vote",
			slog.String("vibeID", vibeID),
			slog.String("error", resonanceErr.Error()),
		)
		return result, nil
	}
	if err := s.publisher.PublishVoteCast(ctx, events.VoteCast{
		VibeID:     result.VibeID,
		UserID:     userID,
		Type:       result.Type,
		Switched:   result.Switched,
		BoostCount: result.BoostCount,
		ChillCount: result.ChillCount,
		Resonance:  resonance,
		Seq:        seq,
		CastAt:     s.clock.Now().UTC(),
	}); err != nil {
		logPublishError(s.logger, events.SubjectVoteCast, err)
	}
	return result, nil
}

// counterDelta returns the (boost, chill) change for adding n votes of t.
func counterDelta(t model.VoteType, n int64) (int64, int64) {
	if t == model.VoteBoost {
		return n, 0
	}
	return 0, n
}

func voteFailureResult(err error) string {
	switch {
	case errors.Is(err, apperror.ErrConflict):
		return metrics.VoteResultDuplicate
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrValidation):
		return metrics.VoteResultRejected
	}
	return metrics.VoteResultError
}
