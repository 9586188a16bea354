package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classpulse/internal/cache"
	"classpulse/internal/model"
	"classpulse/internal/repository"
)

const (
	awardMaxAttempts = 4
	awardBaseBackoff = 50 * time.Millisecond
)

// ScoringService is the point-award transactor. Awards are keyed by the
// triggering event's id, so at-least-once delivery applies each event's
// points exactly once: the member-score step and the lifetime step each
// claim their own marker and can be retried independently without
// double counting. Failures are background errors; one member's failed
// award never blocks awards for other members.
type ScoringService struct {
	memberRepo  repository.MemberRepo
	userRepo    repository.UserRepo
	sessionRepo repository.SessionRepo
	leaderboard cache.LeaderboardCache
	clock       clockwork.Clock
	broadcaster Broadcaster
}

// NewScoringService creates a new scoring service
func NewScoringService(
	memberRepo repository.MemberRepo,
	userRepo repository.UserRepo,
	sessionRepo repository.SessionRepo,
	leaderboard cache.LeaderboardCache,
	clock clockwork.Clock,
) *ScoringService {
	return &ScoringService{
		memberRepo:  memberRepo,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		leaderboard: leaderboard,
		clock:       clock,
	}
}

// SetBroadcaster sets the broadcaster for WebSocket events
func (s *ScoringService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// requireHost verifies that hostID owns the session.
func (s *ScoringService) requireHost(ctx context.Context, sessionID, hostID string) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return model.ErrNotFound
	}
	if session.HostID != hostID {
		return model.ErrNotHost
	}
	return nil
}

// Award applies a host-initiated award. Internal triggers go straight
// through OnQualifyingEvent; anything arriving with a host credential
// must own the session it is awarding into.
func (s *ScoringService) Award(ctx context.Context, hostID string, event *model.AwardEvent) error {
	if err := s.requireHost(ctx, event.SessionID, hostID); err != nil {
		return err
	}
	return s.OnQualifyingEvent(ctx, event)
}

// OnQualifyingEvent applies one award event. Events with no positive
// points are no-ops, not errors. The entry point is idempotent: the
// event trigger may deliver the same event any number of times.
func (s *ScoringService) OnQualifyingEvent(ctx context.Context, event *model.AwardEvent) error {
	if event.Points <= 0 {
		return nil
	}
	if event.ID == "" || event.SessionID == "" || event.UserID == "" {
		return fmt.Errorf("award event missing id, session or user")
	}

	now := s.clock.Now()

	applied, err := s.withRetry(ctx, "apply award", event, func() (bool, error) {
		return s.memberRepo.ApplyAward(ctx, event, now)
	})
	if err != nil {
		return err
	}

	// The lifetime step always runs, even on a replay whose score step
	// was a no-op: a crash between the two steps must not strand the
	// aggregate. Its own marker makes the repeat harmless.
	if _, err := s.withRetry(ctx, "apply lifetime delta", event, func() (bool, error) {
		return s.userRepo.ApplyLifetimeDelta(ctx, event.ID, event.UserID, event.Points, now)
	}); err != nil {
		return err
	}

	if !applied {
		log.Debug().Str("event", event.ID).Msg("award replay ignored")
		return nil
	}

	member, err := s.memberRepo.Get(ctx, event.SessionID, event.UserID)
	if err != nil || member == nil {
		log.Warn().Err(err).Str("event", event.ID).Msg("award applied but member read failed")
		return nil
	}
	if err := s.leaderboard.UpdateScore(ctx, event.SessionID, event.UserID, member.Score); err != nil {
		log.Warn().Err(err).Str("session", event.SessionID).Msg("leaderboard update failed")
	}

	if s.broadcaster != nil {
		entries, _ := s.leaderboard.GetTop(ctx, event.SessionID, 20)
		s.broadcaster.BroadcastToHost(event.SessionID, "leaderboard_update", map[string]interface{}{
			"leaderboard": entries,
		})
		rank, err := s.leaderboard.GetRank(ctx, event.SessionID, event.UserID)
		if err != nil {
			log.Warn().Err(err).Str("session", event.SessionID).Msg("rank lookup failed")
		}
		s.broadcaster.BroadcastToParticipant(event.SessionID, event.UserID, "points_awarded", map[string]interface{}{
			"points": event.Points,
			"score":  member.Score,
			"rank":   rank,
			"reason": event.Reason,
		})
	}
	return nil
}

// Leaderboard returns the session's top entries to its own host.
func (s *ScoringService) Leaderboard(ctx context.Context, sessionID, hostID string, limit int) ([]cache.LeaderboardEntry, error) {
	if err := s.requireHost(ctx, sessionID, hostID); err != nil {
		return nil, err
	}
	return s.leaderboard.GetTop(ctx, sessionID, limit)
}

// History returns the audit trail for one member to the session's host.
func (s *ScoringService) History(ctx context.Context, sessionID, hostID, userID string) ([]*model.ScoreEntry, error) {
	if err := s.requireHost(ctx, sessionID, hostID); err != nil {
		return nil, err
	}
	return s.memberRepo.History(ctx, sessionID, userID)
}

// LifetimePoints returns a user's cross-session aggregate.
func (s *ScoringService) LifetimePoints(ctx context.Context, userID string) (int, error) {
	profile, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if profile == nil {
		return 0, nil
	}
	return profile.LifetimePoints, nil
}

// ResetScores zeroes every member score in the session. This is the
// only allowed non-increment score write, and it is host-only.
// Lifetime points are untouched: they aggregate what was earned, not
// what the session currently shows.
func (s *ScoringService) ResetScores(ctx context.Context, sessionID, hostID string) error {
	if err := s.requireHost(ctx, sessionID, hostID); err != nil {
		return err
	}

	if err := s.memberRepo.ResetScores(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to reset scores: %w", err)
	}

	members, err := s.memberRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.leaderboard.UpdateScore(ctx, sessionID, m.UserID, 0); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Str("user", m.UserID).Msg("leaderboard reset failed")
		}
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToAll(sessionID, "scores_reset", nil)
	}
	return nil
}

// withRetry retries a transient-failure-prone step with exponential
// backoff. Exhaustion is logged and surfaced to the caller as a
// background error; it never panics the awarding flow.
func (s *ScoringService) withRetry(ctx context.Context, op string, event *model.AwardEvent, fn func() (bool, error)) (bool, error) {
	var err error
	for attempt := 0; attempt < awardMaxAttempts; attempt++ {
		if attempt > 0 {
			s.clock.Sleep(awardBaseBackoff << (attempt - 1))
		}
		var applied bool
		applied, err = fn()
		if err == nil {
			return applied, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn().Err(err).Str("event", event.ID).Int("attempt", attempt+1).Msgf("%s failed", op)
	}
	return false, fmt.Errorf("%s for event %s: %w", op, event.ID, err)
}
