package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classpulse/internal/cache"
	"classpulse/internal/model"
	"classpulse/internal/repository"
	"classpulse/internal/store"
)

// SessionService handles the session registry and lifecycle: creation
// with a unique join code, code resolution, participant joins, ending
// and the retention sweep.
type SessionService struct {
	sessionRepo repository.SessionRepo
	memberRepo  repository.MemberRepo
	codeCache   cache.CodeCache
	leaderboard cache.LeaderboardCache
	store       store.Store
	authSvc     *AuthService
	clock       clockwork.Clock
	retention   time.Duration
	broadcaster Broadcaster
}

// NewSessionService creates a new session service
func NewSessionService(
	sessionRepo repository.SessionRepo,
	memberRepo repository.MemberRepo,
	codeCache cache.CodeCache,
	leaderboard cache.LeaderboardCache,
	st store.Store,
	authSvc *AuthService,
	clock clockwork.Clock,
	retention time.Duration,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		memberRepo:  memberRepo,
		codeCache:   codeCache,
		leaderboard: leaderboard,
		store:       st,
		authSvc:     authSvc,
		clock:       clock,
		retention:   retention,
	}
}

// SetBroadcaster sets the broadcaster for WebSocket events
func (s *SessionService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// CreateSession creates a session with a fresh join code and seeds its
// live document.
func (s *SessionService) CreateSession(ctx context.Context, hostID string) (*model.Session, error) {
	sessionID := "s_" + uuid.New().String()[:8]

	code, err := s.generateJoinCode(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate join code: %w", err)
	}

	now := s.clock.Now()
	session := &model.Session{
		ID:        sessionID,
		JoinCode:  code,
		HostID:    hostID,
		Status:    model.SessionActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}

	live := &model.LiveSession{
		SessionID: sessionID,
		JoinCode:  code,
		HostID:    hostID,
		Status:    model.SessionActive,
	}
	data, err := json.Marshal(live)
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		if rerr := s.codeCache.Release(ctx, code); rerr != nil {
			log.Warn().Err(rerr).Str("code", code).Msg("failed to release code after create failure")
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if _, err := s.store.Put(ctx, model.LiveSessionPath(sessionID), data); err != nil {
		// Roll back the registry entry and the claimed code so no
		// joinable session exists without a live document.
		if derr := s.sessionRepo.Delete(ctx, sessionID); derr != nil {
			log.Warn().Err(derr).Str("session", sessionID).Msg("failed to delete session after seed failure")
		}
		if rerr := s.codeCache.Release(ctx, code); rerr != nil {
			log.Warn().Err(rerr).Str("code", code).Msg("failed to release code after seed failure")
		}
		return nil, fmt.Errorf("failed to seed live document: %w", err)
	}

	return session, nil
}

// ResolveCode maps a join code to a session id. Codes are
// case-insensitive; normalization happens here so callers can pass user
// input as typed.
func (s *SessionService) ResolveCode(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", model.ErrNotFound
	}

	sessionID, err := s.codeCache.Resolve(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to resolve code: %w", err)
	}
	if sessionID != "" {
		return sessionID, nil
	}

	// Index entry may have expired before the session record; fall back
	// to the durable registry.
	session, err := s.sessionRepo.GetByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to look up code: %w", err)
	}
	if session == nil {
		return "", model.ErrNotFound
	}
	return session.ID, nil
}

// Join resolves a code and registers a participant: member record,
// leaderboard seed and a session-scoped token.
func (s *SessionService) Join(ctx context.Context, code, displayName string) (*model.JoinResponse, error) {
	sessionID, err := s.ResolveCode(ctx, code)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, model.ErrNotFound
	}
	if session.Status == model.SessionEnded {
		return nil, model.ErrSessionEnded
	}

	userID := "u_" + uuid.New().String()[:8]
	token, err := s.authSvc.GenerateParticipantToken(sessionID, userID, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	member := &model.Member{
		UserID:      userID,
		SessionID:   sessionID,
		DisplayName: displayName,
		Score:       0,
		JoinedAt:    s.clock.Now(),
	}
	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to save member: %w", err)
	}
	if err := s.leaderboard.UpdateScore(ctx, sessionID, userID, 0); err != nil {
		return nil, fmt.Errorf("failed to init leaderboard: %w", err)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToHost(sessionID, "participant_joined", map[string]string{
			"userId":      userID,
			"displayName": displayName,
		})
	}

	return &model.JoinResponse{
		SessionID: sessionID,
		UserID:    userID,
		Token:     token,
	}, nil
}

// GetSession retrieves a session by id
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, model.ErrNotFound
	}
	return session, nil
}

// Touch extends the session's retention window after host activity.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil || session == nil {
		return err
	}
	session.ExpiresAt = s.clock.Now().Add(s.retention)
	return s.sessionRepo.Update(ctx, session)
}

// EndSession marks the session ended and releases its join code. The
// live document stays readable until the sweep removes it.
func (s *SessionService) EndSession(ctx context.Context, sessionID, hostID string) error {
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
	if session.Status == model.SessionEnded {
		return nil
	}

	now := s.clock.Now()
	session.Status = model.SessionEnded
	session.EndedAt = &now
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		return err
	}
	if err := s.codeCache.Release(ctx, session.JoinCode); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to release join code")
	}

	if _, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		live.Status = model.SessionEnded
		if live.ActiveTool != nil {
			live.ActiveTool.Active = false
			live.ActiveTool.UpdatedAt = now
		}
		return nil
	}); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to end live document")
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToAll(sessionID, "session_ended", nil)
		s.broadcaster.DisconnectSession(sessionID)
	}
	return nil
}

// SweepExpiredSessions deletes sessions past their retention window,
// recursively removing members, history, the live document, the
// leaderboard and the code index. Deletion is best-effort per session:
// one failure is logged and the sweep moves on. Safe to re-run.
func (s *SessionService) SweepExpiredSessions(ctx context.Context) (int, error) {
	expired, err := s.sessionRepo.ListExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	deleted := 0
	for _, session := range expired {
		if err := s.deleteSession(ctx, session); err != nil {
			log.Error().Err(err).Str("session", session.ID).Msg("failed to sweep session")
			continue
		}
		deleted++
		log.Info().Str("session", session.ID).Str("code", session.JoinCode).Msg("swept expired session")
	}
	return deleted, nil
}

func (s *SessionService) deleteSession(ctx context.Context, session *model.Session) error {
	if err := s.memberRepo.DeleteBySession(ctx, session.ID); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	if err := s.store.Delete(ctx, model.LiveSessionPath(session.ID)); err != nil {
		return fmt.Errorf("delete live document: %w", err)
	}
	if err := s.leaderboard.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("delete leaderboard: %w", err)
	}
	if err := s.codeCache.Release(ctx, session.JoinCode); err != nil {
		return fmt.Errorf("release code: %w", err)
	}
	return s.sessionRepo.Delete(ctx, session.ID)
}

// NormalizeCode uppercases and trims a user-typed join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateJoinCode creates a 6-char code and claims it in the index,
// retrying on collision. The charset drops ambiguous characters.
func (s *SessionService) generateJoinCode(ctx context.Context, sessionID string) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const codeLen = 6

	for attempts := 0; attempts < 10; attempts++ {
		b := make([]byte, codeLen)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}

		code := make([]byte, codeLen)
		for i := range code {
			code[i] = chars[int(b[i])%len(chars)]
		}
		codeStr := string(code)

		claimed, err := s.codeCache.Claim(ctx, codeStr, sessionID, s.retention)
		if err != nil {
			return "", err
		}
		if claimed {
			return codeStr, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique join code")
}
