package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"classpulse/internal/cache"
	"classpulse/internal/model"
	"classpulse/internal/store"
)

// seedLive writes a fresh live document for a session, the way
// CreateSession does before any tool is activated.
func seedLive(t *testing.T, st store.Store, sessionID, hostID string) {
	t.Helper()
	live := &model.LiveSession{
		SessionID: sessionID,
		JoinCode:  "AB12CD",
		HostID:    hostID,
		Status:    model.SessionActive,
	}
	data, err := json.Marshal(live)
	require.NoError(t, err)
	_, err = st.Put(context.Background(), model.LiveSessionPath(sessionID), data)
	require.NoError(t, err)
}

func readLive(t *testing.T, st store.Store, sessionID string) *model.LiveSession {
	t.Helper()
	doc, err := st.Get(context.Background(), model.LiveSessionPath(sessionID))
	require.NoError(t, err)
	var live model.LiveSession
	require.NoError(t, json.Unmarshal(doc.Data, &live))
	return &live
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *fakeSessionRepo) Create(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("duplicate session %s", s.ID)
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) GetByCode(ctx context.Context, code string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.JoinCode == code && s.Status == model.SessionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) Update(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *fakeSessionRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*model.Session
	for _, s := range r.sessions {
		if s.ExpiresAt.Before(now) {
			cp := *s
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

type fakeMemberRepo struct {
	mu      sync.Mutex
	members map[string]*model.Member
	history []*model.ScoreEntry
	applied map[string]bool

	// failApplyAward makes the next N ApplyAward calls fail, simulating
	// transient store errors.
	failApplyAward int
	applyCalls     int
}

func newFakeMemberRepo() *fakeMemberRepo {
	return &fakeMemberRepo{
		members: make(map[string]*model.Member),
		applied: make(map[string]bool),
	}
}

func memberKey(sessionID, userID string) string {
	return sessionID + ":" + userID
}

func (r *fakeMemberRepo) Create(ctx context.Context, m *model.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey(m.SessionID, m.UserID)
	if _, ok := r.members[key]; ok {
		return nil
	}
	cp := *m
	r.members[key] = &cp
	return nil
}

func (r *fakeMemberRepo) Get(ctx context.Context, sessionID, userID string) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberKey(sessionID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMemberRepo) ListBySession(ctx context.Context, sessionID string) ([]*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var members []*model.Member
	for _, m := range r.members {
		if m.SessionID == sessionID {
			cp := *m
			members = append(members, &cp)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

// ApplyAward mirrors the repository's all-or-nothing contract: a failed
// call records nothing, so a retry or redelivery still applies the
// points.
func (r *fakeMemberRepo) ApplyAward(ctx context.Context, event *model.AwardEvent, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	if r.failApplyAward > 0 {
		r.failApplyAward--
		return false, fmt.Errorf("transient write failure")
	}
	if r.applied[event.ID] {
		return false, nil
	}
	r.applied[event.ID] = true

	key := memberKey(event.SessionID, event.UserID)
	m, ok := r.members[key]
	if !ok {
		m = &model.Member{UserID: event.UserID, SessionID: event.SessionID, JoinedAt: at}
		r.members[key] = m
	}
	m.Score += event.Points
	r.history = append(r.history, &model.ScoreEntry{
		ID:        event.ID,
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Points:    event.Points,
		Reason:    event.Reason,
		AwardedAt: at,
	})
	return true, nil
}

func (r *fakeMemberRepo) History(ctx context.Context, sessionID, userID string) ([]*model.ScoreEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []*model.ScoreEntry
	for _, e := range r.history {
		if e.SessionID == sessionID && e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (r *fakeMemberRepo) ResetScores(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.SessionID == sessionID {
			m.Score = 0
		}
	}
	return nil
}

func (r *fakeMemberRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.members {
		if m.SessionID == sessionID {
			delete(r.members, key)
		}
	}
	return nil
}

type fakeUserRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.UserProfile
	applied  map[string]bool
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		profiles: make(map[string]*model.UserProfile),
		applied:  make(map[string]bool),
	}
}

func (r *fakeUserRepo) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeUserRepo) ApplyLifetimeDelta(ctx context.Context, eventID, userID string, delta int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[eventID] {
		return false, nil
	}
	r.applied[eventID] = true
	p, ok := r.profiles[userID]
	if !ok {
		p = &model.UserProfile{UserID: userID}
		r.profiles[userID] = p
	}
	p.LifetimePoints += delta
	p.UpdatedAt = at
	return true, nil
}

type fakeCodeCache struct {
	mu    sync.Mutex
	codes map[string]string

	// denyClaims rejects the next N claims to simulate collisions.
	denyClaims int
	claimCalls int
}

func newFakeCodeCache() *fakeCodeCache {
	return &fakeCodeCache{codes: make(map[string]string)}
}

func (c *fakeCodeCache) Claim(ctx context.Context, code, sessionID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimCalls++
	if c.denyClaims > 0 {
		c.denyClaims--
		return false, nil
	}
	if _, ok := c.codes[code]; ok {
		return false, nil
	}
	c.codes[code] = sessionID
	return true, nil
}

func (c *fakeCodeCache) Resolve(ctx context.Context, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[code], nil
}

func (c *fakeCodeCache) Release(ctx context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.codes, code)
	return nil
}

type fakeLeaderboard struct {
	mu     sync.Mutex
	scores map[string]map[string]int
}

func newFakeLeaderboard() *fakeLeaderboard {
	return &fakeLeaderboard{scores: make(map[string]map[string]int)}
}

func (l *fakeLeaderboard) UpdateScore(ctx context.Context, sessionID, userID string, score int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scores[sessionID] == nil {
		l.scores[sessionID] = make(map[string]int)
	}
	l.scores[sessionID][userID] = score
	return nil
}

func (l *fakeLeaderboard) GetTop(ctx context.Context, sessionID string, limit int) ([]cache.LeaderboardEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []cache.LeaderboardEntry
	for userID, score := range l.scores[sessionID] {
		entries = append(entries, cache.LeaderboardEntry{UserID: userID, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit < len(entries) {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (l *fakeLeaderboard) GetRank(ctx context.Context, sessionID, userID string) (int64, error) {
	entries, _ := l.GetTop(ctx, sessionID, 1<<30)
	for _, e := range entries {
		if e.UserID == userID {
			return int64(e.Rank), nil
		}
	}
	return -1, nil
}

func (l *fakeLeaderboard) Delete(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.scores, sessionID)
	return nil
}

type broadcastMsg struct {
	target    string // "host", "participant" or "all"
	sessionID string
	userID    string
	msgType   string
	payload   interface{}
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []broadcastMsg
}

func (b *fakeBroadcaster) BroadcastToHost(sessionID string, msgType string, payload interface{}) {
	b.record(broadcastMsg{target: "host", sessionID: sessionID, msgType: msgType, payload: payload})
}

func (b *fakeBroadcaster) BroadcastToParticipant(sessionID, userID string, msgType string, payload interface{}) {
	b.record(broadcastMsg{target: "participant", sessionID: sessionID, userID: userID, msgType: msgType, payload: payload})
}

func (b *fakeBroadcaster) BroadcastToAll(sessionID string, msgType string, payload interface{}) {
	b.record(broadcastMsg{target: "all", sessionID: sessionID, msgType: msgType, payload: payload})
}

func (b *fakeBroadcaster) DisconnectSession(sessionID string) {}

func (b *fakeBroadcaster) record(msg broadcastMsg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

// lastToParticipant returns the most recent message sent to one user.
func (b *fakeBroadcaster) lastToParticipant(userID string) *broadcastMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].target == "participant" && b.msgs[i].userID == userID {
			cp := b.msgs[i]
			return &cp
		}
	}
	return nil
}
