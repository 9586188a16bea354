package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/internal/model"
)

type scoringFixture struct {
	svc         *ScoringService
	members     *fakeMemberRepo
	users       *fakeUserRepo
	sessions    *fakeSessionRepo
	leaderboard *fakeLeaderboard
}

func newScoringFixture(t *testing.T) *scoringFixture {
	t.Helper()
	f := &scoringFixture{
		members:     newFakeMemberRepo(),
		users:       newFakeUserRepo(),
		sessions:    newFakeSessionRepo(),
		leaderboard: newFakeLeaderboard(),
	}
	f.svc = NewScoringService(f.members, f.users, f.sessions, f.leaderboard, clockwork.NewRealClock())

	require.NoError(t, f.sessions.Create(context.Background(), &model.Session{
		ID:     "s_test",
		HostID: "h_host",
		Status: model.SessionActive,
	}))
	return f
}

func award(id, userID string, points int) *model.AwardEvent {
	return &model.AwardEvent{
		ID:        id,
		SessionID: "s_test",
		UserID:    userID,
		Points:    points,
		Reason:    "quiz",
	}
}

func TestScoringAwardAppliesOnce(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))

	// Replay of the same event must not double count.
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 100, m.Score)

	points, err := f.svc.LifetimePoints(ctx, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 100, points)

	history, err := f.svc.History(ctx, "s_test", "h_host", "u_alice")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestScoringDistinctEventsAccumulate(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt2", "u_alice", 50)))

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 150, m.Score)

	points, err := f.svc.LifetimePoints(ctx, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 150, points)
}

func TestScoringNonPositivePointsIgnored(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 0)))
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt2", "u_alice", -10)))

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestScoringRejectsIncompleteEvent(t *testing.T) {
	f := newScoringFixture(t)

	err := f.svc.OnQualifyingEvent(context.Background(), &model.AwardEvent{
		SessionID: "s_test",
		UserID:    "u_alice",
		Points:    10,
	})
	assert.Error(t, err)
}

func TestScoringRetriesTransientFailures(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	f.members.failApplyAward = 2

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 40)))
	assert.Equal(t, 3, f.members.applyCalls)

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 40, m.Score)
}

func TestScoringSurfacesExhaustedRetries(t *testing.T) {
	f := newScoringFixture(t)

	f.members.failApplyAward = awardMaxAttempts

	err := f.svc.OnQualifyingEvent(context.Background(), award("evt1", "u_alice", 40))
	assert.Error(t, err)
}

func TestScoringFailedDeliveryDoesNotBlockRedelivery(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	// First delivery fails outright. The failed writes must leave no
	// partial state behind, or the redelivery below would be mistaken
	// for a replay and the points silently dropped.
	f.members.failApplyAward = awardMaxAttempts
	require.Error(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	require.Nil(t, m)

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))

	m, err = f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 100, m.Score)

	// Score and lifetime agree after the recovery.
	points, err := f.svc.LifetimePoints(ctx, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 100, points)

	history, err := f.svc.History(ctx, "s_test", "h_host", "u_alice")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestScoringHostScopedToOwnSession(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	// A valid host credential for a different session must not reach
	// this session's scores.
	assert.ErrorIs(t, f.svc.Award(ctx, "h_other", award("evt1", "u_alice", 50)), model.ErrNotHost)
	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, f.svc.Award(ctx, "h_host", award("evt1", "u_alice", 50)))
	m, err = f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 50, m.Score)

	_, err = f.svc.Leaderboard(ctx, "s_test", "h_other", 10)
	assert.ErrorIs(t, err, model.ErrNotHost)
	_, err = f.svc.History(ctx, "s_test", "h_other", "u_alice")
	assert.ErrorIs(t, err, model.ErrNotHost)

	missing := award("evt2", "u_alice", 10)
	missing.SessionID = "s_missing"
	assert.ErrorIs(t, f.svc.Award(ctx, "h_host", missing), model.ErrNotFound)
}

func TestScoringAwardBroadcastsRank(t *testing.T) {
	f := newScoringFixture(t)
	bc := &fakeBroadcaster{}
	f.svc.SetBroadcaster(bc)
	ctx := context.Background()

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 30)))
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt2", "u_bob", 80)))

	msg := bc.lastToParticipant("u_bob")
	require.NotNil(t, msg)
	assert.Equal(t, "points_awarded", msg.msgType)
	payload, ok := msg.payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 80, payload["score"])
	assert.EqualValues(t, 1, payload["rank"])
}

func TestScoringLifetimeHealsAfterPartialFailure(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	// Simulate a crash between the two steps: the member score is
	// applied but the lifetime delta never was.
	applied, err := f.members.ApplyAward(ctx, award("evt1", "u_alice", 100), time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	// A replay finds the score step done and still runs the lifetime
	// step.
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 100, m.Score)

	points, err := f.svc.LifetimePoints(ctx, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 100, points)
}

func TestScoringLeaderboardOrdering(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 30)))
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt2", "u_bob", 80)))
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt3", "u_carol", 50)))

	entries, err := f.svc.Leaderboard(ctx, "s_test", "h_host", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "u_bob", entries[0].UserID)
	assert.Equal(t, "u_carol", entries[1].UserID)
	assert.Equal(t, "u_alice", entries[2].UserID)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestScoringResetScores(t *testing.T) {
	f := newScoringFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt1", "u_alice", 100)))
	require.NoError(t, f.svc.OnQualifyingEvent(ctx, award("evt2", "u_bob", 60)))

	assert.ErrorIs(t, f.svc.ResetScores(ctx, "s_test", "h_other"), model.ErrNotHost)
	require.NoError(t, f.svc.ResetScores(ctx, "s_test", "h_host"))

	m, err := f.members.Get(ctx, "s_test", "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Score)

	entries, err := f.svc.Leaderboard(ctx, "s_test", "h_host", 10)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, 0, e.Score)
	}

	// Lifetime points survive a session reset.
	points, err := f.svc.LifetimePoints(ctx, "u_alice")
	require.NoError(t, err)
	assert.Equal(t, 100, points)
}

func TestScoringLifetimeUnknownUser(t *testing.T) {
	f := newScoringFixture(t)

	points, err := f.svc.LifetimePoints(context.Background(), "u_nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, points)
}
