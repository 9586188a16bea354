package service

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/internal/model"
	"classpulse/internal/store/memstore"
)

func newPollFixture(t *testing.T) (*PollService, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	seedLive(t, st, "s_test", "h_host")
	return NewPollService(st, clockwork.NewRealClock()), st
}

func TestPollOpenRequiresTwoOptions(t *testing.T) {
	svc, _ := newPollFixture(t)

	err := svc.OpenPoll(context.Background(), "s_test", "h_host", "Ready?", []string{"Yes"}, false)
	assert.Error(t, err)
}

func TestPollVoteAndTally(t *testing.T) {
	svc, _ := newPollFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.OpenPoll(ctx, "s_test", "h_host", "Best season?", []string{"Spring", "Summer", "Winter"}, false))

	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt1"))
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_bob", "opt2"))
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_carol", "opt2"))

	tally, err := svc.Tally(ctx, "s_test")
	require.NoError(t, err)
	assert.Equal(t, "Best season?", tally.Question)
	assert.Equal(t, 1, tally.Counts["opt1"])
	assert.Equal(t, 2, tally.Counts["opt2"])
	assert.Equal(t, 0, tally.Counts["opt3"])
	assert.Equal(t, 3, tally.TotalVotes)
	assert.False(t, tally.Closed)
}

func TestPollSingleVoteRevoteMoves(t *testing.T) {
	svc, _ := newPollFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.OpenPoll(ctx, "s_test", "h_host", "Pick one", []string{"A", "B"}, false))

	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt1"))
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt2"))

	tally, err := svc.Tally(ctx, "s_test")
	require.NoError(t, err)
	assert.Equal(t, 0, tally.Counts["opt1"])
	assert.Equal(t, 1, tally.Counts["opt2"])
	assert.Equal(t, 1, tally.TotalVotes)

	// Re-voting the same option changes nothing.
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt2"))
	tally, err = svc.Tally(ctx, "s_test")
	require.NoError(t, err)
	assert.Equal(t, 1, tally.TotalVotes)
}

func TestPollMultiVoteAccumulates(t *testing.T) {
	svc, _ := newPollFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.OpenPoll(ctx, "s_test", "h_host", "Pick any", []string{"A", "B", "C"}, true))

	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt1"))
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt3"))
	// Duplicate pick of the same option is a no-op.
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt1"))

	tally, err := svc.Tally(ctx, "s_test")
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Counts["opt1"])
	assert.Equal(t, 1, tally.Counts["opt3"])
	assert.Equal(t, 2, tally.TotalVotes)
}

func TestPollUnknownOptionRejected(t *testing.T) {
	svc, _ := newPollFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.OpenPoll(ctx, "s_test", "h_host", "Pick one", []string{"A", "B"}, false))

	err := svc.CastVote(ctx, "s_test", "u_alice", "opt9")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPollCloseFreezesVotes(t *testing.T) {
	svc, _ := newPollFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.OpenPoll(ctx, "s_test", "h_host", "Pick one", []string{"A", "B"}, false))
	require.NoError(t, svc.CastVote(ctx, "s_test", "u_alice", "opt1"))
	require.NoError(t, svc.ClosePoll(ctx, "s_test", "h_host"))

	err := svc.CastVote(ctx, "s_test", "u_bob", "opt2")
	assert.ErrorIs(t, err, model.ErrToolConflict)

	// Tallies stay readable after close.
	tally, err := svc.Tally(ctx, "s_test")
	require.NoError(t, err)
	assert.True(t, tally.Closed)
	assert.Equal(t, 1, tally.TotalVotes)

	// Closing again is a no-op.
	require.NoError(t, svc.ClosePoll(ctx, "s_test", "h_host"))
}

func TestPollHostOnlyCommands(t *testing.T) {
	svc, _ := newPollFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.OpenPoll(ctx, "s_test", "h_other", "Q", []string{"A", "B"}, false), model.ErrNotHost)

	require.NoError(t, svc.OpenPoll(ctx, "s_test", "h_host", "Q", []string{"A", "B"}, false))
	assert.ErrorIs(t, svc.ClosePoll(ctx, "s_test", "h_other"), model.ErrNotHost)
}

func TestPollVoteWithoutActivePoll(t *testing.T) {
	svc, _ := newPollFixture(t)

	err := svc.CastVote(context.Background(), "s_test", "u_alice", "opt1")
	assert.ErrorIs(t, err, model.ErrToolConflict)
}
