package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuzzerRank(t *testing.T) {
	state := &BuzzerState{
		Status: BuzzerOpen,
		Entries: []BuzzEntry{
			{UserID: "u_alice"},
			{UserID: "u_bob"},
		},
	}

	assert.Equal(t, 1, state.Rank("u_alice"))
	assert.Equal(t, 2, state.Rank("u_bob"))
	assert.Equal(t, 0, state.Rank("u_carol"))
}

func TestPollTallySumsToVoteCount(t *testing.T) {
	state := &PollState{
		Options: []PollOption{{ID: "opt1"}, {ID: "opt2"}, {ID: "opt3"}},
		Votes: map[string][]string{
			"u_alice": {"opt1"},
			"u_bob":   {"opt1", "opt3"},
			"u_carol": {"opt3"},
		},
	}

	counts := state.Tally()
	assert.Equal(t, 2, counts["opt1"])
	assert.Equal(t, 0, counts["opt2"])
	assert.Equal(t, 2, counts["opt3"])

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 4, total)

	assert.True(t, state.HasOption("opt2"))
	assert.False(t, state.HasOption("opt9"))
}

func TestTimerRemaining(t *testing.T) {
	now := time.Now()

	end := now.Add(90 * time.Second)
	running := &TimerState{Status: TimerRunning, EndTimestamp: &end}
	assert.Equal(t, 90*time.Second, running.Remaining(now))
	assert.Equal(t, time.Duration(0), running.Remaining(now.Add(2*time.Minute)))

	paused := &TimerState{Status: TimerPaused, DurationSeconds: 45}
	assert.Equal(t, 45*time.Second, paused.Remaining(now))
	assert.Equal(t, 45*time.Second, paused.Remaining(now.Add(time.Hour)))

	stopped := &TimerState{Status: TimerStopped, DurationSeconds: 300}
	assert.Equal(t, 300*time.Second, stopped.Remaining(now))
}

func TestEnergyPulseAverage(t *testing.T) {
	empty := &EnergyPulseState{}
	assert.Equal(t, 0.0, empty.Average())

	state := &EnergyPulseState{Levels: map[string]int{"u_a": 2, "u_b": 5}}
	assert.InDelta(t, 3.5, state.Average(), 0.001)
}
