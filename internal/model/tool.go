package model

import (
	"encoding/json"
	"time"
)

// ToolKind identifies a live activity hosted within a session.
type ToolKind string

const (
	ToolBuzzer    ToolKind = "buzzer"
	ToolPoll      ToolKind = "poll"
	ToolWordStorm ToolKind = "wordstorm"
	ToolTimer     ToolKind = "timer"
	ToolDice      ToolKind = "dice"
	ToolEnergy    ToolKind = "energy"
)

// ToolEnvelope is the shared envelope around every tool payload. At most
// one tool is active per session; switching tools overwrites the envelope.
// Deactivating keeps the last payload so late viewers still see results.
type ToolEnvelope struct {
	Kind      ToolKind        `json:"kind"`
	Active    bool            `json:"active"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type BuzzerStatus string

const (
	BuzzerOpen   BuzzerStatus = "open"
	BuzzerLocked BuzzerStatus = "locked"
)

// BuzzEntry is one participant's buzz. Rank is the position in the
// entries slice, which follows the store's commit order for the session
// document; the client-reported moment of the tap is display-only.
type BuzzEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	BuzzedAt    time.Time `json:"buzzedAt"`
}

type BuzzerState struct {
	Status  BuzzerStatus `json:"status"`
	Entries []BuzzEntry  `json:"entries"`
}

// Rank returns the 1-based rank of userID, or 0 if the user has not
// buzzed in the current window.
func (b *BuzzerState) Rank(userID string) int {
	for i, e := range b.Entries {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

type PollOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type PollState struct {
	Question  string            `json:"question"`
	Options   []PollOption      `json:"options"`
	MultiVote bool              `json:"multiVote"`
	Closed    bool              `json:"closed"`
	// Votes maps voterID to the chosen option ids. Under single-vote
	// mode the slice holds at most one entry and a re-vote moves it.
	Votes map[string][]string `json:"votes"`
}

// Tally counts votes per option id. The sum over all options equals the
// total number of cast votes.
func (p *PollState) Tally() map[string]int {
	counts := make(map[string]int, len(p.Options))
	for _, opt := range p.Options {
		counts[opt.ID] = 0
	}
	for _, chosen := range p.Votes {
		for _, id := range chosen {
			counts[id]++
		}
	}
	return counts
}

// HasOption reports whether id is one of the poll's options.
func (p *PollState) HasOption(id string) bool {
	for _, opt := range p.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

type WordStormEntry struct {
	UserID      string    `json:"userId"`
	Word        string    `json:"word"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type WordStormState struct {
	Prompt  string           `json:"prompt"`
	Entries []WordStormEntry `json:"entries"`
}

type TimerStatus string

const (
	TimerStopped TimerStatus = "stopped"
	TimerRunning TimerStatus = "running"
	TimerPaused  TimerStatus = "paused"
)

// TimerState is host-authoritative. Remaining time is always derived
// from EndTimestamp on the viewer's own clock, never stored as a ticking
// counter, so host and viewers cannot drift apart.
type TimerState struct {
	Status TimerStatus `json:"status"`
	// DurationSeconds is the configured duration while stopped and the
	// frozen remaining time while paused.
	DurationSeconds int `json:"durationSeconds"`
	// ConfiguredSeconds keeps the originally requested duration so stop
	// can restore it after pauses rewrote DurationSeconds.
	ConfiguredSeconds int        `json:"configuredSeconds"`
	EndTimestamp      *time.Time `json:"endTimestamp,omitempty"`
	Label             string     `json:"label,omitempty"`
}

// Remaining derives the time left at now. Finished is a derived state:
// viewers render zero locally and never write it back.
func (t *TimerState) Remaining(now time.Time) time.Duration {
	switch t.Status {
	case TimerRunning:
		if t.EndTimestamp == nil {
			return 0
		}
		if rem := t.EndTimestamp.Sub(now); rem > 0 {
			return rem
		}
		return 0
	default:
		return time.Duration(t.DurationSeconds) * time.Second
	}
}

// DiceState holds a host-rolled result so every viewer sees the same
// outcome. Sides == 2 renders as a coin flip.
type DiceState struct {
	Sides    int        `json:"sides"`
	Value    int        `json:"value"`
	RolledAt *time.Time `json:"rolledAt,omitempty"`
}

// EnergyPulseState keeps each participant's latest pulse level (1-5);
// a new pulse from the same user replaces the previous one.
type EnergyPulseState struct {
	Levels map[string]int `json:"levels"`
}

// Average returns the mean pulse level, or 0 with no pulses.
func (e *EnergyPulseState) Average() float64 {
	if len(e.Levels) == 0 {
		return 0
	}
	sum := 0
	for _, lvl := range e.Levels {
		sum += lvl
	}
	return float64(sum) / float64(len(e.Levels))
}
