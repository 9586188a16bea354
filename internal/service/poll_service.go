package service

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

// PollService runs live polls. Under single-vote mode a voter holds at
// most one vote; re-voting moves it. Tallies are derived from the votes
// map on read, so counts can never drift from the votes they summarize.
type PollService struct {
	store store.Store
	clock clockwork.Clock
}

// NewPollService creates a new poll service
func NewPollService(st store.Store, clock clockwork.Clock) *PollService {
	return &PollService{store: st, clock: clock}
}

// PollTally is the derived result view of a poll.
type PollTally struct {
	Question   string         `json:"question"`
	Counts     map[string]int `json:"counts"`
	TotalVotes int            `json:"totalVotes"`
	Closed     bool           `json:"closed"`
}

// OpenPoll activates the poll tool with a fresh question. Options get
// stable ids (opt1, opt2, ...) derived from their position.
func (s *PollService) OpenPoll(ctx context.Context, sessionID, hostID, question string, options []string, multiVote bool) error {
	if len(options) < 2 {
		return fmt.Errorf("poll needs at least 2 options")
	}

	opts := make([]model.PollOption, len(options))
	for i, label := range options {
		opts[i] = model.PollOption{
			ID:    fmt.Sprintf("opt%d", i+1),
			Label: label,
		}
	}

	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		if err := claimToolSlot(live, model.ToolPoll, false); err != nil {
			return err
		}
		return setEnvelope(live, model.ToolPoll, true, s.clock.Now(), &model.PollState{
			Question:  question,
			Options:   opts,
			MultiVote: multiVote,
			Votes:     map[string][]string{},
		})
	})
	return err
}

// CastVote records a participant's vote. Unknown options reject with
// ErrNotFound; a closed or inactive poll rejects with ErrToolConflict.
func (s *PollService) CastVote(ctx context.Context, sessionID, userID, optionID string) error {
	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		env, err := requireTool(live, model.ToolPoll)
		if err != nil {
			return err
		}
		var state model.PollState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		if state.Closed {
			return model.ErrToolConflict
		}
		if !state.HasOption(optionID) {
			return model.ErrNotFound
		}
		if state.Votes == nil {
			state.Votes = map[string][]string{}
		}

		if state.MultiVote {
			for _, chosen := range state.Votes[userID] {
				if chosen == optionID {
					return errUnchanged
				}
			}
			state.Votes[userID] = append(state.Votes[userID], optionID)
		} else {
			// Single-vote mode: a re-vote moves the voter's one vote.
			if chosen := state.Votes[userID]; len(chosen) == 1 && chosen[0] == optionID {
				return errUnchanged
			}
			state.Votes[userID] = []string{optionID}
		}
		return setEnvelope(live, model.ToolPoll, true, s.clock.Now(), &state)
	})
	return err
}

// ClosePoll freezes the poll; tallies stay visible but votes are
// rejected from the commit onwards.
func (s *PollService) ClosePoll(ctx context.Context, sessionID, hostID string) error {
	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		env, err := requireTool(live, model.ToolPoll)
		if err != nil {
			return err
		}
		var state model.PollState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		if state.Closed {
			return errUnchanged
		}
		state.Closed = true
		return setEnvelope(live, model.ToolPoll, true, s.clock.Now(), &state)
	})
	return err
}

// Tally derives the current counts from the live document.
func (s *PollService) Tally(ctx context.Context, sessionID string) (*PollTally, error) {
	live, err := getLive(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	env := live.ActiveTool
	if env == nil || env.Kind != model.ToolPoll {
		return nil, model.ErrNotFound
	}
	var state model.PollState
	if err := decodePayload(env, &state); err != nil {
		return nil, err
	}

	counts := state.Tally()
	total := 0
	for _, n := range counts {
		total += n
	}
	return &PollTally{
		Question:   state.Question,
		Counts:     counts,
		TotalVotes: total,
		Closed:     state.Closed,
	}, nil
}
