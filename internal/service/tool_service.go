package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

// ToolService is the live tool state machine: one active tool per
// session, explicit switches, deactivation that keeps the last payload
// for late viewers. The per-variant participant operations (word storm,
// energy pulse, dice) live here too; buzzer, poll and timer carry
// enough rules to warrant their own services.
type ToolService struct {
	store store.Store
	clock clockwork.Clock
}

// NewToolService creates a new tool service
func NewToolService(st store.Store, clock clockwork.Clock) *ToolService {
	return &ToolService{store: st, clock: clock}
}

// Activate makes kind the session's active tool. A different active
// tool blocks the transition with ErrToolConflict unless switchTool is
// set, in which case the old envelope is overwritten. The transition is
// one document commit, so subscribers see exactly the final state.
func (s *ToolService) Activate(ctx context.Context, sessionID, hostID string, kind model.ToolKind, initial json.RawMessage, switchTool bool) (*model.LiveSession, error) {
	state, err := initialState(kind, initial)
	if err != nil {
		return nil, err
	}

	live, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		if err := claimToolSlot(live, kind, switchTool); err != nil {
			return err
		}
		return setEnvelope(live, kind, true, s.clock.Now(), state)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("session", sessionID).Str("tool", string(kind)).Msg("tool activated")
	return live, nil
}

// Deactivate turns the active tool off but keeps its last payload so a
// late viewer still sees the final results.
func (s *ToolService) Deactivate(ctx context.Context, sessionID, hostID string) (*model.LiveSession, error) {
	var unchanged *model.LiveSession
	live, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		if live.ActiveTool == nil || !live.ActiveTool.Active {
			cp := *live
			unchanged = &cp
			return errUnchanged
		}
		live.ActiveTool.Active = false
		live.ActiveTool.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if live == nil {
		live = unchanged
	}
	return live, nil
}

// SubmitWord appends a participant's word while the word storm is open.
func (s *ToolService) SubmitWord(ctx context.Context, sessionID, userID, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return fmt.Errorf("empty word")
	}

	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		env, err := requireTool(live, model.ToolWordStorm)
		if err != nil {
			return err
		}
		var state model.WordStormState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		state.Entries = append(state.Entries, model.WordStormEntry{
			UserID:      userID,
			Word:        word,
			SubmittedAt: s.clock.Now(),
		})
		return setEnvelope(live, model.ToolWordStorm, true, s.clock.Now(), &state)
	})
	return err
}

// Pulse records a participant's energy level (1-5); the latest pulse
// per user wins.
func (s *ToolService) Pulse(ctx context.Context, sessionID, userID string, level int) error {
	if level < 1 || level > 5 {
		return fmt.Errorf("pulse level %d out of range", level)
	}

	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		env, err := requireTool(live, model.ToolEnergy)
		if err != nil {
			return err
		}
		var state model.EnergyPulseState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		if state.Levels == nil {
			state.Levels = make(map[string]int)
		}
		if state.Levels[userID] == level {
			return errUnchanged
		}
		state.Levels[userID] = level
		return setEnvelope(live, model.ToolEnergy, true, s.clock.Now(), &state)
	})
	return err
}

// Roll rolls the dice (or flips the coin when sides == 2) on behalf of
// the host. The result is committed to the shared document so every
// viewer sees the same outcome.
func (s *ToolService) Roll(ctx context.Context, sessionID, hostID string, sides int) (int, error) {
	if sides < 2 {
		return 0, fmt.Errorf("dice needs at least 2 sides")
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(sides)))
	if err != nil {
		return 0, err
	}
	value := int(n.Int64()) + 1

	_, err = updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		if _, err := requireTool(live, model.ToolDice); err != nil {
			return err
		}
		now := s.clock.Now()
		return setEnvelope(live, model.ToolDice, true, now, &model.DiceState{
			Sides:    sides,
			Value:    value,
			RolledAt: &now,
		})
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// initialState validates an activation payload for kind, or builds the
// variant's zero state when none is given.
func initialState(kind model.ToolKind, initial json.RawMessage) (interface{}, error) {
	decode := func(state interface{}) (interface{}, error) {
		if len(initial) == 0 {
			return state, nil
		}
		if err := json.Unmarshal(initial, state); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
		}
		return state, nil
	}

	switch kind {
	case model.ToolBuzzer:
		return decode(&model.BuzzerState{Status: model.BuzzerLocked})
	case model.ToolPoll:
		return decode(&model.PollState{Votes: map[string][]string{}})
	case model.ToolWordStorm:
		return decode(&model.WordStormState{})
	case model.ToolTimer:
		return decode(&model.TimerState{Status: model.TimerStopped})
	case model.ToolDice:
		return decode(&model.DiceState{Sides: 6})
	case model.ToolEnergy:
		return decode(&model.EnergyPulseState{Levels: map[string]int{}})
	default:
		return nil, fmt.Errorf("unknown tool kind %q", kind)
	}
}
