package service

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

// BuzzerService implements first-in ranking under concurrent buzzes.
// Rank is the commit order of appends to the session document: the
// store serializes concurrent buzzes, so whichever commit lands first
// is rank 1 no matter what the clients' clocks claimed.
type BuzzerService struct {
	store store.Store
	clock clockwork.Clock
}

// NewBuzzerService creates a new buzzer service
func NewBuzzerService(st store.Store, clock clockwork.Clock) *BuzzerService {
	return &BuzzerService{store: st, clock: clock}
}

// Open clears prior entries and opens the buzz window. The buzzer must
// already own the tool slot or the slot must be free; switching away
// from another tool is an explicit Activate, not an Open.
func (s *BuzzerService) Open(ctx context.Context, sessionID, hostID string) error {
	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		if err := claimToolSlot(live, model.ToolBuzzer, false); err != nil {
			return err
		}
		return setEnvelope(live, model.ToolBuzzer, true, s.clock.Now(), &model.BuzzerState{
			Status:  model.BuzzerOpen,
			Entries: []model.BuzzEntry{},
		})
	})
	if err == nil {
		log.Info().Str("session", sessionID).Msg("buzzer opened")
	}
	return err
}

// Lock closes the buzz window, keeping the entries. A buzz that commits
// before the lock applies is kept: the read-then-write race is accepted
// because under-counting by a network round-trip does not matter here.
func (s *BuzzerService) Lock(ctx context.Context, sessionID, hostID string) error {
	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		env, err := requireTool(live, model.ToolBuzzer)
		if err != nil {
			return err
		}
		var state model.BuzzerState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		if state.Status == model.BuzzerLocked {
			return errUnchanged
		}
		state.Status = model.BuzzerLocked
		return setEnvelope(live, model.ToolBuzzer, true, s.clock.Now(), &state)
	})
	return err
}

// Reset clears the entries without changing the window status.
func (s *BuzzerService) Reset(ctx context.Context, sessionID, hostID string) error {
	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}
		env, err := requireTool(live, model.ToolBuzzer)
		if err != nil {
			return err
		}
		var state model.BuzzerState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		state.Entries = []model.BuzzEntry{}
		return setEnvelope(live, model.ToolBuzzer, true, s.clock.Now(), &state)
	})
	return err
}

// Buzz appends the participant to the current window and returns the
// 1-based rank. A repeat buzz from the same user returns the existing
// rank without writing (double taps cannot shift the order). A closed
// window rejects with ErrBuzzerLocked and leaves the entries untouched.
func (s *BuzzerService) Buzz(ctx context.Context, sessionID, userID, displayName string) (int, error) {
	rank := 0
	_, err := updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		env := live.ActiveTool
		if live.Status == model.SessionEnded {
			return model.ErrSessionEnded
		}
		if env == nil || env.Kind != model.ToolBuzzer || !env.Active {
			return model.ErrBuzzerLocked
		}
		var state model.BuzzerState
		if err := decodePayload(env, &state); err != nil {
			return err
		}
		if state.Status != model.BuzzerOpen {
			return model.ErrBuzzerLocked
		}

		if existing := state.Rank(userID); existing > 0 {
			rank = existing
			return errUnchanged
		}

		state.Entries = append(state.Entries, model.BuzzEntry{
			UserID:      userID,
			DisplayName: displayName,
			BuzzedAt:    s.clock.Now(),
		})
		rank = len(state.Entries)
		return setEnvelope(live, model.ToolBuzzer, true, s.clock.Now(), &state)
	})
	if err != nil {
		return 0, err
	}

	log.Debug().Str("session", sessionID).Str("user", userID).Int("rank", rank).Msg("buzz accepted")
	return rank, nil
}
