package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

// TimerService keeps one host-authoritative countdown per session.
// Only state transitions are written; every viewer derives the
// remaining time from endTimestamp on its own clock tick, so the
// network carries no per-second updates and "finished" is never
// persisted (N viewers racing to write the same transition would be).
type TimerService struct {
	store store.Store
	clock clockwork.Clock
}

// NewTimerService creates a new timer service
func NewTimerService(st store.Store, clock clockwork.Clock) *TimerService {
	return &TimerService{store: st, clock: clock}
}

// Start begins a countdown of d. Starting over a running timer
// restarts it with the new duration.
func (s *TimerService) Start(ctx context.Context, sessionID, hostID string, d time.Duration, label string) (*model.TimerState, error) {
	if d <= 0 {
		return nil, fmt.Errorf("timer duration must be positive")
	}

	var result model.TimerState
	_, err := s.mutate(ctx, sessionID, hostID, true, func(state *model.TimerState) error {
		seconds := int(d / time.Second)
		end := s.clock.Now().Add(d)
		*state = model.TimerState{
			Status:            model.TimerRunning,
			DurationSeconds:   seconds,
			ConfiguredSeconds: seconds,
			EndTimestamp:      &end,
			Label:             label,
		}
		result = *state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Pause freezes the remaining time by converting it back into a stored
// duration; resuming computes a fresh endTimestamp from it, so the
// total elapsed time is preserved across the round trip. Pausing a
// timer that is not running is a no-op.
func (s *TimerService) Pause(ctx context.Context, sessionID, hostID string) (*model.TimerState, error) {
	var result model.TimerState
	_, err := s.mutate(ctx, sessionID, hostID, false, func(state *model.TimerState) error {
		if state.Status != model.TimerRunning {
			result = *state
			return errUnchanged
		}
		remaining := state.Remaining(s.clock.Now())
		state.Status = model.TimerPaused
		state.DurationSeconds = int(remaining / time.Second)
		state.EndTimestamp = nil
		result = *state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Resume continues a paused countdown with the frozen remaining time.
func (s *TimerService) Resume(ctx context.Context, sessionID, hostID string) (*model.TimerState, error) {
	var result model.TimerState
	_, err := s.mutate(ctx, sessionID, hostID, false, func(state *model.TimerState) error {
		if state.Status != model.TimerPaused {
			result = *state
			return errUnchanged
		}
		end := s.clock.Now().Add(time.Duration(state.DurationSeconds) * time.Second)
		state.Status = model.TimerRunning
		state.EndTimestamp = &end
		result = *state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop resets to the full configured duration.
func (s *TimerService) Stop(ctx context.Context, sessionID, hostID string) (*model.TimerState, error) {
	var result model.TimerState
	_, err := s.mutate(ctx, sessionID, hostID, false, func(state *model.TimerState) error {
		if state.Status == model.TimerStopped {
			result = *state
			return errUnchanged
		}
		state.Status = model.TimerStopped
		state.DurationSeconds = state.ConfiguredSeconds
		state.EndTimestamp = nil
		result = *state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Remaining derives the viewer-side remaining time of the session's
// timer at the service clock's now.
func (s *TimerService) Remaining(ctx context.Context, sessionID string) (time.Duration, *model.TimerState, error) {
	live, err := getLive(ctx, s.store, sessionID)
	if err != nil {
		return 0, nil, err
	}
	env := live.ActiveTool
	if env == nil || env.Kind != model.ToolTimer {
		return 0, nil, model.ErrNotFound
	}
	var state model.TimerState
	if err := decodePayload(env, &state); err != nil {
		return 0, nil, err
	}
	return state.Remaining(s.clock.Now()), &state, nil
}

// mutate runs one timer transition. claimSlot activates the timer tool
// when the slot is free (used by Start); the other transitions require
// the timer to already be active.
func (s *TimerService) mutate(ctx context.Context, sessionID, hostID string, claimSlot bool, fn func(*model.TimerState) error) (*model.LiveSession, error) {
	return updateLive(ctx, s.store, s.clock, sessionID, func(live *model.LiveSession) error {
		if live.HostID != hostID {
			return model.ErrNotHost
		}

		var state model.TimerState
		if claimSlot {
			if err := claimToolSlot(live, model.ToolTimer, false); err != nil {
				return err
			}
			if env := live.ActiveTool; env != nil && env.Kind == model.ToolTimer {
				if err := decodePayload(env, &state); err != nil {
					return err
				}
			}
		} else {
			env, err := requireTool(live, model.ToolTimer)
			if err != nil {
				return err
			}
			if err := decodePayload(env, &state); err != nil {
				return err
			}
		}

		if err := fn(&state); err != nil {
			return err
		}
		// Invariant: endTimestamp is set iff the timer is running.
		if (state.Status == model.TimerRunning) != (state.EndTimestamp != nil) {
			return fmt.Errorf("inconsistent timer state for %s", sessionID)
		}
		return setEnvelope(live, model.ToolTimer, true, s.clock.Now(), &state)
	})
}
