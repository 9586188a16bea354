package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

const (
	txnMaxAttempts = 5
	txnBaseBackoff = 25 * time.Millisecond
)

// errUnchanged aborts a live update whose outcome is already committed
// (idempotent buzz, repeated pause). The caller treats it as success
// without writing a new snapshot.
var errUnchanged = errors.New("no change")

// updateLive runs one transactional mutation of a session's live
// document, retrying transient commit conflicts with exponential
// backoff. Policy rejections raised by fn pass through untouched.
func updateLive(ctx context.Context, st store.Store, clock clockwork.Clock, sessionID string, fn func(*model.LiveSession) error) (*model.LiveSession, error) {
	path := model.LiveSessionPath(sessionID)

	var result *model.LiveSession
	apply := func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, model.ErrNotFound
		}
		var live model.LiveSession
		if err := json.Unmarshal(current, &live); err != nil {
			return nil, fmt.Errorf("decode live session %s: %w", sessionID, err)
		}
		if err := fn(&live); err != nil {
			return nil, err
		}
		result = &live
		return json.Marshal(&live)
	}

	var err error
	for attempt := 0; attempt < txnMaxAttempts; attempt++ {
		if attempt > 0 {
			clock.Sleep(txnBaseBackoff << (attempt - 1))
		}
		_, err = st.Update(ctx, path, apply)
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, errUnchanged):
			return result, nil
		case errors.Is(err, model.ErrTransactionConflict):
			continue
		default:
			return nil, err
		}
	}
	return nil, err
}

// getLive reads the current live document without subscribing.
func getLive(ctx context.Context, st store.Store, sessionID string) (*model.LiveSession, error) {
	doc, err := st.Get(ctx, model.LiveSessionPath(sessionID))
	if err != nil {
		return nil, err
	}
	var live model.LiveSession
	if err := json.Unmarshal(doc.Data, &live); err != nil {
		return nil, fmt.Errorf("decode live session %s: %w", sessionID, err)
	}
	return &live, nil
}

// decodePayload unmarshals the active tool payload into state, leaving
// state's zero value for an empty payload.
func decodePayload(env *model.ToolEnvelope, state interface{}) error {
	if env == nil || len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, state)
}

// setEnvelope replaces the active tool envelope wholesale.
func setEnvelope(live *model.LiveSession, kind model.ToolKind, active bool, at time.Time, state interface{}) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	live.ActiveTool = &model.ToolEnvelope{
		Kind:      kind,
		Active:    active,
		UpdatedAt: at,
		Payload:   payload,
	}
	return nil
}

// requireTool checks that the session's active tool is kind and active.
// Any other tool owning the slot, or the slot being inactive, is a
// policy rejection, not a failure.
func requireTool(live *model.LiveSession, kind model.ToolKind) (*model.ToolEnvelope, error) {
	if live.Status == model.SessionEnded {
		return nil, model.ErrSessionEnded
	}
	env := live.ActiveTool
	if env == nil || !env.Active || env.Kind != kind {
		return nil, model.ErrToolConflict
	}
	return env, nil
}

// claimToolSlot enforces the one-active-tool invariant for a host
// command that wants kind. A different active tool blocks the claim
// unless switchTool is set.
func claimToolSlot(live *model.LiveSession, kind model.ToolKind, switchTool bool) error {
	if live.Status == model.SessionEnded {
		return model.ErrSessionEnded
	}
	env := live.ActiveTool
	if env != nil && env.Active && env.Kind != kind && !switchTool {
		return model.ErrToolConflict
	}
	return nil
}
