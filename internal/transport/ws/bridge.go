package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

// Bridge holds one store subscription per session with at least one
// WebSocket connection and fans every committed snapshot out through
// the hub. Subscriptions are reference counted: the last connection to
// leave cancels the listener, so no subscription outlives its viewers.
type Bridge struct {
	store store.Store
	hub   *Hub

	mu      sync.Mutex
	cancels map[string]store.CancelFunc
	refs    map[string]int
}

// NewBridge creates a new bridge between the store and the hub.
func NewBridge(st store.Store, hub *Hub) *Bridge {
	return &Bridge{
		store:   st,
		hub:     hub,
		cancels: make(map[string]store.CancelFunc),
		refs:    make(map[string]int),
	}
}

// Acquire registers interest in a session's live document. The first
// caller per session opens the subscription; the new subscriber gets
// the current snapshot immediately, so a client connecting after a
// tool switch still sees the final state (intermediate states are
// gone by design).
func (b *Bridge) Acquire(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs[sessionID] > 0 {
		b.refs[sessionID]++
		return nil
	}

	cancel, err := b.store.Subscribe(context.WithoutCancel(ctx), model.LiveSessionPath(sessionID), func(doc *store.Document) {
		var live model.LiveSession
		if err := json.Unmarshal(doc.Data, &live); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("dropping malformed live snapshot")
			return
		}
		b.hub.BroadcastToAll(sessionID, string(MsgSessionSnapshot), &live)
		b.hub.BroadcastToHost(sessionID, string(MsgSessionSnapshot), &live)
	})
	if err != nil {
		return err
	}

	b.cancels[sessionID] = cancel
	b.refs[sessionID] = 1
	log.Debug().Str("session", sessionID).Msg("live subscription opened")
	return nil
}

// Release drops one reference; the subscription closes when the last
// connection leaves.
func (b *Bridge) Release(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs[sessionID] == 0 {
		return
	}
	b.refs[sessionID]--
	if b.refs[sessionID] > 0 {
		return
	}

	delete(b.refs, sessionID)
	if cancel, ok := b.cancels[sessionID]; ok {
		cancel()
		delete(b.cancels, sessionID)
		log.Debug().Str("session", sessionID).Msg("live subscription closed")
	}
}

// Close cancels every open subscription (server shutdown).
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, cancel := range b.cancels {
		cancel()
		delete(b.cancels, sessionID)
		delete(b.refs, sessionID)
	}
}
