// Package redisstore backs the document store with Redis: document
// hashes for state, WATCH-guarded transactions for per-path commit
// ordering, and pub/sub for snapshot fan-out. Pub/sub drops messages
// for disconnected clients, which is fine here because every message is
// a full snapshot and a reconnecting subscriber re-reads the current
// value first.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

const (
	putMaxAttempts = 5
	putBaseBackoff = 25 * time.Millisecond
)

type Store struct {
	client *redis.Client
	clock  clockwork.Clock
}

var _ store.Store = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{client: client, clock: clockwork.NewRealClock()}
}

func key(path string) string     { return "doc:" + path }
func channel(path string) string { return "docch:" + path }

func (s *Store) Get(ctx context.Context, path string) (*store.Document, error) {
	vals, err := s.client.HGetAll(ctx, key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, model.ErrNotFound
	}
	return docFromHash(path, vals)
}

func (s *Store) Put(ctx context.Context, path string, data []byte) (*store.Document, error) {
	// Unconditional write, but still serialized through WATCH so the
	// version counter and the published snapshot stay consistent. A
	// contended path gets a bounded number of attempts, not a spin.
	var err error
	for attempt := 0; attempt < putMaxAttempts; attempt++ {
		if attempt > 0 {
			s.clock.Sleep(putBaseBackoff << (attempt - 1))
		}
		var doc *store.Document
		doc, err = s.commit(ctx, path, func([]byte) ([]byte, error) { return data, nil })
		if !errors.Is(err, model.ErrTransactionConflict) {
			return doc, err
		}
	}
	return nil, fmt.Errorf("put %s: %w", path, err)
}

func (s *Store) Update(ctx context.Context, path string, fn store.UpdateFunc) (*store.Document, error) {
	return s.commit(ctx, path, fn)
}

func (s *Store) commit(ctx context.Context, path string, fn store.UpdateFunc) (*store.Document, error) {
	var committed *store.Document
	var appErr error

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key(path)).Result()
		if err != nil {
			return err
		}

		var current []byte
		var version int64
		if len(vals) > 0 {
			doc, err := docFromHash(path, vals)
			if err != nil {
				return err
			}
			current = doc.Data
			version = doc.Version
		}

		next, err := fn(current)
		if err != nil {
			// Rejection raised by the caller's transform, not a store
			// failure; remember it so it surfaces unwrapped.
			appErr = err
			return err
		}

		now := s.clock.Now().UTC()
		committed = &store.Document{
			Path:      path,
			Data:      next,
			Version:   version + 1,
			UpdatedAt: now,
		}
		payload, err := json.Marshal(committed)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key(path),
				"data", next,
				"version", committed.Version,
				"updatedAt", now.Format(time.RFC3339Nano),
			)
			pipe.Publish(ctx, channel(path), payload)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key(path))
	switch {
	case err == nil:
		return committed, nil
	case errors.Is(err, redis.TxFailedErr):
		return nil, model.ErrTransactionConflict
	case appErr != nil:
		return nil, appErr
	default:
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, key(path)).Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn store.SnapshotFunc) (store.CancelFunc, error) {
	pubsub := s.client.Subscribe(ctx, channel(path))
	// Force the subscription onto the wire before the initial read so no
	// commit can slip between snapshot and stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	var lastVersion int64
	deliver := func(doc *store.Document) {
		if doc.Version <= lastVersion {
			return
		}
		lastVersion = doc.Version
		fn(doc)
	}

	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()

		if doc, err := s.Get(ctx, path); err == nil {
			deliver(doc)
		} else if !errors.Is(err, model.ErrNotFound) {
			log.Warn().Err(err).Str("path", path).Msg("initial snapshot read failed")
		}

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var doc store.Document
				if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("dropping malformed snapshot")
					continue
				}
				deliver(&doc)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
	return cancel, nil
}

func docFromHash(path string, vals map[string]string) (*store.Document, error) {
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse version for %s: %w", path, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, vals["updatedAt"])
	if err != nil {
		return nil, fmt.Errorf("parse updatedAt for %s: %w", path, err)
	}
	return &store.Document{
		Path:      path,
		Data:      []byte(vals["data"]),
		Version:   version,
		UpdatedAt: updatedAt,
	}, nil
}
