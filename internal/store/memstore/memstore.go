// Package memstore is an in-process Store used by tests and single-node
// deployments. It provides the same guarantees the service relies on in
// production: per-path total write order and full-snapshot delivery.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

const subscriberBuffer = 64

type document struct {
	data      []byte
	version   int64
	updatedAt time.Time
}

type subscriber struct {
	ch   chan *store.Document
	done chan struct{}
}

// Store implements store.Store in memory.
type Store struct {
	mu    sync.Mutex
	docs  map[string]*document
	subs  map[string]map[*subscriber]struct{}
	clock clockwork.Clock
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return NewWithClock(clockwork.NewRealClock())
}

func NewWithClock(clock clockwork.Clock) *Store {
	return &Store{
		docs:  make(map[string]*document),
		subs:  make(map[string]map[*subscriber]struct{}),
		clock: clock,
	}
}

func (s *Store) Get(ctx context.Context, path string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, model.ErrNotFound
	}
	return snapshot(path, doc), nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(path, data), nil
}

func (s *Store) Update(ctx context.Context, path string, fn store.UpdateFunc) (*store.Document, error) {
	s.mu.Lock()
	var current []byte
	var version int64
	if doc, ok := s.docs[path]; ok {
		current = append([]byte(nil), doc.data...)
		version = doc.version
	}
	s.mu.Unlock()

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The in-process lock was released while fn ran, so another writer
	// may have committed; mirror the CAS failure a remote store returns.
	if doc, ok := s.docs[path]; ok && doc.version != version {
		return nil, model.ErrTransactionConflict
	} else if !ok && version != 0 {
		return nil, model.ErrTransactionConflict
	}
	return s.commit(path, next), nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, path)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn store.SnapshotFunc) (store.CancelFunc, error) {
	sub := &subscriber{
		ch:   make(chan *store.Document, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[path] == nil {
		s.subs[path] = make(map[*subscriber]struct{})
	}
	s.subs[path][sub] = struct{}{}
	// Latest committed value first, then updates, all in commit order.
	if doc, ok := s.docs[path]; ok {
		sub.ch <- snapshot(path, doc)
	}
	s.mu.Unlock()

	go func() {
		for {
			select {
			case doc := <-sub.ch:
				fn(doc)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[path], sub)
			s.mu.Unlock()
			close(sub.done)
		})
	}
	return cancel, nil
}

// commit stores the new value and fans the snapshot out. Callers hold mu.
func (s *Store) commit(path string, data []byte) *store.Document {
	doc, ok := s.docs[path]
	if !ok {
		doc = &document{}
		s.docs[path] = doc
	}
	doc.data = append([]byte(nil), data...)
	doc.version++
	doc.updatedAt = s.clock.Now()

	snap := snapshot(path, doc)
	for sub := range s.subs[path] {
		select {
		case sub.ch <- snap:
		default:
			// Slow subscriber: drop. Every delivery is a full snapshot,
			// so the next one supersedes whatever was missed.
		}
	}
	return snap
}

func snapshot(path string, doc *document) *store.Document {
	return &store.Document{
		Path:      path,
		Data:      append([]byte(nil), doc.data...),
		Version:   doc.version,
		UpdatedAt: doc.updatedAt,
	}
}
