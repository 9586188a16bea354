package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/internal/model"
	"classpulse/internal/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc, err := s.Put(ctx, "sessions/s1", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	got, err := s.Get(ctx, "sessions/s1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got.Data)
	assert.Equal(t, int64(1), got.Version)

	doc, err = s.Put(ctx, "sessions/s1", []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
}

func TestGetMissingPath(t *testing.T) {
	s := New()

	_, err := s.Get(context.Background(), "sessions/nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateAppliesTransform(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Put(ctx, "sessions/s1", []byte("a"))
	require.NoError(t, err)

	doc, err := s.Update(ctx, "sessions/s1", func(current []byte) ([]byte, error) {
		return append(current, 'b'), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), doc.Data)
	assert.Equal(t, int64(2), doc.Version)
}

func TestUpdateSeesNilForMissingPath(t *testing.T) {
	s := New()

	doc, err := s.Update(context.Background(), "sessions/new", func(current []byte) ([]byte, error) {
		require.Nil(t, current)
		return []byte("init"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}

func TestUpdateConflictWhenInterleaved(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Put(ctx, "sessions/s1", []byte("a"))
	require.NoError(t, err)

	_, err = s.Update(ctx, "sessions/s1", func(current []byte) ([]byte, error) {
		// Another writer commits between read and write.
		_, perr := s.Put(ctx, "sessions/s1", []byte("x"))
		require.NoError(t, perr)
		return []byte("b"), nil
	})
	assert.ErrorIs(t, err, model.ErrTransactionConflict)

	// The interleaved write survives.
	got, err := s.Get(ctx, "sessions/s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got.Data)
}

func TestUpdateAbortPropagatesError(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Put(ctx, "sessions/s1", []byte("a"))
	require.NoError(t, err)

	_, err = s.Update(ctx, "sessions/s1", func(current []byte) ([]byte, error) {
		return nil, model.ErrNotHost
	})
	assert.ErrorIs(t, err, model.ErrNotHost)

	got, err := s.Get(ctx, "sessions/s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got.Data)
	assert.Equal(t, int64(1), got.Version)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Put(ctx, "sessions/s1", []byte("a"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "sessions/s1"))
	require.NoError(t, s.Delete(ctx, "sessions/s1"))

	_, err = s.Get(ctx, "sessions/s1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// collector gathers snapshots delivered to a subscriber.
type collector struct {
	mu   sync.Mutex
	docs []*store.Document
}

func (c *collector) add(doc *store.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, doc)
}

func (c *collector) snapshot() []*store.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*store.Document(nil), c.docs...)
}

func TestSubscribeDeliversInitialThenUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Put(ctx, "sessions/s1", []byte("v1"))
	require.NoError(t, err)

	var c collector
	cancel, err := s.Subscribe(ctx, "sessions/s1", c.add)
	require.NoError(t, err)
	defer cancel()

	_, err = s.Put(ctx, "sessions/s1", []byte("v2"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "sessions/s1", []byte("v3"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	docs := c.snapshot()
	assert.Equal(t, []byte("v1"), docs[0].Data)
	assert.Equal(t, []byte("v2"), docs[1].Data)
	assert.Equal(t, []byte("v3"), docs[2].Data)
	// Versions are strictly increasing in commit order.
	for i := 1; i < len(docs); i++ {
		assert.Greater(t, docs[i].Version, docs[i-1].Version)
	}
}

func TestSubscribeMissingPathDeliversNothingUntilFirstWrite(t *testing.T) {
	s := New()
	ctx := context.Background()

	var c collector
	cancel, err := s.Subscribe(ctx, "sessions/s1", c.add)
	require.NoError(t, err)
	defer cancel()

	assert.Empty(t, c.snapshot())

	_, err = s.Put(ctx, "sessions/s1", []byte("v1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(c.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()

	var c collector
	cancel, err := s.Subscribe(ctx, "sessions/s1", c.add)
	require.NoError(t, err)

	cancel()
	cancel() // safe to call twice

	_, err = s.Put(ctx, "sessions/s1", []byte("v1"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestSubscribeIndependentPaths(t *testing.T) {
	s := New()
	ctx := context.Background()

	var c collector
	cancel, err := s.Subscribe(ctx, "sessions/s1", c.add)
	require.NoError(t, err)
	defer cancel()

	_, err = s.Put(ctx, "sessions/other", []byte("x"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.snapshot())
}
