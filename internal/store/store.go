package store

import (
	"context"
	"time"
)

// Document is one committed value at a path. Version is the per-path
// commit sequence; it orders writes to a single path and nothing else.
type Document struct {
	Path      string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// UpdateFunc transforms the current document data (nil when the path is
// absent) into the next value. Returning an error aborts the update.
type UpdateFunc func(current []byte) ([]byte, error)

// SnapshotFunc receives every committed snapshot of a subscribed path.
// Each call carries the full document, never a diff.
type SnapshotFunc func(doc *Document)

// CancelFunc releases a subscription. Callers must invoke it on session
// exit; a leaked listener is a resource leak even when harmless.
type CancelFunc func()

// Store is the shared document store all live session state goes
// through. Writes to one path are totally ordered; no ordering is
// guaranteed across paths, so cross-document invariants must be
// eventually consistent and idempotent.
type Store interface {
	// Get returns the current document, or model.ErrNotFound.
	Get(ctx context.Context, path string) (*Document, error)

	// Put replaces the document wholesale (last writer wins).
	Put(ctx context.Context, path string, data []byte) (*Document, error)

	// Update applies fn under optimistic concurrency: the commit fails
	// with model.ErrTransactionConflict when another writer got in
	// between the read and the write. Callers retry with backoff.
	Update(ctx context.Context, path string, fn UpdateFunc) (*Document, error)

	// Subscribe delivers the current committed snapshot (if the path
	// exists), then every subsequent committed snapshot in commit order.
	Subscribe(ctx context.Context, path string, fn SnapshotFunc) (CancelFunc, error)

	// Delete removes the document. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error
}
