// Package store persists the mirror's change journal. Implementations
// include PostgreSQL (source of truth), Redis (read-through cache), and
// in-memory (for testing). The journal is an audit trail: the mirror is
// always rebuilt from chain on start, never from the store.
package store

import (
	"context"
	"errors"

	"github.com/moneyprotocol/engineering-sub002/internal/model"
)

// ErrNotFound is returned when a record or snapshot does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Immutable change journal ---

	// AppendChange appends an immutable change record.
	AppendChange(ctx context.Context, rec *model.ChangeRecord) error

	// GetChange retrieves a change record by its ID.
	GetChange(ctx context.Context, id string) (*model.ChangeRecord, error)

	// RecentChanges returns up to limit records, newest first.
	RecentChanges(ctx context.Context, limit int) ([]model.ChangeRecord, error)

	// --- Latest snapshot ---

	// SaveSnapshot replaces the latest full state.
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error

	// LatestSnapshot returns the last saved state, or ErrNotFound.
	LatestSnapshot(ctx context.Context) (*model.Snapshot, error)
}
