package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moneyprotocol/engineering-sub002/internal/model"
)

// cachedRecent is how many of the newest change records the cache holds.
const cachedRecent = 100

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendChange(ctx context.Context, rec *model.ChangeRecord) error {
	if err := s.primary.AppendChange(ctx, rec); err != nil {
		return err
	}
	// Invalidate the recent list; next read will re-populate.
	s.rdb.Del(ctx, recentKey)
	s.cache(ctx, changeKey(rec.ID), rec)
	return nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cache(ctx, snapshotKey, snap)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetChange(ctx context.Context, id string) (*model.ChangeRecord, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, changeKey(id)).Bytes()
	if err == nil {
		var c model.ChangeRecord
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	// Cache miss: read from primary.
	c, err := s.primary.GetChange(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, changeKey(id), c)
	return c, nil
}

// RecentChanges serves limits up to cachedRecent from one cached list.
// Larger limits go straight to the primary.
func (s *CachedStore) RecentChanges(ctx context.Context, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 || limit > cachedRecent {
		return s.primary.RecentChanges(ctx, limit)
	}

	// Try cache.
	data, err := s.rdb.Get(ctx, recentKey).Bytes()
	if err == nil {
		var changes []model.ChangeRecord
		if json.Unmarshal(data, &changes) == nil {
			return head(changes, limit), nil
		}
	}

	// Cache miss.
	changes, err := s.primary.RecentChanges(ctx, cachedRecent)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, recentKey, changes)
	return head(changes, limit), nil
}

func (s *CachedStore) LatestSnapshot(ctx context.Context) (*model.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, snapshotKey, snap)
	return snap, nil
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func head(changes []model.ChangeRecord, limit int) []model.ChangeRecord {
	if len(changes) > limit {
		return changes[:limit]
	}
	return changes
}

const (
	recentKey   = "changes:recent"
	snapshotKey = "snapshot:latest"
)

func changeKey(id string) string { return fmt.Sprintf("change:%s", id) }
