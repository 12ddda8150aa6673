package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the derived snapshot. Writes go to the primary store and
// invalidate the cache; snapshot reads check Redis first then fall back to
// the primary. The transaction log itself is never cached — list reads are
// rare compared to portfolio reads.
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

// cachedSnapshot is the Redis wire form of a ledger.Snapshot.
type cachedSnapshot struct {
	Cash     string          `json:"cash"`
	Holdings []model.Holding `json:"holdings"`
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) ApplyCreate(ctx context.Context, txn *model.Transaction, snap *ledger.Snapshot) (*model.Transaction, error) {
	stored, err := s.primary.ApplyCreate(ctx, txn, snap)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, snapshotKey(txn.UserID))
	return stored, nil
}

func (s *CachedStore) ApplyDelete(ctx context.Context, userID string, id int64, snap *ledger.Snapshot) error {
	if err := s.primary.ApplyDelete(ctx, userID, id, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(userID))
	return nil
}

func (s *CachedStore) ReplaceSnapshot(ctx context.Context, userID string, snap *ledger.Snapshot) error {
	if err := s.primary.ReplaceSnapshot(ctx, userID, snap); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(userID))
	return nil
}

// --- Snapshot read-through ---

func (s *CachedStore) GetSnapshot(ctx context.Context, userID string) (*ledger.Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(userID)).Bytes()
	if err == nil {
		var cached cachedSnapshot
		if json.Unmarshal(data, &cached) == nil {
			if snap, err := cached.toSnapshot(); err == nil {
				return snap, nil
			}
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.GetSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	cached := cachedSnapshot{Cash: snap.Cash.String(), Holdings: snap.HoldingList()}
	if data, err := json.Marshal(cached); err == nil {
		s.rdb.Set(ctx, snapshotKey(userID), data, s.ttl)
	}
	return snap, nil
}

func (c *cachedSnapshot) toSnapshot() (*ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()
	cash, err := decimal.NewFromString(c.Cash)
	if err != nil {
		return nil, err
	}
	snap.Cash = cash
	for _, h := range c.Holdings {
		snap.Holdings[h.Symbol] = h
	}
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, userID)
}

func (s *CachedStore) GetTransaction(ctx context.Context, userID string, id int64) (*model.Transaction, error) {
	return s.primary.GetTransaction(ctx, userID, id)
}

func (s *CachedStore) AddWatchlistItem(ctx context.Context, item *model.WatchlistItem) error {
	return s.primary.AddWatchlistItem(ctx, item)
}

func (s *CachedStore) ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistItem, error) {
	return s.primary.ListWatchlist(ctx, userID)
}

func (s *CachedStore) DeleteWatchlistItem(ctx context.Context, userID, id string) error {
	return s.primary.DeleteWatchlistItem(ctx, userID, id)
}

func snapshotKey(userID string) string { return fmt.Sprintf("snapshot:%s", userID) }
