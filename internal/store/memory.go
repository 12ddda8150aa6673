package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	txns      map[string][]model.Transaction    // userID → log
	snapshots map[string]*ledger.Snapshot       // userID → derived state
	watch     map[string][]model.WatchlistItem  // userID → watchlist
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:    1,
		txns:      make(map[string][]model.Transaction),
		snapshots: make(map[string]*ledger.Snapshot),
		watch:     make(map[string][]model.WatchlistItem),
	}
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]model.Transaction, len(s.txns[userID]))
	copy(list, s.txns[userID])
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].TransactionDate.Equal(list[j].TransactionDate) {
			return list[i].TransactionDate.After(list[j].TransactionDate)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, userID string, id int64) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.txns[userID] {
		if t.ID == id {
			copy := t
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
}

func (s *MemoryStore) ApplyCreate(_ context.Context, txn *model.Transaction, snap *ledger.Snapshot) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *txn
	stored.ID = s.nextID
	s.nextID++
	stored.CreatedAt = time.Now().UTC()

	s.txns[stored.UserID] = append(s.txns[stored.UserID], stored)
	s.snapshots[stored.UserID] = copySnapshot(snap)
	return &stored, nil
}

func (s *MemoryStore) ApplyDelete(_ context.Context, userID string, id int64, snap *ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.txns[userID]
	for i, t := range log {
		if t.ID == id {
			s.txns[userID] = append(log[:i:i], log[i+1:]...)
			s.snapshots[userID] = copySnapshot(snap)
			return nil
		}
	}
	return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
}

func (s *MemoryStore) GetSnapshot(_ context.Context, userID string) (*ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[userID]
	if !ok {
		return ledger.NewSnapshot(), nil
	}
	return copySnapshot(snap), nil
}

func (s *MemoryStore) ReplaceSnapshot(_ context.Context, userID string, snap *ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[userID] = copySnapshot(snap)
	return nil
}

func (s *MemoryStore) AddWatchlistItem(_ context.Context, item *model.WatchlistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.watch[item.UserID] {
		if existing.Symbol == item.Symbol {
			return fmt.Errorf("watchlist %s: %w", item.Symbol, ErrDuplicate)
		}
	}
	s.watch[item.UserID] = append(s.watch[item.UserID], *item)
	return nil
}

func (s *MemoryStore) ListWatchlist(_ context.Context, userID string) ([]model.WatchlistItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]model.WatchlistItem, len(s.watch[userID]))
	copy(list, s.watch[userID])
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (s *MemoryStore) DeleteWatchlistItem(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.watch[userID]
	for i, item := range items {
		if item.ID == id {
			s.watch[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("watchlist item %s: %w", id, ErrNotFound)
}

func copySnapshot(snap *ledger.Snapshot) *ledger.Snapshot {
	out := ledger.NewSnapshot()
	out.Cash = snap.Cash
	for sym, h := range snap.Holdings {
		out.Holdings[sym] = h
	}
	return out
}
