// Package store defines the persistence interface for the portfolio
// service. Implementations include PostgreSQL (source of truth), Redis
// (read-through snapshot cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("store: already exists")
)

// Store is the persistence interface. The transaction log is the source of
// truth; holdings and cash are a cached snapshot that is only ever written
// together with the log change that produced it.
type Store interface {
	// --- Immutable transaction log ---

	// ListTransactions returns every transaction for a user, newest first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// GetTransaction retrieves one transaction scoped to its owner.
	GetTransaction(ctx context.Context, userID string, id int64) (*model.Transaction, error)

	// ApplyCreate atomically appends a transaction and replaces the user's
	// derived snapshot. The store assigns ID and CreatedAt; the stored
	// transaction is returned.
	ApplyCreate(ctx context.Context, txn *model.Transaction, snap *ledger.Snapshot) (*model.Transaction, error)

	// ApplyDelete atomically removes a transaction and replaces the user's
	// derived snapshot. Returns ErrNotFound when the transaction does not
	// exist for that user.
	ApplyDelete(ctx context.Context, userID string, id int64, snap *ledger.Snapshot) error

	// --- Derived snapshot ---

	// GetSnapshot returns the persisted cash balance and holdings. A user
	// with no history gets an empty snapshot.
	GetSnapshot(ctx context.Context, userID string) (*ledger.Snapshot, error)

	// ReplaceSnapshot overwrites the derived snapshot without touching the
	// log. Used by the maintenance rebuild.
	ReplaceSnapshot(ctx context.Context, userID string, snap *ledger.Snapshot) error

	// --- Watchlist ---

	// AddWatchlistItem inserts a bookmark; ErrDuplicate when the symbol is
	// already on the user's watchlist.
	AddWatchlistItem(ctx context.Context, item *model.WatchlistItem) error

	// ListWatchlist returns a user's watchlist, newest first.
	ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistItem, error)

	// DeleteWatchlistItem removes a bookmark by ID scoped to its owner.
	DeleteWatchlistItem(ctx context.Context, userID, id string) error
}
