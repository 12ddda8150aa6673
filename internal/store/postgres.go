package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Transaction IDs come from a BIGSERIAL, so they are unique and monotonic
// in insertion order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const txnColumns = `id, user_id, transaction_type,
	COALESCE(symbol, ''),
	COALESCE(quantity, 0)::TEXT, COALESCE(price, 0)::TEXT,
	total_amount::TEXT, fees::TEXT,
	COALESCE(notes, ''), transaction_date, created_at`

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txnColumns+`
		 FROM transactions WHERE user_id = $1
		 ORDER BY transaction_date DESC, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) GetTransaction(ctx context.Context, userID string, id int64) (*model.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txnColumns+`
		 FROM transactions WHERE user_id = $1 AND id = $2`, userID, id)

	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) ApplyCreate(ctx context.Context, txn *model.Transaction, snap *ledger.Snapshot) (*model.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	stored := *txn
	stored.CreatedAt = time.Now().UTC()

	err = tx.QueryRow(ctx,
		`INSERT INTO transactions
		   (user_id, transaction_type, symbol, quantity, price, total_amount, fees, notes, transaction_date, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, '')::NUMERIC, NULLIF($5, '')::NUMERIC,
		         $6::NUMERIC, $7::NUMERIC, NULLIF($8, ''), $9, $10)
		 RETURNING id`,
		stored.UserID, string(stored.Type), stored.Symbol,
		tradeNumeric(stored.Type, stored.Quantity), tradeNumeric(stored.Type, stored.Price),
		stored.TotalAmount.String(), stored.Fees.String(),
		stored.Notes, stored.TransactionDate, stored.CreatedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := writeSnapshot(ctx, tx, stored.UserID, snap); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *PostgresStore) ApplyDelete(ctx context.Context, userID string, id int64, snap *ledger.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM transactions WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}

	if err := writeSnapshot(ctx, tx, userID, snap); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, userID string) (*ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()

	var cash string
	err := s.pool.QueryRow(ctx,
		`SELECT cash_balance::TEXT FROM users WHERE id = $1`, userID).Scan(&cash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return snap, nil
	case err != nil:
		return nil, fmt.Errorf("get cash balance %s: %w", userID, err)
	}
	snap.Cash, _ = decimal.NewFromString(cash)

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, quantity::TEXT, average_cost::TEXT
		 FROM stock_holdings WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h model.Holding
		var qty, avg string
		if err := rows.Scan(&h.Symbol, &qty, &avg); err != nil {
			return nil, err
		}
		h.Quantity, _ = decimal.NewFromString(qty)
		h.AverageCost, _ = decimal.NewFromString(avg)
		snap.Holdings[h.Symbol] = h
	}
	return snap, rows.Err()
}

func (s *PostgresStore) ReplaceSnapshot(ctx context.Context, userID string, snap *ledger.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := writeSnapshot(ctx, tx, userID, snap); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// writeSnapshot replaces the derived rows inside an open transaction, so a
// reader observes either the pre- or post-write snapshot, never a mix.
func writeSnapshot(ctx context.Context, tx pgx.Tx, userID string, snap *ledger.Snapshot) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO users (id, cash_balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET cash_balance = EXCLUDED.cash_balance`,
		userID, snap.Cash.String())
	if err != nil {
		return fmt.Errorf("update cash balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM stock_holdings WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear holdings: %w", err)
	}

	for _, h := range snap.HoldingList() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO stock_holdings (user_id, symbol, quantity, average_cost)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)`,
			userID, h.Symbol, h.Quantity.String(), h.AverageCost.String()); err != nil {
			return fmt.Errorf("insert holding %s: %w", h.Symbol, err)
		}
	}
	return nil
}

func (s *PostgresStore) AddWatchlistItem(ctx context.Context, item *model.WatchlistItem) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO watchlists (id, user_id, symbol, target_price, notes, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		item.ID, item.UserID, item.Symbol, numericOrNil(item.TargetPrice), item.Notes, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert watchlist item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist %s: %w", item.Symbol, ErrDuplicate)
	}
	return nil
}

func (s *PostgresStore) ListWatchlist(ctx context.Context, userID string) ([]model.WatchlistItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, target_price::TEXT, COALESCE(notes, ''), created_at
		 FROM watchlists WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.WatchlistItem
	for rows.Next() {
		var item model.WatchlistItem
		var target *string
		if err := rows.Scan(&item.ID, &item.UserID, &item.Symbol, &target, &item.Notes, &item.CreatedAt); err != nil {
			return nil, err
		}
		if target != nil {
			t, _ := decimal.NewFromString(*target)
			item.TargetPrice = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteWatchlistItem(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlists WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist item %s: %w", id, ErrNotFound)
	}
	return nil
}

// tradeNumeric renders quantity/price for storage: empty (NULL) for cash
// transactions, the decimal text otherwise.
func tradeNumeric(typ model.TransactionType, d decimal.Decimal) string {
	if !typ.IsTrade() {
		return ""
	}
	return d.String()
}

func numericOrNil(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		t, err := scanTransactionInto(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func scanTransaction(row pgxRow) (*model.Transaction, error) {
	return scanTransactionInto(row)
}

func scanTransactionInto(row pgxRow) (*model.Transaction, error) {
	var t model.Transaction
	var typ, qty, price, total, fees string

	if err := row.Scan(&t.ID, &t.UserID, &typ, &t.Symbol,
		&qty, &price, &total, &fees,
		&t.Notes, &t.TransactionDate, &t.CreatedAt); err != nil {
		return nil, err
	}

	t.Type = model.TransactionType(typ)
	t.Quantity, _ = decimal.NewFromString(qty)
	t.Price, _ = decimal.NewFromString(price)
	t.TotalAmount, _ = decimal.NewFromString(total)
	t.Fees, _ = decimal.NewFromString(fees)
	return &t, nil
}
