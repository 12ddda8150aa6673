// Package portfolio provides the HTTP handlers and orchestration for the
// transaction ledger: create/delete with full-history replay, portfolio
// reads with live valuation, and the maintenance rebuild.
//
// All monetary values use shopspring/decimal — never float64 for money.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/metrics"
	"github.com/davidh052/trading-portfolio/internal/model"
	"github.com/davidh052/trading-portfolio/internal/store"
	"github.com/davidh052/trading-portfolio/internal/valuation"
)

// Service orchestrates the ledger: it owns the per-user write locks and is
// the only component that invokes the reconciler and persists its output.
type Service struct {
	store  store.Store
	engine *valuation.Engine
	locks  *userLocks
}

// NewService creates a new ledger service.
func NewService(st store.Store, engine *valuation.Engine) *Service {
	return &Service{
		store:  st,
		engine: engine,
		locks:  newUserLocks(),
	}
}

// --- Request/Response types ---

// CreateTransactionRequest is the JSON body for transaction creation.
// Fields are interpreted per transaction_type: symbol/quantity/price for
// BUY/SELL (total_amount derived when omitted), total_amount verbatim for
// DEPOSIT/WITHDRAWAL. The caller resolves live prices before calling — the
// ledger core does no quote I/O.
type CreateTransactionRequest struct {
	Type            model.TransactionType `json:"transaction_type"`
	Symbol          string                `json:"symbol"`
	Quantity        decimal.Decimal       `json:"quantity"`
	Price           decimal.Decimal       `json:"price"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	Fees            decimal.Decimal       `json:"fees"`
	Notes           string                `json:"notes"`
	TransactionDate time.Time             `json:"transaction_date"`
}

// CreateTransactionResponse returns the stored transaction and the state
// it produced. RealizedGain is set for SELL transactions only.
type CreateTransactionResponse struct {
	Transaction  model.Transaction `json:"transaction"`
	CashBalance  decimal.Decimal   `json:"cash_balance"`
	Holdings     []model.Holding   `json:"holdings"`
	RealizedGain *decimal.Decimal  `json:"realized_gain,omitempty"`
}

// RebuildResponse reports the outcome of a maintenance rebuild.
type RebuildResponse struct {
	CashBalance decimal.Decimal `json:"cash_balance"`
	Holdings    []model.Holding `json:"holdings"`
	Diverged    bool            `json:"diverged"`
}

// --- HTTP Handlers ---

// CreateTransaction handles POST /api/v1/users/{userID}/transactions.
//
// The candidate is appended to the user's full history and the whole
// sequence is replayed; only a history that satisfies every invariant is
// persisted, atomically with its derived snapshot. Any rejection leaves
// the ledger untouched.
func (s *Service) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	candidate, err := buildTransaction(userID, req)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	// A decided write must finish even if the client goes away; an
	// abandoned half-write would be indistinguishable from corruption.
	ctx := context.WithoutCancel(r.Context())

	unlock := s.locks.Lock(userID)
	defer unlock()

	history, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load transaction history", http.StatusInternalServerError)
		return
	}

	// Stand-in ordering keys for the replay; the store assigns the real
	// ones on persist, preserving their relative position.
	candidate.CreatedAt = time.Now().UTC()
	candidate.ID = maxID(history) + 1

	snap, err := s.replay(append(append([]model.Transaction{}, history...), candidate))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	stored, err := s.store.ApplyCreate(ctx, &candidate, snap)
	if err != nil {
		slog.Error("failed to persist transaction", "user", userID, "err", err)
		writeError(w, "failed to persist transaction", http.StatusInternalServerError)
		return
	}

	metrics.TransactionsTotal.WithLabelValues(string(stored.Type)).Inc()

	resp := CreateTransactionResponse{
		Transaction: *stored,
		CashBalance: snap.Cash,
		Holdings:    snap.HoldingList(),
	}
	if stored.Type == model.TypeSell {
		// The prior history replays cleanly by construction; the delta in
		// cumulative realized P&L is exactly this sale's gain.
		if before, err := s.replay(history); err == nil {
			gain := snap.Realized.Sub(before.Realized)
			resp.RealizedGain = &gain
		}
	}

	slog.Info("transaction accepted",
		"id", stored.ID,
		"user", userID,
		"type", stored.Type,
		"symbol", stored.Symbol,
		"total", stored.TotalAmount.String(),
		"cash", snap.Cash.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// DeleteTransaction handles DELETE /api/v1/users/{userID}/transactions/{id}.
//
// The remainder of the history is replayed as if the transaction had never
// existed. A removal that would invalidate later transactions (deleting
// the deposit that funded a buy) is rejected, since the ledger must always
// replay cleanly.
func (s *Service) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())

	unlock := s.locks.Lock(userID)
	defer unlock()

	history, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load transaction history", http.StatusInternalServerError)
		return
	}

	remainder := make([]model.Transaction, 0, len(history))
	found := false
	for _, t := range history {
		if t.ID == id {
			found = true
			continue
		}
		remainder = append(remainder, t)
	}
	if !found {
		writeError(w, "transaction not found", http.StatusNotFound)
		return
	}

	snap, err := s.replay(remainder)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	if err := s.store.ApplyDelete(ctx, userID, id, snap); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to delete transaction", "user", userID, "id", id, "err", err)
		writeError(w, "failed to delete transaction", http.StatusInternalServerError)
		return
	}

	slog.Info("transaction deleted", "id", id, "user", userID, "cash", snap.Cash.String())
	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions handles GET /api/v1/users/{userID}/transactions.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.store.ListTransactions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// GetTransaction handles GET /api/v1/users/{userID}/transactions/{id}.
func (s *Service) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, "invalid transaction id", http.StatusBadRequest)
		return
	}

	txn, err := s.store.GetTransaction(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// GetPortfolio handles GET /api/v1/users/{userID}/portfolio.
// Serves the persisted snapshot combined with live quotes — no replay.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snap, err := s.store.GetSnapshot(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	v := s.engine.Value(r.Context(), userID, snap.Cash, snap.HoldingList())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// RebuildPortfolio handles POST /api/v1/users/{userID}/portfolio/rebuild.
//
// Maintenance operation: replays the full history from scratch and
// persists the result. If the previously persisted snapshot disagrees
// with the fresh replay, the divergence is flagged in the response and
// logged for operator investigation — the drift itself is never hidden.
func (s *Service) RebuildPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := context.WithoutCancel(r.Context())

	unlock := s.locks.Lock(userID)
	defer unlock()

	history, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load transaction history", http.StatusInternalServerError)
		return
	}

	snap, err := s.replay(history)
	if err != nil {
		// A previously accepted history must always replay. This is the
		// fatal kind of inconsistency, not a user error.
		cerr := &ledger.ConsistencyError{Reason: "persisted history no longer replays: " + err.Error()}
		slog.Error("ledger consistency violation", "user", userID, "err", cerr)
		metrics.RebuildDivergence.Inc()
		writeError(w, cerr.Error(), http.StatusInternalServerError)
		return
	}

	persisted, err := s.store.GetSnapshot(ctx, userID)
	if err != nil {
		writeError(w, "failed to load persisted snapshot", http.StatusInternalServerError)
		return
	}

	diverged := !snap.Equal(persisted)
	if diverged {
		metrics.RebuildDivergence.Inc()
		slog.Error("persisted snapshot diverged from replay",
			"user", userID,
			"persisted_cash", persisted.Cash.String(),
			"replayed_cash", snap.Cash.String(),
		)
	}

	if err := s.store.ReplaceSnapshot(ctx, userID, snap); err != nil {
		writeError(w, "failed to persist rebuilt snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RebuildResponse{
		CashBalance: snap.Cash,
		Holdings:    snap.HoldingList(),
		Diverged:    diverged,
	})
}

// --- Internals ---

// buildTransaction dispatches to the per-type constructor. Each variant
// carries exactly its required fields; anything else is a ValidationError.
func buildTransaction(userID string, req CreateTransactionRequest) (model.Transaction, error) {
	switch req.Type {
	case model.TypeDeposit:
		return ledger.NewDeposit(userID, req.TotalAmount, req.Notes, req.TransactionDate)
	case model.TypeWithdrawal:
		return ledger.NewWithdrawal(userID, req.TotalAmount, req.Notes, req.TransactionDate)
	case model.TypeBuy:
		return ledger.NewBuy(userID, req.Symbol, req.Quantity, req.Price, req.TotalAmount, req.Fees, req.Notes, req.TransactionDate)
	case model.TypeSell:
		return ledger.NewSell(userID, req.Symbol, req.Quantity, req.Price, req.TotalAmount, req.Fees, req.Notes, req.TransactionDate)
	default:
		return model.Transaction{}, &ledger.ValidationError{Reason: "transaction_type must be BUY, SELL, DEPOSIT or WITHDRAWAL"}
	}
}

func (s *Service) replay(txns []model.Transaction) (*ledger.Snapshot, error) {
	start := time.Now()
	snap, err := ledger.Replay(txns)
	metrics.ReplayDuration.Observe(time.Since(start).Seconds())
	metrics.ReplayLength.Observe(float64(len(txns)))
	return snap, err
}

func maxID(txns []model.Transaction) int64 {
	var max int64
	for _, t := range txns {
		if t.ID > max {
			max = t.ID
		}
	}
	return max
}

// writeLedgerError maps the ledger error taxonomy onto HTTP statuses.
func (s *Service) writeLedgerError(w http.ResponseWriter, err error) {
	var (
		verr  *ledger.ValidationError
		ferr  *ledger.InsufficientFundsError
		sherr *ledger.InsufficientSharesError
	)
	switch {
	case errors.As(err, &verr):
		metrics.RejectionsTotal.WithLabelValues("validation").Inc()
		writeError(w, verr.Error(), http.StatusBadRequest)
	case errors.As(err, &ferr):
		metrics.RejectionsTotal.WithLabelValues("insufficient_funds").Inc()
		writeError(w, ferr.Error(), http.StatusConflict)
	case errors.As(err, &sherr):
		metrics.RejectionsTotal.WithLabelValues("insufficient_shares").Inc()
		writeError(w, sherr.Error(), http.StatusConflict)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
