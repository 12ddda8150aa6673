// Package ledger implements the reconciliation core: the pure replay of an
// ordered transaction history into derived cash and per-symbol holdings.
//
// Derived state is a function of the history and nothing else. Inserting,
// backdating, or deleting any transaction triggers a full replay of the
// user's entire history — never an incremental patch — so the snapshot can
// never drift from the log.
//
// All arithmetic uses shopspring/decimal — never float64 for money.
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/model"
)

// CostScale is the decimal scale of quantities and average costs, matching
// the NUMERIC(_, 8) columns they persist into. The replay rounds averages
// to this scale so a snapshot survives a store round-trip bit-exactly:
// without it a non-terminating average (2402.5/15) would come back rounded
// and a healthy rebuild would report divergence.
const CostScale = 8

// CashScale is the decimal scale of cash amounts, matching NUMERIC(_, 2).
const CashScale = 2

// Snapshot is the derived state for one user: the cash balance plus one
// holding per symbol with quantity > 0.
//
// Realized accumulates the gain locked in by every SELL, computed against
// the average cost at the sale's chronological position. It is a replay
// byproduct, not persisted state — snapshots loaded from a store carry
// zero — so Equal ignores it.
type Snapshot struct {
	Cash     decimal.Decimal
	Holdings map[string]model.Holding
	Realized decimal.Decimal
}

// NewSnapshot returns an empty snapshot with zero cash.
func NewSnapshot() *Snapshot {
	return &Snapshot{Cash: decimal.Zero, Holdings: make(map[string]model.Holding), Realized: decimal.Zero}
}

// HoldingList returns the holdings sorted by symbol.
func (s *Snapshot) HoldingList() []model.Holding {
	list := make([]model.Holding, 0, len(s.Holdings))
	for _, h := range s.Holdings {
		list = append(list, h)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	return list
}

// Equal reports whether two snapshots carry the same cash balance and the
// same holdings. Decimal comparison ignores representation (1.50 == 1.5).
func (s *Snapshot) Equal(other *Snapshot) bool {
	if other == nil || !s.Cash.Equal(other.Cash) || len(s.Holdings) != len(other.Holdings) {
		return false
	}
	for sym, h := range s.Holdings {
		oh, ok := other.Holdings[sym]
		if !ok || !h.Quantity.Equal(oh.Quantity) || !h.AverageCost.Equal(oh.AverageCost) {
			return false
		}
	}
	return true
}

// Sort returns a copy of txns in canonical replay order:
// transaction_date, then created_at, then id, all ascending. This total
// order decouples entry order from logical order — a backdated transaction
// replays in its dated position, not its insertion position.
func Sort(txns []model.Transaction) []model.Transaction {
	ordered := make([]model.Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ordered
}

// Replay reconstructs the derived state from an empty snapshot by applying
// every transaction in canonical order. It is deterministic and free of
// I/O: the same history always yields the same snapshot.
//
// The first transaction that would violate an invariant aborts the replay
// with an InsufficientFundsError, InsufficientSharesError, or
// ValidationError identifying it.
func Replay(txns []model.Transaction) (*Snapshot, error) {
	snap := NewSnapshot()
	for _, t := range Sort(txns) {
		if err := snap.apply(t); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *Snapshot) apply(t model.Transaction) error {
	switch t.Type {
	case model.TypeDeposit:
		s.Cash = s.Cash.Add(t.TotalAmount)

	case model.TypeWithdrawal:
		if s.Cash.LessThan(t.TotalAmount) {
			return &InsufficientFundsError{TransactionID: t.ID, Cash: s.Cash, Required: t.TotalAmount}
		}
		s.Cash = s.Cash.Sub(t.TotalAmount)

	case model.TypeBuy:
		cost := t.TotalAmount.Add(t.Fees)
		if s.Cash.LessThan(cost) {
			return &InsufficientFundsError{TransactionID: t.ID, Cash: s.Cash, Required: cost}
		}
		s.Cash = s.Cash.Sub(cost)

		h, ok := s.Holdings[t.Symbol]
		if !ok {
			s.Holdings[t.Symbol] = model.Holding{
				Symbol:      t.Symbol,
				Quantity:    t.Quantity,
				AverageCost: t.Price,
			}
			break
		}
		// Running weighted average over the cost basis, kept at the
		// persisted scale.
		newQty := h.Quantity.Add(t.Quantity)
		basis := h.Quantity.Mul(h.AverageCost).Add(t.Quantity.Mul(t.Price))
		h.Quantity = newQty
		h.AverageCost = basis.Div(newQty).Round(CostScale)
		s.Holdings[t.Symbol] = h

	case model.TypeSell:
		h, ok := s.Holdings[t.Symbol]
		if !ok || h.Quantity.LessThan(t.Quantity) {
			held := decimal.Zero
			if ok {
				held = h.Quantity
			}
			return &InsufficientSharesError{TransactionID: t.ID, Symbol: t.Symbol, Held: held, Requested: t.Quantity}
		}
		s.Cash = s.Cash.Add(t.TotalAmount.Sub(t.Fees))
		s.Realized = s.Realized.Add(RealizedGain(h.AverageCost, t.Price, t.Quantity, t.Fees))

		// A sale never moves the average cost. A position sold to zero is
		// removed entirely; the next BUY restarts the cost basis fresh.
		h.Quantity = h.Quantity.Sub(t.Quantity)
		if h.Quantity.IsZero() {
			delete(s.Holdings, t.Symbol)
		} else {
			s.Holdings[t.Symbol] = h
		}

	default:
		return &ValidationError{Reason: "unknown transaction type " + string(t.Type)}
	}
	return nil
}

// RealizedGain computes the profit locked in by a SELL against the average
// cost held at the time of sale: (price − avg_cost)×quantity − fees.
func RealizedGain(avgCost, price, quantity, fees decimal.Decimal) decimal.Decimal {
	return price.Sub(avgCost).Mul(quantity).Sub(fees)
}
