package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports a malformed transaction: missing or non-positive
// fields for its type, or a total_amount that disagrees with
// quantity×price beyond the rounding tolerance. Nothing is mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "ledger: invalid transaction: " + e.Reason
}

// InsufficientFundsError reports a WITHDRAWAL or BUY that would drive the
// cash balance negative at its position in chronological order.
type InsufficientFundsError struct {
	TransactionID int64
	Cash          decimal.Decimal
	Required      decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds: have %s, need %s",
		e.Cash.StringFixed(2), e.Required.StringFixed(2))
}

// InsufficientSharesError reports a SELL that exceeds the quantity held at
// its position in chronological order. Short selling is not supported.
type InsufficientSharesError struct {
	TransactionID int64
	Symbol        string
	Held          decimal.Decimal
	Requested     decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("ledger: insufficient shares of %s: have %s, selling %s",
		e.Symbol, e.Held.String(), e.Requested.String())
}

// ConsistencyError reports that a history which was previously accepted no
// longer replays to the persisted state. This is never a user error — it
// indicates drift and must be surfaced for operator investigation, not
// silently corrected.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return "ledger: consistency violation: " + e.Reason
}
