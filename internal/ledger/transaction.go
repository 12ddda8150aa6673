package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/model"
)

// Tolerance is the maximum absolute difference allowed between a trade's
// total_amount and quantity×price. One unit of the smallest currency
// increment absorbs rounding at the boundary.
var Tolerance = decimal.NewFromFloat(0.01)

// Each transaction type is constructed through its own function carrying
// exactly the fields that type requires, checked exhaustively here rather
// than validated field-by-field downstream. The returned transaction has
// no ID and no CreatedAt — the store assigns both on persist.

// NewDeposit builds a cash deposit.
func NewDeposit(userID string, amount decimal.Decimal, notes string, date time.Time) (model.Transaction, error) {
	if err := validateCash(userID, amount); err != nil {
		return model.Transaction{}, err
	}
	return model.Transaction{
		UserID:          userID,
		Type:            model.TypeDeposit,
		TotalAmount:     amount,
		Fees:            decimal.Zero,
		Notes:           notes,
		TransactionDate: orNow(date),
	}, nil
}

// NewWithdrawal builds a cash withdrawal. Whether the balance covers it is
// decided during replay, at the withdrawal's chronological position.
func NewWithdrawal(userID string, amount decimal.Decimal, notes string, date time.Time) (model.Transaction, error) {
	if err := validateCash(userID, amount); err != nil {
		return model.Transaction{}, err
	}
	return model.Transaction{
		UserID:          userID,
		Type:            model.TypeWithdrawal,
		TotalAmount:     amount,
		Fees:            decimal.Zero,
		Notes:           notes,
		TransactionDate: orNow(date),
	}, nil
}

// NewBuy builds a stock purchase. A zero totalAmount is derived from
// quantity×price; a non-zero one must agree with it within Tolerance.
func NewBuy(userID, symbol string, quantity, price, totalAmount, fees decimal.Decimal, notes string, date time.Time) (model.Transaction, error) {
	return newTrade(model.TypeBuy, userID, symbol, quantity, price, totalAmount, fees, notes, date)
}

// NewSell builds a stock sale. Whether enough shares are held is decided
// during replay, at the sale's chronological position.
func NewSell(userID, symbol string, quantity, price, totalAmount, fees decimal.Decimal, notes string, date time.Time) (model.Transaction, error) {
	return newTrade(model.TypeSell, userID, symbol, quantity, price, totalAmount, fees, notes, date)
}

func newTrade(typ model.TransactionType, userID, symbol string, quantity, price, totalAmount, fees decimal.Decimal, notes string, date time.Time) (model.Transaction, error) {
	if userID == "" {
		return model.Transaction{}, &ValidationError{Reason: "user_id is required"}
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return model.Transaction{}, &ValidationError{Reason: "symbol is required for " + string(typ)}
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return model.Transaction{}, &ValidationError{Reason: "quantity must be greater than 0 for " + string(typ)}
	}
	if !quantity.Equal(quantity.Round(CostScale)) {
		return model.Transaction{}, &ValidationError{Reason: "quantity must have at most 8 decimal places"}
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return model.Transaction{}, &ValidationError{Reason: "price must be greater than 0 for " + string(typ)}
	}
	if !price.Equal(price.Round(CostScale)) {
		return model.Transaction{}, &ValidationError{Reason: "price must have at most 8 decimal places"}
	}
	if fees.IsNegative() {
		return model.Transaction{}, &ValidationError{Reason: "fees must not be negative"}
	}
	if !fees.Equal(fees.Round(CashScale)) {
		return model.Transaction{}, &ValidationError{Reason: "fees must have at most 2 decimal places"}
	}

	notional := quantity.Mul(price)
	if totalAmount.IsZero() {
		totalAmount = notional.Round(2)
	} else if totalAmount.Sub(notional).Abs().GreaterThan(Tolerance) {
		return model.Transaction{}, &ValidationError{
			Reason: "total_amount " + totalAmount.String() + " does not match quantity×price " + notional.String(),
		}
	}
	if totalAmount.LessThanOrEqual(decimal.Zero) {
		return model.Transaction{}, &ValidationError{Reason: "total_amount must be greater than 0"}
	}
	if !totalAmount.Equal(totalAmount.Round(CashScale)) {
		return model.Transaction{}, &ValidationError{Reason: "total_amount must have at most 2 decimal places"}
	}

	return model.Transaction{
		UserID:          userID,
		Type:            typ,
		Symbol:          symbol,
		Quantity:        quantity,
		Price:           price,
		TotalAmount:     totalAmount,
		Fees:            fees,
		Notes:           notes,
		TransactionDate: orNow(date),
	}, nil
}

func validateCash(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return &ValidationError{Reason: "user_id is required"}
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Reason: "total_amount must be greater than 0"}
	}
	if !amount.Equal(amount.Round(CashScale)) {
		return &ValidationError{Reason: "total_amount must have at most 2 decimal places"}
	}
	return nil
}

func orNow(date time.Time) time.Time {
	if date.IsZero() {
		return time.Now().UTC()
	}
	return date.UTC()
}
