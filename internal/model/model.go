// Package model defines the core domain types shared across the portfolio
// service. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType discriminates the four kinds of ledger entries.
type TransactionType string

const (
	TypeBuy        TransactionType = "BUY"
	TypeSell       TransactionType = "SELL"
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
)

// Valid reports whether t is one of the four known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeBuy, TypeSell, TypeDeposit, TypeWithdrawal:
		return true
	}
	return false
}

// IsTrade reports whether the type carries a symbol/quantity/price.
func (t TransactionType) IsTrade() bool {
	return t == TypeBuy || t == TypeSell
}

// Transaction is an immutable ledger record. Once accepted it is never
// modified; the only destructive operation is an explicit delete, which
// triggers a full replay of the remaining history.
//
// Symbol, Quantity and Price are populated only for BUY/SELL.
// TotalAmount is the cash amount for DEPOSIT/WITHDRAWAL and must equal
// Quantity×Price (within rounding tolerance) for BUY/SELL.
type Transaction struct {
	ID              int64           `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Type            TransactionType `json:"transaction_type" db:"transaction_type"`
	Symbol          string          `json:"symbol,omitempty" db:"symbol"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	Price           decimal.Decimal `json:"price" db:"price"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	Fees            decimal.Decimal `json:"fees" db:"fees"`
	Notes           string          `json:"notes,omitempty" db:"notes"`
	TransactionDate time.Time       `json:"transaction_date" db:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a user's derived position in one symbol. Holdings are only
// ever produced by replaying the transaction ledger — never written
// directly by a client.
type Holding struct {
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
}

// CostBasis returns quantity × average cost.
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AverageCost)
}

// Quote is an ephemeral market snapshot from the external provider.
// Quotes are never persisted by the core.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Open          decimal.Decimal `json:"open"`
	DayHigh       decimal.Decimal `json:"day_high"`
	DayLow        decimal.Decimal `json:"day_low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	Currency      string          `json:"currency,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// HistoryBar is one day of historical pricing.
type HistoryBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// History is an ordered price series for one symbol.
type History struct {
	Symbol string       `json:"symbol"`
	Period string       `json:"period"`
	Bars   []HistoryBar `json:"data"`
}

// SearchResult is one row of a symbol search.
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Exchange string `json:"region"`
	Currency string `json:"currency"`
}

// Company holds provider-supplied company fundamentals.
type Company struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Country     string `json:"country,omitempty"`
	Website     string `json:"website,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// WatchlistItem is a user-managed symbol bookmark with an optional price
// alert target. Plain CRUD — no derived state.
type WatchlistItem struct {
	ID          string           `json:"id" db:"id"`
	UserID      string           `json:"user_id" db:"user_id"`
	Symbol      string           `json:"symbol" db:"symbol"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty" db:"target_price"`
	Notes       string           `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// HoldingValuation is one holding combined with a live quote. When the
// quote lookup fails the holding is still listed with its cost-basis
// fields, Valued=false, and nil market-value fields — never defaulted to
// zero.
type HoldingValuation struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	Valued      bool            `json:"valued"`

	MarketPrice       *decimal.Decimal `json:"market_price,omitempty"`
	MarketValue       *decimal.Decimal `json:"market_value,omitempty"`
	UnrealizedGain    *decimal.Decimal `json:"unrealized_gain_loss,omitempty"`
	UnrealizedGainPct *decimal.Decimal `json:"unrealized_gain_loss_pct,omitempty"`
}

// PortfolioValuation aggregates cash and per-holding valuations.
// Partial is true when at least one holding could not be valued, so
// callers can distinguish a true total from a partial one.
type PortfolioValuation struct {
	UserID       string             `json:"user_id"`
	CashBalance  decimal.Decimal    `json:"cash_balance"`
	Holdings     []HoldingValuation `json:"holdings"`
	TotalValue   decimal.Decimal    `json:"total_value"`
	Partial      bool               `json:"partial"`
	TotalGain    *decimal.Decimal   `json:"total_gain_loss,omitempty"`
	TotalGainPct *decimal.Decimal   `json:"total_gain_loss_pct,omitempty"`
}
