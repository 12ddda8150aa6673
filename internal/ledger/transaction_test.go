package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/model"
)

func expectValidation(t *testing.T, err error) *ledger.ValidationError {
	t.Helper()
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return verr
}

func TestNewDeposit(t *testing.T) {
	txn, err := ledger.NewDeposit("user1", d(500), "payday", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Type != model.TypeDeposit {
		t.Errorf("expected DEPOSIT, got %s", txn.Type)
	}
	if !txn.TotalAmount.Equal(d(500)) {
		t.Errorf("expected amount 500, got %s", txn.TotalAmount)
	}
	if txn.TransactionDate.IsZero() {
		t.Error("zero date should default to now")
	}
}

func TestNewDeposit_NonPositiveAmount(t *testing.T) {
	_, err := ledger.NewDeposit("user1", decimal.Zero, "", time.Time{})
	expectValidation(t, err)

	_, err = ledger.NewDeposit("user1", d(-10), "", time.Time{})
	expectValidation(t, err)
}

func TestNewWithdrawal_MissingUser(t *testing.T) {
	_, err := ledger.NewWithdrawal("", d(100), "", time.Time{})
	expectValidation(t, err)
}

func TestNewBuy_DerivesTotalAmount(t *testing.T) {
	txn, err := ledger.NewBuy("user1", "aapl", d(10), d(150.555), decimal.Zero, d(1), "", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Symbol != "AAPL" {
		t.Errorf("symbol should be upcased, got %s", txn.Symbol)
	}
	if !txn.TotalAmount.Equal(d(1505.55)) {
		t.Errorf("expected derived total 1505.55, got %s", txn.TotalAmount)
	}
}

func TestNewBuy_TotalWithinTolerance(t *testing.T) {
	// 10 × 150.001 = 1500.01; a stated total of 1500.00 is within 0.01.
	txn, err := ledger.NewBuy("user1", "AAPL", d(10), d(150.001), d(1500.00), decimal.Zero, "", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !txn.TotalAmount.Equal(d(1500.00)) {
		t.Errorf("stated total should be kept verbatim, got %s", txn.TotalAmount)
	}
}

func TestNewBuy_TotalBeyondTolerance(t *testing.T) {
	_, err := ledger.NewBuy("user1", "AAPL", d(10), d(150), d(1400), decimal.Zero, "", time.Time{})
	expectValidation(t, err)
}

func TestNewSell_FieldChecks(t *testing.T) {
	cases := []struct {
		name                 string
		symbol               string
		qty, price, fees     float64
	}{
		{"missing symbol", "", 10, 150, 0},
		{"zero quantity", "AAPL", 0, 150, 0},
		{"negative quantity", "AAPL", -1, 150, 0},
		{"zero price", "AAPL", 10, 0, 0},
		{"negative fees", "AAPL", 10, 150, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ledger.NewSell("user1", tc.symbol, d(tc.qty), d(tc.price), decimal.Zero, d(tc.fees), "", time.Time{})
			expectValidation(t, err)
		})
	}
}

func TestScaleCaps(t *testing.T) {
	// Anything finer than the persisted column scales would be rounded by
	// the database and break the replay round-trip, so it is rejected up
	// front: 8 decimal places for quantity/price, 2 for cash amounts.
	_, err := ledger.NewBuy("user1", "AAPL",
		decimal.RequireFromString("0.123456789"), d(150), decimal.Zero, decimal.Zero, "", time.Time{})
	expectValidation(t, err)

	_, err = ledger.NewBuy("user1", "AAPL",
		d(1), decimal.RequireFromString("150.123456789"), decimal.Zero, decimal.Zero, "", time.Time{})
	expectValidation(t, err)

	_, err = ledger.NewBuy("user1", "AAPL",
		d(10), d(150), decimal.RequireFromString("1500.005"), decimal.Zero, "", time.Time{})
	expectValidation(t, err)

	_, err = ledger.NewBuy("user1", "AAPL",
		d(10), d(150), decimal.Zero, decimal.RequireFromString("1.005"), "", time.Time{})
	expectValidation(t, err)

	_, err = ledger.NewDeposit("user1", decimal.RequireFromString("100.005"), "", time.Time{})
	expectValidation(t, err)

	// trailing zeros are representation, not scale
	if _, err := ledger.NewDeposit("user1", decimal.RequireFromString("100.1000"), "", time.Time{}); err != nil {
		t.Errorf("trailing zeros rejected: %v", err)
	}
	if _, err := ledger.NewBuy("user1", "AAPL",
		decimal.RequireFromString("0.12345678"), d(150), decimal.Zero, decimal.Zero, "", time.Time{}); err != nil {
		t.Errorf("8-decimal quantity rejected: %v", err)
	}
}

func TestNewBuy_BackdatedDateKept(t *testing.T) {
	date := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	txn, err := ledger.NewBuy("user1", "AAPL", d(1), d(100), decimal.Zero, decimal.Zero, "", date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !txn.TransactionDate.Equal(date) {
		t.Errorf("expected backdated %s, got %s", date, txn.TransactionDate)
	}
}
