// Package quote provides the external market-data client. Latency and
// availability are not guaranteed by the provider; callers must treat every
// lookup as fallible and degrade per symbol.
package quote

import (
	"context"
	"errors"

	"github.com/davidh052/trading-portfolio/internal/model"
)

var (
	// ErrUnavailable is returned when the provider cannot be reached, times
	// out, or responds with garbage. Valuation degrades the affected
	// holding instead of failing the request.
	ErrUnavailable = errors.New("quote: provider unavailable")

	// ErrNotFound is returned when the provider has no data for a symbol.
	ErrNotFound = errors.New("quote: symbol not found")
)

// Provider is the market-data lookup interface consumed by the valuation
// engine and the stock-data handlers.
type Provider interface {
	// GetQuote fetches the current market snapshot for one symbol.
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)

	// GetHistory fetches the price series for one of the supported
	// periods: 1D, 1W, 1M, 3M, 6M, 1Y, 5Y.
	GetHistory(ctx context.Context, symbol, period string) (*model.History, error)

	// Search looks up symbols by ticker or company name.
	Search(ctx context.Context, query string) ([]model.SearchResult, error)

	// GetCompany fetches company fundamentals for a symbol.
	GetCompany(ctx context.Context, symbol string) (*model.Company, error)
}
