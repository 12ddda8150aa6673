// Package valuation combines derived holdings with live quotes to produce
// per-holding and aggregate performance metrics.
//
// Quote lookups are independent per symbol and run concurrently, each with
// its own timeout: a slow or failing lookup degrades that one holding to
// unvalued instead of blocking or failing the rest.
package valuation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/metrics"
	"github.com/davidh052/trading-portfolio/internal/model"
	"github.com/davidh052/trading-portfolio/internal/quote"
)

var hundred = decimal.NewFromInt(100)

// Engine values portfolios against the quote provider.
type Engine struct {
	provider quote.Provider
	timeout  time.Duration
}

// NewEngine creates a valuation engine. timeout bounds each per-symbol
// quote fetch; 0 means a 5-second default.
func NewEngine(provider quote.Provider, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Engine{provider: provider, timeout: timeout}
}

// Value produces the portfolio valuation for one user's derived state.
// It never returns an error: missing quotes yield a partial result with
// the affected holdings marked unvalued.
func (e *Engine) Value(ctx context.Context, userID string, cash decimal.Decimal, holdings []model.Holding) *model.PortfolioValuation {
	quotes := make([]*model.Quote, len(holdings))

	var wg sync.WaitGroup
	for i, h := range holdings {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			q, err := e.provider.GetQuote(fetchCtx, symbol)
			if err != nil {
				slog.Warn("quote unavailable, holding left unvalued",
					"user", userID, "symbol", symbol, "err", err)
				metrics.UnvaluedHoldings.Inc()
				return
			}
			quotes[i] = q
		}(i, h.Symbol)
	}
	wg.Wait()

	out := &model.PortfolioValuation{
		UserID:      userID,
		CashBalance: cash,
		Holdings:    make([]model.HoldingValuation, 0, len(holdings)),
		TotalValue:  cash,
	}

	totalGain := decimal.Zero
	valuedBasis := decimal.Zero
	anyValued := false

	for i, h := range holdings {
		hv := model.HoldingValuation{
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			AverageCost: h.AverageCost,
			CostBasis:   h.CostBasis().Round(2),
		}

		q := quotes[i]
		if q == nil {
			out.Partial = true
			out.Holdings = append(out.Holdings, hv)
			continue
		}

		marketValue := h.Quantity.Mul(q.Price).Round(2)
		gain := marketValue.Sub(h.CostBasis()).Round(2)

		hv.Valued = true
		hv.MarketPrice = dptr(q.Price)
		hv.MarketValue = dptr(marketValue)
		hv.UnrealizedGain = dptr(gain)
		if basis := h.CostBasis(); basis.IsPositive() {
			hv.UnrealizedGainPct = dptr(gain.Div(basis).Mul(hundred).Round(2))
		}

		out.TotalValue = out.TotalValue.Add(marketValue)
		totalGain = totalGain.Add(gain)
		valuedBasis = valuedBasis.Add(h.CostBasis())
		anyValued = true

		out.Holdings = append(out.Holdings, hv)
	}

	if anyValued {
		out.TotalGain = dptr(totalGain)
		if valuedBasis.IsPositive() {
			out.TotalGainPct = dptr(totalGain.Div(valuedBasis).Mul(hundred).Round(2))
		}
	}
	return out
}

func dptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
