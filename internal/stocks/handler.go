// Package stocks exposes read-only market data endpoints backed by a
// quote.Provider: symbol search, live quotes, price history and company
// profiles.
package stocks

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/davidh052/trading-portfolio/internal/quote"
)

// Handler serves the market data endpoints.
type Handler struct {
	provider quote.Provider
}

// NewHandler creates a stocks handler over the given provider.
func NewHandler(provider quote.Provider) *Handler {
	return &Handler{provider: provider}
}

// Search handles GET /api/v1/stocks/search?q=term.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, "query parameter q is required", http.StatusBadRequest)
		return
	}

	results, err := h.provider.Search(r.Context(), q)
	if err != nil {
		h.writeProviderError(w, "search", q, err)
		return
	}

	writeJSON(w, results)
}

// Quote handles GET /api/v1/stocks/{symbol}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	q, err := h.provider.GetQuote(r.Context(), symbol)
	if err != nil {
		h.writeProviderError(w, "quote", symbol, err)
		return
	}

	writeJSON(w, q)
}

// History handles GET /api/v1/stocks/{symbol}/history?period=1M.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	period := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("period")))
	if period == "" {
		period = "1M"
	}
	if !quote.ValidPeriod(period) {
		writeError(w, "invalid period: "+period, http.StatusBadRequest)
		return
	}

	history, err := h.provider.GetHistory(r.Context(), symbol, period)
	if err != nil {
		h.writeProviderError(w, "history", symbol, err)
		return
	}

	writeJSON(w, history)
}

// Company handles GET /api/v1/stocks/{symbol}/company.
func (h *Handler) Company(w http.ResponseWriter, r *http.Request) {
	symbol := normalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	company, err := h.provider.GetCompany(r.Context(), symbol)
	if err != nil {
		h.writeProviderError(w, "company", symbol, err)
		return
	}

	writeJSON(w, company)
}

func (h *Handler) writeProviderError(w http.ResponseWriter, op, subject string, err error) {
	if errors.Is(err, quote.ErrNotFound) {
		writeError(w, "symbol not found", http.StatusNotFound)
		return
	}
	slog.Error("market data lookup failed", "op", op, "subject", subject, "err", err)
	writeError(w, "market data temporarily unavailable", http.StatusBadGateway)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
