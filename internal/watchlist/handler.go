// Package watchlist provides the symbol bookmark CRUD. It holds no
// derived state — items are plain rows decorated with live quotes on read.
package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/model"
	"github.com/davidh052/trading-portfolio/internal/quote"
	"github.com/davidh052/trading-portfolio/internal/store"
)

// Handler serves the watchlist endpoints.
type Handler struct {
	store    store.Store
	provider quote.Provider
	timeout  time.Duration
}

// NewHandler creates a watchlist handler. provider may be nil to disable
// quote decoration.
func NewHandler(st store.Store, provider quote.Provider) *Handler {
	return &Handler{store: st, provider: provider, timeout: 5 * time.Second}
}

// AddRequest is the JSON body for adding a watchlist item.
type AddRequest struct {
	Symbol      string           `json:"symbol"`
	TargetPrice *decimal.Decimal `json:"target_price"`
	Notes       string           `json:"notes"`
}

// Item is a watchlist row optionally decorated with its live quote.
type Item struct {
	model.WatchlistItem
	Quote *model.Quote `json:"quote,omitempty"`
}

// Add handles POST /api/v1/users/{userID}/watchlist.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.TargetPrice != nil && req.TargetPrice.LessThanOrEqual(decimal.Zero) {
		writeError(w, "target_price must be greater than 0", http.StatusBadRequest)
		return
	}

	item := &model.WatchlistItem{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		TargetPrice: req.TargetPrice,
		Notes:       req.Notes,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.store.AddWatchlistItem(r.Context(), item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, symbol+" is already in your watchlist", http.StatusConflict)
			return
		}
		writeError(w, "failed to add watchlist item", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// List handles GET /api/v1/users/{userID}/watchlist.
// With ?quotes=1, each item is decorated with its live quote; lookups run
// concurrently and a failed lookup leaves that item undecorated.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	items, err := h.store.ListWatchlist(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list watchlist", http.StatusInternalServerError)
		return
	}

	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = Item{WatchlistItem: item}
	}

	if r.URL.Query().Get("quotes") == "1" && h.provider != nil {
		var wg sync.WaitGroup
		for i := range out {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
				defer cancel()
				q, err := h.provider.GetQuote(ctx, out[i].Symbol)
				if err != nil {
					slog.Warn("watchlist quote unavailable", "symbol", out[i].Symbol, "err", err)
					return
				}
				out[i].Quote = q
			}(i)
		}
		wg.Wait()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// Remove handles DELETE /api/v1/users/{userID}/watchlist/{id}.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteWatchlistItem(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "watchlist item not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to remove watchlist item", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
