package watchlist

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/model"
	"github.com/davidh052/trading-portfolio/internal/quote"
	"github.com/davidh052/trading-portfolio/internal/store"
)

type stubProvider struct {
	prices map[string]decimal.Decimal
}

func (p *stubProvider) GetQuote(_ context.Context, symbol string) (*model.Quote, error) {
	price, ok := p.prices[symbol]
	if !ok {
		return nil, quote.ErrUnavailable
	}
	return &model.Quote{Symbol: symbol, Price: price}, nil
}

func (p *stubProvider) GetHistory(context.Context, string, string) (*model.History, error) {
	return nil, quote.ErrUnavailable
}

func (p *stubProvider) Search(context.Context, string) ([]model.SearchResult, error) {
	return nil, quote.ErrUnavailable
}

func (p *stubProvider) GetCompany(context.Context, string) (*model.Company, error) {
	return nil, quote.ErrUnavailable
}

func newTestRouter(provider quote.Provider) (*chi.Mux, store.Store) {
	st := store.NewMemoryStore()
	h := NewHandler(st, provider)
	r := chi.NewRouter()
	r.Route("/api/v1/users/{userID}/watchlist", func(r chi.Router) {
		r.Post("/", h.Add)
		r.Get("/", h.List)
		r.Delete("/{id}", h.Remove)
	})
	return r, st
}

func addItem(t *testing.T, r http.Handler, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/"+userID+"/watchlist", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAddAndList(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := addItem(t, r, "u1", `{"symbol":"aapl","target_price":"150","notes":"earnings play"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body.String())
	}

	var created model.WatchlistItem
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL (normalized)", created.Symbol)
	}
	if created.ID == "" {
		t.Error("expected generated id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/watchlist", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var items []Item
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(items) != 1 || items[0].Symbol != "AAPL" {
		t.Fatalf("unexpected list: %+v", items)
	}
	if items[0].Quote != nil {
		t.Error("quote should not be attached without ?quotes=1")
	}
}

func TestAddDuplicate(t *testing.T) {
	r, _ := newTestRouter(nil)

	if w := addItem(t, r, "u1", `{"symbol":"MSFT"}`); w.Code != http.StatusCreated {
		t.Fatalf("first add status = %d", w.Code)
	}
	if w := addItem(t, r, "u1", `{"symbol":"msft"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate add status = %d, want 409", w.Code)
	}
}

func TestAddValidation(t *testing.T) {
	r, _ := newTestRouter(nil)

	if w := addItem(t, r, "u1", `{"symbol":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty symbol status = %d, want 400", w.Code)
	}
	if w := addItem(t, r, "u1", `{"symbol":"AAPL","target_price":"-5"}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative target status = %d, want 400", w.Code)
	}
	if w := addItem(t, r, "u1", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

func TestListWithQuotes(t *testing.T) {
	provider := &stubProvider{prices: map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(180),
	}}
	r, _ := newTestRouter(provider)

	addItem(t, r, "u1", `{"symbol":"AAPL"}`)
	addItem(t, r, "u1", `{"symbol":"ZZZZ"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/u1/watchlist?quotes=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}

	var items []Item
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	bySymbol := map[string]Item{}
	for _, it := range items {
		bySymbol[it.Symbol] = it
	}

	aapl, ok := bySymbol["AAPL"]
	if !ok || aapl.Quote == nil {
		t.Fatal("expected AAPL to carry a quote")
	}
	if !aapl.Quote.Price.Equal(decimal.NewFromInt(180)) {
		t.Errorf("AAPL quote price = %s, want 180", aapl.Quote.Price)
	}
	if zz, ok := bySymbol["ZZZZ"]; !ok || zz.Quote != nil {
		t.Error("unavailable symbol should be listed without a quote")
	}
}

func TestRemove(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := addItem(t, r, "u1", `{"symbol":"NVDA"}`)
	var created model.WatchlistItem
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/u1/watchlist/"+created.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/users/u1/watchlist/"+created.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want 404", w.Code)
	}
}
