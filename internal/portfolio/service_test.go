package portfolio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/davidh052/trading-portfolio/internal/ledger"
	"github.com/davidh052/trading-portfolio/internal/model"
	"github.com/davidh052/trading-portfolio/internal/quote"
	"github.com/davidh052/trading-portfolio/internal/store"
	"github.com/davidh052/trading-portfolio/internal/valuation"
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

type testEnv struct {
	router *chi.Mux
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T, prices map[string]decimal.Decimal) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	engine := valuation.NewEngine(&stubProvider{prices: prices}, time.Second)
	svc := NewService(st, engine)

	r := chi.NewRouter()
	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Post("/transactions", svc.CreateTransaction)
		r.Get("/transactions", svc.ListTransactions)
		r.Get("/transactions/{id}", svc.GetTransaction)
		r.Delete("/transactions/{id}", svc.DeleteTransaction)
		r.Get("/portfolio", svc.GetPortfolio)
		r.Post("/portfolio/rebuild", svc.RebuildPortfolio)
	})
	return &testEnv{router: r, store: st}
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rd *bytes.Buffer
	if body == "" {
		rd = bytes.NewBuffer(nil)
	} else {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) create(t *testing.T, userID, body string) CreateTransactionResponse {
	t.Helper()
	w := env.do(http.MethodPost, "/api/v1/users/"+userID+"/transactions", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var resp CreateTransactionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestDepositBuySellFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"10000"}`)
	if !resp.CashBalance.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("cash after deposit = %s, want 10000", resp.CashBalance)
	}

	resp = env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"10","price":"150","fees":"3"}`)
	if !resp.CashBalance.Equal(decimal.NewFromInt(8497)) {
		t.Errorf("cash after buy = %s, want 8497", resp.CashBalance)
	}
	if len(resp.Holdings) != 1 || !resp.Holdings[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("holdings after buy = %+v", resp.Holdings)
	}
	if !resp.Holdings[0].AverageCost.Equal(decimal.NewFromInt(150)) {
		t.Errorf("avg cost = %s, want 150", resp.Holdings[0].AverageCost)
	}

	resp = env.create(t, "u1", `{"transaction_type":"SELL","symbol":"AAPL","quantity":"4","price":"160","fees":"1"}`)
	if !resp.CashBalance.Equal(decimal.NewFromInt(9136)) {
		t.Errorf("cash after sell = %s, want 9136", resp.CashBalance)
	}
	if resp.RealizedGain == nil {
		t.Fatal("expected realized gain on sell")
	}
	// (160-150)*4 - 1 fee
	if !resp.RealizedGain.Equal(decimal.NewFromInt(39)) {
		t.Errorf("realized gain = %s, want 39", resp.RealizedGain)
	}
	if len(resp.Holdings) != 1 || !resp.Holdings[0].Quantity.Equal(decimal.NewFromInt(6)) {
		t.Errorf("holdings after sell = %+v", resp.Holdings)
	}
	// selling never moves the average cost
	if !resp.Holdings[0].AverageCost.Equal(decimal.NewFromInt(150)) {
		t.Errorf("avg cost after sell = %s, want 150", resp.Holdings[0].AverageCost)
	}
}

func TestInsufficientFunds(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"100"}`)
	w := env.do(http.MethodPost, "/api/v1/users/u1/transactions",
		`{"transaction_type":"BUY","symbol":"AAPL","quantity":"10","price":"150"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", w.Code, w.Body.String())
	}

	// rejected write leaves the ledger untouched
	list := env.do(http.MethodGet, "/api/v1/users/u1/transactions", "")
	var txns []model.Transaction
	if err := json.Unmarshal(list.Body.Bytes(), &txns); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("ledger has %d transactions, want 1", len(txns))
	}
}

func TestInsufficientShares(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"10000"}`)
	env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"5","price":"100"}`)

	w := env.do(http.MethodPost, "/api/v1/users/u1/transactions",
		`{"transaction_type":"SELL","symbol":"AAPL","quantity":"6","price":"100"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("oversell status = %d, want 409", w.Code)
	}

	w = env.do(http.MethodPost, "/api/v1/users/u1/transactions",
		`{"transaction_type":"SELL","symbol":"MSFT","quantity":"1","price":"100"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("sell unowned status = %d, want 409", w.Code)
	}
}

func TestValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		name string
		body string
	}{
		{"unknown type", `{"transaction_type":"SPLIT","total_amount":"100"}`},
		{"zero deposit", `{"transaction_type":"DEPOSIT","total_amount":"0"}`},
		{"negative deposit", `{"transaction_type":"DEPOSIT","total_amount":"-5"}`},
		{"buy without symbol", `{"transaction_type":"BUY","quantity":"1","price":"10"}`},
		{"buy zero quantity", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"0","price":"10"}`},
		{"total mismatch", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"10","price":"150","total_amount":"1400"}`},
		{"negative fees", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"1","price":"10","fees":"-1"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/v1/users/u1/transactions", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestBackdatedTransaction(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"1000","transaction_date":"2026-03-10T00:00:00Z"}`)
	env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"5","price":"100","transaction_date":"2026-03-20T00:00:00Z"}`)

	// backdated between the two: funds exist at its chronological position
	resp := env.create(t, "u1", `{"transaction_type":"WITHDRAWAL","total_amount":"400","transaction_date":"2026-03-15T00:00:00Z"}`)
	if !resp.CashBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("cash = %s, want 100", resp.CashBalance)
	}

	// a backdated withdrawal that would starve the later buy is rejected
	w := env.do(http.MethodPost, "/api/v1/users/u1/transactions",
		`{"transaction_type":"WITHDRAWAL","total_amount":"200","transaction_date":"2026-03-16T00:00:00Z"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("starving withdrawal status = %d, want 409", w.Code)
	}
}

func TestDeleteTransaction(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"1000"}`)
	buy := env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"5","price":"100"}`)

	w := env.do(http.MethodDelete, fmt.Sprintf("/api/v1/users/u1/transactions/%d", buy.Transaction.ID), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body %s", w.Code, w.Body.String())
	}

	// state is as if the buy never happened
	snap, err := env.store.GetSnapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash = %s, want 1000", snap.Cash)
	}
	if len(snap.Holdings) != 0 {
		t.Errorf("holdings = %+v, want none", snap.Holdings)
	}

	if w := env.do(http.MethodDelete, "/api/v1/users/u1/transactions/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", w.Code)
	}
	if w := env.do(http.MethodDelete, "/api/v1/users/u1/transactions/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("delete bad id status = %d, want 400", w.Code)
	}
}

func TestDeleteFundingDepositRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	dep := env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"1000"}`)
	env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"5","price":"100"}`)

	// removing the deposit would leave a buy with no funding
	w := env.do(http.MethodDelete, fmt.Sprintf("/api/v1/users/u1/transactions/%d", dep.Transaction.ID), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("delete funding deposit status = %d, want 409, body %s", w.Code, w.Body.String())
	}

	// the ledger is untouched
	list := env.do(http.MethodGet, "/api/v1/users/u1/transactions", "")
	var txns []model.Transaction
	if err := json.Unmarshal(list.Body.Bytes(), &txns); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("ledger has %d transactions, want 2", len(txns))
	}
}

func TestGetTransaction(t *testing.T) {
	env := newTestEnv(t, nil)

	created := env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"500","notes":"paycheck"}`)

	w := env.do(http.MethodGet, fmt.Sprintf("/api/v1/users/u1/transactions/%d", created.Transaction.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var txn model.Transaction
	if err := json.Unmarshal(w.Body.Bytes(), &txn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if txn.Notes != "paycheck" || !txn.TotalAmount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("unexpected transaction %+v", txn)
	}

	if w := env.do(http.MethodGet, "/api/v1/users/u1/transactions/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t, map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(170),
	})

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"10000"}`)
	env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"10","price":"150"}`)
	env.create(t, "u1", `{"transaction_type":"BUY","symbol":"MSFT","quantity":"5","price":"200"}`)

	w := env.do(http.MethodGet, "/api/v1/users/u1/portfolio", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var v model.PortfolioValuation
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode valuation: %v", err)
	}

	if !v.CashBalance.Equal(decimal.NewFromInt(7500)) {
		t.Errorf("cash = %s, want 7500", v.CashBalance)
	}
	if !v.Partial {
		t.Error("expected partial valuation: MSFT has no quote")
	}
	bySymbol := map[string]model.HoldingValuation{}
	for _, h := range v.Holdings {
		bySymbol[h.Symbol] = h
	}
	aapl := bySymbol["AAPL"]
	if !aapl.Valued || aapl.MarketValue == nil || !aapl.MarketValue.Equal(decimal.NewFromInt(1700)) {
		t.Errorf("AAPL valuation = %+v", aapl)
	}
	msft := bySymbol["MSFT"]
	if msft.Valued || msft.MarketValue != nil {
		t.Errorf("MSFT should be unvalued, got %+v", msft)
	}
	if !msft.CostBasis.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("MSFT cost basis = %s, want 1000", msft.CostBasis)
	}
}

func TestRebuildPortfolio(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"1000"}`)
	env.create(t, "u1", `{"transaction_type":"BUY","symbol":"AAPL","quantity":"2","price":"100"}`)

	w := env.do(http.MethodPost, "/api/v1/users/u1/portfolio/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d, body %s", w.Code, w.Body.String())
	}
	var resp RebuildResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rebuild: %v", err)
	}
	if resp.Diverged {
		t.Error("healthy snapshot reported as diverged")
	}
	if !resp.CashBalance.Equal(decimal.NewFromInt(800)) {
		t.Errorf("cash = %s, want 800", resp.CashBalance)
	}
}

func TestRebuildDetectsDivergence(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"1000"}`)

	// corrupt the persisted snapshot behind the service's back
	bad := ledger.NewSnapshot()
	bad.Cash = decimal.NewFromInt(42)
	if err := env.store.ReplaceSnapshot(context.Background(), "u1", bad); err != nil {
		t.Fatalf("corrupt snapshot: %v", err)
	}

	w := env.do(http.MethodPost, "/api/v1/users/u1/portfolio/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d", w.Code)
	}
	var resp RebuildResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rebuild: %v", err)
	}
	if !resp.Diverged {
		t.Error("expected divergence flag")
	}
	if !resp.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("rebuilt cash = %s, want 1000", resp.CashBalance)
	}

	// the rebuild heals the persisted state
	snap, err := env.store.GetSnapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Cash.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("persisted cash = %s, want 1000", snap.Cash)
	}
}

func TestConcurrentWritesSameUser(t *testing.T) {
	env := newTestEnv(t, nil)

	env.create(t, "u1", `{"transaction_type":"DEPOSIT","total_amount":"1000"}`)

	// 10 concurrent 100-unit withdrawals against 1000 cash: all must be
	// serialized, and every accepted one must have seen a replay that
	// covered it.
	var wg sync.WaitGroup
	codes := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := env.do(http.MethodPost, "/api/v1/users/u1/transactions",
				`{"transaction_type":"WITHDRAWAL","total_amount":"100"}`)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			accepted++
		} else if c != http.StatusConflict {
			t.Errorf("unexpected status %d", c)
		}
	}
	if accepted != 10 {
		t.Errorf("accepted = %d, want 10", accepted)
	}

	snap, err := env.store.GetSnapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Cash.Equal(decimal.Zero) {
		t.Errorf("final cash = %s, want 0", snap.Cash)
	}
}
