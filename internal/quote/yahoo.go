package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/davidh052/trading-portfolio/internal/metrics"
	"github.com/davidh052/trading-portfolio/internal/model"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// periodRanges maps the API-facing period names to the provider's
// range/interval pairs.
var periodRanges = map[string][2]string{
	"1D": {"1d", "15m"},
	"1W": {"5d", "1d"},
	"1M": {"1mo", "1d"},
	"3M": {"3mo", "1d"},
	"6M": {"6mo", "1d"},
	"1Y": {"1y", "1d"},
	"5Y": {"5y", "1wk"},
}

// ValidPeriod reports whether period is one of the supported history ranges.
func ValidPeriod(period string) bool {
	_, ok := periodRanges[period]
	return ok
}

// YahooClient implements Provider against a Yahoo-Finance-style API.
// Quotes are cached in-process with a short TTL, and all outbound calls
// share a rate limiter so a burst of portfolio valuations cannot trip the
// provider's throttling.
type YahooClient struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	cache   *gocache.Cache
	ttl     time.Duration

	mu    sync.Mutex
	crumb string
}

// Options configures a YahooClient.
type Options struct {
	BaseURL   string        // provider base URL, no trailing slash
	Timeout   time.Duration // per-request HTTP timeout
	RateLimit float64       // outbound requests per second
	CacheTTL  time.Duration // quote cache lifetime
}

// NewYahooClient builds a provider client with its own cookie jar; the
// provider ties its anti-abuse crumb to session cookies.
func NewYahooClient(opts Options) *YahooClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &YahooClient{
		http:    &http.Client{Jar: jar, Timeout: opts.Timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit)),
		cache:   gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		ttl:     opts.CacheTTL,
	}
}

// --- Provider response shapes ---

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency             string  `json:"currency"`
				Symbol               string  `json:"symbol"`
				ShortName            string  `json:"shortName"`
				LongName             string  `json:"longName"`
				RegularMarketPrice   float64 `json:"regularMarketPrice"`
				RegularMarketDayHigh float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  int64   `json:"regularMarketVolume"`
				PreviousClose        float64 `json:"previousClose"`
				ChartPreviousClose   float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		Exchange  string `json:"exchange"`
		Shortname string `json:"shortname"`
		Longname  string `json:"longname"`
		QuoteType string `json:"quoteType"`
		Currency  string `json:"currency"`
	} `json:"quotes"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile struct {
				LongBusinessSummary string `json:"longBusinessSummary"`
				Sector              string `json:"sector"`
				Industry            string `json:"industry"`
				Country             string `json:"country"`
				Website             string `json:"website"`
			} `json:"assetProfile"`
			Price struct {
				LongName string `json:"longName"`
				Currency string `json:"currency"`
			} `json:"price"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"quoteSummary"`
}

// GetQuote implements Provider. Results are served from the in-process
// cache within the TTL.
func (c *YahooClient) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	symbol = strings.ToUpper(symbol)

	if cached, ok := c.cache.Get("quote:" + symbol); ok {
		metrics.QuoteCacheHits.Inc()
		q := cached.(model.Quote)
		return &q, nil
	}

	start := time.Now()
	q, err := c.fetchQuote(ctx, symbol)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.QuoteFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	c.cache.Set("quote:"+symbol, *q, c.ttl)
	return q, nil
}

func (c *YahooClient) fetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var parsed chartResponse
	params := url.Values{"range": {"1d"}, "interval": {"1d"}}
	if err := c.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	meta := parsed.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return nil, fmt.Errorf("%w: %s has no market price", ErrNotFound, symbol)
	}

	price := decimal.NewFromFloat(meta.RegularMarketPrice)
	prevClose := meta.PreviousClose
	if prevClose == 0 {
		prevClose = meta.ChartPreviousClose
	}

	q := &model.Quote{
		Symbol:        symbol,
		Name:          firstNonEmpty(meta.LongName, meta.ShortName),
		Price:         price,
		Open:          decimal.NewFromFloat(meta.ChartPreviousClose),
		DayHigh:       decimal.NewFromFloat(meta.RegularMarketDayHigh),
		DayLow:        decimal.NewFromFloat(meta.RegularMarketDayLow),
		PreviousClose: decimal.NewFromFloat(prevClose),
		Volume:        meta.RegularMarketVolume,
		Currency:      meta.Currency,
		Timestamp:     time.Now().UTC(),
	}
	if prevClose != 0 {
		prev := decimal.NewFromFloat(prevClose)
		q.Change = price.Sub(prev).Round(2)
		q.ChangePercent = price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return q, nil
}

// GetHistory implements Provider.
func (c *YahooClient) GetHistory(ctx context.Context, symbol, period string) (*model.History, error) {
	symbol = strings.ToUpper(symbol)
	rng, ok := periodRanges[period]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported period %q", ErrNotFound, period)
	}

	var parsed chartResponse
	params := url.Values{"range": {rng[0]}, "interval": {rng[1]}}
	if err := c.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 || len(result.Timestamp) == 0 {
		return nil, fmt.Errorf("%w: no history for %s", ErrNotFound, symbol)
	}
	series := result.Indicators.Quote[0]

	hist := &model.History{Symbol: symbol, Period: period}
	for i, ts := range result.Timestamp {
		if i >= len(series.Close) || series.Close[i] == 0 {
			continue // provider pads gaps with zeroes
		}
		bar := model.HistoryBar{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Close: decimal.NewFromFloat(series.Close[i]).Round(2),
		}
		if i < len(series.Open) {
			bar.Open = decimal.NewFromFloat(series.Open[i]).Round(2)
		}
		if i < len(series.High) {
			bar.High = decimal.NewFromFloat(series.High[i]).Round(2)
		}
		if i < len(series.Low) {
			bar.Low = decimal.NewFromFloat(series.Low[i]).Round(2)
		}
		if i < len(series.Volume) {
			bar.Volume = series.Volume[i]
		}
		hist.Bars = append(hist.Bars, bar)
	}
	sort.Slice(hist.Bars, func(i, j int) bool { return hist.Bars[i].Date < hist.Bars[j].Date })
	return hist, nil
}

// Search implements Provider. Results are filtered to equities and ETFs.
func (c *YahooClient) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	var parsed searchResponse
	params := url.Values{
		"q":           {query},
		"quotesCount": {"10"},
		"newsCount":   {"0"},
	}
	if err := c.getJSON(ctx, "/v1/finance/search", params, &parsed); err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(parsed.Quotes))
	for _, q := range parsed.Quotes {
		if q.QuoteType != "EQUITY" && q.QuoteType != "ETF" {
			continue
		}
		currency := q.Currency
		if currency == "" {
			currency = "USD"
		}
		results = append(results, model.SearchResult{
			Symbol:   q.Symbol,
			Name:     firstNonEmpty(q.Longname, q.Shortname),
			Type:     q.QuoteType,
			Exchange: q.Exchange,
			Currency: currency,
		})
	}
	return results, nil
}

// GetCompany implements Provider. The quoteSummary endpoint requires the
// session crumb, fetched lazily and retried once on the first failure.
func (c *YahooClient) GetCompany(ctx context.Context, symbol string) (*model.Company, error) {
	symbol = strings.ToUpper(symbol)

	var parsed quoteSummaryResponse
	params := url.Values{"modules": {"assetProfile,price"}}
	if crumb := c.ensureCrumb(ctx); crumb != "" {
		params.Set("crumb", crumb)
	}
	if err := c.getJSON(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	r := parsed.QuoteSummary.Result[0]
	return &model.Company{
		Symbol:      symbol,
		Name:        r.Price.LongName,
		Description: r.AssetProfile.LongBusinessSummary,
		Sector:      r.AssetProfile.Sector,
		Industry:    r.AssetProfile.Industry,
		Country:     r.AssetProfile.Country,
		Website:     r.AssetProfile.Website,
		Currency:    r.Price.Currency,
	}, nil
}

// ensureCrumb bootstraps the provider session once. Failure is tolerated:
// most endpoints work without the crumb.
func (c *YahooClient) ensureCrumb(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.crumb != "" {
		return c.crumb
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/test/getcrumb", nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("quote provider crumb fetch failed", "err", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return ""
	}
	c.crumb = strings.TrimSpace(string(body))
	return c.crumb
}

func (c *YahooClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d from %s", ErrUnavailable, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
