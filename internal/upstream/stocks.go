package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// StockTokenHeader carries the stock provider's API token.
const StockTokenHeader = "X-Finnhub-Token"

// Quote is a point-in-time stock quote.
type Quote struct {
	Current       float64 `json:"current"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PrevClose     float64 `json:"prevClose"`
	Timestamp     int64   `json:"timestamp"`
}

// Candles holds an OHLCV series in the provider's column layout.
type Candles struct {
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
	Time   []int64   `json:"time"`
	Status string    `json:"status"`
}

// SymbolMatch is one stock-search result.
type SymbolMatch struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Profile is basic company information for a ticker.
type Profile struct {
	Name      string  `json:"name"`
	Ticker    string  `json:"ticker"`
	Exchange  string  `json:"exchange"`
	Industry  string  `json:"industry"`
	Logo      string  `json:"logo"`
	MarketCap float64 `json:"marketCap"`
	Currency  string  `json:"currency"`
	WebURL    string  `json:"webUrl"`
}

// StockClient talks to the stock-quote provider.
type StockClient struct {
	apiKey  string
	baseURL string
	caller  *caller
}

// NewStockClient creates a StockClient bound to the given HTTP client.
func NewStockClient(client *http.Client, apiKey string) *StockClient {
	return &StockClient{
		apiKey:  apiKey,
		baseURL: "https://finnhub.io/api/v1",
		caller:  newCaller("stocks", client),
	}
}

func (c *StockClient) get(ctx context.Context, path string, values url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &ConfigError{Name: "STOCK_API_KEY"}
	}

	return c.caller.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+path+"?"+values.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(StockTokenHeader, c.apiKey)
		return req, nil
	})
}

// Quote fetches the latest quote for a symbol.
func (c *StockClient) Quote(ctx context.Context, symbol string) (Quote, error) {
	values := url.Values{}
	values.Set("symbol", symbol)

	body, err := c.get(ctx, "/quote", values)
	if err != nil {
		return Quote{}, err
	}

	var payload struct {
		C  float64 `json:"c"`
		D  float64 `json:"d"`
		Dp float64 `json:"dp"`
		H  float64 `json:"h"`
		L  float64 `json:"l"`
		O  float64 `json:"o"`
		Pc float64 `json:"pc"`
		T  int64   `json:"t"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, &UpstreamError{Provider: "stocks", Err: err}
	}

	return Quote{
		Current:       payload.C,
		Change:        payload.D,
		PercentChange: payload.Dp,
		High:          payload.H,
		Low:           payload.L,
		Open:          payload.O,
		PrevClose:     payload.Pc,
		Timestamp:     payload.T,
	}, nil
}

// Candles fetches an OHLCV series for the symbol at the given resolution.
func (c *StockClient) Candles(ctx context.Context, symbol, resolution string, from, to int64) (Candles, error) {
	values := url.Values{}
	values.Set("symbol", symbol)
	values.Set("resolution", resolution)
	values.Set("from", fmt.Sprintf("%d", from))
	values.Set("to", fmt.Sprintf("%d", to))

	body, err := c.get(ctx, "/stock/candle", values)
	if err != nil {
		return Candles{}, err
	}

	var payload struct {
		O []float64 `json:"o"`
		H []float64 `json:"h"`
		L []float64 `json:"l"`
		C []float64 `json:"c"`
		V []float64 `json:"v"`
		T []int64   `json:"t"`
		S string    `json:"s"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Candles{}, &UpstreamError{Provider: "stocks", Err: err}
	}

	return Candles{
		Open:   payload.O,
		High:   payload.H,
		Low:    payload.L,
		Close:  payload.C,
		Volume: payload.V,
		Time:   payload.T,
		Status: payload.S,
	}, nil
}

// Search finds symbols matching a free-text query.
func (c *StockClient) Search(ctx context.Context, query string) ([]SymbolMatch, error) {
	values := url.Values{}
	values.Set("q", query)

	body, err := c.get(ctx, "/search", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result []struct {
			Symbol      string `json:"symbol"`
			Description string `json:"description"`
			Type        string `json:"type"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &UpstreamError{Provider: "stocks", Err: err}
	}

	matches := make([]SymbolMatch, len(payload.Result))
	for i, r := range payload.Result {
		matches[i] = SymbolMatch{Symbol: r.Symbol, Description: r.Description, Type: r.Type}
	}
	return matches, nil
}

// Profile fetches company information for a ticker.
func (c *StockClient) Profile(ctx context.Context, symbol string) (Profile, error) {
	values := url.Values{}
	values.Set("symbol", symbol)

	body, err := c.get(ctx, "/stock/profile2", values)
	if err != nil {
		return Profile{}, err
	}

	var payload struct {
		Name                 string  `json:"name"`
		Ticker               string  `json:"ticker"`
		Exchange             string  `json:"exchange"`
		FinnhubIndustry      string  `json:"finnhubIndustry"`
		Logo                 string  `json:"logo"`
		MarketCapitalization float64 `json:"marketCapitalization"`
		Currency             string  `json:"currency"`
		Weburl               string  `json:"weburl"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Profile{}, &UpstreamError{Provider: "stocks", Err: err}
	}

	return Profile{
		Name:      payload.Name,
		Ticker:    payload.Ticker,
		Exchange:  payload.Exchange,
		Industry:  payload.FinnhubIndustry,
		Logo:      payload.Logo,
		MarketCap: payload.MarketCapitalization,
		Currency:  payload.Currency,
		WebURL:    payload.Weburl,
	}, nil
}
