package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQuoteDecodesShortFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get(StockTokenHeader); got != "tok" {
			t.Errorf("%s = %q", StockTokenHeader, got)
		}
		w.Write([]byte(`{"c":212.5,"d":2.4,"dp":1.14,"h":214.0,"l":209.8,"o":210.3,"pc":210.1,"t":1756400400}`))
	}))
	defer srv.Close()

	c := NewStockClient(srv.Client(), "tok")
	c.baseURL = srv.URL

	q, err := c.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Current != 212.5 || q.PrevClose != 210.1 || q.PercentChange != 1.14 {
		t.Errorf("quote = %+v", q)
	}
}

func TestCandlesDecodesColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("resolution") != "D" || q.Get("from") != "100" || q.Get("to") != "200" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"o":[1,2],"h":[3,4],"l":[0.5,1.5],"c":[2,3],"v":[100,200],"t":[100,160],"s":"ok"}`))
	}))
	defer srv.Close()

	c := NewStockClient(srv.Client(), "tok")
	c.baseURL = srv.URL

	candles, err := c.Candles(context.Background(), "AAPL", "D", 100, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candles.Status != "ok" || len(candles.Close) != 2 || candles.Close[1] != 3 {
		t.Errorf("candles = %+v", candles)
	}
}

func TestProfileMapsProviderFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Apple Inc","ticker":"AAPL","exchange":"NASDAQ","finnhubIndustry":"Technology","marketCapitalization":3400000}`))
	}))
	defer srv.Close()

	c := NewStockClient(srv.Client(), "tok")
	c.baseURL = srv.URL

	p, err := c.Profile(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Industry != "Technology" || p.MarketCap != 3400000 {
		t.Errorf("profile = %+v", p)
	}
}
