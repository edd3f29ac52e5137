package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulseboard/data-gateway/internal/cache"
	"github.com/pulseboard/data-gateway/internal/config"
	"github.com/pulseboard/data-gateway/internal/geo"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

type fakeWeather struct {
	currentCalls  int32
	forecastCalls int32
	currentErr    error
	forecastErr   error
	current       upstream.CurrentWeather
	series        upstream.ForecastSeries
	delay         time.Duration
}

func (f *fakeWeather) Current(ctx context.Context, lat, lon float64) (upstream.CurrentWeather, error) {
	atomic.AddInt32(&f.currentCalls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.currentErr != nil {
		return upstream.CurrentWeather{}, f.currentErr
	}
	return f.current, nil
}

func (f *fakeWeather) Forecast3h(ctx context.Context, lat, lon float64) (upstream.ForecastSeries, error) {
	atomic.AddInt32(&f.forecastCalls, 1)
	if f.forecastErr != nil {
		return upstream.ForecastSeries{}, f.forecastErr
	}
	return f.series, nil
}

func (f *fakeWeather) SearchCities(ctx context.Context, query string, limit int) ([]upstream.Place, error) {
	return []upstream.Place{{Name: "London", Country: "GB", Lat: 51.51, Lon: -0.13}}, nil
}

func (f *fakeWeather) ReverseGeocode(ctx context.Context, lat, lon float64) (upstream.Place, error) {
	return upstream.Place{Name: "London", Country: "GB", Lat: lat, Lon: lon}, nil
}

type fakeStocks struct {
	quoteCalls int32
}

func (f *fakeStocks) Quote(ctx context.Context, symbol string) (upstream.Quote, error) {
	atomic.AddInt32(&f.quoteCalls, 1)
	return upstream.Quote{Current: 212.5}, nil
}

func (f *fakeStocks) Candles(ctx context.Context, symbol, resolution string, from, to int64) (upstream.Candles, error) {
	return upstream.Candles{Status: "ok"}, nil
}

func (f *fakeStocks) Search(ctx context.Context, query string) ([]upstream.SymbolMatch, error) {
	return []upstream.SymbolMatch{{Symbol: "AAPL"}}, nil
}

func (f *fakeStocks) Profile(ctx context.Context, symbol string) (upstream.Profile, error) {
	return upstream.Profile{Ticker: symbol}, nil
}

type fakePodcasts struct{}

func (f *fakePodcasts) Search(ctx context.Context, query string) ([]upstream.Feed, error) {
	return []upstream.Feed{{ID: 1, Title: "The Daily"}}, nil
}

func (f *fakePodcasts) Trending(ctx context.Context) ([]upstream.Feed, error) {
	return []upstream.Feed{{ID: 2}}, nil
}

func (f *fakePodcasts) Episodes(ctx context.Context, feedID int64) ([]upstream.Episode, error) {
	return []upstream.Episode{{ID: 10, Title: "Episode 1"}}, nil
}

func (f *fakePodcasts) Feed(ctx context.Context, feedID int64) (upstream.Feed, error) {
	return upstream.Feed{ID: feedID}, nil
}

func testTTLs() config.TTLConfig {
	return config.TTLConfig{
		CurrentWeather: 10 * time.Minute,
		Forecast:       30 * time.Minute,
		StockQuote:     30 * time.Second,
		StockCandles:   5 * time.Minute,
		StockSearch:    5 * time.Minute,
		StockProfile:   time.Hour,
		PodcastSearch:  5 * time.Minute,
		PodcastTrend:   time.Hour,
		PodcastEpisode: 10 * time.Minute,
		PodcastFeed:    time.Hour,
	}
}

func testSeries() upstream.ForecastSeries {
	return upstream.ForecastSeries{
		Samples: []upstream.ForecastSample{
			{Time: day0.Add(12 * time.Hour), Temp: 14, Humidity: 60, Pop: 0.2, ConditionID: 800, Icon: "01d"},
		},
	}
}

func newTestService(w *fakeWeather) (*Service, *fakeStocks) {
	stocks := &fakeStocks{}
	return NewService(cache.NewMemoryStore(), w, stocks, &fakePodcasts{}, testTTLs()), stocks
}

func TestWeatherCompositeColdFetch(t *testing.T) {
	w := &fakeWeather{current: upstream.CurrentWeather{Temp: 22, ConditionID: 800}, series: testSeries()}
	svc, _ := newTestService(w)

	snap, err := svc.Weather(context.Background(), 51.51, -0.13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Current.Temp != 22 {
		t.Errorf("current temp = %v", snap.Current.Temp)
	}
	if len(snap.Forecast) != 1 || len(snap.Hourly) == 0 {
		t.Errorf("expected derived forecast and hourly, got %d/%d", len(snap.Forecast), len(snap.Hourly))
	}
	// Cold composite issues three upstream calls: current plus one
	// forecast fetch each for the daily and hourly entries.
	if got := atomic.LoadInt32(&w.currentCalls); got != 1 {
		t.Errorf("current calls = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&w.forecastCalls); got != 2 {
		t.Errorf("forecast calls = %d, want 2", got)
	}
}

func TestWeatherCompositeServedFromCache(t *testing.T) {
	w := &fakeWeather{current: upstream.CurrentWeather{Temp: 22}, series: testSeries()}
	svc, _ := newTestService(w)

	if _, err := svc.Weather(context.Background(), 51.51, -0.13); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
	if _, err := svc.Weather(context.Background(), 51.51, -0.13); err != nil {
		t.Fatalf("cached query failed: %v", err)
	}

	if got := atomic.LoadInt32(&w.currentCalls); got != 1 {
		t.Errorf("current calls = %d, want 1 (second query from cache)", got)
	}
}

func TestWeatherPartialHitRefetchesAllThree(t *testing.T) {
	w := &fakeWeather{current: upstream.CurrentWeather{Temp: 22}, series: testSeries()}
	store := cache.NewMemoryStore()
	svc := NewService(store, w, &fakeStocks{}, &fakePodcasts{}, testTTLs())

	if _, err := svc.Weather(context.Background(), 51.51, -0.13); err != nil {
		t.Fatalf("prime failed: %v", err)
	}

	// Expire only the hourly sub-entry; current and forecast remain.
	store.Delete(geo.Key("weather:hourly", 51.51, -0.13))

	if _, err := svc.Weather(context.Background(), 51.51, -0.13); err != nil {
		t.Fatalf("re-query failed: %v", err)
	}

	if got := atomic.LoadInt32(&w.currentCalls); got != 2 {
		t.Errorf("current calls = %d, want 2 (partial hit forces full re-fetch)", got)
	}
	if got := atomic.LoadInt32(&w.forecastCalls); got != 4 {
		t.Errorf("forecast calls = %d, want 4", got)
	}
	if !store.Has(geo.Key("weather:hourly", 51.51, -0.13)) {
		t.Error("hourly sub-entry should be re-cached")
	}
}

func TestWeatherFailsWholeQueryOnSubFetchError(t *testing.T) {
	w := &fakeWeather{
		current:     upstream.CurrentWeather{Temp: 22},
		forecastErr: &upstream.UpstreamError{Provider: "weather", Status: 503},
	}
	svc, _ := newTestService(w)

	_, err := svc.Weather(context.Background(), 51.51, -0.13)
	if err == nil {
		t.Fatal("expected composite failure when one sub-fetch fails")
	}
	var ue *upstream.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T", err)
	}
}

func TestWeatherSharesCacheAcrossCell(t *testing.T) {
	w := &fakeWeather{current: upstream.CurrentWeather{Temp: 22}, series: testSeries()}
	svc, _ := newTestService(w)

	if _, err := svc.Weather(context.Background(), 51.501, -0.131); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
	if _, err := svc.Weather(context.Background(), 51.504, -0.129); err != nil {
		t.Fatalf("cell-mate query failed: %v", err)
	}
	if got := atomic.LoadInt32(&w.currentCalls); got != 1 {
		t.Errorf("current calls = %d, want 1 (same cell shares entries)", got)
	}
}

func TestInvalidCoordinatesRejected(t *testing.T) {
	w := &fakeWeather{}
	svc, _ := newTestService(w)

	_, err := svc.Weather(context.Background(), 91, 0)
	var invalid *InvalidArgumentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentError, got %v", err)
	}
	if atomic.LoadInt32(&w.currentCalls) != 0 {
		t.Error("invalid input must not reach upstream")
	}
}

func TestStockQuoteCachedPerSymbol(t *testing.T) {
	svc, stocks := newTestService(&fakeWeather{series: testSeries()})

	for i := 0; i < 3; i++ {
		if _, err := svc.StockQuote(context.Background(), "aapl"); err != nil {
			t.Fatalf("quote failed: %v", err)
		}
	}
	if got := atomic.LoadInt32(&stocks.quoteCalls); got != 1 {
		t.Errorf("quote calls = %d, want 1", got)
	}
}

func TestPodcastFeedIDValidation(t *testing.T) {
	svc, _ := newTestService(&fakeWeather{})

	for _, bad := range []string{"", "abc", "-4", "0"} {
		_, err := svc.PodcastEpisodes(context.Background(), bad)
		var invalid *InvalidArgumentError
		if !errors.As(err, &invalid) {
			t.Errorf("feedId %q: expected InvalidArgumentError, got %v", bad, err)
		}
	}

	if _, err := svc.PodcastEpisodes(context.Background(), "920666"); err != nil {
		t.Fatalf("numeric feed id rejected: %v", err)
	}
}

func TestEmptyQueryRejected(t *testing.T) {
	svc, _ := newTestService(&fakeWeather{})

	var invalid *InvalidArgumentError
	if _, err := svc.SearchCities(context.Background(), "  ", 5); !errors.As(err, &invalid) {
		t.Errorf("SearchCities: expected InvalidArgumentError, got %v", err)
	}
	if _, err := svc.SearchStocks(context.Background(), ""); !errors.As(err, &invalid) {
		t.Errorf("SearchStocks: expected InvalidArgumentError, got %v", err)
	}
	if _, err := svc.SearchPodcasts(context.Background(), ""); !errors.As(err, &invalid) {
		t.Errorf("SearchPodcasts: expected InvalidArgumentError, got %v", err)
	}
}

func TestConcurrentColdMissesCoalesce(t *testing.T) {
	w := &fakeWeather{
		current: upstream.CurrentWeather{Temp: 22},
		delay:   30 * time.Millisecond,
	}
	svc, _ := newTestService(w)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CurrentWeather(context.Background(), 51.51, -0.13); err != nil {
				t.Errorf("concurrent query failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&w.currentCalls); got != 1 {
		t.Errorf("current calls = %d, want 1 (single-flight coalesces cold misses)", got)
	}
}
