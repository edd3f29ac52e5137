package aggregator

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pulseboard/data-gateway/internal/cache"
	"github.com/pulseboard/data-gateway/internal/config"
	"github.com/pulseboard/data-gateway/internal/geo"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

// WeatherAPI is the slice of the weather upstream the aggregator needs.
type WeatherAPI interface {
	Current(ctx context.Context, lat, lon float64) (upstream.CurrentWeather, error)
	Forecast3h(ctx context.Context, lat, lon float64) (upstream.ForecastSeries, error)
	SearchCities(ctx context.Context, query string, limit int) ([]upstream.Place, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (upstream.Place, error)
}

// StockAPI is the slice of the stock upstream the aggregator needs.
type StockAPI interface {
	Quote(ctx context.Context, symbol string) (upstream.Quote, error)
	Candles(ctx context.Context, symbol, resolution string, from, to int64) (upstream.Candles, error)
	Search(ctx context.Context, query string) ([]upstream.SymbolMatch, error)
	Profile(ctx context.Context, symbol string) (upstream.Profile, error)
}

// PodcastAPI is the slice of the podcast upstream the aggregator needs.
type PodcastAPI interface {
	Search(ctx context.Context, query string) ([]upstream.Feed, error)
	Trending(ctx context.Context) ([]upstream.Feed, error)
	Episodes(ctx context.Context, feedID int64) ([]upstream.Episode, error)
	Feed(ctx context.Context, feedID int64) (upstream.Feed, error)
}

// Service resolves dashboard queries against the cache first and the
// upstream clients on a miss. Concurrent misses on the same key are
// coalesced into one upstream call.
type Service struct {
	cache    cache.Store
	weather  WeatherAPI
	stocks   StockAPI
	podcasts PodcastAPI
	ttl      config.TTLConfig

	flight singleflight.Group
}

// NewService creates a Service with the given backends and TTL classes.
func NewService(store cache.Store, weather WeatherAPI, stocks StockAPI, podcasts PodcastAPI, ttl config.TTLConfig) *Service {
	return &Service{
		cache:    store,
		weather:  weather,
		stocks:   stocks,
		podcasts: podcasts,
		ttl:      ttl,
	}
}

// resolve is the shared cache-or-fetch path: cache hit wins, a miss runs
// fetch under single-flight for the key and writes the result back.
func resolve[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if data, ok := s.cache.Get(key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		// Unreadable entry; drop it and fall through to a fresh fetch.
		s.cache.Delete(key)
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		// A coalesced waiter may arrive after the leader already cached.
		if data, ok := s.cache.Get(key); ok {
			var cached T
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}

		val, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		if data, err := json.Marshal(val); err == nil {
			s.cache.Set(key, data, ttl)
		}
		return val, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Weather resolves the composite weather query. It is served from cache
// only when all three sub-entries are present; any partial hit re-fetches
// current, forecast, and hourly concurrently and re-caches all three.
// A failure of any sub-fetch fails the whole query.
func (s *Service) Weather(ctx context.Context, lat, lon float64) (WeatherSnapshot, error) {
	if !geo.ValidCoords(lat, lon) {
		return WeatherSnapshot{}, &InvalidArgumentError{Field: "lat/lon", Reason: "out of range"}
	}

	curKey := geo.Key("weather:current", lat, lon)
	fcKey := geo.Key("weather:forecast", lat, lon)
	hrKey := geo.Key("weather:hourly", lat, lon)

	if s.cache.Has(curKey) && s.cache.Has(fcKey) && s.cache.Has(hrKey) {
		var snap WeatherSnapshot
		if s.readJSON(curKey, &snap.Current) &&
			s.readJSON(fcKey, &snap.Forecast) &&
			s.readJSON(hrKey, &snap.Hourly) {
			return snap, nil
		}
	}

	v, err, _ := s.flight.Do(geo.Key("weather:composite", lat, lon), func() (interface{}, error) {
		var snap WeatherSnapshot
		var dailySeries, hourlySeries upstream.ForecastSeries

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			cur, err := s.weather.Current(gctx, lat, lon)
			if err != nil {
				return err
			}
			snap.Current = cur
			return nil
		})
		g.Go(func() error {
			series, err := s.weather.Forecast3h(gctx, lat, lon)
			if err != nil {
				return err
			}
			dailySeries = series
			return nil
		})
		g.Go(func() error {
			series, err := s.weather.Forecast3h(gctx, lat, lon)
			if err != nil {
				return err
			}
			hourlySeries = series
			return nil
		})
		if err := g.Wait(); err != nil {
			return WeatherSnapshot{}, err
		}

		snap.Forecast = DeriveDaily(dailySeries)
		snap.Hourly = DeriveHourly(hourlySeries)

		s.writeJSON(curKey, snap.Current, s.ttl.CurrentWeather)
		s.writeJSON(fcKey, snap.Forecast, s.ttl.Forecast)
		s.writeJSON(hrKey, snap.Hourly, s.ttl.Forecast)
		return snap, nil
	})
	if err != nil {
		return WeatherSnapshot{}, err
	}
	return v.(WeatherSnapshot), nil
}

// CurrentWeather resolves current conditions for the coordinates.
func (s *Service) CurrentWeather(ctx context.Context, lat, lon float64) (upstream.CurrentWeather, error) {
	if !geo.ValidCoords(lat, lon) {
		return upstream.CurrentWeather{}, &InvalidArgumentError{Field: "lat/lon", Reason: "out of range"}
	}
	return resolve(ctx, s, geo.Key("weather:current", lat, lon), s.ttl.CurrentWeather,
		func(ctx context.Context) (upstream.CurrentWeather, error) {
			return s.weather.Current(ctx, lat, lon)
		})
}

// Forecast resolves the derived 7-day forecast.
func (s *Service) Forecast(ctx context.Context, lat, lon float64) ([]ForecastDay, error) {
	if !geo.ValidCoords(lat, lon) {
		return nil, &InvalidArgumentError{Field: "lat/lon", Reason: "out of range"}
	}
	return resolve(ctx, s, geo.Key("weather:forecast", lat, lon), s.ttl.Forecast,
		func(ctx context.Context) ([]ForecastDay, error) {
			series, err := s.weather.Forecast3h(ctx, lat, lon)
			if err != nil {
				return nil, err
			}
			return DeriveDaily(series), nil
		})
}

// HourlyForecast resolves the next-24-hours series.
func (s *Service) HourlyForecast(ctx context.Context, lat, lon float64) ([]HourlySample, error) {
	if !geo.ValidCoords(lat, lon) {
		return nil, &InvalidArgumentError{Field: "lat/lon", Reason: "out of range"}
	}
	return resolve(ctx, s, geo.Key("weather:hourly", lat, lon), s.ttl.Forecast,
		func(ctx context.Context) ([]HourlySample, error) {
			series, err := s.weather.Forecast3h(ctx, lat, lon)
			if err != nil {
				return nil, err
			}
			return DeriveHourly(series), nil
		})
}

// SearchCities resolves a city-name query.
func (s *Service) SearchCities(ctx context.Context, query string, limit int) ([]upstream.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &InvalidArgumentError{Field: "query", Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = 5
	}
	key := "geo:search:" + strings.ToLower(query) + ":" + strconv.Itoa(limit)
	return resolve(ctx, s, key, s.ttl.Forecast,
		func(ctx context.Context) ([]upstream.Place, error) {
			return s.weather.SearchCities(ctx, query, limit)
		})
}

// ReverseGeocode resolves coordinates to a place name.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lon float64) (upstream.Place, error) {
	if !geo.ValidCoords(lat, lon) {
		return upstream.Place{}, &InvalidArgumentError{Field: "lat/lon", Reason: "out of range"}
	}
	return resolve(ctx, s, geo.Key("geo:reverse", lat, lon), s.ttl.Forecast,
		func(ctx context.Context) (upstream.Place, error) {
			return s.weather.ReverseGeocode(ctx, lat, lon)
		})
}

// SearchStocks resolves a symbol search.
func (s *Service) SearchStocks(ctx context.Context, query string) ([]upstream.SymbolMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &InvalidArgumentError{Field: "query", Reason: "must not be empty"}
	}
	return resolve(ctx, s, "stocks:search:"+strings.ToUpper(query), s.ttl.StockSearch,
		func(ctx context.Context) ([]upstream.SymbolMatch, error) {
			return s.stocks.Search(ctx, query)
		})
}

// StockQuote resolves the latest quote for a symbol.
func (s *Service) StockQuote(ctx context.Context, symbol string) (upstream.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return upstream.Quote{}, &InvalidArgumentError{Field: "symbol", Reason: "must not be empty"}
	}
	return resolve(ctx, s, "stocks:quote:"+symbol, s.ttl.StockQuote,
		func(ctx context.Context) (upstream.Quote, error) {
			return s.stocks.Quote(ctx, symbol)
		})
}

// StockCandles resolves an OHLCV series.
func (s *Service) StockCandles(ctx context.Context, symbol, resolution string, from, to int64) (upstream.Candles, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return upstream.Candles{}, &InvalidArgumentError{Field: "symbol", Reason: "must not be empty"}
	}
	if resolution == "" {
		resolution = "D"
	}
	key := "stocks:candles:" + symbol + ":" + resolution + ":" +
		strconv.FormatInt(from, 10) + ":" + strconv.FormatInt(to, 10)
	return resolve(ctx, s, key, s.ttl.StockCandles,
		func(ctx context.Context) (upstream.Candles, error) {
			return s.stocks.Candles(ctx, symbol, resolution, from, to)
		})
}

// StockProfile resolves company information for a ticker.
func (s *Service) StockProfile(ctx context.Context, symbol string) (upstream.Profile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return upstream.Profile{}, &InvalidArgumentError{Field: "symbol", Reason: "must not be empty"}
	}
	return resolve(ctx, s, "stocks:profile:"+symbol, s.ttl.StockProfile,
		func(ctx context.Context) (upstream.Profile, error) {
			return s.stocks.Profile(ctx, symbol)
		})
}

// SearchPodcasts resolves a podcast-directory search.
func (s *Service) SearchPodcasts(ctx context.Context, query string) ([]upstream.Feed, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &InvalidArgumentError{Field: "query", Reason: "must not be empty"}
	}
	return resolve(ctx, s, "podcasts:search:"+strings.ToLower(query), s.ttl.PodcastSearch,
		func(ctx context.Context) ([]upstream.Feed, error) {
			return s.podcasts.Search(ctx, query)
		})
}

// TrendingPodcasts resolves the trending feed list.
func (s *Service) TrendingPodcasts(ctx context.Context) ([]upstream.Feed, error) {
	return resolve(ctx, s, "podcasts:trending", s.ttl.PodcastTrend,
		func(ctx context.Context) ([]upstream.Feed, error) {
			return s.podcasts.Trending(ctx)
		})
}

// PodcastEpisodes resolves the episode list for a feed.
func (s *Service) PodcastEpisodes(ctx context.Context, feedID string) ([]upstream.Episode, error) {
	id, err := parseFeedID(feedID)
	if err != nil {
		return nil, err
	}
	return resolve(ctx, s, "podcasts:episodes:"+strconv.FormatInt(id, 10), s.ttl.PodcastEpisode,
		func(ctx context.Context) ([]upstream.Episode, error) {
			return s.podcasts.Episodes(ctx, id)
		})
}

// PodcastFeed resolves a single feed's metadata.
func (s *Service) PodcastFeed(ctx context.Context, feedID string) (upstream.Feed, error) {
	id, err := parseFeedID(feedID)
	if err != nil {
		return upstream.Feed{}, err
	}
	return resolve(ctx, s, "podcasts:feed:"+strconv.FormatInt(id, 10), s.ttl.PodcastFeed,
		func(ctx context.Context) (upstream.Feed, error) {
			return s.podcasts.Feed(ctx, id)
		})
}

func parseFeedID(feedID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(feedID), 10, 64)
	if err != nil || id <= 0 {
		return 0, &InvalidArgumentError{Field: "feedId", Reason: "must be a positive integer"}
	}
	return id, nil
}

func (s *Service) readJSON(key string, v interface{}) bool {
	data, ok := s.cache.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *Service) writeJSON(key string, v interface{}, ttl time.Duration) {
	if data, err := json.Marshal(v); err == nil {
		s.cache.Set(key, data, ttl)
	}
}
