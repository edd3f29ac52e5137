package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/pulseboard/data-gateway/internal/geo"
	"github.com/pulseboard/data-gateway/internal/push"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

// severeConditions is the fixed set of weather condition IDs that warrant
// a notification: thunderstorms, heavy or freezing precipitation, heavy
// snow and sleet, smoke/dust/ash, squalls and tornadoes.
var severeConditions = map[int]bool{
	// thunderstorm group
	200: true, 201: true, 202: true, 210: true, 211: true, 212: true,
	221: true, 230: true, 231: true, 232: true,
	// heavy and freezing rain
	502: true, 503: true, 504: true, 511: true, 522: true, 531: true,
	// heavy snow and sleet
	602: true, 611: true, 612: true, 613: true, 615: true, 616: true,
	620: true, 621: true, 622: true,
	// smoke, dust, volcanic ash
	711: true, 731: true, 761: true, 762: true,
	// squall, tornado
	771: true, 781: true,
}

// IsSevere reports whether a condition ID belongs to the severe set.
func IsSevere(conditionID int) bool {
	return severeConditions[conditionID]
}

// WeatherSource is the slice of the weather upstream the scanner needs.
type WeatherSource interface {
	Current(ctx context.Context, lat, lon float64) (upstream.CurrentWeather, error)
}

// Scanner runs the scheduled severe-weather sweep over all persisted
// subscriptions.
type Scanner struct {
	store   Store
	weather WeatherSource
	sender  push.Sender
	timeout time.Duration
}

// NewScanner creates a Scanner with a per-city fetch bound.
func NewScanner(store Store, weather WeatherSource, sender push.Sender, timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Scanner{
		store:   store,
		weather: weather,
		sender:  sender,
		timeout: timeout,
	}
}

// watchedCity is one distinct cell with every token interested in it.
type watchedCity struct {
	city   City
	tokens []string
}

// Scan loads all subscriptions, deduplicates watched cities by cell,
// checks each distinct city sequentially, notifies watchers of severe
// conditions, and finally prunes registrations whose tokens came back as
// unregistered. Per-city and per-token failures are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) error {
	subs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	cities := dedupeCities(subs)

	var stale []string
	for _, wc := range cities {
		cur, err := s.fetchCurrent(ctx, wc.city)
		if err != nil {
			log.Printf("scanner: weather fetch failed for %s: %v", wc.city.Name, err)
			continue
		}

		if !IsSevere(cur.ConditionID) {
			continue
		}

		msg := buildMessage(wc.city, cur)
		for _, token := range wc.tokens {
			msg.Token = token
			if err := s.sender.Send(ctx, msg); err != nil {
				if errors.Is(err, push.ErrUnregistered) {
					stale = append(stale, token)
					continue
				}
				log.Printf("scanner: push send failed for %s: %v", wc.city.Name, err)
			}
		}
	}

	if len(stale) > 0 {
		log.Printf("scanner: pruning %d stale push tokens", len(stale))
		if err := s.store.DeleteByTokens(ctx, stale); err != nil {
			return fmt.Errorf("failed to prune stale tokens: %w", err)
		}
	}
	return nil
}

func (s *Scanner) fetchCurrent(ctx context.Context, city City) (upstream.CurrentWeather, error) {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.weather.Current(fctx, city.Lat, city.Lon)
}

// dedupeCities merges every subscription's cities into one entry per cell,
// accumulating the tokens watching it. Iteration order over subscriptions
// is not stable, so the output is keyed purely by cell.
func dedupeCities(subs []Subscription) []watchedCity {
	byKey := make(map[string]*watchedCity)
	var order []string

	for _, sub := range subs {
		for _, city := range sub.Cities {
			key := geo.Key("alert", city.Lat, city.Lon)
			wc, ok := byKey[key]
			if !ok {
				wc = &watchedCity{city: city}
				byKey[key] = wc
				order = append(order, key)
			}
			wc.tokens = append(wc.tokens, sub.Token)
		}
	}

	out := make([]watchedCity, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}

func buildMessage(city City, cur upstream.CurrentWeather) push.Message {
	desc := cur.Description
	if desc == "" {
		desc = cur.Condition
	}
	return push.Message{
		Notification: push.Notification{
			Title: city.Name,
			Body:  fmt.Sprintf("%s, %d°C", desc, int(math.Round(cur.Temp))),
		},
		Data: map[string]string{
			"lat":      fmt.Sprintf("%.2f", geo.Round(city.Lat)),
			"lon":      fmt.Sprintf("%.2f", geo.Round(city.Lon)),
			"cityName": city.Name,
		},
	}
}
