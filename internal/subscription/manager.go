// Package subscription maintains one polling loop per geographic cell and
// broadcasts fresh current-weather readings to every listener of that cell.
package subscription

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/data-gateway/internal/geo"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

// Event is one published weather update for a cell.
type Event struct {
	Lat       float64                 `json:"lat"`
	Lon       float64                 `json:"lon"`
	Timestamp time.Time               `json:"timestamp"`
	Current   upstream.CurrentWeather `json:"current"`
}

// Listener receives published events.
type Listener func(Event)

// CurrentFetcher is the slice of the aggregator the publish loop needs.
type CurrentFetcher interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (upstream.CurrentWeather, error)
}

type listenerEntry struct {
	lat, lon float64 // the listener's requested coordinates
	fn       Listener
}

type cell struct {
	lat, lon  float64 // rounded cell coordinates used for fetching
	cancel    context.CancelFunc
	listeners map[string]listenerEntry
}

// Manager owns the per-GeoKey timer registry. At most one live timer
// exists per cell: a resubscribe for an already-active cell cancels the
// old timer before installing a fresh one.
type Manager struct {
	fetcher  CurrentFetcher
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	cells  map[string]*cell
	closed bool

	// active timers, readable by tests
	timers int
}

// NewManager creates a Manager publishing every interval, bounding each
// fetch by timeout.
func NewManager(fetcher CurrentFetcher, interval, timeout time.Duration) *Manager {
	return &Manager{
		fetcher:  fetcher,
		interval: interval,
		timeout:  timeout,
		cells:    make(map[string]*cell),
	}
}

// Subscribe registers fn for updates on the cell containing (lat, lon) and
// returns the listener id plus an unsubscribe func. The cell's timer is
// (re)started and an update is published immediately.
func (m *Manager) Subscribe(lat, lon float64, fn Listener) (string, func()) {
	key := geo.Key("sub", lat, lon)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", func() {}
	}

	c, ok := m.cells[key]
	if !ok {
		c = &cell{
			lat:       geo.Round(lat),
			lon:       geo.Round(lon),
			listeners: make(map[string]listenerEntry),
		}
		m.cells[key] = c
	} else {
		// Replace, not stack: the previous timer must die first.
		c.cancel()
		m.timers--
	}

	id := uuid.NewString()
	c.listeners[id] = listenerEntry{lat: lat, lon: lon, fn: fn}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	m.timers++
	m.mu.Unlock()

	go m.run(ctx, key, c.lat, c.lon)

	return id, func() { m.unsubscribe(key, id) }
}

func (m *Manager) unsubscribe(key, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cells[key]
	if !ok {
		return
	}
	delete(c.listeners, id)
	if len(c.listeners) == 0 {
		c.cancel()
		m.timers--
		delete(m.cells, key)
	}
}

// Close cancels every timer and drops all listeners.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.cells {
		c.cancel()
		m.timers--
		delete(m.cells, key)
	}
	m.closed = true
}

// Active returns the number of live per-cell timers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers
}

func (m *Manager) run(ctx context.Context, key string, lat, lon float64) {
	m.publish(ctx, key, lat, lon)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publish(ctx, key, lat, lon)
		}
	}
}

// publish fetches current weather for the cell and broadcasts it. A fetch
// failure is logged and skipped; the timer lives on.
func (m *Manager) publish(ctx context.Context, key string, lat, lon float64) {
	fctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cur, err := m.fetcher.CurrentWeather(fctx, lat, lon)
	if err != nil {
		log.Printf("subscription: fetch failed for %s: %v", key, err)
		return
	}

	ev := Event{
		Lat:       lat,
		Lon:       lon,
		Timestamp: time.Now().UTC(),
		Current:   cur,
	}

	m.mu.Lock()
	c, ok := m.cells[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	targets := make([]listenerEntry, 0, len(c.listeners))
	for _, l := range c.listeners {
		targets = append(targets, l)
	}
	m.mu.Unlock()

	for _, l := range targets {
		// Listeners only want events for coordinates close to the ones
		// they asked for, even when sharing a cell.
		if geo.CloseEnough(l.lat, l.lon, ev.Lat, ev.Lon) {
			l.fn(ev)
		}
	}
}
