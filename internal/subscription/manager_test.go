package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulseboard/data-gateway/internal/upstream"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	results []upstream.CurrentWeather
	errs    []error
}

func (f *scriptedFetcher) CurrentWeather(ctx context.Context, lat, lon float64) (upstream.CurrentWeather, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return upstream.CurrentWeather{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	if len(f.results) > 0 {
		return f.results[len(f.results)-1], nil
	}
	return upstream.CurrentWeather{}, nil
}

func collect(ch chan Event) Listener {
	return func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}
}

func waitEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Event{}
	}
}

func TestSubscribePublishesImmediatelyAndOnTick(t *testing.T) {
	fetcher := &scriptedFetcher{results: []upstream.CurrentWeather{
		{Temp: 22, ConditionID: 800},
		{Temp: 10, ConditionID: 202},
	}}
	m := NewManager(fetcher, 25*time.Millisecond, time.Second)
	defer m.Close()

	events := make(chan Event, 8)
	_, unsub := m.Subscribe(51.51, -0.13, collect(events))
	defer unsub()

	first := waitEvent(t, events)
	if first.Current.Temp != 22 {
		t.Errorf("first update temp = %v, want 22", first.Current.Temp)
	}

	second := waitEvent(t, events)
	if second.Current.Temp != 10 || second.Current.ConditionID != 202 {
		t.Errorf("second update = %+v, want temp 10 condition 202", second.Current)
	}
	if second.Lat != 51.51 || second.Lon != -0.13 {
		t.Errorf("update coords = %v,%v, want rounded cell 51.51,-0.13", second.Lat, second.Lon)
	}
}

func TestResubscribeReplacesTimer(t *testing.T) {
	fetcher := &scriptedFetcher{results: []upstream.CurrentWeather{{Temp: 5}}}
	m := NewManager(fetcher, time.Hour, time.Second)
	defer m.Close()

	_, unsub1 := m.Subscribe(51.501, -0.131, func(Event) {})
	if got := m.Active(); got != 1 {
		t.Fatalf("timers after first subscribe = %d, want 1", got)
	}

	// Same cell: the first timer must be replaced, not stacked.
	_, unsub2 := m.Subscribe(51.504, -0.129, func(Event) {})
	if got := m.Active(); got != 1 {
		t.Fatalf("timers after resubscribe = %d, want 1", got)
	}

	// Distinct cell gets its own timer.
	_, unsub3 := m.Subscribe(52.00, -0.13, func(Event) {})
	if got := m.Active(); got != 2 {
		t.Fatalf("timers with two cells = %d, want 2", got)
	}

	unsub1()
	unsub2()
	unsub3()
	if got := m.Active(); got != 0 {
		t.Errorf("timers after unsubscribing all = %d, want 0", got)
	}
}

func TestResubscribeKeepsExistingListeners(t *testing.T) {
	fetcher := &scriptedFetcher{results: []upstream.CurrentWeather{{Temp: 7}}}
	m := NewManager(fetcher, time.Hour, time.Second)
	defer m.Close()

	var first, second int32
	m.Subscribe(51.51, -0.13, func(Event) { atomic.AddInt32(&first, 1) })

	// Wait for the immediate publish of the first timer.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&first) == 0 {
		select {
		case <-deadline:
			t.Fatal("first listener never notified")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Subscribe(51.51, -0.13, func(Event) { atomic.AddInt32(&second, 1) })

	deadline = time.After(2 * time.Second)
	for atomic.LoadInt32(&second) == 0 {
		select {
		case <-deadline:
			t.Fatal("second listener never notified")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The replacing timer's immediate publish reaches the carried-over
	// listener too.
	if atomic.LoadInt32(&first) < 2 {
		t.Errorf("first listener notified %d times, want at least 2", atomic.LoadInt32(&first))
	}
}

func TestFetchFailureKeepsTimerAlive(t *testing.T) {
	fetcher := &scriptedFetcher{
		errs:    []error{errors.New("upstream down")},
		results: []upstream.CurrentWeather{{}, {Temp: 3}},
	}
	m := NewManager(fetcher, 25*time.Millisecond, time.Second)
	defer m.Close()

	events := make(chan Event, 8)
	_, unsub := m.Subscribe(48.85, 2.35, collect(events))
	defer unsub()

	// The immediate publish fails; the next tick must still deliver.
	ev := waitEvent(t, events)
	if ev.Current.Temp != 3 {
		t.Errorf("post-failure update temp = %v, want 3", ev.Current.Temp)
	}
	if got := m.Active(); got != 1 {
		t.Errorf("timers after failed fetch = %d, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	fetcher := &scriptedFetcher{results: []upstream.CurrentWeather{{Temp: 20}}}
	m := NewManager(fetcher, 25*time.Millisecond, time.Second)
	defer m.Close()

	events := make(chan Event, 8)
	_, unsub := m.Subscribe(51.51, -0.13, collect(events))
	waitEvent(t, events)

	unsub()
	if got := m.Active(); got != 0 {
		t.Fatalf("timers after unsubscribe = %d, want 0", got)
	}

	// Drain anything already in flight, then verify silence.
	for len(events) > 0 {
		<-events
	}
	select {
	case ev := <-events:
		t.Errorf("received update after unsubscribe: %+v", ev)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestSubscribeAfterCloseIsNoop(t *testing.T) {
	m := NewManager(&scriptedFetcher{}, time.Hour, time.Second)
	m.Close()

	id, unsub := m.Subscribe(51.51, -0.13, func(Event) {})
	if id != "" {
		t.Errorf("subscribe after close returned id %q, want empty", id)
	}
	unsub()
	if got := m.Active(); got != 0 {
		t.Errorf("timers after close = %d, want 0", got)
	}
}
