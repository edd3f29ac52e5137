package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestWeatherClient(srv *httptest.Server) *WeatherClient {
	c := NewWeatherClient(srv.Client(), "test-key")
	c.baseURL = srv.URL
	c.geoURL = srv.URL
	return c
}

func TestCurrentDecodesProviderPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weather" {
			t.Errorf("path = %s, want /weather", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("appid") != "test-key" || q.Get("units") != "metric" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{
			"name": "London",
			"dt": 1756400400,
			"main": {"temp": 18.4, "feels_like": 17.9, "temp_min": 16.0, "temp_max": 20.1, "humidity": 63, "pressure": 1014},
			"wind": {"speed": 4.6},
			"weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}]
		}`))
	}))
	defer srv.Close()

	cur, err := newTestWeatherClient(srv).Current(context.Background(), 51.51, -0.13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cur.City != "London" || cur.Temp != 18.4 || cur.Humidity != 63 {
		t.Errorf("decoded = %+v", cur)
	}
	if cur.ConditionID != 500 || cur.Description != "light rain" || cur.Icon != "10d" {
		t.Errorf("condition = %+v", cur)
	}
	if !cur.Timestamp.Equal(time.Unix(1756400400, 0).UTC()) {
		t.Errorf("timestamp = %v", cur.Timestamp)
	}
}

func TestForecast3hCarriesTimezoneOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("path = %s, want /forecast", r.URL.Path)
		}
		w.Write([]byte(`{
			"list": [
				{"dt": 1756400400, "main": {"temp": 12.0, "humidity": 70}, "pop": 0.35,
				 "weather": [{"id": 802, "main": "Clouds", "icon": "03d"}]}
			],
			"city": {"timezone": 7200}
		}`))
	}))
	defer srv.Close()

	series, err := newTestWeatherClient(srv).Forecast3h(context.Background(), 48.85, 2.35)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if series.TimezoneOffset != 7200 {
		t.Errorf("timezone offset = %d, want 7200", series.TimezoneOffset)
	}
	if len(series.Samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(series.Samples))
	}
	s := series.Samples[0]
	if s.Temp != 12.0 || s.Pop != 0.35 || s.ConditionID != 802 || s.Icon != "03d" {
		t.Errorf("sample = %+v", s)
	}
}

func TestReverseGeocodeFallsBackWhenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	place, err := newTestWeatherClient(srv).ReverseGeocode(context.Background(), 0.5, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if place.Name != "Unknown" || place.Lat != 0.5 {
		t.Errorf("place = %+v, want Unknown placeholder", place)
	}
}

func TestMissingAPIKeyIsConfigError(t *testing.T) {
	c := NewWeatherClient(http.DefaultClient, "")

	_, err := c.Current(context.Background(), 0, 0)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if ce.Name != "WEATHER_API_KEY" {
		t.Errorf("config error names %q", ce.Name)
	}
}

func TestNonRetryableStatusSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"cod":401,"message":"Invalid API key"}`))
	}))
	defer srv.Close()

	_, err := newTestWeatherClient(srv).Current(context.Background(), 51.51, -0.13)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if ue.Status != http.StatusUnauthorized || ue.Provider != "weather" {
		t.Errorf("error = %+v", ue)
	}
}
