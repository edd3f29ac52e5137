package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// CurrentWeather is the normalized current-conditions reading.
type CurrentWeather struct {
	City        string    `json:"city,omitempty"`
	Temp        float64   `json:"temp"`
	FeelsLike   float64   `json:"feelsLike"`
	TempMin     float64   `json:"tempMin"`
	TempMax     float64   `json:"tempMax"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	WindSpeed   float64   `json:"windSpeed"`
	ConditionID int       `json:"conditionId"`
	Condition   string    `json:"condition"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Timestamp   time.Time `json:"timestamp"`
}

// ForecastSample is a single 3-hourly forecast reading.
type ForecastSample struct {
	Time        time.Time `json:"time"`
	Temp        float64   `json:"temp"`
	Humidity    float64   `json:"humidity"`
	Pop         float64   `json:"pop"`
	ConditionID int       `json:"conditionId"`
	Condition   string    `json:"condition"`
	Icon        string    `json:"icon"`
}

// ForecastSeries is the raw 3-hourly forecast for one location, plus the
// location's UTC offset so samples can be bucketed into local days.
type ForecastSeries struct {
	Samples        []ForecastSample `json:"samples"`
	TimezoneOffset int              `json:"timezoneOffset"` // seconds east of UTC
}

// Place is a geocoding result.
type Place struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// WeatherClient talks to the weather/geocoding provider.
type WeatherClient struct {
	apiKey  string
	baseURL string
	geoURL  string
	caller  *caller
}

// NewWeatherClient creates a WeatherClient bound to the given HTTP client.
// The client's timeout is the call bound for all weather/geocoding requests.
func NewWeatherClient(client *http.Client, apiKey string) *WeatherClient {
	return &WeatherClient{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5",
		geoURL:  "https://api.openweathermap.org/geo/1.0",
		caller:  newCaller("weather", client),
	}
}

// Current fetches current conditions for the given coordinates.
func (c *WeatherClient) Current(ctx context.Context, lat, lon float64) (CurrentWeather, error) {
	if c.apiKey == "" {
		return CurrentWeather{}, &ConfigError{Name: "WEATHER_API_KEY"}
	}

	body, err := c.caller.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", lat))
		values.Set("lon", fmt.Sprintf("%f", lon))
		values.Set("units", "metric")
		values.Set("appid", c.apiKey)
		return http.NewRequest(http.MethodGet, c.baseURL+"/weather?"+values.Encode(), nil)
	})
	if err != nil {
		return CurrentWeather{}, err
	}

	var payload struct {
		Name string `json:"name"`
		Dt   int64  `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
			Humidity  float64 `json:"humidity"`
			Pressure  float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []struct {
			ID          int    `json:"id"`
			Main        string `json:"main"`
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return CurrentWeather{}, &UpstreamError{Provider: "weather", Err: err}
	}

	cw := CurrentWeather{
		City:      payload.Name,
		Temp:      payload.Main.Temp,
		FeelsLike: payload.Main.FeelsLike,
		TempMin:   payload.Main.TempMin,
		TempMax:   payload.Main.TempMax,
		Humidity:  payload.Main.Humidity,
		Pressure:  payload.Main.Pressure,
		WindSpeed: payload.Wind.Speed,
		Timestamp: time.Unix(payload.Dt, 0).UTC(),
	}
	if len(payload.Weather) > 0 {
		cw.ConditionID = payload.Weather[0].ID
		cw.Condition = payload.Weather[0].Main
		cw.Description = payload.Weather[0].Description
		cw.Icon = payload.Weather[0].Icon
	}
	return cw, nil
}

// Forecast3h fetches the provider's 5-day/3-hour forecast.
func (c *WeatherClient) Forecast3h(ctx context.Context, lat, lon float64) (ForecastSeries, error) {
	if c.apiKey == "" {
		return ForecastSeries{}, &ConfigError{Name: "WEATHER_API_KEY"}
	}

	body, err := c.caller.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", lat))
		values.Set("lon", fmt.Sprintf("%f", lon))
		values.Set("units", "metric")
		values.Set("appid", c.apiKey)
		return http.NewRequest(http.MethodGet, c.baseURL+"/forecast?"+values.Encode(), nil)
	})
	if err != nil {
		return ForecastSeries{}, err
	}

	var payload struct {
		List []struct {
			Dt   int64 `json:"dt"`
			Main struct {
				Temp     float64 `json:"temp"`
				Humidity float64 `json:"humidity"`
			} `json:"main"`
			Pop     float64 `json:"pop"`
			Weather []struct {
				ID          int    `json:"id"`
				Main        string `json:"main"`
				Description string `json:"description"`
				Icon        string `json:"icon"`
			} `json:"weather"`
		} `json:"list"`
		City struct {
			Timezone int `json:"timezone"`
		} `json:"city"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ForecastSeries{}, &UpstreamError{Provider: "weather", Err: err}
	}

	series := ForecastSeries{
		Samples:        make([]ForecastSample, 0, len(payload.List)),
		TimezoneOffset: payload.City.Timezone,
	}
	for _, item := range payload.List {
		sample := ForecastSample{
			Time:     time.Unix(item.Dt, 0).UTC(),
			Temp:     item.Main.Temp,
			Humidity: item.Main.Humidity,
			Pop:      item.Pop,
		}
		if len(item.Weather) > 0 {
			sample.ConditionID = item.Weather[0].ID
			sample.Condition = item.Weather[0].Main
			sample.Icon = item.Weather[0].Icon
		}
		series.Samples = append(series.Samples, sample)
	}
	return series, nil
}

// SearchCities resolves a free-text query to candidate places.
func (c *WeatherClient) SearchCities(ctx context.Context, query string, limit int) ([]Place, error) {
	if c.apiKey == "" {
		return nil, &ConfigError{Name: "WEATHER_API_KEY"}
	}
	if limit <= 0 {
		limit = 5
	}

	body, err := c.caller.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", query)
		values.Set("limit", fmt.Sprintf("%d", limit))
		values.Set("appid", c.apiKey)
		return http.NewRequest(http.MethodGet, c.geoURL+"/direct?"+values.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}

	return c.decodePlaces(body)
}

// ReverseGeocode resolves coordinates to the nearest known place.
func (c *WeatherClient) ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error) {
	if c.apiKey == "" {
		return Place{}, &ConfigError{Name: "WEATHER_API_KEY"}
	}

	body, err := c.caller.do(ctx, func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", lat))
		values.Set("lon", fmt.Sprintf("%f", lon))
		values.Set("limit", "1")
		values.Set("appid", c.apiKey)
		return http.NewRequest(http.MethodGet, c.geoURL+"/reverse?"+values.Encode(), nil)
	})
	if err != nil {
		return Place{}, err
	}

	places, err := c.decodePlaces(body)
	if err != nil {
		return Place{}, err
	}
	if len(places) == 0 {
		return Place{Name: "Unknown", Lat: lat, Lon: lon}, nil
	}
	return places[0], nil
}

func (c *WeatherClient) decodePlaces(body []byte) ([]Place, error) {
	var payload []struct {
		Name    string  `json:"name"`
		Country string  `json:"country"`
		State   string  `json:"state"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &UpstreamError{Provider: "weather", Err: err}
	}

	places := make([]Place, len(payload))
	for i, p := range payload {
		places[i] = Place{Name: p.Name, Country: p.Country, State: p.State, Lat: p.Lat, Lon: p.Lon}
	}
	return places, nil
}
