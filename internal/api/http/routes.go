package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/pulseboard/data-gateway/internal/aggregator"
	"github.com/pulseboard/data-gateway/internal/alerts"
	"github.com/pulseboard/data-gateway/internal/subscription"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

var validate = validator.New()

// RegisterRoutes wires the query surface into the Fiber app.
func RegisterRoutes(app *fiber.App, service *aggregator.Service, subs *subscription.Manager, alertStore alerts.Store) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather", func(c *fiber.Ctx) error {
		q, err := parseCoords(c)
		if err != nil {
			return err
		}
		snap, err := service.Weather(c.Context(), q.Lat, q.Lon)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(snap)
	})

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		q, err := parseCoords(c)
		if err != nil {
			return err
		}
		cur, err := service.CurrentWeather(c.Context(), q.Lat, q.Lon)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(cur)
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		q, err := parseCoords(c)
		if err != nil {
			return err
		}
		days, err := service.Forecast(c.Context(), q.Lat, q.Lon)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(fiber.Map{"forecast": days})
	})

	v1.Get("/weather/hourly", func(c *fiber.Ctx) error {
		q, err := parseCoords(c)
		if err != nil {
			return err
		}
		hours, err := service.HourlyForecast(c.Context(), q.Lat, q.Lon)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(fiber.Map{"hourly": hours})
	})

	v1.Get("/weather/updates", func(c *fiber.Ctx) error {
		q, err := parseCoords(c)
		if err != nil {
			return err
		}
		return streamUpdates(c, subs, q.Lat, q.Lon)
	})

	v1.Get("/geo/search", func(c *fiber.Ctx) error {
		query := c.Query("q")
		if query == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: q")
		}
		limit, _ := strconv.Atoi(c.Query("limit", "5"))
		places, err := service.SearchCities(c.Context(), query, limit)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(places)
	})

	v1.Get("/geo/reverse", func(c *fiber.Ctx) error {
		q, err := parseCoords(c)
		if err != nil {
			return err
		}
		place, err := service.ReverseGeocode(c.Context(), q.Lat, q.Lon)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(place)
	})

	v1.Get("/stocks/search", func(c *fiber.Ctx) error {
		query := c.Query("q")
		if query == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: q")
		}
		matches, err := service.SearchStocks(c.Context(), query)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(matches)
	})

	v1.Get("/stocks/quote", func(c *fiber.Ctx) error {
		symbol := c.Query("symbol")
		if symbol == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: symbol")
		}
		quote, err := service.StockQuote(c.Context(), symbol)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(quote)
	})

	v1.Get("/stocks/profile", func(c *fiber.Ctx) error {
		symbol := c.Query("symbol")
		if symbol == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: symbol")
		}
		profile, err := service.StockProfile(c.Context(), symbol)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(profile)
	})

	v1.Get("/stocks/candles", func(c *fiber.Ctx) error {
		var q candlesQuery
		if err := q.bind(c); err != nil {
			return err
		}
		candles, err := service.StockCandles(c.Context(), q.Symbol, q.Resolution, q.From, q.To)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(candles)
	})

	v1.Get("/podcasts/search", func(c *fiber.Ctx) error {
		query := c.Query("q")
		if query == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: q")
		}
		feeds, err := service.SearchPodcasts(c.Context(), query)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(feeds)
	})

	v1.Get("/podcasts/trending", func(c *fiber.Ctx) error {
		feeds, err := service.TrendingPodcasts(c.Context())
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(feeds)
	})

	v1.Get("/podcasts/episodes", func(c *fiber.Ctx) error {
		feedID := c.Query("feedId")
		if feedID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: feedId")
		}
		episodes, err := service.PodcastEpisodes(c.Context(), feedID)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(episodes)
	})

	v1.Get("/podcasts/feed", func(c *fiber.Ctx) error {
		feedID := c.Query("feedId")
		if feedID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: feedId")
		}
		feed, err := service.PodcastFeed(c.Context(), feedID)
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(feed)
	})

	v1.Post("/alerts/subscriptions", func(c *fiber.Ctx) error {
		var req alertSubscriptionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sub := alerts.Subscription{Token: req.Token}
		for _, city := range req.Cities {
			sub.Cities = append(sub.Cities, alerts.City{Lat: city.Lat, Lon: city.Lon, Name: city.Name})
		}
		if err := alertStore.Upsert(c.Context(), sub); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save subscription")
		}
		return c.Status(fiber.StatusNoContent).Send(nil)
	})

	v1.Delete("/alerts/subscriptions/:token", func(c *fiber.Ctx) error {
		token := c.Params("token")
		if err := alertStore.DeleteByTokens(c.Context(), []string{token}); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to delete subscription")
		}
		return c.Status(fiber.StatusNoContent).Send(nil)
	})
}

// coordsQuery holds the validated lat/lon query parameters.
type coordsQuery struct {
	Lat float64 `validate:"min=-90,max=90"`
	Lon float64 `validate:"min=-180,max=180"`
}

func parseCoords(c *fiber.Ctx) (coordsQuery, error) {
	var q coordsQuery

	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" {
		return q, fiber.NewError(fiber.StatusBadRequest, "missing required parameter: lat")
	}
	if lonStr == "" {
		return q, fiber.NewError(fiber.StatusBadRequest, "missing required parameter: lon")
	}

	var err error
	if q.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, "invalid parameter: lat")
	}
	if q.Lon, err = strconv.ParseFloat(lonStr, 64); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, "invalid parameter: lon")
	}

	if err := validate.Struct(q); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return q, nil
}

// candlesQuery holds query parameters for the candle endpoint.
type candlesQuery struct {
	Symbol     string `validate:"required"`
	Resolution string
	From       int64 `validate:"required"`
	To         int64 `validate:"required,gtefield=From"`
}

func (q *candlesQuery) bind(c *fiber.Ctx) error {
	q.Symbol = c.Query("symbol")
	if q.Symbol == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: symbol")
	}
	q.Resolution = c.Query("resolution", "D")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: from")
	}
	if toStr == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required parameter: to")
	}

	var err error
	if q.From, err = strconv.ParseInt(fromStr, 10, 64); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid parameter: from")
	}
	if q.To, err = strconv.ParseInt(toStr, 10, 64); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid parameter: to")
	}

	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// alertSubscriptionRequest is the registration payload, upserted by token.
type alertSubscriptionRequest struct {
	Token  string `json:"token" validate:"required"`
	Cities []struct {
		Lat  float64 `json:"lat" validate:"min=-90,max=90"`
		Lon  float64 `json:"lon" validate:"min=-180,max=180"`
		Name string  `json:"name" validate:"required"`
	} `json:"cities" validate:"required,min=1,dive"`
}

// streamUpdates serves the live weather subscription as server-sent
// events at the Subscription Manager's cadence.
func streamUpdates(c *fiber.Ctx, subs *subscription.Manager, lat, lon float64) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events := make(chan subscription.Event, 8)
	_, unsubscribe := subs.Subscribe(lat, lon, func(ev subscription.Event) {
		select {
		case events <- ev:
		default:
			// Slow consumer drops a tick rather than blocking the publisher.
		}
	})

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		for ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				// Client went away.
				return
			}
		}
	}))
	return nil
}

// mapServiceError translates aggregator failures into HTTP errors. At this
// boundary upstream failures are collapsed to a generic message; the raw
// status only passes through on the proxy surface.
func mapServiceError(err error) error {
	var invalid *aggregator.InvalidArgumentError
	if errors.As(err, &invalid) {
		return fiber.NewError(fiber.StatusBadRequest, invalid.Error())
	}

	var cfg *upstream.ConfigError
	if errors.As(err, &cfg) {
		return fiber.NewError(fiber.StatusInternalServerError, cfg.Error())
	}

	var up *upstream.UpstreamError
	if errors.As(err, &up) {
		if up.Timeout {
			return fiber.NewError(fiber.StatusGatewayTimeout, "upstream request timed out")
		}
		return fiber.NewError(fiber.StatusBadGateway, "upstream request failed")
	}

	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}
