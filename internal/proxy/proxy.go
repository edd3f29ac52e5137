// Package proxy is the stateless REST passthrough for stock and podcast
// routes. Unlike the aggregator it never reshapes responses: the upstream's
// raw JSON is cached and returned verbatim.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pulseboard/data-gateway/internal/cache"
	"github.com/pulseboard/data-gateway/internal/config"
	"github.com/pulseboard/data-gateway/internal/upstream"
)

// Config wires the gateway's upstream endpoints and credentials. Base URLs
// default to the real providers when empty.
type Config struct {
	StockBaseURL     string
	PodcastBaseURL   string
	StockAPIKey      string
	PodcastAPIKey    string
	PodcastAPISecret string
	Timeout          time.Duration
	TTL              config.TTLConfig
}

// route is one entry of the static dispatch table.
type route struct {
	params   []string // required query parameters
	optional []string // forwarded when present
	path     string   // upstream path
	remap    map[string]string
	ttl      func(t config.TTLConfig) time.Duration
}

// Gateway dispatches /stock/* and /podcast/* to the providers, caching raw
// responses per route TTL.
type Gateway struct {
	cache  cache.Store
	client *http.Client
	cfg    Config
	now    func() time.Time

	stockRoutes   map[string]route
	podcastRoutes map[string]route
}

// NewGateway creates a Gateway over the given cache store.
func NewGateway(store cache.Store, cfg Config) *Gateway {
	if cfg.StockBaseURL == "" {
		cfg.StockBaseURL = "https://finnhub.io/api/v1"
	}
	if cfg.PodcastBaseURL == "" {
		cfg.PodcastBaseURL = "https://api.podcastindex.org/api/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Gateway{
		cache:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		now:    time.Now,
		stockRoutes: map[string]route{
			"search": {
				params: []string{"q"},
				path:   "/search",
				ttl:    func(t config.TTLConfig) time.Duration { return t.StockSearch },
			},
			"quote": {
				params: []string{"symbol"},
				path:   "/quote",
				ttl:    func(t config.TTLConfig) time.Duration { return t.StockQuote },
			},
			"profile": {
				params: []string{"symbol"},
				path:   "/stock/profile2",
				ttl:    func(t config.TTLConfig) time.Duration { return t.StockProfile },
			},
			"candles": {
				params:   []string{"symbol", "from", "to"},
				optional: []string{"resolution"},
				path:     "/stock/candle",
				ttl:      func(t config.TTLConfig) time.Duration { return t.StockCandles },
			},
		},
		podcastRoutes: map[string]route{
			"search": {
				params: []string{"q"},
				path:   "/search/byterm",
				ttl:    func(t config.TTLConfig) time.Duration { return t.PodcastSearch },
			},
			"trending": {
				path: "/podcasts/trending",
				ttl:  func(t config.TTLConfig) time.Duration { return t.PodcastTrend },
			},
			"episodes": {
				params: []string{"feedId"},
				path:   "/episodes/byfeedid",
				remap:  map[string]string{"feedId": "id"},
				ttl:    func(t config.TTLConfig) time.Duration { return t.PodcastEpisode },
			},
		},
	}
}

// Register mounts the proxy routes on the fiber app.
func (g *Gateway) Register(app *fiber.App) {
	app.Get("/stock/:action", func(c *fiber.Ctx) error {
		return g.handle(c, "stock", g.stockRoutes)
	})
	app.Get("/podcast/:action", func(c *fiber.Ctx) error {
		return g.handle(c, "podcast", g.podcastRoutes)
	})
}

func (g *Gateway) handle(c *fiber.Ctx, resource string, routes map[string]route) error {
	action := c.Params("action")

	r, ok := routes[action]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound,
			fmt.Sprintf("unknown route: %s/%s", resource, action))
	}

	values := url.Values{}
	cacheKey := "proxy:" + resource + ":" + action
	for _, p := range r.params {
		v := c.Query(p)
		if v == "" {
			return fiber.NewError(fiber.StatusBadRequest,
				fmt.Sprintf("missing required parameter: %s", p))
		}
		values.Set(upstreamParam(r, p), v)
		cacheKey += ":" + v
	}
	for _, p := range r.optional {
		if v := c.Query(p); v != "" {
			values.Set(upstreamParam(r, p), v)
			cacheKey += ":" + v
		}
	}

	if body, ok := g.cache.Get(cacheKey); ok {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}

	body, status, err := g.fetch(c.Context(), resource, r.path, values)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		// Pass the upstream status through with a best-effort message.
		return fiber.NewError(status, upstreamMessage(body, status))
	}

	g.cache.Set(cacheKey, body, r.ttl(g.cfg.TTL))
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

func upstreamParam(r route, p string) string {
	if mapped, ok := r.remap[p]; ok {
		return mapped
	}
	return p
}

func (g *Gateway) fetch(ctx context.Context, resource, path string, values url.Values) ([]byte, int, error) {
	var base string
	headers := map[string]string{}

	switch resource {
	case "stock":
		if g.cfg.StockAPIKey == "" {
			return nil, 0, fiber.NewError(fiber.StatusInternalServerError,
				(&upstream.ConfigError{Name: "STOCK_API_KEY"}).Error())
		}
		base = g.cfg.StockBaseURL
		headers[upstream.StockTokenHeader] = g.cfg.StockAPIKey
	case "podcast":
		if g.cfg.PodcastAPIKey == "" || g.cfg.PodcastAPISecret == "" {
			return nil, 0, fiber.NewError(fiber.StatusInternalServerError,
				(&upstream.ConfigError{Name: "PODCAST_API_KEY"}).Error())
		}
		base = g.cfg.PodcastBaseURL
		for k, v := range upstream.PodcastAuthHeaders(g.cfg.PodcastAPIKey, g.cfg.PodcastAPISecret, g.now()) {
			headers[k] = v
		}
	}

	u := base + path
	if len(values) > 0 {
		u += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fiber.NewError(fiber.StatusBadGateway, "upstream request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, fiber.NewError(fiber.StatusBadGateway, "failed to read upstream response")
	}
	return body, resp.StatusCode, nil
}

// upstreamMessage pulls a human-readable error out of an upstream body.
func upstreamMessage(body []byte, status int) string {
	var payload struct {
		Error       string `json:"error"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		case payload.Description != "":
			return payload.Description
		}
	}
	return fmt.Sprintf("upstream returned status %d", status)
}
