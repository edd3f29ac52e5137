package upstream

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Podcast auth header names, per the directory provider's scheme: the raw
// key and a unix timestamp travel alongside a SHA1 signature of
// key+secret+timestamp.
const (
	PodcastKeyHeader  = "X-Auth-Key"
	PodcastDateHeader = "X-Auth-Date"
	PodcastSigHeader  = "Authorization"
)

// PodcastAuthHeaders computes the provider's time-based auth headers.
func PodcastAuthHeaders(apiKey, apiSecret string, now time.Time) map[string]string {
	ts := strconv.FormatInt(now.Unix(), 10)
	sum := sha1.Sum([]byte(apiKey + apiSecret + ts))
	return map[string]string{
		PodcastKeyHeader:  apiKey,
		PodcastDateHeader: ts,
		PodcastSigHeader:  fmt.Sprintf("%x", sum),
	}
}

// Feed is a normalized podcast feed. Categories arrive from the provider
// as a numeric-keyed map and are flattened to a comma-joined string.
type Feed struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Image       string `json:"image"`
	Categories  string `json:"categories"`
}

// Episode is one entry of a podcast feed.
type Episode struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	DatePublished int64  `json:"datePublished"`
	EnclosureURL  string `json:"enclosureUrl"`
	Duration      int    `json:"duration"`
	Image         string `json:"image"`
}

// PodcastClient talks to the podcast-directory provider.
type PodcastClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	caller    *caller
	now       func() time.Time
}

// NewPodcastClient creates a PodcastClient bound to the given HTTP client.
func NewPodcastClient(client *http.Client, apiKey, apiSecret string) *PodcastClient {
	return &PodcastClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   "https://api.podcastindex.org/api/1.0",
		caller:    newCaller("podcasts", client),
		now:       time.Now,
	}
}

func (c *PodcastClient) get(ctx context.Context, path string, values url.Values) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, &ConfigError{Name: "PODCAST_API_KEY"}
	}

	return c.caller.do(ctx, func() (*http.Request, error) {
		u := c.baseURL + path
		if len(values) > 0 {
			u += "?" + values.Encode()
		}
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range PodcastAuthHeaders(c.apiKey, c.apiSecret, c.now()) {
			req.Header.Set(k, v)
		}
		return req, nil
	})
}

type rawFeed struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	Author      string            `json:"author"`
	Image       string            `json:"image"`
	Categories  map[string]string `json:"categories"`
}

func (r rawFeed) normalize() Feed {
	return Feed{
		ID:          r.ID,
		Title:       r.Title,
		URL:         r.URL,
		Description: r.Description,
		Author:      r.Author,
		Image:       r.Image,
		Categories:  FlattenCategories(r.Categories),
	}
}

// FlattenCategories joins the provider's numeric-keyed category map into a
// stable comma-separated string, ordered by the numeric key.
func FlattenCategories(categories map[string]string) string {
	if len(categories) == 0 {
		return ""
	}

	keys := make([]string, 0, len(categories))
	for k := range categories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, categories[k])
	}
	return strings.Join(names, ", ")
}

// Search finds feeds matching a free-text query.
func (c *PodcastClient) Search(ctx context.Context, query string) ([]Feed, error) {
	values := url.Values{}
	values.Set("q", query)

	body, err := c.get(ctx, "/search/byterm", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Feeds []rawFeed `json:"feeds"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &UpstreamError{Provider: "podcasts", Err: err}
	}

	feeds := make([]Feed, len(payload.Feeds))
	for i, f := range payload.Feeds {
		feeds[i] = f.normalize()
	}
	return feeds, nil
}

// Trending lists currently trending feeds.
func (c *PodcastClient) Trending(ctx context.Context) ([]Feed, error) {
	body, err := c.get(ctx, "/podcasts/trending", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Feeds []rawFeed `json:"feeds"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &UpstreamError{Provider: "podcasts", Err: err}
	}

	feeds := make([]Feed, len(payload.Feeds))
	for i, f := range payload.Feeds {
		feeds[i] = f.normalize()
	}
	return feeds, nil
}

// Episodes lists the episodes of a feed.
func (c *PodcastClient) Episodes(ctx context.Context, feedID int64) ([]Episode, error) {
	values := url.Values{}
	values.Set("id", strconv.FormatInt(feedID, 10))

	body, err := c.get(ctx, "/episodes/byfeedid", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []struct {
			ID            int64  `json:"id"`
			Title         string `json:"title"`
			Description   string `json:"description"`
			DatePublished int64  `json:"datePublished"`
			EnclosureURL  string `json:"enclosureUrl"`
			Duration      int    `json:"duration"`
			Image         string `json:"image"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &UpstreamError{Provider: "podcasts", Err: err}
	}

	episodes := make([]Episode, len(payload.Items))
	for i, it := range payload.Items {
		episodes[i] = Episode{
			ID:            it.ID,
			Title:         it.Title,
			Description:   it.Description,
			DatePublished: it.DatePublished,
			EnclosureURL:  it.EnclosureURL,
			Duration:      it.Duration,
			Image:         it.Image,
		}
	}
	return episodes, nil
}

// Feed fetches a single feed's metadata by ID.
func (c *PodcastClient) Feed(ctx context.Context, feedID int64) (Feed, error) {
	values := url.Values{}
	values.Set("id", strconv.FormatInt(feedID, 10))

	body, err := c.get(ctx, "/podcasts/byfeedid", values)
	if err != nil {
		return Feed{}, err
	}

	var payload struct {
		Feed rawFeed `json:"feed"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Feed{}, &UpstreamError{Provider: "podcasts", Err: err}
	}
	return payload.Feed.normalize(), nil
}
