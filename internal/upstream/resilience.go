package upstream

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// caller bundles an HTTP client with per-provider resilience: retries with
// exponential backoff for rate limits and server errors, plus a circuit
// breaker so a dead upstream stops consuming request budget.
type caller struct {
	provider string
	client   *http.Client
	backoff  BackoffConfig
	circuit  *gobreaker.CircuitBreaker
}

func newCaller(provider string, client *http.Client) *caller {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &caller{
		provider: provider,
		client:   client,
		backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		circuit: cb,
	}
}

const maxErrorBody = 4 << 10

// do executes the request with retries and the circuit breaker, returning
// the response body on any 2xx status. Every failure surfaces as an
// *UpstreamError; 429 and 5xx responses are retried, other statuses are
// returned to the caller at once with the upstream body attached.
func (c *caller) do(ctx context.Context, buildRequest func() (*http.Request, error)) ([]byte, error) {
	var attempt int
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, c.wrapTransport(err)
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.client.Do(req)
			if execErr != nil {
				return nil, c.wrapTransport(execErr)
			}
			defer resp.Body.Close()

			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if readErr != nil {
				return nil, c.wrapTransport(readErr)
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return body, nil
			}

			errBody := body
			if len(errBody) > maxErrorBody {
				errBody = errBody[:maxErrorBody]
			}
			return nil, &UpstreamError{
				Provider: c.provider,
				Status:   resp.StatusCode,
				Body:     string(errBody),
			}
		})

		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &UpstreamError{Provider: c.provider, Err: err}
		}

		lastErr = err
		if !c.retryable(err) || attempt >= c.backoff.MaxRetries {
			return nil, lastErr
		}

		delay := c.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.backoff.MaxInterval > 0 && delay > c.backoff.MaxInterval {
			delay = c.backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.wrapTransport(ctx.Err())
		case <-timer.C:
		}

		attempt++
	}
}

func (c *caller) retryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status == http.StatusTooManyRequests || ue.Status >= 500
	}
	return false
}

// wrapTransport converts transport-level failures, flagging deadline and
// net timeouts so callers can distinguish a slow upstream from a broken one.
func (c *caller) wrapTransport(err error) *UpstreamError {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var ne net.Error
	if !timeout && errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}
	return &UpstreamError{Provider: c.provider, Timeout: timeout, Err: err}
}
