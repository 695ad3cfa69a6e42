// Package httpretry wraps an HTTP client with bounded retries, exponential
// backoff with full jitter, and Retry-After support for external API calls.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/insight-digest/internal/pkg/logger"
)

// HTTPDoer executes HTTP requests. *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	minDelay          = 100 * time.Millisecond
)

// Option configures a RetryClient.
type Option func(*RetryClient)

// WithBackoff sets the base and maximum backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(rc *RetryClient) {
		if base > 0 {
			rc.baseDelay = base
		}
		if max > 0 {
			rc.maxDelay = max
		}
	}
}

// WithLogger sets the logger used for retry lines.
func WithLogger(l *logger.Logger) Option {
	return func(rc *RetryClient) { rc.log = l }
}

// RetryClient retries transient failures of the wrapped client.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
	sleep      func(req *http.Request, d time.Duration) error
}

// NewRetryClient wraps client, which defaults to an http.Client with a 30s
// timeout. maxRetries counts attempts after the first one.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		log:        logger.Default(),
		sleep:      sleepReq,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do sends req, retrying on 429/5xx gateway statuses and network errors.
// Client errors and context cancellation are not retried. The final
// attempt's response is returned as-is so callers can read the body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter time.Duration
	)

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt, retryAfter)
			rc.log.Warn("http retry",
				"attempt", attempt,
				"max_retries", rc.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"wait", delay.String(),
				"error", lastErr,
			)
			if err := rc.sleep(req, delay); err != nil {
				return nil, lastErr
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			retryAfter = 0
			continue
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay is full-jitter exponential backoff, replaced by the server's
// Retry-After when one was sent. Both are capped at maxDelay.
func (rc *RetryClient) delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, rc.maxDelay)
	}
	exp := float64(rc.baseDelay) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.maxDelay) {
		exp = float64(rc.maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < minDelay {
		d = minDelay
	}
	return d
}

func sleepReq(req *http.Request, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

// parseRetryAfter accepts the delta-seconds form only.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
