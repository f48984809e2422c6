package restclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultMaxRetries = 3

// ErrRequestFailed wraps every failure returned by Do.
var ErrRequestFailed = errors.New("request failed")

// StatusError is returned for a non-retryable HTTP error response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 means unlimited
	RateLimitBurst int
	MaxRetries     int
	// Backoff is the first retry delay; it doubles on every attempt.
	Backoff time.Duration
}

// Client executes resty requests behind a rate limiter with retry on 429/418/5xx
// and network errors.
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

// New creates a client.
func New(opts Options, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateLimitBurst
	if burst < 1 {
		burst = 1
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		http:       client,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// BaseURL returns the URL every path is resolved against.
func (c *Client) BaseURL() string { return c.http.BaseURL }

// R starts a request bound to ctx. Responses are decoded as JSON whatever their
// declared content type.
func (c *Client) R(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).ForceContentType("application/json")
}

// Do executes the request, waiting for the rate limiter before each attempt.
func (c *Client) Do(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter wait: %w", ErrRequestFailed, err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.http.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
		}

		// Network errors are always retried; HTTP errors only when throttled or 5xx.
		var retryAfter time.Duration
		if err == nil && resp != nil {
			statusCode := resp.StatusCode()
			shouldRetry := false
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = &StatusError{StatusCode: statusCode, Body: resp.String()}
			if !shouldRetry {
				return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
			}
		}

		if i == c.maxRetries-1 {
			break
		}
		if retryAfter == 0 {
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrRequestFailed, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRequestFailed, c.maxRetries, err)
}
