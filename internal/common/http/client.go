// internal/common/http/client.go
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTimeout is returned when the context deadline ends the exchange.
var ErrTimeout = errors.New("request timed out")

// StatusError is a non-200 answer from the remote side.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.StatusCode)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// NewClient builds a client; a zero timeout leaves the deadline to the caller's context.
func NewClient(timeout time.Duration, maxRetries int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  100 * time.Millisecond,
	}
}

// WithHTTPClient swaps the underlying transport (tests use httptest clients).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Do sends the request built by newReq, retrying transport errors, 5xx and
// 429 answers with exponential backoff. Other statuses return at once. The request is rebuilt on each
// attempt so streaming bodies can be replayed. On success the caller owns
// the response body.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, contextError(ctx)
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				return resp, nil
			}
			resp.Body.Close()
			statusErr := &StatusError{StatusCode: resp.StatusCode}
			if !statusErr.Temporary() {
				return nil, statusErr
			}
			lastErr = statusErr
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, contextError(ctx)
		}
	}

	return nil, lastErr
}

// contextError reports a deadline as ErrTimeout and a cancellation as itself.
func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("request aborted: %w", ctx.Err())
}
