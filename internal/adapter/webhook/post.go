// Package webhook posts JSON payloads to incoming-webhook endpoints with
// retry on transient failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxTries bounds delivery attempts for one payload.
const DefaultMaxTries = 3

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API %d: %s", e.Provider, e.Code, e.Body)
}

// Client posts payloads for one provider.
type Client struct {
	Provider string
	HTTP     *http.Client
	MaxTries uint
	// InitialInterval is the first retry wait. Zero uses the backoff default.
	InitialInterval time.Duration
}

// NewClient returns a client with a 10s request timeout.
func NewClient(provider string) *Client {
	return &Client{
		Provider: provider,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		MaxTries: DefaultMaxTries,
	}
}

// PostJSON marshals payload and posts it to url. 429 and 5xx responses and
// transport errors are retried; other 4xx responses fail immediately.
func (c *Client) PostJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", c.Provider, err)
	}

	bo := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		bo.InitialInterval = c.InitialInterval
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%s request: %w", c.Provider, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(req) //nolint:gosec // webhook URL from trusted config
		if err != nil {
			return struct{}{}, fmt.Errorf("%s send: %w", c.Provider, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 300 {
			return struct{}{}, nil
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := &StatusError{Provider: c.Provider, Code: resp.StatusCode, Body: string(respBody)}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				return struct{}{}, backoff.RetryAfter(secs)
			}
			return struct{}{}, statusErr
		case resp.StatusCode >= 500:
			return struct{}{}, statusErr
		default:
			return struct{}{}, backoff.Permanent(statusErr)
		}
	}

	maxTries := c.MaxTries
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}
	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(time.Minute),
	)
	return err
}
