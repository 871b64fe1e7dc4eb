package musicsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"hecticradio.app/live/common/logger"
)

const (
	defaultRatePerSec = 5
	defaultTimeout    = 15 * time.Second
	maxErrorBody      = 512
)

// client is the HTTP plumbing shared by the platform syncs. Every outbound
// request waits on the platform's limiter first.
type client struct {
	http     *http.Client
	limiter  *rate.Limiter
	now      func() time.Time
	apiBase  string
	tokenURL string
}

type Option func(*client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *client) { cl.http = c }
}

// WithAPIBase points the platform API at another host, e.g. a test server.
func WithAPIBase(base string) Option {
	return func(cl *client) { cl.apiBase = base }
}

func WithTokenURL(u string) Option {
	return func(cl *client) { cl.tokenURL = u }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(cl *client) { cl.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(cl *client) { cl.now = now }
}

func newClient(apiBase, tokenURL string, opts []Option) client {
	c := client{
		http:     &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultRatePerSec),
		now:      time.Now,
		apiBase:  apiBase,
		tokenURL: tokenURL,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// getJSON fetches url with hc and decodes a 2xx body into v. Other statuses
// become errors carrying the start of the body.
func (c *client) getJSON(ctx context.Context, hc *http.Client, what, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: waiting for rate limiter: %w", what, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", what, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s failed with status %d: %s", what, resp.StatusCode, logger.Truncate(string(body), maxErrorBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decoding response: %w", what, err)
	}
	return nil
}

func ptrIfSet(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
