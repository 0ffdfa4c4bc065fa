// Package skyapi is a small client for the Blackbaud SKY API: paced,
// retried GET requests returning decoded JSON, plus the constituent and
// campaign lookups used to label report rows.
package skyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dvloznov/donation-tracker/internal/logger"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// SubscriptionKeyHeader carries the developer subscription key.
const SubscriptionKeyHeader = "Bb-Api-Subscription-Key"

// Response is one decoded API response.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte      // raw body as received
	Document   interface{} // Body decoded with json.Number for numbers
}

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	HTTPClient      *http.Client
	RequestInterval time.Duration // minimum spacing between requests; 0 disables pacing
	RetryBackoff    time.Duration // first retry delay, doubled on each further retry
	MaxRetries      int
	// Sleep waits between retries. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client issues authenticated GET requests against the API.
type Client struct {
	http            *http.Client
	tokens          oauth2.TokenSource
	subscriptionKey string
	limiter         *rate.Limiter
	backoff         time.Duration
	maxRetries      int
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client that authenticates with tokens and the given
// subscription key.
func NewClient(tokens oauth2.TokenSource, subscriptionKey string, opts Options) *Client {
	c := &Client{
		http:            opts.HTTPClient,
		tokens:          tokens,
		subscriptionKey: subscriptionKey,
		backoff:         opts.RetryBackoff,
		maxRetries:      opts.MaxRetries,
		sleep:           opts.Sleep,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if opts.RequestInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.RequestInterval), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return c
}

// Get fetches rawURL with params appended to its query string. Throttling
// and server errors are retried with exponential backoff; every other
// failure is returned immediately.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	log := logger.FromContext(ctx)

	reqURL, err := withParams(rawURL, params)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("Get: waiting for request slot: %w", err)
		}

		resp, err := c.do(ctx, reqURL)
		if err == nil {
			return resp, nil
		}

		delay, retryable := c.retryDelay(ctx, err, attempt)
		if !retryable {
			if attempt > 0 {
				return nil, fmt.Errorf("Get %s: giving up after %d attempts: %w", reqURL, attempt+1, err)
			}
			return nil, fmt.Errorf("Get %s: %w", reqURL, err)
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Str("url", reqURL).
			Msg("Transient API failure, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("Get: waiting to retry: %w", err)
		}
	}
}

// retryDelay decides whether err may be retried after attempt and for how long to wait.
func (c *Client) retryDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if attempt >= c.maxRetries || ctx.Err() != nil {
		return 0, false
	}

	delay := c.backoff << attempt
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		if !apiErr.Temporary() {
			return 0, false
		}
		if apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
	case errors.Is(err, ErrMalformedResponse):
		return 0, false
	default:
		var urlErr *url.Error
		if !errors.As(err, &urlErr) {
			return 0, false
		}
	}
	return delay, true
}

func (c *Client) do(ctx context.Context, reqURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.subscriptionKey != "" {
		req.Header.Set(SubscriptionKeyHeader, c.subscriptionKey)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining access token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if apiErr := classify(res.StatusCode, res.Header, body); apiErr != nil {
		return nil, apiErr
	}

	doc, err := decodeDocument(body)
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        reqURL,
		StatusCode: res.StatusCode,
		Body:       body,
		Document:   doc,
	}, nil
}

// decodeDocument decodes a whole JSON document, keeping numbers exact.
func decodeDocument(body []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedResponse)
	}
	return doc, nil
}

// withParams merges params into the query of rawURL. A URL without extra
// params is returned untouched so cursor links are followed verbatim.
func withParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if len(params) == 0 {
		return rawURL, nil
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
