// Package policeapi is the client for the public police data API: a
// rate-limited, retrying GET that never surfaces errors to callers, plus
// typed endpoint helpers decoding into optional-field record trees.
package policeapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/police-sync/internal/resilience"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://data.police.uk/api/"

// Options configures a Client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// RateLimit is requests per second; Burst the bucket size.
	RateLimit float64
	Burst     int

	Retry resilience.RetryConfig

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// Stats are request counters accumulated over the client's lifetime.
type Stats struct {
	Requests  int64
	Retries   int64
	Exhausted int64
	NoData    int64
}

// Client fetches JSON documents from the API.
type Client struct {
	base    *url.URL
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	requests  atomic.Int64
	retries   atomic.Int64
	exhausted atomic.Int64
	noData    atomic.Int64
}

// New creates a Client. Zero options fall back to the published API limits.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "police-sync/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 15
	}
	if opts.Burst <= 0 {
		opts.Burst = 30
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "policeapi: parse base url %q", opts.BaseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, eris.Errorf("policeapi: base url %q is not absolute", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		base:    base,
		opts:    opts,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		log:     zap.L().With(zap.String("component", "policeapi")),
	}, nil
}

// Stats returns a snapshot of the request counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		Retries:   c.retries.Load(),
		Exhausted: c.exhausted.Load(),
		NoData:    c.noData.Load(),
	}
}

// Fetch GETs path (relative to the base URL) and returns its records. A JSON
// list is returned element by element and a single object becomes a
// one-element list. nil means no data: the retries ran out, the context was
// cancelled, or the body was empty or not JSON. An empty list is returned as
// a non-nil empty slice.
func (c *Client) Fetch(ctx context.Context, path string, query url.Values) []json.RawMessage {
	target := c.resolve(path, query)
	log := c.log.With(zap.String("path", path), zap.String("params", query.Encode()))

	retry := c.opts.Retry
	onRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error) {
		c.retries.Add(1)
		log.Warn("request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, target)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("request abandoned", zap.Error(ctx.Err()))
		} else {
			c.exhausted.Add(1)
			log.Error("request failed after retries", zap.Error(err))
		}
		c.noData.Add(1)
		return nil
	}

	records, err := decodeRecords(body)
	if err != nil {
		c.noData.Add(1)
		log.Warn("undecodable response body", zap.Error(err))
		return nil
	}
	if records == nil {
		c.noData.Add(1)
	}
	return records
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}
	c.requests.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "request cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "http get"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resilience.NewTransientError(
			eris.Errorf("unexpected response from %s", req.URL.Path), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}
	return body, nil
}

// decodeRecords splits a response body into records. A nil slice with a nil
// error means the body held nothing.
func decodeRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, eris.Wrap(err, "decode list")
		}
		if list == nil {
			list = []json.RawMessage{}
		}
		return list, nil
	case '{':
		if !json.Valid(trimmed) {
			return nil, eris.New("decode object: invalid json")
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, eris.Errorf("unexpected body starting with %q", trimmed[0])
	}
}
