package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/crec-cli/internal/config"
	"github.com/sells-group/crec-cli/internal/resilience"
)

const defaultMaxBody = 64 << 20

// Options configures a Client.
type Options struct {
	APIKey            string
	UserAgent         string
	Timeout           time.Duration
	MaxAttempts       int
	RateLimitCooldown time.Duration
	RetryDelay        time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
	HTTPClient        *http.Client
}

// OptionsFromConfig maps the govinfo config section onto Options.
func OptionsFromConfig(cfg config.GovInfoConfig) Options {
	return Options{
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout(),
		MaxAttempts:       cfg.MaxAttempts,
		RateLimitCooldown: cfg.RateLimitCooldown(),
		RetryDelay:        cfg.RetryDelay(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

// Client performs API-keyed GETs with pacing and the retry policy of the
// document API: 404 is final, 429 waits out a long cooldown, and any other
// failure waits a short delay, all within a fixed attempt budget.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *AdaptiveLimiter
	log     *zap.Logger
}

// New creates a Client. Zero-valued options take the document API defaults.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RateLimitCooldown == 0 {
		opts.RateLimitCooldown = 45 * time.Minute
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RequestsPerSecond) + 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "crec-cli/1.0"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{
		http:    hc,
		opts:    opts,
		limiter: NewAdaptiveLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		log:     zap.L().With(zap.String("component", "fetcher")),
	}
}

// Limiter exposes the shared rate limiter.
func (c *Client) Limiter() *AdaptiveLimiter {
	return c.limiter
}

// Get fetches rawURL with params merged into its query and the API key
// applied. It returns ErrNotFound on 404 and an ErrExhausted-wrapping
// transient error once the attempt budget is spent.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	u, err := c.buildURL(rawURL, params)
	if err != nil {
		return nil, err
	}
	// Logged without the query so the key stays out of logs.
	logURL := u.Scheme + "://" + u.Host + u.Path

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		resp, status, err := c.do(ctx, u)
		switch {
		case err == nil:
			c.limiter.OnSuccess()
			return resp, nil
		case ctx.Err() != nil:
			return nil, eris.Wrap(ctx.Err(), "fetcher: get")
		case status == http.StatusNotFound:
			return nil, eris.Wrapf(ErrNotFound, "fetcher: %s", logURL)
		}

		lastErr, lastStatus = err, status
		if attempt == c.opts.MaxAttempts {
			break
		}

		wait := c.opts.RetryDelay
		if status == http.StatusTooManyRequests {
			c.limiter.OnRateLimit()
			wait = c.opts.RateLimitCooldown
			c.log.Warn("rate limit hit, cooling down",
				zap.String("url", logURL),
				zap.Int("attempt", attempt),
				zap.Duration("cooldown", wait),
			)
		} else {
			c.log.Warn("request failed, retrying",
				zap.String("url", logURL),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		if !resilience.Sleep(ctx, wait) {
			return nil, eris.Wrap(ctx.Err(), "fetcher: get")
		}
	}

	return nil, resilience.NewTransientError(
		eris.Wrapf(ErrExhausted, "fetcher: %s after %d attempts: %v", logURL, c.opts.MaxAttempts, lastErr),
		lastStatus,
	)
}

// do performs one request. A non-nil error comes with the HTTP status, or 0
// for transport failures.
func (c *Client) do(ctx context.Context, u *url.URL) (*Response, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: do request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, eris.Errorf("fetcher: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "fetcher: read body")
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, resp.StatusCode, nil
}

func (c *Client) buildURL(rawURL string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if c.opts.APIKey != "" {
		q.Set("api_key", c.opts.APIKey)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// GetJSON fetches rawURL and decodes the body into T.
func GetJSON[T any](ctx context.Context, g Getter, rawURL string, params url.Values) (T, error) {
	var out T
	resp, err := g.Get(ctx, rawURL, params)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, eris.Wrap(err, "fetcher: decode json")
	}
	return out, nil
}
