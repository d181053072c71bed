package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/crec-cli/internal/config"
	"github.com/sells-group/crec-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return New(Options{
		APIKey:            "test-key",
		UserAgent:         "test-agent",
		Timeout:           5 * time.Second,
		MaxAttempts:       3,
		RateLimitCooldown: 20 * time.Millisecond,
		RetryDelay:        time.Millisecond,
		RequestsPerSecond: 1000,
		Burst:             100,
	})
}

func TestGetSuccessAppliesKeyAndParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
		assert.Equal(t, "CREC", r.URL.Query().Get("collection"))
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Get(context.Background(), srv.URL+"/published/2020-01-01/2020-12-31?collection=CREC", url.Values{"pageSize": {"100"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(resp.Body))
}

func TestGetNotFoundIsImmediate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetRetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t)
	before := c.Limiter().Limit()

	start := time.Now()
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "429 must wait out the cooldown")
	assert.Less(t, c.Limiter().Limit(), before)
}

func TestGetExhaustedIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t).Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, http.StatusBadGateway, resilience.StatusCode(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.NotContains(t, err.Error(), "test-key")
}

func TestGetClientErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("third time"))
	}))
	defer srv.Close()

	resp, err := newTestClient(t).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "third time", string(resp.Body))
}

func TestGetCancelledDuringCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Options{
		RateLimitCooldown: time.Hour,
		RequestsPerSecond: 1000,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGetBadURL(t *testing.T) {
	_, err := newTestClient(t).Get(context.Background(), "://nope", nil)
	assert.Error(t, err)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"count": 2, "granules": [{"granuleId": "a"}, {"granuleId": "b"}]}`))
		default:
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	type page struct {
		Count    int `json:"count"`
		Granules []struct {
			GranuleID string `json:"granuleId"`
		} `json:"granules"`
	}

	c := newTestClient(t)
	p, err := GetJSON[page](context.Background(), c, srv.URL+"/ok", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Count)
	assert.Len(t, p.Granules, 2)

	_, err = GetJSON[page](context.Background(), c, srv.URL+"/bad", nil)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.GovInfoConfig{
		APIKey:                "k",
		TimeoutSecs:           20,
		MaxAttempts:           3,
		RateLimitCooldownSecs: 2700,
		RetryDelayMs:          2000,
		RequestsPerSecond:     5,
		Burst:                 5,
	})
	assert.Equal(t, "k", opts.APIKey)
	assert.Equal(t, 45*time.Minute, opts.RateLimitCooldown)
	assert.Equal(t, 2*time.Second, opts.RetryDelay)
	assert.Equal(t, 20*time.Second, opts.Timeout)
}

func TestNewDefaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, 3, c.opts.MaxAttempts)
	assert.Equal(t, 45*time.Minute, c.opts.RateLimitCooldown)
	assert.Equal(t, 2*time.Second, c.opts.RetryDelay)
	assert.Equal(t, rate.Limit(5), c.Limiter().Limit())
}

func TestAdaptiveLimiterBounds(t *testing.T) {
	a := NewAdaptiveLimiter(10, 10)

	for i := 0; i < 20; i++ {
		a.OnSuccess()
	}
	assert.InDelta(t, 20, float64(a.Limit()), 0.001)

	for i := 0; i < 20; i++ {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(a.Limit()), 0.001)

	require.NoError(t, a.Wait(context.Background()))
}
