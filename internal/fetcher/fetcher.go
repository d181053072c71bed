// Package fetcher is the rate-limited HTTP client for the document API.
package fetcher

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned for HTTP 404. It is permanent and never retried.
var ErrNotFound = eris.New("fetcher: not found")

// ErrExhausted is returned when every attempt failed. Errors wrapping it are
// also resilience.TransientError values.
var ErrExhausted = eris.New("fetcher: retries exhausted")

// Getter issues a GET against the document API.
type Getter interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*Response, error)
}

// Response is a fully read 200 response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
