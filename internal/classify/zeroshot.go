package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crec-cli/internal/resilience"
)

// Option configures a ZeroShotHTTP.
type Option func(*ZeroShotHTTP)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(z *ZeroShotHTTP) {
		if d > 0 {
			z.http.Timeout = d
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(z *ZeroShotHTTP) {
		z.retry = cfg
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(z *ZeroShotHTTP) {
		z.http = hc
	}
}

// ZeroShotHTTP calls a zero-shot inference endpoint that speaks the hosted
// inference contract: POST {inputs, parameters: {candidate_labels}} returns
// one {labels, scores} object per input.
type ZeroShotHTTP struct {
	endpoint string
	token    string
	http     *http.Client
	retry    resilience.RetryConfig
}

// NewZeroShotHTTP creates a client for endpoint. token may be empty.
func NewZeroShotHTTP(endpoint, token string, opts ...Option) *ZeroShotHTTP {
	z := &ZeroShotHTTP{
		endpoint: endpoint,
		token:    token,
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(z)
	}
	z.retry.OnRetry = resilience.RetryLogger("classify.zeroshot", "classify batch")
	return z
}

type zeroShotRequest struct {
	Inputs     []string       `json:"inputs"`
	Parameters zeroShotParams `json:"parameters"`
}

type zeroShotParams struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

// Classify sends texts as one request, retrying transient failures.
func (z *ZeroShotHTTP) Classify(ctx context.Context, texts []string, labels []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(zeroShotRequest{
		Inputs:     texts,
		Parameters: zeroShotParams{CandidateLabels: labels},
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: marshal request")
	}

	results, err := resilience.DoVal(ctx, z.retry, func(ctx context.Context) ([]Result, error) {
		return z.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, eris.Errorf("classify: endpoint returned %d results for %d inputs", len(results), len(texts))
	}
	return results, nil
}

func (z *ZeroShotHTTP) post(ctx context.Context, body []byte) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "classify: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if z.token != "" {
		req.Header.Set("Authorization", "Bearer "+z.token)
	}

	resp, err := z.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "classify: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "classify: read response"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("classify: unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var results []Result
	if err := json.Unmarshal(respBody, &results); err != nil {
		// A single input may come back as a bare object.
		var one Result
		if err2 := json.Unmarshal(respBody, &one); err2 != nil {
			return nil, eris.Wrap(err, "classify: decode response")
		}
		results = []Result{one}
	}
	return results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
