// Package classify labels speeches as administrative procedure or
// substantive debate in two stages: a keyword purge over short texts, then
// zero-shot classification of everything still unlabeled.
package classify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crec-cli/internal/config"
	"github.com/sells-group/crec-cli/internal/resilience"
)

// Candidate labels, in the order they are offered to the model.
const (
	LabelProcedure = "administrative procedure"
	LabelDebate    = "political debate"
)

// Labels is the candidate label set for stage B.
var Labels = []string{LabelProcedure, LabelDebate}

// Result is one zero-shot prediction: labels sorted by descending score.
type Result struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Top returns the highest scoring label, or "" and 0 for an empty result.
func (r Result) Top() (string, float64) {
	if len(r.Labels) == 0 || len(r.Scores) == 0 {
		return "", 0
	}
	return r.Labels[0], r.Scores[0]
}

// ZeroShotClassifier scores each text against the candidate labels. The
// returned slice is parallel to texts.
type ZeroShotClassifier interface {
	Classify(ctx context.Context, texts []string, labels []string) ([]Result, error)
}

// NewClassifier builds the backend named by cfg.Provider.
func NewClassifier(cfg config.ClassifyConfig) (ZeroShotClassifier, error) {
	retry := resilience.FromConfig(cfg.MaxAttempts, cfg.RetryBackoff)
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second

	switch cfg.Provider {
	case "", "zeroshot":
		if cfg.Endpoint == "" {
			return nil, eris.New("classify: zeroshot provider needs an endpoint")
		}
		return NewZeroShotHTTP(cfg.Endpoint, cfg.APIKey,
			WithTimeout(timeout),
			WithRetry(retry),
		), nil
	case "anthropic":
		return NewAnthropicClassifier(cfg.APIKey, cfg.Endpoint, cfg.Model, retry), nil
	case "openai":
		return NewOpenAIClassifier(cfg.APIKey, cfg.Endpoint, cfg.Model, retry), nil
	default:
		return nil, eris.Errorf("classify: unknown provider %q", cfg.Provider)
	}
}
