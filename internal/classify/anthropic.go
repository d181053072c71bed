package classify

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/sells-group/crec-cli/internal/resilience"
	"github.com/sells-group/crec-cli/pkg/anthropic"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// AnthropicClassifier asks a Claude model to pick a label for each text.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
	retry  resilience.RetryConfig
}

// NewAnthropicClassifier creates a classifier. baseURL and model may be empty.
func NewAnthropicClassifier(apiKey, baseURL, model string, retry resilience.RetryConfig) *AnthropicClassifier {
	return newAnthropicClassifier(anthropic.NewClient(apiKey, baseURL), model, retry)
}

func newAnthropicClassifier(client anthropic.Client, model string, retry resilience.RetryConfig) *AnthropicClassifier {
	if model == "" || !isClaudeModel(model) {
		model = defaultAnthropicModel
	}
	retry.ShouldRetry = retryableAnthropic
	retry.OnRetry = resilience.RetryLogger("classify.anthropic", "create message")
	return &AnthropicClassifier{client: client, model: model, retry: retry}
}

// isClaudeModel rejects the zero-shot model default when it leaks through
// shared config.
func isClaudeModel(m string) bool {
	return strings.HasPrefix(m, "claude-")
}

// Classify implements ZeroShotClassifier.
func (a *AnthropicClassifier) Classify(ctx context.Context, texts []string, labels []string) ([]Result, error) {
	system := systemPrompt(labels)
	temp := 0.0
	return classifyEach(ctx, texts, func(ctx context.Context, text string) (Result, error) {
		resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:       a.model,
				MaxTokens:   64,
				System:      system,
				Messages:    []anthropic.Message{{Role: "user", Content: promptText(text)}},
				Temperature: &temp,
			})
		})
		if err != nil {
			return Result{}, err
		}
		resp.Usage.LogUsage(a.model)
		return parseAnswer(resp.Text(), labels)
	})
}

func retryableAnthropic(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode) || apiErr.StatusCode == 529
	}
	return resilience.IsTransient(err)
}
