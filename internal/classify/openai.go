package classify

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/sells-group/crec-cli/internal/resilience"
)

// OpenAIClassifier asks an OpenAI-compatible chat model to pick a label for
// each text.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	retry  resilience.RetryConfig
}

// NewOpenAIClassifier creates a classifier. baseURL and model may be empty.
func NewOpenAIClassifier(apiKey, baseURL, model string, retry resilience.RetryConfig) *OpenAIClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" || strings.Contains(model, "/") {
		model = openai.GPT4oMini
	}
	retry.ShouldRetry = retryableOpenAI
	retry.OnRetry = resilience.RetryLogger("classify.openai", "chat completion")
	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		retry:  retry,
	}
}

// Classify implements ZeroShotClassifier.
func (o *OpenAIClassifier) Classify(ctx context.Context, texts []string, labels []string) ([]Result, error) {
	system := systemPrompt(labels)
	return classifyEach(ctx, texts, func(ctx context.Context, text string) (Result, error) {
		resp, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			return o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: o.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: system},
					{Role: openai.ChatMessageRoleUser, Content: promptText(text)},
				},
				MaxTokens:   64,
				Temperature: 0,
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
			})
		})
		if err != nil {
			return Result{}, eris.Wrap(err, "classify: chat completion")
		}
		if len(resp.Choices) == 0 {
			return Result{}, eris.New("classify: no choices in completion")
		}
		return parseAnswer(resp.Choices[0].Message.Content, labels)
	})
}

func retryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.IsTransientHTTPStatus(reqErr.HTTPStatusCode)
	}
	return resilience.IsTransient(err)
}
