package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// tokenPricesPer1M maps model names to (input, output) USD prices per
// million tokens. Unknown models report zero cost rather than guessing.
var tokenPricesPer1M = map[string][2]float64{
	"gpt-4.1":      {2.00, 8.00},
	"gpt-4.1-nano": {0.10, 0.40},
	"gpt-4o":       {2.50, 10.00},
	"gpt-4o-mini":  {0.15, 0.60},
}

// OpenAIClient implements Client on the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client from OPENAI_API_KEY, falling back to the
// container secret path when the environment variable is unset.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// NewOpenAIClientWithBase builds a client against a custom endpoint, for
// Azure-style and proxy deployments.
func NewOpenAIClientWithBase(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete implements the Client interface.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("request model is empty")
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.Temperature != nil {
		apiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		apiReq.MaxCompletionTokens = *req.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			CostUSD:          estimateCost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		},
	}, nil
}

// estimateCost converts token counts to USD using the price table.
// The model name is matched after stripping any provider prefix.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	prices, ok := tokenPricesPer1M[model]
	if !ok {
		return 0
	}
	return prices[0]*float64(promptTokens)/1e6 + prices[1]*float64(completionTokens)/1e6
}
