// Package providers registers the chat adapters the llm client can
// route completions through. Importing it for side effects is enough;
// endpoint configs pick an adapter by name.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strataline/policygraph/llm"
)

// chatRequest is the openai-style completion payload shared by the
// ollama and openai adapters.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      llm.Message `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func encodeChatRequest(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	req := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}
	return json.Marshal(req)
}

func decodeChatResponse(body []byte, fallbackModel string) (*llm.Response, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat completion has no choices")
	}

	modelName := parsed.Model
	if modelName == "" {
		modelName = fallbackModel
	}

	return &llm.Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   modelName,
		Usage: llm.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

// chatCompletionsURL resolves a configured base URL to the completions
// path, tolerating bases that already include it.
func chatCompletionsURL(baseURL, fallback string) string {
	base := baseURL
	if base == "" {
		base = fallback
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

var (
	_ llm.Provider = ollamaProvider{}
	_ llm.Provider = openaiProvider{}
	_ llm.Provider = anthropicProvider{}
)
