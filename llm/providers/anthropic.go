package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/strataline/policygraph/llm"
)

const (
	anthropicVersion = "2023-06-01"

	// The messages API requires an explicit cap.
	anthropicMaxTokens = 4096
)

// anthropicProvider speaks the anthropic messages API, which differs
// from the openai shape in two ways: the system prompt travels as a
// top-level field, and max_tokens is mandatory.
type anthropicProvider struct{}

func init() {
	llm.RegisterProvider(anthropicProvider{})
}

func (anthropicProvider) Name() string { return "anthropic" }

func (anthropicProvider) BuildURL(baseURL string) string {
	base := baseURL
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(base, "/") + "/v1/messages"
}

func (anthropicProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		req.Header.Set("x-api-key", key)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []llm.Message `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

func (anthropicProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	system, rest := splitSystemPrompt(messages)

	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	return json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    rest,
		System:      system,
		Temperature: temperature,
	})
}

// splitSystemPrompt lifts system messages out of the chat history. When
// several are present the last one wins.
func splitSystemPrompt(messages []llm.Message) (string, []llm.Message) {
	var system string
	rest := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (anthropicProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("anthropic response has no content")
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	modelName := parsed.Model
	if modelName == "" {
		modelName = model
	}

	return &llm.Response{
		Content: text.String(),
		Model:   modelName,
		Usage: llm.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		FinishReason: parsed.StopReason,
	}, nil
}
