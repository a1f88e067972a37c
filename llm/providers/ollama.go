package providers

import (
	"net/http"
	"os"

	"github.com/strataline/policygraph/llm"
)

// ollamaProvider speaks ollama's openai-compatible completion API. It is
// the adapter for local models.
type ollamaProvider struct{}

func init() {
	llm.RegisterProvider(ollamaProvider{})
}

func (ollamaProvider) Name() string { return "ollama" }

func (ollamaProvider) BuildURL(baseURL string) string {
	return chatCompletionsURL(baseURL, "http://localhost:11434/v1")
}

// SetHeaders sends a bearer token only when one is configured. Local
// ollama ignores it; proxies in front of it may not.
func (ollamaProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

func (ollamaProvider) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	return encodeChatRequest(model, messages, temperature, maxTokens)
}

func (ollamaProvider) ParseResponse(body []byte, model string) (*llm.Response, error) {
	return decodeChatResponse(body, model)
}
