package providers

import (
	"net/http"
	"os"

	"github.com/strataline/policygraph/llm"
)

// openaiProvider targets api.openai.com and compatible gateways such as
// openrouter. The wire format matches ollama's, so it only overrides the
// default host and the auth headers.
type openaiProvider struct {
	ollamaProvider
}

func init() {
	llm.RegisterProvider(openaiProvider{})
}

func (openaiProvider) Name() string { return "openai" }

func (openaiProvider) BuildURL(baseURL string) string {
	return chatCompletionsURL(baseURL, "https://api.openai.com/v1")
}

func (openaiProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	// Openrouter attribution headers, harmless elsewhere.
	if site := os.Getenv("OPENROUTER_SITE_URL"); site != "" {
		req.Header.Set("HTTP-Referer", site)
	}
	if name := os.Getenv("OPENROUTER_SITE_NAME"); name != "" {
		req.Header.Set("X-Title", name)
	}
}
