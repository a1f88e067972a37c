package llm

import (
	"net/http"
	"sync"
)

// Provider translates between the neutral request and response types and
// one upstream chat API.
type Provider interface {
	// Name identifies the provider in endpoint configs ("ollama",
	// "anthropic", "openai").
	Name() string

	// BuildURL turns a configured base URL into the completion endpoint.
	// An empty base URL selects the provider's default host.
	BuildURL(baseURL string) string

	// SetHeaders stamps auth and version headers onto an outgoing request.
	SetHeaders(req *http.Request)

	// BuildRequestBody encodes the provider's completion payload. A nil
	// temperature and a zero maxTokens leave the upstream defaults alone.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse decodes a provider payload into a Response.
	ParseResponse(body []byte, model string) (*Response, error)
}

var (
	providersMu sync.RWMutex
	providers   = map[string]Provider{}
)

// RegisterProvider makes a provider selectable from endpoint configs.
// Called from provider init functions.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// GetProvider returns the provider registered under name, or nil.
func GetProvider(name string) Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	return providers[name]
}
