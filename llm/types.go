package llm

// Message is one turn of a chat exchange. Role is "system", "user", or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request asks for one completion. Stages name the capability they need
// rather than a model; the registry decides which endpoints serve it.
type Request struct {
	// Capability selects the model chain ("classification", "extraction",
	// "relationships", "planning", "synthesis", "fast"). Unknown names
	// ride the fast chain.
	Capability string

	// Messages is the chat history to send.
	Messages []Message

	// Temperature overrides the endpoint default when non-nil. A pointer
	// to zero is a valid override and pins sampling deterministic.
	Temperature *float64

	// MaxTokens caps the reply length when positive.
	MaxTokens int
}

// TokenUsage counts what a completion consumed.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a finished completion.
type Response struct {
	// RequestID ties the response to its recorded call.
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the model that actually answered, which after fallback may
	// not be the chain's first choice.
	Model string

	// Usage holds the token counts the endpoint reported.
	Usage TokenUsage

	// FinishReason says why generation stopped ("stop", "length", ...).
	FinishReason string
}
