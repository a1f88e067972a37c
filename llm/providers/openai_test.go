package providers

import (
	"net/http"
	"testing"
)

func TestOpenAIBuildURL(t *testing.T) {
	p := openaiProvider{}

	if got := p.BuildURL(""); got != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("default url = %q", got)
	}
	if got := p.BuildURL("https://openrouter.ai/api/v1"); got != "https://openrouter.ai/api/v1/chat/completions" {
		t.Errorf("gateway url = %q", got)
	}
}

func TestOpenAISetHeaders(t *testing.T) {
	p := openaiProvider{}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_SITE_URL", "https://policygraph.example.com")
	t.Setenv("OPENROUTER_SITE_NAME", "policygraph")

	req, _ := http.NewRequest(http.MethodPost, "https://openrouter.ai/api/v1/chat/completions", nil)
	p.SetHeaders(req)

	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("auth header = %q", got)
	}
	if got := req.Header.Get("HTTP-Referer"); got != "https://policygraph.example.com" {
		t.Errorf("referer header = %q", got)
	}
	if got := req.Header.Get("X-Title"); got != "policygraph" {
		t.Errorf("title header = %q", got)
	}
}

func TestOpenAISetHeadersWithoutOpenrouter(t *testing.T) {
	p := openaiProvider{}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_SITE_URL", "")
	t.Setenv("OPENROUTER_SITE_NAME", "")

	req, _ := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
	p.SetHeaders(req)

	if req.Header.Get("HTTP-Referer") != "" || req.Header.Get("X-Title") != "" {
		t.Error("openrouter headers set without config")
	}
}
