package vault

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

const testTimeout = 10 * time.Second

// Tester performs a cheap authenticated call against each provider to
// validate key material. Base URLs are fields so tests can point them at
// a local server.
type Tester struct {
	OpenRouterBase string
	OpenAIBase     string
	AnthropicBase  string
	GoogleBase     string

	client *http.Client
}

func NewTester() *Tester {
	return &Tester{
		OpenRouterBase: "https://openrouter.ai/api/v1",
		OpenAIBase:     "https://api.openai.com/v1",
		AnthropicBase:  "https://api.anthropic.com/v1",
		GoogleBase:     "https://generativelanguage.googleapis.com/v1beta",
		client:         &http.Client{Timeout: testTimeout},
	}
}

// Test returns the resulting test status and, for invalid or untestable
// keys, a message explaining why.
func (t *Tester) Test(ctx context.Context, provider, apiKey string) (status string, testErr *string) {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	switch provider {
	case ProviderOpenRouter:
		return t.bearerProbe(ctx, t.OpenRouterBase+"/auth/key", apiKey)
	case ProviderOpenAI:
		return t.bearerProbe(ctx, t.OpenAIBase+"/models", apiKey)
	case ProviderAnthropic:
		return t.anthropicProbe(ctx, apiKey)
	case ProviderGoogle:
		return t.googleProbe(ctx, apiKey)
	default:
		// azure needs a deployment-specific endpoint and custom providers
		// have none; both stay untested
		msg := "Cannot test custom provider"
		return store.TestStatusUntested, &msg
	}
}

func (t *Tester) bearerProbe(ctx context.Context, endpoint, apiKey string) (string, *string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failed(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return store.TestStatusValid, nil
	}
	return invalidStatus(resp.StatusCode)
}

// anthropicProbe sends a minimal one-token completion. Anthropic has no
// unauthenticated-friendly listing endpoint, so 400 (bad request shape)
// and 429 (rate limited) still prove the key authenticated.
func (t *Tester) anthropicProbe(ctx context.Context, apiKey string) (string, *string) {
	body := strings.NewReader(`{"model":"claude-3-5-haiku-latest","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.AnthropicBase+"/messages", body)
	if err != nil {
		return failed(err)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusTooManyRequests:
		return store.TestStatusValid, nil
	default:
		return invalidStatus(resp.StatusCode)
	}
}

func (t *Tester) googleProbe(ctx context.Context, apiKey string) (string, *string) {
	endpoint := t.GoogleBase + "/models?key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failed(err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return store.TestStatusValid, nil
	}
	return invalidStatus(resp.StatusCode)
}

func failed(err error) (string, *string) {
	msg := fmt.Sprintf("Connection failed: %v", err)
	return store.TestStatusInvalid, &msg
}

func invalidStatus(code int) (string, *string) {
	var msg string
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		msg = "Invalid API key"
	} else {
		msg = fmt.Sprintf("Unexpected status %d", code)
	}
	return store.TestStatusInvalid, &msg
}
