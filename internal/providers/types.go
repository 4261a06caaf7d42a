// Package providers implements the upstream OpenRouter-compatible LLM
// API: streaming chat completions, the model catalog and pricing.
package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Chat stream chunk types.
const (
	ChunkContent = "content"
	ChunkDone    = "done"
	ChunkError   = "error"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one event from a streaming chat completion.
type StreamChunk struct {
	Type    string
	Content string
	Usage   *Usage
	Error   string
}

type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

type ModelInfo struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ContextLength int          `json:"context_length"`
	Pricing       ModelPricing `json:"pricing"`
}

// ConnectivityResult reports an upstream liveness probe.
type ConnectivityResult struct {
	OK        bool          `json:"ok"`
	LatencyMS int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter reads a Retry-After header in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
