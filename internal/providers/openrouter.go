package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	modelsTimeout       = 30 * time.Second
	streamTimeout       = 300 * time.Second
	connectivityTimeout = 10 * time.Second

	// scanner buffer for SSE lines; completions can carry large deltas
	maxLineSize = 1 << 20
)

// FeaturedModels are pinned to the top of the model catalog, in order.
var FeaturedModels = []string{
	"anthropic/claude-3.5-sonnet",
	"anthropic/claude-3.5-haiku",
	"openai/gpt-4o",
	"openai/gpt-4o-mini",
	"google/gemini-pro-1.5",
	"meta-llama/llama-3.1-70b-instruct",
}

// Client talks to an OpenRouter-compatible API.
type Client struct {
	baseURL string
	apiKey  string

	httpClient   *http.Client
	streamClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: modelsTimeout},
		streamClient: &http.Client{Timeout: streamTimeout},
	}
}

// WithAPIKey returns a copy of the client bound to a different key.
// Used when a vault key overrides the configured one.
func (c *Client) WithAPIKey(apiKey string) *Client {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://github.com/nextlevelbuilder/across")
	req.Header.Set("X-Title", "Across")
}

// --- streaming chat ---

type streamPayload struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// StreamChat runs a streaming completion, invoking onChunk for every
// content delta and once with a done (or error) chunk. Upstream failures
// surface as error chunks rather than returned errors so callers can
// forward them down their own stream.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) error {
	payload := streamPayload{
		Model:         req.Model,
		Messages:      req.Messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		onChunk(StreamChunk{Type: ChunkError, Error: fmt.Sprintf("Chat completion failed: %v", err)})
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		onChunk(StreamChunk{Type: ChunkError,
			Error: fmt.Sprintf("Chat completion failed: %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))})
		return nil
	}

	var usage *Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // malformed frames are skipped, not fatal
		}
		if chunk.Usage != nil {
			u := *chunk.Usage
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
			usage = &u
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onChunk(StreamChunk{Type: ChunkContent, Content: chunk.Choices[0].Delta.Content})
		}
	}
	if err := scanner.Err(); err != nil {
		onChunk(StreamChunk{Type: ChunkError, Error: fmt.Sprintf("Chat completion failed: %v", err)})
		return nil
	}

	onChunk(StreamChunk{Type: ChunkDone, Usage: usage})
	return nil
}

// --- model catalog ---

type modelsResponse struct {
	Data []struct {
		ID            string       `json:"id"`
		Name          string       `json:"name"`
		ContextLength int          `json:"context_length"`
		Pricing       ModelPricing `json:"pricing"`
	} `json:"data"`
}

// ListModels fetches the catalog, featured models first.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(msg), RetryAfter: ParseRetryAfter(resp.Header)}
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			ContextLength: m.ContextLength,
			Pricing:       m.Pricing,
		})
	}

	rank := make(map[string]int, len(FeaturedModels))
	for i, id := range FeaturedModels {
		rank[id] = i
	}
	sort.SliceStable(models, func(i, j int) bool {
		ri, iFeatured := rank[models[i].ID]
		rj, jFeatured := rank[models[j].ID]
		switch {
		case iFeatured && jFeatured:
			return ri < rj
		case iFeatured:
			return true
		case jFeatured:
			return false
		default:
			return models[i].ID < models[j].ID
		}
	})
	return models, nil
}

// CheckConnectivity probes the models endpoint.
func (c *Client) CheckConnectivity(ctx context.Context) *ConnectivityResult {
	result := &ConnectivityResult{CheckedAt: time.Now().UTC()}

	ctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	result.LatencyMS = time.Since(start).Milliseconds()

	switch resp.StatusCode {
	case http.StatusOK:
		result.OK = true
	case http.StatusUnauthorized:
		result.Error = "Invalid API key"
	default:
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result
}
