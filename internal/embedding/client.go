// Package embedding calls an OpenAI-compatible embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

const (
	// DefaultBatchSize is the max inputs sent per request.
	DefaultBatchSize = 100
	requestTimeout   = 60 * time.Second
)

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order. Inputs are
// sent in batches; each batch gets its own timeout.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.apiKey == "" {
		return nil, &store.UpstreamError{Message: "no embedding API key configured"}
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
	}
	return result, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &store.UpstreamError{Message: fmt.Sprintf("embeddings request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &store.UpstreamError{
			Message:    fmt.Sprintf("embeddings request failed: %s", string(msg)),
			StatusCode: resp.StatusCode,
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &store.UpstreamError{Message: fmt.Sprintf("decode embeddings response: %v", err)}
	}
	if len(parsed.Data) != len(batch) {
		return nil, &store.UpstreamError{
			Message: fmt.Sprintf("embeddings response has %d vectors for %d inputs", len(parsed.Data), len(batch)),
		}
	}

	// The API may return items out of order; restore by index.
	vectors := make([][]float32, len(batch))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(batch) {
			return nil, &store.UpstreamError{Message: fmt.Sprintf("embedding index %d out of range", item.Index)}
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
