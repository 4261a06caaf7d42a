package providers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func collectChunks(t *testing.T, c *Client) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	err := c.StreamChat(t.Context(), ChatRequest{Model: "test/model"}, func(ch StreamChunk) {
		chunks = append(chunks, ch)
	})
	if err != nil {
		t.Fatal(err)
	}
	return chunks
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`not json at all`,
		`{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":0}}`,
	}))
	defer srv.Close()

	chunks := collectChunks(t, NewClient(srv.URL, "key"))

	var content strings.Builder
	var done *StreamChunk
	for i := range chunks {
		switch chunks[i].Type {
		case ChunkContent:
			content.WriteString(chunks[i].Content)
		case ChunkDone:
			done = &chunks[i]
		case ChunkError:
			t.Fatalf("unexpected error chunk: %s", chunks[i].Error)
		}
	}
	if content.String() != "Hello" {
		t.Errorf("content = %q, want %q", content.String(), "Hello")
	}
	if done == nil || done.Usage == nil {
		t.Fatal("missing done chunk with usage")
	}
	// total is recomputed from prompt+completion, not trusted from the wire
	if done.Usage.TotalTokens != 14 {
		t.Errorf("total tokens = %d, want 14", done.Usage.TotalTokens)
	}
}

func TestStreamChatUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	chunks := collectChunks(t, NewClient(srv.URL, "key"))
	if len(chunks) != 1 || chunks[0].Type != ChunkError {
		t.Fatalf("want a single error chunk, got %+v", chunks)
	}
	if !strings.HasPrefix(chunks[0].Error, "Chat completion failed: 429") {
		t.Errorf("error = %q", chunks[0].Error)
	}
}

func TestListModelsFeaturedFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"zeta/model","name":"Zeta"},
			{"id":"openai/gpt-4o","name":"GPT-4o"},
			{"id":"alpha/model","name":"Alpha"},
			{"id":"anthropic/claude-3.5-sonnet","name":"Sonnet"}
		]}`)
	}))
	defer srv.Close()

	models, err := NewClient(srv.URL, "key").ListModels(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(models))
	for i, m := range models {
		got[i] = m.ID
	}
	want := []string{"anthropic/claude-3.5-sonnet", "openai/gpt-4o", "alpha/model", "zeta/model"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestListModelsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "key").ListModels(t.Context())
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("want *HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests || httpErr.RetryAfter.Seconds() != 30 {
		t.Errorf("got %+v", httpErr)
	}
}

func TestCheckConnectivity(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantOK  bool
		wantErr string
	}{
		{"ok", http.StatusOK, true, ""},
		{"bad key", http.StatusUnauthorized, false, "Invalid API key"},
		{"server error", http.StatusInternalServerError, false, "unexpected status 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			res := NewClient(srv.URL, "key").CheckConnectivity(t.Context())
			if res.OK != tt.wantOK || res.Error != tt.wantErr {
				t.Errorf("got ok=%v err=%q", res.OK, res.Error)
			}
		})
	}
}
