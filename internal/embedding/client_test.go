package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/across/internal/store"
	"errors"
)

func TestEmbedRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		// Answer in reverse order; the client must fix it.
		resp := map[string]any{"data": []map[string]any{}}
		var data []map[string]any
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"index":     i,
				"embedding": []float32{float32(i)},
			})
		}
		resp["data"] = data
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "text-embedding-3-small", 100)
	vectors, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, v := range vectors {
		if len(v) != 1 || v[0] != float32(i) {
			t.Errorf("vector %d = %v, want [%d]", i, v, i)
		}
	}
}

func TestEmbedBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		batches = append(batches, len(req.Input))
		var data []map[string]any
		for i := range req.Input {
			data = append(data, map[string]any{"index": i, "embedding": []float32{1}})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "m", 2)
	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 5 {
		t.Errorf("got %d vectors, want 5", len(vectors))
	}
	want := []int{2, 2, 1}
	if len(batches) != len(want) {
		t.Fatalf("batches = %v, want %v", batches, want)
	}
	for i := range want {
		if batches[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, batches[i], want[i])
		}
	}
}

func TestEmbedRequiresAPIKey(t *testing.T) {
	c := NewClient("http://unused", "", "m", 10)
	_, err := c.Embed(context.Background(), []string{"a"})
	var up *store.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
}

func TestEmbedUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "m", 10)
	_, err := c.Embed(context.Background(), []string{"a"})
	var up *store.UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if up.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", up.StatusCode)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewClient("http://unused", "key", "m", 10)
	vectors, err := c.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Errorf("Embed(nil) = %v, %v; want nil, nil", vectors, err)
	}
}
