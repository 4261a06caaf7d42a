// Package rag composes system prompts from retrieved knowledge chunks.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/across/internal/config"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/vector"
)

const augmentedPromptTemplate = `You are %s.

%s

Use the following reference materials to inform your response. Only use information from these materials when relevant:

---
%s
---

If the reference materials don't contain relevant information, rely on your general knowledge but indicate this to the user.`

// Embedder embeds the user query for retrieval.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RetrievedChunk is a scored retrieval hit.
type RetrievedChunk struct {
	Text       string
	Filename   string
	Similarity float64
}

// Composer retrieves relevant chunks and renders the system prompt.
type Composer struct {
	vectors vector.Store
	embed   Embedder
	files   store.FileStore
	knobs   func() config.RetrievalConfig
}

func NewComposer(vectors vector.Store, embed Embedder, files store.FileStore, knobs func() config.RetrievalConfig) *Composer {
	return &Composer{vectors: vectors, embed: embed, files: files, knobs: knobs}
}

// SimplePrompt is the system prompt without any retrieved context.
func SimplePrompt(a *store.Assistant) string {
	return fmt.Sprintf("You are %s.\n\n%s", a.Name, a.Instructions)
}

// BuildSystemPrompt retrieves context for query and renders the prompt.
// Assistants with no knowledge files, or no chunks above the similarity
// threshold, get the plain prompt. Errors are retrieval failures the
// caller may degrade from.
func (c *Composer) BuildSystemPrompt(ctx context.Context, a *store.Assistant, query string) (string, error) {
	count, err := c.files.CountByAssistant(ctx, a.ID)
	if err != nil {
		return "", fmt.Errorf("count knowledge files: %w", err)
	}
	if count == 0 {
		return SimplePrompt(a), nil
	}

	chunks, err := c.Retrieve(ctx, a, query)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return SimplePrompt(a), nil
	}

	knobs := c.knobs()
	context := formatContext(chunks, knobs.MaxContextTokens)
	return fmt.Sprintf(augmentedPromptTemplate, a.Name, a.Instructions, context), nil
}

// Retrieve returns chunks above the similarity threshold, best first.
func (c *Composer) Retrieve(ctx context.Context, a *store.Assistant, query string) ([]RetrievedChunk, error) {
	vectors, err := c.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	knobs := c.knobs()
	topK := a.MaxRetrievalChunks
	if topK <= 0 {
		topK = knobs.TopK
	}

	matches, err := c.vectors.Query(ctx, a.ID, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var kept []RetrievedChunk
	for _, m := range matches {
		sim := Similarity(m.Distance)
		if sim < knobs.SimilarityThreshold {
			continue
		}
		kept = append(kept, RetrievedChunk{
			Text:       m.Text,
			Filename:   m.Filename,
			Similarity: sim,
		})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})

	slog.Debug("rag.retrieve", "assistant_id", a.ID, "candidates", len(matches), "kept", len(kept))
	return kept, nil
}

// Similarity maps a distance in [0,2] onto [0,1], 1 being identical.
func Similarity(distance float64) float64 {
	return 1 - distance/2
}

// formatContext renders "[Source N]" sections under a character budget of
// maxContextTokens*4 (the rough chars-per-token heuristic).
func formatContext(chunks []RetrievedChunk, maxContextTokens int) string {
	if maxContextTokens <= 0 {
		maxContextTokens = 4000
	}
	budget := maxContextTokens * 4

	var b strings.Builder
	total := 0
	for i, ch := range chunks {
		section := fmt.Sprintf("[Source %d]\n%s", i+1, ch.Text)
		if total+len(section) > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(section)
		total += len(section) + 2
	}
	return b.String()
}
