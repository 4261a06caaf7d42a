// Package chunk splits extracted text into token windows for embedding.
package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultChunkSize = 512
	DefaultOverlap   = 50
)

// Chunk is one embedding unit.
type Chunk struct {
	Text       string
	TokenCount int
}

// Chunker produces fixed-size token windows with overlap, measured with
// the cl100k_base encoding.
type Chunker struct {
	enc     *tiktoken.Tiktoken
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &Chunker{enc: enc, size: size, overlap: overlap}, nil
}

// CountTokens returns the token length of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Split normalizes whitespace and windows the text. Empty input yields no
// chunks; input at or under the chunk size yields exactly one.
func (c *Chunker) Split(text string) []Chunk {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}

	tokens := c.enc.Encode(normalized, nil, nil)
	if len(tokens) <= c.size {
		return []Chunk{{Text: normalized, TokenCount: len(tokens)}}
	}

	var chunks []Chunk
	start := 0
	for start < len(tokens) {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		piece := strings.TrimSpace(c.enc.Decode(window))
		if piece != "" {
			chunks = append(chunks, Chunk{Text: piece, TokenCount: len(window)})
		}
		if end == len(tokens) {
			break
		}
		next := end - c.overlap
		if next <= start { // overlap must not stall the window
			next = start + 1
		}
		start = next
	}
	return chunks
}
