// Package ingest runs the knowledge file pipeline:
// pending -> processing -> indexing -> ready | failed, with bounded
// retries and a reaper that recovers abandoned work.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/chunk"
	"github.com/nextlevelbuilder/across/internal/extract"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/vector"
)

// retryBackoff is indexed by min(attempt-1, len-1).
var retryBackoff = []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Splitter windows extracted text into chunks.
type Splitter interface {
	Split(text string) []chunk.Chunk
}

// Processor drives a single file through extraction, chunking, embedding
// and vector indexing.
type Processor struct {
	files   store.FileStore
	split   Splitter
	embed   Embedder
	vectors vector.Store

	extractFn func(path, fileType string) (string, error)
	now       func() time.Time
}

func NewProcessor(files store.FileStore, split Splitter, embed Embedder, vectors vector.Store) *Processor {
	return &Processor{
		files:     files,
		split:     split,
		embed:     embed,
		vectors:   vectors,
		extractFn: extract.ExtractText,
		now:       time.Now,
	}
}

// Process runs one ingestion attempt for the file. Failures are recorded
// on the row (retry schedule or terminal failure), not returned, except
// for load/update errors the caller can do nothing about.
func (p *Processor) Process(ctx context.Context, fileID uuid.UUID) error {
	f, err := p.files.Get(ctx, fileID)
	if err != nil {
		return err
	}

	if err := p.registerAttempt(ctx, f); err != nil {
		return err
	}
	slog.Info("ingest.attempt", "file_id", f.ID, "attempt", f.AttemptCount, "filename", f.Filename)

	if err := p.runAttempt(ctx, f); err != nil {
		slog.Warn("ingest.failed", "file_id", f.ID, "attempt", f.AttemptCount, "error", err)
		return p.markRetryOrFailed(ctx, f, err.Error())
	}
	return nil
}

// registerAttempt claims the row: bumps the attempt counter, stamps the
// start time and clears any previous retry schedule.
func (p *Processor) registerAttempt(ctx context.Context, f *store.KnowledgeFile) error {
	now := p.now().UTC()
	f.AttemptCount++
	f.Status = store.FileStatusProcessing
	f.ProcessingStartedAt = &now
	f.NextRetryAt = nil
	f.LastError = nil
	return p.files.Update(ctx, f)
}

func (p *Processor) runAttempt(ctx context.Context, f *store.KnowledgeFile) error {
	text, err := p.extractFn(f.StoragePath, f.FileType)
	if err != nil {
		return err
	}

	chunks := p.split.Split(text)
	if len(chunks) == 0 {
		return errors.New("No text content found in file")
	}

	// extraction and chunking succeeded; the remaining work is embedding
	// and vector indexing
	f.Status = store.FileStatusIndexing
	if err := p.files.Update(ctx, f); err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}

	data := make([]vector.ChunkData, len(chunks))
	for i, c := range chunks {
		data[i] = vector.ChunkData{
			ID:         fmt.Sprintf("%s_%d", f.ID, i),
			Text:       c.Text,
			FileID:     f.ID.String(),
			Filename:   f.Filename,
			ChunkIndex: int64(i),
			TokenCount: int64(c.TokenCount),
			Vector:     vectors[i],
		}
	}
	if err := p.vectors.AddChunks(ctx, f.AssistantID, data); err != nil {
		return err
	}

	f.Status = store.FileStatusReady
	f.ChunkCount = len(chunks)
	f.ErrorMessage = nil
	f.NextRetryAt = nil
	f.LastError = nil
	if err := p.files.Update(ctx, f); err != nil {
		return err
	}
	slog.Info("ingest.ready", "file_id", f.ID, "chunks", len(chunks))
	return nil
}

// markRetryOrFailed schedules the next attempt, or fails the file for
// good once attempts are exhausted.
func (p *Processor) markRetryOrFailed(ctx context.Context, f *store.KnowledgeFile, reason string) error {
	if f.AttemptCount >= f.MaxAttempts {
		f.Status = store.FileStatusFailed
		f.ErrorMessage = &reason
		f.LastError = &reason
		f.NextRetryAt = nil
		return p.files.Update(ctx, f)
	}

	retryAt := p.now().UTC().Add(backoffFor(f.AttemptCount))
	f.Status = store.FileStatusPending
	f.NextRetryAt = &retryAt
	f.LastError = &reason
	return p.files.Update(ctx, f)
}

// backoffFor returns the delay after the given (1-based) attempt.
func backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryBackoff) {
		idx = len(retryBackoff) - 1
	}
	return retryBackoff[idx]
}

// Reprocess clears indexed chunks and requeues the file immediately.
func (p *Processor) Reprocess(ctx context.Context, fileID uuid.UUID) error {
	f, err := p.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if err := p.vectors.DeleteFile(ctx, f.AssistantID, f.ID); err != nil {
		return err
	}

	now := p.now().UTC()
	reason := "Manual reprocess requested"
	f.Status = store.FileStatusPending
	f.ChunkCount = 0
	f.AttemptCount = 0
	f.ErrorMessage = nil
	f.NextRetryAt = &now
	f.LastError = &reason
	return p.files.Update(ctx, f)
}

// Delete removes the chunks, the stored file and the row.
func (p *Processor) Delete(ctx context.Context, fileID uuid.UUID) error {
	f, err := p.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if err := p.vectors.DeleteFile(ctx, f.AssistantID, f.ID); err != nil {
		return err
	}
	if err := os.Remove(f.StoragePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("ingest.delete: remove stored file", "file_id", f.ID, "error", err)
	}
	return p.files.Delete(ctx, f.ID)
}
