package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/chunk"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/vector"
)

// --- fakes ---

type fakeFileStore struct {
	mu    sync.Mutex
	files map[uuid.UUID]*store.KnowledgeFile
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[uuid.UUID]*store.KnowledgeFile)}
}

func (s *fakeFileStore) Create(_ context.Context, f *store.KnowledgeFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = store.GenNewID()
	}
	cp := *f
	s.files[f.ID] = &cp
	return nil
}

func (s *fakeFileStore) Get(_ context.Context, id uuid.UUID) (*store.KnowledgeFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, store.NewNotFound("file", id.String())
	}
	cp := *f
	return &cp, nil
}

func (s *fakeFileStore) ListByAssistant(context.Context, uuid.UUID) ([]store.KnowledgeFile, error) {
	return nil, nil
}

func (s *fakeFileStore) CountByAssistant(context.Context, uuid.UUID) (int, error) {
	return len(s.files), nil
}

func (s *fakeFileStore) Update(_ context.Context, f *store.KnowledgeFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; !ok {
		return store.NewNotFound("file", f.ID.String())
	}
	cp := *f
	s.files[f.ID] = &cp
	return nil
}

func (s *fakeFileStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	return nil
}

func (s *fakeFileStore) ListStale(_ context.Context, cutoff time.Time) ([]store.KnowledgeFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.KnowledgeFile
	for _, f := range s.files {
		if f.Status != store.FileStatusProcessing && f.Status != store.FileStatusIndexing {
			continue
		}
		started := f.CreatedAt
		if f.ProcessingStartedAt != nil {
			started = *f.ProcessingStartedAt
		}
		if started.Before(cutoff) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *fakeFileStore) ListDueRetries(_ context.Context, now time.Time) ([]store.KnowledgeFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.KnowledgeFile
	for _, f := range s.files {
		if f.Status == store.FileStatusPending && f.NextRetryAt != nil && !f.NextRetryAt.After(now) {
			out = append(out, *f)
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeVectorStore struct {
	added   []vector.ChunkData
	deleted []uuid.UUID
	dropped []uuid.UUID
}

func (v *fakeVectorStore) AddChunks(_ context.Context, _ uuid.UUID, chunks []vector.ChunkData) error {
	v.added = append(v.added, chunks...)
	return nil
}

func (v *fakeVectorStore) Query(context.Context, uuid.UUID, []float32, int) ([]vector.Match, error) {
	return nil, nil
}

func (v *fakeVectorStore) DeleteFile(_ context.Context, _, fileID uuid.UUID) error {
	v.deleted = append(v.deleted, fileID)
	return nil
}

func (v *fakeVectorStore) DropCollection(_ context.Context, assistantID uuid.UUID) error {
	v.dropped = append(v.dropped, assistantID)
	return nil
}

type wordSplitter struct{}

func (wordSplitter) Split(text string) []chunk.Chunk {
	var out []chunk.Chunk
	for _, w := range strings.Fields(text) {
		out = append(out, chunk.Chunk{Text: w, TokenCount: 1})
	}
	return out
}

// --- helpers ---

func newTestProcessor(files *fakeFileStore, extracted string, extractErr error) (*Processor, *fakeVectorStore, *fakeEmbedder) {
	vs := &fakeVectorStore{}
	emb := &fakeEmbedder{}
	p := NewProcessor(files, wordSplitter{}, emb, vs)
	p.extractFn = func(path, fileType string) (string, error) {
		return extracted, extractErr
	}
	return p, vs, emb
}

func seedFile(t *testing.T, files *fakeFileStore, status string) *store.KnowledgeFile {
	t.Helper()
	f := &store.KnowledgeFile{
		AssistantID: store.GenNewID(),
		Filename:    "notes.txt",
		FileType:    "txt",
		StoragePath: "/tmp/notes.txt",
		Status:      status,
		MaxAttempts: 3,
	}
	if err := files.Create(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	return f
}

// --- processor tests ---

func TestProcessSuccess(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	p, vs, _ := newTestProcessor(files, "alpha beta gamma", nil)

	if err := p.Process(context.Background(), f.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusReady {
		t.Errorf("status = %q, want ready", got.Status)
	}
	if got.ChunkCount != 3 {
		t.Errorf("chunk count = %d, want 3", got.ChunkCount)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
	if got.NextRetryAt != nil || got.LastError != nil || got.ErrorMessage != nil {
		t.Errorf("retry fields not cleared: %+v", got)
	}
	if len(vs.added) != 3 {
		t.Fatalf("added %d chunks, want 3", len(vs.added))
	}
	if vs.added[0].ID != f.ID.String()+"_0" {
		t.Errorf("chunk id = %q, want %q", vs.added[0].ID, f.ID.String()+"_0")
	}
}

func TestProcessStatusTransitions(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	p, _, _ := newTestProcessor(files, "", nil)

	// the row must still read processing while extraction runs; indexing
	// only starts once chunks exist
	var statusDuringExtract string
	p.extractFn = func(path, fileType string) (string, error) {
		got, _ := files.Get(context.Background(), f.ID)
		statusDuringExtract = got.Status
		return "alpha beta", nil
	}

	var statusDuringEmbed string
	emb := &fakeEmbedder{}
	embed := emb.Embed
	p.embed = embedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		got, _ := files.Get(context.Background(), f.ID)
		statusDuringEmbed = got.Status
		return embed(ctx, texts)
	})

	if err := p.Process(context.Background(), f.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if statusDuringExtract != store.FileStatusProcessing {
		t.Errorf("status during extraction = %q, want processing", statusDuringExtract)
	}
	if statusDuringEmbed != store.FileStatusIndexing {
		t.Errorf("status during embedding = %q, want indexing", statusDuringEmbed)
	}
	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusReady {
		t.Errorf("final status = %q, want ready", got.Status)
	}
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

func TestProcessExtractFailureStaysOutOfIndexing(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	p, _, emb := newTestProcessor(files, "", errExtract)

	if err := p.Process(context.Background(), f.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusPending {
		t.Errorf("status = %q, want pending for retry", got.Status)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for a failed extraction", emb.calls)
	}
}

var errExtract = errors.New("scan error: corrupt file")

func TestProcessEmptyTextSchedulesRetry(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	p, _, _ := newTestProcessor(files, "   ", nil)

	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	if err := p.Process(context.Background(), f.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "No text content found in file") {
		t.Errorf("last error = %v", got.LastError)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(base.Add(5*time.Minute)) {
		t.Errorf("next retry = %v, want %v", got.NextRetryAt, base.Add(5*time.Minute))
	}
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 15 * time.Minute},
		{3, 45 * time.Minute},
		{4, 45 * time.Minute}, // clamped
	}
	for _, tt := range tests {
		if got := backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestProcessExhaustedAttemptsFails(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusPending)
	p, _, _ := newTestProcessor(files, "", nil)

	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), f.ID); err != nil {
			t.Fatalf("Process #%d: %v", i+1, err)
		}
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", got.AttemptCount)
	}
	if got.ErrorMessage == nil {
		t.Error("terminal failure must set error_message")
	}
	if got.NextRetryAt != nil {
		t.Error("failed file must not have a retry scheduled")
	}
}

func TestReprocessResetsRow(t *testing.T) {
	files := newFakeFileStore()
	f := seedFile(t, files, store.FileStatusFailed)
	f.AttemptCount = 3
	f.ChunkCount = 7
	msg := "boom"
	f.ErrorMessage = &msg
	files.Update(context.Background(), f)

	p, vs, _ := newTestProcessor(files, "text", nil)
	if err := p.Reprocess(context.Background(), f.ID); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}

	got, _ := files.Get(context.Background(), f.ID)
	if got.Status != store.FileStatusPending || got.AttemptCount != 0 || got.ChunkCount != 0 {
		t.Errorf("row not reset: %+v", got)
	}
	if got.LastError == nil || *got.LastError != "Manual reprocess requested" {
		t.Errorf("last error = %v", got.LastError)
	}
	if got.NextRetryAt == nil {
		t.Error("reprocess must schedule an immediate retry")
	}
	if len(vs.deleted) != 1 || vs.deleted[0] != f.ID {
		t.Errorf("chunks not deleted: %v", vs.deleted)
	}
}
