// Package vector stores and queries embedded chunks in Milvus, one
// collection per assistant.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// ChunkData is one chunk ready for indexing.
type ChunkData struct {
	ID         string
	Text       string
	FileID     string
	Filename   string
	ChunkIndex int64
	TokenCount int64
	Vector     []float32
}

// Match is one retrieval hit. Distance is the raw L2 metric; the RAG
// layer converts it to a similarity.
type Match struct {
	Text       string
	FileID     string
	Filename   string
	ChunkIndex int64
	Distance   float64
}

// Store is the retrieval surface the ingestion pipeline and RAG composer
// depend on.
type Store interface {
	AddChunks(ctx context.Context, assistantID uuid.UUID, chunks []ChunkData) error
	Query(ctx context.Context, assistantID uuid.UUID, vector []float32, topK int) ([]Match, error)
	DeleteFile(ctx context.Context, assistantID, fileID uuid.UUID) error
	DropCollection(ctx context.Context, assistantID uuid.UUID) error
}

// Milvus implements Store.
type Milvus struct {
	c client.Client
}

func NewMilvus(ctx context.Context, addr string) (*Milvus, error) {
	c, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	return &Milvus{c: c}, nil
}

func (m *Milvus) Close() error {
	return m.c.Close()
}

// CollectionName derives the per-assistant collection name. Milvus names
// cannot contain hyphens.
func CollectionName(assistantID uuid.UUID) string {
	return "assistant_" + strings.ReplaceAll(assistantID.String(), "-", "_")
}

func (m *Milvus) ensureCollection(ctx context.Context, name string, dim int) error {
	has, err := m.c.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("has collection: %w", err)
	}
	if has {
		return nil
	}

	schema := entity.NewSchema().WithName(name).
		WithField(entity.NewField().WithName("id").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(128).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535)).
		WithField(entity.NewField().WithName("file_id").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().WithName("filename").WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(512)).
		WithField(entity.NewField().WithName("chunk_index").WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName("token_count").WithDataType(entity.FieldTypeInt64))

	if err := m.c.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.L2, 8, 200)
	if err != nil {
		return fmt.Errorf("build index params: %w", err)
	}
	if err := m.c.CreateIndex(ctx, name, "vector", idx, false); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (m *Milvus) AddChunks(ctx context.Context, assistantID uuid.UUID, chunks []ChunkData) error {
	if len(chunks) == 0 {
		return nil
	}
	name := CollectionName(assistantID)
	if err := m.ensureCollection(ctx, name, len(chunks[0].Vector)); err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	fileIDs := make([]string, len(chunks))
	filenames := make([]string, len(chunks))
	chunkIdx := make([]int64, len(chunks))
	tokenCounts := make([]int64, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		vectors[i] = c.Vector
		texts[i] = c.Text
		fileIDs[i] = c.FileID
		filenames[i] = c.Filename
		chunkIdx[i] = c.ChunkIndex
		tokenCounts[i] = c.TokenCount
	}

	_, err := m.c.Upsert(ctx, name, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", len(chunks[0].Vector), vectors),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("file_id", fileIDs),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnInt64("chunk_index", chunkIdx),
		entity.NewColumnInt64("token_count", tokenCounts),
	)
	if err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	if err := m.c.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (m *Milvus) Query(ctx context.Context, assistantID uuid.UUID, vector []float32, topK int) ([]Match, error) {
	name := CollectionName(assistantID)
	has, err := m.c.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("has collection: %w", err)
	}
	if !has {
		return nil, nil
	}
	if err := m.c.LoadCollection(ctx, name, false); err != nil {
		return nil, fmt.Errorf("load collection: %w", err)
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("build search params: %w", err)
	}
	results, err := m.c.Search(ctx, name, nil, "",
		[]string{"text", "file_id", "filename", "chunk_index"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector", entity.L2, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var matches []Match
	for _, rs := range results {
		texts := varcharData(rs.Fields.GetColumn("text"))
		fileIDs := varcharData(rs.Fields.GetColumn("file_id"))
		filenames := varcharData(rs.Fields.GetColumn("filename"))
		chunkIdx := int64Data(rs.Fields.GetColumn("chunk_index"))

		for i := 0; i < rs.ResultCount; i++ {
			match := Match{Distance: float64(rs.Scores[i])}
			if i < len(texts) {
				match.Text = texts[i]
			}
			if i < len(fileIDs) {
				match.FileID = fileIDs[i]
			}
			if i < len(filenames) {
				match.Filename = filenames[i]
			}
			if i < len(chunkIdx) {
				match.ChunkIndex = chunkIdx[i]
			}
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func (m *Milvus) DeleteFile(ctx context.Context, assistantID, fileID uuid.UUID) error {
	name := CollectionName(assistantID)
	has, err := m.c.HasCollection(ctx, name)
	if err != nil || !has {
		return err
	}
	expr := fmt.Sprintf(`file_id == "%s"`, fileID)
	if err := m.c.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("delete file chunks: %w", err)
	}
	return nil
}

func (m *Milvus) DropCollection(ctx context.Context, assistantID uuid.UUID) error {
	name := CollectionName(assistantID)
	has, err := m.c.HasCollection(ctx, name)
	if err != nil || !has {
		return err
	}
	if err := m.c.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	return nil
}

func varcharData(col entity.Column) []string {
	if c, ok := col.(*entity.ColumnVarChar); ok {
		return c.Data()
	}
	return nil
}

func int64Data(col entity.Column) []int64 {
	if c, ok := col.(*entity.ColumnInt64); ok {
		return c.Data()
	}
	return nil
}
