package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGAssistantStore implements store.AssistantStore backed by Postgres.
type PGAssistantStore struct {
	db *sql.DB
}

func NewPGAssistantStore(db *sql.DB) *PGAssistantStore {
	return &PGAssistantStore{db: db}
}

const assistantCols = `id, workspace_id, name, description, instructions, model, temperature, max_tokens, max_retrieval_chunks, avatar_url, is_deleted, created_at, updated_at`

func scanAssistant(row interface{ Scan(...any) error }) (*store.Assistant, error) {
	var a store.Assistant
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Description, &a.Instructions, &a.Model,
		&a.Temperature, &a.MaxTokens, &a.MaxRetrievalChunks, &a.AvatarURL, &a.IsDeleted,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PGAssistantStore) Create(ctx context.Context, a *store.Assistant) error {
	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	if a.MaxRetrievalChunks <= 0 {
		a.MaxRetrievalChunks = 5
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assistants (id, workspace_id, name, description, instructions, model, temperature, max_tokens, max_retrieval_chunks, avatar_url, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.WorkspaceID, a.Name, a.Description, a.Instructions, a.Model, a.Temperature,
		a.MaxTokens, a.MaxRetrievalChunks, a.AvatarURL, now, now,
	)
	return err
}

// Get hides soft-deleted assistants; they read as not found everywhere.
func (s *PGAssistantStore) Get(ctx context.Context, id uuid.UUID) (*store.Assistant, error) {
	a, err := scanAssistant(s.db.QueryRowContext(ctx,
		`SELECT `+assistantCols+` FROM assistants WHERE id = $1 AND NOT is_deleted`, id))
	if err != nil {
		return nil, notFoundOr(err, "assistant", id.String())
	}
	return a, nil
}

func (s *PGAssistantStore) List(ctx context.Context, workspaceID uuid.UUID) ([]store.Assistant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assistantCols+` FROM assistants WHERE workspace_id = $1 AND NOT is_deleted ORDER BY created_at DESC`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *PGAssistantStore) Update(ctx context.Context, a *store.Assistant) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE assistants SET name=$2, description=$3, instructions=$4, model=$5, temperature=$6,
		 max_tokens=$7, max_retrieval_chunks=$8, avatar_url=$9, updated_at=$10
		 WHERE id=$1 AND NOT is_deleted`,
		a.ID, a.Name, a.Description, a.Instructions, a.Model, a.Temperature, a.MaxTokens,
		a.MaxRetrievalChunks, a.AvatarURL, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "assistant", a.ID.String())
}

// Delete is a soft delete. The row stays so conversations keep their
// history; knowledge files and vectors are untouched until purged.
func (s *PGAssistantStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assistants SET is_deleted=TRUE, updated_at=now() WHERE id=$1 AND NOT is_deleted`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "assistant", id.String())
}
