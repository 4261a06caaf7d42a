package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGFileStore implements store.FileStore backed by Postgres.
type PGFileStore struct {
	db *sql.DB
}

func NewPGFileStore(db *sql.DB) *PGFileStore {
	return &PGFileStore{db: db}
}

const fileCols = `id, assistant_id, filename, file_type, file_size, storage_path, status,
 chunk_count, error_message, attempt_count, max_attempts, processing_started_at,
 next_retry_at, last_error, created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*store.KnowledgeFile, error) {
	var f store.KnowledgeFile
	err := row.Scan(&f.ID, &f.AssistantID, &f.Filename, &f.FileType, &f.FileSize,
		&f.StoragePath, &f.Status, &f.ChunkCount, &f.ErrorMessage, &f.AttemptCount,
		&f.MaxAttempts, &f.ProcessingStartedAt, &f.NextRetryAt, &f.LastError,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PGFileStore) Create(ctx context.Context, f *store.KnowledgeFile) error {
	if f.ID == uuid.Nil {
		f.ID = store.GenNewID()
	}
	if f.MaxAttempts <= 0 {
		f.MaxAttempts = 3
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_files (id, assistant_id, filename, file_type, file_size, storage_path,
		 status, chunk_count, error_message, attempt_count, max_attempts, processing_started_at,
		 next_retry_at, last_error, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		f.ID, f.AssistantID, f.Filename, f.FileType, f.FileSize, f.StoragePath,
		f.Status, f.ChunkCount, f.ErrorMessage, f.AttemptCount, f.MaxAttempts,
		f.ProcessingStartedAt, f.NextRetryAt, f.LastError, now, now,
	)
	return err
}

func (s *PGFileStore) Get(ctx context.Context, id uuid.UUID) (*store.KnowledgeFile, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileCols+` FROM knowledge_files WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "file", id.String())
	}
	return f, nil
}

func (s *PGFileStore) ListByAssistant(ctx context.Context, assistantID uuid.UUID) ([]store.KnowledgeFile, error) {
	return s.queryFiles(ctx,
		`SELECT `+fileCols+` FROM knowledge_files WHERE assistant_id = $1 ORDER BY created_at DESC`,
		assistantID)
}

func (s *PGFileStore) CountByAssistant(ctx context.Context, assistantID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_files WHERE assistant_id = $1`, assistantID,
	).Scan(&n)
	return n, err
}

func (s *PGFileStore) Update(ctx context.Context, f *store.KnowledgeFile) error {
	f.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_files SET status=$2, chunk_count=$3, error_message=$4,
		 attempt_count=$5, processing_started_at=$6, next_retry_at=$7, last_error=$8, updated_at=$9
		 WHERE id=$1`,
		f.ID, f.Status, f.ChunkCount, f.ErrorMessage, f.AttemptCount,
		f.ProcessingStartedAt, f.NextRetryAt, f.LastError, f.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "file", f.ID.String())
}

func (s *PGFileStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_files WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "file", id.String())
}

func (s *PGFileStore) ListStale(ctx context.Context, cutoff time.Time) ([]store.KnowledgeFile, error) {
	return s.queryFiles(ctx,
		`SELECT `+fileCols+` FROM knowledge_files
		 WHERE status IN ($1, $2)
		   AND (processing_started_at < $3 OR (processing_started_at IS NULL AND created_at < $3))`,
		store.FileStatusProcessing, store.FileStatusIndexing, cutoff)
}

func (s *PGFileStore) ListDueRetries(ctx context.Context, now time.Time) ([]store.KnowledgeFile, error) {
	return s.queryFiles(ctx,
		`SELECT `+fileCols+` FROM knowledge_files
		 WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		 ORDER BY next_retry_at`,
		store.FileStatusPending, now)
}

func (s *PGFileStore) queryFiles(ctx context.Context, query string, args ...any) ([]store.KnowledgeFile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.KnowledgeFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *f)
	}
	return result, rows.Err()
}
