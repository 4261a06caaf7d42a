package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGWorkspaceStore implements store.WorkspaceStore backed by Postgres.
type PGWorkspaceStore struct {
	db *sql.DB
}

func NewPGWorkspaceStore(db *sql.DB) *PGWorkspaceStore {
	return &PGWorkspaceStore{db: db}
}

func (s *PGWorkspaceStore) Create(ctx context.Context, w *store.Workspace) error {
	if w.ID == uuid.Nil {
		w.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, slug, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`,
		w.ID, w.Name, w.Slug, now, now,
	)
	return err
}

func (s *PGWorkspaceStore) Get(ctx context.Context, id uuid.UUID) (*store.Workspace, error) {
	var w store.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM workspaces WHERE id = $1`, id,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "workspace", id.String())
	}
	return &w, nil
}

func (s *PGWorkspaceStore) GetByName(ctx context.Context, name string) (*store.Workspace, error) {
	var w store.Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM workspaces WHERE name = $1`, name,
	).Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "workspace", name)
	}
	return &w, nil
}

func (s *PGWorkspaceStore) List(ctx context.Context) ([]store.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Workspace
	for rows.Next() {
		var w store.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
