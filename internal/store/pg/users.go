package pg

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGUserStore implements store.UserStore backed by Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userCols = `id, workspace_id, email, password_hash, name, role, is_active, is_verified, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.WorkspaceID, &u.Email, &u.PasswordHash, &u.Name,
		&u.Role, &u.IsActive, &u.IsVerified, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGUserStore) Create(ctx context.Context, u *store.User) error {
	if u.ID == uuid.Nil {
		u.ID = store.GenNewID()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Role == "" {
		u.Role = store.RoleUser
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, u.Email,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return &store.ConflictError{Message: "User with email already exists: " + u.Email}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, workspace_id, email, password_hash, name, role, is_active, is_verified, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.WorkspaceID, u.Email, u.PasswordHash, u.Name, u.Role, u.IsActive, u.IsVerified, now, now,
	)
	return err
}

func (s *PGUserStore) Get(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "user", id.String())
	}
	return u, nil
}

func (s *PGUserStore) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, notFoundOr(err, "user", email)
	}
	return u, nil
}

func (s *PGUserStore) List(ctx context.Context, f store.UserListFilter) ([]store.User, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(email ILIKE "+p+" OR name ILIKE "+p+")")
	}
	if f.Role != "" {
		where = append(where, "role = "+arg(f.Role))
	}
	if f.IsActive != nil {
		where = append(where, "is_active = "+arg(*f.IsActive))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 {
		f.Size = 20
	}
	limit := arg(f.Size)
	offset := arg((f.Page - 1) * f.Size)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE `+cond+
			` ORDER BY created_at DESC LIMIT `+limit+` OFFSET `+offset, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *u)
	}
	return result, total, rows.Err()
}

func (s *PGUserStore) Update(ctx context.Context, u *store.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.UpdatedAt = time.Now().UTC()

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, u.Email, u.ID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return &store.ConflictError{Message: "User with email already exists: " + u.Email}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email=$2, name=$3, role=$4, is_verified=$5, updated_at=$6 WHERE id=$1`,
		u.ID, u.Email, strings.TrimSpace(u.Name), u.Role, u.IsVerified, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "user", u.ID.String())
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash=$2, updated_at=now() WHERE id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res, "user", id.String())
}

func (s *PGUserStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active=$2, updated_at=now() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res, "user", id.String())
}

func (s *PGUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user", id.String())
}

func (s *PGUserStore) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at=now() WHERE id=$1`, id)
	return err
}

// --- API keys ---

func (s *PGUserStore) CreateAPIKey(ctx context.Context, k *store.UserAPIKey) error {
	if k.ID == uuid.Nil {
		k.ID = store.GenNewID()
	}
	k.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_api_keys (id, user_id, name, key_prefix, key_hash, is_active, expires_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		k.ID, k.UserID, k.Name, k.KeyPrefix, k.KeyHash, k.IsActive, k.ExpiresAt, k.CreatedAt,
	)
	return err
}

const apiKeyCols = `id, user_id, name, key_prefix, key_hash, is_active, expires_at, last_used_at, created_at`

func (s *PGUserStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]store.UserAPIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyCols+` FROM user_api_keys WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PGUserStore) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]store.UserAPIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyCols+` FROM user_api_keys WHERE key_prefix=$1 AND is_active`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func scanAPIKeys(rows *sql.Rows) ([]store.UserAPIKey, error) {
	var result []store.UserAPIKey
	for rows.Next() {
		var k store.UserAPIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash,
			&k.IsActive, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (s *PGUserStore) RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_api_keys SET is_active=FALSE WHERE id=$1 AND user_id=$2`, keyID, userID)
	if err != nil {
		return err
	}
	return requireRow(res, "api key", keyID.String())
}

func (s *PGUserStore) TouchAPIKeyUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_api_keys SET last_used_at=now() WHERE id=$1`, keyID)
	return err
}
