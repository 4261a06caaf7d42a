package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/crypto"
	"github.com/nextlevelbuilder/across/internal/store"
)

// PGProviderKeyStore implements store.ProviderKeyStore backed by Postgres.
// API keys are encrypted at rest with the application secret.
type PGProviderKeyStore struct {
	db     *sql.DB
	encKey string
}

func NewPGProviderKeyStore(db *sql.DB, encryptionKey string) *PGProviderKeyStore {
	return &PGProviderKeyStore{db: db, encKey: encryptionKey}
}

const providerKeyCols = `id, provider, name, api_key, is_default, is_active, test_status,
 test_error, last_tested_at, last_used_at, rotated_from_id, created_at, updated_at`

func (s *PGProviderKeyStore) scanKey(row interface{ Scan(...any) error }) (*store.ProviderKey, error) {
	var k store.ProviderKey
	var apiKey string
	err := row.Scan(&k.ID, &k.Provider, &k.Name, &apiKey, &k.IsDefault, &k.IsActive,
		&k.TestStatus, &k.TestError, &k.LastTestedAt, &k.LastUsedAt, &k.RotatedFromID,
		&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.encKey != "" {
		decrypted, err := crypto.DecryptIfNeeded(apiKey, s.encKey)
		if err != nil {
			slog.Warn("provider_keys: failed to decrypt api key", "key", k.Name, "error", err)
		} else {
			apiKey = decrypted
		}
	}
	k.APIKey = apiKey
	return &k, nil
}

func (s *PGProviderKeyStore) Create(ctx context.Context, k *store.ProviderKey) error {
	if k.ID == uuid.Nil {
		k.ID = store.GenNewID()
	}
	if k.TestStatus == "" {
		k.TestStatus = store.TestStatusUntested
	}

	apiKey := k.APIKey
	if s.encKey != "" {
		encrypted, err := crypto.EncryptIfNeeded(apiKey, s.encKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		apiKey = encrypted
	}

	now := time.Now().UTC()
	k.CreatedAt = now
	k.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if k.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE provider_keys SET is_default=FALSE WHERE provider=$1`, k.Provider); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO provider_keys (id, provider, name, api_key, is_default, is_active, test_status,
		 test_error, last_tested_at, rotated_from_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		k.ID, k.Provider, k.Name, apiKey, k.IsDefault, k.IsActive, k.TestStatus,
		k.TestError, k.LastTestedAt, k.RotatedFromID, now, now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGProviderKeyStore) Get(ctx context.Context, id uuid.UUID) (*store.ProviderKey, error) {
	k, err := s.scanKey(s.db.QueryRowContext(ctx,
		`SELECT `+providerKeyCols+` FROM provider_keys WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "provider key", id.String())
	}
	return k, nil
}

func (s *PGProviderKeyStore) List(ctx context.Context) ([]store.ProviderKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerKeyCols+` FROM provider_keys ORDER BY provider, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ProviderKey
	for rows.Next() {
		k, err := s.scanKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *k)
	}
	return result, rows.Err()
}

func (s *PGProviderKeyStore) Update(ctx context.Context, k *store.ProviderKey) error {
	apiKey := k.APIKey
	if s.encKey != "" {
		encrypted, err := crypto.EncryptIfNeeded(apiKey, s.encKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		apiKey = encrypted
	}
	k.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE provider_keys SET name=$2, api_key=$3, is_active=$4, is_default=$5, updated_at=$6 WHERE id=$1`,
		k.ID, k.Name, apiKey, k.IsActive, k.IsDefault, k.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, "provider key", k.ID.String())
}

func (s *PGProviderKeyStore) SetDefault(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var provider string
	if err := tx.QueryRowContext(ctx,
		`SELECT provider FROM provider_keys WHERE id = $1`, id,
	).Scan(&provider); err != nil {
		return notFoundOr(err, "provider key", id.String())
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE provider_keys SET is_default=FALSE WHERE provider=$1 AND id<>$2`, provider, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE provider_keys SET is_default=TRUE, updated_at=now() WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGProviderKeyStore) GetActive(ctx context.Context, provider string) (*store.ProviderKey, error) {
	k, err := s.scanKey(s.db.QueryRowContext(ctx,
		`SELECT `+providerKeyCols+` FROM provider_keys
		 WHERE provider = $1 AND is_active
		 ORDER BY is_default DESC, created_at DESC LIMIT 1`, provider))
	if err != nil {
		return nil, notFoundOr(err, "provider key", provider)
	}
	return k, nil
}

func (s *PGProviderKeyStore) RecordTest(ctx context.Context, id uuid.UUID, status string, testErr *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provider_keys SET test_status=$2, test_error=$3, last_tested_at=now(), updated_at=now() WHERE id=$1`,
		id, status, testErr)
	if err != nil {
		return err
	}
	return requireRow(res, "provider key", id.String())
}

func (s *PGProviderKeyStore) TouchUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_keys SET last_used_at=now() WHERE id=$1`, id)
	return err
}

func (s *PGProviderKeyStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM provider_keys WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "provider key", id.String())
}
