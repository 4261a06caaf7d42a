package pg

import (
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/across/internal/store"
)

// NewPGStores creates all stores backed by Postgres.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Workspaces:    NewPGWorkspaceStore(db),
		Users:         NewPGUserStore(db),
		Assistants:    NewPGAssistantStore(db),
		Files:         NewPGFileStore(db),
		Conversations: NewPGConversationStore(db),
		Usage:         NewPGUsageStore(db),
		ProviderKeys:  NewPGProviderKeyStore(db, cfg.EncryptionKey),
		Audit:         NewPGAuditStore(db),
	}, db, nil
}
