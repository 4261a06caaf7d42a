package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StoreConfig carries what the Postgres factory needs.
type StoreConfig struct {
	PostgresDSN   string
	EncryptionKey string
	MaxOpen       int
	MaxIdle       int
}

// Stores bundles all persistence interfaces.
type Stores struct {
	Workspaces    WorkspaceStore
	Users         UserStore
	Assistants    AssistantStore
	Files         FileStore
	Conversations ConversationStore
	Usage         UsageStore
	ProviderKeys  ProviderKeyStore
	Audit         AuditStore
}

type WorkspaceStore interface {
	Create(ctx context.Context, w *Workspace) error
	Get(ctx context.Context, id uuid.UUID) (*Workspace, error)
	GetByName(ctx context.Context, name string) (*Workspace, error)
	List(ctx context.Context) ([]Workspace, error)
}

// UserListFilter narrows List results. Zero values mean "no filter".
type UserListFilter struct {
	Search   string
	Role     string
	IsActive *bool
	Page     int
	Size     int
}

type UserStore interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserListFilter) ([]User, int, error)
	Update(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error

	CreateAPIKey(ctx context.Context, k *UserAPIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]UserAPIKey, error)
	// FindAPIKeysByPrefix returns active keys matching the 8-char prefix;
	// the caller bcrypt-verifies the full key against each candidate.
	FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]UserAPIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
	TouchAPIKeyUsed(ctx context.Context, keyID uuid.UUID) error
}

type AssistantStore interface {
	Create(ctx context.Context, a *Assistant) error
	Get(ctx context.Context, id uuid.UUID) (*Assistant, error)
	List(ctx context.Context, workspaceID uuid.UUID) ([]Assistant, error)
	Update(ctx context.Context, a *Assistant) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type FileStore interface {
	Create(ctx context.Context, f *KnowledgeFile) error
	Get(ctx context.Context, id uuid.UUID) (*KnowledgeFile, error)
	ListByAssistant(ctx context.Context, assistantID uuid.UUID) ([]KnowledgeFile, error)
	CountByAssistant(ctx context.Context, assistantID uuid.UUID) (int, error)
	Update(ctx context.Context, f *KnowledgeFile) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListStale returns processing/indexing rows whose attempt started
	// before cutoff (or that never recorded a start and were created
	// before cutoff).
	ListStale(ctx context.Context, cutoff time.Time) ([]KnowledgeFile, error)
	// ListDueRetries returns pending rows with next_retry_at <= now.
	ListDueRetries(ctx context.Context, now time.Time) ([]KnowledgeFile, error)
}

type ConversationStore interface {
	Create(ctx context.Context, c *Conversation) error
	// GetForOwner enforces ownership: a conversation belonging to another
	// user comes back as NotFoundError unless admin is set.
	GetForOwner(ctx context.Context, id, userID uuid.UUID, admin bool) (*Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID, admin bool, limit, offset int) ([]Conversation, int, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error

	AddMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)
	// UpdateMessage writes streamed content and token counts back onto a
	// previously inserted (empty) assistant message.
	UpdateMessage(ctx context.Context, id uuid.UUID, content string, promptTokens, completionTokens, totalTokens int) error
	SetMessageFeedback(ctx context.Context, id uuid.UUID, feedback string, reason *string, fbCtx map[string]any) error
}

type UsageStore interface {
	LogUsage(ctx context.Context, l *UsageLog) error
	// SumSince aggregates tokens and cost across all usage since the
	// window start.
	SumSince(ctx context.Context, since time.Time) (tokens int64, cost float64, err error)

	GetQuotaForUser(ctx context.Context, userID uuid.UUID) (*UsageQuota, error)
	GetGlobalQuota(ctx context.Context) (*UsageQuota, error)
	CreateQuota(ctx context.Context, q *UsageQuota) error
	UpdateQuota(ctx context.Context, q *UsageQuota) error
}

type ProviderKeyStore interface {
	Create(ctx context.Context, k *ProviderKey) error
	Get(ctx context.Context, id uuid.UUID) (*ProviderKey, error)
	List(ctx context.Context) ([]ProviderKey, error)
	Update(ctx context.Context, k *ProviderKey) error
	// SetDefault marks one key default and clears the flag on all other
	// keys of the same provider.
	SetDefault(ctx context.Context, id uuid.UUID) error
	// GetActive returns the default active key for the provider, falling
	// back to the newest active one.
	GetActive(ctx context.Context, provider string) (*ProviderKey, error)
	RecordTest(ctx context.Context, id uuid.UUID, status string, testErr *string) error
	TouchUsed(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditQuery filters audit log reads. An Action containing "." matches
// exactly; otherwise it matches the "action." prefix.
type AuditQuery struct {
	Action       string
	ResourceType string
	ResourceID   string
	Actor        string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

type AuditStore interface {
	Insert(ctx context.Context, e *AuditEntry) error
	Query(ctx context.Context, q AuditQuery) ([]AuditEntry, int, error)
	ActionSummary(ctx context.Context, since time.Time) (map[string]int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
