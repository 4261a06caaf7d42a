package store

import (
	"time"

	"github.com/google/uuid"
)

// GenNewID returns a time-ordered UUID for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// User roles, in descending privilege order.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// Knowledge file lifecycle states.
const (
	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusIndexing   = "indexing"
	FileStatusReady      = "ready"
	FileStatusFailed     = "failed"
)

// Provider key test states.
const (
	TestStatusUntested = "untested"
	TestStatusValid    = "valid"
	TestStatusInvalid  = "invalid"
)

// Workspace is the tenancy root. Every user and assistant belongs to one.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID           uuid.UUID  `json:"id"`
	WorkspaceID  *uuid.UUID `json:"workspace_id,omitempty"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	IsVerified   bool       `json:"is_verified"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserAPIKey is a programmatic credential. Only the bcrypt hash and the
// first-8-chars prefix are stored; the raw key is shown once at creation.
type UserAPIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Assistant struct {
	ID                 uuid.UUID  `json:"id"`
	WorkspaceID        *uuid.UUID `json:"workspace_id,omitempty"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Instructions       string     `json:"instructions"`
	Model              string     `json:"model"`
	Temperature        float64    `json:"temperature"`
	MaxTokens          int        `json:"max_tokens"`
	MaxRetrievalChunks int        `json:"max_retrieval_chunks"`
	AvatarURL          *string    `json:"avatar_url,omitempty"`
	IsDeleted          bool       `json:"is_deleted"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type KnowledgeFile struct {
	ID          uuid.UUID `json:"id"`
	AssistantID uuid.UUID `json:"assistant_id"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type"`
	FileSize    int64     `json:"file_size"`
	StoragePath string    `json:"-"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	// Terminal failure message, user-facing.
	ErrorMessage *string `json:"error_message,omitempty"`

	// Retry bookkeeping, owned by the ingestion pipeline.
	AttemptCount        int        `json:"attempt_count"`
	MaxAttempts         int        `json:"max_attempts"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	LastError           *string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation history survives assistant deletion; AssistantID goes nil
// when the assistant is removed.
type Conversation struct {
	ID          uuid.UUID  `json:"id"`
	AssistantID *uuid.UUID `json:"assistant_id,omitempty"`
	UserID      uuid.UUID  `json:"user_id"`
	Title       string     `json:"title"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Message struct {
	ID               uuid.UUID `json:"id"`
	ConversationID   uuid.UUID `json:"conversation_id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	// User rating of an assistant reply: "positive" or "negative".
	Feedback        *string        `json:"feedback,omitempty"`
	FeedbackReason  *string        `json:"feedback_reason,omitempty"`
	FeedbackContext map[string]any `json:"feedback_context,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

type UsageLog struct {
	ID               uuid.UUID  `json:"id"`
	ConversationID   *uuid.UUID `json:"conversation_id,omitempty"`
	AssistantID      *uuid.UUID `json:"assistant_id,omitempty"`
	MessageID        *uuid.UUID `json:"message_id,omitempty"`
	Model            string     `json:"model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	CostUSD          float64    `json:"cost_usd"`
	CreatedAt        time.Time  `json:"created_at"`
}

// UsageQuota limits spend. UserID nil means the global (workspace) quota.
// Nil limits mean unlimited for that dimension.
type UsageQuota struct {
	ID                    uuid.UUID  `json:"id"`
	UserID                *uuid.UUID `json:"user_id,omitempty"`
	DailyTokenLimit       *int64     `json:"daily_token_limit,omitempty"`
	MonthlyTokenLimit     *int64     `json:"monthly_token_limit,omitempty"`
	DailyCostLimit        *float64   `json:"daily_cost_limit,omitempty"`
	MonthlyCostLimit      *float64   `json:"monthly_cost_limit,omitempty"`
	RequestsPerMinute     *int       `json:"requests_per_minute,omitempty"`
	RequestsPerHour       *int       `json:"requests_per_hour,omitempty"`
	AlertThresholdPercent int        `json:"alert_threshold_percent"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ProviderKey is an upstream LLM credential. APIKey is encrypted at rest;
// store implementations hand it back decrypted.
type ProviderKey struct {
	ID            uuid.UUID  `json:"id"`
	Provider      string     `json:"provider"`
	Name          string     `json:"name"`
	APIKey        string     `json:"-"`
	IsDefault     bool       `json:"is_default"`
	IsActive      bool       `json:"is_active"`
	TestStatus    string     `json:"test_status"`
	TestError     *string    `json:"test_error,omitempty"`
	LastTestedAt  *time.Time `json:"last_tested_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RotatedFromID *uuid.UUID `json:"rotated_from_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Actor        string         `json:"actor"`
	ActorID      *string        `json:"actor_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
