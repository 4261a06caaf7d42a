package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

const convCols = `id, assistant_id, user_id, title, created_at, updated_at`

func scanConv(row interface{ Scan(...any) error }) (*store.Conversation, error) {
	var c store.Conversation
	err := row.Scan(&c.ID, &c.AssistantID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGConversationStore) Create(ctx context.Context, c *store.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	if c.Title == "" {
		c.Title = "New Conversation"
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, assistant_id, user_id, title, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.AssistantID, c.UserID, c.Title, now, now,
	)
	return err
}

func (s *PGConversationStore) GetForOwner(ctx context.Context, id, userID uuid.UUID, admin bool) (*store.Conversation, error) {
	c, err := scanConv(s.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "conversation", id.String())
	}
	// Ownership mismatch is indistinguishable from absence.
	if !admin && c.UserID != userID {
		return nil, store.NewNotFound("conversation", id.String())
	}
	return c, nil
}

func (s *PGConversationStore) ListByUser(ctx context.Context, userID uuid.UUID, admin bool, limit, offset int) ([]store.Conversation, int, error) {
	// Admins see all conversations; everyone else only their own.
	cond := `user_id = $1`
	args := []any{userID}
	if admin {
		cond = `TRUE`
		args = nil
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 50 {
		limit = 50
	}
	args = append(args, limit, offset)
	page := `LIMIT $2 OFFSET $3`
	if admin {
		page = `LIMIT $1 OFFSET $2`
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE `+cond+
			` ORDER BY updated_at DESC `+page, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.Conversation
	for rows.Next() {
		c, err := scanConv(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *c)
	}
	return result, total, rows.Err()
}

func (s *PGConversationStore) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title=$2, updated_at=now() WHERE id=$1`, id, title)
	if err != nil {
		return err
	}
	return requireRow(res, "conversation", id.String())
}

func (s *PGConversationStore) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at=now() WHERE id=$1`, id)
	return err
}

func (s *PGConversationStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "conversation", id.String())
}

// --- Messages ---

func (s *PGConversationStore) AddMessage(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	m.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, model, prompt_tokens, completion_tokens, total_tokens, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.ConversationID, m.Role, m.Content, nilStr(m.Model),
		m.PromptTokens, m.CompletionTokens, m.TotalTokens, m.CreatedAt,
	)
	return err
}

const messageCols = `id, conversation_id, role, content, model, prompt_tokens, completion_tokens, total_tokens, feedback, feedback_reason, feedback_context, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var m store.Message
	var model *string
	var fbCtx []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &model,
		&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens,
		&m.Feedback, &m.FeedbackReason, &fbCtx, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Model = derefStr(model)
	m.FeedbackContext = unmarshalJSONB(fbCtx)
	return &m, nil
}

func (s *PGConversationStore) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "message", id.String())
	}
	return m, nil
}

func (s *PGConversationStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func (s *PGConversationStore) UpdateMessage(ctx context.Context, id uuid.UUID, content string, promptTokens, completionTokens, totalTokens int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content=$2, prompt_tokens=$3, completion_tokens=$4, total_tokens=$5 WHERE id=$1`,
		id, content, promptTokens, completionTokens, totalTokens)
	if err != nil {
		return err
	}
	return requireRow(res, "message", id.String())
}

func (s *PGConversationStore) SetMessageFeedback(ctx context.Context, id uuid.UUID, feedback string, reason *string, fbCtx map[string]any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET feedback=$2, feedback_reason=$3, feedback_context=$4 WHERE id=$1`,
		id, feedback, reason, jsonOrNil(fbCtx))
	if err != nil {
		return err
	}
	return requireRow(res, "message", id.String())
}
