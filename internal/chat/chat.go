// Package chat orchestrates a conversation turn: quota admission, message
// persistence, context retrieval, the upstream completion stream and
// usage accounting, exposed as an ordered event stream.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/providers"
	"github.com/nextlevelbuilder/across/internal/quota"
	"github.com/nextlevelbuilder/across/internal/rag"
	"github.com/nextlevelbuilder/across/internal/store"
)

const (
	defaultTitle  = "New Conversation"
	titleMaxChars = 50
)

// PromptBuilder renders the system prompt, with or without retrieval.
type PromptBuilder interface {
	BuildSystemPrompt(ctx context.Context, a *store.Assistant, query string) (string, error)
}

// Streamer runs a streaming completion against the upstream provider.
type Streamer interface {
	StreamChat(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) error
}

// QuotaChecker gates admission of new completions.
type QuotaChecker interface {
	Check(ctx context.Context, userID uuid.UUID) (quota.CheckResult, error)
}

// Coster prices a completion in USD.
type Coster interface {
	Cost(ctx context.Context, model string, promptTokens, completionTokens int) float64
}

// Orchestrator wires one conversation turn end to end.
type Orchestrator struct {
	conversations store.ConversationStore
	assistants    store.AssistantStore
	usage         store.UsageStore

	quota   QuotaChecker
	prompts PromptBuilder
	cost    Coster

	// streamer resolves per call so a rotated vault key takes effect
	// without a restart.
	streamer func(ctx context.Context) Streamer
}

func NewOrchestrator(
	conversations store.ConversationStore,
	assistants store.AssistantStore,
	usage store.UsageStore,
	quotaSvc QuotaChecker,
	prompts PromptBuilder,
	cost Coster,
	streamer func(ctx context.Context) Streamer,
) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		assistants:    assistants,
		usage:         usage,
		quota:         quotaSvc,
		prompts:       prompts,
		cost:          cost,
		streamer:      streamer,
	}
}

// SendParams is one user turn.
type SendParams struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	IsAdmin        bool
	Content        string
	// Model overrides the assistant's configured model for this turn only.
	Model string
}

// Send runs a full turn, pushing events to emit in protocol order. The
// returned error covers pre-stream failures only (ownership, validation,
// persistence); upstream failures surface as error events.
func (o *Orchestrator) Send(ctx context.Context, p SendParams, emit func(Event)) error {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return store.NewValidation("Message content is required")
	}

	conv, err := o.conversations.GetForOwner(ctx, p.ConversationID, p.UserID, p.IsAdmin)
	if err != nil {
		return err
	}
	if conv.AssistantID == nil {
		// the assistant was deleted; history stays readable but no new
		// turns run against it
		return store.NewNotFound("assistant", "for conversation "+conv.ID.String())
	}
	assistant, err := o.assistants.Get(ctx, *conv.AssistantID)
	if err != nil {
		return err
	}

	// Quota admission. An unreachable quota service degrades open: the
	// turn proceeds and the gap is logged.
	res, err := o.quota.Check(ctx, p.UserID)
	if err != nil {
		slog.Warn("chat.quota_check_failed", "user_id", p.UserID, "error", err)
	} else if !res.Allowed {
		emit(Event{Type: EventError, Error: "Usage limit exceeded: " + res.Reason, QuotaExceeded: true})
		return nil
	}

	userMsg := &store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.conversations.AddMessage(ctx, userMsg); err != nil {
		return err
	}
	emit(Event{Type: EventUserMessage, MessageID: userMsg.ID.String()})

	systemPrompt := o.buildPrompt(ctx, assistant, content)
	history := o.loadHistory(ctx, conv.ID, userMsg.ID, content)

	model := assistant.Model
	if p.Model != "" {
		model = p.Model
	}

	assistantMsg := &store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Model:          model,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.conversations.AddMessage(ctx, assistantMsg); err != nil {
		return err
	}
	emit(Event{Type: EventAssistantMessageStart, MessageID: assistantMsg.ID.String()})

	req := providers.ChatRequest{
		Model:       model,
		Messages:    append([]providers.ChatMessage{{Role: "system", Content: systemPrompt}}, history...),
		Temperature: assistant.Temperature,
		MaxTokens:   assistant.MaxTokens,
	}

	var reply strings.Builder
	var usage *providers.Usage
	var failed bool

	streamErr := o.streamer(ctx).StreamChat(ctx, req, func(ch providers.StreamChunk) {
		switch ch.Type {
		case providers.ChunkContent:
			reply.WriteString(ch.Content)
			emit(Event{Type: EventContent, Content: ch.Content})
		case providers.ChunkDone:
			usage = ch.Usage
		case providers.ChunkError:
			failed = true
			emit(Event{Type: EventError, Error: ch.Error})
		}
	})
	if streamErr != nil {
		return streamErr
	}

	if failed {
		// keep whatever partial content streamed before the failure, but
		// the turn is not accounted and gets no done event
		if err := o.conversations.UpdateMessage(ctx, assistantMsg.ID, reply.String(), 0, 0, 0); err != nil {
			slog.Error("chat.persist_reply_failed", "message_id", assistantMsg.ID, "error", err)
		}
		return nil
	}

	o.finish(ctx, conv, assistantMsg, model, reply.String(), usage, emit)
	return nil
}

func (o *Orchestrator) buildPrompt(ctx context.Context, a *store.Assistant, query string) string {
	prompt, err := o.prompts.BuildSystemPrompt(ctx, a, query)
	if err != nil {
		// retrieval is best-effort; the turn proceeds without context
		slog.Warn("chat.retrieval_failed", "assistant_id", a.ID, "error", err)
		return rag.SimplePrompt(a)
	}
	return prompt
}

// loadHistory returns prior turns plus the current user message last.
// The freshly inserted row is skipped so it is not sent twice.
func (o *Orchestrator) loadHistory(ctx context.Context, conversationID, currentID uuid.UUID, content string) []providers.ChatMessage {
	msgs, err := o.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		slog.Warn("chat.history_load_failed", "conversation_id", conversationID, "error", err)
		msgs = nil
	}

	history := make([]providers.ChatMessage, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.ID == currentID || m.Content == "" {
			continue
		}
		history = append(history, providers.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(history, providers.ChatMessage{Role: "user", Content: content})
}

// finish persists the streamed reply, accounts usage, auto-titles the
// conversation and emits the done event.
func (o *Orchestrator) finish(ctx context.Context, conv *store.Conversation, msg *store.Message, model, content string, usage *providers.Usage, emit func(Event)) {
	var prompt, completion, total int
	if usage != nil {
		prompt, completion, total = usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens
	}

	if err := o.conversations.UpdateMessage(ctx, msg.ID, content, prompt, completion, total); err != nil {
		slog.Error("chat.persist_reply_failed", "message_id", msg.ID, "error", err)
	}
	if err := o.conversations.Touch(ctx, conv.ID); err != nil {
		slog.Warn("chat.touch_failed", "conversation_id", conv.ID, "error", err)
	}

	if total > 0 {
		cost := o.cost.Cost(ctx, model, prompt, completion)
		log := &store.UsageLog{
			ID:               store.GenNewID(),
			ConversationID:   &conv.ID,
			AssistantID:      conv.AssistantID,
			MessageID:        &msg.ID,
			Model:            model,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      total,
			CostUSD:          cost,
			CreatedAt:        time.Now().UTC(),
		}
		if err := o.usage.LogUsage(ctx, log); err != nil {
			slog.Error("chat.usage_log_failed", "conversation_id", conv.ID, "error", err)
		}
	}

	o.maybeAutoTitle(ctx, conv)

	emit(Event{Type: EventDone, MessageID: msg.ID.String(), TokensUsed: &TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}})
}

// maybeAutoTitle names a conversation after its first user message.
func (o *Orchestrator) maybeAutoTitle(ctx context.Context, conv *store.Conversation) {
	if conv.Title != defaultTitle {
		return
	}
	msgs, err := o.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return
	}
	for _, m := range msgs {
		if m.Role != "user" {
			continue
		}
		title := m.Content
		// truncate on rune boundaries, multibyte content must stay valid
		if runes := []rune(title); len(runes) > titleMaxChars {
			title = string(runes[:titleMaxChars]) + "..."
		}
		if err := o.conversations.UpdateTitle(ctx, conv.ID, title); err != nil {
			slog.Warn("chat.auto_title_failed", "conversation_id", conv.ID, "error", err)
		}
		return
	}
}
