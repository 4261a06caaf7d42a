package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/config"
	"github.com/nextlevelbuilder/across/internal/store"
)

type fakeConvStore struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*store.Conversation
	messages map[uuid.UUID]*store.Message
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		convs:    make(map[uuid.UUID]*store.Conversation),
		messages: make(map[uuid.UUID]*store.Message),
	}
}

func (f *fakeConvStore) Create(_ context.Context, c *store.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[c.ID] = c
	return nil
}

func (f *fakeConvStore) GetForOwner(_ context.Context, id, userID uuid.UUID, admin bool) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok || (!admin && c.UserID != userID) {
		return nil, store.NewNotFound("conversation", id.String())
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConvStore) ListByUser(_ context.Context, _ uuid.UUID, _ bool, _, _ int) ([]store.Conversation, int, error) {
	return nil, 0, nil
}
func (f *fakeConvStore) UpdateTitle(_ context.Context, _ uuid.UUID, _ string) error { return nil }
func (f *fakeConvStore) Touch(_ context.Context, _ uuid.UUID) error                 { return nil }
func (f *fakeConvStore) Delete(_ context.Context, _ uuid.UUID) error                { return nil }

func (f *fakeConvStore) AddMessage(_ context.Context, m *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ID] = m
	return nil
}

func (f *fakeConvStore) GetMessage(_ context.Context, id uuid.UUID) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, store.NewNotFound("message", id.String())
	}
	cp := *m
	return &cp, nil
}

func (f *fakeConvStore) ListMessages(_ context.Context, _ uuid.UUID) ([]store.Message, error) {
	return nil, nil
}

func (f *fakeConvStore) UpdateMessage(_ context.Context, _ uuid.UUID, _ string, _, _, _ int) error {
	return nil
}

func (f *fakeConvStore) SetMessageFeedback(_ context.Context, id uuid.UUID, feedback string, reason *string, fbCtx map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return store.NewNotFound("message", id.String())
	}
	m.Feedback = &feedback
	m.FeedbackReason = reason
	m.FeedbackContext = fbCtx
	return nil
}

type fakeAssistantStore struct {
	assistants map[uuid.UUID]*store.Assistant
}

func (f *fakeAssistantStore) Create(_ context.Context, _ *store.Assistant) error { return nil }
func (f *fakeAssistantStore) Get(_ context.Context, id uuid.UUID) (*store.Assistant, error) {
	a, ok := f.assistants[id]
	if !ok || a.IsDeleted {
		return nil, store.NewNotFound("assistant", id.String())
	}
	return a, nil
}
func (f *fakeAssistantStore) List(_ context.Context, _ uuid.UUID) ([]store.Assistant, error) {
	return nil, nil
}
func (f *fakeAssistantStore) Update(_ context.Context, _ *store.Assistant) error { return nil }
func (f *fakeAssistantStore) Delete(_ context.Context, _ uuid.UUID) error        { return nil }

type feedbackHarness struct {
	mux   *http.ServeMux
	convs *fakeConvStore

	owner     *store.User
	ownerTok  string
	ownerCSRF string
	otherTok  string
	otherCSRF string
	conv      *store.Conversation
	assistant uuid.UUID
	assistMsg *store.Message
	userMsg   *store.Message
}

func newFeedbackHarness(t *testing.T) *feedbackHarness {
	t.Helper()

	users := newFakeUserStore()
	owner := seedUser(t, users, "Str0ng!pass")
	other := &store.User{
		ID: store.GenNewID(), Email: "other@example.com", Name: "Other",
		Role: store.RoleUser, IsActive: true,
	}
	users.Create(context.Background(), other)

	tokens := auth.NewTokenIssuer("test-secret", 8*time.Hour)
	authn := NewAuthenticator(tokens, users)
	rl := NewRateLimiter(func() config.RateLimitsConfig { return config.RateLimitsConfig{} })

	ownerTok, ownerCSRF, err := tokens.IssueUserToken(owner)
	if err != nil {
		t.Fatal(err)
	}
	otherTok, otherCSRF, err := tokens.IssueUserToken(other)
	if err != nil {
		t.Fatal(err)
	}

	convs := newFakeConvStore()
	assistantID := store.GenNewID()
	conv := &store.Conversation{
		ID:          store.GenNewID(),
		AssistantID: &assistantID,
		UserID:      owner.ID,
		Title:       "topic",
	}
	convs.Create(context.Background(), conv)

	assistMsg := &store.Message{
		ID: store.GenNewID(), ConversationID: conv.ID,
		Role: "assistant", Content: "an answer", Model: "test/model",
	}
	userMsg := &store.Message{
		ID: store.GenNewID(), ConversationID: conv.ID,
		Role: "user", Content: "a question",
	}
	convs.AddMessage(context.Background(), assistMsg)
	convs.AddMessage(context.Background(), userMsg)

	h := NewConversationsHandler(convs, &fakeAssistantStore{
		assistants: map[uuid.UUID]*store.Assistant{assistantID: {ID: assistantID}},
	}, nil, authn, rl)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &feedbackHarness{
		mux: mux, convs: convs,
		owner: owner, ownerTok: ownerTok, ownerCSRF: ownerCSRF,
		otherTok: otherTok, otherCSRF: otherCSRF,
		conv: conv, assistant: assistantID, assistMsg: assistMsg, userMsg: userMsg,
	}
}

func (h *feedbackHarness) post(msgID uuid.UUID, tok, csrf, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/messages/"+msgID.String()+"/feedback",
		strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func TestMessageFeedback(t *testing.T) {
	h := newFeedbackHarness(t)

	rec := h.post(h.assistMsg.ID, h.ownerTok, h.ownerCSRF,
		`{"feedback":"negative","reason":"made up a citation"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback = %d: %s", rec.Code, rec.Body.String())
	}

	var resp store.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Feedback == nil || *resp.Feedback != "negative" {
		t.Errorf("feedback = %v", resp.Feedback)
	}
	if resp.FeedbackReason == nil || *resp.FeedbackReason != "made up a citation" {
		t.Errorf("reason = %v", resp.FeedbackReason)
	}
	if resp.FeedbackContext["model"] != "test/model" {
		t.Errorf("context = %v", resp.FeedbackContext)
	}

	stored, err := h.convs.GetMessage(context.Background(), h.assistMsg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Feedback == nil || *stored.Feedback != "negative" {
		t.Errorf("feedback not persisted: %+v", stored)
	}
}

func TestMessageFeedbackValidation(t *testing.T) {
	h := newFeedbackHarness(t)

	tests := []struct {
		name string
		msg  uuid.UUID
		body string
		want int
	}{
		{"unknown value", h.assistMsg.ID, `{"feedback":"meh"}`, http.StatusUnprocessableEntity},
		{"user message", h.userMsg.ID, `{"feedback":"positive"}`, http.StatusUnprocessableEntity},
		{"reason too long", h.assistMsg.ID,
			`{"feedback":"positive","reason":"` + strings.Repeat("x", 1001) + `"}`,
			http.StatusUnprocessableEntity},
		{"unknown message", store.GenNewID(), `{"feedback":"positive"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.post(tt.msg, h.ownerTok, h.ownerCSRF, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMessageFeedbackOwnership(t *testing.T) {
	h := newFeedbackHarness(t)

	// a foreign message reads as not found, not forbidden
	rec := h.post(h.assistMsg.ID, h.otherTok, h.otherCSRF, `{"feedback":"positive"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	stored, _ := h.convs.GetMessage(context.Background(), h.assistMsg.ID)
	if stored.Feedback != nil {
		t.Error("feedback written by a non-owner")
	}
}

func TestCreateConversationRejectsDeletedAssistant(t *testing.T) {
	users := newFakeUserStore()
	owner := seedUser(t, users, "Str0ng!pass")
	tokens := auth.NewTokenIssuer("test-secret", 8*time.Hour)
	authn := NewAuthenticator(tokens, users)
	rl := NewRateLimiter(func() config.RateLimitsConfig { return config.RateLimitsConfig{} })
	tok, csrf, err := tokens.IssueUserToken(owner)
	if err != nil {
		t.Fatal(err)
	}

	assistantID := store.GenNewID()
	h := NewConversationsHandler(newFakeConvStore(), &fakeAssistantStore{
		assistants: map[uuid.UUID]*store.Assistant{assistantID: {ID: assistantID, IsDeleted: true}},
	}, nil, authn, rl)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations",
		strings.NewReader(`{"assistant_id":"`+assistantID.String()+`"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
