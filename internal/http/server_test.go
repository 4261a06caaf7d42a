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

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/config"
	"github.com/nextlevelbuilder/across/internal/store"
)

// --- fakes ---

type fakeUserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*store.User)}
}

func (f *fakeUserStore) Create(_ context.Context, u *store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserStore) Get(_ context.Context, id uuid.UUID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.NewNotFound("user", id.String())
	}
	return u, nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.NewNotFound("user", email)
}

func (f *fakeUserStore) List(_ context.Context, _ store.UserListFilter) ([]store.User, int, error) {
	return nil, 0, nil
}
func (f *fakeUserStore) Update(_ context.Context, _ *store.User) error                  { return nil }
func (f *fakeUserStore) UpdatePassword(_ context.Context, _ uuid.UUID, _ string) error  { return nil }
func (f *fakeUserStore) SetActive(_ context.Context, _ uuid.UUID, _ bool) error         { return nil }
func (f *fakeUserStore) Delete(_ context.Context, _ uuid.UUID) error                    { return nil }
func (f *fakeUserStore) TouchLastLogin(_ context.Context, _ uuid.UUID) error            { return nil }
func (f *fakeUserStore) CreateAPIKey(_ context.Context, _ *store.UserAPIKey) error      { return nil }
func (f *fakeUserStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]store.UserAPIKey, error) {
	return nil, nil
}
func (f *fakeUserStore) FindAPIKeysByPrefix(_ context.Context, _ string) ([]store.UserAPIKey, error) {
	return nil, nil
}
func (f *fakeUserStore) RevokeAPIKey(_ context.Context, _, _ uuid.UUID) error  { return nil }
func (f *fakeUserStore) TouchAPIKeyUsed(_ context.Context, _ uuid.UUID) error  { return nil }

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []store.AuditEntry
}

func (f *fakeAuditStore) Insert(_ context.Context, e *store.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}
func (f *fakeAuditStore) Query(_ context.Context, _ store.AuditQuery) ([]store.AuditEntry, int, error) {
	return nil, 0, nil
}
func (f *fakeAuditStore) ActionSummary(_ context.Context, _ time.Time) (map[string]int, error) {
	return nil, nil
}
func (f *fakeAuditStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeAuditStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

// --- helpers ---

func seedUser(t *testing.T, users *fakeUserStore, password string) *store.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u := &store.User{
		ID:           store.GenNewID(),
		Email:        "user@example.com",
		PasswordHash: hash,
		Name:         "Test User",
		Role:         store.RoleUser,
		IsActive:     true,
	}
	users.Create(context.Background(), u)
	return u
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- tests ---

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{store.NewNotFound("thing", "x"), http.StatusNotFound},
		{store.NewValidation("bad"), http.StatusUnprocessableEntity},
		{&store.AuthenticationError{Message: "no"}, http.StatusUnauthorized},
		{&store.AuthorizationError{Message: "no"}, http.StatusForbidden},
		{&store.ConflictError{Message: "dup"}, http.StatusConflict},
		{&store.QuotaExceededError{Reason: "daily"}, http.StatusTooManyRequests},
		{&store.UpstreamError{Message: "down"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)
		if rec.Code != tt.status {
			t.Errorf("writeError(%T) = %d, want %d", tt.err, rec.Code, tt.status)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	limits := config.RateLimitsConfig{Enabled: true, LoginRPM: 2}
	rl := NewRateLimiter(func() config.RateLimitsConfig { return limits })
	handler := rl.limit(loginLimit, okHandler)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		handler(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", last.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(last.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "RateLimitExceeded" {
		t.Errorf("error field = %v", body["error"])
	}
	if _, ok := body["retry_after"]; !ok {
		t.Error("retry_after missing")
	}

	// a different client has its own bucket
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.9.9.9:5555"
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other client = %d, want 200", rec.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(func() config.RateLimitsConfig { return config.RateLimitsConfig{Enabled: false, LoginRPM: 1} })
	handler := rl.limit(loginLimit, okHandler)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d with limiting disabled", i, rec.Code)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	users := newFakeUserStore()
	user := seedUser(t, users, "Str0ng!pass")
	tokens := auth.NewTokenIssuer("test-secret", 8*time.Hour)
	authn := NewAuthenticator(tokens, users)

	manager := &store.User{
		ID:       store.GenNewID(),
		Email:    "manager@example.com",
		Name:     "Manager",
		Role:     store.RoleManager,
		IsActive: true,
	}
	users.Create(context.Background(), manager)

	userTok, csrf, err := tokens.IssueUserToken(user)
	if err != nil {
		t.Fatal(err)
	}
	managerTok, _, err := tokens.IssueUserToken(manager)
	if err != nil {
		t.Fatal(err)
	}
	adminTok, _, err := tokens.IssueAdminToken()
	if err != nil {
		t.Fatal(err)
	}

	userOnly := authn.requireUser(okHandler)
	managerOnly := authn.requireManager(okHandler)
	adminOnly := authn.requireAdmin(okHandler)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		method  string
		setup   func(*http.Request)
		want    int
	}{
		{"no credentials", userOnly, http.MethodGet, func(*http.Request) {}, http.StatusUnauthorized},
		{"bad bearer", userOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nonsense")
		}, http.StatusUnauthorized},
		{"session get", userOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+userTok)
		}, http.StatusOK},
		{"session mutation without csrf", userOnly, http.MethodPost, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+userTok)
		}, http.StatusForbidden},
		{"session mutation with csrf", userOnly, http.MethodPost, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+userTok)
			r.Header.Set("X-CSRF-Token", csrf)
		}, http.StatusOK},
		{"session mutation with wrong csrf", userOnly, http.MethodPost, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+userTok)
			r.Header.Set("X-CSRF-Token", "wrong")
		}, http.StatusForbidden},
		{"admin header on admin route", adminOnly, http.MethodPost, func(r *http.Request) {
			r.Header.Set("X-Admin-Token", adminTok)
		}, http.StatusOK},
		{"plain user on admin route", adminOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+userTok)
		}, http.StatusForbidden},
		{"invalid admin header", adminOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("X-Admin-Token", "nonsense")
		}, http.StatusUnauthorized},
		{"manager on manager route", managerOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+managerTok)
		}, http.StatusOK},
		{"plain user on manager route", managerOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+userTok)
		}, http.StatusForbidden},
		{"manager on admin route", adminOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+managerTok)
		}, http.StatusForbidden},
		{"admin header on manager route", managerOnly, http.MethodGet, func(r *http.Request) {
			r.Header.Set("X-Admin-Token", adminTok)
		}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/x", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			tt.handler(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	run := func(production bool) http.Header {
		handler := securityHeadersMiddleware(func() bool { return production }, http.HandlerFunc(okHandler))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Header()
	}

	h := run(false)
	want := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for name, value := range want {
		if got := h.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set outside production")
	}

	if got := run(true).Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	// caller-supplied id is kept
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("supplied id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}

	// absent id is generated
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id not generated")
	}
}

func newAuthHandler(users *fakeUserStore, audits *fakeAuditStore) *AuthHandler {
	tokens := auth.NewTokenIssuer("test-secret", 8*time.Hour)
	authn := NewAuthenticator(tokens, users)
	rl := NewRateLimiter(func() config.RateLimitsConfig { return config.RateLimitsConfig{} })
	adminHash, _ := auth.HashPassword("Adm1n!pass")
	return NewAuthHandler(users, tokens, adminHash, audit.NewLogger(audits), authn, rl)
}

func TestLogin(t *testing.T) {
	users := newFakeUserStore()
	seedUser(t, users, "Str0ng!pass")
	audits := &fakeAuditStore{}
	h := newAuthHandler(users, audits)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(`{"email":"user@example.com","password":"Str0ng!pass"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.AccessToken == "" || resp.CSRFToken == "" || resp.TokenType != "bearer" {
		t.Errorf("response = %+v", resp)
	}

	rec = do(`{"email":"user@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d", rec.Code)
	}

	rec = do(`{"email":"ghost@example.com","password":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user = %d", rec.Code)
	}

	actions := audits.actions()
	want := []string{"login.success", "login.failed", "login.failed"}
	if strings.Join(actions, ",") != strings.Join(want, ",") {
		t.Errorf("audit actions = %v, want %v", actions, want)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	users := newFakeUserStore()
	u := seedUser(t, users, "Str0ng!pass")
	u.IsActive = false
	h := newAuthHandler(users, &fakeAuditStore{})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"user@example.com","password":"Str0ng!pass"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("disabled account login = %d, want 401", rec.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	h := newAuthHandler(newFakeUserStore(), &fakeAuditStore{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/admin/login",
		strings.NewReader(`{"password":"Adm1n!pass"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/admin/login",
		strings.NewReader(`{"password":"wrong"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong admin password = %d", rec.Code)
	}
}
