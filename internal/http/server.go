// Package http exposes the REST and SSE API surface.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/across/internal/audit"
	"github.com/nextlevelbuilder/across/internal/auth"
	"github.com/nextlevelbuilder/across/internal/chat"
	"github.com/nextlevelbuilder/across/internal/config"
	"github.com/nextlevelbuilder/across/internal/ingest"
	"github.com/nextlevelbuilder/across/internal/providers"
	"github.com/nextlevelbuilder/across/internal/quota"
	"github.com/nextlevelbuilder/across/internal/store"
	"github.com/nextlevelbuilder/across/internal/vault"
)

// Deps bundles everything the API server needs.
type Deps struct {
	Config *config.Config
	Stores *store.Stores
	Tokens *auth.TokenIssuer
	Audit  *audit.Logger
	Quota  *quota.Service
	Vault  *vault.Service
	Orch   *chat.Orchestrator
	Proc   *ingest.Processor
	// Client returns an upstream client bound to the currently active
	// provider key.
	Client func(ctx context.Context) *providers.Client
}

// Server is the HTTP front door.
type Server struct {
	deps Deps
	srv  *http.Server
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	d := s.deps
	authn := NewAuthenticator(d.Tokens, d.Stores.Users)
	rl := NewRateLimiter(d.Config.RateLimitSnapshot)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	NewAuthHandler(d.Stores.Users, d.Tokens, d.Config.Security.AdminPassword, d.Audit, authn, rl).RegisterRoutes(mux)
	NewUsersHandler(d.Stores.Users, d.Stores.Workspaces, d.Audit, authn).RegisterRoutes(mux)
	NewAssistantsHandler(d.Stores.Assistants, d.Stores.Workspaces, d.Audit, authn).RegisterRoutes(mux)
	NewFilesHandler(d.Stores.Files, d.Stores.Assistants, d.Proc, d.Audit, authn, rl,
		d.Config.Uploads.Dir, d.Config.MaxFileSizeBytes).RegisterRoutes(mux)
	NewConversationsHandler(d.Stores.Conversations, d.Stores.Assistants, d.Orch, authn, rl).RegisterRoutes(mux)
	NewProviderKeysHandler(d.Vault, d.Audit, authn, rl).RegisterRoutes(mux)
	NewModelsHandler(d.Client, authn).RegisterRoutes(mux)
	NewUsageHandler(d.Quota, d.Stores.Usage, d.Audit, authn, rl).RegisterRoutes(mux)
	NewAuditHandler(d.Stores.Audit, authn).RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = corsMiddleware(func() []string { return d.Config.Server.CORSOrigins }, handler)
	handler = securityHeadersMiddleware(d.Config.IsProduction, handler)
	handler = logMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = recoverMiddleware(handler)
	return handler
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: chat streams stay open for minutes
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http.listen", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
