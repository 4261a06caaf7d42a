// Package vault manages upstream provider API keys: storage, rotation,
// default selection and liveness testing. Key material is encrypted at
// rest by the store layer and only ever leaves here masked, except for
// GetActiveKey which feeds the provider clients.
package vault

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// Known providers. Custom endpoints are accepted but cannot be tested.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderAzure      = "azure"
	ProviderCustom     = "custom"
)

var knownProviders = map[string]bool{
	ProviderOpenRouter: true,
	ProviderOpenAI:     true,
	ProviderAnthropic:  true,
	ProviderGoogle:     true,
	ProviderAzure:      true,
	ProviderCustom:     true,
}

// MaskKey hides all but the first and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Service is the provider key vault.
type Service struct {
	keys   store.ProviderKeyStore
	tester *Tester
}

func NewService(keys store.ProviderKeyStore, tester *Tester) *Service {
	if tester == nil {
		tester = NewTester()
	}
	return &Service{keys: keys, tester: tester}
}

type CreateKeyParams struct {
	Provider  string `json:"provider"`
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	IsDefault bool   `json:"is_default"`
}

func (p *CreateKeyParams) validate() error {
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	p.Name = strings.TrimSpace(p.Name)
	if !knownProviders[p.Provider] {
		return store.NewValidation("Unknown provider '%s'", p.Provider)
	}
	if p.Name == "" {
		return store.NewValidation("Key name is required")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return store.NewValidation("API key is required")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p CreateKeyParams) (*store.ProviderKey, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	key := &store.ProviderKey{
		ID:         store.GenNewID(),
		Provider:   p.Provider,
		Name:       p.Name,
		APIKey:     strings.TrimSpace(p.APIKey),
		IsDefault:  p.IsDefault,
		IsActive:   true,
		TestStatus: store.TestStatusUntested,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.ProviderKey, error) {
	return s.keys.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]store.ProviderKey, error) {
	return s.keys.List(ctx)
}

type UpdateKeyParams struct {
	Name     *string `json:"name,omitempty"`
	APIKey   *string `json:"api_key,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, p UpdateKeyParams) (*store.ProviderKey, error) {
	key, err := s.keys.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, store.NewValidation("Key name is required")
		}
		key.Name = name
	}
	if p.APIKey != nil {
		if strings.TrimSpace(*p.APIKey) == "" {
			return nil, store.NewValidation("API key is required")
		}
		key.APIKey = strings.TrimSpace(*p.APIKey)
		// replacing the material invalidates prior test results
		key.TestStatus = store.TestStatusUntested
		key.TestError = nil
	}
	if p.IsActive != nil {
		key.IsActive = *p.IsActive
	}
	if err := s.keys.Update(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Service) SetDefault(ctx context.Context, id uuid.UUID) error {
	return s.keys.SetDefault(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.keys.Delete(ctx, id)
}

// Rotate replaces a key's material without breaking references: a new row
// inherits the provider, name and default flag, and the old row is
// deactivated and un-defaulted.
func (s *Service) Rotate(ctx context.Context, id uuid.UUID, newAPIKey string) (*store.ProviderKey, error) {
	newAPIKey = strings.TrimSpace(newAPIKey)
	if newAPIKey == "" {
		return nil, store.NewValidation("API key is required")
	}

	old, err := s.keys.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rotated := &store.ProviderKey{
		ID:            store.GenNewID(),
		Provider:      old.Provider,
		Name:          old.Name,
		APIKey:        newAPIKey,
		IsDefault:     old.IsDefault,
		IsActive:      true,
		TestStatus:    store.TestStatusUntested,
		RotatedFromID: &old.ID,
	}
	if err := s.keys.Create(ctx, rotated); err != nil {
		return nil, err
	}

	old.IsActive = false
	old.IsDefault = false
	if err := s.keys.Update(ctx, old); err != nil {
		return nil, err
	}
	slog.Info("vault.rotate", "provider", old.Provider, "old_id", old.ID, "new_id", rotated.ID)
	return rotated, nil
}

// Test probes the upstream provider with the key and records the result.
func (s *Service) Test(ctx context.Context, id uuid.UUID) (*store.ProviderKey, error) {
	key, err := s.keys.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	status, testErr := s.tester.Test(ctx, key.Provider, key.APIKey)
	if err := s.keys.RecordTest(ctx, id, status, testErr); err != nil {
		return nil, err
	}
	return s.keys.Get(ctx, id)
}

// GetActiveKey returns the decrypted key material to use for a provider,
// preferring the vault over the configured fallback and touching
// last_used_at when a vault key is chosen.
func (s *Service) GetActiveKey(ctx context.Context, provider, fallback string) string {
	key, err := s.keys.GetActive(ctx, provider)
	if err != nil {
		if !store.IsNotFound(err) {
			slog.Warn("vault.get_active", "provider", provider, "error", err)
		}
		return fallback
	}
	if err := s.keys.TouchUsed(ctx, key.ID); err != nil {
		slog.Warn("vault.touch_used", "key_id", key.ID, "error", err)
	}
	return key.APIKey
}
