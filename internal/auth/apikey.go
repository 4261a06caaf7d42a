package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nextlevelbuilder/across/internal/store"
)

// APIKeyPrefixLen is the stored lookup prefix length.
const APIKeyPrefixLen = 8

// GenerateAPIKey returns a raw API key plus the prefix and bcrypt hash to
// persist. The raw key is only ever shown once.
func GenerateAPIKey() (raw, prefix, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	prefix = raw[:APIKeyPrefixLen]

	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return raw, prefix, string(h), nil
}

// VerifyAPIKey resolves a raw API key to its owning user. Candidates are
// looked up by prefix and bcrypt-verified; expired, revoked keys and
// disabled users all fail the same way.
func VerifyAPIKey(ctx context.Context, users store.UserStore, raw string) (*store.User, error) {
	unauthorized := &store.AuthenticationError{Message: "invalid API key"}
	if len(raw) < APIKeyPrefixLen {
		return nil, unauthorized
	}

	candidates, err := users.FindAPIKeysByPrefix(ctx, raw[:APIKeyPrefixLen])
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, k := range candidates {
		if k.ExpiresAt != nil && k.ExpiresAt.Before(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) != nil {
			continue
		}
		u, err := users.Get(ctx, k.UserID)
		if err != nil {
			return nil, unauthorized
		}
		if !u.IsActive {
			return nil, unauthorized
		}
		_ = users.TouchAPIKeyUsed(ctx, k.ID)
		return u, nil
	}
	return nil, unauthorized
}
