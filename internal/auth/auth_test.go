package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/across/internal/store"
)

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("S3cret!pw")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password string
		stored   string
		want     bool
	}{
		{"bcrypt match", "S3cret!pw", hash, true},
		{"bcrypt mismatch", "wrong", hash, false},
		{"legacy plaintext match", "dev-password", "dev-password", true},
		{"legacy plaintext mismatch", "other", "dev-password", false},
		{"empty stored", "anything", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.password, tt.stored); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Abcdef1!", false},
		{"too short", "Ab1!", true},
		{"no uppercase", "abcdef1!", true},
		{"no lowercase", "ABCDEF1!", true},
		{"no digit", "Abcdefg!", true},
		{"no special", "Abcdefg1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePasswordStrength(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	u := &store.User{ID: store.GenNewID(), Email: "a@b.c", Name: "A", Role: store.RoleUser}

	token, csrf, err := issuer.IssueUserToken(u)
	if err != nil {
		t.Fatalf("IssueUserToken: %v", err)
	}

	claims, err := issuer.VerifyUserToken(token)
	if err != nil {
		t.Fatalf("VerifyUserToken: %v", err)
	}
	if claims.Subject != u.ID.String() {
		t.Errorf("subject = %q, want %q", claims.Subject, u.ID)
	}
	if claims.Email != "a@b.c" || claims.Role != store.RoleUser {
		t.Errorf("claims = %+v", claims)
	}
	if err := VerifyCSRF(claims, csrf); err != nil {
		t.Errorf("VerifyCSRF with matching token: %v", err)
	}
	if err := VerifyCSRF(claims, "tampered"); err == nil {
		t.Error("VerifyCSRF accepted a wrong token")
	}
}

func TestAdminTokenIsNotAUserToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, _, err := issuer.IssueAdminToken()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.VerifyAdminToken(token); err != nil {
		t.Errorf("VerifyAdminToken: %v", err)
	}
	if _, err := issuer.VerifyUserToken(token); err == nil {
		t.Error("admin token must not verify as a user token")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Minute)
	u := &store.User{ID: store.GenNewID(), Email: "a@b.c"}
	token, _, err := issuer.IssueUserToken(u)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.VerifyUserToken(token); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	raw, prefix, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(prefix) != APIKeyPrefixLen || !strings.HasPrefix(raw, prefix) {
		t.Errorf("prefix %q does not match raw %q", prefix, raw)
	}
	if hash == raw || !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash does not look like bcrypt: %q", hash)
	}
}
