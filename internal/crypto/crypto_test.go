package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"api key", "sk-or-v1-abcdef0123456789"},
		{"unicode", "clé secrète ☃"},
		{"empty-ish", " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encrypt(tt.value, "secret")
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if !strings.HasPrefix(enc, EncryptedPrefix) {
				t.Errorf("missing %q prefix: %q", EncryptedPrefix, enc)
			}
			dec, err := Decrypt(enc, "secret")
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if dec != tt.value {
				t.Errorf("round trip = %q, want %q", dec, tt.value)
			}
		})
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	a, _ := Encrypt("same", "secret")
	b, _ := Encrypt("same", "secret")
	if a == b {
		t.Error("two encryptions of the same value must differ (random nonce)")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	enc, _ := Encrypt("value", "secret-a")
	if _, err := Decrypt(enc, "secret-b"); err == nil {
		t.Error("expected decrypt failure with wrong key")
	}
}

func TestDecryptIfNeededPassesThroughPlaintext(t *testing.T) {
	got, err := DecryptIfNeeded("legacy-plaintext-key", "secret")
	if err != nil {
		t.Fatalf("DecryptIfNeeded: %v", err)
	}
	if got != "legacy-plaintext-key" {
		t.Errorf("plaintext changed: %q", got)
	}
}

func TestEncryptIfNeededIsIdempotent(t *testing.T) {
	once, err := EncryptIfNeeded("value", "secret")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := EncryptIfNeeded(once, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Error("already-encrypted value must not be re-encrypted")
	}
}
