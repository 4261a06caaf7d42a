// Package crypto provides symmetric encryption for secrets at rest.
// Values are AES-256-GCM encrypted with a key derived from the
// application secret and stored as "enc:" + base64(nonce || ciphertext),
// so encrypted and legacy plaintext values can coexist in one column.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// EncryptedPrefix marks values that have been encrypted.
const EncryptedPrefix = "enc:"

var errCiphertextShort = errors.New("crypto: ciphertext too short")

func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt encrypts plaintext with the given secret.
func Encrypt(plaintext, secret string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}

	ct := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. The "enc:" prefix is optional on input.
func Decrypt(value, secret string) (string, error) {
	value = strings.TrimPrefix(value, EncryptedPrefix)

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("crypto: base64 decode: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", errCiphertextShort
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the encrypted prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// EncryptIfNeeded encrypts value unless it is empty or already encrypted.
func EncryptIfNeeded(value, secret string) (string, error) {
	if value == "" || IsEncrypted(value) {
		return value, nil
	}
	return Encrypt(value, secret)
}

// DecryptIfNeeded decrypts value when it carries the prefix; legacy
// plaintext rows pass through unchanged.
func DecryptIfNeeded(value, secret string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return Decrypt(value, secret)
}
