package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// AdminSubject is the JWT subject for the operator account.
const AdminSubject = "admin"

// Claims is the session token payload. CSRF carries a per-session random
// secret that mutating requests must echo in X-CSRF-Token.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	CSRF  string `json:"csrf"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	if expiry <= 0 {
		expiry = 8 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// GenerateCSRFToken returns a URL-safe random token.
func GenerateCSRFToken() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func (t *TokenIssuer) sign(claims *Claims) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.expiry))
	claims.ID = uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// IssueUserToken mints a session token for a user. The embedded CSRF
// token is also returned so the client can store it separately.
func (t *TokenIssuer) IssueUserToken(u *store.User) (token, csrf string, err error) {
	csrf = GenerateCSRFToken()
	token, err = t.sign(&Claims{
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
		CSRF:  csrf,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: u.ID.String(),
		},
	})
	return token, csrf, err
}

// IssueAdminToken mints a session token for the operator account.
func (t *TokenIssuer) IssueAdminToken() (token, csrf string, err error) {
	csrf = GenerateCSRFToken()
	token, err = t.sign(&Claims{
		Role: store.RoleAdmin,
		CSRF: csrf,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: AdminSubject,
		},
	})
	return token, csrf, err
}

func (t *TokenIssuer) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, &store.AuthenticationError{Message: "invalid or expired token"}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &store.AuthenticationError{Message: "invalid token"}
	}
	return claims, nil
}

// VerifyUserToken validates a user session token.
func (t *TokenIssuer) VerifyUserToken(tokenStr string) (*Claims, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.Subject == AdminSubject || claims.Email == "" {
		return nil, &store.AuthenticationError{Message: "invalid token"}
	}
	return claims, nil
}

// VerifyAdminToken validates an operator session token.
func (t *TokenIssuer) VerifyAdminToken(tokenStr string) (*Claims, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Subject != AdminSubject {
		return nil, &store.AuthenticationError{Message: "invalid token"}
	}
	return claims, nil
}

// VerifyCSRF compares the header token with the session's CSRF secret in
// constant time.
func VerifyCSRF(claims *Claims, headerToken string) error {
	if claims.CSRF == "" || headerToken == "" ||
		subtle.ConstantTimeCompare([]byte(claims.CSRF), []byte(headerToken)) != 1 {
		return &store.AuthorizationError{Message: "CSRF token missing or invalid"}
	}
	return nil
}
