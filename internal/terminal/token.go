package terminal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AccessClaims bind a viewer token to one terminal session
type AccessClaims struct {
	SessionID string `json:"sid"`
	Host      string `json:"host"`
	Kind      Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies viewer access tokens
type TokenIssuer struct {
	secretKey []byte
	ttl       time.Duration
}

// NewTokenIssuer creates an issuer. An empty secret is replaced by a random
// per-process key, so tokens do not survive a restart. A ttl of zero issues
// tokens without an expiry; they stop working when their session closes.
func NewTokenIssuer(secretKey string, ttl time.Duration) (*TokenIssuer, error) {
	key := []byte(secretKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token key: %w", err)
		}
		log.Warn().Msg("No JWT secret configured, using a random per-process key")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &TokenIssuer{secretKey: key, ttl: ttl}, nil
}

// Issue creates a token for the session
func (ti *TokenIssuer) Issue(sessionID, host string, kind Kind) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		SessionID: sessionID,
		Host:      host,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ti.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ti.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secretKey)
}

// Verify checks the signature, any expiry and that the token was issued for
// sessionID
func (ti *TokenIssuer) Verify(tokenString, sessionID string) (*AccessClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.SessionID != sessionID {
		return nil, ErrTokenMismatch
	}

	return claims, nil
}

// GenerateSecureSessionID returns 256 random bits encoded for use in a URL
func GenerateSecureSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
