package workload

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/pkg/config"
)

// Common errors for module token operations.
var (
	ErrInvalidToken       = errors.New("invalid module token")
	ErrExpiredToken       = errors.New("module token has expired")
	ErrTokenSigningFailed = errors.New("failed to sign module token")
)

// tokenIssuer identifies tokens minted by this daemon.
const tokenIssuer = "edged"

// TokenService issues and validates the HS256 tokens modules present
// when calling back into the daemon's APIs.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// ModuleClaims are the claims carried by a module token.
type ModuleClaims struct {
	jwt.RegisteredClaims

	// Module is the module name the token was issued to.
	Module string `json:"module"`
}

// ModuleToken is the response body for an issued token.
type ModuleToken struct {
	// Token is the signed JWT.
	Token string `json:"token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`

	// ExpiresAt is the token expiration time.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenService builds a token service. An empty secret gets a
// random process-lifetime one, which keeps token issuance working but
// means issued tokens do not survive a daemon restart.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if ttl <= 0 {
		ttl = config.DefaultTokenTTL
	}

	key := []byte(secret)
	if len(key) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
		key = []byte(hex.EncodeToString(buf))
		logger.Warn("no token secret configured, module tokens will not survive a daemon restart")
	}

	return &TokenService{secret: key, ttl: ttl}, nil
}

// Issue mints a token for the named module.
func (s *TokenService) Issue(module string) (*ModuleToken, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := &ModuleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   module,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		Module: module,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, ErrTokenSigningFailed
	}

	return &ModuleToken{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int64(s.ttl.Seconds()),
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks a token signature and expiry and returns its claims.
func (s *TokenService) Validate(tokenString string) (*ModuleClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ModuleClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ModuleClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
