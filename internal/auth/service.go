// Package auth issues and validates operator tokens for mutating API calls.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors returned by the auth service.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrMissingClaims    = errors.New("missing required claims")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// MinSecretLength is the shortest HMAC secret accepted.
const MinSecretLength = 32

// Claims identifies the operator behind a request.
type Claims struct {
	Operator string    `json:"operator"`
	Exp      time.Time `json:"exp"`
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   []byte
	TokenExpiry time.Duration
}

// Service signs and verifies HS256 operator tokens.
type Service struct {
	jwtSecret   []byte
	tokenExpiry time.Duration
	logger      *slog.Logger
}

// NewService creates a new authentication service.
func NewService(cfg *Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jwtSecret:   cfg.JWTSecret,
		tokenExpiry: cfg.TokenExpiry,
		logger:      logger,
	}
}

// GenerateToken creates a new JWT for the given operator.
func (s *Service) GenerateToken(operator string) (string, error) {
	if operator == "" {
		return "", ErrMissingClaims
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   operator,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &rc, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if rc.Subject == "" || rc.ExpiresAt == nil {
		return nil, ErrMissingClaims
	}

	return &Claims{Operator: rc.Subject, Exp: rc.ExpiresAt.Time}, nil
}

// ExtractBearerToken extracts the token from a Bearer authorization header.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
