// Package auth implements the session token capability used by the HTTP
// surface and the websocket handshake. Tokens are stateless HMAC JWTs; the
// identity provider that issues long-lived credentials sits outside this
// system.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken means the token failed signature or shape checks.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrExpiredToken means the token is past its expiry.
	ErrExpiredToken = errors.New("expired session token")

	// ErrMissingToken means the request carried no token at all.
	ErrMissingToken = errors.New("missing session token")
)

// Claims are the session token contents.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Config contains session token configuration.
type Config struct {
	// Secret signs and verifies tokens. Required.
	Secret string

	// TokenTTL is the token lifetime (default: 24h).
	TokenTTL time.Duration

	// Issuer names this deployment in the iss claim (default: untxt).
	Issuer string
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.Issuer == "" {
		c.Issuer = "untxt"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	return nil
}

// Service issues and validates session tokens.
type Service struct {
	config Config
}

// New creates the token service.
func New(config Config) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Service{config: config}, nil
}

// IssueToken mints a session token for the user.
func (s *Service) IssueToken(userID, username string) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a session token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest extracts and validates the session token from a request. The
// Authorization bearer header wins; the token query parameter exists for
// the websocket handshake, where browsers cannot set headers.
func (s *Service) FromRequest(r *http.Request) (*Claims, error) {
	token := ""
	if header := r.Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return nil, fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
		}
	} else if q := r.URL.Query().Get("token"); q != "" {
		token = q
	}

	if token == "" {
		return nil, ErrMissingToken
	}
	return s.ValidateToken(token)
}
