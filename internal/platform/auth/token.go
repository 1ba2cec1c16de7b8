// Package auth supplies bearer tokens to the FHIR client and verifies them in
// the sandbox server.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenSource yields the bearer token attached to each outgoing request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a pre-issued token, typically from AUTH_TOKEN.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("static token is empty")
	}
	return string(t), nil
}

type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

type SignerConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	Subject    string
	Scope      string
	// TTL defaults to 15 minutes.
	TTL time.Duration
}

// HS256Source mints self-signed tokens and reuses each one until it is
// close to expiry.
type HS256Source struct {
	cfg SignerConfig
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

const (
	defaultTTL   = 15 * time.Minute
	refreshSkew  = 30 * time.Second
	minKeyLength = 16
)

func NewHS256Source(cfg SignerConfig) (*HS256Source, error) {
	if len(cfg.SigningKey) < minKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", minKeyLength)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &HS256Source{cfg: cfg, now: time.Now}, nil
}

func (s *HS256Source) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(refreshSkew).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   s.cfg.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scope: s.cfg.Scope,
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}

// VerifierConfig describes the tokens a server accepts. Empty Issuer or
// Audience disables that check.
type VerifierConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(tokenStr string, cfg VerifierConfig) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}
