// Package auth validates credentials before any session operation is
// accepted. Two credential forms are recognized: a static bearer token for
// service-to-service calls (the container agent reporting turn completion),
// and signed HS256 JWTs for end users. Resource-level authorization is the
// business layer's job; the gate only answers "who is calling".
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for credential validation.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoCredential = errors.New("missing credential")
)

// PrincipalKind distinguishes user tokens from service tokens.
type PrincipalKind string

const (
	PrincipalUser    PrincipalKind = "user"
	PrincipalService PrincipalKind = "service"
)

// Principal is an authenticated caller.
type Principal struct {
	Kind    PrincipalKind
	Subject string
}

// Config holds the gate's validation material.
type Config struct {
	// SigningSecret verifies user JWTs (HS256). Required.
	SigningSecret string `json:"signing_secret"`
	// ServiceToken is the static bearer credential for service-to-service
	// calls. Required.
	ServiceToken string `json:"service_token"`
}

// DefaultConfig returns an empty Config; both secrets must come from the
// deployment environment.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.SigningSecret != "" {
		c.SigningSecret = source.SigningSecret
	}
	if source.ServiceToken != "" {
		c.ServiceToken = source.ServiceToken
	}
}

// Validate reports whether the config is usable.
func (c *Config) Validate() error {
	if c.SigningSecret == "" {
		return errors.New("auth: signing secret is required")
	}
	if c.ServiceToken == "" {
		return errors.New("auth: service token is required")
	}
	return nil
}

// Gate authenticates bearer credentials. Stateless and safe for concurrent
// use; the one structure shared across all sessions.
type Gate struct {
	signingSecret []byte
	serviceToken  string
}

// NewGate creates a Gate from configuration.
func NewGate(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		signingSecret: []byte(cfg.SigningSecret),
		serviceToken:  cfg.ServiceToken,
	}, nil
}

// Authenticate validates a bearer credential and returns the caller's
// Principal. The credential is the raw token, without the "Bearer " prefix.
// Fails with ErrUnauthorized (wrapped with the cause) for anything missing,
// malformed, expired, or signature-invalid.
func (g *Gate) Authenticate(credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrNoCredential)
	}

	if subtle.ConstantTimeCompare([]byte(credential), []byte(g.serviceToken)) == 1 {
		return Principal{Kind: PrincipalService, Subject: "service"}, nil
	}

	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return g.signingSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}

	return Principal{Kind: PrincipalUser, Subject: claims.Subject}, nil
}

// BearerFromHeader extracts the token from an Authorization header value.
// Returns "" when the header is absent or not a bearer scheme.
func BearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
