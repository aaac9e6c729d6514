// Package auth provides optional connection-level authentication for the
// datapath servicer. A client presents a bearer token in its stream metadata;
// an Authorizer decides whether the connection may proceed to admission.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is wrapped by every rejection so callers can map it to an
// unauthenticated status without inspecting message text.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer validates the bearer token presented in connection metadata.
type Authorizer interface {
	CheckConnect(ctx context.Context, token string) error
}

// StaticConfig controls validation of HMAC-signed JWT connection tokens
// against a statically shared secret (no discovery).
type StaticConfig struct {
	// Secret is the HS256 signing secret shared with token issuers.
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Audience, when set, must match one of the token's aud values.
	Audience string
	// Leeway tolerates clock skew on time-based claims. Defaults to 60s.
	Leeway time.Duration
}

type staticAuthorizer struct {
	cfg StaticConfig
}

// NewStatic constructs an Authorizer that validates HS256 JWTs with a shared
// secret. Expiration is required on every token.
func NewStatic(cfg StaticConfig) (Authorizer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	return &staticAuthorizer{cfg: cfg}, nil
}

func (a *staticAuthorizer) CheckConnect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	if _, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	}); err != nil {
		return fmt.Errorf("%w: token verify failed: %v", ErrUnauthorized, err)
	}
	return nil
}

var _ Authorizer = (*staticAuthorizer)(nil)
