// Package token decodes the claims of the bearer tokens issued by the AML
// backend. Signatures are not verified here; the backend verifies every
// token it receives. Only the role and expiry claims drive console
// decisions.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gowool/aml-rbac"
)

var (
	ErrEmpty     = errors.New("token: empty")
	ErrMalformed = errors.New("token: malformed")
)

type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// NormalizedRole returns the canonical form of the role claim.
func (c *Claims) NormalizedRole() rbac.Role {
	return rbac.NormalizeRole(c.Role)
}

// User returns the username claim, falling back to the subject.
func (c *Claims) User() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// ExpiredAt reports whether the token is expired at now. A missing exp
// claim counts as expired.
func (c *Claims) ExpiredAt(now time.Time) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !c.ExpiresAt.After(now)
}

var parser = jwt.NewParser()

// Decode reads the claims of raw without verifying its signature.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrEmpty
	}

	claims := new(Claims)
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}

// Expired reports whether raw is expired at now. Tokens that cannot be
// decoded are expired.
func Expired(raw string, now time.Time) bool {
	claims, err := Decode(raw)
	if err != nil {
		return true
	}
	return claims.ExpiredAt(now)
}
