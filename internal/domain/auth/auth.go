// Package auth verifies bearer tokens and carries the caller's identity in
// the request context.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's privilege level.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// ErrUnauthorized is returned for any unusable bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Email   string
	Role    Role
}

// IsAdmin reports whether p has administrative access.
func (p *Principal) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

// CanAccess reports whether p may read data belonging to email.
func (p *Principal) CanAccess(email string) bool {
	if p == nil {
		return false
	}
	return p.IsAdmin() || strings.EqualFold(p.Email, email)
}

// Claims is the JWT body issued by the identity service.
type Claims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns a Verifier for tokens signed with secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Verify parses raw and returns the principal it names.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if claims.Email == "" {
		return nil, errors.Wrap(ErrUnauthorized, "email claim missing")
	}
	switch claims.Role {
	case RoleAdmin, RoleCustomer:
	case "":
		claims.Role = RoleCustomer
	default:
		return nil, errors.Wrapf(ErrUnauthorized, "unknown role %q", claims.Role)
	}
	return &Principal{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
	}, nil
}

// Issue signs a token for p valid for ttl. Used by tooling and tests.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: p.Email,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
