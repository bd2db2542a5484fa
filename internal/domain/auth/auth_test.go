package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier([]byte("jwt-secret"))

	token, err := v.Issue(Principal{Subject: "u1", Email: "buyer@example.com", Role: RoleCustomer}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.Subject)
	assert.Equal(t, "buyer@example.com", p.Email)
	assert.Equal(t, RoleCustomer, p.Role)
	assert.False(t, p.IsAdmin())
	assert.True(t, p.CanAccess("Buyer@Example.com"))
	assert.False(t, p.CanAccess("other@example.com"))
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier([]byte("jwt-secret"))

	expired, err := v.Issue(Principal{Email: "a@example.com", Role: RoleAdmin}, -time.Hour)
	require.NoError(t, err)

	foreign, err := NewVerifier([]byte("other")).Issue(Principal{Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Email: "a@example.com"}).
		SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Email:            "a@example.com",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	badRole, err := v.Issue(Principal{Email: "a@example.com", Role: "ROOT"}, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":        "not.a.jwt",
		"expired":        expired,
		"foreign secret": foreign,
		"no expiry":      noExp,
		"wrong alg":      hs512,
		"unknown role":   badRole,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestPrincipalContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	p := &Principal{Email: "root@example.com", Role: RoleAdmin}
	ctx := WithPrincipal(context.Background(), p)
	assert.Same(t, p, FromContext(ctx))
	assert.True(t, FromContext(ctx).CanAccess("anyone@example.com"))
}
