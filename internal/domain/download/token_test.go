package download

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, at time.Time) *Codec {
	t.Helper()
	c, err := NewCodec([]byte("test-secret"), time.Hour)
	require.NoError(t, err)
	c.now = func() time.Time { return at }
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, now)

	token, err := c.Issue("o1", "p1")
	require.NoError(t, err)
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")

	claims, err := c.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "o1", claims.OrderID)
	assert.Equal(t, "p1", claims.ProductID)
	assert.True(t, claims.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestCodec_WireFormat(t *testing.T) {
	c := newTestCodec(t, time.UnixMilli(1_700_000_000_000))

	token, err := c.Issue("o1", "p1")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw),
		`{"orderId":"o1","productId":"p1","expiresAt":1700003600000,"signature":"`))
}

func TestCodec_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, now)
	token, err := c.Issue("o1", "p1")
	require.NoError(t, err)

	c.now = func() time.Time { return now.Add(time.Hour) }
	_, err = c.Validate(token)
	require.NoError(t, err, "valid up to and including the expiry instant")

	c.now = func() time.Time { return now.Add(time.Hour + time.Millisecond) }
	_, err = c.Validate(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestCodec_Tampering(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, now)
	token, err := c.Issue("o1", "p1")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	forged := strings.Replace(string(raw), `"productId":"p1"`, `"productId":"p2"`, 1)
	_, err = c.Validate(base64.RawURLEncoding.EncodeToString([]byte(forged)))
	require.ErrorIs(t, err, ErrInvalidSignature)

	// Same signature bytes in different hex case.
	const marker = `"signature":"`
	at := strings.Index(string(raw), marker) + len(marker)
	upper := append([]byte(nil), raw...)
	flipped := false
	for i := at; i < at+64; i++ {
		if upper[i] >= 'a' && upper[i] <= 'f' {
			upper[i] -= 'a' - 'A'
			flipped = true
			break
		}
	}
	require.True(t, flipped, "signature has no hex letters")
	_, err = c.Validate(base64.RawURLEncoding.EncodeToString(upper))
	require.ErrorIs(t, err, ErrInvalidSignature)

	other, err := NewCodec([]byte("other-secret"), time.Hour)
	require.NoError(t, err)
	other.now = c.now
	_, err = other.Validate(token)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCodec_ExpiredBeatsSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, now)
	token, err := c.Issue("o1", "p1")
	require.NoError(t, err)

	other, err := NewCodec([]byte("other-secret"), time.Hour)
	require.NoError(t, err)
	other.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = other.Validate(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestCodec_Malformed(t *testing.T) {
	c := newTestCodec(t, time.Now())

	_, err := c.Validate("")
	require.ErrorIs(t, err, ErrMissingToken)

	for _, token := range []string{
		"%%%not-base64%%%",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`["array"]`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"orderId":"o1","productId":"p1","signature":"ab"}`)),
		base64.RawURLEncoding.EncodeToString([]byte(`{"orderId":"o1","expiresAt":1,"signature":"ab"}`)),
	} {
		_, err := c.Validate(token)
		assert.ErrorIs(t, err, ErrMalformedToken, token)
	}
}

func TestNewCodec(t *testing.T) {
	_, err := NewCodec(nil, time.Hour)
	require.Error(t, err)

	c, err := NewCodec([]byte("s"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, c.TTL())
}
