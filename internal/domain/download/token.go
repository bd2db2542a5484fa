// Package download issues and redeems signed, expiring download tokens and
// guards access to purchased files.
package download

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// DefaultTTL is the lifetime of a freshly issued token.
const DefaultTTL = time.Hour

// Token errors. All of them mean the caller is not authorized.
var (
	ErrMissingToken     = errors.New("download token is required")
	ErrMalformedToken   = errors.New("download token is malformed")
	ErrTokenExpired     = errors.New("download token has expired")
	ErrInvalidSignature = errors.New("download token signature is invalid")
)

// Claims is the verified content of a token.
type Claims struct {
	OrderID   string
	ProductID string
	ExpiresAt time.Time
}

// Codec signs and verifies tokens with HMAC-SHA256. It keeps no state beyond
// the secret, so any process sharing the secret can verify.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec returns a Codec. A zero ttl means DefaultTTL.
func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("download secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL reports how long issued tokens stay valid.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue returns an opaque, URL-safe token granting access to productID within
// orderID until now+TTL.
func (c *Codec) Issue(orderID, productID string) (string, error) {
	if orderID == "" || productID == "" {
		return "", errors.New("order and product ids are required")
	}
	expiresAt := c.now().Add(c.ttl).UnixMilli()
	sig := c.sign(orderID, productID, expiresAt)

	var e jx.Encoder
	e.ObjStart()
	writeClaims(&e, orderID, productID, expiresAt)
	e.FieldStart("signature")
	e.Str(sig)
	e.ObjEnd()

	return base64.RawURLEncoding.EncodeToString(e.Bytes()), nil
}

// Validate checks structure, then expiry, then signature, and returns the
// claims of a good token.
func (c *Codec) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, ErrMalformedToken
	}

	var (
		orderID, productID, sig string
		expiresAt               int64
		hasExpiry               bool
	)
	d := jx.DecodeBytes(raw)
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "orderId":
			orderID, err = d.Str()
		case "productId":
			productID, err = d.Str()
		case "expiresAt":
			expiresAt, err = d.Int64()
			hasExpiry = err == nil
		case "signature":
			sig, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil || orderID == "" || productID == "" || sig == "" || !hasExpiry {
		return nil, ErrMalformedToken
	}

	if c.now().UnixMilli() > expiresAt {
		return nil, ErrTokenExpired
	}

	// Signatures are lowercase hex; compare the text so a case change is an
	// altered token.
	if !hmac.Equal([]byte(sig), []byte(c.sign(orderID, productID, expiresAt))) {
		return nil, ErrInvalidSignature
	}

	return &Claims{
		OrderID:   orderID,
		ProductID: productID,
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
	}, nil
}

// sign returns the hex HMAC over the canonical claims document.
func (c *Codec) sign(orderID, productID string, expiresAt int64) string {
	var e jx.Encoder
	e.ObjStart()
	writeClaims(&e, orderID, productID, expiresAt)
	e.ObjEnd()

	mac := hmac.New(sha256.New, c.secret)
	mac.Write(e.Bytes())
	return hex.EncodeToString(mac.Sum(nil))
}

func writeClaims(e *jx.Encoder, orderID, productID string, expiresAt int64) {
	e.FieldStart("orderId")
	e.Str(orderID)
	e.FieldStart("productId")
	e.Str(productID)
	e.FieldStart("expiresAt")
	e.Int64(expiresAt)
}
