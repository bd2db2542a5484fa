// Package license issues anti-piracy license keys for purchased products.
package license

import (
	"crypto/rand"
	"encoding/base32"
	"io"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	keyBytes    = 20 // 160 bits of entropy
	groupSize   = 4
	maxAttempts = 8
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrExhausted is returned when every attempt produced a key that was
// possibly issued before.
var ErrExhausted = errors.New("license key generation exhausted")

// Generator produces random license keys. Keys issued by this process are
// tracked in a bloom filter so a repeat is regenerated before it reaches the
// unique index in the order store. A false positive only costs another draw.
//
// The filter covers a sliding window of recent keys: once capacity keys have
// been added it is cleared and starts over. The unique index stays the
// authority on collisions with older keys.
type Generator struct {
	rand io.Reader

	mu       sync.Mutex
	issued   *bloom.BloomFilter
	added    uint
	capacity uint
}

// NewGenerator sizes the issued-key filter for capacity keys at a 0.1% false
// positive rate.
func NewGenerator(capacity uint) *Generator {
	capacity = max(capacity, 1)
	return &Generator{
		rand:     rand.Reader,
		issued:   bloom.NewWithEstimates(capacity, 0.001),
		capacity: capacity,
	}
}

// Generate returns a fresh key formatted as dash-separated groups of four
// base32 characters. It is safe for concurrent use.
func (g *Generator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.added >= g.capacity {
		g.issued.ClearAll()
		g.added = 0
	}

	buf := make([]byte, keyBytes)
	for range maxAttempts {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", errors.Wrap(err, "read random bytes")
		}
		key := format(encoding.EncodeToString(buf))
		if g.issued.TestOrAddString(key) {
			continue
		}
		g.added++
		return key, nil
	}
	return "", ErrExhausted
}

func format(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + len(raw)/groupSize)
	for i := 0; i < len(raw); i += groupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+groupSize, len(raw))
		b.WriteString(raw[i:end])
	}
	return b.String()
}
