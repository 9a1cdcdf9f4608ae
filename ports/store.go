package ports

import (
	"context"
	"time"
)

// Store is a namespaced string key-value store. Get returns core.ErrKeyNotFound on a miss.
// A zero ttl means no expiry.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
}

// Sealer protects key material at rest.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}
