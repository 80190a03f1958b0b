package cowrieprocessor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// CacheEntry is the wire shape shared by all cache tiers.
type CacheEntry struct {
	Service   Service         `json:"service"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Status    CacheStatus     `json:"status"`
	FetchedAt time.Time       `json:"fetched_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry should be treated as a miss at the
// given instant. A zero ExpiresAt means the entry never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// CacheKeyHash returns the hex SHA-256 of a cache key. The hash, not the
// key, is what the database tier indexes and the disk tier shards by, so
// arbitrarily long or hostile keys are safe.
func CacheKeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
