// Package cache is the content-addressed result store. Values are
// serialized PipelineResults; keys are derived from the normalized query
// and the options that affect output.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/quorum/internal/model"
)

// Cache maps a deterministic key to a serialized pipeline result with a
// TTL. Writes are idempotent; concurrent identical writes are harmless.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Stats() model.CacheStats
}

// Key derives the cache key for a query. Only options that can change the
// result participate: timeout and skip_failed_models. enable_parallel is
// excluded because result ordering follows configured model order either
// way, and use_cache gates lookup entirely.
func Key(query string, opts model.Options) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	input := fmt.Sprintf("%s|timeout=%d|skip_failed=%t", normalized, opts.Timeout, opts.SkipFailedModels)
	hash := sha256.Sum256([]byte(input))
	return "quorum:v1:" + hex.EncodeToString(hash[:])
}
