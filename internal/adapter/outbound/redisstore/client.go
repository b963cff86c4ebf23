// Package redisstore implements the coordinating-store ports on Redis:
// token buckets and budget counters via Lua (single round-trip atomicity),
// pending approvals as hashes with pub/sub resolution, and RBAC role keys.
// Multiple gateway instances sharing one Redis see one consistent ledger.
package redisstore

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient dials the coordinating store from a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse coordinator url: %w", err)
	}
	return redis.NewClient(opts), nil
}
