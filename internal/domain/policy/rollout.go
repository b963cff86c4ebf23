package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Rollout describes which bundle version each tenant resolves to.
// Precedence is pin, then canary bucket, then active.
type Rollout struct {
	// Active is the version served by default.
	Active string `json:"active"`
	// Canary is the version served to the canary cohort, when set.
	Canary string `json:"canary,omitempty"`
	// CanaryPercent is the cohort size in [0,100].
	CanaryPercent int `json:"canary_percent,omitempty"`
	// Pins maps tenant to an explicitly pinned version.
	Pins map[string]string `json:"pins,omitempty"`
	// Seed keys the canary bucket hash so cohorts reshuffle per rollout.
	Seed uint64 `json:"seed,omitempty"`
}

// VersionFor resolves the version a tenant should evaluate against.
func (r Rollout) VersionFor(tenant string) string {
	if v, ok := r.Pins[tenant]; ok && v != "" {
		return v
	}
	if r.Canary != "" && r.CanaryPercent > 0 {
		if int(Bucket(r.Seed, tenant)) < r.CanaryPercent {
			return r.Canary
		}
	}
	return r.Active
}

// Bucket assigns a tenant to a stable bucket in [0,100).
// The same (seed, tenant) pair always lands in the same bucket, so a
// tenant's cohort membership does not flap between requests.
func Bucket(seed uint64, tenant string) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%d:%s", seed, tenant)) % 100
}

// VersionID derives the stable version identifier for bundle content
// registered at the given instant: a UTC timestamp plus a short content
// fingerprint, e.g. "2026-08-25_143501_9f2c".
func VersionID(raw []byte, at time.Time) string {
	first := sha256.Sum256(raw)
	second := sha256.Sum256(first[:])
	return fmt.Sprintf("%s_%s", at.UTC().Format("2006-01-02_150405"), hex.EncodeToString(second[:2]))
}
