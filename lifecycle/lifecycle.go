// Package lifecycle maps a request's complexity class onto the TTL of the
// resulting cache entry. Complex results are kept longer because they cost
// more to recompute and their inputs drift more slowly.
package lifecycle

import (
	"time"

	"github.com/promptpipe/enhancecache/entry"
)

// Default policy values.
const (
	DefaultTTL    = 24 * time.Hour
	DefaultMaxAge = 7 * 24 * time.Hour
)

// multipliers scales the default TTL per complexity class.
var multipliers = map[entry.Complexity]float64{
	entry.Simple:  0.5,
	entry.Medium:  1.0,
	entry.Complex: 2.0,
}

// Policy computes entry TTLs. The zero value is not usable; construct with
// NewPolicy.
type Policy struct {
	defaultTTL time.Duration
	maxAge     time.Duration
}

// NewPolicy creates a Policy. Non-positive arguments fall back to the
// package defaults.
func NewPolicy(defaultTTL, maxAge time.Duration) Policy {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return Policy{defaultTTL: defaultTTL, maxAge: maxAge}
}

// TTLFor returns the TTL for a complexity class, capped at the policy's
// maximum age. Unknown classes are treated as medium.
func (p Policy) TTLFor(class entry.Complexity) time.Duration {
	mult, ok := multipliers[class]
	if !ok {
		mult = multipliers[entry.Medium]
	}
	ttl := time.Duration(float64(p.defaultTTL) * mult)
	if ttl > p.maxAge {
		ttl = p.maxAge
	}
	return ttl
}
