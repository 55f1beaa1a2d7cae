// Package entry defines the rows stored by both cache tiers: the finished
// result entry and the short-lived raw gathered context that feeds it.
package entry

import "time"

// Complexity classifies how expensive the originating request was to
// compute. It scales the TTL of the resulting entry.
type Complexity string

const (
	Simple  Complexity = "simple"
	Medium  Complexity = "medium"
	Complex Complexity = "complex"
)

// ParseComplexity maps a free-form class name onto a known Complexity.
// Unknown values fall back to Medium so a misbehaving pipeline cannot
// produce entries with no TTL class.
func ParseComplexity(s string) Complexity {
	switch Complexity(s) {
	case Simple, Medium, Complex:
		return Complexity(s)
	default:
		return Medium
	}
}

// Metadata carries free-form attributes of an entry: the originating
// complexity class, the categories the detector assigned, and how long the
// original computation took.
type Metadata struct {
	Complexity Complexity `json:"complexity"`
	Categories []string   `json:"categories,omitempty"`
	ComputeMS  int64      `json:"compute_ms"`
}

// Entry is one row of the result cache. The same struct is held in the
// memory tier and persisted in the durable tier.
type Entry struct {
	// Key is the deterministic hash of the request's semantic inputs.
	Key string

	// OriginalInput is the verbatim request text, kept for diagnostics and
	// substring invalidation.
	OriginalInput string

	// ProducedResult is the cached artifact.
	ProducedResult string

	// ContextSnapshot is the canonical serialization of the context the key
	// was derived from, kept for debugging.
	ContextSnapshot string

	CreatedAt time.Time
	TTL       time.Duration
	ExpiresAt time.Time

	// HitCount orders entries for eviction; lower counts go first.
	HitCount int64

	// QualityScore is the pipeline's estimate of the result, retained for
	// future admission policies.
	QualityScore float64

	// SizeEstimate is the result size in bytes, used for reporting.
	SizeEstimate int64

	Metadata Metadata
}

// New builds an Entry whose ExpiresAt is derived from createdAt and ttl,
// keeping the two fields consistent by construction.
func New(key, input, result, snapshot string, createdAt time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Key:             key,
		OriginalInput:   input,
		ProducedResult:  result,
		ContextSnapshot: snapshot,
		CreatedAt:       createdAt,
		TTL:             ttl,
		ExpiresAt:       createdAt.Add(ttl),
		SizeEstimate:    int64(len(result)),
	}
}

// Expired reports whether the entry should be treated as absent at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// RawContext is one row of the raw-context cache. It holds unprocessed
// gathered inputs only, never a finished result, so its short TTL can leak
// stale inputs but not stale answers.
type RawContext struct {
	// ID is the order-independent hash of ProjectSignature and Frameworks.
	ID string

	// ProjectSignature identifies the project the context was gathered for.
	ProjectSignature string

	// Frameworks is the set of detected framework identifiers.
	Frameworks []string

	GatheredFacts    string
	GatheredDocs     string
	GatheredSnippets string

	CreatedAt time.Time
	ExpiresAt time.Time

	AccessCount  int64
	LastAccessed time.Time
}

// Expired reports whether the raw context should be treated as absent at now.
func (r *RawContext) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
