// Package keys derives stable cache keys from a request's semantic inputs.
// Two logically identical requests must hash to the same key regardless of
// field ordering or incidental metadata, so inputs are normalized and
// canonically serialized before hashing.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// schemaVersion is mixed into every hash. Bumping it invalidates all
// previously stored entries, which is the intended escape hatch when the
// normalization rules or the producing pipeline change semantics.
const schemaVersion = "v1"

// separator joins the hashed components. JSON output never contains a raw
// unit-separator byte, so component boundaries cannot be forged by input.
const separator = "\x1f"

// maxDepth bounds recursive serialization; anything deeper is assumed to be
// cyclic and rejected.
const maxDepth = 32

// Context is the normalized request context used for key derivation.
// Unknown attributes are carried in Attributes and canonicalized by
// recursive key sort; attributes named in the denylist are stripped, not
// hashed, so incidental metadata cannot destabilize keys.
type Context struct {
	Framework   string         `json:"framework,omitempty"`
	Language    string         `json:"language,omitempty"`
	ProjectType string         `json:"project_type,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Detection is the subset of detector output that affects the produced
// result. Diagnostic fields are deliberately absent: only the category set
// and the confidence participate in the key.
type Detection struct {
	Categories []string `json:"categories,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// DerivationError reports that an input could not be normalized into a
// stable key. Callers should bypass the cache for the request, not fail it.
type DerivationError struct {
	Field string
	Err   error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("keys: cannot derive key from %s: %v", e.Field, e.Err)
}

func (e *DerivationError) Unwrap() error { return e.Err }

// denylist holds attribute names that are stripped before hashing because
// they vary between otherwise identical requests.
var denylist = map[string]bool{
	"timestamp":  true,
	"time":       true,
	"requestid":  true,
	"request_id": true,
	"sessionid":  true,
	"session_id": true,
	"traceid":    true,
	"trace_id":   true,
	"cachekey":   true,
	"cache_key":  true,
}

// Derive produces the fixed-length cache key for a request. The original
// input is lower-cased and trimmed, the context and detection are
// canonically serialized, and the three components are hashed together with
// the schema version.
func Derive(originalInput string, ctx Context, det Detection) (string, error) {
	cs, err := canonicalContext(ctx)
	if err != nil {
		return "", &DerivationError{Field: "context", Err: err}
	}
	ds := canonicalDetection(det)

	h := sha256.New()
	h.Write([]byte(schemaVersion))
	h.Write([]byte(separator))
	h.Write([]byte(strings.ToLower(strings.TrimSpace(originalInput))))
	h.Write([]byte(separator))
	h.Write([]byte(cs))
	h.Write([]byte(separator))
	h.Write([]byte(ds))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Snapshot returns the canonical serialization of ctx, the form stored next
// to an entry for debugging. It fails for the same inputs Derive fails for.
func Snapshot(ctx Context) (string, error) {
	s, err := canonicalContext(ctx)
	if err != nil {
		return "", &DerivationError{Field: "context", Err: err}
	}
	return s, nil
}

// RawKey derives the raw-context cache key from a project signature and the
// set of active frameworks. The framework order does not matter.
func RawKey(projectSignature string, frameworks []string) string {
	sorted := append([]string(nil), frameworks...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(schemaVersion))
	h.Write([]byte(separator))
	h.Write([]byte(strings.TrimSpace(projectSignature)))
	for _, f := range sorted {
		h.Write([]byte(separator))
		h.Write([]byte(strings.ToLower(f)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalContext serializes the typed fields plus the surviving
// attributes as one sorted-key object.
func canonicalContext(ctx Context) (string, error) {
	m := map[string]any{}
	if ctx.Framework != "" {
		m["framework"] = strings.ToLower(ctx.Framework)
	}
	if ctx.Language != "" {
		m["language"] = strings.ToLower(ctx.Language)
	}
	if ctx.ProjectType != "" {
		m["project_type"] = strings.ToLower(ctx.ProjectType)
	}
	for k, v := range ctx.Attributes {
		if denylist[strings.ToLower(k)] {
			continue
		}
		m[k] = v
	}
	var b strings.Builder
	if err := writeCanonical(&b, m, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

// canonicalDetection keeps only the sorted category set and the confidence.
func canonicalDetection(det Detection) string {
	cats := append([]string(nil), det.Categories...)
	for i, c := range cats {
		cats[i] = strings.ToLower(c)
	}
	sort.Strings(cats)
	return fmt.Sprintf("[%s]:%.4f", strings.Join(cats, ","), det.Confidence)
}
