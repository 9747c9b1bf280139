// Package anonymize transforms STIX objects before they leave the trust
// boundary. Strategies are looked up by name; the trust service decides
// which strategy applies for a given source/requester pair.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"trustmesh.org/internal/stix"
)

// Strategy transforms a STIX object according to an anonymization posture.
// trustValue is the resolved numerical trust (0–100) between the source and
// requesting organizations; strategies may use it to tune redaction.
type Strategy interface {
	Name() string
	Anonymize(obj stix.Object, trustValue int) (stix.Object, error)
}

// Registry resolves strategies by name.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns a registry preloaded with the builtin strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range []Strategy{None{}, Minimal{}, Partial{}, Full{}} {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get returns the named strategy. Unknown names fall back to full
// anonymization: failing open here would leak data.
func (r *Registry) Get(name string) Strategy {
	if s, ok := r.strategies[name]; ok {
		return s
	}
	return Full{}
}

// None passes objects through untouched. Reserved for complete trust.
type None struct{}

func (None) Name() string { return "none" }

func (None) Anonymize(obj stix.Object, _ int) (stix.Object, error) {
	return clone(obj), nil
}

// Minimal strips direct attribution and blurs timestamps to day precision.
type Minimal struct{}

func (Minimal) Name() string { return "minimal" }

func (Minimal) Anonymize(obj stix.Object, _ int) (stix.Object, error) {
	out := clone(obj)
	delete(out, "created_by_ref")
	delete(out, "external_references")
	blurTimestamps(out)
	return out, nil
}

// Partial additionally redacts free-text descriptions and generalizes
// indicator patterns.
type Partial struct{}

func (Partial) Name() string { return "partial" }

func (Partial) Anonymize(obj stix.Object, trustValue int) (stix.Object, error) {
	out, err := Minimal{}.Anonymize(obj, trustValue)
	if err != nil {
		return nil, err
	}
	if _, ok := out["description"]; ok {
		out["description"] = "[redacted]"
	}
	if pattern, ok := out["pattern"].(string); ok {
		out["pattern"] = generalizePattern(pattern)
	}
	return out, nil
}

// Full applies partial anonymization, hashes identifying names, drops
// custom (x_-prefixed) properties and floors confidence.
type Full struct{}

func (Full) Name() string { return "full" }

func (Full) Anonymize(obj stix.Object, trustValue int) (stix.Object, error) {
	out, err := Partial{}.Anonymize(obj, trustValue)
	if err != nil {
		return nil, err
	}
	if name, ok := out["name"].(string); ok && name != "" {
		out["name"] = hashLabel(name)
	}
	for k := range out {
		if strings.HasPrefix(k, "x_") {
			delete(out, k)
		}
	}
	if _, ok := out["confidence"]; ok {
		out["confidence"] = 0
	}
	delete(out, "labels")
	return out, nil
}

func clone(obj stix.Object) stix.Object {
	out := make(stix.Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// blurTimestamps truncates RFC 3339 timestamp fields to day precision so
// that exact observation times cannot be correlated across recipients.
func blurTimestamps(obj stix.Object) {
	for _, field := range []string{"created", "modified", "valid_from", "valid_until", "first_seen", "last_seen"} {
		raw, ok := obj[field].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		obj[field] = ts.UTC().Truncate(24 * time.Hour).Format(time.RFC3339)
	}
}

// generalizePattern keeps the observable path of a STIX pattern but drops
// the concrete matched value.
func generalizePattern(pattern string) string {
	if idx := strings.Index(pattern, "="); idx > 0 {
		return strings.TrimSpace(pattern[:idx]) + " = '[generalized]'" + trailingBracket(pattern)
	}
	return "[generalized]"
}

func trailingBracket(pattern string) string {
	if strings.HasSuffix(strings.TrimSpace(pattern), "]") {
		return "]"
	}
	return ""
}

func hashLabel(v string) string {
	sum := sha256.Sum256([]byte(v))
	return fmt.Sprintf("anon--%s", hex.EncodeToString(sum[:8]))
}
