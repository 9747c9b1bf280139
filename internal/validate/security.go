package validate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"trustmesh.org/internal/cache"
	"trustmesh.org/internal/obs"
	"trustmesh.org/internal/trust"
)

const (
	secretEnvVariable = "TRUSTMESH_TRUST_SECRET"
	// insecureDefaultSecret keeps dev setups working; production must set
	// TRUSTMESH_TRUST_SECRET. Flagged as a configuration risk, not a defect.
	insecureDefaultSecret = "trustmesh-insecure-default"

	defaultRateWindow   = time.Hour
	defaultMaxOps       = 10
	orgLimitMultiplier  = 5
	warnThresholdRatio  = 0.8
	maxStringLength     = 10000
	warnStringLength    = 5000
	maxFutureSkew       = 60 * time.Second
	warnFutureSkew      = 30 * time.Second
	escalationFreeDelta = 25
	minJustificationLen = 50
	suspiciousOpsPerHr  = 10
	bulkHardLimit       = 100
	bulkWarnLimit       = 50
	anonymizationFloor  = 75
)

// suspiciousKeywords invalidate an escalation justification.
var suspiciousKeywords = []string{"hack", "attack", "test", "pentest", "exploit", "breach"}

type injectionPattern struct {
	category string
	message  string
	re       *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{
		category: "sql_injection",
		message:  "potential SQL injection pattern",
		re:       regexp.MustCompile(`(?i)(union\s+select|drop\s+table|insert\s+into|delete\s+from|truncate\s+table|';|--|/\*)`),
	},
	{
		category: "xss",
		message:  "potential script injection pattern",
		re:       regexp.MustCompile(`(?i)(<\s*script|<\s*/\s*script|javascript:|onerror\s*=|onload\s*=|<\s*iframe)`),
	},
	{
		category: "command_injection",
		message:  "potential command injection pattern",
		re:       regexp.MustCompile("(?i)(;\\s*rm\\s|\\brm\\s+-rf\\b|\\$\\(|`|\\|\\s*sh\\b|&&\\s*\\w|\\beval\\s*\\(|\\bexec\\s*\\()"),
	},
	{
		category: "template_injection",
		message:  "potential template injection pattern",
		re:       regexp.MustCompile(`(\{\{.*\}\}|\$\{.*\})`),
	},
	{
		category: "ldap_injection",
		message:  "potential LDAP injection pattern",
		re:       regexp.MustCompile(`(?i)ldaps?://`),
	},
}

// SecurityValidator guards trust-mutating operations independent of
// business semantics: rate limiting, input sanitization, cryptographic
// integrity, temporal replay checks and suspicious-pattern detection.
// Counters live in an injected keyed-TTL store, never in process globals.
type SecurityValidator struct {
	counters cache.Counters
	store    trust.Store
	secret   []byte
	now      func() time.Time
}

// SecurityOption configures SecurityValidator.
type SecurityOption func(*SecurityValidator)

// WithSecret overrides the HMAC secret.
func WithSecret(secret string) SecurityOption {
	return func(v *SecurityValidator) {
		if secret != "" {
			v.secret = []byte(secret)
		}
	}
}

// WithNow overrides the time source (useful for tests).
func WithNow(fn func() time.Time) SecurityOption {
	return func(v *SecurityValidator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewSecurityValidator constructs the validator. The trust store is used
// only for advisory suspicious-pattern checks and may be nil in contexts
// that never reach them.
func NewSecurityValidator(counters cache.Counters, store trust.Store, opts ...SecurityOption) *SecurityValidator {
	v := &SecurityValidator{
		counters: counters,
		store:    store,
		secret:   loadTrustSecret(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func loadTrustSecret() []byte {
	if raw := strings.TrimSpace(os.Getenv(secretEnvVariable)); raw != "" {
		return []byte(raw)
	}
	obs.LogEntry("warn", "trust secret not configured, using insecure default", nil)
	return []byte(insecureDefaultSecret)
}

func rateKey(operation, kind, id string) string {
	return fmt.Sprintf("rate:%s:%s:%s", operation, kind, id)
}

// ValidateRateLimiting checks the per-user and per-organization operation
// ceilings for the current window. The organization ceiling is a shared
// pool of 5x the user limit across that organization's users. Counter
// store faults fail open: the rate limiter favors availability (see
// DESIGN.md), unlike the fail-closed sanitizer.
func (v *SecurityValidator) ValidateRateLimiting(ctx context.Context, operation, userID, orgID string, window time.Duration, maxOps int64) *Outcome {
	out := NewOutcome()
	if window <= 0 {
		window = defaultRateWindow
	}
	if maxOps <= 0 {
		maxOps = defaultMaxOps
	}
	out.MaxOperations = &maxOps

	userCount, err := v.counters.Get(ctx, rateKey(operation, "user", userID))
	if err != nil {
		obs.LogEntry("warn", "rate limit check unavailable", map[string]any{"error": err.Error()})
		return out.Warn("rate limiting temporarily unavailable; operation allowed")
	}
	if userCount < 0 {
		// Corrupted counter; clamp rather than punish the user.
		userCount = 0
	}
	out.CurrentCount = &userCount

	if userCount >= maxOps {
		obs.ObserveRateLimitRejection()
		return out.Fail(fmt.Sprintf("rate limit exceeded: %d of %d operations used for %s", userCount, maxOps, operation))
	}
	if float64(userCount) >= warnThresholdRatio*float64(maxOps) {
		out.Warn(fmt.Sprintf("approaching rate limit: %d of %d operations used", userCount, maxOps))
	}

	if orgID != "" {
		orgLimit := orgLimitMultiplier * maxOps
		orgCount, err := v.counters.Get(ctx, rateKey(operation, "org", orgID))
		if err != nil {
			obs.LogEntry("warn", "organization rate limit check unavailable", map[string]any{"error": err.Error()})
			return out.Warn("organization rate limiting temporarily unavailable; operation allowed")
		}
		if orgCount < 0 {
			orgCount = 0
		}
		if orgCount >= orgLimit {
			obs.ObserveRateLimitRejection()
			return out.Fail(fmt.Sprintf("organization rate limit exceeded: %d of %d operations used for %s", orgCount, orgLimit, operation))
		}
		if float64(orgCount) >= warnThresholdRatio*float64(orgLimit) {
			out.Warn(fmt.Sprintf("organization approaching rate limit: %d of %d operations used", orgCount, orgLimit))
		}
	}
	return out
}

// RecordOperation increments the rate-limit counters after a successful
// operation. Side effect only: faults are logged, never surfaced.
func (v *SecurityValidator) RecordOperation(ctx context.Context, operation, userID, orgID string) {
	if userID == "" {
		return
	}
	if _, err := v.counters.Increment(ctx, rateKey(operation, "user", userID), defaultRateWindow); err != nil {
		obs.LogEntry("warn", "record operation failed", map[string]any{"key": "user", "error": err.Error()})
	}
	if orgID == "" {
		return
	}
	if _, err := v.counters.Increment(ctx, rateKey(operation, "org", orgID), defaultRateWindow); err != nil {
		obs.LogEntry("warn", "record operation failed", map[string]any{"key": "org", "error": err.Error()})
	}
}

// ValidateInputSanitization recursively walks nested maps, slices and
// strings and flags injection patterns without ever raising. NUL bytes and
// oversized strings are hard errors; everything else records a
// category-specific error plus a pattern-level warning.
func (v *SecurityValidator) ValidateInputSanitization(data any) *Outcome {
	out := NewOutcome()
	walkStrings(data, "", func(path, s string) {
		if strings.ContainsRune(s, '\x00') {
			out.Fail(fmt.Sprintf("field %s contains an embedded NUL byte", fieldLabel(path)))
			obs.ObserveSecurityViolation("nul_byte")
			return
		}
		if len(s) > maxStringLength {
			out.Fail(fmt.Sprintf("field %s exceeds the maximum length of %d characters", fieldLabel(path), maxStringLength))
			obs.ObserveSecurityViolation("oversized_input")
			return
		}
		if len(s) > warnStringLength {
			out.Warn(fmt.Sprintf("field %s is unusually long (%d characters)", fieldLabel(path), len(s)))
		}
		for _, p := range injectionPatterns {
			if match := p.re.FindString(s); match != "" {
				out.Fail(fmt.Sprintf("field %s contains a %s", fieldLabel(path), p.message))
				out.Warn(fmt.Sprintf("matched pattern %q in field %s", match, fieldLabel(path)))
				obs.ObserveSecurityViolation(p.category)
			}
		}
	})
	return out
}

func fieldLabel(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

func walkStrings(data any, path string, fn func(path, s string)) {
	switch val := data.(type) {
	case string:
		fn(path, val)
	case map[string]any:
		for k, v := range val {
			child := k
			if path != "" {
				child = path + "." + k
			}
			fn(child+"(key)", k)
			walkStrings(v, child, fn)
		}
	case []any:
		for i, item := range val {
			walkStrings(item, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	case []string:
		for i, item := range val {
			fn(fmt.Sprintf("%s[%d]", path, i), item)
		}
	}
}

// CanonicalForm renders the payload as its sorted key/value form, the
// stable representation both signer and verifier must agree on.
func CanonicalForm(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s=%v", k, data[k])
	}
	return b.String()
}

// Sign computes the hex HMAC-SHA256 of the payload's canonical form with
// the validator's secret. Exposed so callers can produce verifiable
// payloads.
func (v *SecurityValidator) Sign(data map[string]any) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(CanonicalForm(data)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateCryptographicIntegrity verifies either an HMAC-SHA256 signature
// (constant-time compare) or a plain SHA-256 digest over the payload's
// canonical form.
func (v *SecurityValidator) ValidateCryptographicIntegrity(data map[string]any, signature, expectedHash string) *Outcome {
	out := NewOutcome()
	canonical := CanonicalForm(data)

	if signature != "" {
		mac := hmac.New(sha256.New, v.secret)
		mac.Write([]byte(canonical))
		computed := mac.Sum(nil)
		supplied, err := hex.DecodeString(signature)
		if err != nil || !hmac.Equal(computed, supplied) {
			obs.ObserveSecurityViolation("integrity")
			return out.Fail("payload signature verification failed")
		}
		return out
	}
	if expectedHash != "" {
		sum := sha256.Sum256([]byte(canonical))
		if !strings.EqualFold(hex.EncodeToString(sum[:]), expectedHash) {
			obs.ObserveSecurityViolation("integrity")
			return out.Fail("payload hash verification failed")
		}
		return out
	}
	return out.Warn("no signature or hash supplied; integrity not verified")
}

// ValidateTemporalSecurity rejects replayed timestamps older than the
// window and future timestamps beyond the allowed clock skew.
func (v *SecurityValidator) ValidateTemporalSecurity(ts time.Time, maxAge time.Duration) *Outcome {
	out := NewOutcome()
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	now := v.now()

	if age := now.Sub(ts); age > 0 {
		if age > maxAge {
			obs.ObserveSecurityViolation("replay")
			return out.Fail(fmt.Sprintf("timestamp is %s old, exceeding the %s replay window", age.Round(time.Second), maxAge))
		}
		if float64(age) >= warnThresholdRatio*float64(maxAge) {
			out.Warn("timestamp is approaching the replay window")
		}
		return out
	}

	if skew := ts.Sub(now); skew > maxFutureSkew {
		obs.ObserveSecurityViolation("clock_skew")
		return out.Fail(fmt.Sprintf("timestamp is %s in the future", skew.Round(time.Second)))
	} else if skew > warnFutureSkew {
		out.Warn("timestamp is ahead of server time")
	}
	return out
}

// ValidateSuspiciousPatterns maintains an advisory rolling per-user
// counter and flags unusual requests: high operation volume, would-be
// mutual relationship pairs, and requests for the highest trust tiers.
// Never hard-fails; counter faults are swallowed.
func (v *SecurityValidator) ValidateSuspiciousPatterns(ctx context.Context, userID, orgID string, opData map[string]any) *Outcome {
	out := NewOutcome()

	if userID != "" {
		count, err := v.counters.Increment(ctx, "suspect:user:"+userID, defaultRateWindow)
		if err != nil {
			obs.LogEntry("warn", "suspicious pattern counter unavailable", map[string]any{"error": err.Error()})
		} else if count > suspiciousOpsPerHr {
			out.Warn(fmt.Sprintf("unusually high operation volume: %d operations in the last hour", count))
		}
	}

	if opData == nil {
		return out
	}

	source, _ := opData["source_org"].(string)
	target, _ := opData["target_org"].(string)
	if source != "" && target != "" && v.store != nil {
		if _, err := v.store.Relationships(ctx).FindCurrentPair(ctx, target, source); err == nil {
			out.Warn("a reverse relationship already exists; this would create a mutual trust pair")
		}
	}

	if lvl, _ := opData["trust_level_name"].(string); lvl != "" {
		lower := strings.ToLower(lvl)
		if strings.Contains(lower, "high") || strings.Contains(lower, "complete") {
			out.Warn(fmt.Sprintf("elevated trust level %q requested", lvl))
		}
	}
	return out
}

// ValidateTrustEscalation gates trust increases. A jump of more than 25
// numerical points requires a clean justification of at least 50
// characters; escalation to the complete tier without a "security review"
// reference is advisory.
func (v *SecurityValidator) ValidateTrustEscalation(current, next *trust.TrustLevel, justification string) *Outcome {
	out := NewOutcome()
	if current == nil || next == nil {
		return out.Fail("both current and new trust levels are required")
	}
	increase := next.NumericalValue - current.NumericalValue
	out.TrustIncrease = &increase
	if increase <= escalationFreeDelta {
		return out
	}

	justification = strings.TrimSpace(justification)
	if len(justification) < minJustificationLen {
		obs.ObserveSecurityViolation("trust_escalation")
		return out.Fail(fmt.Sprintf("a trust increase of %d points requires a justification of at least %d characters", increase, minJustificationLen))
	}
	lower := strings.ToLower(justification)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			obs.ObserveSecurityViolation("trust_escalation")
			return out.Fail(fmt.Sprintf("justification contains the disallowed keyword %q", kw))
		}
	}
	if next.NumericalValue >= 100 && !strings.Contains(lower, "security review") {
		out.Warn("escalation to complete trust without a documented security review")
	}
	out.Warn(fmt.Sprintf("large trust escalation of %d points approved with justification", increase))
	return out
}

// ValidateAnonymizationDowngrade gates reductions in obscurity. A
// downgrade to no anonymization requires a trust level of at least 75; a
// downgrade of more than one step is advisory.
func (v *SecurityValidator) ValidateAnonymizationDowngrade(current, next trust.AnonymizationLevel, lvl *trust.TrustLevel) *Outcome {
	out := NewOutcome()
	if !current.IsValid() || !next.IsValid() {
		return out.Fail("unknown anonymization level")
	}
	steps := current.Rank() - next.Rank()
	if steps <= 0 {
		return out
	}
	if next == trust.AnonymizationNone {
		if lvl == nil || lvl.NumericalValue < anonymizationFloor {
			obs.ObserveSecurityViolation("anonymization_downgrade")
			return out.Fail(fmt.Sprintf("removing anonymization requires a trust level of at least %d", anonymizationFloor))
		}
	}
	if steps > 1 {
		out.Warn(fmt.Sprintf("anonymization downgraded by %d steps (%s to %s)", steps, current, next))
	}
	return out
}

// ValidateBulkOperations bounds batch sizes.
func (v *SecurityValidator) ValidateBulkOperations(operationCount int, userID string) *Outcome {
	out := NewOutcome()
	if operationCount > bulkHardLimit {
		return out.Fail(fmt.Sprintf("bulk operation of %d exceeds the maximum of %d", operationCount, bulkHardLimit))
	}
	if operationCount > bulkWarnLimit {
		out.Warn(fmt.Sprintf("large bulk operation of %d requested", operationCount))
	}
	return out
}
