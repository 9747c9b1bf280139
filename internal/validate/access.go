package validate

import (
	"context"
	"errors"
	"fmt"

	"trustmesh.org/internal/stix"
	"trustmesh.org/internal/trust"
)

const maxPolicyAgeDays = 3650

// validateIntelligenceAccess checks whether the requesting organization
// may read the owner's intelligence at the required access tier, and
// applies the active sharing policy's category constraints when one is
// named.
func (v *Validator) validateIntelligenceAccess(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	requester := stringField(data, "organization")
	owner := stringField(data, "owner_org")
	if !requireUUID(out, "requesting organization", requester) || !requireUUID(out, "owning organization", owner) {
		return out
	}

	required := trust.AccessLevel(stringField(data, "required_access"))
	if required == "" {
		required = trust.AccessRead
	}
	if !required.IsValid() {
		return out.Fail(fmt.Sprintf("unknown access level %q", required))
	}

	allowed, err := v.svc.CanAccessIntelligence(ctx, requester, owner, required)
	if err != nil {
		return out.Fail("trust resolution failed")
	}
	if !allowed {
		out.Fail(fmt.Sprintf("requesting organization does not hold %s access to this intelligence", required))
	}

	if objType := stringField(data, "stix_type"); objType != "" {
		if !stix.IsKnownType(objType) {
			out.Warn(fmt.Sprintf("unrecognized object type %q", objType))
		}
		if policyName := stringField(data, "policy"); policyName != "" {
			v.applySharingPolicy(ctx, out, policyName, objType, stringField(data, "tlp"))
		}
	}
	return out
}

func (v *Validator) applySharingPolicy(ctx context.Context, out *Outcome, policyName, objType, tlp string) {
	policy, err := v.store.Policies(ctx).FindByName(ctx, policyName)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			out.Fail(fmt.Sprintf("unknown sharing policy %q", policyName))
			return
		}
		out.Fail("sharing policy lookup failed")
		return
	}
	if !policy.IsActive {
		out.Fail(fmt.Sprintf("sharing policy %q is not active", policyName))
		return
	}
	for _, blocked := range policy.BlockedSTIXTypes {
		if blocked == objType {
			out.Fail(fmt.Sprintf("object type %q is blocked by policy %q", objType, policyName))
			return
		}
	}
	if len(policy.AllowedSTIXTypes) > 0 {
		found := false
		for _, allowed := range policy.AllowedSTIXTypes {
			if allowed == objType {
				found = true
				break
			}
		}
		if !found {
			out.Fail(fmt.Sprintf("object type %q is not allowed by policy %q", objType, policyName))
		}
	}
	if tlp != "" && policy.MaxTLPLevel != "" {
		level := stix.TLPLevel(tlp)
		ceiling := stix.TLPLevel(policy.MaxTLPLevel)
		if !level.IsValid() {
			out.Fail(fmt.Sprintf("unknown TLP marking %q", tlp))
		} else if ceiling.IsValid() && !level.AtMost(ceiling) {
			out.Fail(fmt.Sprintf("TLP marking %q exceeds the policy ceiling %q", tlp, policy.MaxTLPLevel))
		}
	}
}

// validateSharingPolicy checks a new sharing policy definition: disjoint
// allow and block sets, known object types, a valid TLP ceiling and a sane
// age bound.
func (v *Validator) validateSharingPolicy(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	name := stringField(data, "name")
	if name == "" {
		out.Fail("policy name is required")
	} else if _, err := v.store.Policies(ctx).FindByName(ctx, name); err == nil {
		out.Fail(fmt.Sprintf("a policy named %q already exists", name))
	}

	allowed := stringSlice(data["allowed_stix_types"])
	blocked := stringSlice(data["blocked_stix_types"])
	blockedSet := make(map[string]struct{}, len(blocked))
	for _, t := range blocked {
		blockedSet[t] = struct{}{}
		if !stix.IsKnownType(t) {
			out.Warn(fmt.Sprintf("blocked type %q is not a recognized object type", t))
		}
	}
	for _, t := range allowed {
		if !stix.IsKnownType(t) {
			out.Warn(fmt.Sprintf("allowed type %q is not a recognized object type", t))
		}
		if _, clash := blockedSet[t]; clash {
			out.Fail(fmt.Sprintf("type %q appears in both the allowed and blocked sets", t))
		}
	}

	if tlp := stringField(data, "max_tlp_level"); tlp != "" && !stix.TLPLevel(tlp).IsValid() {
		out.Fail(fmt.Sprintf("unknown TLP marking %q", tlp))
	}

	if raw, ok := data["max_age_days"]; ok {
		days, ok := numberField(raw)
		switch {
		case !ok:
			out.Fail("max age must be a number of days")
		case days < 0:
			out.Fail("max age cannot be negative")
		case days > maxPolicyAgeDays:
			out.Warn(fmt.Sprintf("max age of %d days is unusually long", days))
		}
	}
	return out
}

// validateTrustEscalation resolves both trust levels and defers to the
// security gate's escalation rules.
func (v *Validator) validateTrustEscalation(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()
	levels := v.store.TrustLevels(ctx)

	current, err := levels.FindByName(ctx, stringField(data, "current_level"))
	if err != nil {
		return out.Fail("unknown current trust level")
	}
	next, err := levels.FindByName(ctx, stringField(data, "new_level"))
	if err != nil {
		return out.Fail("unknown new trust level")
	}
	out.TrustLevel = next
	return out.Merge(v.security.ValidateTrustEscalation(current, next, stringField(data, "justification")))
}

// validateAnonymizationDowngrade resolves the relationship's trust level
// and defers to the security gate's downgrade rules.
func (v *Validator) validateAnonymizationDowngrade(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	current := trust.AnonymizationLevel(stringField(data, "current_anonymization"))
	next := trust.AnonymizationLevel(stringField(data, "new_anonymization"))

	var lvl *trust.TrustLevel
	if name := stringField(data, "trust_level_name"); name != "" {
		found, err := v.store.TrustLevels(ctx).FindByName(ctx, name)
		if err != nil {
			return out.Fail("unknown trust level")
		}
		lvl = found
		out.TrustLevel = found
	}
	return out.Merge(v.security.ValidateAnonymizationDowngrade(current, next, lvl))
}

// validateBulkOperation bounds batch mutation requests.
func (v *Validator) validateBulkOperation(_ context.Context, data map[string]any) *Outcome {
	out := NewOutcome()
	raw, ok := data["operation_count"]
	if !ok {
		return out.Fail("operation count is required")
	}
	count, ok := numberField(raw)
	if !ok || count < 0 {
		return out.Fail("operation count must be a non-negative number")
	}
	return out.Merge(v.security.ValidateBulkOperations(count, stringField(data, "user")))
}

func stringSlice(raw any) []string {
	switch val := raw.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// numberField accepts the numeric shapes JSON decoding produces.
func numberField(raw any) (int, bool) {
	switch val := raw.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	}
	return 0, false
}
