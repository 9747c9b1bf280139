package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustmesh.org/internal/ids"
	"trustmesh.org/internal/trust"
)

const (
	communityTrustCeiling  = 75
	hierarchyTrustCeiling  = 50
	maxNotesLength         = 1000
	maxRevocationReasonLen = 500
)

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func requireUUID(out *Outcome, label, value string) bool {
	if value == "" {
		out.Fail(fmt.Sprintf("%s is required", label))
		return false
	}
	if _, err := uuid.Parse(value); err != nil {
		out.Fail(fmt.Sprintf("%s is not a valid identifier", label))
		return false
	}
	return true
}

// requireRecordID validates relationship/group identifiers. The stores
// assign ULIDs; UUIDs are accepted for records imported from elsewhere.
func requireRecordID(out *Outcome, label, value string) bool {
	if value == "" {
		out.Fail(fmt.Sprintf("%s is required", label))
		return false
	}
	if ids.Valid(value) {
		return true
	}
	if _, err := uuid.Parse(value); err != nil {
		out.Fail(fmt.Sprintf("%s is not a valid identifier", label))
		return false
	}
	return true
}

// validateCreateRelationship checks a new trust edge request: well-formed
// organization identifiers, a known active trust level, and type-specific
// posture constraints. Advisory findings flag trust levels that sit oddly
// with the relationship kind.
func (v *Validator) validateCreateRelationship(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	source := stringField(data, "source_org")
	target := stringField(data, "target_org")
	okSource := requireUUID(out, "source organization", source)
	okTarget := requireUUID(out, "target organization", target)
	if okSource && okTarget && source == target {
		out.Fail("source and target organization must differ")
	}

	levelName := stringField(data, "trust_level_name")
	if levelName == "" {
		out.Fail("trust level name is required")
	}

	relType := trust.RelationshipType(stringField(data, "relationship_type"))
	if relType == "" {
		relType = trust.RelationshipBilateral
	}
	if !relType.IsValid() {
		out.Fail(fmt.Sprintf("unknown relationship type %q", relType))
	}

	if notes := stringField(data, "notes"); len(notes) > maxNotesLength {
		out.Fail(fmt.Sprintf("notes exceed the maximum length of %d characters", maxNotesLength))
	}

	if raw := stringField(data, "valid_until"); raw != "" {
		switch until, err := time.Parse(time.RFC3339, raw); {
		case err != nil:
			out.Fail("valid_until must be an RFC 3339 timestamp")
		case !until.After(time.Now()):
			out.Fail("valid_until must be in the future")
		case time.Until(until) < 24*time.Hour:
			out.Warn("the relationship expires in less than 24 hours")
		}
	}

	if !out.Valid {
		return out
	}

	lvl, err := v.store.TrustLevels(ctx).FindByName(ctx, levelName)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			return out.Fail(fmt.Sprintf("unknown trust level %q", levelName))
		}
		return out.Fail("trust level lookup failed")
	}
	if !lvl.IsActive {
		out.Fail(fmt.Sprintf("trust level %q is not active", levelName))
	}
	out.TrustLevel = lvl

	switch relType {
	case trust.RelationshipCommunity:
		if lvl.NumericalValue > communityTrustCeiling {
			out.Warn(fmt.Sprintf("community relationships rarely warrant trust above %d", communityTrustCeiling))
		}
	case trust.RelationshipHierarchical:
		if lvl.NumericalValue < hierarchyTrustCeiling {
			out.Warn(fmt.Sprintf("hierarchical relationships usually carry trust of at least %d", hierarchyTrustCeiling))
		}
	}

	if existing, err := v.store.Relationships(ctx).FindCurrentPair(ctx, source, target); err == nil {
		out.Relationship = existing
		out.Fail("a pending or active relationship already exists for this pair")
	}
	return out
}

// validateApproveRelationship checks that the approving organization is an
// endpoint that has not already approved. Active relationships still take
// the second endpoint's approval for the record.
func (v *Validator) validateApproveRelationship(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	relID := stringField(data, "relationship_id")
	approver := stringField(data, "organization")
	if !requireRecordID(out, "relationship", relID) || !requireUUID(out, "approving organization", approver) {
		return out
	}

	rel, err := v.store.Relationships(ctx).Find(ctx, relID)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			return out.Fail("relationship not found")
		}
		return out.Fail("relationship lookup failed")
	}
	out.Relationship = rel

	if rel.Status.IsTerminal() {
		return out.Fail(fmt.Sprintf("relationship is %s and cannot be approved", rel.Status))
	}

	switch approver {
	case rel.SourceOrganizationID:
		if rel.ApprovedBySource {
			out.Fail("source organization already approved this relationship")
		}
	case rel.TargetOrganizationID:
		if rel.ApprovedByTarget {
			out.Fail("target organization already approved this relationship")
		}
	default:
		out.Fail("only an endpoint organization may approve a relationship")
	}
	return out
}

// validateRevokeRelationship checks that the revoking organization is an
// endpoint and the relationship has not already terminated. A missing
// reason is advisory; the break still goes through.
func (v *Validator) validateRevokeRelationship(ctx context.Context, data map[string]any) *Outcome {
	out := NewOutcome()

	relID := stringField(data, "relationship_id")
	revoker := stringField(data, "organization")
	if !requireRecordID(out, "relationship", relID) || !requireUUID(out, "revoking organization", revoker) {
		return out
	}

	reason := stringField(data, "reason")
	if reason == "" {
		out.Warn("no revocation reason given; the audit trail will not explain the break")
	} else if len(reason) > maxRevocationReasonLen {
		out.Warn(fmt.Sprintf("revocation reason is longer than %d characters", maxRevocationReasonLen))
	}

	rel, err := v.store.Relationships(ctx).Find(ctx, relID)
	if err != nil {
		if errors.Is(err, trust.ErrNotFound) {
			return out.Fail("relationship not found")
		}
		return out.Fail("relationship lookup failed")
	}
	out.Relationship = rel

	if rel.Status.IsTerminal() {
		out.Fail(fmt.Sprintf("relationship is already %s", rel.Status))
	}
	if rel.Status == trust.StatusActive {
		out.Warn("revoking an active relationship stops intelligence sharing immediately")
	}
	if revoker != rel.SourceOrganizationID && revoker != rel.TargetOrganizationID {
		out.Fail("only an endpoint organization may revoke a relationship")
	}
	return out
}
