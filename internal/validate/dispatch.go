package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trustmesh.org/internal/obs"
	"trustmesh.org/internal/trust"
)

// Operation identifies a trust-mutating request kind. The set is closed;
// unknown operations are rejected before any gate runs.
type Operation string

const (
	OpCreateRelationship     Operation = "create_relationship"
	OpApproveRelationship    Operation = "approve_relationship"
	OpRevokeRelationship     Operation = "revoke_relationship"
	OpCreateGroup            Operation = "create_group"
	OpJoinGroup              Operation = "join_group"
	OpLeaveGroup             Operation = "leave_group"
	OpIntelligenceAccess     Operation = "intelligence_access"
	OpSharingPolicy          Operation = "sharing_policy"
	OpBulkOperation          Operation = "bulk_operation"
	OpTrustEscalation        Operation = "trust_escalation"
	OpAnonymizationDowngrade Operation = "anonymization_downgrade"
)

var ErrUnknownOperation = errors.New("validate: unknown operation")

// ParseOperation maps a wire identifier onto the closed operation set.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	switch op {
	case OpCreateRelationship, OpApproveRelationship, OpRevokeRelationship,
		OpCreateGroup, OpJoinGroup, OpLeaveGroup,
		OpIntelligenceAccess, OpSharingPolicy, OpBulkOperation,
		OpTrustEscalation, OpAnonymizationDowngrade:
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// Validator composes the security gate with the business-rule validators
// behind a single entry point keyed by operation.
type Validator struct {
	security *SecurityValidator
	store    trust.Store
	svc      *trust.Service

	handlers map[Operation]func(context.Context, map[string]any) *Outcome
	// mutating marks operations whose success counts against rate limits.
	mutating map[Operation]bool
}

// NewValidator wires the dispatch table. All three collaborators are
// required; the service is the store's resolution layer, not a duplicate.
func NewValidator(security *SecurityValidator, store trust.Store, svc *trust.Service) (*Validator, error) {
	if security == nil || store == nil || svc == nil {
		return nil, errors.New("validate: security validator, store and service are required")
	}
	v := &Validator{security: security, store: store, svc: svc}
	v.handlers = map[Operation]func(context.Context, map[string]any) *Outcome{
		OpCreateRelationship:     v.validateCreateRelationship,
		OpApproveRelationship:    v.validateApproveRelationship,
		OpRevokeRelationship:     v.validateRevokeRelationship,
		OpCreateGroup:            v.validateCreateGroup,
		OpJoinGroup:              v.validateJoinGroup,
		OpLeaveGroup:             v.validateLeaveGroup,
		OpIntelligenceAccess:     v.validateIntelligenceAccess,
		OpSharingPolicy:          v.validateSharingPolicy,
		OpBulkOperation:          v.validateBulkOperation,
		OpTrustEscalation:        v.validateTrustEscalation,
		OpAnonymizationDowngrade: v.validateAnonymizationDowngrade,
	}
	v.mutating = map[Operation]bool{
		OpCreateRelationship:     true,
		OpApproveRelationship:    true,
		OpRevokeRelationship:     true,
		OpCreateGroup:            true,
		OpJoinGroup:              true,
		OpLeaveGroup:             true,
		OpSharingPolicy:          true,
		OpBulkOperation:          true,
		OpTrustEscalation:        true,
		OpAnonymizationDowngrade: true,
	}
	return v, nil
}

// Operations lists the known operation identifiers.
func (v *Validator) Operations() []Operation {
	ops := make([]Operation, 0, len(v.handlers))
	for op := range v.handlers {
		ops = append(ops, op)
	}
	return ops
}

// Validate runs the full pipeline for an operation: rate-limit gate,
// sanitization gate, advisory suspicious-pattern scan, then the
// operation's business rules. The two gates short-circuit; advisory scans
// only add warnings. A panic anywhere in the pipeline degrades to a single
// invalid outcome so one malformed payload cannot take the service down.
func (v *Validator) Validate(ctx context.Context, op Operation, data map[string]any) (out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			obs.LogEntry("error", "validation panic recovered", map[string]any{
				"operation": string(op),
				"panic":     fmt.Sprint(r),
			})
			out = NewOutcome().Fail("validation failed unexpectedly")
			obs.ObserveTrustOperation(string(op), false)
		}
	}()

	if _, ok := v.handlers[op]; !ok {
		obs.ObserveTrustOperation(string(op), false)
		return NewOutcome().Fail(fmt.Sprintf("unknown operation %q", op))
	}
	if data == nil {
		data = map[string]any{}
	}
	userID := stringField(data, "user")
	orgID := stringField(data, "organization")

	out = v.security.ValidateRateLimiting(ctx, string(op), userID, orgID, 0, 0)
	if !out.Valid {
		obs.ObserveTrustOperation(string(op), false)
		return out
	}

	sanitized := v.security.ValidateInputSanitization(data)
	out.Merge(sanitized)
	if !sanitized.Valid {
		obs.ObserveTrustOperation(string(op), false)
		return out
	}

	out.Merge(v.security.ValidateSuspiciousPatterns(ctx, userID, orgID, data))

	out.Merge(v.handlers[op](ctx, data))

	if out.Valid && v.mutating[op] {
		v.security.RecordOperation(ctx, string(op), userID, orgID)
	}
	obs.ObserveTrustOperation(string(op), out.Valid)
	return out
}

// ValidateTimestamped additionally enforces the temporal replay window on
// payloads that carry a client timestamp.
func (v *Validator) ValidateTimestamped(ctx context.Context, op Operation, data map[string]any, ts time.Time, maxAge time.Duration) *Outcome {
	temporal := v.security.ValidateTemporalSecurity(ts, maxAge)
	if !temporal.Valid {
		obs.ObserveTrustOperation(string(op), false)
		return temporal
	}
	return temporal.Merge(v.Validate(ctx, op, data))
}
