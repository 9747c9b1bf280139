// Package validate implements the trust-aware validation core: the security
// gate guarding every trust-mutating operation and the business-rule
// validators for relationship, group and access requests, composed by the
// operation dispatcher.
package validate

import "trustmesh.org/internal/trust"

// Outcome is the structured result every validator returns. Errors imply
// Valid=false; warnings are advisory and never block. Operation-specific
// extras are carried in the typed optional fields.
type Outcome struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	// Operation-specific extras.
	TrustLevel    *trust.TrustLevel        `json:"trust_level,omitempty"`
	Relationship  *trust.TrustRelationship `json:"relationship,omitempty"`
	Group         *trust.TrustGroup        `json:"group,omitempty"`
	TrustIncrease *int                     `json:"trust_increase,omitempty"`
	CurrentCount  *int64                   `json:"current_count,omitempty"`
	MaxOperations *int64                   `json:"max_operations,omitempty"`
}

// NewOutcome returns a passing outcome with no findings.
func NewOutcome() *Outcome {
	return &Outcome{Valid: true, Errors: []string{}, Warnings: []string{}}
}

// Fail records an error and marks the outcome invalid.
func (o *Outcome) Fail(msg string) *Outcome {
	o.Valid = false
	o.Errors = append(o.Errors, msg)
	return o
}

// Warn records an advisory finding.
func (o *Outcome) Warn(msg string) *Outcome {
	o.Warnings = append(o.Warnings, msg)
	return o
}

// Merge folds another outcome's findings into o. Extras on the merged
// outcome win only when o does not carry them already.
func (o *Outcome) Merge(other *Outcome) *Outcome {
	if other == nil {
		return o
	}
	if !other.Valid {
		o.Valid = false
	}
	o.Errors = append(o.Errors, other.Errors...)
	o.Warnings = append(o.Warnings, other.Warnings...)
	if o.TrustLevel == nil {
		o.TrustLevel = other.TrustLevel
	}
	if o.Relationship == nil {
		o.Relationship = other.Relationship
	}
	if o.Group == nil {
		o.Group = other.Group
	}
	if o.TrustIncrease == nil {
		o.TrustIncrease = other.TrustIncrease
	}
	if o.CurrentCount == nil {
		o.CurrentCount = other.CurrentCount
	}
	if o.MaxOperations == nil {
		o.MaxOperations = other.MaxOperations
	}
	return o
}
