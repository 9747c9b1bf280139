package trust

import (
	"context"
	"time"
)

// Store describes persistence operations required by the trust subsystem.
// Mutations are transactional: existence check, uniqueness check and write
// are atomic with respect to other writers.
type Store interface {
	TrustLevels(ctx context.Context) TrustLevelStore
	Relationships(ctx context.Context) RelationshipStore
	Groups(ctx context.Context) GroupStore
	Memberships(ctx context.Context) MembershipStore
	Policies(ctx context.Context) PolicyStore
}

// TrustLevelUpdate carries an administrative correction. Numerical value
// changes are refused while active relationships reference the level.
type TrustLevelUpdate struct {
	Description    *string
	NumericalValue *int
	IsActive       *bool
}

// TrustLevelStore manages the trust tier catalog.
type TrustLevelStore interface {
	// Ensure creates the given levels if absent; existing levels are left
	// untouched. Used by setup and seed routines.
	Ensure(ctx context.Context, levels []TrustLevel) error
	FindByName(ctx context.Context, name string) (*TrustLevel, error)
	SystemDefault(ctx context.Context) (*TrustLevel, error)
	List(ctx context.Context) ([]*TrustLevel, error)
	Update(ctx context.Context, name string, upd TrustLevelUpdate) (*TrustLevel, error)
}

// RelationshipStore manages directed trust edges.
type RelationshipStore interface {
	// Create persists a new relationship. Returns ErrAlreadyExists when a
	// pending or active relationship for the same ordered pair exists;
	// exactly one of N concurrent creators succeeds.
	Create(ctx context.Context, rel *TrustRelationship) error
	Find(ctx context.Context, id string) (*TrustRelationship, error)
	// FindCurrentPair returns the non-terminal relationship for the ordered
	// (source, target) pair, or ErrNotFound.
	FindCurrentPair(ctx context.Context, sourceOrg, targetOrg string) (*TrustRelationship, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*TrustRelationship, error)
	// Approve records an endpoint approval and activates the relationship
	// once required approvals are present. Returns ErrAlreadyApproved when
	// the endpoint approved before; the pending→active transition happens
	// effectively once under concurrent approvals.
	Approve(ctx context.Context, id, approvingOrg string) (*TrustRelationship, error)
	// Revoke marks the relationship revoked. Terminal states are rejected
	// with ErrTerminalStatus.
	Revoke(ctx context.Context, id, revokingOrg, reason string) (*TrustRelationship, error)
	// ExpireDue transitions active relationships whose validity window has
	// passed; returns the number expired.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// GroupStore manages trust groups.
type GroupStore interface {
	// Create persists a group. Name collisions return ErrAlreadyExists.
	Create(ctx context.Context, group *TrustGroup) error
	Find(ctx context.Context, id string) (*TrustGroup, error)
	FindByName(ctx context.Context, name string) (*TrustGroup, error)
	List(ctx context.Context) ([]*TrustGroup, error)
}

// MembershipStore manages group memberships.
type MembershipStore interface {
	// Join persists a membership. Returns ErrAlreadyExists when the
	// organization already holds an active membership in the group.
	Join(ctx context.Context, m *TrustGroupMembership) error
	Find(ctx context.Context, groupID, orgID string) (*TrustGroupMembership, error)
	ListByGroup(ctx context.Context, groupID string) ([]*TrustGroupMembership, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*TrustGroupMembership, error)
	// Leave deactivates the membership. Returns ErrLastAdministrator when
	// the organization is the sole remaining administrator; the check is
	// serialized against concurrent departures.
	Leave(ctx context.Context, groupID, orgID string) error
	// Promote changes the membership role, used to hand off administration
	// before leaving.
	Promote(ctx context.Context, groupID, orgID string, role MembershipType) error
}

// PolicyStore manages sharing policies.
type PolicyStore interface {
	Create(ctx context.Context, p *SharingPolicy) error
	FindByName(ctx context.Context, name string) (*SharingPolicy, error)
	List(ctx context.Context) ([]*SharingPolicy, error)
}
