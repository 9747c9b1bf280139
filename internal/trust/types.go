package trust

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("trust: not found")
	ErrAlreadyExists     = errors.New("trust: already exists")
	ErrInvalidInput      = errors.New("trust: invalid input")
	ErrSelfRelationship  = errors.New("trust: source and target organization must differ")
	ErrTerminalStatus    = errors.New("trust: relationship is in a terminal status")
	ErrAlreadyApproved   = errors.New("trust: endpoint already approved")
	ErrLastAdministrator = errors.New("trust: cannot leave as the last administrator")
	ErrLevelReferenced   = errors.New("trust: trust level is referenced by active relationships")
)

// AnonymizationLevel expresses how much of a shared object is obscured,
// ordered from most obscured (full) to least (none).
type AnonymizationLevel string

const (
	AnonymizationFull    AnonymizationLevel = "full"
	AnonymizationPartial AnonymizationLevel = "partial"
	AnonymizationMinimal AnonymizationLevel = "minimal"
	AnonymizationNone    AnonymizationLevel = "none"
)

// anonymization rank grows with obscurity: none=0 .. full=3.
var anonymizationRank = map[AnonymizationLevel]int{
	AnonymizationNone:    0,
	AnonymizationMinimal: 1,
	AnonymizationPartial: 2,
	AnonymizationFull:    3,
}

func (l AnonymizationLevel) IsValid() bool {
	_, ok := anonymizationRank[l]
	return ok
}

// Rank returns the obscurity rank (none=0 .. full=3), -1 for unknown levels.
func (l AnonymizationLevel) Rank() int {
	if r, ok := anonymizationRank[l]; ok {
		return r
	}
	return -1
}

// AccessLevel is the operational permission tier granted under a trust
// relationship, ordered none < read < subscribe < contribute < full.
type AccessLevel string

const (
	AccessNone       AccessLevel = "none"
	AccessRead       AccessLevel = "read"
	AccessSubscribe  AccessLevel = "subscribe"
	AccessContribute AccessLevel = "contribute"
	AccessFull       AccessLevel = "full"
)

var accessRank = map[AccessLevel]int{
	AccessNone:       0,
	AccessRead:       1,
	AccessSubscribe:  2,
	AccessContribute: 3,
	AccessFull:       4,
}

func (l AccessLevel) IsValid() bool {
	_, ok := accessRank[l]
	return ok
}

// AtLeast reports whether l grants required or more.
func (l AccessLevel) AtLeast(required AccessLevel) bool {
	lr, ok1 := accessRank[l]
	rr, ok2 := accessRank[required]
	return ok1 && ok2 && lr >= rr
}

// RelationshipType classifies a trust edge.
type RelationshipType string

const (
	RelationshipBilateral    RelationshipType = "bilateral"
	RelationshipCommunity    RelationshipType = "community"
	RelationshipHierarchical RelationshipType = "hierarchical"
	RelationshipFederation   RelationshipType = "federation"
)

// AllRelationshipTypes lists the known edge kinds, for validation.
var AllRelationshipTypes = []RelationshipType{
	RelationshipBilateral, RelationshipCommunity,
	RelationshipHierarchical, RelationshipFederation,
}

func (t RelationshipType) IsValid() bool {
	for _, known := range AllRelationshipTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RelationshipStatus is the lifecycle state of a trust edge. Revoked and
// expired are terminal.
type RelationshipStatus string

const (
	StatusPending   RelationshipStatus = "pending"
	StatusActive    RelationshipStatus = "active"
	StatusSuspended RelationshipStatus = "suspended"
	StatusRevoked   RelationshipStatus = "revoked"
	StatusExpired   RelationshipStatus = "expired"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RelationshipStatus) IsTerminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// GroupType classifies a trust group.
type GroupType string

const (
	GroupCommunity  GroupType = "community"
	GroupSector     GroupType = "sector"
	GroupGeography  GroupType = "geography"
	GroupPurpose    GroupType = "purpose"
	GroupFederation GroupType = "federation"
)

var AllGroupTypes = []GroupType{
	GroupCommunity, GroupSector, GroupGeography, GroupPurpose, GroupFederation,
}

func (t GroupType) IsValid() bool {
	for _, known := range AllGroupTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MembershipType is the role an organization holds inside a group.
type MembershipType string

const (
	MemberRegular       MembershipType = "member"
	MemberAdministrator MembershipType = "administrator"
	MemberModerator     MembershipType = "moderator"
)

var AllMembershipTypes = []MembershipType{
	MemberRegular, MemberAdministrator, MemberModerator,
}

func (t MembershipType) IsValid() bool {
	for _, known := range AllMembershipTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TrustLevel is a named tier expressing how much an organization is willing
// to expose to another. Immutable once referenced by active relationships,
// except for administrative correction.
type TrustLevel struct {
	Name                      string             `json:"name"`
	Description               string             `json:"description,omitempty"`
	NumericalValue            int                `json:"numerical_value"` // 0–100
	DefaultAnonymizationLevel AnonymizationLevel `json:"default_anonymization_level"`
	DefaultAccessLevel        AccessLevel        `json:"default_access_level"`
	IsActive                  bool               `json:"is_active"`
	IsSystemDefault           bool               `json:"is_system_default"`
	CreatedAt                 time.Time          `json:"created_at"`
	UpdatedAt                 time.Time          `json:"updated_at"`
}

// TrustRelationship is a directed trust edge between two organizations.
// Unique per ordered (source, target) pair while active.
type TrustRelationship struct {
	ID                   string             `json:"id"`
	SourceOrganizationID string             `json:"source_organization_id"`
	TargetOrganizationID string             `json:"target_organization_id"`
	TrustLevel           string             `json:"trust_level"` // TrustLevel.Name
	RelationshipType     RelationshipType   `json:"relationship_type"`
	Status               RelationshipStatus `json:"status"`
	ApprovedBySource     bool               `json:"approved_by_source"`
	ApprovedByTarget     bool               `json:"approved_by_target"`
	AnonymizationLevel   AnonymizationLevel `json:"anonymization_level"`
	AccessLevel          AccessLevel        `json:"access_level"`
	IsBilateral          bool               `json:"is_bilateral"`
	CreatedBy            string             `json:"created_by,omitempty"`
	RevokedBy            string             `json:"revoked_by,omitempty"`
	RevocationReason     string             `json:"revocation_reason,omitempty"`
	ValidUntil           *time.Time         `json:"valid_until,omitempty"`
	Notes                string             `json:"notes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsExpired reports whether the relationship's validity window has passed.
func (r *TrustRelationship) IsExpired(now time.Time) bool {
	return r.ValidUntil != nil && now.After(*r.ValidUntil)
}

// TrustGroup is a named pool of organizations sharing a default trust
// posture, administered by member organizations.
type TrustGroup struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	GroupType         GroupType `json:"group_type"`
	DefaultTrustLevel string    `json:"default_trust_level"` // TrustLevel.Name
	RequiresApproval  bool      `json:"requires_approval"`
	IsActive          bool      `json:"is_active"`
	CreatedBy         string    `json:"created_by"` // founding organization
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TrustGroupMembership links an organization to a group. Unique active pair
// per (group, organization).
type TrustGroupMembership struct {
	ID             string         `json:"id"`
	GroupID        string         `json:"group_id"`
	OrganizationID string         `json:"organization_id"`
	MembershipType MembershipType `json:"membership_type"`
	InvitedBy      string         `json:"invited_by,omitempty"`
	IsActive       bool           `json:"is_active"`
	JoinedAt       time.Time      `json:"joined_at"`
	LeftAt         *time.Time     `json:"left_at,omitempty"`
}

// SharingPolicy governs what categories of intelligence a relationship may
// carry regardless of trust level.
type SharingPolicy struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	AllowedSTIXTypes []string  `json:"allowed_stix_types"`
	BlockedSTIXTypes []string  `json:"blocked_stix_types"`
	MaxTLPLevel      string    `json:"max_tlp_level"`
	MaxAgeDays       int       `json:"max_age_days"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
