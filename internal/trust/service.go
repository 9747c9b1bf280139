package trust

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"trustmesh.org/internal/anonymize"
	"trustmesh.org/internal/stix"
)

// Service computes effective trust between organizations and orchestrates
// relationship and group lifecycle against the Store.
type Service struct {
	store    Store
	registry *anonymize.Registry
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRegistry overrides the anonymization strategy registry.
func WithRegistry(r *anonymize.Registry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("trust store is required")
	}
	s := &Service{
		store:    store,
		registry: anonymize.NewRegistry(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins ensures the predefined trust tier catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.TrustLevels(ctx).Ensure(ctx, BuiltinTrustLevels)
}

// ListLevels returns the trust tier catalog.
func (s *Service) ListLevels(ctx context.Context) ([]*TrustLevel, error) {
	return s.store.TrustLevels(ctx).List(ctx)
}

// Resolution is the effective trust decision for a (source, requester)
// pair: how much trust applies, what access tier it grants and how much of
// a shared object must be obscured.
type Resolution struct {
	TrustValue         int                `json:"trust_value"`
	AccessLevel        AccessLevel        `json:"access_level"`
	AnonymizationLevel AnonymizationLevel `json:"anonymization_level"`
	Via                string             `json:"via"` // "relationship", "group:<name>" or "none"
}

// NoTrust is the resolution when no path exists between two organizations.
var NoTrust = Resolution{
	TrustValue:         0,
	AccessLevel:        AccessNone,
	AnonymizationLevel: AnonymizationFull,
	Via:                "none",
}

// Resolve computes the effective trust the source organization extends to
// the requester: the active directed relationship if one exists, otherwise
// the best group co-membership. When multiple paths apply the numerically
// highest wins; ties go to the direct relationship because its levels are
// more specific.
func (s *Service) Resolve(ctx context.Context, sourceOrg, requesterOrg string) (Resolution, error) {
	if sourceOrg == requesterOrg {
		// An organization always sees its own intelligence unredacted.
		return Resolution{TrustValue: 100, AccessLevel: AccessFull, AnonymizationLevel: AnonymizationNone, Via: "self"}, nil
	}
	best := NoTrust
	now := s.now()

	rel, err := s.store.Relationships(ctx).FindCurrentPair(ctx, sourceOrg, requesterOrg)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return NoTrust, err
	}
	if err == nil && rel.Status == StatusActive && !rel.IsExpired(now) {
		lvl, err := s.store.TrustLevels(ctx).FindByName(ctx, rel.TrustLevel)
		if err != nil {
			return NoTrust, fmt.Errorf("resolve trust level %q: %w", rel.TrustLevel, err)
		}
		best = Resolution{
			TrustValue:         lvl.NumericalValue,
			AccessLevel:        rel.AccessLevel,
			AnonymizationLevel: rel.AnonymizationLevel,
			Via:                "relationship",
		}
	}

	shared, err := s.sharedGroups(ctx, sourceOrg, requesterOrg)
	if err != nil {
		return NoTrust, err
	}
	for _, group := range shared {
		lvl, err := s.store.TrustLevels(ctx).FindByName(ctx, group.DefaultTrustLevel)
		if err != nil {
			continue // a group may reference a retired level; skip that path
		}
		if lvl.NumericalValue > best.TrustValue {
			best = Resolution{
				TrustValue:         lvl.NumericalValue,
				AccessLevel:        lvl.DefaultAccessLevel,
				AnonymizationLevel: lvl.DefaultAnonymizationLevel,
				Via:                "group:" + group.Name,
			}
		}
	}
	return best, nil
}

// CheckTrustLevel resolves the effective numerical trust between two
// organizations, considering both edge directions and group co-membership.
// Returns 0 when no trust path exists.
func (s *Service) CheckTrustLevel(ctx context.Context, orgA, orgB string) (int, error) {
	ab, err := s.Resolve(ctx, orgA, orgB)
	if err != nil {
		return 0, err
	}
	ba, err := s.Resolve(ctx, orgB, orgA)
	if err != nil {
		return 0, err
	}
	if ba.TrustValue > ab.TrustValue {
		return ba.TrustValue, nil
	}
	return ab.TrustValue, nil
}

// CanAccessIntelligence reports whether the requesting organization holds
// at least the required access tier on the owner's intelligence.
func (s *Service) CanAccessIntelligence(ctx context.Context, requesterOrg, ownerOrg string, required AccessLevel) (bool, error) {
	if !required.IsValid() {
		return false, fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, required)
	}
	res, err := s.Resolve(ctx, ownerOrg, requesterOrg)
	if err != nil {
		return false, err
	}
	return res.AccessLevel.AtLeast(required), nil
}

// StrategyNameForLevel maps a resolved anonymization level to the strategy
// name the registry understands. Unknown levels anonymize fully.
func StrategyNameForLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "none":
		return "none"
	case "minimal", "moderate":
		return "minimal"
	case "standard", "partial":
		return "partial"
	default:
		return "full"
	}
}

// AnonymizeForRequester resolves the anonymization posture between the
// intelligence owner and the requester and transforms the object before it
// leaves the trust boundary.
func (s *Service) AnonymizeForRequester(ctx context.Context, ownerOrg, requesterOrg string, obj stix.Object) (stix.Object, Resolution, error) {
	res, err := s.Resolve(ctx, ownerOrg, requesterOrg)
	if err != nil {
		return nil, NoTrust, err
	}
	strategy := s.registry.Get(StrategyNameForLevel(string(res.AnonymizationLevel)))
	out, err := strategy.Anonymize(obj, res.TrustValue)
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}

// CreateRelationshipParams carries the fields for a new trust edge.
type CreateRelationshipParams struct {
	SourceOrganizationID string
	TargetOrganizationID string
	TrustLevelName       string
	RelationshipType     RelationshipType
	CreatedBy            string
	ValidUntil           *time.Time
	Notes                string
}

// CreateRelationship persists a pending relationship with the trust level's
// default anonymization and access posture. Bilateral relationships stay
// pending until both endpoints approve.
func (s *Service) CreateRelationship(ctx context.Context, p CreateRelationshipParams) (*TrustRelationship, error) {
	lvl, err := s.store.TrustLevels(ctx).FindByName(ctx, p.TrustLevelName)
	if err != nil {
		return nil, fmt.Errorf("trust level %q: %w", p.TrustLevelName, err)
	}
	if !lvl.IsActive {
		return nil, fmt.Errorf("%w: trust level %q is not active", ErrInvalidInput, p.TrustLevelName)
	}
	relType := p.RelationshipType
	if relType == "" {
		relType = RelationshipBilateral
	}
	rel := &TrustRelationship{
		SourceOrganizationID: p.SourceOrganizationID,
		TargetOrganizationID: p.TargetOrganizationID,
		TrustLevel:           lvl.Name,
		RelationshipType:     relType,
		Status:               StatusPending,
		AnonymizationLevel:   lvl.DefaultAnonymizationLevel,
		AccessLevel:          lvl.DefaultAccessLevel,
		IsBilateral:          relType == RelationshipBilateral,
		CreatedBy:            p.CreatedBy,
		ValidUntil:           p.ValidUntil,
		Notes:                strings.TrimSpace(p.Notes),
	}
	if err := s.store.Relationships(ctx).Create(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// ApproveRelationship records an endpoint approval.
func (s *Service) ApproveRelationship(ctx context.Context, relID, approvingOrg string) (*TrustRelationship, error) {
	return s.store.Relationships(ctx).Approve(ctx, relID, approvingOrg)
}

// RevokeRelationship terminates a relationship. Revoked is terminal.
func (s *Service) RevokeRelationship(ctx context.Context, relID, revokingOrg, reason string) (*TrustRelationship, error) {
	return s.store.Relationships(ctx).Revoke(ctx, relID, revokingOrg, reason)
}

// CreateGroupParams carries the fields for a new trust group.
type CreateGroupParams struct {
	Name              string
	Description       string
	GroupType         GroupType
	DefaultTrustLevel string
	RequiresApproval  bool
	CreatedBy         string
}

// CreateGroup persists a group administered by its founding organization.
// An empty default trust level falls back to the system default tier.
func (s *Service) CreateGroup(ctx context.Context, p CreateGroupParams) (*TrustGroup, error) {
	levels := s.store.TrustLevels(ctx)
	var lvl *TrustLevel
	var err error
	if strings.TrimSpace(p.DefaultTrustLevel) != "" {
		lvl, err = levels.FindByName(ctx, p.DefaultTrustLevel)
	} else {
		lvl, err = levels.SystemDefault(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("default trust level: %w", err)
	}
	groupType := p.GroupType
	if groupType == "" {
		groupType = GroupCommunity
	}
	group := &TrustGroup{
		Name:              strings.TrimSpace(p.Name),
		Description:       strings.TrimSpace(p.Description),
		GroupType:         groupType,
		DefaultTrustLevel: lvl.Name,
		RequiresApproval:  p.RequiresApproval,
		CreatedBy:         p.CreatedBy,
	}
	if err := s.store.Groups(ctx).Create(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// JoinGroup adds an organization to a group.
func (s *Service) JoinGroup(ctx context.Context, groupID, orgID string, membershipType MembershipType, invitedBy string) (*TrustGroupMembership, error) {
	mem := &TrustGroupMembership{
		GroupID:        groupID,
		OrganizationID: orgID,
		MembershipType: membershipType,
		InvitedBy:      invitedBy,
	}
	if err := s.store.Memberships(ctx).Join(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// LeaveGroup removes an organization from a group. The last administrator
// must promote a replacement first.
func (s *Service) LeaveGroup(ctx context.Context, groupID, orgID string) error {
	return s.store.Memberships(ctx).Leave(ctx, groupID, orgID)
}

// ExpireDueRelationships transitions relationships past their validity
// window; the caller schedules it (management layer concern).
func (s *Service) ExpireDueRelationships(ctx context.Context) (int, error) {
	return s.store.Relationships(ctx).ExpireDue(ctx, s.now())
}

// DashboardData aggregates an organization's trust posture for read-only
// display; it consumes the resolution primitive, never mutates.
type DashboardData struct {
	OrganizationID       string   `json:"organization_id"`
	ActiveRelationships  int      `json:"active_relationships"`
	PendingRelationships int      `json:"pending_relationships"`
	GroupMemberships     int      `json:"group_memberships"`
	SharingPartners      []string `json:"sharing_partners"`
}

// Dashboard returns aggregate counts over the organization's relationships
// and group memberships.
func (s *Service) Dashboard(ctx context.Context, orgID string) (*DashboardData, error) {
	rels, err := s.store.Relationships(ctx).ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	data := &DashboardData{OrganizationID: orgID}
	for _, rel := range rels {
		switch rel.Status {
		case StatusActive:
			data.ActiveRelationships++
		case StatusPending:
			data.PendingRelationships++
		}
	}
	mems, err := s.store.Memberships(ctx).ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	data.GroupMemberships = len(mems)
	partners, err := s.SharingOrganizations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	data.SharingPartners = partners
	return data, nil
}

// SharingOrganizations lists the organizations the given one shares with:
// active relationship endpoints plus group co-members, sorted and unique.
func (s *Service) SharingOrganizations(ctx context.Context, orgID string) ([]string, error) {
	seen := make(map[string]struct{})

	rels, err := s.store.Relationships(ctx).ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if rel.Status != StatusActive || rel.IsExpired(s.now()) {
			continue
		}
		other := rel.TargetOrganizationID
		if other == orgID {
			other = rel.SourceOrganizationID
		}
		seen[other] = struct{}{}
	}

	mems, err := s.store.Memberships(ctx).ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, mem := range mems {
		others, err := s.store.Memberships(ctx).ListByGroup(ctx, mem.GroupID)
		if err != nil {
			return nil, err
		}
		for _, other := range others {
			if other.OrganizationID != orgID {
				seen[other.OrganizationID] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for org := range seen {
		out = append(out, org)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) sharedGroups(ctx context.Context, orgA, orgB string) ([]*TrustGroup, error) {
	memsA, err := s.store.Memberships(ctx).ListByOrganization(ctx, orgA)
	if err != nil {
		return nil, err
	}
	memsB, err := s.store.Memberships(ctx).ListByOrganization(ctx, orgB)
	if err != nil {
		return nil, err
	}
	inB := make(map[string]struct{}, len(memsB))
	for _, mem := range memsB {
		inB[mem.GroupID] = struct{}{}
	}
	var out []*TrustGroup
	for _, mem := range memsA {
		if _, ok := inB[mem.GroupID]; !ok {
			continue
		}
		group, err := s.store.Groups(ctx).Find(ctx, mem.GroupID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if group.IsActive {
			out = append(out, group)
		}
	}
	return out, nil
}
