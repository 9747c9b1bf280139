package trust

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"trustmesh.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. A single
// mutex serializes mutations, which gives the exactly-once guarantees the
// Store contract requires without row locks.
type InMemory struct {
	mu          sync.RWMutex
	levels      map[string]*TrustLevel // by name
	rels        map[string]*TrustRelationship
	groups      map[string]*TrustGroup
	memberships map[string]*TrustGroupMembership
	policies    map[string]*SharingPolicy // by name
	now         func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		levels:      make(map[string]*TrustLevel),
		rels:        make(map[string]*TrustRelationship),
		groups:      make(map[string]*TrustGroup),
		memberships: make(map[string]*TrustGroupMembership),
		policies:    make(map[string]*SharingPolicy),
		now:         time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) TrustLevels(context.Context) TrustLevelStore     { return (*memLevels)(s) }
func (s *InMemory) Relationships(context.Context) RelationshipStore { return (*memRels)(s) }
func (s *InMemory) Groups(context.Context) GroupStore               { return (*memGroups)(s) }
func (s *InMemory) Memberships(context.Context) MembershipStore     { return (*memMemberships)(s) }
func (s *InMemory) Policies(context.Context) PolicyStore            { return (*memPolicies)(s) }

// Trust levels --------------------------------------------------------------

type memLevels InMemory

func (m *memLevels) Ensure(ctx context.Context, levels []TrustLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for _, lvl := range levels {
		if _, ok := m.levels[lvl.Name]; ok {
			continue
		}
		cp := lvl
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.levels[cp.Name] = &cp
	}
	return nil
}

func (m *memLevels) FindByName(ctx context.Context, name string) (*TrustLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lvl, ok := m.levels[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lvl
	return &cp, nil
}

func (m *memLevels) SystemDefault(ctx context.Context) (*TrustLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lvl := range m.levels {
		if lvl.IsSystemDefault && lvl.IsActive {
			cp := *lvl
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memLevels) List(ctx context.Context) ([]*TrustLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TrustLevel, 0, len(m.levels))
	for _, lvl := range m.levels {
		cp := *lvl
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memLevels) Update(ctx context.Context, name string, upd TrustLevelUpdate) (*TrustLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl, ok := m.levels[name]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.NumericalValue != nil && *upd.NumericalValue != lvl.NumericalValue {
		for _, rel := range m.rels {
			if rel.TrustLevel == name && rel.Status == StatusActive {
				return nil, ErrLevelReferenced
			}
		}
		lvl.NumericalValue = *upd.NumericalValue
	}
	if upd.Description != nil {
		lvl.Description = *upd.Description
	}
	if upd.IsActive != nil {
		lvl.IsActive = *upd.IsActive
	}
	lvl.UpdatedAt = m.now().UTC()
	cp := *lvl
	return &cp, nil
}

// Relationships -------------------------------------------------------------

type memRels InMemory

func (m *memRels) Create(ctx context.Context, rel *TrustRelationship) error {
	if rel.SourceOrganizationID == rel.TargetOrganizationID {
		return ErrSelfRelationship
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rels {
		if existing.SourceOrganizationID == rel.SourceOrganizationID &&
			existing.TargetOrganizationID == rel.TargetOrganizationID &&
			!existing.Status.IsTerminal() {
			return fmt.Errorf("%w: relationship %s -> %s already exists",
				ErrAlreadyExists, rel.SourceOrganizationID, rel.TargetOrganizationID)
		}
	}
	now := m.now().UTC()
	if rel.ID == "" {
		rel.ID = ids.New()
	}
	if rel.Status == "" {
		rel.Status = StatusPending
	}
	rel.CreatedAt = now
	rel.UpdatedAt = now
	cp := *rel
	m.rels[rel.ID] = &cp
	return nil
}

func (m *memRels) Find(ctx context.Context, id string) (*TrustRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.rels[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rel
	return &cp, nil
}

func (m *memRels) FindCurrentPair(ctx context.Context, sourceOrg, targetOrg string) (*TrustRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rel := range m.rels {
		if rel.SourceOrganizationID == sourceOrg &&
			rel.TargetOrganizationID == targetOrg &&
			!rel.Status.IsTerminal() {
			cp := *rel
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRels) ListByOrganization(ctx context.Context, orgID string) ([]*TrustRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TrustRelationship
	for _, rel := range m.rels {
		if rel.SourceOrganizationID == orgID || rel.TargetOrganizationID == orgID {
			cp := *rel
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRels) Approve(ctx context.Context, id, approvingOrg string) (*TrustRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.rels[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rel.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}
	switch approvingOrg {
	case rel.SourceOrganizationID:
		if rel.ApprovedBySource {
			return nil, ErrAlreadyApproved
		}
		rel.ApprovedBySource = true
	case rel.TargetOrganizationID:
		if rel.ApprovedByTarget {
			return nil, ErrAlreadyApproved
		}
		rel.ApprovedByTarget = true
	default:
		return nil, fmt.Errorf("%w: organization %s is not an endpoint", ErrInvalidInput, approvingOrg)
	}
	if rel.Status == StatusPending {
		activated := rel.ApprovedBySource || rel.ApprovedByTarget
		if rel.IsBilateral {
			activated = rel.ApprovedBySource && rel.ApprovedByTarget
		}
		if activated {
			rel.Status = StatusActive
		}
	}
	rel.UpdatedAt = m.now().UTC()
	cp := *rel
	return &cp, nil
}

func (m *memRels) Revoke(ctx context.Context, id, revokingOrg, reason string) (*TrustRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.rels[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rel.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}
	if revokingOrg != rel.SourceOrganizationID && revokingOrg != rel.TargetOrganizationID {
		return nil, fmt.Errorf("%w: organization %s is not an endpoint", ErrInvalidInput, revokingOrg)
	}
	rel.Status = StatusRevoked
	rel.RevokedBy = revokingOrg
	rel.RevocationReason = strings.TrimSpace(reason)
	rel.UpdatedAt = m.now().UTC()
	cp := *rel
	return &cp, nil
}

func (m *memRels) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := 0
	for _, rel := range m.rels {
		if rel.Status == StatusActive && rel.IsExpired(now) {
			rel.Status = StatusExpired
			rel.UpdatedAt = now.UTC()
			expired++
		}
	}
	return expired, nil
}

// Groups --------------------------------------------------------------------

type memGroups InMemory

func (m *memGroups) Create(ctx context.Context, group *TrustGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.groups {
		if existing.Name == group.Name {
			return fmt.Errorf("%w: group name %q already exists", ErrAlreadyExists, group.Name)
		}
	}
	now := m.now().UTC()
	if group.ID == "" {
		group.ID = ids.New()
	}
	group.IsActive = true
	group.CreatedAt = now
	group.UpdatedAt = now
	cp := *group
	m.groups[group.ID] = &cp

	// Founding organization administers the group it creates.
	if group.CreatedBy != "" {
		mem := &TrustGroupMembership{
			ID:             ids.New(),
			GroupID:        group.ID,
			OrganizationID: group.CreatedBy,
			MembershipType: MemberAdministrator,
			IsActive:       true,
			JoinedAt:       now,
		}
		m.memberships[mem.ID] = mem
	}
	return nil
}

func (m *memGroups) Find(ctx context.Context, id string) (*TrustGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *group
	return &cp, nil
}

func (m *memGroups) FindByName(ctx context.Context, name string) (*TrustGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, group := range m.groups {
		if group.Name == name {
			cp := *group
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memGroups) List(ctx context.Context) ([]*TrustGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TrustGroup, 0, len(m.groups))
	for _, group := range m.groups {
		cp := *group
		out = append(out, &cp)
	}
	return out, nil
}

// Memberships ---------------------------------------------------------------

type memMemberships InMemory

func (m *memMemberships) Join(ctx context.Context, mem *TrustGroupMembership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[mem.GroupID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.memberships {
		if existing.GroupID == mem.GroupID &&
			existing.OrganizationID == mem.OrganizationID &&
			existing.IsActive {
			return fmt.Errorf("%w: organization %s is already a member", ErrAlreadyExists, mem.OrganizationID)
		}
	}
	if mem.ID == "" {
		mem.ID = ids.New()
	}
	if mem.MembershipType == "" {
		mem.MembershipType = MemberRegular
	}
	mem.IsActive = true
	mem.JoinedAt = m.now().UTC()
	cp := *mem
	m.memberships[mem.ID] = &cp
	return nil
}

func (m *memMemberships) Find(ctx context.Context, groupID, orgID string) (*TrustGroupMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mem := range m.memberships {
		if mem.GroupID == groupID && mem.OrganizationID == orgID && mem.IsActive {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memMemberships) ListByGroup(ctx context.Context, groupID string) ([]*TrustGroupMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TrustGroupMembership
	for _, mem := range m.memberships {
		if mem.GroupID == groupID && mem.IsActive {
			cp := *mem
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memMemberships) ListByOrganization(ctx context.Context, orgID string) ([]*TrustGroupMembership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TrustGroupMembership
	for _, mem := range m.memberships {
		if mem.OrganizationID == orgID && mem.IsActive {
			cp := *mem
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memMemberships) Leave(ctx context.Context, groupID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var leaving *TrustGroupMembership
	admins := 0
	for _, mem := range m.memberships {
		if mem.GroupID != groupID || !mem.IsActive {
			continue
		}
		if mem.MembershipType == MemberAdministrator {
			admins++
		}
		if mem.OrganizationID == orgID {
			leaving = mem
		}
	}
	if leaving == nil {
		return ErrNotFound
	}
	if leaving.MembershipType == MemberAdministrator && admins <= 1 {
		return ErrLastAdministrator
	}
	now := m.now().UTC()
	leaving.IsActive = false
	leaving.LeftAt = &now
	return nil
}

func (m *memMemberships) Promote(ctx context.Context, groupID, orgID string, role MembershipType) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: unknown membership type %q", ErrInvalidInput, role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memberships {
		if mem.GroupID == groupID && mem.OrganizationID == orgID && mem.IsActive {
			mem.MembershipType = role
			return nil
		}
	}
	return ErrNotFound
}

// Policies ------------------------------------------------------------------

type memPolicies InMemory

func (m *memPolicies) Create(ctx context.Context, p *SharingPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.Name]; ok {
		return fmt.Errorf("%w: policy name %q already exists", ErrAlreadyExists, p.Name)
	}
	now := m.now().UTC()
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	m.policies[p.Name] = &cp
	return nil
}

func (m *memPolicies) FindByName(ctx context.Context, name string) (*SharingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPolicies) List(ctx context.Context) ([]*SharingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SharingPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
