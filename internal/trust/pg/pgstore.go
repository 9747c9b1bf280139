// Package pg implements the trust store on PostgreSQL. Lifecycle mutations
// run in transactions with row locks so the pair-uniqueness, approval and
// last-administrator invariants hold under concurrent writers.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"trustmesh.org/internal/ids"
	"trustmesh.org/internal/trust"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ trust.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) TrustLevels(context.Context) trust.TrustLevelStore   { return (*pgLevels)(s) }
func (s *Store) Relationships(context.Context) trust.RelationshipStore { return (*pgRels)(s) }
func (s *Store) Groups(context.Context) trust.GroupStore             { return (*pgGroups)(s) }
func (s *Store) Memberships(context.Context) trust.MembershipStore   { return (*pgMemberships)(s) }
func (s *Store) Policies(context.Context) trust.PolicyStore          { return (*pgPolicies)(s) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Trust levels ---------------------------------------------------------------

type pgLevels Store

func (s *pgLevels) Ensure(ctx context.Context, levels []trust.TrustLevel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, lvl := range levels {
		if _, err := tx.ExecContext(ctx, `
			insert into trust_levels(
				name, description, numerical_value,
				default_anonymization_level, default_access_level,
				is_active, is_system_default, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7,now(),now())
			on conflict (name) do nothing
		`, lvl.Name, lvl.Description, lvl.NumericalValue,
			string(lvl.DefaultAnonymizationLevel), string(lvl.DefaultAccessLevel),
			lvl.IsActive, lvl.IsSystemDefault); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const levelColumns = `name, description, numerical_value,
	default_anonymization_level, default_access_level,
	is_active, is_system_default, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLevel(row rowScanner) (*trust.TrustLevel, error) {
	var lvl trust.TrustLevel
	var anon, access string
	err := row.Scan(&lvl.Name, &lvl.Description, &lvl.NumericalValue,
		&anon, &access, &lvl.IsActive, &lvl.IsSystemDefault,
		&lvl.CreatedAt, &lvl.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	lvl.DefaultAnonymizationLevel = trust.AnonymizationLevel(anon)
	lvl.DefaultAccessLevel = trust.AccessLevel(access)
	return &lvl, nil
}

func (s *pgLevels) FindByName(ctx context.Context, name string) (*trust.TrustLevel, error) {
	return scanLevel(s.db.QueryRowContext(ctx,
		`select `+levelColumns+` from trust_levels where name=$1`, name))
}

func (s *pgLevels) SystemDefault(ctx context.Context) (*trust.TrustLevel, error) {
	return scanLevel(s.db.QueryRowContext(ctx,
		`select `+levelColumns+` from trust_levels where is_system_default and is_active limit 1`))
}

func (s *pgLevels) List(ctx context.Context) ([]*trust.TrustLevel, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+levelColumns+` from trust_levels order by numerical_value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trust.TrustLevel
	for rows.Next() {
		lvl, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, rows.Err()
}

func (s *pgLevels) Update(ctx context.Context, name string, upd trust.TrustLevelUpdate) (*trust.TrustLevel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	lvl, err := scanLevel(tx.QueryRowContext(ctx,
		`select `+levelColumns+` from trust_levels where name=$1 for update`, name))
	if err != nil {
		return nil, err
	}

	if upd.NumericalValue != nil && *upd.NumericalValue != lvl.NumericalValue {
		var refs int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from trust_relationships
			where trust_level=$1 and status='active'
		`, name).Scan(&refs); err != nil {
			return nil, err
		}
		if refs > 0 {
			return nil, trust.ErrLevelReferenced
		}
		lvl.NumericalValue = *upd.NumericalValue
	}
	if upd.Description != nil {
		lvl.Description = *upd.Description
	}
	if upd.IsActive != nil {
		lvl.IsActive = *upd.IsActive
	}

	if _, err := tx.ExecContext(ctx, `
		update trust_levels
		set description=$2, numerical_value=$3, is_active=$4, updated_at=now()
		where name=$1
	`, name, lvl.Description, lvl.NumericalValue, lvl.IsActive); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lvl, nil
}

// Relationships --------------------------------------------------------------

type pgRels Store

const relColumns = `id, source_organization_id, target_organization_id, trust_level,
	relationship_type, status, approved_by_source, approved_by_target,
	anonymization_level, access_level, is_bilateral,
	coalesce(created_by,''), coalesce(revoked_by,''), coalesce(revocation_reason,''),
	valid_until, coalesce(notes,''), created_at, updated_at`

func scanRelationship(row rowScanner) (*trust.TrustRelationship, error) {
	var rel trust.TrustRelationship
	var relType, status, anon, access string
	var validUntil sql.NullTime
	err := row.Scan(&rel.ID, &rel.SourceOrganizationID, &rel.TargetOrganizationID,
		&rel.TrustLevel, &relType, &status, &rel.ApprovedBySource, &rel.ApprovedByTarget,
		&anon, &access, &rel.IsBilateral,
		&rel.CreatedBy, &rel.RevokedBy, &rel.RevocationReason,
		&validUntil, &rel.Notes, &rel.CreatedAt, &rel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rel.RelationshipType = trust.RelationshipType(relType)
	rel.Status = trust.RelationshipStatus(status)
	rel.AnonymizationLevel = trust.AnonymizationLevel(anon)
	rel.AccessLevel = trust.AccessLevel(access)
	if validUntil.Valid {
		t := validUntil.Time
		rel.ValidUntil = &t
	}
	return &rel, nil
}

func (s *pgRels) Create(ctx context.Context, rel *trust.TrustRelationship) error {
	if rel.SourceOrganizationID == rel.TargetOrganizationID {
		return trust.ErrSelfRelationship
	}
	if rel.ID == "" {
		rel.ID = ids.New()
	}
	if rel.Status == "" {
		rel.Status = trust.StatusPending
	}
	now := time.Now().UTC()
	rel.CreatedAt = now
	rel.UpdatedAt = now

	// The partial unique index on the ordered pair makes exactly one of N
	// concurrent creators win.
	_, err := s.db.ExecContext(ctx, `
		insert into trust_relationships(
			id, source_organization_id, target_organization_id, trust_level,
			relationship_type, status, approved_by_source, approved_by_target,
			anonymization_level, access_level, is_bilateral,
			created_by, valid_until, notes, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,nullif($12,''),$13,nullif($14,''),$15,$16)
	`, rel.ID, rel.SourceOrganizationID, rel.TargetOrganizationID, rel.TrustLevel,
		string(rel.RelationshipType), string(rel.Status),
		rel.ApprovedBySource, rel.ApprovedByTarget,
		string(rel.AnonymizationLevel), string(rel.AccessLevel), rel.IsBilateral,
		rel.CreatedBy, rel.ValidUntil, rel.Notes, rel.CreatedAt, rel.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: relationship %s -> %s already exists",
			trust.ErrAlreadyExists, rel.SourceOrganizationID, rel.TargetOrganizationID)
	}
	return err
}

func (s *pgRels) Find(ctx context.Context, id string) (*trust.TrustRelationship, error) {
	return scanRelationship(s.db.QueryRowContext(ctx,
		`select `+relColumns+` from trust_relationships where id=$1`, id))
}

func (s *pgRels) FindCurrentPair(ctx context.Context, sourceOrg, targetOrg string) (*trust.TrustRelationship, error) {
	return scanRelationship(s.db.QueryRowContext(ctx, `
		select `+relColumns+` from trust_relationships
		where source_organization_id=$1 and target_organization_id=$2
		  and status not in ('revoked','expired')
	`, sourceOrg, targetOrg))
}

func (s *pgRels) ListByOrganization(ctx context.Context, orgID string) ([]*trust.TrustRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+relColumns+` from trust_relationships
		where source_organization_id=$1 or target_organization_id=$1
		order by created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trust.TrustRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *pgRels) Approve(ctx context.Context, id, approvingOrg string) (*trust.TrustRelationship, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the row so the pending->active transition happens once.
	rel, err := scanRelationship(tx.QueryRowContext(ctx,
		`select `+relColumns+` from trust_relationships where id=$1 for update`, id))
	if err != nil {
		return nil, err
	}
	if rel.Status.IsTerminal() {
		return nil, trust.ErrTerminalStatus
	}
	switch approvingOrg {
	case rel.SourceOrganizationID:
		if rel.ApprovedBySource {
			return nil, trust.ErrAlreadyApproved
		}
		rel.ApprovedBySource = true
	case rel.TargetOrganizationID:
		if rel.ApprovedByTarget {
			return nil, trust.ErrAlreadyApproved
		}
		rel.ApprovedByTarget = true
	default:
		return nil, fmt.Errorf("%w: organization %s is not an endpoint", trust.ErrInvalidInput, approvingOrg)
	}
	if rel.Status == trust.StatusPending {
		activated := rel.ApprovedBySource || rel.ApprovedByTarget
		if rel.IsBilateral {
			activated = rel.ApprovedBySource && rel.ApprovedByTarget
		}
		if activated {
			rel.Status = trust.StatusActive
		}
	}

	if _, err := tx.ExecContext(ctx, `
		update trust_relationships
		set approved_by_source=$2, approved_by_target=$3, status=$4, updated_at=now()
		where id=$1
	`, id, rel.ApprovedBySource, rel.ApprovedByTarget, string(rel.Status)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *pgRels) Revoke(ctx context.Context, id, revokingOrg, reason string) (*trust.TrustRelationship, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rel, err := scanRelationship(tx.QueryRowContext(ctx,
		`select `+relColumns+` from trust_relationships where id=$1 for update`, id))
	if err != nil {
		return nil, err
	}
	if rel.Status.IsTerminal() {
		return nil, trust.ErrTerminalStatus
	}
	if revokingOrg != rel.SourceOrganizationID && revokingOrg != rel.TargetOrganizationID {
		return nil, fmt.Errorf("%w: organization %s is not an endpoint", trust.ErrInvalidInput, revokingOrg)
	}
	rel.Status = trust.StatusRevoked
	rel.RevokedBy = revokingOrg
	rel.RevocationReason = reason

	if _, err := tx.ExecContext(ctx, `
		update trust_relationships
		set status='revoked', revoked_by=$2, revocation_reason=nullif($3,''), updated_at=now()
		where id=$1
	`, id, revokingOrg, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *pgRels) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update trust_relationships
		set status='expired', updated_at=now()
		where status='active' and valid_until is not null and valid_until < $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Groups ---------------------------------------------------------------------

type pgGroups Store

const groupColumns = `id, name, description, group_type, default_trust_level,
	requires_approval, is_active, created_by, created_at, updated_at`

func scanGroup(row rowScanner) (*trust.TrustGroup, error) {
	var g trust.TrustGroup
	var groupType string
	err := row.Scan(&g.ID, &g.Name, &g.Description, &groupType, &g.DefaultTrustLevel,
		&g.RequiresApproval, &g.IsActive, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.GroupType = trust.GroupType(groupType)
	return &g, nil
}

func (s *pgGroups) Create(ctx context.Context, group *trust.TrustGroup) error {
	if group.ID == "" {
		group.ID = ids.New()
	}
	now := time.Now().UTC()
	group.IsActive = true
	group.CreatedAt = now
	group.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into trust_groups(
			id, name, description, group_type, default_trust_level,
			requires_approval, is_active, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,true,$7,$8,$9)
	`, group.ID, group.Name, group.Description, string(group.GroupType),
		group.DefaultTrustLevel, group.RequiresApproval, group.CreatedBy,
		group.CreatedAt, group.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: group name %q already exists", trust.ErrAlreadyExists, group.Name)
		}
		return err
	}

	// Founding organization administers the group it creates.
	if group.CreatedBy != "" {
		if _, err := tx.ExecContext(ctx, `
			insert into trust_group_memberships(
				id, group_id, organization_id, membership_type, is_active, joined_at)
			values ($1,$2,$3,'administrator',true,$4)
		`, ids.New(), group.ID, group.CreatedBy, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *pgGroups) Find(ctx context.Context, id string) (*trust.TrustGroup, error) {
	return scanGroup(s.db.QueryRowContext(ctx,
		`select `+groupColumns+` from trust_groups where id=$1`, id))
}

func (s *pgGroups) FindByName(ctx context.Context, name string) (*trust.TrustGroup, error) {
	return scanGroup(s.db.QueryRowContext(ctx,
		`select `+groupColumns+` from trust_groups where name=$1`, name))
}

func (s *pgGroups) List(ctx context.Context) ([]*trust.TrustGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+groupColumns+` from trust_groups order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trust.TrustGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Memberships ----------------------------------------------------------------

type pgMemberships Store

const membershipColumns = `id, group_id, organization_id, membership_type,
	coalesce(invited_by,''), is_active, joined_at, left_at`

func scanMembership(row rowScanner) (*trust.TrustGroupMembership, error) {
	var m trust.TrustGroupMembership
	var role string
	var leftAt sql.NullTime
	err := row.Scan(&m.ID, &m.GroupID, &m.OrganizationID, &role,
		&m.InvitedBy, &m.IsActive, &m.JoinedAt, &leftAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.MembershipType = trust.MembershipType(role)
	if leftAt.Valid {
		t := leftAt.Time
		m.LeftAt = &t
	}
	return &m, nil
}

func (s *pgMemberships) Join(ctx context.Context, mem *trust.TrustGroupMembership) error {
	if mem.ID == "" {
		mem.ID = ids.New()
	}
	if mem.MembershipType == "" {
		mem.MembershipType = trust.MemberRegular
	}
	mem.IsActive = true
	mem.JoinedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from trust_groups where id=$1)`, mem.GroupID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return trust.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		insert into trust_group_memberships(
			id, group_id, organization_id, membership_type, invited_by, is_active, joined_at)
		values ($1,$2,$3,$4,nullif($5,''),true,$6)
	`, mem.ID, mem.GroupID, mem.OrganizationID, string(mem.MembershipType),
		mem.InvitedBy, mem.JoinedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: organization %s is already a member", trust.ErrAlreadyExists, mem.OrganizationID)
		}
		return err
	}
	return tx.Commit()
}

func (s *pgMemberships) Find(ctx context.Context, groupID, orgID string) (*trust.TrustGroupMembership, error) {
	return scanMembership(s.db.QueryRowContext(ctx, `
		select `+membershipColumns+` from trust_group_memberships
		where group_id=$1 and organization_id=$2 and is_active
	`, groupID, orgID))
}

func (s *pgMemberships) ListByGroup(ctx context.Context, groupID string) ([]*trust.TrustGroupMembership, error) {
	return s.list(ctx, `
		select `+membershipColumns+` from trust_group_memberships
		where group_id=$1 and is_active order by joined_at
	`, groupID)
}

func (s *pgMemberships) ListByOrganization(ctx context.Context, orgID string) ([]*trust.TrustGroupMembership, error) {
	return s.list(ctx, `
		select `+membershipColumns+` from trust_group_memberships
		where organization_id=$1 and is_active order by joined_at
	`, orgID)
}

func (s *pgMemberships) list(ctx context.Context, query string, arg any) ([]*trust.TrustGroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trust.TrustGroupMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *pgMemberships) Leave(ctx context.Context, groupID, orgID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock all active memberships of the group so two administrators cannot
	// both pass the last-administrator check and leave simultaneously.
	rows, err := tx.QueryContext(ctx, `
		select organization_id, membership_type from trust_group_memberships
		where group_id=$1 and is_active for update
	`, groupID)
	if err != nil {
		return err
	}
	admins := 0
	var leavingRole trust.MembershipType
	found := false
	for rows.Next() {
		var org, role string
		if err := rows.Scan(&org, &role); err != nil {
			rows.Close()
			return err
		}
		if trust.MembershipType(role) == trust.MemberAdministrator {
			admins++
		}
		if org == orgID {
			found = true
			leavingRole = trust.MembershipType(role)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if !found {
		return trust.ErrNotFound
	}
	if leavingRole == trust.MemberAdministrator && admins <= 1 {
		return trust.ErrLastAdministrator
	}

	if _, err := tx.ExecContext(ctx, `
		update trust_group_memberships
		set is_active=false, left_at=now()
		where group_id=$1 and organization_id=$2 and is_active
	`, groupID, orgID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgMemberships) Promote(ctx context.Context, groupID, orgID string, role trust.MembershipType) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: unknown membership type %q", trust.ErrInvalidInput, role)
	}
	res, err := s.db.ExecContext(ctx, `
		update trust_group_memberships
		set membership_type=$3
		where group_id=$1 and organization_id=$2 and is_active
	`, groupID, orgID, string(role))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trust.ErrNotFound
	}
	return nil
}

// Policies -------------------------------------------------------------------

type pgPolicies Store

func (s *pgPolicies) Create(ctx context.Context, p *trust.SharingPolicy) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now

	allowed, err := json.Marshal(p.AllowedSTIXTypes)
	if err != nil {
		return err
	}
	blocked, err := json.Marshal(p.BlockedSTIXTypes)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into sharing_policies(
			id, name, description, allowed_stix_types, blocked_stix_types,
			max_tlp_level, max_age_days, is_active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,true,$8,$9)
	`, p.ID, p.Name, p.Description, allowed, blocked,
		p.MaxTLPLevel, p.MaxAgeDays, p.CreatedAt, p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: policy name %q already exists", trust.ErrAlreadyExists, p.Name)
		}
		return err
	}
	return nil
}

const policyColumns = `id, name, description, allowed_stix_types, blocked_stix_types,
	coalesce(max_tlp_level,''), max_age_days, is_active, created_at, updated_at`

func scanPolicy(row rowScanner) (*trust.SharingPolicy, error) {
	var p trust.SharingPolicy
	var allowed, blocked []byte
	err := row.Scan(&p.ID, &p.Name, &p.Description, &allowed, &blocked,
		&p.MaxTLPLevel, &p.MaxAgeDays, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trust.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &p.AllowedSTIXTypes); err != nil {
			return nil, err
		}
	}
	if len(blocked) > 0 {
		if err := json.Unmarshal(blocked, &p.BlockedSTIXTypes); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *pgPolicies) FindByName(ctx context.Context, name string) (*trust.SharingPolicy, error) {
	return scanPolicy(s.db.QueryRowContext(ctx,
		`select `+policyColumns+` from sharing_policies where name=$1`, name))
}

func (s *pgPolicies) List(ctx context.Context) ([]*trust.SharingPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+policyColumns+` from sharing_policies order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*trust.SharingPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
