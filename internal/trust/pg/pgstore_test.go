package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"trustmesh.org/internal/trust"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestFindLevelByName(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select (.+) from trust_levels where name=").
		WithArgs("High").
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "description", "numerical_value",
			"default_anonymization_level", "default_access_level",
			"is_active", "is_system_default", "created_at", "updated_at",
		}).AddRow("High", "High trust between vetted partners", 75,
			"minimal", "contribute", true, false, now, now))

	lvl, err := store.TrustLevels(context.Background()).FindByName(context.Background(), "High")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if lvl.NumericalValue != 75 || lvl.DefaultAccessLevel != trust.AccessContribute {
		t.Fatalf("unexpected level: %+v", lvl)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindLevelNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from trust_levels where name=").
		WithArgs("Platinum").
		WillReturnError(sql.ErrNoRows)

	_, err := store.TrustLevels(context.Background()).FindByName(context.Background(), "Platinum")
	if !errors.Is(err, trust.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRelationshipUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into trust_relationships").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Relationships(context.Background()).Create(context.Background(), &trust.TrustRelationship{
		SourceOrganizationID: "org-a",
		TargetOrganizationID: "org-b",
		TrustLevel:           "Medium",
		RelationshipType:     trust.RelationshipBilateral,
		AnonymizationLevel:   trust.AnonymizationPartial,
		AccessLevel:          trust.AccessSubscribe,
	})
	if !errors.Is(err, trust.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRelationshipRejectsSelf(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.Relationships(context.Background()).Create(context.Background(), &trust.TrustRelationship{
		SourceOrganizationID: "org-a",
		TargetOrganizationID: "org-a",
	})
	if !errors.Is(err, trust.ErrSelfRelationship) {
		t.Fatalf("expected ErrSelfRelationship, got %v", err)
	}
}

func relationshipRows(status string, bySource, byTarget bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "source_organization_id", "target_organization_id", "trust_level",
		"relationship_type", "status", "approved_by_source", "approved_by_target",
		"anonymization_level", "access_level", "is_bilateral",
		"created_by", "revoked_by", "revocation_reason",
		"valid_until", "notes", "created_at", "updated_at",
	}).AddRow("rel-1", "org-a", "org-b", "Medium",
		"bilateral", status, bySource, byTarget,
		"partial", "subscribe", true,
		"", "", "", nil, "", now, now)
}

func TestApproveActivatesWhenBothEndpointsApproved(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from trust_relationships where id=(.+) for update").
		WithArgs("rel-1").
		WillReturnRows(relationshipRows("pending", true, false))
	mock.ExpectExec("update trust_relationships").
		WithArgs("rel-1", true, true, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rel, err := store.Relationships(context.Background()).Approve(context.Background(), "rel-1", "org-b")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rel.Status != trust.StatusActive {
		t.Fatalf("expected active, got %s", rel.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApproveTwiceBySameEndpoint(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from trust_relationships where id=(.+) for update").
		WithArgs("rel-1").
		WillReturnRows(relationshipRows("pending", true, false))
	mock.ExpectRollback()

	_, err := store.Relationships(context.Background()).Approve(context.Background(), "rel-1", "org-a")
	if !errors.Is(err, trust.ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got %v", err)
	}
}

func TestRevokeTerminalRelationship(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from trust_relationships where id=(.+) for update").
		WithArgs("rel-1").
		WillReturnRows(relationshipRows("revoked", true, true))
	mock.ExpectRollback()

	_, err := store.Relationships(context.Background()).Revoke(context.Background(), "rel-1", "org-a", "cleanup")
	if !errors.Is(err, trust.ErrTerminalStatus) {
		t.Fatalf("expected ErrTerminalStatus, got %v", err)
	}
}

func TestExpireDueCountsRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update trust_relationships").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Relationships(context.Background()).ExpireDue(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 expired, got %d", n)
	}
}

func TestCreateGroupSeedsFoundingAdministrator(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into trust_groups").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into trust_group_memberships").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	group := &trust.TrustGroup{
		Name:              "Energy Sector",
		GroupType:         trust.GroupSector,
		DefaultTrustLevel: "Medium",
		CreatedBy:         "org-a",
	}
	if err := store.Groups(context.Background()).Create(context.Background(), group); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if group.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLeaveLastAdministratorBlocked(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select organization_id, membership_type from trust_group_memberships").
		WithArgs("group-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "membership_type"}).
			AddRow("org-a", "administrator").
			AddRow("org-b", "member"))
	mock.ExpectRollback()

	err := store.Memberships(context.Background()).Leave(context.Background(), "group-1", "org-a")
	if !errors.Is(err, trust.ErrLastAdministrator) {
		t.Fatalf("expected ErrLastAdministrator, got %v", err)
	}
}

func TestLeaveWithRemainingAdministrator(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select organization_id, membership_type from trust_group_memberships").
		WithArgs("group-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "membership_type"}).
			AddRow("org-a", "administrator").
			AddRow("org-b", "administrator"))
	mock.ExpectExec("update trust_group_memberships").
		WithArgs("group-1", "org-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Memberships(context.Background()).Leave(context.Background(), "group-1", "org-a"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPolicyScanRoundTrip(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select (.+) from sharing_policies where name=").
		WithArgs("indicators-only").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "allowed_stix_types", "blocked_stix_types",
			"max_tlp_level", "max_age_days", "is_active", "created_at", "updated_at",
		}).AddRow("pol-1", "indicators-only", "", []byte(`["indicator"]`), []byte(`[]`),
			"amber", 90, true, now, now))

	p, err := store.Policies(context.Background()).FindByName(context.Background(), "indicators-only")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if len(p.AllowedSTIXTypes) != 1 || p.AllowedSTIXTypes[0] != "indicator" {
		t.Fatalf("allowed types not decoded: %v", p.AllowedSTIXTypes)
	}
	if p.MaxTLPLevel != "amber" || p.MaxAgeDays != 90 {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
