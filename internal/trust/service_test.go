package trust

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	orgA = "a8f7c2f1-3f6e-4f10-9e34-0c2b5a6d7e81"
	orgB = "b91d4c7a-52aa-4d0e-8f3b-6c1e2d9f0a42"
	orgC = "c4e8a1b3-7d20-45c6-9f88-2a3b4c5d6e7f"
)

func newTestService(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	store := NewInMemory()
	svc, err := NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	return svc, store
}

func activate(t *testing.T, svc *Service, relID string, orgs ...string) {
	t.Helper()
	for _, org := range orgs {
		if _, err := svc.ApproveRelationship(context.Background(), relID, org); err != nil {
			t.Fatalf("approve by %s: %v", org, err)
		}
	}
}

func TestCreateRelationshipDefaultsFromLevel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, err := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelHigh,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rel.Status != StatusPending {
		t.Fatalf("expected pending, got %s", rel.Status)
	}
	if !rel.IsBilateral {
		t.Fatal("default relationship type should be bilateral")
	}
	if rel.AnonymizationLevel != AnonymizationMinimal || rel.AccessLevel != AccessContribute {
		t.Fatalf("defaults not taken from High level: %s/%s", rel.AnonymizationLevel, rel.AccessLevel)
	}
}

func TestDuplicatePairRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium,
	}
	if _, err := svc.CreateRelationship(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateRelationship(ctx, p); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Reverse direction is a distinct relationship.
	if _, err := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgB,
		TargetOrganizationID: orgA,
		TrustLevelName:       LevelMedium,
	}); err != nil {
		t.Fatalf("reverse pair should be legal: %v", err)
	}
}

func TestConcurrentCreateExactlyOneSucceeds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateRelationship(ctx, CreateRelationshipParams{
				SourceOrganizationID: orgA,
				TargetOrganizationID: orgB,
				TrustLevelName:       LevelMedium,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes := 0
	for err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d", successes)
	}
}

func TestBilateralActivationNeedsBothApprovals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, err := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium,
	})
	if err != nil {
		t.Fatal(err)
	}

	after, err := svc.ApproveRelationship(ctx, rel.ID, orgA)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != StatusPending {
		t.Fatalf("one approval must not activate a bilateral edge, got %s", after.Status)
	}
	if _, err := svc.ApproveRelationship(ctx, rel.ID, orgA); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got %v", err)
	}

	after, err = svc.ApproveRelationship(ctx, rel.ID, orgB)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != StatusActive {
		t.Fatalf("expected active after both approvals, got %s", after.Status)
	}
	if _, err := svc.ApproveRelationship(ctx, rel.ID, orgC); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("non-endpoint approval should fail, got %v", err)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, _ := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium,
	})
	activate(t, svc, rel.ID, orgA, orgB)

	revoked, err := svc.RevokeRelationship(ctx, rel.ID, orgA, "partner offboarded")
	if err != nil {
		t.Fatal(err)
	}
	if revoked.Status != StatusRevoked || revoked.RevokedBy != orgA {
		t.Fatalf("unexpected revocation state: %+v", revoked)
	}
	if _, err := svc.RevokeRelationship(ctx, rel.ID, orgB, ""); !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("double revoke should hit terminal status, got %v", err)
	}
	if _, err := svc.ApproveRelationship(ctx, rel.ID, orgB); !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("approving a revoked edge should fail, got %v", err)
	}
}

func TestResolvePrefersHighestPath(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, _ := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelLow,
	})
	activate(t, svc, rel.ID, orgA, orgB)

	group, err := svc.CreateGroup(ctx, CreateGroupParams{
		Name:              "fin-sector-isac",
		Description:       "Financial sector sharing pool",
		GroupType:         GroupSector,
		DefaultTrustLevel: LevelHigh,
		CreatedBy:         orgA,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.JoinGroup(ctx, group.ID, orgB, MemberRegular, ""); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Resolve(ctx, orgA, orgB)
	if err != nil {
		t.Fatal(err)
	}
	if res.TrustValue != 75 {
		t.Fatalf("group path (75) should beat direct Low edge (25), got %d via %s", res.TrustValue, res.Via)
	}
	if res.Via != "group:fin-sector-isac" {
		t.Fatalf("unexpected path: %s", res.Via)
	}
}

func TestResolveTiePrefersDirectRelationship(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, _ := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelHigh,
	})
	activate(t, svc, rel.ID, orgA, orgB)

	group, _ := svc.CreateGroup(ctx, CreateGroupParams{
		Name:              "peer-pool",
		Description:       "Peer exchange",
		DefaultTrustLevel: LevelHigh,
		CreatedBy:         orgA,
	})
	_, _ = svc.JoinGroup(ctx, group.ID, orgB, MemberRegular, "")

	res, err := svc.Resolve(ctx, orgA, orgB)
	if err != nil {
		t.Fatal(err)
	}
	if res.Via != "relationship" {
		t.Fatalf("tie should resolve to the direct relationship, got %s", res.Via)
	}
}

func TestCheckTrustLevelNoPath(t *testing.T) {
	svc, _ := newTestService(t)
	v, err := svc.CheckTrustLevel(context.Background(), orgA, orgC)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("expected zero trust, got %d", v)
	}
}

func TestCanAccessIntelligenceOrdering(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, _ := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium, // subscribe access
	})
	activate(t, svc, rel.ID, orgA, orgB)

	ok, err := svc.CanAccessIntelligence(ctx, orgB, orgA, AccessRead)
	if err != nil || !ok {
		t.Fatalf("subscribe should satisfy read: ok=%v err=%v", ok, err)
	}
	ok, err = svc.CanAccessIntelligence(ctx, orgB, orgA, AccessContribute)
	if err != nil || ok {
		t.Fatalf("subscribe must not satisfy contribute: ok=%v err=%v", ok, err)
	}
	if _, err := svc.CanAccessIntelligence(ctx, orgB, orgA, AccessLevel("root")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown level should fail, got %v", err)
	}
}

func TestLastAdministratorCannotLeave(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, CreateGroupParams{
		Name:        "exchange",
		Description: "General exchange",
		CreatedBy:   orgA,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.LeaveGroup(ctx, group.ID, orgA); !errors.Is(err, ErrLastAdministrator) {
		t.Fatalf("expected ErrLastAdministrator, got %v", err)
	}

	if _, err := svc.JoinGroup(ctx, group.ID, orgB, MemberAdministrator, orgA); err != nil {
		t.Fatal(err)
	}
	if err := svc.LeaveGroup(ctx, group.ID, orgA); err != nil {
		t.Fatalf("leaving with another admin present should succeed: %v", err)
	}
}

func TestConcurrentLeaveKeepsOneAdministrator(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	group, _ := svc.CreateGroup(ctx, CreateGroupParams{
		Name:        "dual-admin",
		Description: "Two administrators racing to leave",
		CreatedBy:   orgA,
	})
	if _, err := svc.JoinGroup(ctx, group.ID, orgB, MemberAdministrator, orgA); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, org := range []string{orgA, orgB} {
		wg.Add(1)
		go func(org string) {
			defer wg.Done()
			errs <- svc.LeaveGroup(ctx, group.ID, org)
		}(org)
	}
	wg.Wait()
	close(errs)

	var lastAdmin, succeeded int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrLastAdministrator):
			lastAdmin++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || lastAdmin != 1 {
		t.Fatalf("expected one departure and one block, got %d/%d", succeeded, lastAdmin)
	}
}

func TestExpireDueRelationships(t *testing.T) {
	store := NewInMemory()
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store.WithClock(func() time.Time { return current })
	svc, err := NewService(store, WithClock(func() time.Time { return current }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := svc.EnsureBuiltins(ctx); err != nil {
		t.Fatal(err)
	}

	until := current.Add(time.Hour)
	rel, err := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium,
		ValidUntil:           &until,
	})
	if err != nil {
		t.Fatal(err)
	}
	activate(t, svc, rel.ID, orgA, orgB)

	current = current.Add(2 * time.Hour)
	n, err := svc.ExpireDueRelationships(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one expiry, got %d", n)
	}
	after, _ := store.Relationships(ctx).Find(ctx, rel.ID)
	if after.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", after.Status)
	}

	res, err := svc.Resolve(ctx, orgA, orgB)
	if err != nil {
		t.Fatal(err)
	}
	if res.TrustValue != 0 {
		t.Fatalf("expired edge must carry no trust, got %d", res.TrustValue)
	}
}

func TestDashboardAndSharingOrganizations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rel, _ := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium,
	})
	activate(t, svc, rel.ID, orgA, orgB)
	_, _ = svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgC,
		TrustLevelName:       LevelLow,
	})

	group, _ := svc.CreateGroup(ctx, CreateGroupParams{
		Name:        "regional",
		Description: "Regional exchange",
		CreatedBy:   orgA,
	})
	_, _ = svc.JoinGroup(ctx, group.ID, orgC, MemberRegular, "")

	data, err := svc.Dashboard(ctx, orgA)
	if err != nil {
		t.Fatal(err)
	}
	if data.ActiveRelationships != 1 || data.PendingRelationships != 1 {
		t.Fatalf("unexpected counts: %+v", data)
	}
	if data.GroupMemberships != 1 {
		t.Fatalf("expected one membership, got %d", data.GroupMemberships)
	}
	// orgB via relationship, orgC via group co-membership.
	if len(data.SharingPartners) != 2 {
		t.Fatalf("expected two sharing partners, got %v", data.SharingPartners)
	}
}

func TestTrustLevelImmutableWhileReferenced(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rel, _ := svc.CreateRelationship(ctx, CreateRelationshipParams{
		SourceOrganizationID: orgA,
		TargetOrganizationID: orgB,
		TrustLevelName:       LevelMedium,
	})
	activate(t, svc, rel.ID, orgA, orgB)

	v := 60
	if _, err := store.TrustLevels(ctx).Update(ctx, LevelMedium, TrustLevelUpdate{NumericalValue: &v}); !errors.Is(err, ErrLevelReferenced) {
		t.Fatalf("numeric change while referenced should fail, got %v", err)
	}
	desc := "corrected wording"
	if _, err := store.TrustLevels(ctx).Update(ctx, LevelMedium, TrustLevelUpdate{Description: &desc}); err != nil {
		t.Fatalf("administrative description correction should pass: %v", err)
	}
}

func TestStrategyNameForLevel(t *testing.T) {
	cases := map[string]string{
		"none":     "none",
		"minimal":  "minimal",
		"moderate": "minimal",
		"standard": "partial",
		"partial":  "partial",
		"full":     "full",
		"bogus":    "full",
		"":         "full",
	}
	for in, want := range cases {
		if got := StrategyNameForLevel(in); got != want {
			t.Fatalf("StrategyNameForLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnonymizeForRequesterSelf(t *testing.T) {
	svc, _ := newTestService(t)
	obj := map[string]any{"type": "indicator", "name": "internal"}
	out, res, err := svc.AnonymizeForRequester(context.Background(), orgA, orgA, obj)
	if err != nil {
		t.Fatal(err)
	}
	if res.Via != "self" || out["name"] != "internal" {
		t.Fatalf("self access must be unredacted: %+v %v", res, out)
	}
}
