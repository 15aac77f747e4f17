package access

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type mockRepo struct {
	assignments     map[string][]RoleAssignment
	assignmentCalls int
	assignmentErr   error

	grants     map[string]ResourceAccessGrant
	grantCalls int
	grantErr   error

	accessibleIDs   map[string][]string
	accessibleCalls int

	hierarchy map[string]int

	upserted []ResourceAccessGrant
	deleted  []string
	expired  int64
}

func grantKey(principalID string, resourceType ResourceType, resourceID string) string {
	return principalID + "|" + string(resourceType) + "|" + resourceID
}

func (m *mockRepo) ListActiveRoleAssignments(_ context.Context, principalID string) ([]RoleAssignment, error) {
	m.assignmentCalls++
	if m.assignmentErr != nil {
		return nil, m.assignmentErr
	}
	return m.assignments[principalID], nil
}

func (m *mockRepo) GetResourceAccessGrant(_ context.Context, principalID string, resourceType ResourceType, resourceID string) (ResourceAccessGrant, error) {
	m.grantCalls++
	if m.grantErr != nil {
		return ResourceAccessGrant{}, m.grantErr
	}
	grant, ok := m.grants[grantKey(principalID, resourceType, resourceID)]
	if !ok || grant.Expired(time.Now()) {
		return ResourceAccessGrant{}, ErrNotFound
	}
	return grant, nil
}

func (m *mockRepo) ListAccessibleResourceIDs(_ context.Context, principalID string, resourceType ResourceType, minLevel AccessLevel) ([]string, error) {
	m.accessibleCalls++
	return m.accessibleIDs[principalID+"|"+string(resourceType)], nil
}

func (m *mockRepo) UpsertResourceAccessGrant(_ context.Context, grant ResourceAccessGrant) (ResourceAccessGrant, error) {
	m.upserted = append(m.upserted, grant)
	if m.grants == nil {
		m.grants = make(map[string]ResourceAccessGrant)
	}
	m.grants[grantKey(grant.PrincipalID, grant.ResourceType, grant.ResourceID)] = grant
	return grant, nil
}

func (m *mockRepo) DeleteResourceAccessGrant(_ context.Context, principalID string, resourceType ResourceType, resourceID string) error {
	key := grantKey(principalID, resourceType, resourceID)
	if _, ok := m.grants[key]; !ok {
		return ErrNotFound
	}
	delete(m.grants, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockRepo) DeleteExpiredGrants(_ context.Context, now time.Time) (int64, error) {
	return m.expired, nil
}

func (m *mockRepo) HighestHierarchy(_ context.Context, principalID string) (int, error) {
	return m.hierarchy[principalID], nil
}

func newTestEngine(t *testing.T, repo *mockRepo) *Engine {
	t.Helper()
	resolver, err := NewResolver(repo, NewMemoryCache(), time.Minute, slog.Default(), nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return NewEngine(resolver, repo, slog.Default(), nil)
}

func globalRole(name string, perms ...Permission) RoleAssignment {
	return RoleAssignment{
		Role:         Role{ID: 1, Name: name, Hierarchy: 80},
		ResourceType: GlobalScope,
		Permissions:  perms,
	}
}

func restrictedRole(id int64, name string, resourceType ResourceType, ids []string, perms ...Permission) RoleAssignment {
	return RoleAssignment{
		Role:         Role{ID: id, Name: name, Hierarchy: 50},
		ResourceType: resourceType,
		ResourceIDs:  ids,
		Permissions:  perms,
	}
}

func TestCheckPermissionGlobalRole(t *testing.T) {
	repo := &mockRepo{assignments: map[string][]RoleAssignment{
		"user-1": {globalRole("operator", "parks:read")},
	}}
	engine := newTestEngine(t, repo)

	decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:read", "PARK", "park-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.ResourceRestricted || len(decision.AllowedResourceIDs) != 0 {
		t.Fatalf("expected unrestricted allow, got %+v", decision)
	}
}

func TestCheckPermissionFastNegativeSkipsGrantLookup(t *testing.T) {
	repo := &mockRepo{assignments: map[string][]RoleAssignment{
		"user-1": {globalRole("operator", "parks:read")},
	}}
	engine := newTestEngine(t, repo)

	decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:delete", "PARK", "park-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected deny")
	}
	if repo.grantCalls != 0 {
		t.Fatalf("fast negative must not consult the grant table, got %d calls", repo.grantCalls)
	}
	if repo.assignmentCalls != 1 {
		t.Fatalf("expected a single resolve, got %d", repo.assignmentCalls)
	}
}

func TestCheckPermissionRestrictedRoleOutsideScope(t *testing.T) {
	repo := &mockRepo{assignments: map[string][]RoleAssignment{
		"user-1": {restrictedRole(2, "park-manager", "PARK", []string{"park-1", "park-2"}, "parks:update")},
	}}
	engine := newTestEngine(t, repo)

	decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:update", "PARK", "park-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected deny for park-3")
	}
	if !decision.ResourceRestricted {
		t.Fatal("expected resourceRestricted")
	}
	if len(decision.AllowedResourceIDs) != 2 {
		t.Fatalf("expected the role's id list, got %v", decision.AllowedResourceIDs)
	}
}

func TestCheckPermissionDirectGrantAllows(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &mockRepo{
		assignments: map[string][]RoleAssignment{
			"user-1": {restrictedRole(2, "park-manager", "PARK", []string{"park-1", "park-2"}, "parks:update")},
		},
		grants: map[string]ResourceAccessGrant{
			grantKey("user-1", "PARK", "park-3"): {
				PrincipalID: "user-1", ResourceType: "PARK", ResourceID: "park-3",
				Level: LevelWrite, ExpiresAt: &expiry,
			},
		},
	}
	engine := newTestEngine(t, repo)

	decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:update", "PARK", "park-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected direct grant to allow")
	}
}

func TestCheckPermissionUnionNotIntersection(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &mockRepo{
		assignments: map[string][]RoleAssignment{
			"user-1": {restrictedRole(2, "park-manager", "PARK", []string{"park-a"}, "parks:update")},
		},
		grants: map[string]ResourceAccessGrant{
			grantKey("user-1", "PARK", "park-b"): {
				PrincipalID: "user-1", ResourceType: "PARK", ResourceID: "park-b",
				Level: LevelAdmin, ExpiresAt: &expiry,
			},
		},
	}
	engine := newTestEngine(t, repo)

	for _, id := range []string{"park-a", "park-b"} {
		decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:update", "PARK", id)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", id, err)
		}
		if !decision.Allowed {
			t.Fatalf("expected %s to pass independently", id)
		}
	}
}

func TestCheckPermissionRestrictedUnionIsOrderIndependent(t *testing.T) {
	// Two restricted roles for the same type with different id lists: the
	// second role's ids must be honoured no matter the iteration order.
	roleA := restrictedRole(2, "north-ops", "PARK", []string{"park-1"}, "parks:update")
	roleB := restrictedRole(3, "south-ops", "PARK", []string{"park-9"}, "parks:update")

	for name, order := range map[string][]RoleAssignment{
		"a-then-b": {roleA, roleB},
		"b-then-a": {roleB, roleA},
	} {
		repo := &mockRepo{assignments: map[string][]RoleAssignment{"user-1": order}}
		engine := newTestEngine(t, repo)

		decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:update", "PARK", "park-9")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !decision.Allowed {
			t.Fatalf("%s: expected allow via second role's ids", name)
		}
		if len(decision.AllowedResourceIDs) != 2 {
			t.Fatalf("%s: expected union of both id lists, got %v", name, decision.AllowedResourceIDs)
		}
	}
}

func TestCheckPermissionExpiredGrantBehavesAsAbsent(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	repo := &mockRepo{
		assignments: map[string][]RoleAssignment{
			"user-1": {restrictedRole(2, "park-manager", "PARK", []string{"park-1"}, "parks:update")},
		},
		grants: map[string]ResourceAccessGrant{
			grantKey("user-1", "PARK", "park-3"): {
				PrincipalID: "user-1", ResourceType: "PARK", ResourceID: "park-3",
				Level: LevelAdmin, ExpiresAt: &past,
			},
		},
	}
	engine := newTestEngine(t, repo)

	decision, err := engine.CheckPermission(context.Background(), "user-1", "parks:update", "PARK", "park-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expired grant must behave as no grant")
	}
}

func TestCheckPermissionGrantLevelOrdering(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	repo := &mockRepo{
		assignments: map[string][]RoleAssignment{
			"user-1": {restrictedRole(2, "viewer", "PARK", nil, "parks:read", "parks:update")},
		},
		grants: map[string]ResourceAccessGrant{
			grantKey("user-1", "PARK", "park-1"): {
				PrincipalID: "user-1", ResourceType: "PARK", ResourceID: "park-1",
				Level: LevelRead, ExpiresAt: &expiry,
			},
		},
	}
	engine := newTestEngine(t, repo)

	read, err := engine.CheckPermission(context.Background(), "user-1", "parks:read", "PARK", "park-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !read.Allowed {
		t.Fatal("READ grant must satisfy a read permission")
	}

	write, err := engine.CheckPermission(context.Background(), "user-1", "parks:update", "PARK", "park-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if write.Allowed {
		t.Fatal("READ grant must not satisfy a write permission")
	}

	admin, err := engine.HasAdminAccess(context.Background(), "user-1", "parks:read", "PARK", "park-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if admin.Allowed {
		t.Fatal("READ grant must not satisfy an admin check")
	}
}

func TestCheckPermissionUnknownPrincipal(t *testing.T) {
	repo := &mockRepo{}
	engine := newTestEngine(t, repo)

	decision, err := engine.CheckPermission(context.Background(), "nobody", "parks:read", "PARK", "park-1")
	if err != nil {
		t.Fatalf("unknown principal must not error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("unknown principal must be denied")
	}
}

func TestCheckPermissionRepositoryFailureFailsClosed(t *testing.T) {
	repo := &mockRepo{assignmentErr: errors.New("connection refused")}
	engine := newTestEngine(t, repo)

	_, err := engine.CheckPermission(context.Background(), "user-1", "parks:read", "PARK", "park-1")
	if err == nil {
		t.Fatal("repository failure must propagate as an error")
	}
}

func TestCheckPermissionsBatchResolvesOnce(t *testing.T) {
	repo := &mockRepo{assignments: map[string][]RoleAssignment{
		"user-1": {globalRole("operator", "parks:read", "turbines:read")},
	}}
	engine := newTestEngine(t, repo)

	decisions, err := engine.CheckPermissions(context.Background(), "user-1",
		[]Permission{"parks:read", "turbines:read", "parks:delete"}, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.assignmentCalls != 1 {
		t.Fatalf("batch must resolve once, got %d repository loads", repo.assignmentCalls)
	}
	if !decisions["parks:read"].Allowed || !decisions["turbines:read"].Allowed {
		t.Fatalf("expected allows, got %+v", decisions)
	}
	if decisions["parks:delete"].Allowed {
		t.Fatal("expected deny for unheld permission")
	}
}

func TestQuantifierHelpers(t *testing.T) {
	repo := &mockRepo{assignments: map[string][]RoleAssignment{
		"user-1": {globalRole("operator", "parks:read", "turbines:read")},
	}}
	engine := newTestEngine(t, repo)
	ctx := context.Background()

	if ok, _ := engine.HasPermission(ctx, "user-1", "parks:read"); !ok {
		t.Fatal("expected HasPermission true")
	}
	if ok, _ := engine.HasAllPermissions(ctx, "user-1", "parks:read", "turbines:read"); !ok {
		t.Fatal("expected HasAllPermissions true")
	}
	if ok, _ := engine.HasAllPermissions(ctx, "user-1", "parks:read", "parks:delete"); ok {
		t.Fatal("expected HasAllPermissions false")
	}
	if ok, _ := engine.HasAnyPermission(ctx, "user-1", "parks:delete", "turbines:read"); !ok {
		t.Fatal("expected HasAnyPermission true")
	}
	if repo.assignmentCalls != 1 {
		t.Fatalf("helpers must share the cached resolution, got %d loads", repo.assignmentCalls)
	}
}

func TestHasAccessViaParent(t *testing.T) {
	repo := &mockRepo{assignments: map[string][]RoleAssignment{
		"user-1": {restrictedRole(2, "park-manager", "PARK", []string{"park-1"}, "turbines:read")},
	}}
	engine := newTestEngine(t, repo)

	lookup := func(_ context.Context, childID string) (string, error) {
		if childID == "turbine-7" {
			return "park-1", nil
		}
		return "", nil
	}

	decision, err := engine.HasAccessViaParent(context.Background(), "user-1", "turbines:read",
		"TURBINE", "turbine-7", "PARK", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("expected access via the parent park")
	}

	decision, err = engine.HasAccessViaParent(context.Background(), "user-1", "turbines:read",
		"TURBINE", "turbine-8", "PARK", lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("orphan turbine must stay denied")
	}
}

func TestHierarchyClassOf(t *testing.T) {
	cases := []struct {
		hierarchy int
		want      HierarchyClass
	}{
		{120, ClassSuperadmin},
		{100, ClassSuperadmin},
		{99, ClassAdmin},
		{80, ClassAdmin},
		{60, ClassManager},
		{50, ClassStaff},
		{40, ClassReadOnly},
		{30, ClassNone},
		{20, ClassPortal},
		{1, ClassPortal},
		{0, ClassNone},
		{-5, ClassNone},
	}
	for _, tc := range cases {
		if got := ClassOf(tc.hierarchy); got != tc.want {
			t.Fatalf("ClassOf(%d) = %s, want %s", tc.hierarchy, got, tc.want)
		}
	}
}

func TestHighestHierarchy(t *testing.T) {
	repo := &mockRepo{hierarchy: map[string]int{"user-1": 85}}
	engine := newTestEngine(t, repo)

	got, err := engine.HighestHierarchy(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 85 {
		t.Fatalf("expected 85, got %d", got)
	}
	if got, _ := engine.HighestHierarchy(context.Background(), "nobody"); got != 0 {
		t.Fatalf("expected 0 for unknown principal, got %d", got)
	}
}
