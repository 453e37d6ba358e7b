package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/storage"
)

func TestPrincipalLifecycle(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()

	p := &api.Principal{Email: "Alice@Example.com", FullName: "Alice", Active: true}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.ID == "" {
		t.Fatal("id not assigned")
	}
	if p.Role != api.RoleUser {
		t.Errorf("Role = %q, want default user", p.Role)
	}

	// Email lookup is case-insensitive.
	got, err := s.GetPrincipalByEmail(ctx, "alice@example.COM")
	if err != nil {
		t.Fatalf("GetPrincipalByEmail: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("lookup id %q, want %q", got.ID, p.ID)
	}

	dup := &api.Principal{Email: "ALICE@example.com"}
	if err := s.CreatePrincipal(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate email: %v, want ErrConflict", err)
	}

	if err := s.SetRole(ctx, p.ID, api.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if err := s.UpdatePassword(ctx, p.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if err := s.Deactivate(ctx, p.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	got, err = s.GetPrincipal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if got.Role != api.RoleAdmin || got.PasswordHash != "new-hash" || got.Active {
		t.Errorf("updates not applied: %+v", got)
	}

	if err := s.Deactivate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Deactivate unknown: %v, want ErrNotFound", err)
	}
}

func TestPrincipalCopiesAreIsolated(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()

	p := &api.Principal{Email: "a@example.com", Active: true}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}

	got, _ := s.GetPrincipal(ctx, p.ID)
	got.Email = "mutated@example.com"

	again, _ := s.GetPrincipal(ctx, p.ID)
	if again.Email != "a@example.com" {
		t.Error("mutating a returned principal leaked into the store")
	}
}

func TestOIDCLinks(t *testing.T) {
	s := NewPrincipalStore()
	ctx := context.Background()

	p := &api.Principal{Email: "a@example.com", Active: true}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if err := s.LinkOIDCSubject(ctx, p.ID, "provider-1", "sub-abc"); err != nil {
		t.Fatalf("LinkOIDCSubject: %v", err)
	}

	got, err := s.GetPrincipalByOIDCSubject(ctx, "provider-1", "sub-abc")
	if err != nil {
		t.Fatalf("GetPrincipalByOIDCSubject: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("linked id %q, want %q", got.ID, p.ID)
	}

	// The same subject under another provider is a different identity.
	if _, err := s.GetPrincipalByOIDCSubject(ctx, "provider-2", "sub-abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-provider lookup: %v, want ErrNotFound", err)
	}
}

func grantFor(grantor, grantee string, perms ...api.Permission) *access.Grant {
	m := make(map[api.Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return &access.Grant{GrantorID: grantor, GranteeID: grantee, Permissions: m, Active: true}
}

func TestGrantVisibility(t *testing.T) {
	s := NewGrantStore()
	ownerCtx := storage.SetTenant(context.Background(), "owner")

	if err := s.CreateGrant(ownerCtx, grantFor("owner", "helper", api.PermissionDiary)); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	// Both parties see the grant; a stranger does not.
	helperCtx := storage.SetTenant(context.Background(), "helper")
	strangerCtx := storage.SetTenant(context.Background(), "stranger")

	byGrantor, _ := s.ListGrantsByGrantor(ownerCtx, "owner")
	if len(byGrantor) != 1 {
		t.Errorf("grantor sees %d grants, want 1", len(byGrantor))
	}
	forGrantee, _ := s.ListGrantsForGrantee(helperCtx, "helper")
	if len(forGrantee) != 1 {
		t.Errorf("grantee sees %d grants, want 1", len(forGrantee))
	}
	foreign, _ := s.ListGrantsByGrantor(strangerCtx, "owner")
	if len(foreign) != 0 {
		t.Errorf("stranger sees %d grants, want 0", len(foreign))
	}
}

func TestGrantWriteRequiresGrantorTenant(t *testing.T) {
	s := NewGrantStore()
	helperCtx := storage.SetTenant(context.Background(), "helper")

	// The grantee cannot create a grant on the owner's behalf.
	err := s.CreateGrant(helperCtx, grantFor("owner", "helper", api.PermissionDiary))
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("foreign-tenant create: %v, want ErrConflict", err)
	}
}

func TestGrantDuplicatePair(t *testing.T) {
	s := NewGrantStore()
	ownerCtx := storage.SetTenant(context.Background(), "owner")

	if err := s.CreateGrant(ownerCtx, grantFor("owner", "helper", api.PermissionDiary)); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}
	err := s.CreateGrant(ownerCtx, grantFor("owner", "helper", api.PermissionReports))
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate pair: %v, want ErrConflict", err)
	}
}

func TestGrantHasPermissionAndDelete(t *testing.T) {
	s := NewGrantStore()
	ownerCtx := storage.SetTenant(context.Background(), "owner")

	g := grantFor("owner", "helper", api.PermissionDiary, api.PermissionReports)
	if err := s.CreateGrant(ownerCtx, g); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	ok, err := s.HasPermission(ownerCtx, "owner", "helper", api.PermissionDiary)
	if err != nil || !ok {
		t.Errorf("HasPermission diary = %v, %v, want true", ok, err)
	}
	ok, _ = s.HasPermission(ownerCtx, "owner", "helper", api.PermissionCheckin)
	if ok {
		t.Error("HasPermission granted an uncovered permission")
	}

	// The grantee cannot revoke by id.
	helperCtx := storage.SetTenant(context.Background(), "helper")
	if err := s.DeleteGrant(helperCtx, g.ID, "helper"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("grantee delete: %v, want ErrNotFound", err)
	}

	if err := s.DeleteGrant(ownerCtx, g.ID, "owner"); err != nil {
		t.Fatalf("DeleteGrant: %v", err)
	}
	ok, _ = s.HasPermission(ownerCtx, "owner", "helper", api.PermissionDiary)
	if ok {
		t.Error("permission survives revocation")
	}
}

func TestDiaryTenantIsolation(t *testing.T) {
	s := NewDiaryStore()
	aliceCtx := storage.SetTenant(context.Background(), "alice")
	bobCtx := storage.SetTenant(context.Background(), "bob")

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := s.CreateDiaryEntry(aliceCtx, &storage.DiaryEntry{EntryDate: day, Kind: "food", Note: "oatmeal"}); err != nil {
		t.Fatalf("CreateDiaryEntry: %v", err)
	}

	from, to := day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)

	aliceEntries, err := s.ListDiaryEntries(aliceCtx, from, to)
	if err != nil {
		t.Fatalf("ListDiaryEntries: %v", err)
	}
	if len(aliceEntries) != 1 {
		t.Fatalf("alice sees %d entries, want 1", len(aliceEntries))
	}
	if aliceEntries[0].PrincipalID != "alice" {
		t.Errorf("owner = %q, want alice (stamped from tenant)", aliceEntries[0].PrincipalID)
	}

	bobEntries, err := s.ListDiaryEntries(bobCtx, from, to)
	if err != nil {
		t.Fatalf("ListDiaryEntries: %v", err)
	}
	if len(bobEntries) != 0 {
		t.Errorf("bob sees %d of alice's entries, want 0", len(bobEntries))
	}
}

func TestDiaryRequiresTenant(t *testing.T) {
	s := NewDiaryStore()
	_, err := s.ListDiaryEntries(context.Background(), time.Now().AddDate(0, 0, -1), time.Now())
	if !errors.Is(err, storage.ErrNoTenant) {
		t.Errorf("unscoped list: %v, want ErrNoTenant", err)
	}
	err = s.CreateDiaryEntry(context.Background(), &storage.DiaryEntry{EntryDate: time.Now(), Kind: "food"})
	if !errors.Is(err, storage.ErrNoTenant) {
		t.Errorf("unscoped create: %v, want ErrNoTenant", err)
	}
}

func TestDiaryOwnerCannotBeSpoofed(t *testing.T) {
	s := NewDiaryStore()
	aliceCtx := storage.SetTenant(context.Background(), "alice")

	e := &storage.DiaryEntry{PrincipalID: "bob", EntryDate: time.Now(), Kind: "food"}
	if err := s.CreateDiaryEntry(aliceCtx, e); err != nil {
		t.Fatalf("CreateDiaryEntry: %v", err)
	}
	if e.PrincipalID != "alice" {
		t.Errorf("owner = %q, want alice regardless of the caller-supplied value", e.PrincipalID)
	}
}

func TestDiaryDateRange(t *testing.T) {
	s := NewDiaryStore()
	ctx := storage.SetTenant(context.Background(), "alice")

	for _, d := range []int{1, 5, 10} {
		day := time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
		if err := s.CreateCheckin(ctx, &storage.Checkin{CheckinDate: day, WeightKG: 70}); err != nil {
			t.Fatalf("CreateCheckin: %v", err)
		}
	}

	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	checkins, err := s.ListCheckins(ctx, from, to)
	if err != nil {
		t.Fatalf("ListCheckins: %v", err)
	}
	if len(checkins) != 2 {
		t.Errorf("range returned %d checkins, want 2 (bounds inclusive)", len(checkins))
	}
}

func TestProviderStore(t *testing.T) {
	s := NewProviderStore()
	ctx := context.Background()

	if err := s.CreateProvider(ctx, &oidc.Provider{DisplayName: "Keycloak", IssuerURL: "https://id.example.com", Active: true}); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if err := s.CreateProvider(ctx, &oidc.Provider{DisplayName: "Legacy", IssuerURL: "https://old.example.com", Active: false}); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	all, _ := s.ListProviders(ctx, false)
	if len(all) != 2 {
		t.Errorf("full list = %d, want 2", len(all))
	}
	activeOnly, _ := s.ListProviders(ctx, true)
	if len(activeOnly) != 1 {
		t.Errorf("active list = %d, want 1", len(activeOnly))
	}
}
