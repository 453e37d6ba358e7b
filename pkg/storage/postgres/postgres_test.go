package postgres

import (
	"context"
	"errors"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/session"
	"github.com/stridefit/stride/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container, provisions a restricted
// application role, and returns a connected DB. Row level security only
// bites when the application pool runs as a role without BYPASSRLS, so
// the owner connection and the app connection use different roles just
// like production. Tests are skipped if no container runtime is
// available.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("stride_test"),
		pgmodule.WithUsername("owner"),
		pgmodule.WithPassword("owner"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	ownerDSN, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	// The app role must exist before New opens the application pool.
	conn, err := pgx.Connect(ctx, ownerDSN)
	if err != nil {
		t.Fatalf("connecting as owner: %v", err)
	}
	if _, err := conn.Exec(ctx, "CREATE ROLE stride_app LOGIN PASSWORD 'app'"); err != nil {
		t.Fatalf("creating app role: %v", err)
	}
	conn.Close(ctx)

	db, err := New(ctx, Config{
		OwnerDSN:       ownerDSN,
		AppDSN:         withUser(t, ownerDSN, "stride_app", "app"),
		AppRole:        "stride_app",
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating db: %v", err)
	}
	t.Cleanup(db.Close)

	return db
}

// withUser swaps the credentials in a connection URL.
func withUser(t *testing.T, dsn, user, password string) string {
	t.Helper()
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parsing DSN: %v", err)
	}
	u.User = url.UserPassword(user, password)
	return u.String()
}

func createTestPrincipal(t *testing.T, db *DB, email string) *api.Principal {
	t.Helper()
	p := &api.Principal{Email: email, Role: api.RoleUser, Active: true}
	if err := NewPrincipalStore(db).CreatePrincipal(context.Background(), p); err != nil {
		t.Fatalf("creating principal %s: %v", email, err)
	}
	return p
}

func TestPostgres_PrincipalLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewPrincipalStore(db)

	p := &api.Principal{Email: "alice@example.com", FullName: "Alice", Role: api.RoleUser, Active: true, PasswordHash: "x"}
	if err := store.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}

	got, err := store.GetPrincipalByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetPrincipalByEmail: %v", err)
	}
	if got.ID != p.ID || got.FullName != "Alice" {
		t.Errorf("got %+v, want the created principal", got)
	}

	if err := store.CreatePrincipal(ctx, &api.Principal{Email: "alice@example.com", Role: api.RoleUser}); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate email: err = %v, want ErrConflict", err)
	}

	if err := store.SetRole(ctx, p.ID, api.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if err := store.Deactivate(ctx, p.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, err = store.GetPrincipal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if got.Role != api.RoleAdmin || got.Active {
		t.Errorf("after updates: role=%q active=%v, want admin/inactive", got.Role, got.Active)
	}

	if _, err := store.GetPrincipal(ctx, uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_OIDCLinks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	principals := NewPrincipalStore(db)
	providers := NewProviderStore(db)

	p := createTestPrincipal(t, db, "alice@example.com")
	prov := &oidc.Provider{DisplayName: "Keycloak", IssuerURL: "https://id.example.com", ClientID: "web", Active: true}
	if err := providers.CreateProvider(ctx, prov); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	list, err := providers.ListProviders(ctx, false)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListProviders: %v / %d", err, len(list))
	}
	providerID := list[0].ID

	if err := principals.LinkOIDCSubject(ctx, p.ID, providerID, "sub-1"); err != nil {
		t.Fatalf("LinkOIDCSubject: %v", err)
	}
	got, err := principals.GetPrincipalByOIDCSubject(ctx, providerID, "sub-1")
	if err != nil {
		t.Fatalf("GetPrincipalByOIDCSubject: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("resolved %q, want %q", got.ID, p.ID)
	}

	if _, err := principals.GetPrincipalByOIDCSubject(ctx, providerID, "sub-unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown subject: err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_DiaryTenantIsolation(t *testing.T) {
	db := setupTestDB(t)
	store := NewDiaryStore(db)

	alice := createTestPrincipal(t, db, "alice@example.com")
	bob := createTestPrincipal(t, db, "bob@example.com")

	ctxAlice := storage.SetTenant(context.Background(), alice.ID)
	ctxBob := storage.SetTenant(context.Background(), bob.ID)

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	entry := &storage.DiaryEntry{EntryDate: day, Kind: "food", Note: "oatmeal"}
	if err := store.CreateDiaryEntry(ctxAlice, entry); err != nil {
		t.Fatalf("CreateDiaryEntry: %v", err)
	}
	if entry.PrincipalID != alice.ID {
		t.Errorf("entry owner = %q, want the tenant %q", entry.PrincipalID, alice.ID)
	}

	from, to := day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)

	mine, err := store.ListDiaryEntries(ctxAlice, from, to)
	if err != nil {
		t.Fatalf("ListDiaryEntries(alice): %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("alice sees %d entries, want 1", len(mine))
	}

	theirs, err := store.ListDiaryEntries(ctxBob, from, to)
	if err != nil {
		t.Fatalf("ListDiaryEntries(bob): %v", err)
	}
	if len(theirs) != 0 {
		t.Errorf("bob sees %d of alice's entries, want 0", len(theirs))
	}

	if _, err := store.ListDiaryEntries(context.Background(), from, to); !errors.Is(err, storage.ErrNoTenant) {
		t.Errorf("no tenant: err = %v, want ErrNoTenant", err)
	}
}

func TestPostgres_DiaryOwnerCannotBeSpoofed(t *testing.T) {
	db := setupTestDB(t)
	store := NewDiaryStore(db)

	alice := createTestPrincipal(t, db, "alice@example.com")
	bob := createTestPrincipal(t, db, "bob@example.com")

	ctxAlice := storage.SetTenant(context.Background(), alice.ID)

	// A forged owner id in the struct is overwritten by the tenant.
	entry := &storage.DiaryEntry{
		PrincipalID: bob.ID,
		EntryDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Kind:        "food",
	}
	if err := store.CreateDiaryEntry(ctxAlice, entry); err != nil {
		t.Fatalf("CreateDiaryEntry: %v", err)
	}
	if entry.PrincipalID != alice.ID {
		t.Errorf("entry owner = %q, want %q", entry.PrincipalID, alice.ID)
	}
}

func TestPostgres_CheckinsAndHealthSamples(t *testing.T) {
	db := setupTestDB(t)
	store := NewDiaryStore(db)

	alice := createTestPrincipal(t, db, "alice@example.com")
	ctx := storage.SetTenant(context.Background(), alice.ID)

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := store.CreateCheckin(ctx, &storage.Checkin{CheckinDate: day, WeightKG: 72.5}); err != nil {
		t.Fatalf("CreateCheckin: %v", err)
	}
	checkins, err := store.ListCheckins(ctx, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListCheckins: %v", err)
	}
	if len(checkins) != 1 || checkins[0].WeightKG != 72.5 {
		t.Errorf("checkins = %+v, want one at 72.5kg", checkins)
	}

	if err := store.SaveHealthSample(ctx, &storage.HealthSample{Metric: "steps", Value: 9500}); err != nil {
		t.Fatalf("SaveHealthSample: %v", err)
	}
}

func TestPostgres_GrantVisibilityAndChecks(t *testing.T) {
	db := setupTestDB(t)
	store := NewGrantStore(db)

	alice := createTestPrincipal(t, db, "alice@example.com")
	bob := createTestPrincipal(t, db, "bob@example.com")
	carol := createTestPrincipal(t, db, "carol@example.com")

	ctxAlice := storage.SetTenant(context.Background(), alice.ID)
	ctxBob := storage.SetTenant(context.Background(), bob.ID)
	ctxCarol := storage.SetTenant(context.Background(), carol.ID)

	grant := &access.Grant{
		GrantorID:   alice.ID,
		GranteeID:   bob.ID,
		Permissions: map[api.Permission]bool{api.PermissionDiary: true},
		Active:      true,
	}
	if err := store.CreateGrant(ctxAlice, grant); err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	// Both parties see the grant through their own tenant context.
	given, err := store.ListGrantsByGrantor(ctxAlice, alice.ID)
	if err != nil || len(given) != 1 {
		t.Fatalf("ListGrantsByGrantor: %v / %d", err, len(given))
	}
	received, err := store.ListGrantsForGrantee(ctxBob, bob.ID)
	if err != nil || len(received) != 1 {
		t.Fatalf("ListGrantsForGrantee: %v / %d", err, len(received))
	}

	// A stranger sees nothing; row level security hides the row.
	invisible, err := store.ListGrantsByGrantor(ctxCarol, alice.ID)
	if err != nil {
		t.Fatalf("ListGrantsByGrantor(carol): %v", err)
	}
	if len(invisible) != 0 {
		t.Errorf("carol sees %d grants, want 0", len(invisible))
	}

	ok, err := store.HasPermission(ctxBob, alice.ID, bob.ID, api.PermissionDiary)
	if err != nil || !ok {
		t.Errorf("HasPermission(diary) = %v/%v, want true", ok, err)
	}
	ok, err = store.HasPermission(ctxBob, alice.ID, bob.ID, api.PermissionCheckin)
	if err != nil || ok {
		t.Errorf("HasPermission(checkin) = %v/%v, want false", ok, err)
	}

	// Duplicate grantor/grantee pair conflicts.
	dup := &access.Grant{
		GrantorID:   alice.ID,
		GranteeID:   bob.ID,
		Permissions: map[api.Permission]bool{api.PermissionReports: true},
		Active:      true,
	}
	if err := store.CreateGrant(ctxAlice, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate pair: err = %v, want ErrConflict", err)
	}

	// Only the grantor can revoke.
	if err := store.DeleteGrant(ctxBob, grant.ID, bob.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("grantee revoke: err = %v, want ErrNotFound", err)
	}
	if err := store.DeleteGrant(ctxAlice, grant.ID, alice.ID); err != nil {
		t.Fatalf("grantor revoke: %v", err)
	}
	ok, err = store.HasPermission(ctxBob, alice.ID, bob.ID, api.PermissionDiary)
	if err != nil || ok {
		t.Errorf("HasPermission after revoke = %v/%v, want false", ok, err)
	}
}

func TestPostgres_GrantWriteRequiresGrantorTenant(t *testing.T) {
	db := setupTestDB(t)
	store := NewGrantStore(db)

	alice := createTestPrincipal(t, db, "alice@example.com")
	bob := createTestPrincipal(t, db, "bob@example.com")

	// Bob's tenant context may not create a grant in alice's name; the
	// row level security WITH CHECK rejects the insert.
	ctxBob := storage.SetTenant(context.Background(), bob.ID)
	forged := &access.Grant{
		GrantorID:   alice.ID,
		GranteeID:   bob.ID,
		Permissions: map[api.Permission]bool{api.PermissionDiary: true},
		Active:      true,
	}
	if err := store.CreateGrant(ctxBob, forged); err == nil {
		t.Fatal("forged grant accepted, want an error")
	}
}

func TestPostgres_SessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewSessionStore(db)

	rec := &session.Record{
		ID:          "sess-" + uuid.NewString(),
		PrincipalID: uuid.NewString(),
		Claims:      map[string]any{"email": "alice@example.com"},
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := store.PutSession(ctx, rec); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.PrincipalID != rec.PrincipalID {
		t.Errorf("principal = %q, want %q", got.PrincipalID, rec.PrincipalID)
	}
	if got.Claims["email"] != "alice@example.com" {
		t.Errorf("claims = %+v, want the stored email", got.Claims)
	}

	// Sliding expiry: an update through PutSession moves expires_at.
	rec.ExpiresAt = time.Now().Add(2 * time.Hour)
	if err := store.PutSession(ctx, rec); err != nil {
		t.Fatalf("PutSession(update): %v", err)
	}

	if err := store.DeleteSession(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, rec.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_SweepExpiredSessions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewSessionStore(db)

	expired := &session.Record{
		ID:        "sess-expired-" + uuid.NewString(),
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	live := &session.Record{
		ID:        "sess-live-" + uuid.NewString(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, rec := range []*session.Record{expired, live} {
		if err := store.PutSession(ctx, rec); err != nil {
			t.Fatalf("PutSession: %v", err)
		}
	}

	swept, err := store.SweepExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredSessions: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept %d sessions, want 1", swept)
	}
	if _, err := store.GetSession(ctx, live.ID); err != nil {
		t.Errorf("live session swept: %v", err)
	}
}

func TestPostgres_APIKeyLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewAPIKeyStore(db)

	alice := createTestPrincipal(t, db, "alice@example.com")

	key, err := store.CreateAPIKey(ctx, alice.ID, "sk-test-123", "wearable sync",
		map[string]bool{api.APIKeyPermissionHealthWrite: true})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := store.GetAPIKey(ctx, "sk-test-123")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.PrincipalID != alice.ID || !got.Active {
		t.Errorf("key = %+v, want an active key for alice", got)
	}
	if !got.Permissions[api.APIKeyPermissionHealthWrite] {
		t.Errorf("permissions = %+v, want health write", got.Permissions)
	}

	if err := store.SetAPIKeyActive(ctx, key.ID, false); err != nil {
		t.Fatalf("SetAPIKeyActive: %v", err)
	}
	got, err = store.GetAPIKey(ctx, "sk-test-123")
	if err != nil {
		t.Fatalf("GetAPIKey after revoke: %v", err)
	}
	if got.Active {
		t.Error("key still active after revocation")
	}

	if _, err := store.GetAPIKey(ctx, "sk-unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown key: err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_ProviderRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewProviderStore(db)

	p := &oidc.Provider{DisplayName: "Keycloak", IssuerURL: "https://id.example.com", ClientID: "web", ClientSecret: "s3cret", Active: true}
	if err := store.CreateProvider(ctx, p); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	off := &oidc.Provider{DisplayName: "Disabled", IssuerURL: "https://off.example.com", ClientID: "web", Active: false}
	if err := store.CreateProvider(ctx, off); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	active, err := store.ListProviders(ctx, true)
	if err != nil {
		t.Fatalf("ListProviders(active): %v", err)
	}
	if len(active) != 1 || active[0].DisplayName != "Keycloak" {
		t.Errorf("active providers = %+v, want only Keycloak", active)
	}

	got, err := store.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if got.ClientSecret != "s3cret" {
		t.Errorf("stored secret = %q, want the original", got.ClientSecret)
	}

	got.DisplayName = "Keycloak Prod"
	if err := store.UpdateProvider(ctx, got); err != nil {
		t.Fatalf("UpdateProvider: %v", err)
	}
	if err := store.DeleteProvider(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProvider: %v", err)
	}
	if _, err := store.GetProvider(ctx, p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}
