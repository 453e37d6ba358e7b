package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/storage"
)

func TestMiddlewarePublicRouteBypassesChain(t *testing.T) {
	var chainRan bool
	chain := &Chain{Authenticators: []Authenticator{
		&staticAuthenticator{result: Result{Decision: Abstain}, called: &chainRan},
	}}

	var sawIdentity *Identity
	handler := Middleware(chain, PublicRoutes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/auth/login", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if chainRan {
		t.Error("chain ran on a public route")
	}
	if sawIdentity != nil {
		t.Error("identity attached on a public route")
	}
}

func TestMiddlewareRejectsWithoutCredentials(t *testing.T) {
	chain := &Chain{}
	handler := Middleware(chain, PublicRoutes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran for an unauthenticated request")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/diary", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Error == nil || resp.Error.Type != api.ErrorTypeUnauthorized {
		t.Errorf("body = %q, want the generic unauthorized envelope", rec.Body.String())
	}
	if got := resp.Error.Message; got != "authentication required" {
		t.Errorf("message = %q, want the generic message", got)
	}
}

func TestMiddlewareAttachesIdentityAndTenant(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&staticAuthenticator{result: Result{
			Decision: Yes,
			Identity: &Identity{Subject: "p1", Method: "session_token"},
		}},
	}}

	var gotActing Acting
	var gotTenant string
	handler := Middleware(chain, PublicRoutes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActing, _ = ActingFromContext(r.Context())
		gotTenant = storage.GetTenant(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/diary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotActing.AuthenticatedID != "p1" || gotActing.EffectiveID != "p1" {
		t.Errorf("acting = %+v, want both ids p1", gotActing)
	}
	if gotActing.Delegated() {
		t.Error("freshly authenticated request reported as delegated")
	}
	if gotTenant != "p1" {
		t.Errorf("tenant = %q, want p1", gotTenant)
	}
}

func TestMiddlewareRejectsEmptySubject(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&staticAuthenticator{result: Result{Decision: Yes, Identity: &Identity{}}},
	}}
	handler := Middleware(chain, PublicRoutes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran with an empty subject")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/diary", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestInProcessLimiter(t *testing.T) {
	limiter := NewInProcessLimiter(2, 0)
	ctx := context.Background()

	if err := limiter.Allow(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := limiter.Allow(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("second request rejected: %v", err)
	}
	if err := limiter.Allow(ctx, "10.0.0.1"); err == nil {
		t.Fatal("third request allowed past the limit")
	}
	// A different client has its own budget.
	if err := limiter.Allow(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("separate client rejected: %v", err)
	}
}

func TestInProcessLimiterEvictsExpiredWindows(t *testing.T) {
	limiter := NewInProcessLimiter(10, 5*time.Millisecond)
	ctx := context.Background()

	for _, key := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if err := limiter.Allow(ctx, key); err != nil {
			t.Fatalf("Allow(%s): %v", key, err)
		}
	}

	time.Sleep(20 * time.Millisecond)

	if err := limiter.Allow(ctx, "10.0.0.4"); err != nil {
		t.Fatalf("Allow after window: %v", err)
	}

	limiter.mu.Lock()
	n := len(limiter.counters)
	limiter.mu.Unlock()
	if n != 1 {
		t.Errorf("counters retained = %d, want only the live window", n)
	}
}
