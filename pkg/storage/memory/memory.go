// Package memory provides in-memory store implementations for testing
// and single-node development deployments. Data is lost on restart.
// Tenant scoping mirrors the database's row level security: reads and
// writes on principal-owned rows are filtered by the tenant principal
// in the context.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stridefit/stride/pkg/access"
	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth/apikey"
	"github.com/stridefit/stride/pkg/oidc"
	"github.com/stridefit/stride/pkg/storage"
)

// PrincipalStore is an in-memory principal store.
type PrincipalStore struct {
	mu         sync.RWMutex
	byID       map[string]*api.Principal
	byEmail    map[string]string // lowercased email -> id
	oidcLinks  map[string]string // provider id + "\x00" + subject -> principal id
}

var _ storage.PrincipalStore = (*PrincipalStore)(nil)

// NewPrincipalStore creates an empty principal store.
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{
		byID:      make(map[string]*api.Principal),
		byEmail:   make(map[string]string),
		oidcLinks: make(map[string]string),
	}
}

func (s *PrincipalStore) GetPrincipal(_ context.Context, id string) (*api.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *PrincipalStore) GetPrincipalByEmail(_ context.Context, email string) (*api.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *PrincipalStore) CreatePrincipal(_ context.Context, p *api.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Role == "" {
		p.Role = api.RoleUser
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	key := strings.ToLower(p.Email)
	if _, exists := s.byID[p.ID]; exists {
		return storage.ErrConflict
	}
	if _, exists := s.byEmail[key]; exists {
		return storage.ErrConflict
	}
	cp := *p
	s.byID[p.ID] = &cp
	s.byEmail[key] = p.ID
	return nil
}

func (s *PrincipalStore) SetRole(_ context.Context, id string, role api.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Role = role
	return nil
}

func (s *PrincipalStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.PasswordHash = passwordHash
	return nil
}

func (s *PrincipalStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Active = false
	return nil
}

func (s *PrincipalStore) GetPrincipalByOIDCSubject(_ context.Context, providerID, subject string) (*api.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.oidcLinks[providerID+"\x00"+subject]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *PrincipalStore) LinkOIDCSubject(_ context.Context, principalID, providerID, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oidcLinks[providerID+"\x00"+subject] = principalID
	return nil
}

// APIKeyStore is an in-memory API key store.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*apikey.Key // raw key -> record
}

var _ apikey.Store = (*APIKeyStore)(nil)

// NewAPIKeyStore creates an empty API key store.
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]*apikey.Key)}
}

func (s *APIKeyStore) GetAPIKey(_ context.Context, rawKey string) (*apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[rawKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *key
	cp.Permissions = make(map[string]bool, len(key.Permissions))
	for name, v := range key.Permissions {
		cp.Permissions[name] = v
	}
	return &cp, nil
}

// PutAPIKey stores a key record under its raw key value.
func (s *APIKeyStore) PutAPIKey(rawKey string, key *apikey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	cp := *key
	s.keys[rawKey] = &cp
}

// GrantStore is an in-memory delegation grant store. Like the database
// policy, a grant is visible to its grantor and its grantee only.
type GrantStore struct {
	mu     sync.RWMutex
	grants map[string]*access.Grant
}

var _ access.GrantStore = (*GrantStore)(nil)

// NewGrantStore creates an empty grant store.
func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[string]*access.Grant)}
}

func (s *GrantStore) visible(ctx context.Context, g *access.Grant) bool {
	tenant := storage.GetTenant(ctx)
	return tenant == "" || tenant == g.GrantorID || tenant == g.GranteeID
}

func (s *GrantStore) HasPermission(ctx context.Context, grantorID, granteeID string, perms ...api.Permission) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.GrantorID != grantorID || g.GranteeID != granteeID || !s.visible(ctx, g) {
			continue
		}
		if g.Allows(perms...) {
			return true, nil
		}
	}
	return false, nil
}

func (s *GrantStore) CreateGrant(ctx context.Context, g *access.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant := storage.GetTenant(ctx); tenant != "" && tenant != g.GrantorID {
		return storage.ErrConflict
	}
	for _, existing := range s.grants {
		if existing.GrantorID == g.GrantorID && existing.GranteeID == g.GranteeID {
			return storage.ErrConflict
		}
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *GrantStore) ListGrantsByGrantor(ctx context.Context, grantorID string) ([]access.Grant, error) {
	return s.list(ctx, func(g *access.Grant) bool { return g.GrantorID == grantorID })
}

func (s *GrantStore) ListGrantsForGrantee(ctx context.Context, granteeID string) ([]access.Grant, error) {
	return s.list(ctx, func(g *access.Grant) bool { return g.GranteeID == granteeID })
}

func (s *GrantStore) list(ctx context.Context, match func(*access.Grant) bool) ([]access.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []access.Grant
	for _, g := range s.grants {
		if match(g) && s.visible(ctx, g) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *GrantStore) DeleteGrant(ctx context.Context, id, grantorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok || g.GrantorID != grantorID || !s.visible(ctx, g) {
		return storage.ErrNotFound
	}
	delete(s.grants, id)
	return nil
}

// DiaryStore is an in-memory diary store. Rows are keyed by owner and
// reads resolve the owner from the tenant context, the same contract
// the database store gets from row level security.
type DiaryStore struct {
	mu       sync.RWMutex
	entries  map[string][]storage.DiaryEntry
	checkins map[string][]storage.Checkin
	samples  map[string][]storage.HealthSample
}

var _ storage.DiaryStore = (*DiaryStore)(nil)

// NewDiaryStore creates an empty diary store.
func NewDiaryStore() *DiaryStore {
	return &DiaryStore{
		entries:  make(map[string][]storage.DiaryEntry),
		checkins: make(map[string][]storage.Checkin),
		samples:  make(map[string][]storage.HealthSample),
	}
}

func (s *DiaryStore) ListDiaryEntries(ctx context.Context, from, to time.Time) ([]storage.DiaryEntry, error) {
	tenant, err := storage.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.DiaryEntry
	for _, e := range s.entries[tenant] {
		if !e.EntryDate.Before(from) && !e.EntryDate.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *DiaryStore) CreateDiaryEntry(ctx context.Context, e *storage.DiaryEntry) error {
	tenant, err := storage.RequireTenant(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.PrincipalID = tenant
	s.entries[tenant] = append(s.entries[tenant], *e)
	return nil
}

func (s *DiaryStore) ListCheckins(ctx context.Context, from, to time.Time) ([]storage.Checkin, error) {
	tenant, err := storage.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Checkin
	for _, c := range s.checkins[tenant] {
		if !c.CheckinDate.Before(from) && !c.CheckinDate.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *DiaryStore) CreateCheckin(ctx context.Context, c *storage.Checkin) error {
	tenant, err := storage.RequireTenant(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.PrincipalID = tenant
	s.checkins[tenant] = append(s.checkins[tenant], *c)
	return nil
}

func (s *DiaryStore) SaveHealthSample(ctx context.Context, sample *storage.HealthSample) error {
	tenant, err := storage.RequireTenant(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}
	sample.PrincipalID = tenant
	s.samples[tenant] = append(s.samples[tenant], *sample)
	return nil
}

// ProviderStore is an in-memory OIDC provider store.
type ProviderStore struct {
	mu        sync.RWMutex
	providers map[string]*oidc.Provider
}

var _ oidc.ProviderStore = (*ProviderStore)(nil)

// NewProviderStore creates an empty provider store.
func NewProviderStore() *ProviderStore {
	return &ProviderStore{providers: make(map[string]*oidc.Provider)}
}

func (s *ProviderStore) GetProvider(_ context.Context, id string) (*oidc.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *ProviderStore) ListProviders(_ context.Context, activeOnly bool) ([]oidc.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []oidc.Provider
	for _, p := range s.providers {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *ProviderStore) CreateProvider(_ context.Context, p *oidc.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := s.providers[p.ID]; exists {
		return storage.ErrConflict
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

func (s *ProviderStore) UpdateProvider(_ context.Context, p *oidc.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; !ok {
		return storage.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

func (s *ProviderStore) DeleteProvider(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.providers, id)
	return nil
}
