package storage

import (
	"context"
	"time"

	"github.com/stridefit/stride/pkg/api"
)

// PrincipalStore manages principal records. Lookups run on the owner
// pool because they happen before (or independent of) a tenant context.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*api.Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*api.Principal, error)
	CreatePrincipal(ctx context.Context, p *api.Principal) error
	SetRole(ctx context.Context, id string, role api.Role) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Deactivate(ctx context.Context, id string) error

	// OIDC identity links: (provider id, subject claim) -> principal id.
	GetPrincipalByOIDCSubject(ctx context.Context, providerID, subject string) (*api.Principal, error)
	LinkOIDCSubject(ctx context.Context, principalID, providerID, subject string) error
}

// DiaryEntry is a principal-owned diary row, the representative
// tenant-scoped domain record.
type DiaryEntry struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	EntryDate   time.Time `json:"entry_date"`
	Kind        string    `json:"kind"`
	Note        string    `json:"note"`
	CreatedAt   time.Time `json:"created_at"`
}

// Checkin is a principal-owned body measurement check-in.
type Checkin struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	CheckinDate time.Time `json:"checkin_date"`
	WeightKG    float64   `json:"weight_kg"`
	CreatedAt   time.Time `json:"created_at"`
}

// HealthSample is a measurement written through the ingestion endpoint.
type HealthSample struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// DiaryStore persists the tenant-scoped domain rows exercised by the
// identity pipeline. Implementations must resolve row visibility from
// the effective principal in the context, never from caller-supplied
// filters.
type DiaryStore interface {
	ListDiaryEntries(ctx context.Context, from, to time.Time) ([]DiaryEntry, error)
	CreateDiaryEntry(ctx context.Context, e *DiaryEntry) error

	ListCheckins(ctx context.Context, from, to time.Time) ([]Checkin, error)
	CreateCheckin(ctx context.Context, c *Checkin) error

	SaveHealthSample(ctx context.Context, s *HealthSample) error
}
