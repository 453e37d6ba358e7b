package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stridefit/stride/pkg/storage"
)

// DiaryStore persists the principal-owned domain rows. Every query
// leases from the application pool, so row level security scopes
// results to the tenant principal. The queries deliberately carry no
// principal-id filter of their own: visibility is the database's job.
type DiaryStore struct {
	db *DB
}

var _ storage.DiaryStore = (*DiaryStore)(nil)

// NewDiaryStore creates a diary store over the database.
func NewDiaryStore(db *DB) *DiaryStore {
	return &DiaryStore{db: db}
}

// ListDiaryEntries lists the tenant principal's diary entries in the
// date range, inclusive.
func (s *DiaryStore) ListDiaryEntries(ctx context.Context, from, to time.Time) ([]storage.DiaryEntry, error) {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, principal_id, entry_date, kind, note, created_at
		FROM diary_entries
		WHERE entry_date BETWEEN $1 AND $2
		ORDER BY entry_date, created_at
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing diary entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.DiaryEntry
	for rows.Next() {
		var e storage.DiaryEntry
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.EntryDate, &e.Kind, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning diary entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateDiaryEntry inserts a diary entry owned by the tenant principal.
func (s *DiaryStore) CreateDiaryEntry(ctx context.Context, e *storage.DiaryEntry) error {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	// Ownership comes from the tenant context, never from the caller.
	e.PrincipalID = storage.GetTenant(ctx)
	err = conn.QueryRow(ctx, `
		INSERT INTO diary_entries (id, principal_id, entry_date, kind, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, e.ID, e.PrincipalID, e.EntryDate, e.Kind, e.Note).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting diary entry: %w", err)
	}
	return nil
}

// ListCheckins lists the tenant principal's check-ins in the date
// range, inclusive.
func (s *DiaryStore) ListCheckins(ctx context.Context, from, to time.Time) ([]storage.Checkin, error) {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, principal_id, checkin_date, weight_kg, created_at
		FROM checkins
		WHERE checkin_date BETWEEN $1 AND $2
		ORDER BY checkin_date
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing checkins: %w", err)
	}
	defer rows.Close()

	var checkins []storage.Checkin
	for rows.Next() {
		var c storage.Checkin
		if err := rows.Scan(&c.ID, &c.PrincipalID, &c.CheckinDate, &c.WeightKG, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning checkin: %w", err)
		}
		checkins = append(checkins, c)
	}
	return checkins, rows.Err()
}

// CreateCheckin inserts a check-in owned by the tenant principal.
func (s *DiaryStore) CreateCheckin(ctx context.Context, c *storage.Checkin) error {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.PrincipalID = storage.GetTenant(ctx)
	err = conn.QueryRow(ctx, `
		INSERT INTO checkins (id, principal_id, checkin_date, weight_kg)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, c.ID, c.PrincipalID, c.CheckinDate, c.WeightKG).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting checkin: %w", err)
	}
	return nil
}

// SaveHealthSample inserts a measurement from the ingestion endpoint.
func (s *DiaryStore) SaveHealthSample(ctx context.Context, sample *storage.HealthSample) error {
	conn, err := s.db.AcquireApp(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	sample.PrincipalID = storage.GetTenant(ctx)
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}
	_, err = conn.Exec(ctx, `
		INSERT INTO health_samples (id, principal_id, metric, value, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sample.ID, sample.PrincipalID, sample.Metric, sample.Value, sample.RecordedAt)
	if err != nil {
		return fmt.Errorf("inserting health sample: %w", err)
	}
	return nil
}
