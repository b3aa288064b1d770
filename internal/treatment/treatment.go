// Package treatment reads the per-tooth procedure log doctors keep for each patient.
package treatment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Entry struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Treatment string
	Tooth     *string
	Notes     *string
	CreatedAt time.Time
}

// Log is the read side used by the reminder generator plus the insert used by seeding.
type Log interface {
	// ListOnOrBefore returns entries dated on or before cutoff, most recent first.
	ListOnOrBefore(ctx context.Context, cutoff time.Time) ([]Entry, error)
	Record(ctx context.Context, e Entry) (*Entry, error)
}

// LatestPerPatient keeps the first entry seen per patient. With input ordered
// most-recent-first that is each patient's latest entry.
func LatestPerPatient(entries []Entry) []Entry {
	seen := make(map[uuid.UUID]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.PatientID]; ok {
			continue
		}
		seen[e.PatientID] = struct{}{}
		out = append(out, e)
	}
	return out
}

var _ Log = (*PgLog)(nil)

type PgLog struct {
	pool *pgxpool.Pool
}

func NewPgLog(pool *pgxpool.Pool) *PgLog {
	return &PgLog{pool: pool}
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.PatientID, &e.DoctorID, &e.Date, &e.Treatment, &e.Tooth, &e.Notes, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (l *PgLog) ListOnOrBefore(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, patient_id, doctor_id, date, treatment, tooth, notes, created_at
		FROM treatment_logs
		WHERE date <= $1
		ORDER BY date DESC, created_at DESC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query treatment logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (l *PgLog) Record(ctx context.Context, e Entry) (*Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	row := l.pool.QueryRow(ctx, `
		INSERT INTO treatment_logs (id, patient_id, doctor_id, date, treatment, tooth, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, patient_id, doctor_id, date, treatment, tooth, notes, created_at
	`, e.ID, e.PatientID, e.DoctorID, e.Date, e.Treatment, e.Tooth, e.Notes)
	out, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("insert treatment log: %w", err)
	}
	return out, nil
}
