package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the pgx surface the repository needs; *pgxpool.Pool satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Attempt is one confirmation call for one slot of an itinerary.
type Attempt struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"sessionId"`
	PatientID   string    `json:"patientId"`
	SpecialtyID int       `json:"specialtyId"`
	Specialty   string    `json:"specialty"`
	ScheduleID  int       `json:"scheduleId"`
	SlotID      int       `json:"slotId"`
	SlotDate    string    `json:"slotDate"`
	UnitID      int       `json:"unitId"`
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// Repository persists booking attempts.
type Repository struct {
	db DBTX
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(db DBTX) *Repository {
	if db == nil {
		panic("bookings: db required")
	}
	return &Repository{db: db}
}

// Insert stores an attempt, assigning an id when missing.
func (r *Repository) Insert(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO booking_attempts (
			id, session_id, patient_id, specialty_id, specialty, schedule_id,
			slot_id, slot_date, unit_id, success, message, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		toPGUUID(a.ID), a.SessionID, a.PatientID, a.SpecialtyID, a.Specialty, a.ScheduleID,
		a.SlotID, a.SlotDate, a.UnitID, a.Success, toPGText(a.Message), toPGTime(a.AttemptedAt),
	)
	if err != nil {
		return fmt.Errorf("bookings: insert attempt: %w", err)
	}
	return nil
}

// ListBySession returns the attempts of a session, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Attempt, error) {
	query := `
		SELECT id, session_id, patient_id, specialty_id, specialty, schedule_id,
			slot_id, slot_date, unit_id, success, message, attempted_at
		FROM booking_attempts
		WHERE session_id = $1
		ORDER BY attempted_at ASC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a       Attempt
			id      pgtype.UUID
			message pgtype.Text
			at      pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &a.SessionID, &a.PatientID, &a.SpecialtyID, &a.Specialty, &a.ScheduleID,
			&a.SlotID, &a.SlotDate, &a.UnitID, &a.Success, &message, &at); err != nil {
			return nil, fmt.Errorf("bookings: scan attempt: %w", err)
		}
		if id.Valid {
			a.ID = uuid.UUID(id.Bytes)
		}
		a.Message = message.String
		a.AttemptedAt = at.Time
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: iterate attempts: %w", err)
	}
	return out, nil
}

func toPGUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{
		Bytes: [16]byte(id),
		Valid: true,
	}
}

func toPGTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{
		Time:  t,
		Valid: true,
	}
}

func toPGText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
