// Package compliance keeps the append-only audit trail of patient phone
// verification.
package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/portal-scheduling/internal/booking"
)

// AuditEvent is an immutable verification audit record. Phone numbers are
// stored masked.
type AuditEvent struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	PatientID   string    `json:"patient_id"`
	Step        string    `json:"step"`
	PhoneMasked string    `json:"phone_masked"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditService handles verification audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO verification_audit_events (
			id, session_id, patient_id, step, phone_masked, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.SessionID,
		event.PatientID,
		event.Step,
		event.PhoneMasked,
		nullString(event.Detail),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// RecordVerification stores one verification step from the booking driver.
func (s *AuditService) RecordVerification(ctx context.Context, rec booking.VerificationRecord) error {
	return s.LogEvent(ctx, AuditEvent{
		SessionID:   rec.SessionID,
		PatientID:   rec.PatientID,
		Step:        rec.Step,
		PhoneMasked: booking.MaskPhone(rec.Phone),
		Detail:      rec.Detail,
		CreatedAt:   rec.At,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	PatientID string
	SessionID string
	Step      string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// QueryEvents retrieves a patient's audit events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, session_id, patient_id, step, phone_masked, detail, created_at
		FROM verification_audit_events
		WHERE patient_id = $1
	`
	args := []interface{}{filter.PatientID}
	argIdx := 2

	if filter.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.Step != "" {
		query += fmt.Sprintf(" AND step = $%d", argIdx)
		args = append(args, filter.Step)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PatientID, &e.Step, &e.PhoneMasked, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
