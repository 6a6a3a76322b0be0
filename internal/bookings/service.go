// Package bookings keeps a local ledger of every appointment confirmation
// attempt made by the booking driver.
package bookings

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

var bookingsTracer = otel.Tracer("portal.internal.bookings")

// Service records booking attempts.
type Service struct {
	repo   *Repository
	logger *logging.Logger
}

// NewService constructs a bookings service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// RecordAttempt stores the outcome of one slot confirmation.
func (s *Service) RecordAttempt(ctx context.Context, session *booking.Session, outcome booking.SlotOutcome) error {
	ctx, span := bookingsTracer.Start(ctx, "bookings.record_attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("portal.session_id", session.ID),
		attribute.Int("portal.slot_id", outcome.Slot.TimeSlot.ID),
		attribute.Bool("portal.success", outcome.Success),
	)

	slot := outcome.Slot
	attempt := &Attempt{
		SessionID:   session.ID,
		PatientID:   session.Patient.PatientID,
		SpecialtyID: slot.Specialty.ID,
		Specialty:   slot.Specialty.Description,
		ScheduleID:  slot.TimeSlot.ScheduleID,
		SlotID:      slot.TimeSlot.ID,
		SlotDate:    slot.TimeSlot.DateString,
		UnitID:      slot.TimeSlot.Unit.ID,
		Success:     outcome.Success,
		Message:     outcome.Message,
		AttemptedAt: outcome.Attempted,
	}
	if err := s.repo.Insert(ctx, attempt); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Debug("booking attempt recorded", "session_id", session.ID, "attempt_id", attempt.ID, "success", outcome.Success)
	return nil
}

// ListBySession returns the recorded attempts for a session.
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]Attempt, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.list_by_session")
	defer span.End()

	attempts, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return attempts, nil
}
