package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

const (
	// DefaultAppointmentType is sent as "tipo" on every confirmation.
	DefaultAppointmentType = "CONSULTA"
	// DefaultStaleBookingAfter is how long a session may sit in booking
	// without progress before Confirm resumes it.
	DefaultStaleBookingAfter = 2 * time.Minute

	genericCodeError    = "não foi possível enviar o código de verificação"
	genericValidateErr  = "não foi possível validar o código"
	genericConfirmError = "não foi possível confirmar o agendamento"
)

// Backend is the part of the scheduling backend the driver talks to.
type Backend interface {
	RequestVerificationCode(ctx context.Context, phone string) error
	ValidateVerificationCode(ctx context.Context, phone, code, patientID string) error
	ConfirmAppointment(ctx context.Context, req portal.ConfirmAppointmentRequest) (*portal.ConfirmAppointmentResponse, error)
}

// Verification steps recorded by the auditor.
const (
	StepCodeRequested = "code_requested"
	StepPhoneRejected = "phone_rejected"
	StepCodeValidated = "code_validated"
	StepCodeRejected  = "code_rejected"
)

// VerificationRecord describes one step of phone verification.
type VerificationRecord struct {
	SessionID string
	PatientID string
	Phone     string
	Step      string
	Detail    string
	At        time.Time
}

// VerificationAuditor keeps the verification trail.
type VerificationAuditor interface {
	RecordVerification(ctx context.Context, rec VerificationRecord) error
}

// Ledger records every slot confirmation attempt.
type Ledger interface {
	RecordAttempt(ctx context.Context, session *Session, outcome SlotOutcome) error
}

// Notifier tells the patient which appointments were booked.
type Notifier interface {
	SendItinerary(ctx context.Context, session *Session) error
}

// EventPublisher announces a finished booking run.
type EventPublisher interface {
	PublishBookingFinished(ctx context.Context, session *Session) error
}

// Observer receives booking and verification outcomes for metrics.
type Observer interface {
	ObserveBookingAttempt(outcome string)
	ObserveVerification(step string)
}

// Config tunes the driver.
type Config struct {
	CountryCode     string
	AppointmentType string
	// StaleBookingAfter must exceed one confirmation call's timeout.
	StaleBookingAfter time.Duration
}

// Option customizes a Driver.
type Option func(*Driver)

// WithLedger records each slot attempt.
func WithLedger(l Ledger) Option { return func(d *Driver) { d.ledger = l } }

// WithAuditor records verification steps.
func WithAuditor(a VerificationAuditor) Option { return func(d *Driver) { d.auditor = a } }

// WithNotifier sends the itinerary after a booking run.
func WithNotifier(n Notifier) Option { return func(d *Driver) { d.notifier = n } }

// WithEventPublisher publishes a booking event after a booking run.
func WithEventPublisher(p EventPublisher) Option { return func(d *Driver) { d.events = p } }

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option { return func(d *Driver) { d.observer = o } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *Driver) { d.now = now } }

// Driver runs the booking flow for itineraries picked from a smart search.
type Driver struct {
	backend  Backend
	store    SessionStore
	cfg      Config
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
	ledger   Ledger
	auditor  VerificationAuditor
	notifier Notifier
	events   EventPublisher
	observer Observer
}

// NewDriver creates a driver. backend and store are required.
func NewDriver(backend Backend, store SessionStore, cfg Config, logger *logging.Logger, opts ...Option) *Driver {
	if backend == nil {
		panic("booking: backend required")
	}
	if store == nil {
		panic("booking: session store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	if cfg.AppointmentType == "" {
		cfg.AppointmentType = DefaultAppointmentType
	}
	if cfg.StaleBookingAfter <= 0 {
		cfg.StaleBookingAfter = DefaultStaleBookingAfter
	}
	d := &Driver{
		backend: backend,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("portal.internal.booking"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start opens a session for the chosen itinerary. The itinerary is checked
// again here and its derived fields are rebuilt from the slots.
func (d *Driver) Start(ctx context.Context, patient portal.PatientContext, result scheduling.SmartScheduleResult) (*Session, error) {
	if len(result.Slots) == 0 {
		return nil, ErrEmptyResult
	}
	result, err := scheduling.ValidateItinerary(result)
	if err != nil {
		return nil, err
	}
	now := d.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Patient:   patient,
		State:     StateResultSelected,
		Result:    result,
		Progress:  Progress{Total: len(result.Slots), Completed: []string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.save(ctx, s); err != nil {
		return nil, err
	}
	d.logger.Info("booking session started",
		"session_id", s.ID,
		"patient_id", patient.PatientID,
		"date", result.DateFormatted,
		"slots", len(result.Slots),
		"different_units", result.IsDifferentUnits,
	)
	return s, nil
}

// Get returns the session when it belongs to the patient.
func (d *Driver) Get(ctx context.Context, patientID, id string) (*Session, error) {
	s, err := d.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Patient.PatientID != patientID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SubmitPhone normalizes the phone and asks the backend to send a code. It
// may be called again to resend the code. A rejected number leaves the
// session in phone_collected with the backend message in LastError.
func (d *Driver) SubmitPhone(ctx context.Context, patientID, id, rawPhone string) (*Session, error) {
	s, err := d.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case StateResultSelected, StatePhoneCollected, StateCodeRequested:
	default:
		return s, fmt.Errorf("%w: cannot submit phone in %s", ErrInvalidTransition, s.State)
	}
	phone, err := NormalizePhone(rawPhone, d.cfg.CountryCode)
	if err != nil {
		return s, err
	}

	now := d.now().UTC()
	s.Phone = phone
	s.State = StatePhoneCollected
	s.LastError = ""

	if err := d.backend.RequestVerificationCode(ctx, phone); err != nil {
		msg := userMessage(err, genericCodeError)
		s.LastError = msg
		s.notify(NoticeError, msg, now)
		d.logger.Warn("verification code request failed", "session_id", s.ID, "phone", MaskPhone(phone), "error", err)
		d.audit(ctx, s, StepPhoneRejected, msg)
		if saveErr := d.save(ctx, s); saveErr != nil {
			return s, saveErr
		}
		return s, backendError("request verification code", err)
	}

	s.State = StateCodeRequested
	s.notify(NoticeInfo, "Código de verificação enviado", now)
	d.audit(ctx, s, StepCodeRequested, "")
	if err := d.save(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}

// SubmitCode validates the one-time code. An invalid code keeps the session
// in code_requested with the backend message verbatim in LastError.
func (d *Driver) SubmitCode(ctx context.Context, patientID, id, code string) (*Session, error) {
	s, err := d.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateCodeRequested {
		return s, fmt.Errorf("%w: cannot submit code in %s", ErrInvalidTransition, s.State)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return s, ErrEmptyCode
	}

	now := d.now().UTC()
	if err := d.backend.ValidateVerificationCode(ctx, s.Phone, code, s.Patient.PatientID); err != nil {
		msg := userMessage(err, genericValidateErr)
		s.LastError = msg
		s.notify(NoticeError, msg, now)
		d.audit(ctx, s, StepCodeRejected, msg)
		if saveErr := d.save(ctx, s); saveErr != nil {
			return s, saveErr
		}
		return s, backendError("validate verification code", err)
	}

	s.State = StateCodeValidated
	s.LastError = ""
	d.audit(ctx, s, StepCodeValidated, "")
	if err := d.save(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}

// Confirm books every slot of the itinerary, one call per slot, in order.
// A failed slot is reported and the loop moves on; slots already booked are
// never cancelled. Calling Confirm again re-issues every confirmation. A run
// left in booking with no progress for StaleBookingAfter is resumed from the
// first slot without an outcome.
func (d *Driver) Confirm(ctx context.Context, patientID, id string) (*Session, error) {
	s, err := d.Get(ctx, patientID, id)
	if err != nil {
		return nil, err
	}
	resume := false
	switch s.State {
	case StateCodeValidated, StateCompleted, StatePartiallyFailed:
	case StateBooking:
		if d.now().UTC().Sub(s.UpdatedAt) < d.cfg.StaleBookingAfter {
			return s, fmt.Errorf("%w: booking already in progress", ErrInvalidTransition)
		}
		resume = true
	default:
		return s, fmt.Errorf("%w: cannot confirm in %s", ErrInvalidTransition, s.State)
	}

	// The loop runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	ctx, span := d.tracer.Start(ctx, "booking.confirm_itinerary")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.session_id", s.ID),
		attribute.Int("booking.slots", len(s.Result.Slots)),
	)

	start := 0
	if resume {
		start = len(s.Outcomes)
		d.logger.Warn("resuming stale booking run", "session_id", s.ID, "next_slot", start+1, "total", len(s.Result.Slots))
	} else {
		s.Outcomes = nil
		s.Progress = Progress{Total: len(s.Result.Slots), Completed: []string{}}
	}
	s.State = StateBooking
	s.LastError = ""
	if err := d.save(ctx, s); err != nil {
		return s, err
	}

	for i := start; i < len(s.Result.Slots); i++ {
		slot := s.Result.Slots[i]
		s.Progress.Current = i + 1
		outcome := d.confirmSlot(ctx, s, slot)
		s.Outcomes = append(s.Outcomes, outcome)
		if outcome.Success {
			s.Progress.Completed = append(s.Progress.Completed, slot.Specialty.Description)
			s.notify(NoticeSuccess, fmt.Sprintf("%s agendada com sucesso", slot.Specialty.Description), outcome.Attempted)
		} else {
			s.notify(NoticeError, fmt.Sprintf("Erro ao agendar %s: %s", slot.Specialty.Description, outcome.Message), outcome.Attempted)
		}
		if d.ledger != nil {
			if err := d.ledger.RecordAttempt(ctx, s, outcome); err != nil {
				d.logger.Warn("booking ledger write failed", "session_id", s.ID, "slot_id", slot.TimeSlot.ID, "error", err)
			}
		}
		if err := d.save(ctx, s); err != nil {
			d.logger.Warn("booking progress not persisted", "session_id", s.ID, "current", s.Progress.Current, "error", err)
		}
	}

	failed := len(s.Result.Slots) - len(s.Progress.Completed)
	if failed == 0 {
		s.State = StateCompleted
	} else {
		s.State = StatePartiallyFailed
		s.LastError = fmt.Sprintf("%d de %d consultas não foram agendadas", failed, len(s.Result.Slots))
	}
	span.SetAttributes(
		attribute.String("booking.state", string(s.State)),
		attribute.Int("booking.failed", failed),
	)
	d.logger.Info("booking run finished",
		"session_id", s.ID,
		"patient_id", s.Patient.PatientID,
		"state", s.State,
		"booked", len(s.Progress.Completed),
		"failed", failed,
	)
	saveErr := d.save(ctx, s)

	if d.notifier != nil && len(s.Progress.Completed) > 0 {
		if err := d.notifier.SendItinerary(ctx, s); err != nil {
			d.logger.Warn("itinerary email failed", "session_id", s.ID, "error", err)
		}
	}
	if d.events != nil {
		if err := d.events.PublishBookingFinished(ctx, s); err != nil {
			d.logger.Warn("booking event publish failed", "session_id", s.ID, "error", err)
		}
	}
	if saveErr != nil {
		span.RecordError(saveErr)
		return s, saveErr
	}
	return s, nil
}

func (d *Driver) confirmSlot(ctx context.Context, s *Session, slot scheduling.ScheduleSlot) SlotOutcome {
	companyID := slot.TimeSlot.Unit.ID
	if companyID == 0 {
		companyID = s.Patient.CompanyID
	}
	req := portal.ConfirmAppointmentRequest{
		ClientID:       s.Patient.ClientID,
		InsuranceID:    s.Patient.InsuranceID,
		CardNumber:     s.Patient.CardNumber,
		ScheduleID:     slot.TimeSlot.ScheduleID,
		SlotID:         slot.TimeSlot.ID,
		ScheduleDate:   slot.TimeSlot.DateString,
		CompanyID:      companyID,
		Type:           d.cfg.AppointmentType,
		DependentID:    s.Patient.DependentID,
		SpecialtyID:    slot.Specialty.ID,
		ProfessionalID: slot.TimeSlot.ProfessionalID,
		Phone:          s.Phone,
	}

	outcome := SlotOutcome{Slot: slot}
	resp, err := d.backend.ConfirmAppointment(ctx, req)
	outcome.Attempted = d.now().UTC()
	switch {
	case err != nil:
		outcome.Message = userMessage(err, genericConfirmError)
		if _, business := portal.AsBusinessError(err); !business {
			d.logger.Warn("appointment confirmation failed",
				"session_id", s.ID,
				"specialty", slot.Specialty.Description,
				"slot_id", slot.TimeSlot.ID,
				"error", err,
			)
		}
	case resp != nil && !resp.Success:
		outcome.Message = resp.Message
		if outcome.Message == "" {
			outcome.Message = genericConfirmError
		}
	default:
		outcome.Success = true
		if resp != nil {
			outcome.Message = resp.Message
		}
	}

	if d.observer != nil {
		if outcome.Success {
			d.observer.ObserveBookingAttempt("success")
		} else {
			d.observer.ObserveBookingAttempt("failure")
		}
	}
	return outcome
}

func (d *Driver) audit(ctx context.Context, s *Session, step, detail string) {
	if d.observer != nil {
		d.observer.ObserveVerification(step)
	}
	if d.auditor == nil {
		return
	}
	rec := VerificationRecord{
		SessionID: s.ID,
		PatientID: s.Patient.PatientID,
		Phone:     s.Phone,
		Step:      step,
		Detail:    detail,
		At:        d.now().UTC(),
	}
	if err := d.auditor.RecordVerification(ctx, rec); err != nil {
		d.logger.Warn("verification audit failed", "session_id", s.ID, "step", step, "error", err)
	}
}

func (d *Driver) save(ctx context.Context, s *Session) error {
	s.UpdatedAt = d.now().UTC()
	if err := d.store.Save(ctx, s); err != nil {
		return fmt.Errorf("booking: save session: %w", err)
	}
	return nil
}

// backendError keeps business rejections distinguishable from an unreachable
// backend.
func backendError(op string, err error) error {
	if _, ok := portal.AsBusinessError(err); ok {
		return fmt.Errorf("booking: %s: %w", op, err)
	}
	return fmt.Errorf("booking: %s: %w: %w", op, ErrBackendUnavailable, err)
}

// userMessage returns the backend's own text for business rejections and the
// fallback for transport failures.
func userMessage(err error, fallback string) string {
	if be, ok := portal.AsBusinessError(err); ok && be.Message != "" {
		return be.Message
	}
	return fallback
}
