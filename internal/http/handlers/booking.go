package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/internal/bookings"
	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

// BookingFlow is implemented by *booking.Driver.
type BookingFlow interface {
	Start(ctx context.Context, patient portal.PatientContext, result scheduling.SmartScheduleResult) (*booking.Session, error)
	Get(ctx context.Context, patientID, id string) (*booking.Session, error)
	SubmitPhone(ctx context.Context, patientID, id, rawPhone string) (*booking.Session, error)
	SubmitCode(ctx context.Context, patientID, id, code string) (*booking.Session, error)
	Confirm(ctx context.Context, patientID, id string) (*booking.Session, error)
}

// AttemptLister reads the booking ledger.
type AttemptLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]bookings.Attempt, error)
}

// BookingHandler exposes the booking session flow.
type BookingHandler struct {
	flow     BookingFlow
	attempts AttemptLister
	logger   *logging.Logger
}

type startBookingRequest struct {
	Result scheduling.SmartScheduleResult `json:"result"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// NewBookingHandler creates the handler. attempts may be nil when no ledger
// is configured.
func NewBookingHandler(flow BookingFlow, attempts AttemptLister, logger *logging.Logger) *BookingHandler {
	if flow == nil {
		panic("handlers: booking flow required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{flow: flow, attempts: attempts, logger: logger}
}

// Routes mounts under /api/bookings.
func (h *BookingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Start)
	r.Route("/{id}", func(s chi.Router) {
		s.Get("/", h.Get)
		s.Post("/phone", h.SubmitPhone)
		s.Post("/code", h.SubmitCode)
		s.Post("/confirm", h.Confirm)
		if h.attempts != nil {
			s.Get("/attempts", h.ListAttempts)
		}
	})
	return r
}

// Start opens a session for the itinerary the patient picked.
// POST /api/bookings
func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromRequest(w, r)
	if !ok {
		return
	}
	var req startBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.flow.Start(r.Context(), patient, req.Result)
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(s))
}

// Get returns the session state, used by the client to poll progress.
// GET /api/bookings/{id}
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	patient, id, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	s, err := h.flow.Get(r.Context(), patient.PatientID, id)
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

// SubmitPhone requests (or re-sends) the verification code.
// POST /api/bookings/{id}/phone
func (h *BookingHandler) SubmitPhone(w http.ResponseWriter, r *http.Request) {
	patient, id, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	var req phoneRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.flow.SubmitPhone(r.Context(), patient.PatientID, id, req.Phone)
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

// SubmitCode validates the verification code.
// POST /api/bookings/{id}/code
func (h *BookingHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	patient, id, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.flow.SubmitCode(r.Context(), patient.PatientID, id, req.Code)
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

// Confirm runs the booking loop. A partially failed run is still a 200; the
// session state and outcomes carry the per-slot result.
// POST /api/bookings/{id}/confirm
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	patient, id, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	s, err := h.flow.Confirm(r.Context(), patient.PatientID, id)
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(s))
}

// ListAttempts returns the ledger rows of a session the patient owns.
// GET /api/bookings/{id}/attempts
func (h *BookingHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	patient, id, ok := h.sessionParams(w, r)
	if !ok {
		return
	}
	if h.attempts == nil {
		jsonError(w, "booking ledger disabled", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.flow.Get(r.Context(), patient.PatientID, id); err != nil {
		h.writeError(w, nil, err)
		return
	}
	attempts, err := h.attempts.ListBySession(r.Context(), id)
	if err != nil {
		h.logger.Error("list booking attempts failed", "session_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if attempts == nil {
		attempts = []bookings.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (h *BookingHandler) sessionParams(w http.ResponseWriter, r *http.Request) (portal.PatientContext, string, bool) {
	patient, ok := patientFromRequest(w, r)
	if !ok {
		return portal.PatientContext{}, "", false
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		jsonError(w, "missing session id", http.StatusBadRequest)
		return portal.PatientContext{}, "", false
	}
	return patient, id, true
}

func (h *BookingHandler) writeError(w http.ResponseWriter, s *booking.Session, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "status", status, "error", err)
	}
	msg := publicMessage(err, status)
	if status == http.StatusBadGateway && s != nil && s.LastError != "" {
		msg = s.LastError
	}
	// Unknown or foreign sessions never echo state.
	if status == http.StatusNotFound {
		s = nil
	}
	writeJSON(w, status, errorResponse{Error: msg, Session: newSessionView(s)})
}
