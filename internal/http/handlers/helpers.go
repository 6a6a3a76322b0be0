package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	httpmiddleware "github.com/wolfman30/portal-scheduling/internal/http/middleware"
	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func patientFromRequest(w http.ResponseWriter, r *http.Request) (portal.PatientContext, bool) {
	patient, ok := httpmiddleware.PatientFromContext(r.Context())
	if !ok || patient.PatientID == "" {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return portal.PatientContext{}, false
	}
	return patient, true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	if _, ok := portal.AsBusinessError(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, scheduling.ErrTooFewSpecialties),
		errors.Is(err, scheduling.ErrDuplicateSpecialty),
		errors.Is(err, scheduling.ErrInvalidSpecialty),
		errors.Is(err, scheduling.ErrInvalidItinerary),
		errors.Is(err, booking.ErrEmptyResult),
		errors.Is(err, booking.ErrInvalidPhone),
		errors.Is(err, booking.ErrEmptyCode):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, booking.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text safe to return to the patient.
func publicMessage(err error, status int) string {
	if be, ok := portal.AsBusinessError(err); ok && be.Message != "" {
		return be.Message
	}
	switch status {
	case http.StatusBadGateway:
		return "scheduling backend unavailable"
	case http.StatusGatewayTimeout:
		return "scheduling backend timed out"
	case http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

// sessionView is the patient-facing projection of a booking session. The
// patient context stays server side and the phone is masked.
type sessionView struct {
	ID        string                         `json:"id"`
	State     booking.State                  `json:"state"`
	Result    scheduling.SmartScheduleResult `json:"result"`
	Phone     string                         `json:"phone,omitempty"`
	Progress  booking.Progress               `json:"progress"`
	Outcomes  []booking.SlotOutcome          `json:"outcomes,omitempty"`
	Notices   []booking.Notice               `json:"notices,omitempty"`
	LastError string                         `json:"lastError,omitempty"`
	CreatedAt time.Time                      `json:"createdAt"`
	UpdatedAt time.Time                      `json:"updatedAt"`
}

func newSessionView(s *booking.Session) *sessionView {
	if s == nil {
		return nil
	}
	v := &sessionView{
		ID:        s.ID,
		State:     s.State,
		Result:    s.Result,
		Progress:  s.Progress,
		Outcomes:  s.Outcomes,
		Notices:   s.Notices,
		LastError: s.LastError,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Phone != "" {
		v.Phone = booking.MaskPhone(s.Phone)
	}
	return v
}

type errorResponse struct {
	Error   string       `json:"error"`
	Session *sessionView `json:"session,omitempty"`
}
