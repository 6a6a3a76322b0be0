// Package booking drives the confirmation of a chosen itinerary: phone
// capture, one-time code verification and the sequential booking of every
// slot in the itinerary.
package booking

import (
	"errors"
	"time"

	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
)

// State is a step of the booking flow.
type State string

const (
	StateIdle            State = "idle"
	StateResultSelected  State = "result_selected"
	StatePhoneCollected  State = "phone_collected"
	StateCodeRequested   State = "code_requested"
	StateCodeValidated   State = "code_validated"
	StateBooking         State = "booking"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
)

// Terminal reports whether the booking loop has finished for the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StatePartiallyFailed
}

var (
	ErrSessionNotFound   = errors.New("booking: session not found")
	ErrInvalidTransition = errors.New("booking: invalid state transition")
	ErrEmptyResult       = errors.New("booking: itinerary has no slots")
	ErrInvalidPhone      = errors.New("booking: invalid phone number")
	ErrEmptyCode         = errors.New("booking: verification code required")

	// ErrBackendUnavailable wraps transport failures of the scheduling backend.
	ErrBackendUnavailable = errors.New("booking: scheduling backend unavailable")
)

// NoticeLevel classifies a patient-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a message the client shows to the patient.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// Progress tracks the booking loop. Completed holds the specialty names whose
// confirmation succeeded.
type Progress struct {
	Current   int      `json:"current"`
	Total     int      `json:"total"`
	Completed []string `json:"completed"`
}

// SlotOutcome is the result of confirming one slot.
type SlotOutcome struct {
	Slot      scheduling.ScheduleSlot `json:"slot"`
	Success   bool                    `json:"success"`
	Message   string                  `json:"message,omitempty"`
	Attempted time.Time               `json:"attemptedAt"`
}

// Session is one patient's pass through the booking flow.
type Session struct {
	ID        string                         `json:"id"`
	Patient   portal.PatientContext          `json:"patient"`
	State     State                          `json:"state"`
	Result    scheduling.SmartScheduleResult `json:"result"`
	Phone     string                         `json:"phone,omitempty"`
	Progress  Progress                       `json:"progress"`
	Outcomes  []SlotOutcome                  `json:"outcomes,omitempty"`
	Notices   []Notice                       `json:"notices,omitempty"`
	LastError string                         `json:"lastError,omitempty"`
	CreatedAt time.Time                      `json:"createdAt"`
	UpdatedAt time.Time                      `json:"updatedAt"`
}

func (s *Session) notify(level NoticeLevel, message string, at time.Time) {
	s.Notices = append(s.Notices, Notice{Level: level, Message: message, At: at})
}

// Succeeded returns the slots confirmed in the last booking run.
func (s *Session) Succeeded() []scheduling.ScheduleSlot {
	var out []scheduling.ScheduleSlot
	for _, o := range s.Outcomes {
		if o.Success {
			out = append(out, o.Slot)
		}
	}
	return out
}

// Failed returns the slots whose confirmation failed in the last booking run.
func (s *Session) Failed() []SlotOutcome {
	var out []SlotOutcome
	for _, o := range s.Outcomes {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}
