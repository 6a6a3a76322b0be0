package events

import "time"

// EventTypeBookingFinished tags BookingEventV1 messages.
const EventTypeBookingFinished = "booking.finished.v1"

// BookingEventV1 is emitted once per finished booking run.
type BookingEventV1 struct {
	EventID    string         `json:"event_id"`
	SessionID  string         `json:"session_id"`
	PatientID  string         `json:"patient_id"`
	Status     string         `json:"status"`
	Date       string         `json:"date"`
	Completed  []BookedSlotV1 `json:"completed"`
	Failed     []FailedSlotV1 `json:"failed,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// BookedSlotV1 is a confirmed appointment.
type BookedSlotV1 struct {
	Specialty    string `json:"specialty"`
	Time         string `json:"time"`
	Professional string `json:"professional"`
	Unit         string `json:"unit"`
}

// FailedSlotV1 is an appointment the backend did not confirm.
type FailedSlotV1 struct {
	Specialty string `json:"specialty"`
	Reason    string `json:"reason"`
}
