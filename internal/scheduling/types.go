// Package scheduling implements Smart Scheduling: it gathers availability for
// several specialties and looks for same-day itineraries whose appointments
// are spaced within a gap window.
package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrTooFewSpecialties is returned when fewer than two specialties are requested.
	ErrTooFewSpecialties = errors.New("scheduling: at least two specialties are required")
	// ErrDuplicateSpecialty is returned when a specialty id is requested twice.
	ErrDuplicateSpecialty = errors.New("scheduling: duplicate specialty")
	// ErrInvalidSpecialty is returned for a non-positive specialty id.
	ErrInvalidSpecialty = errors.New("scheduling: invalid specialty id")
)

// Specialty identifies a medical specialty.
type Specialty struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Unit is a facility location.
type Unit struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Professional is a provider bound to one unit.
type Professional struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ScheduleID int    `json:"scheduleId"`
	Unit       Unit   `json:"unit"`
}

// TimeSlot is the atomic bookable unit, identified by (ScheduleID, ID).
type TimeSlot struct {
	ID               int    `json:"id"`
	ScheduleID       int    `json:"scheduleId"`
	ClockTime        string `json:"clockTime"`
	DateString       string `json:"dateString"`
	SpecialRate      bool   `json:"specialRateFlag"`
	Specialty        string `json:"specialty"`
	ProfessionalID   int    `json:"professionalId"`
	ProfessionalName string `json:"professionalName"`
	Unit             Unit   `json:"unit"`
}

// ScheduleSlot is one specialty's slot, either as a fetched tuple or as a
// member of a combination.
type ScheduleSlot struct {
	Specialty    Specialty    `json:"specialty"`
	Professional Professional `json:"professional"`
	TimeSlot     TimeSlot     `json:"timeSlot"`
}

// SmartScheduleResult is a candidate itinerary with exactly one slot per
// requested specialty, ordered by clock time.
type SmartScheduleResult struct {
	Date             int            `json:"date"`
	DateFormatted    string         `json:"dateFormatted"`
	UnitID           int            `json:"unitId"`
	UnitName         string         `json:"unitName"`
	Slots            []ScheduleSlot `json:"slots"`
	IsDifferentUnits bool           `json:"isDifferentUnits"`
}

// ValidateSpecialties checks the requested set: at least two, positive, distinct ids.
func ValidateSpecialties(specialties []Specialty) error {
	if len(specialties) < 2 {
		return ErrTooFewSpecialties
	}
	seen := make(map[int]struct{}, len(specialties))
	for _, s := range specialties {
		if s.ID <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidSpecialty, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateSpecialty, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
