package scheduling

import (
	"errors"
	"fmt"
)

// ErrInvalidItinerary is returned when a submitted itinerary could not have
// come out of a smart search.
var ErrInvalidItinerary = errors.New("scheduling: invalid itinerary")

// ValidateItinerary checks an itinerary picked by the client against the rules
// every combiner result satisfies: one slot per distinct specialty, at least
// two slots, a single date, and every pair of appointments inside the same-unit
// or cross-unit gap window. The returned copy has its date, unit and slot order
// rebuilt from the slots.
func ValidateItinerary(res SmartScheduleResult) (SmartScheduleResult, error) {
	specialties := make([]Specialty, 0, len(res.Slots))
	for _, s := range res.Slots {
		specialties = append(specialties, s.Specialty)
	}
	if err := ValidateSpecialties(specialties); err != nil {
		return SmartScheduleResult{}, err
	}

	mode := combineMode{window: SameUnitWindow, groupByUnit: true}
	if res.IsDifferentUnits {
		mode = combineMode{window: CrossUnitWindow, requireMultipleUnits: true}
	}

	chosen := make([]candidate, 0, len(res.Slots))
	for _, s := range res.Slots {
		if s.TimeSlot.ID <= 0 || s.TimeSlot.ScheduleID <= 0 {
			return SmartScheduleResult{}, fmt.Errorf("%w: slot without schedule or slot id", ErrInvalidItinerary)
		}
		if s.Professional.ScheduleID != 0 && s.Professional.ScheduleID != s.TimeSlot.ScheduleID {
			return SmartScheduleResult{}, fmt.Errorf("%w: slot %d does not belong to its professional", ErrInvalidItinerary, s.TimeSlot.ID)
		}
		date, err := DateKey(s.TimeSlot.DateString)
		if err != nil {
			return SmartScheduleResult{}, fmt.Errorf("%w: %v", ErrInvalidItinerary, err)
		}
		minutes, err := slotMinutes(s.TimeSlot)
		if err != nil {
			return SmartScheduleResult{}, fmt.Errorf("%w: %v", ErrInvalidItinerary, err)
		}
		c := candidate{slot: s, date: date, minutes: minutes}
		if len(chosen) > 0 {
			if date != chosen[0].date {
				return SmartScheduleResult{}, fmt.Errorf("%w: slots on different dates", ErrInvalidItinerary)
			}
			if mode.groupByUnit && s.TimeSlot.Unit.ID != chosen[0].slot.TimeSlot.Unit.ID {
				return SmartScheduleResult{}, fmt.Errorf("%w: slots at different units", ErrInvalidItinerary)
			}
			if !fitsAll(mode.window, chosen, c) {
				return SmartScheduleResult{}, fmt.Errorf("%w: appointments %d to %d minutes apart required", ErrInvalidItinerary, mode.window.Min, mode.window.Max)
			}
		}
		chosen = append(chosen, c)
	}
	if mode.requireMultipleUnits && !spansUnits(chosen) {
		return SmartScheduleResult{}, fmt.Errorf("%w: cross-unit itinerary at a single unit", ErrInvalidItinerary)
	}

	key := groupKey{date: chosen[0].date}
	if mode.groupByUnit {
		key.unit = chosen[0].slot.TimeSlot.Unit.ID
	}
	g := &group{key: key, unitName: chosen[0].slot.TimeSlot.Unit.Name}
	return buildResult(g, chosen, mode), nil
}
