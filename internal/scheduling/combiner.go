package scheduling

import (
	"sort"
)

const (
	// MaxResults caps the itineraries returned by a single search.
	MaxResults = 10
	// MultipleUnitsName is the aggregate unit label of a cross-unit itinerary.
	MultipleUnitsName = "Múltiplas unidades"

	// searchStepBudget bounds the backtracking work spent on one group.
	searchStepBudget = 20000
)

// GapWindow is the closed interval of minutes allowed between any two
// appointments of an itinerary.
type GapWindow struct {
	Min int
	Max int
}

// Allows reports whether two clock times (in minutes) are spaced within the window.
func (w GapWindow) Allows(a, b int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d >= w.Min && d <= w.Max
}

var (
	// SameUnitWindow applies when every appointment is at the same unit.
	SameUnitWindow = GapWindow{Min: 30, Max: 60}
	// CrossUnitWindow leaves room to travel between units.
	CrossUnitWindow = GapWindow{Min: 30, Max: 180}
)

type combineMode struct {
	window               GapWindow
	groupByUnit          bool
	requireMultipleUnits bool
}

// candidate is a fetched slot with its parsed date and clock time.
type candidate struct {
	slot    ScheduleSlot
	date    int
	minutes int
}

type groupKey struct {
	date int
	unit int
}

type group struct {
	key        groupKey
	unitName   string
	partitions map[int][]candidate
}

// CombineSameUnit finds, per (date, unit), one slot per specialty with every
// pair of appointments 30 to 60 minutes apart.
func CombineSameUnit(slots []ScheduleSlot, specialties []Specialty) ([]SmartScheduleResult, error) {
	if err := ValidateSpecialties(specialties); err != nil {
		return nil, err
	}
	return combine(slots, specialties, combineMode{
		window:      SameUnitWindow,
		groupByUnit: true,
	}), nil
}

// CombineCrossUnit finds, per date, one slot per specialty with every pair of
// appointments 30 to 180 minutes apart, keeping only itineraries that visit
// more than one unit.
func CombineCrossUnit(slots []ScheduleSlot, specialties []Specialty) ([]SmartScheduleResult, error) {
	if err := ValidateSpecialties(specialties); err != nil {
		return nil, err
	}
	return combine(slots, specialties, combineMode{
		window:               CrossUnitWindow,
		requireMultipleUnits: true,
	}), nil
}

func combine(slots []ScheduleSlot, specialties []Specialty, mode combineMode) []SmartScheduleResult {
	groups := groupCandidates(slots, mode.groupByUnit)

	results := make([]SmartScheduleResult, 0, MaxResults)
	for _, g := range groups {
		if len(results) == MaxResults {
			break
		}
		parts, ok := g.orderedPartitions(specialties)
		if !ok {
			continue
		}
		chosen, ok := firstFit(parts, mode)
		if !ok {
			s := &searcher{parts: parts, mode: mode}
			if !s.search(0) {
				continue
			}
			chosen = s.chosen
		}
		results = append(results, buildResult(g, chosen, mode))
	}
	return results
}

// groupCandidates buckets slots by date (and unit when requested). Groups are
// returned by ascending date; groups on the same date keep discovery order.
func groupCandidates(slots []ScheduleSlot, byUnit bool) []*group {
	index := make(map[groupKey]*group)
	var ordered []*group
	for _, s := range slots {
		date, err := DateKey(s.TimeSlot.DateString)
		if err != nil {
			continue
		}
		minutes, err := slotMinutes(s.TimeSlot)
		if err != nil {
			continue
		}
		key := groupKey{date: date}
		if byUnit {
			key.unit = s.TimeSlot.Unit.ID
		}
		g, ok := index[key]
		if !ok {
			g = &group{key: key, unitName: s.TimeSlot.Unit.Name, partitions: map[int][]candidate{}}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.partitions[s.Specialty.ID] = append(g.partitions[s.Specialty.ID], candidate{slot: s, date: date, minutes: minutes})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].key.date < ordered[j].key.date })
	return ordered
}

// orderedPartitions returns one slot list per requested specialty, in request
// order, or false when the group misses any of them.
func (g *group) orderedPartitions(specialties []Specialty) ([][]candidate, bool) {
	parts := make([][]candidate, 0, len(specialties))
	for _, sp := range specialties {
		p := g.partitions[sp.ID]
		if len(p) == 0 {
			return nil, false
		}
		parts = append(parts, p)
	}
	return parts, true
}

// firstFit tries every slot of the first partition as an anchor and, for each
// following specialty, takes the first slot that fits every slot chosen so
// far. It never backtracks below the anchor.
func firstFit(parts [][]candidate, mode combineMode) ([]candidate, bool) {
	chosen := make([]candidate, 0, len(parts))
anchors:
	for _, anchor := range parts[0] {
		chosen = append(chosen[:0], anchor)
		for _, part := range parts[1:] {
			n := len(chosen)
			for _, c := range part {
				if fitsAll(mode.window, chosen, c) {
					chosen = append(chosen, c)
					break
				}
			}
			if len(chosen) == n {
				continue anchors
			}
		}
		if !mode.requireMultipleUnits || spansUnits(chosen) {
			return chosen, true
		}
	}
	return nil, false
}

// searcher is a depth-first backtracking search over the partitions, run when
// the first-fit scan finds nothing. Slots are tried in fetch order.
type searcher struct {
	parts  [][]candidate
	mode   combineMode
	chosen []candidate
	steps  int
}

func (s *searcher) search(depth int) bool {
	if depth == len(s.parts) {
		return !s.mode.requireMultipleUnits || spansUnits(s.chosen)
	}
	for _, c := range s.parts[depth] {
		s.steps++
		if s.steps > searchStepBudget {
			return false
		}
		if !s.fits(c) {
			continue
		}
		s.chosen = append(s.chosen, c)
		if s.search(depth + 1) {
			return true
		}
		s.chosen = s.chosen[:len(s.chosen)-1]
	}
	return false
}

func (s *searcher) fits(c candidate) bool {
	return fitsAll(s.mode.window, s.chosen, c)
}

func fitsAll(w GapWindow, chosen []candidate, c candidate) bool {
	for _, prev := range chosen {
		if !w.Allows(prev.minutes, c.minutes) {
			return false
		}
	}
	return true
}

func spansUnits(chosen []candidate) bool {
	if len(chosen) == 0 {
		return false
	}
	first := chosen[0].slot.TimeSlot.Unit.ID
	for _, c := range chosen[1:] {
		if c.slot.TimeSlot.Unit.ID != first {
			return true
		}
	}
	return false
}

func buildResult(g *group, chosen []candidate, mode combineMode) SmartScheduleResult {
	ordered := make([]candidate, len(chosen))
	copy(ordered, chosen)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].minutes < ordered[j].minutes })

	slots := make([]ScheduleSlot, len(ordered))
	for i, c := range ordered {
		slots[i] = c.slot
	}

	res := SmartScheduleResult{
		Date:          g.key.date,
		DateFormatted: FormatDateKey(g.key.date),
		UnitID:        g.key.unit,
		UnitName:      g.unitName,
		Slots:         slots,
	}
	if mode.requireMultipleUnits {
		res.UnitID = 0
		res.UnitName = MultipleUnitsName
		res.IsDifferentUnits = true
	}
	return res
}
