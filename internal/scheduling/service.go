package scheduling

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

var schedulingTracer = otel.Tracer("portal.internal.scheduling")

const (
	ModeSameUnit  = "same_unit"
	ModeCrossUnit = "cross_unit"
)

// SpecialtyLister lists the specialties a patient can book.
type SpecialtyLister interface {
	ListSpecialties(ctx context.Context, patient portal.PatientContext) ([]portal.Specialty, error)
}

// SearchObserver records search outcomes.
type SearchObserver interface {
	ObserveSearch(mode string, results int, seconds float64)
}

// SearchResponse is the outcome of one smart search.
type SearchResponse struct {
	Mode    string                `json:"mode"`
	Results []SmartScheduleResult `json:"results"`
	// CrossUnitAvailable tells the caller it may offer the cross-unit search.
	CrossUnitAvailable bool `json:"crossUnitAvailable"`
	SlotsConsidered    int  `json:"slotsConsidered"`
}

// Service runs smart searches. Every search re-fetches availability.
type Service struct {
	fetcher     *Fetcher
	specialties SpecialtyLister
	observer    SearchObserver
	logger      *logging.Logger
}

// NewService wires the fetcher and specialty source. observer may be nil.
func NewService(fetcher *Fetcher, specialties SpecialtyLister, observer SearchObserver, logger *logging.Logger) *Service {
	if fetcher == nil {
		panic("scheduling: fetcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{fetcher: fetcher, specialties: specialties, observer: observer, logger: logger}
}

// ListSpecialties returns specialties with open agenda for the patient.
func (s *Service) ListSpecialties(ctx context.Context, patient portal.PatientContext) ([]Specialty, error) {
	if s.specialties == nil {
		return nil, fmt.Errorf("scheduling: specialty source not configured")
	}
	raw, err := s.specialties.ListSpecialties(ctx, patient)
	if err != nil {
		return nil, err
	}
	out := make([]Specialty, 0, len(raw))
	for _, sp := range raw {
		out = append(out, Specialty{ID: sp.ID, Description: sp.Description})
	}
	return out, nil
}

// SearchSameUnit looks for itineraries at a single unit.
func (s *Service) SearchSameUnit(ctx context.Context, patient portal.PatientContext, specialties []Specialty) (*SearchResponse, error) {
	return s.search(ctx, ModeSameUnit, patient, specialties, CombineSameUnit)
}

// SearchCrossUnit is the relaxed fallback across units. Callers invoke it only
// on explicit request after an empty same-unit search.
func (s *Service) SearchCrossUnit(ctx context.Context, patient portal.PatientContext, specialties []Specialty) (*SearchResponse, error) {
	return s.search(ctx, ModeCrossUnit, patient, specialties, CombineCrossUnit)
}

type combineFunc func([]ScheduleSlot, []Specialty) ([]SmartScheduleResult, error)

func (s *Service) search(ctx context.Context, mode string, patient portal.PatientContext, specialties []Specialty, fn combineFunc) (*SearchResponse, error) {
	if err := ValidateSpecialties(specialties); err != nil {
		return nil, err
	}
	ctx, span := schedulingTracer.Start(ctx, "scheduling.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("scheduling.mode", mode),
		attribute.Int("scheduling.specialties", len(specialties)),
	)
	start := time.Now()

	slots, err := s.fetcher.Fetch(ctx, patient, specialties)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scheduling: fetch availability: %w", err)
	}
	results, err := fn(slots, specialties)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Mode:            mode,
		Results:         results,
		SlotsConsidered: len(slots),
	}
	if mode == ModeSameUnit && len(results) == 0 {
		resp.CrossUnitAvailable = true
	}
	if s.observer != nil {
		s.observer.ObserveSearch(mode, len(results), time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.Int("scheduling.results", len(results)))
	s.logger.Info("smart search completed",
		"mode", mode,
		"patient_id", patient.PatientID,
		"specialties", len(specialties),
		"slots", len(slots),
		"results", len(results),
	)
	return resp, nil
}
