package scheduling

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

// DefaultMaxProfessionals bounds the per-specialty fan-out.
const DefaultMaxProfessionals = 5

// AvailabilitySource is the slice of the scheduling backend the fetcher reads.
type AvailabilitySource interface {
	ListProfessionals(ctx context.Context, patient portal.PatientContext, specialtyID int) ([]portal.Professional, error)
	ListTimeSlots(ctx context.Context, patient portal.PatientContext, specialtyID, professionalID int) ([]portal.TimeSlot, error)
}

// FetcherConfig tunes the availability fan-out.
type FetcherConfig struct {
	// MaxProfessionals caps professionals per specialty (default 5).
	MaxProfessionals int
	// Concurrency is the number of backend calls in flight; 1 keeps calls sequential.
	Concurrency int
}

// Fetcher gathers (specialty, professional, slot) tuples from the backend.
type Fetcher struct {
	source AvailabilitySource
	cfg    FetcherConfig
	logger *logging.Logger
	tracer trace.Tracer
}

// NewFetcher creates an availability fetcher.
func NewFetcher(source AvailabilitySource, cfg FetcherConfig, logger *logging.Logger) *Fetcher {
	if source == nil {
		panic("scheduling: availability source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxProfessionals <= 0 {
		cfg.MaxProfessionals = DefaultMaxProfessionals
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Fetcher{
		source: source,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("portal.internal.scheduling.fetcher"),
	}
}

type slotJob struct {
	specialty    Specialty
	professional portal.Professional
}

// Fetch returns every available slot of up to MaxProfessionals professionals
// per specialty. A failing professional or slot listing is logged and skipped;
// only context cancellation aborts the fetch. Output order is specialty order,
// then professional order, then backend slot order, whatever the concurrency.
func (f *Fetcher) Fetch(ctx context.Context, patient portal.PatientContext, specialties []Specialty) ([]ScheduleSlot, error) {
	ctx, span := f.tracer.Start(ctx, "scheduling.fetch_availability")
	defer span.End()
	span.SetAttributes(attribute.Int("scheduling.specialties", len(specialties)))

	professionals := make([][]portal.Professional, len(specialties))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, sp := range specialties {
		i, sp := i, sp
		g.Go(func() error {
			pros, err := f.source.ListProfessionals(gctx, patient, sp.ID)
			if err != nil {
				f.logger.Warn("list professionals failed", "specialty_id", sp.ID, "error", err)
				return nil
			}
			if len(pros) > f.cfg.MaxProfessionals {
				pros = pros[:f.cfg.MaxProfessionals]
			}
			professionals[i] = pros
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var jobs []slotJob
	for i, sp := range specialties {
		for _, pro := range professionals[i] {
			jobs = append(jobs, slotJob{specialty: sp, professional: pro})
		}
	}

	slotsByJob := make([][]portal.TimeSlot, len(jobs))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			slots, err := f.source.ListTimeSlots(gctx, patient, job.specialty.ID, job.professional.ID)
			if err != nil {
				f.logger.Warn("list time slots failed",
					"specialty_id", job.specialty.ID,
					"professional_id", job.professional.ID,
					"error", err,
				)
				return nil
			}
			slotsByJob[i] = slots
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	seen := make(map[[3]int]struct{})
	var out []ScheduleSlot
	for i, job := range jobs {
		for _, ts := range slotsByJob[i] {
			tuple := toScheduleSlot(job.specialty, job.professional, ts)
			key := [3]int{tuple.Specialty.ID, tuple.TimeSlot.ScheduleID, tuple.TimeSlot.ID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, tuple)
		}
	}

	span.SetAttributes(
		attribute.Int("scheduling.professionals", len(jobs)),
		attribute.Int("scheduling.slots", len(out)),
	)
	f.logger.Debug("availability fetched", "specialties", len(specialties), "professionals", len(jobs), "slots", len(out))
	return out, nil
}

func toScheduleSlot(sp Specialty, pro portal.Professional, ts portal.TimeSlot) ScheduleSlot {
	scheduleID := ts.ScheduleID
	if scheduleID == 0 {
		scheduleID = pro.ScheduleID
	}
	unit := Unit{ID: pro.Unit.ID, Name: strings.TrimSpace(pro.Unit.Name)}
	professional := Professional{
		ID:         pro.ID,
		Name:       strings.TrimSpace(pro.Name),
		ScheduleID: pro.ScheduleID,
		Unit:       unit,
	}
	return ScheduleSlot{
		Specialty:    sp,
		Professional: professional,
		TimeSlot: TimeSlot{
			ID:               ts.ID,
			ScheduleID:       scheduleID,
			ClockTime:        strings.TrimSpace(ts.ClockTime),
			DateString:       strings.TrimSpace(ts.DateTime),
			SpecialRate:      ts.SpecialRate,
			Specialty:        sp.Description,
			ProfessionalID:   pro.ID,
			ProfessionalName: professional.Name,
			Unit:             unit,
		},
	}
}
