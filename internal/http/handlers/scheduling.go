package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

// SchedulingService is the search surface the handler needs.
type SchedulingService interface {
	ListSpecialties(ctx context.Context, patient portal.PatientContext) ([]scheduling.Specialty, error)
	SearchSameUnit(ctx context.Context, patient portal.PatientContext, specialties []scheduling.Specialty) (*scheduling.SearchResponse, error)
	SearchCrossUnit(ctx context.Context, patient portal.PatientContext, specialties []scheduling.Specialty) (*scheduling.SearchResponse, error)
}

// SchedulingHandler serves specialty listing and smart searches.
type SchedulingHandler struct {
	service SchedulingService
	logger  *logging.Logger
}

// SmartSearchRequest selects the specialties to combine.
type SmartSearchRequest struct {
	Specialties []scheduling.Specialty `json:"specialties"`
}

func NewSchedulingHandler(service SchedulingService, logger *logging.Logger) *SchedulingHandler {
	if service == nil {
		panic("handlers: scheduling service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulingHandler{service: service, logger: logger}
}

// Routes mounts under /api/scheduling.
func (h *SchedulingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/specialties", h.ListSpecialties)
	r.Post("/smart-search", h.SearchSameUnit)
	r.Post("/smart-search/cross-unit", h.SearchCrossUnit)
	return r
}

// ListSpecialties returns the specialties with open agenda.
// GET /api/scheduling/specialties
func (h *SchedulingHandler) ListSpecialties(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromRequest(w, r)
	if !ok {
		return
	}
	specialties, err := h.service.ListSpecialties(r.Context(), patient)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		h.logger.Error("list specialties failed", "patient_id", patient.PatientID, "error", err)
		jsonError(w, publicMessage(err, status), status)
		return
	}
	if specialties == nil {
		specialties = []scheduling.Specialty{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"specialties": specialties})
}

// SearchSameUnit runs the same-unit smart search.
// POST /api/scheduling/smart-search
func (h *SchedulingHandler) SearchSameUnit(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, h.service.SearchSameUnit)
}

// SearchCrossUnit runs the cross-unit fallback the patient explicitly asked for.
// POST /api/scheduling/smart-search/cross-unit
func (h *SchedulingHandler) SearchCrossUnit(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, h.service.SearchCrossUnit)
}

type searchFunc func(context.Context, portal.PatientContext, []scheduling.Specialty) (*scheduling.SearchResponse, error)

func (h *SchedulingHandler) search(w http.ResponseWriter, r *http.Request, fn searchFunc) {
	patient, ok := patientFromRequest(w, r)
	if !ok {
		return
	}
	var req SmartSearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := fn(r.Context(), patient, req.Specialties)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("smart search failed", "patient_id", patient.PatientID, "error", err)
		}
		jsonError(w, publicMessage(err, status), status)
		return
	}
	if resp.Results == nil {
		resp.Results = []scheduling.SmartScheduleResult{}
	}
	writeJSON(w, http.StatusOK, resp)
}
