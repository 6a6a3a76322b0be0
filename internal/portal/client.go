package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

const (
	defaultTimeout = 20 * time.Second

	pathSpecialties   = "/Agenda/Consulta/ListarEspecialidadesComAgendaDisponivel3"
	pathProfessionals = "/Agenda/Consulta/ListarProfissionaisComAgendaDisponivel3"
	pathTimeSlots     = "/Agenda/Consulta/ListarHorariosDisponiveis2"
	pathConfirm       = "/Agenda/Consulta/ConfirmarAgendamento2"
	pathRequestCode   = "/token/receberNumero"
	pathValidateCode  = "/token/validarToken"

	defaultRejection = "não foi possível concluir a solicitação"
)

// RequestObserver receives one observation per backend call.
type RequestObserver interface {
	ObserveBackendRequest(endpoint, outcome string, seconds float64)
}

// Client wraps the scheduling backend REST endpoints.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	tokenBaseURL string
	headers      HeaderProvider
	observer     RequestObserver
	logger       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTokenBaseURL points the verification-code calls at a different host.
func WithTokenBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.tokenBaseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHeaderProvider sets the source of auth/device headers.
func WithHeaderProvider(p HeaderProvider) Option {
	return func(c *Client) { c.headers = p }
}

// WithObserver records per-endpoint outcomes, usually into Prometheus.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient constructs a scheduling backend client.
func NewClient(baseURL string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		baseURL:      base,
		tokenBaseURL: base,
		headers:      StaticHeaders{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSpecialties returns the specialties with open agenda for the patient.
func (c *Client) ListSpecialties(ctx context.Context, patient PatientContext) ([]Specialty, error) {
	q := url.Values{}
	q.Set("idConvenio", patient.InsuranceID)
	q.Set("idadeCliente", strconv.Itoa(patient.Age))
	q.Set("cdPessoaFisica", patient.PatientID)
	q.Set("sexo", patient.Sex)
	q.Set("cdDependente", patient.DependentID)
	q.Set("nrCarteirinha", patient.CardNumber)

	var out envelope[[]Specialty]
	if err := c.doJSON(ctx, "list_specialties", http.MethodGet, c.baseURL, pathSpecialties, q, nil, &out); err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	if !out.Success {
		return nil, c.reject("list_specialties", out.Message)
	}
	return out.Data, nil
}

// ListProfessionals returns professionals with open agenda for a specialty.
func (c *Client) ListProfessionals(ctx context.Context, patient PatientContext, specialtyID int) ([]Professional, error) {
	q := url.Values{}
	q.Set("idConvenio", patient.InsuranceID)
	q.Set("idEspecialidade", strconv.Itoa(specialtyID))
	q.Set("idCliente", patient.ClientID)
	q.Set("idadeCliente", strconv.Itoa(patient.Age))
	q.Set("sexo", patient.Sex)
	q.Set("cdDependente", patient.DependentID)
	q.Set("nrCarteirinha", patient.CardNumber)

	var out envelope[[]Professional]
	if err := c.doJSON(ctx, "list_professionals", http.MethodGet, c.baseURL, pathProfessionals, q, nil, &out); err != nil {
		return nil, fmt.Errorf("list professionals: %w", err)
	}
	if !out.Success {
		return nil, c.reject("list_professionals", out.Message)
	}
	return out.Data, nil
}

// ListTimeSlots returns a professional's available slots for a specialty.
func (c *Client) ListTimeSlots(ctx context.Context, patient PatientContext, specialtyID, professionalID int) ([]TimeSlot, error) {
	q := url.Values{}
	q.Set("idConvenio", patient.InsuranceID)
	q.Set("idEspecialidade", strconv.Itoa(specialtyID))
	q.Set("idProfissional", strconv.Itoa(professionalID))
	q.Set("idadeCliente", strconv.Itoa(patient.Age))
	q.Set("idCliente", patient.ClientID)

	var out envelope[[]TimeSlot]
	if err := c.doJSON(ctx, "list_time_slots", http.MethodGet, c.baseURL, pathTimeSlots, q, nil, &out); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	if !out.Success {
		return nil, c.reject("list_time_slots", out.Message)
	}
	return out.Data, nil
}

// RequestVerificationCode asks the backend to send a one-time code to phone.
// phone must already be normalized (country prefix, digits only).
func (c *Client) RequestVerificationCode(ctx context.Context, phone string) error {
	body := map[string]string{"telefone": phone}
	var out tokenResponse
	if err := c.doJSON(ctx, "request_code", http.MethodPost, c.tokenBaseURL, pathRequestCode, nil, body, &out); err != nil {
		return fmt.Errorf("request verification code: %w", err)
	}
	if !out.Status {
		return c.reject("request_code", out.Message)
	}
	return nil
}

// ValidateVerificationCode checks a one-time code for phone and patient.
func (c *Client) ValidateVerificationCode(ctx context.Context, phone, code, patientID string) error {
	body := map[string]string{
		"telefone":       phone,
		"token":          code,
		"cdPessoaFisica": patientID,
	}
	var out tokenResponse
	if err := c.doJSON(ctx, "validate_code", http.MethodPost, c.tokenBaseURL, pathValidateCode, nil, body, &out); err != nil {
		return fmt.Errorf("validate verification code: %w", err)
	}
	if !out.Status {
		return c.reject("validate_code", out.Message)
	}
	return nil
}

// ConfirmAppointment books one slot.
func (c *Client) ConfirmAppointment(ctx context.Context, req ConfirmAppointmentRequest) (*ConfirmAppointmentResponse, error) {
	var out ConfirmAppointmentResponse
	if err := c.doJSON(ctx, "confirm_appointment", http.MethodPost, c.baseURL, pathConfirm, nil, req, &out); err != nil {
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}
	if !out.Success {
		return &out, c.reject("confirm_appointment", out.Message)
	}
	return &out, nil
}

func (c *Client) reject(endpoint, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultRejection
	}
	c.logger.Info("portal business rejection", "endpoint", endpoint, "message", message)
	return &BusinessError{Endpoint: endpoint, Message: message}
}

func (c *Client) doJSON(ctx context.Context, name, method, base, path string, query url.Values, body interface{}, out interface{}) (err error) {
	if base == "" {
		return fmt.Errorf("portal: base url not configured")
	}
	start := time.Now()
	defer func() {
		if c.observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.observer.ObserveBackendRequest(name, outcome, time.Since(start).Seconds())
	}()

	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.headers != nil {
		extra, err := c.headers.Headers(ctx)
		if err != nil {
			return fmt.Errorf("api headers: %w", err)
		}
		for k, vals := range extra {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		c.logger.Warn("portal API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return fmt.Errorf("portal API returned %d: %s", resp.StatusCode, msg)
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
