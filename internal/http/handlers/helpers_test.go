package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	httpmiddleware "github.com/wolfman30/portal-scheduling/internal/http/middleware"
	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
)

var testPatient = portal.PatientContext{
	PatientID:   "98765",
	ClientID:    "321",
	InsuranceID: "7",
	CardNumber:  "0001234",
	Age:         41,
	Sex:         "F",
	CompanyID:   99,
}

// serve runs a request through h with the patient attached, as PatientJWT would.
func serve(t *testing.T, h http.Handler, patient *portal.PatientContext, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if patient != nil {
		req = req.WithContext(httpmiddleware.WithPatient(req.Context(), *patient))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonError(rec, "oops", http.StatusTeapot)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "oops", body["error"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"too few specialties", scheduling.ErrTooFewSpecialties, http.StatusBadRequest},
		{"duplicate specialty", fmt.Errorf("%w: 3", scheduling.ErrDuplicateSpecialty), http.StatusBadRequest},
		{"invalid phone", booking.ErrInvalidPhone, http.StatusBadRequest},
		{"empty code", booking.ErrEmptyCode, http.StatusBadRequest},
		{"empty itinerary", booking.ErrEmptyResult, http.StatusBadRequest},
		{"unknown session", booking.ErrSessionNotFound, http.StatusNotFound},
		{"bad transition", fmt.Errorf("%w: cannot confirm", booking.ErrInvalidTransition), http.StatusConflict},
		{"business rejection", fmt.Errorf("wrap: %w", &portal.BusinessError{Endpoint: "validate_code", Message: "Código inválido"}), http.StatusUnprocessableEntity},
		{"backend down", fmt.Errorf("x: %w: %w", booking.ErrBackendUnavailable, errors.New("dial")), http.StatusBadGateway},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", publicMessage(errors.New("pq: relation missing"), http.StatusInternalServerError))
	assert.Equal(t, "Código inválido", publicMessage(&portal.BusinessError{Message: "Código inválido"}, http.StatusUnprocessableEntity))
}

func TestSessionViewMasksPhoneAndDropsPatient(t *testing.T) {
	v := newSessionView(&booking.Session{ID: "s1", Patient: testPatient, Phone: "5592999998888", State: booking.StateCodeRequested})
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "5592999998888")
	assert.NotContains(t, string(raw), testPatient.CardNumber)
	assert.Equal(t, booking.MaskPhone("5592999998888"), v.Phone)
	assert.Nil(t, newSessionView(nil))
}
