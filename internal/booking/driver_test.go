package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

type fakeBackend struct {
	mu sync.Mutex

	requestErr  error
	validateErr error
	// confirmResults is keyed by slot id; missing ids succeed.
	confirmResults map[int]error

	requestedPhones []string
	validated       [][3]string
	confirmed       []portal.ConfirmAppointmentRequest
}

func (f *fakeBackend) RequestVerificationCode(_ context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestedPhones = append(f.requestedPhones, phone)
	return f.requestErr
}

func (f *fakeBackend) ValidateVerificationCode(_ context.Context, phone, code, patientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, [3]string{phone, code, patientID})
	return f.validateErr
}

func (f *fakeBackend) ConfirmAppointment(_ context.Context, req portal.ConfirmAppointmentRequest) (*portal.ConfirmAppointmentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, req)
	if err := f.confirmResults[req.SlotID]; err != nil {
		var be *portal.BusinessError
		if errors.As(err, &be) {
			return &portal.ConfirmAppointmentResponse{Success: false, Message: be.Message}, err
		}
		return nil, err
	}
	return &portal.ConfirmAppointmentResponse{Success: true, Message: "Agendamento confirmado"}, nil
}

type recordingHooks struct {
	mu            sync.Mutex
	attempts      []SlotOutcome
	verifications []VerificationRecord
	itineraries   []*Session
	events        []*Session
	observed      []string
	ledgerErr     error
}

func (r *recordingHooks) RecordAttempt(_ context.Context, _ *Session, outcome SlotOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, outcome)
	return r.ledgerErr
}

func (r *recordingHooks) RecordVerification(_ context.Context, rec VerificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications = append(r.verifications, rec)
	return nil
}

func (r *recordingHooks) SendItinerary(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itineraries = append(r.itineraries, s)
	return errors.New("smtp down")
}

func (r *recordingHooks) PublishBookingFinished(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
	return nil
}

func (r *recordingHooks) ObserveBookingAttempt(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, "booking:"+outcome)
}

func (r *recordingHooks) ObserveVerification(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, "verification:"+step)
}

var testPatient = portal.PatientContext{
	PatientID:   "98765",
	ClientID:    "321",
	InsuranceID: "7",
	CardNumber:  "0001234",
	Age:         41,
	Sex:         "F",
	CompanyID:   99,
}

func itinerary(specialties ...string) scheduling.SmartScheduleResult {
	res := scheduling.SmartScheduleResult{Date: 20300315, DateFormatted: "15/03/2030", UnitID: 10, UnitName: "Unidade Centro"}
	for i, name := range specialties {
		id := i + 1
		clock := fmt.Sprintf("%02d:%02d", 8+i/2, 30*(i%2))
		unit := scheduling.Unit{ID: 10, Name: "Unidade Centro"}
		res.Slots = append(res.Slots, scheduling.ScheduleSlot{
			Specialty:    scheduling.Specialty{ID: id, Description: name},
			Professional: scheduling.Professional{ID: 100 + id, Name: "Dr. X", ScheduleID: 500 + id, Unit: unit},
			TimeSlot: scheduling.TimeSlot{
				ID:             id,
				ScheduleID:     500 + id,
				ClockTime:      clock,
				DateString:     "15/03/2030 " + clock + ":00",
				Specialty:      name,
				ProfessionalID: 100 + id,
				Unit:           unit,
			},
		})
	}
	return res
}

func newTestDriver(t *testing.T, backend *fakeBackend, opts ...Option) (*Driver, *MemorySessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	clock := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return clock })}, opts...)
	return NewDriver(backend, store, Config{}, logging.Discard(), opts...), store
}

// verifiedSession walks a session up to code_validated.
func verifiedSession(t *testing.T, d *Driver, result scheduling.SmartScheduleResult) *Session {
	t.Helper()
	ctx := context.Background()
	s, err := d.Start(ctx, testPatient, result)
	require.NoError(t, err)
	_, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "(92) 99999-8888")
	require.NoError(t, err)
	s, err = d.SubmitCode(ctx, testPatient.PatientID, s.ID, "123456")
	require.NoError(t, err)
	require.Equal(t, StateCodeValidated, s.State)
	return s
}

func TestStartRejectsEmptyItinerary(t *testing.T) {
	d, _ := newTestDriver(t, &fakeBackend{})
	_, err := d.Start(context.Background(), testPatient, scheduling.SmartScheduleResult{})
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestStartRejectsItinerariesNoSearchCouldProduce(t *testing.T) {
	sameSpecialty := itinerary("CARDIOLOGIA", "CARDIOLOGIA")
	sameSpecialty.Slots[1].Specialty = sameSpecialty.Slots[0].Specialty
	sameSpecialty.Slots[1].TimeSlot.ClockTime = "08:00"
	sameSpecialty.Slots[1].TimeSlot.DateString = "15/03/2030 08:00:00"

	single := itinerary("CARDIOLOGIA")

	tooClose := itinerary("CARDIOLOGIA", "OFTALMOLOGIA")
	tooClose.Slots[1].TimeSlot.ClockTime = "08:10"
	tooClose.Slots[1].TimeSlot.DateString = "15/03/2030 08:10:00"

	tooFar := itinerary("CARDIOLOGIA", "OFTALMOLOGIA")
	tooFar.Slots[1].TimeSlot.ClockTime = "10:00"
	tooFar.Slots[1].TimeSlot.DateString = "15/03/2030 10:00:00"

	notCrossUnit := itinerary("CARDIOLOGIA", "OFTALMOLOGIA")
	notCrossUnit.IsDifferentUnits = true

	tests := []struct {
		name   string
		result scheduling.SmartScheduleResult
		want   error
	}{
		{"repeated specialty", sameSpecialty, scheduling.ErrDuplicateSpecialty},
		{"single slot", single, scheduling.ErrTooFewSpecialties},
		{"gap under window", tooClose, scheduling.ErrInvalidItinerary},
		{"gap over same-unit window", tooFar, scheduling.ErrInvalidItinerary},
		{"cross-unit at one unit", notCrossUnit, scheduling.ErrInvalidItinerary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			d, store := newTestDriver(t, backend)
			_, err := d.Start(context.Background(), testPatient, tt.result)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, store.sessions)
		})
	}
}

func TestStartRebuildsDerivedFields(t *testing.T) {
	d, _ := newTestDriver(t, &fakeBackend{})
	result := itinerary("CARDIOLOGIA", "OFTALMOLOGIA")
	result.Slots[0], result.Slots[1] = result.Slots[1], result.Slots[0]
	result.UnitName = "<b>Unidade</b>"
	result.Date = 20991231
	result.DateFormatted = "31/12/2099"

	s, err := d.Start(context.Background(), testPatient, result)
	require.NoError(t, err)
	assert.Equal(t, "Unidade Centro", s.Result.UnitName)
	assert.Equal(t, 20300315, s.Result.Date)
	assert.Equal(t, "15/03/2030", s.Result.DateFormatted)
	assert.Equal(t, "08:00", s.Result.Slots[0].TimeSlot.ClockTime)
}

func TestSubmitPhoneNormalizesBeforeRequestingCode(t *testing.T) {
	backend := &fakeBackend{}
	d, _ := newTestDriver(t, backend)
	ctx := context.Background()

	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)
	assert.Equal(t, StateResultSelected, s.State)

	s, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "92999998888")
	require.NoError(t, err)
	assert.Equal(t, StateCodeRequested, s.State)
	assert.Equal(t, "5592999998888", s.Phone)
	assert.Equal(t, []string{"5592999998888"}, backend.requestedPhones)

	// resend
	_, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "92999998888")
	require.NoError(t, err)
	assert.Len(t, backend.requestedPhones, 2)
}

func TestSubmitPhoneRejectedStaysPhoneCollected(t *testing.T) {
	backend := &fakeBackend{requestErr: &portal.BusinessError{Endpoint: "request_code", Message: "Telefone inválido"}}
	hooks := &recordingHooks{}
	d, _ := newTestDriver(t, backend, WithAuditor(hooks))
	ctx := context.Background()

	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)

	s, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "92999998888")
	require.Error(t, err)
	_, business := portal.AsBusinessError(err)
	assert.True(t, business)
	assert.Equal(t, StatePhoneCollected, s.State)
	assert.Equal(t, "Telefone inválido", s.LastError)

	stored, err := d.Get(ctx, testPatient.PatientID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePhoneCollected, stored.State)
	require.Len(t, hooks.verifications, 1)
	assert.Equal(t, StepPhoneRejected, hooks.verifications[0].Step)
}

func TestSubmitPhoneInvalidNumber(t *testing.T) {
	backend := &fakeBackend{}
	d, _ := newTestDriver(t, backend)
	ctx := context.Background()
	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)

	_, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "12345")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Empty(t, backend.requestedPhones)
}

func TestInvalidCodeNeverStartsBooking(t *testing.T) {
	backend := &fakeBackend{validateErr: &portal.BusinessError{Endpoint: "validate_code", Message: "Código inválido ou expirado"}}
	d, _ := newTestDriver(t, backend)
	ctx := context.Background()

	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)
	_, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "92999998888")
	require.NoError(t, err)

	s, err = d.SubmitCode(ctx, testPatient.PatientID, s.ID, "000000")
	require.Error(t, err)
	assert.Equal(t, StateCodeRequested, s.State)
	assert.Equal(t, "Código inválido ou expirado", s.LastError)
	assert.Equal(t, [][3]string{{"5592999998888", "000000", "98765"}}, backend.validated)

	_, err = d.Confirm(ctx, testPatient.PatientID, s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, backend.confirmed)
}

func TestSubmitCodeRequiresCodeRequested(t *testing.T) {
	d, _ := newTestDriver(t, &fakeBackend{})
	ctx := context.Background()
	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)

	_, err = d.SubmitCode(ctx, testPatient.PatientID, s.ID, "123456")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitCodeRejectsBlankCode(t *testing.T) {
	d, _ := newTestDriver(t, &fakeBackend{})
	ctx := context.Background()
	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)
	_, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "92999998888")
	require.NoError(t, err)

	_, err = d.SubmitCode(ctx, testPatient.PatientID, s.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestConfirmBooksEverySlot(t *testing.T) {
	backend := &fakeBackend{}
	hooks := &recordingHooks{}
	d, _ := newTestDriver(t, backend, WithLedger(hooks), WithNotifier(hooks), WithEventPublisher(hooks), WithObserver(hooks))
	s := verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))

	s, err := d.Confirm(context.Background(), testPatient.PatientID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, Progress{Current: 2, Total: 2, Completed: []string{"CARDIOLOGIA", "OFTALMOLOGIA"}}, s.Progress)
	assert.Empty(t, s.LastError)

	require.Len(t, backend.confirmed, 2)
	req := backend.confirmed[0]
	assert.Equal(t, "321", req.ClientID)
	assert.Equal(t, "7", req.InsuranceID)
	assert.Equal(t, "0001234", req.CardNumber)
	assert.Equal(t, 501, req.ScheduleID)
	assert.Equal(t, 1, req.SlotID)
	assert.Equal(t, "15/03/2030 08:00:00", req.ScheduleDate)
	assert.Equal(t, 10, req.CompanyID)
	assert.Equal(t, DefaultAppointmentType, req.Type)
	assert.Equal(t, "5592999998888", req.Phone)

	assert.Len(t, hooks.attempts, 2)
	assert.Len(t, hooks.itineraries, 1)
	assert.Len(t, hooks.events, 1)
	assert.Contains(t, hooks.observed, "booking:success")
}

func TestConfirmContinuesAfterFailedSlot(t *testing.T) {
	backend := &fakeBackend{confirmResults: map[int]error{
		2: &portal.BusinessError{Endpoint: "confirm_appointment", Message: "Horário indisponível"},
	}}
	hooks := &recordingHooks{ledgerErr: errors.New("db down")}
	d, store := newTestDriver(t, backend, WithLedger(hooks), WithEventPublisher(hooks))
	s := verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA", "DERMATOLOGIA"))

	s, err := d.Confirm(context.Background(), testPatient.PatientID, s.ID)
	require.NoError(t, err)

	require.Len(t, backend.confirmed, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{backend.confirmed[0].SlotID, backend.confirmed[1].SlotID, backend.confirmed[2].SlotID})
	assert.Equal(t, StatePartiallyFailed, s.State)
	assert.Equal(t, []string{"CARDIOLOGIA", "DERMATOLOGIA"}, s.Progress.Completed)
	assert.Equal(t, 3, s.Progress.Current)
	assert.Len(t, s.Succeeded(), 2)
	require.Len(t, s.Failed(), 1)
	assert.Equal(t, "Horário indisponível", s.Failed()[0].Message)

	var errorNotices []string
	for _, n := range s.Notices {
		if n.Level == NoticeError {
			errorNotices = append(errorNotices, n.Message)
		}
	}
	assert.Equal(t, []string{"Erro ao agendar OFTALMOLOGIA: Horário indisponível"}, errorNotices)

	stored, err := store.Load(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyFailed, stored.State)
	assert.Len(t, hooks.attempts, 3)
	assert.Len(t, hooks.events, 1)
}

func TestConfirmTransportFailureUsesGenericMessage(t *testing.T) {
	backend := &fakeBackend{confirmResults: map[int]error{1: errors.New("connection reset")}}
	d, _ := newTestDriver(t, backend)
	s := verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))

	s, err := d.Confirm(context.Background(), testPatient.PatientID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyFailed, s.State)
	assert.Equal(t, genericConfirmError, s.Outcomes[0].Message)
	assert.True(t, s.Outcomes[1].Success)
}

func TestConfirmAgainReissuesEverySlot(t *testing.T) {
	backend := &fakeBackend{}
	d, _ := newTestDriver(t, backend)
	s := verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))

	_, err := d.Confirm(context.Background(), testPatient.PatientID, s.ID)
	require.NoError(t, err)
	s, err = d.Confirm(context.Background(), testPatient.PatientID, s.ID)
	require.NoError(t, err)

	assert.Len(t, backend.confirmed, 4)
	assert.Equal(t, StateCompleted, s.State)
	assert.Len(t, s.Progress.Completed, 2)
}

// terminalSaveFailer fails the first save of a finished session.
type terminalSaveFailer struct {
	*MemorySessionStore
	failed bool
}

func (f *terminalSaveFailer) Save(ctx context.Context, s *Session) error {
	if s.State.Terminal() && !f.failed {
		f.failed = true
		return errors.New("redis: connection reset")
	}
	return f.MemorySessionStore.Save(ctx, s)
}

func TestConfirmResumesStaleBookingRun(t *testing.T) {
	backend := &fakeBackend{}
	store := &terminalSaveFailer{MemorySessionStore: NewMemorySessionStore()}
	now := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	d := NewDriver(backend, store, Config{}, logging.Discard(), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	s := verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))

	_, err := d.Confirm(ctx, testPatient.PatientID, s.ID)
	require.Error(t, err)
	require.Len(t, backend.confirmed, 2)

	stored, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StateBooking, stored.State)
	require.Len(t, stored.Outcomes, 2)

	_, err = d.Confirm(ctx, testPatient.PatientID, s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	now = now.Add(DefaultStaleBookingAfter + time.Second)
	s, err = d.Confirm(ctx, testPatient.PatientID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State)
	assert.Len(t, backend.confirmed, 2, "slots with an outcome are not booked again")
	assert.Equal(t, []string{"CARDIOLOGIA", "OFTALMOLOGIA"}, s.Progress.Completed)
}

func TestConfirmResumesFromFirstSlotWithoutOutcome(t *testing.T) {
	backend := &fakeBackend{}
	now := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemorySessionStore()
	d := NewDriver(backend, store, Config{StaleBookingAfter: time.Minute}, logging.Discard(), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	s := verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA", "DERMATOLOGIA"))

	s.State = StateBooking
	s.Outcomes = []SlotOutcome{{Slot: s.Result.Slots[0], Success: true, Attempted: now}}
	s.Progress = Progress{Current: 1, Total: 3, Completed: []string{"CARDIOLOGIA"}}
	s.UpdatedAt = now
	require.NoError(t, store.Save(ctx, s))

	now = now.Add(2 * time.Minute)
	s, err := d.Confirm(ctx, testPatient.PatientID, s.ID)
	require.NoError(t, err)

	require.Len(t, backend.confirmed, 2)
	assert.Equal(t, s.Result.Slots[1].TimeSlot.ID, backend.confirmed[0].SlotID)
	assert.Equal(t, s.Result.Slots[2].TimeSlot.ID, backend.confirmed[1].SlotID)
	assert.Len(t, s.Outcomes, 3)
	assert.Equal(t, StateCompleted, s.State)
	assert.Equal(t, 3, s.Progress.Current)
}

func TestConfirmFallsBackToPatientCompany(t *testing.T) {
	backend := &fakeBackend{}
	d, _ := newTestDriver(t, backend)
	result := itinerary("CARDIOLOGIA", "OFTALMOLOGIA")
	result.Slots[1].TimeSlot.Unit = scheduling.Unit{}
	result.IsDifferentUnits = true
	s := verifiedSession(t, d, result)

	_, err := d.Confirm(context.Background(), testPatient.PatientID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, backend.confirmed[0].CompanyID)
	assert.Equal(t, 99, backend.confirmed[1].CompanyID)
}

func TestSessionsAreScopedToPatient(t *testing.T) {
	d, _ := newTestDriver(t, &fakeBackend{})
	ctx := context.Background()
	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)

	_, err = d.Get(ctx, "someone-else", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = d.SubmitPhone(ctx, "someone-else", s.ID, "92999998888")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = d.Get(ctx, testPatient.PatientID, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestVerificationIsAudited(t *testing.T) {
	hooks := &recordingHooks{}
	d, _ := newTestDriver(t, &fakeBackend{}, WithAuditor(hooks), WithObserver(hooks))
	verifiedSession(t, d, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))

	require.Len(t, hooks.verifications, 2)
	assert.Equal(t, StepCodeRequested, hooks.verifications[0].Step)
	assert.Equal(t, StepCodeValidated, hooks.verifications[1].Step)
	assert.Equal(t, "5592999998888", hooks.verifications[1].Phone)
	assert.Equal(t, []string{"verification:" + StepCodeRequested, "verification:" + StepCodeValidated}, hooks.observed)
}

func TestNewDriverRequiresDependencies(t *testing.T) {
	assert.Panics(t, func() { NewDriver(nil, NewMemorySessionStore(), Config{}, nil) })
	assert.Panics(t, func() { NewDriver(&fakeBackend{}, nil, Config{}, nil) })
}

func TestSubmitPhoneTransportFailureIsBackendUnavailable(t *testing.T) {
	backend := &fakeBackend{requestErr: errors.New("dial tcp: timeout")}
	d, _ := newTestDriver(t, backend)
	ctx := context.Background()
	s, err := d.Start(ctx, testPatient, itinerary("CARDIOLOGIA", "OFTALMOLOGIA"))
	require.NoError(t, err)

	s, err = d.SubmitPhone(ctx, testPatient.PatientID, s.ID, "92999998888")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, StatePhoneCollected, s.State)
	assert.Equal(t, genericCodeError, s.LastError)
}
