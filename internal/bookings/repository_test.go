package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
)

func TestRecordAttemptInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	svc := NewService(NewRepositoryWithDB(mock), nil)
	attempted := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	session := &booking.Session{ID: "sess-1", Patient: portal.PatientContext{PatientID: "98765"}}
	outcome := booking.SlotOutcome{
		Slot: scheduling.ScheduleSlot{
			Specialty: scheduling.Specialty{ID: 1, Description: "CARDIOLOGIA"},
			TimeSlot: scheduling.TimeSlot{
				ID:         44,
				ScheduleID: 501,
				DateString: "15/03/2030 08:00:00",
				Unit:       scheduling.Unit{ID: 10},
			},
		},
		Success:   false,
		Message:   "Horário indisponível",
		Attempted: attempted,
	}

	mock.ExpectExec("INSERT INTO booking_attempts").
		WithArgs(pgxmock.AnyArg(), "sess-1", "98765", 1, "CARDIOLOGIA", 501, 44, "15/03/2030 08:00:00", 10, false,
			pgtype.Text{String: "Horário indisponível", Valid: true},
			pgtype.Timestamptz{Time: attempted, Valid: true}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := svc.RecordAttempt(context.Background(), session, outcome); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordAttemptWrapsInsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	boom := errors.New("connection refused")
	mock.ExpectExec("INSERT INTO booking_attempts").WillReturnError(boom)

	svc := NewService(NewRepositoryWithDB(mock), nil)
	err = svc.RecordAttempt(context.Background(), &booking.Session{ID: "sess-1"}, booking.SlotOutcome{Success: true})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
}

func TestListBySession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	at := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "patient_id", "specialty_id", "specialty", "schedule_id",
		"slot_id", "slot_date", "unit_id", "success", "message", "attempted_at",
	}).
		AddRow(pgtype.UUID{Bytes: [16]byte(id), Valid: true}, "sess-1", "98765", 1, "CARDIOLOGIA", 501,
			44, "15/03/2030 08:00:00", 10, true, pgtype.Text{}, pgtype.Timestamptz{Time: at, Valid: true})
	mock.ExpectQuery("SELECT (.+) FROM booking_attempts").WithArgs("sess-1").WillReturnRows(rows)

	svc := NewService(NewRepositoryWithDB(mock), nil)
	attempts, err := svc.ListBySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ListBySession returned error: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	got := attempts[0]
	if got.ID != id || !got.Success || got.Message != "" || !got.AttemptedAt.Equal(at) || got.SlotID != 44 {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
