package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/portal-scheduling/internal/booking"
)

func TestAuditService_RecordVerificationMasksPhone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)
	at := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO verification_audit_events").
		WithArgs(sqlmock.AnyArg(), "sess-1", "98765", booking.StepCodeRequested, "*********8888", nil, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.RecordVerification(context.Background(), booking.VerificationRecord{
		SessionID: "sess-1",
		PatientID: "98765",
		Phone:     "5592999998888",
		Step:      booking.StepCodeRequested,
		At:        at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name    string
		event   AuditEvent
		execErr error
		wantErr bool
	}{
		{
			name:  "code rejected with detail",
			event: AuditEvent{SessionID: "s1", PatientID: "p1", Step: booking.StepCodeRejected, PhoneMasked: "****8888", Detail: "Código inválido"},
		},
		{
			name:  "code validated",
			event: AuditEvent{SessionID: "s2", PatientID: "p1", Step: booking.StepCodeValidated, PhoneMasked: "****8888"},
		},
		{
			name:    "database error",
			event:   AuditEvent{SessionID: "s3", PatientID: "p1", Step: booking.StepPhoneRejected},
			execErr: errors.New("connection lost"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := mock.ExpectExec("INSERT INTO verification_audit_events")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(1, 1))
			}

			err := service.LogEvent(context.Background(), tt.event)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "session_id", "patient_id", "step", "phone_masked", "detail", "created_at"}).
		AddRow("e2", "sess-1", "98765", booking.StepCodeValidated, "****8888", nil, now).
		AddRow("e1", "sess-1", "98765", booking.StepCodeRejected, "****8888", "Código inválido", now.Add(-time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM verification_audit_events WHERE patient_id = \\$1 AND session_id = \\$2").
		WithArgs("98765", "sess-1").
		WillReturnRows(rows)

	events, err := service.QueryEvents(context.Background(), AuditFilter{PatientID: "98765", SessionID: "sess-1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, booking.StepCodeValidated, events[0].Step)
	assert.Empty(t, events[0].Detail)
	assert.Equal(t, "Código inválido", events[1].Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}
