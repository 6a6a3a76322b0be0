package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

func partialSession() *booking.Session {
	booked := scheduling.ScheduleSlot{
		Specialty: scheduling.Specialty{ID: 1, Description: "CARDIOLOGIA"},
		TimeSlot:  scheduling.TimeSlot{ClockTime: "08:00", ProfessionalName: "Dr. João", Unit: scheduling.Unit{Name: "Unidade Centro"}},
	}
	failed := scheduling.ScheduleSlot{Specialty: scheduling.Specialty{ID: 2, Description: "OFTALMOLOGIA"}}
	return &booking.Session{
		ID:      "sess-1",
		Patient: portal.PatientContext{PatientID: "98765"},
		State:   booking.StatePartiallyFailed,
		Result:  scheduling.SmartScheduleResult{DateFormatted: "15/03/2030"},
		Outcomes: []booking.SlotOutcome{
			{Slot: booked, Success: true},
			{Slot: failed, Message: "Horário indisponível"},
		},
	}
}

func TestSQSPublisherSendsBookingEvent(t *testing.T) {
	client := &fakeSQS{}
	pub := newSQSPublisher(client, "https://sqs.local/queue/bookings", logging.Discard())
	at := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return at }

	require.NoError(t, pub.PublishBookingFinished(context.Background(), partialSession()))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "https://sqs.local/queue/bookings", aws.ToString(in.QueueUrl))
	assert.Equal(t, "partially_failed", aws.ToString(in.MessageAttributes["status"].StringValue))

	var evt BookingEventV1
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &evt))
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, "sess-1", evt.SessionID)
	assert.Equal(t, "98765", evt.PatientID)
	assert.Equal(t, "15/03/2030", evt.Date)
	assert.Equal(t, []BookedSlotV1{{Specialty: "CARDIOLOGIA", Time: "08:00", Professional: "Dr. João", Unit: "Unidade Centro"}}, evt.Completed)
	assert.Equal(t, []FailedSlotV1{{Specialty: "OFTALMOLOGIA", Reason: "Horário indisponível"}}, evt.Failed)
	assert.True(t, evt.OccurredAt.Equal(at))
}

func TestSQSPublisherWrapsSendError(t *testing.T) {
	boom := errors.New("throttled")
	pub := newSQSPublisher(&fakeSQS{err: boom}, "q", logging.Discard())

	err := pub.PublishBookingFinished(context.Background(), partialSession())
	assert.ErrorIs(t, err, boom)
}

func TestNewBookingEventCompletedNeverNull(t *testing.T) {
	s := partialSession()
	s.Outcomes = s.Outcomes[1:]
	evt := NewBookingEvent(s, time.Now())

	body, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"completed":[]`)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.PublishBookingFinished(context.Background(), partialSession()))
}

func TestNewSQSPublisherRequiresQueue(t *testing.T) {
	assert.Panics(t, func() { newSQSPublisher(&fakeSQS{}, "", nil) })
	assert.Panics(t, func() { NewSQSPublisher(nil, "q", nil) })
}
