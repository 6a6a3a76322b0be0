// Package events publishes booking events for downstream consumers such as
// the push-notification functions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends booking events to an SQS queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
	now      func() time.Time
}

// NewSQSPublisher wraps an SQS client.
func NewSQSPublisher(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSPublisher(client, queueURL, logger)
}

func newSQSPublisher(client sqsAPI, queueURL string, logger *logging.Logger) *SQSPublisher {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger, now: time.Now}
}

// PublishBookingFinished sends a BookingEventV1 for the session.
func (p *SQSPublisher) PublishBookingFinished(ctx context.Context, session *booking.Session) error {
	evt := NewBookingEvent(session, p.now().UTC())
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal booking event: %w", err)
	}
	msgID, err := p.send(ctx, EventTypeBookingFinished, evt.Status, body)
	if err != nil {
		return err
	}
	p.logger.Info("booking event published", "session_id", session.ID, "event_id", evt.EventID, "message_id", msgID)
	return nil
}

// Handle forwards an outbox entry to the queue.
func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	var head struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(entry.Payload, &head)
	msgID, err := p.send(ctx, entry.Type, head.Status, entry.Payload)
	if err != nil {
		return err
	}
	p.logger.Debug("outbox entry forwarded", "outbox_id", entry.ID, "session_id", entry.SessionID, "message_id", msgID)
	return nil
}

func (p *SQSPublisher) send(ctx context.Context, eventType, status string, body []byte) (string, error) {
	attrs := map[string]types.MessageAttributeValue{
		"event_type": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
	}
	if status != "" {
		attrs["status"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(status)}
	}
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// NewBookingEvent builds the event payload from a finished session.
func NewBookingEvent(session *booking.Session, at time.Time) BookingEventV1 {
	evt := BookingEventV1{
		EventID:    uuid.NewString(),
		SessionID:  session.ID,
		PatientID:  session.Patient.PatientID,
		Status:     string(session.State),
		Date:       session.Result.DateFormatted,
		Completed:  []BookedSlotV1{},
		OccurredAt: at,
	}
	for _, s := range session.Succeeded() {
		evt.Completed = append(evt.Completed, BookedSlotV1{
			Specialty:    s.Specialty.Description,
			Time:         s.TimeSlot.ClockTime,
			Professional: s.TimeSlot.ProfessionalName,
			Unit:         s.TimeSlot.Unit.Name,
		})
	}
	for _, f := range session.Failed() {
		evt.Failed = append(evt.Failed, FailedSlotV1{Specialty: f.Slot.Specialty.Description, Reason: f.Message})
	}
	return evt
}

// NoopPublisher drops events. It is used when no queue is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishBookingFinished(context.Context, *booking.Session) error { return nil }

var (
	_ booking.EventPublisher = (*SQSPublisher)(nil)
	_ booking.EventPublisher = NoopPublisher{}
	_ booking.EventPublisher = (*OutboxPublisher)(nil)
	_ DeliveryHandler        = (*SQSPublisher)(nil)
)
