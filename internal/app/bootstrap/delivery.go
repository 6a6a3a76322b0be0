package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/portal-scheduling/internal/booking"
	appconfig "github.com/wolfman30/portal-scheduling/internal/config"
	"github.com/wolfman30/portal-scheduling/internal/events"
	"github.com/wolfman30/portal-scheduling/internal/notify"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

// BuildEmailSender picks the itinerary email provider. It returns nil when
// email is disabled or the chosen provider is missing credentials.
func BuildEmailSender(cfg *appconfig.Config, sesClient *sesv2.Client, logger *logging.Logger) notify.EmailSender {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" || cfg.SendGridFromEmail == "" {
			logger.Warn("sendgrid selected but not configured; itinerary email disabled")
			return nil
		}
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger)
	case "ses":
		if cfg.SESFromEmail == "" || sesClient == nil {
			logger.Warn("ses selected but not configured; itinerary email disabled")
			return nil
		}
		return notify.NewSESSender(sesClient, notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.EmailFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger)
	case "stub", "log":
		return notify.NewStubEmailSender(logger)
	default:
		return nil
	}
}

// BuildEventPublisher wires booking events. With a database the events go
// through the outbox and the returned Deliverer forwards them; without one
// they are sent to SQS directly. No queue means events are dropped.
func BuildEventPublisher(cfg *appconfig.Config, sqsClient *sqs.Client, pool *pgxpool.Pool, logger *logging.Logger) (booking.EventPublisher, *events.Deliverer) {
	if cfg == nil || strings.TrimSpace(cfg.BookingEventsQueueURL) == "" || sqsClient == nil {
		return events.NoopPublisher{}, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	sqsPublisher := events.NewSQSPublisher(sqsClient, cfg.BookingEventsQueueURL, logger)
	if pool == nil {
		return sqsPublisher, nil
	}
	store := events.NewOutboxStore(pool)
	return events.NewOutboxPublisher(store), events.NewDeliverer(store, sqsPublisher, logger)
}
