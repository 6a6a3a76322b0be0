package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/portal-scheduling/internal/config"
)

// LoadAWSConfig resolves region and credentials. Static keys win over the
// default chain when both are set.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

// AWSClients holds the clients the booking side effects need. A client is nil
// when nothing configured uses it.
type AWSClients struct {
	// SQS carries booking events; set when BOOKING_EVENTS_QUEUE_URL is.
	SQS *sqs.Client
	// SES sends itinerary email; set when EMAIL_PROVIDER=ses.
	SES *sesv2.Client
}

// NewAWSClients builds the configured clients. AWS_ENDPOINT_OVERRIDE points
// each of them at LocalStack.
func NewAWSClients(awsCfg aws.Config, cfg *appconfig.Config) AWSClients {
	endpoint := strings.TrimSpace(cfg.AWSEndpointOverride)

	var clients AWSClients
	if strings.TrimSpace(cfg.BookingEventsQueueURL) != "" {
		clients.SQS = sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}
	if strings.EqualFold(strings.TrimSpace(cfg.EmailProvider), "ses") {
		clients.SES = sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
	}
	return clients
}
