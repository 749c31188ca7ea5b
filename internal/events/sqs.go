package events

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// SQSAPI is the subset of the SQS client the sink uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink publishes events to an SQS queue.
type SQSSink struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
}

// NewSQSSink creates a sink for the given queue.
func NewSQSSink(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

// Observe sends the event. Failures are logged.
func (s *SQSSink) Observe(ctx context.Context, e domain.Event) {
	body, err := encode(e)
	if err != nil {
		logger.Error("[Events] marshal event", "event", e.EventName(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(e.EventName())},
		},
	})
	if err != nil {
		logger.Error("[Events] SQS publish failed", "event", e.EventName(), "customer_id", e.Subject(), "error", err)
	}
}
