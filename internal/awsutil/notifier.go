package awsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/rpattn/marketsync/internal/ingestion"
)

// MessageSender is the slice of the SQS API the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes ingestion summaries to a queue.
type SQSNotifier struct {
	client   MessageSender
	queueURL string
}

// NewSQSNotifier returns a notifier bound to a queue URL.
func NewSQSNotifier(client MessageSender, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

// Notify sends n as a JSON message body; routing fields are copied into message attributes.
func (n *SQSNotifier) Notify(ctx context.Context, note ingestion.Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	attributes := map[string]string{
		"runId":    note.RunID.String(),
		"locale":   string(note.Locale),
		"origin":   string(note.Origin),
		"inserted": strconv.Itoa(note.Result.Inserted),
	}
	msgAttrs := make(map[string]sqstypes.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		dataType := "String"
		if k == "inserted" {
			dataType = "Number"
		}
		msgAttrs[k] = sqstypes.MessageAttributeValue{
			DataType:    aws.String(dataType),
			StringValue: aws.String(v),
		}
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(n.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: msgAttrs,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
