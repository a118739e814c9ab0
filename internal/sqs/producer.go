// Package sqs carries deliveries between the API/job process and the
// delivery worker.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/carecircle/internal/worker"
)

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// WaitSeconds is the long-poll duration, at most 20.
	WaitSeconds int32
	// VisibilityTimeout hides a received message this many seconds.
	VisibilityTimeout int32
	// BatchSize is the max messages per receive, at most 10.
	BatchSize int32
}

// NewClient loads the default AWS config for cfg.Region.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer sends deliveries to the queue.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(client API, cfg Config, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", cfg.QueueURL))
	return &Producer{client: client, queueURL: cfg.QueueURL, logger: logger}
}

// Enqueue sends d as the message body and returns the message ID.
func (p *Producer) Enqueue(ctx context.Context, d *worker.Delivery) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal delivery: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {DataType: aws.String("String"), StringValue: aws.String(d.Channel)},
			"kind":    {DataType: aws.String("String"), StringValue: aws.String(d.Kind)},
		},
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("delivery_id", d.ID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Consumer reads deliveries from the queue.
type Consumer struct {
	client API
	config Config
	logger *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(client API, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.WaitSeconds == 0 {
		cfg.WaitSeconds = 20
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 60
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	logger.Info("sqs consumer initialized", zap.String("queue_url", cfg.QueueURL))
	return &Consumer{client: client, config: cfg, logger: logger}
}

// Receive long-polls one batch. Bodies that do not decode are deleted so they
// do not cycle through the queue forever.
func (c *Consumer) Receive(ctx context.Context) ([]worker.Received, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.config.QueueURL),
		MaxNumberOfMessages: c.config.BatchSize,
		WaitTimeSeconds:     c.config.WaitSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]worker.Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		var d worker.Delivery
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &d); err != nil {
			c.logger.Error("dropping malformed message",
				zap.Error(err),
				zap.String("message_id", aws.ToString(m.MessageId)),
			)
			if delErr := c.Delete(ctx, aws.ToString(m.ReceiptHandle)); delErr != nil {
				c.logger.Error("failed to delete malformed message", zap.Error(delErr))
			}
			continue
		}

		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		out = append(out, worker.Received{
			Delivery:      &d,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  count,
		})
	}

	return out, nil
}

// Delete removes a message after successful processing.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.config.QueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
