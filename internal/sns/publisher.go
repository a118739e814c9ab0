// Package sns publishes mobile push messages through SNS platform endpoints.
package sns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// API is the subset of the SNS client the publisher needs.
type API interface {
	CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds SNS settings.
type Config struct {
	Region string
	// PlatformApplicationARN registers raw device tokens as endpoints.
	PlatformApplicationARN string
	// Endpoint overrides the service URL (LocalStack).
	Endpoint string
}

// Publisher sends pre-rendered push messages to device tokens. A token is
// either an endpoint ARN or a raw FCM/APNs token that gets registered on
// first use.
type Publisher struct {
	client    API
	appARN    string
	endpoints *cache.Cache
	logger    *zap.Logger
}

// NewPublisher loads the default AWS config and creates a publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewPublisherWithClient(client, cfg.PlatformApplicationARN, logger), nil
}

// NewPublisherWithClient creates a publisher over an existing client.
func NewPublisherWithClient(client API, platformApplicationARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:    client,
		appARN:    platformApplicationARN,
		endpoints: cache.New(24*time.Hour, time.Hour),
		logger:    logger,
	}
}

// IsEndpointARN reports whether token is already an SNS endpoint ARN.
func IsEndpointARN(token string) bool {
	return strings.HasPrefix(token, "arn:")
}

// PublishToToken publishes message (MessageStructure=json) to token.
func (p *Publisher) PublishToToken(ctx context.Context, token, message string) (string, error) {
	endpoint, err := p.endpointFor(ctx, token)
	if err != nil {
		return "", err
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(endpoint),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		var disabled *types.EndpointDisabledException
		if errors.As(err, &disabled) {
			p.endpoints.Delete(token)
		}
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

func (p *Publisher) endpointFor(ctx context.Context, token string) (string, error) {
	if IsEndpointARN(token) {
		return token, nil
	}
	if arn, ok := p.endpoints.Get(token); ok {
		return arn.(string), nil
	}
	if p.appARN == "" {
		return "", fmt.Errorf("raw device token given but no platform application configured")
	}

	out, err := p.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(p.appARN),
		Token:                  aws.String(token),
	})
	if err != nil {
		return "", fmt.Errorf("create platform endpoint: %w", err)
	}

	arn := aws.ToString(out.EndpointArn)
	p.endpoints.SetDefault(token, arn)
	p.logger.Debug("registered platform endpoint", zap.String("endpoint_arn", arn))

	return arn, nil
}
