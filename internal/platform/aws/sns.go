package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/observability"
	"github.com/JoeStrangeQ/solana-lp-mpc-toolkit-sub003/internal/platform/resilience"
)

// SNSClient wraps the AWS SNS client with retry and a circuit breaker.
type SNSClient struct {
	client         *sns.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    resilience.RetryConfig
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// SNSClientConfig holds SNS client configuration.
type SNSClientConfig struct {
	AWSConfig      aws.Config
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// NewSNSClient creates an SNS client.
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	client := sns.NewFromConfig(cfg.AWSConfig)

	retryConfig := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	circuitBreaker := cfg.CircuitBreaker
	if circuitBreaker == nil {
		circuitBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "sns",
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				if cfg.Logger != nil {
					cfg.Logger.Info("SNS circuit breaker state changed",
						"breaker", name,
						"from", from.String(),
						"to", to.String(),
					)
				}
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
				}
			},
		})
	}

	return &SNSClient{
		client:         client,
		circuitBreaker: circuitBreaker,
		retryConfig:    retryConfig,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
}

// Publish publishes a message to an SNS topic with retry behind the circuit
// breaker. Non-string messages are marshalled to JSON.
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message interface{}, attributes map[string]string) error {
	start := time.Now()

	var body string
	switch m := message.(type) {
	case string:
		body = m
	default:
		messageJSON, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal SNS message: %w", err)
		}
		body = string(messageJSON)
	}

	err := s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.RetryIf(ctx, s.retryConfig, resilience.IsRetryable, func(ctx context.Context) error {
			return s.publishOnce(ctx, topicARN, body, attributes)
		})
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "sns_publish")
		}
		if s.logger != nil {
			s.logger.LogError(ctx, "SNS publish failed", err,
				"topic_arn", topicARN,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
	return err
}

func (s *SNSClient) publishOnce(ctx context.Context, topicARN, message string, attributes map[string]string) error {
	messageAttributes := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		messageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(message),
		MessageAttributes: messageAttributes,
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("SNS publish: %w", err)
	}
	return nil
}

// CircuitBreakerState returns the current circuit breaker state.
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.circuitBreaker.State()
}

// ResetCircuitBreaker manually closes the circuit breaker.
func (s *SNSClient) ResetCircuitBreaker() {
	s.circuitBreaker.Reset()
}
