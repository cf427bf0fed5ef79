package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
)

// MaxSNSMessageSize is the largest message body SNS accepts.
const MaxSNSMessageSize = 256 * 1024

// SNSClient defines the SNS operations used by the sns driver.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// SNSOption configures how the SNS client is built.
type SNSOption func(*snsOptions)

type snsOptions struct {
	httpClient    *http.Client
	configOptions []func(*config.LoadOptions) error
	clientOptions []func(*sns.Options)
}

// WithSNSHTTPClient sets a custom HTTP client for SNS requests.
func WithSNSHTTPClient(c *http.Client) SNSOption {
	return func(o *snsOptions) { o.httpClient = c }
}

// WithSNSConfigOption adds a custom AWS config load option.
func WithSNSConfigOption(opt func(*config.LoadOptions) error) SNSOption {
	return func(o *snsOptions) { o.configOptions = append(o.configOptions, opt) }
}

// WithSNSClientOption adds a custom SNS client option.
func WithSNSClientOption(opt func(*sns.Options)) SNSOption {
	return func(o *snsOptions) { o.clientOptions = append(o.clientOptions, opt) }
}

type snsPublisher struct {
	client SNSClient
	topic  string
}

func connectSNS(ctx context.Context, cfg Config, client SNSClient, opts ...SNSOption) (*snsPublisher, error) {
	if !strings.HasPrefix(cfg.Topic, "arn:") {
		return nil, fmt.Errorf("%w: sns topic must be a topic ARN, got %q", ErrInvalidConfig, cfg.Topic)
	}

	if client == nil {
		if cfg.AWSRegion == "" {
			return nil, fmt.Errorf("%w: empty AWS region", ErrInvalidConfig)
		}

		o := &snsOptions{}
		for _, opt := range opts {
			opt(o)
		}

		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.AWSRegion),
		}
		if cfg.AWSAccessKeyID != "" && cfg.AWSSecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AWSAccessKeyID,
					cfg.AWSSecretKey,
					"",
				)),
			)
		}
		if o.httpClient != nil {
			awsOptions = append(awsOptions, config.WithHTTPClient(o.httpClient))
		}
		awsOptions = append(awsOptions, o.configOptions...)

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("failed to load AWS config: %w", err))
		}

		client = sns.NewFromConfig(awsConfig, func(so *sns.Options) {
			// Publish is attempted once; retries are the caller's policy.
			so.Retryer = aws.NopRetryer{}
			if cfg.SNSEndpoint != "" {
				so.BaseEndpoint = aws.String(cfg.SNSEndpoint)
			}
			for _, opt := range o.clientOptions {
				opt(so)
			}
		})
	}

	p := &snsPublisher{client: client, topic: cfg.Topic}
	if !cfg.VerifyTopic {
		return p, nil
	}

	if err := connectWithRetry(ctx, cfg, p.Ping); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *snsPublisher) Publish(ctx context.Context, topic string, msg Message) (Ack, error) {
	switch {
	case msg.Body == "":
		return Ack{}, fmt.Errorf("%w: empty message", ErrPayloadRejected)
	case !utf8.ValidString(msg.Body):
		return Ack{}, fmt.Errorf("%w: sns messages must be valid UTF-8, use a textual codec", ErrPayloadRejected)
	case len(msg.Body) > MaxSNSMessageSize:
		return Ack{}, fmt.Errorf("%w: message is %d bytes, limit is %d", ErrPayloadRejected, len(msg.Body), MaxSNSMessageSize)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(msg.Body),
	}
	if len(msg.Attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			// SNS rejects attributes with empty values.
			if v == "" {
				continue
			}
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	if strings.HasSuffix(topic, ".fifo") {
		group := msg.GroupID
		if group == "" {
			group = "default"
		}
		input.MessageGroupId = aws.String(group)
		if msg.DeduplicationID != "" {
			input.MessageDeduplicationId = aws.String(msg.DeduplicationID)
		}
	}

	out, err := p.client.Publish(ctx, input)
	if err != nil {
		return Ack{}, classifySNSError(err)
	}
	return Ack{MessageID: aws.ToString(out.MessageId), Receivers: -1}, nil
}

// Ping checks the configured topic is visible with the current credentials.
func (p *snsPublisher) Ping(ctx context.Context) error {
	_, err := p.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(p.topic)})
	if err != nil {
		return classifySNSError(err)
	}
	return nil
}

func (p *snsPublisher) Close() error { return nil }

// classifySNSError converts SDK errors to channel sentinels.
func classifySNSError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return errors.Join(ErrCanceled, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AuthorizationError", "AccessDenied", "AccessDeniedException",
			"InvalidClientTokenId", "UnrecognizedClientException", "SignatureDoesNotMatch",
			"ExpiredToken", "ExpiredTokenException", "KMSAccessDenied", "KMSDisabled":
			return errors.Join(ErrUnauthorized, err)
		case "InvalidParameter", "InvalidParameterValue", "ParameterValueInvalid",
			"InvalidMessageContents", "ValidationError":
			return errors.Join(ErrPayloadRejected, err)
		case "NotFound":
			return errors.Join(ErrTopicNotFound, err)
		case "Throttled", "Throttling", "ThrottlingException", "InternalError",
			"InternalFailure", "ServiceUnavailable", "KMSThrottling":
			return errors.Join(ErrUnavailable, err)
		default:
			return errors.Join(ErrUnavailable, fmt.Errorf("sns error code %s: %w", apiErr.ErrorCode(), err))
		}
	}

	return errors.Join(ErrUnreachable, err)
}

// connectWithRetry runs check until it succeeds, a non-retryable error is
// returned, or the attempts and ConnectTimeout are exhausted.
func connectWithRetry(ctx context.Context, cfg Config, check func(context.Context) error) error {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for i := range attempts {
		if lastErr = check(ctx); lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, contextError(ctx.Err()))
		case <-time.After(cfg.RetryInterval):
		}
	}
	return lastErr
}
