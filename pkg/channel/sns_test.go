package channel_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/replicast/pkg/channel"
)

const testTopicARN = "arn:aws:sns:us-east-1:123456789012:replica-updates"

type MockSNSClient struct {
	mock.Mock
}

func (m *MockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func (m *MockSNSClient) GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.GetTopicAttributesOutput), args.Error(1)
}

func snsConfig(topic string) channel.Config {
	return channel.Config{
		Driver:         channel.DriverSNS,
		Topic:          topic,
		ConnectTimeout: time.Second,
		RetryAttempts:  3,
		RetryInterval:  time.Millisecond,
		AWSRegion:      "us-east-1",
		VerifyTopic:    true,
	}
}

func connectSNS(t *testing.T, client *MockSNSClient, topic string) *channel.Handle {
	t.Helper()
	cfg := snsConfig(topic)
	cfg.VerifyTopic = false
	h, err := channel.Connect(context.Background(), cfg, channel.WithSNSClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestSNSConnect(t *testing.T) {
	t.Parallel()

	t.Run("verifies topic", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.MatchedBy(func(in *sns.GetTopicAttributesInput) bool {
			return aws.ToString(in.TopicArn) == testTopicARN
		})).Return(&sns.GetTopicAttributesOutput{}, nil).Once()

		h, err := channel.Connect(context.Background(), snsConfig(testTopicARN), channel.WithSNSClient(client))
		require.NoError(t, err)
		assert.Equal(t, channel.DriverSNS, h.Driver())
		assert.NoError(t, h.Close())
		client.AssertExpectations(t)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "ServiceUnavailable"}).Once()
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(&sns.GetTopicAttributesOutput{}, nil).Once()

		h, err := channel.Connect(context.Background(), snsConfig(testTopicARN), channel.WithSNSClient(client))
		require.NoError(t, err)
		_ = h.Close()
		client.AssertNumberOfCalls(t, "GetTopicAttributes", 2)
	})

	t.Run("does not retry authorization errors", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "AuthorizationError", Message: "denied"})

		_, err := channel.Connect(context.Background(), snsConfig(testTopicARN), channel.WithSNSClient(client))
		require.Error(t, err)
		assert.ErrorIs(t, err, channel.ErrUnauthorized)
		assert.ErrorIs(t, err, channel.ErrChannel)
		client.AssertNumberOfCalls(t, "GetTopicAttributes", 1)
	})

	t.Run("unknown topic", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "NotFound"})

		_, err := channel.Connect(context.Background(), snsConfig(testTopicARN), channel.WithSNSClient(client))
		assert.ErrorIs(t, err, channel.ErrTopicNotFound)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, errors.New("dial tcp: connection refused"))

		_, err := channel.Connect(context.Background(), snsConfig(testTopicARN), channel.WithSNSClient(client))
		assert.ErrorIs(t, err, channel.ErrUnreachable)
		client.AssertNumberOfCalls(t, "GetTopicAttributes", 3)
	})

	t.Run("topic must be an ARN", func(t *testing.T) {
		t.Parallel()
		_, err := channel.Connect(context.Background(), snsConfig("replica-updates"), channel.WithSNSClient(&MockSNSClient{}))
		assert.ErrorIs(t, err, channel.ErrInvalidConfig)
	})
}

func TestSNSPublish(t *testing.T) {
	t.Parallel()

	t.Run("sends body and string attributes", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
			attr, ok := in.MessageAttributes["operation"]
			_, hasEmpty := in.MessageAttributes["empty"]
			return aws.ToString(in.TopicArn) == testTopicARN &&
				aws.ToString(in.Message) == `{"id":42}` &&
				ok && aws.ToString(attr.DataType) == "String" && aws.ToString(attr.StringValue) == "insert" &&
				!hasEmpty &&
				in.MessageGroupId == nil
		})).Return(&sns.PublishOutput{MessageId: aws.String("msg-1")}, nil).Once()

		h := connectSNS(t, client, testTopicARN)
		ack, err := h.Publish(context.Background(), "", channel.Message{
			Body:       `{"id":42}`,
			Attributes: map[string]string{"operation": "insert", "empty": ""},
		})
		require.NoError(t, err)
		assert.Equal(t, "msg-1", ack.MessageID)
		assert.Equal(t, int64(-1), ack.Receivers)
		client.AssertExpectations(t)
	})

	t.Run("fifo topic gets group and dedup id", func(t *testing.T) {
		t.Parallel()
		fifo := testTopicARN + ".fifo"
		client := &MockSNSClient{}
		client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
			return aws.ToString(in.MessageGroupId) == "default" &&
				aws.ToString(in.MessageDeduplicationId) == "op-1"
		})).Return(&sns.PublishOutput{MessageId: aws.String("m")}, nil).Once()

		h := connectSNS(t, client, fifo)
		_, err := h.Publish(context.Background(), "", channel.Message{Body: "x", DeduplicationID: "op-1"})
		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("rejects invalid bodies before calling sns", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		h := connectSNS(t, client, testTopicARN)

		for name, body := range map[string]string{
			"empty":     "",
			"non utf8":  string([]byte{0xff, 0xfe, 0x01}),
			"too large": strings.Repeat("a", channel.MaxSNSMessageSize+1),
		} {
			_, err := h.Publish(context.Background(), "", channel.Message{Body: body})
			assert.ErrorIs(t, err, channel.ErrPayloadRejected, name)
			assert.False(t, channel.IsRetryable(err), name)
		}
		client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("classifies sdk errors", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			err  error
			want error
		}{
			{"throttled", &smithy.GenericAPIError{Code: "Throttled"}, channel.ErrUnavailable},
			{"internal", &smithy.GenericAPIError{Code: "InternalError"}, channel.ErrUnavailable},
			{"unknown code", &smithy.GenericAPIError{Code: "Weird"}, channel.ErrUnavailable},
			{"denied", &smithy.GenericAPIError{Code: "AuthorizationError"}, channel.ErrUnauthorized},
			{"invalid parameter", &smithy.GenericAPIError{Code: "InvalidParameter"}, channel.ErrPayloadRejected},
			{"not found", &smithy.GenericAPIError{Code: "NotFound"}, channel.ErrTopicNotFound},
			{"network", errors.New("dial tcp: i/o timeout"), channel.ErrUnreachable},
			{"deadline", context.DeadlineExceeded, channel.ErrTimeout},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				client := &MockSNSClient{}
				client.On("Publish", mock.Anything, mock.Anything).Return(nil, tt.err)
				h := connectSNS(t, client, testTopicARN)

				_, err := h.Publish(context.Background(), "", channel.Message{Body: "x"})
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.want)
				assert.ErrorIs(t, err, channel.ErrChannel)
			})
		}
	})
}

func TestSNSPublishIsAttemptedOnce(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	cfg := snsConfig(testTopicARN)
	cfg.VerifyTopic = false
	cfg.SNSEndpoint = srv.URL
	cfg.AWSAccessKeyID = "test"
	cfg.AWSSecretKey = "test"

	h, err := channel.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err = h.Publish(ctx, "", channel.Message{Body: `{"id":1}`})
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrChannel)
	assert.Equal(t, int32(1), requests.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestSNSHealthcheck(t *testing.T) {
	t.Parallel()

	client := &MockSNSClient{}
	client.On("GetTopicAttributes", mock.Anything, mock.Anything).Return(&sns.GetTopicAttributesOutput{}, nil).Once()
	client.On("GetTopicAttributes", mock.Anything, mock.Anything).Return(nil, &smithy.GenericAPIError{Code: "ServiceUnavailable"}).Once()

	h := connectSNS(t, client, testTopicARN)
	check := h.Healthcheck()
	assert.NoError(t, check(context.Background()))

	err := check(context.Background())
	assert.ErrorIs(t, err, channel.ErrHealthcheckFailed)
	assert.ErrorIs(t, err, channel.ErrUnavailable)
}
