// Package channel is the client side of the shared notification channel that
// replicas use to announce committed writes to each other.
//
// A process owns exactly one *Handle. The handle wraps a single transport
// session (an SNS client, a redis connection or an in-process MemoryBus) and
// lets one publish use it at a time, so concurrent publishes are never
// interleaved mid-message. Waiting callers queue in arrival order and can
// give up through their context; an expired wait is reported as ErrTimeout.
//
// The package never retries a failed publish. Every failure is returned as a
// *Error whose cause is one of the sentinels (ErrUnauthorized,
// ErrUnreachable, ErrUnavailable, ErrPayloadRejected, ErrTopicNotFound,
// ErrTimeout, ...); IsRetryable tells callers which of them are worth
// repeating. Retry policy belongs to the broadcast package.
//
// # Drivers
//
//   - sns: Amazon SNS via aws-sdk-go-v2. CHANNEL_TOPIC is the topic ARN.
//     Bodies must be UTF-8 and at most 256 KiB; FIFO topics (".fifo") get a
//     message group and deduplication id from the Message.
//   - redis: PUBLISH/SUBSCRIBE via go-redis. CHANNEL_TOPIC is the channel.
//   - memory: in-process bus for development and tests.
//
// # Usage
//
//	var cfg channel.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//	handle, err := channel.Connect(ctx, cfg, channel.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer handle.Close()
//
//	ack, err := handle.Publish(ctx, "", channel.Message{Body: body})
package channel
