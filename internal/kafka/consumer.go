package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/logger"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RetryPolicy builds the backoff used while a handler keeps failing
// transiently on the same message.
type RetryPolicy func(ctx context.Context) backoff.BackOff

type Consumer struct {
	reader MessageReader
	logger *logger.Logger
	retry  RetryPolicy
}

type ConsumerOption func(*Consumer)

// WithRetryPolicy replaces the default unbounded exponential backoff.
func WithRetryPolicy(p RetryPolicy) ConsumerOption {
	return func(c *Consumer) { c.retry = p }
}

func defaultRetryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0
	return backoff.WithContext(policy, ctx)
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, log, opts...)
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{reader: reader, logger: log, retry: defaultRetryPolicy}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes messages until ctx is cancelled. A handler error that is
// transient is retried on the same message; the offset is committed only
// once the handler succeeds or fails permanently. A message still failing
// when ctx ends stays uncommitted and is redelivered.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, msg kafka.Message) error) error {
	c.logger.LogKafka("CONSUME", "", "consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("error reading message: %v", err))
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Warn("KAFKA", fmt.Sprintf("leaving %s/%d@%d uncommitted: %v", msg.Topic, msg.Partition, msg.Offset, err))
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("handler failed for %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("KAFKA", fmt.Sprintf("commit failed for %s@%d: %v", msg.Topic, msg.Offset, err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler func(ctx context.Context, msg kafka.Message) error, msg kafka.Message) error {
	attempt := func() error {
		err := handler(ctx, msg)
		if err != nil && !apperrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("KAFKA", fmt.Sprintf("retrying %s/%d@%d in %s: %v", msg.Topic, msg.Partition, msg.Offset, wait, err))
	}
	return backoff.RetryNotify(attempt, c.retry(ctx), notify)
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
