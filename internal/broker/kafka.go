package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"invoice-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a Kafka producer for one topic
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent marshals event as JSON and writes it under key
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("topic", p.writer.Topic))
	return nil
}

// Forward copies msg unchanged onto the producer's topic, recording the
// failure and the source position in headers.
func (p *Producer) Forward(ctx context.Context, msg kafka.Message, cause error) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
		kafka.Header{Key: "x-source-topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "x-source-partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "x-source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	out := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to forward message to %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// RetryPolicy bounds in-place retries of a failing message.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// DeadLetterSink receives messages that exhausted their retries.
type DeadLetterSink interface {
	Forward(ctx context.Context, msg kafka.Message, cause error) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// Consumer reads one topic as part of a consumer group
type Consumer struct {
	reader     messageReader
	retry      RetryPolicy
	deadLetter DeadLetterSink
	logger     *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return newConsumer(reader)
}

func newConsumer(reader messageReader) *Consumer {
	return &Consumer{reader: reader, retry: DefaultRetryPolicy, logger: util.GetLogger()}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func (c *Consumer) WithRetryPolicy(p RetryPolicy) *Consumer {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	c.retry = p
	return c
}

// WithDeadLetter sets where exhausted messages go. Without one they are
// logged and dropped.
func (c *Consumer) WithDeadLetter(sink DeadLetterSink) *Consumer {
	c.deadLetter = sink
	return c
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes one message. A nil return commits it.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is cancelled. A failing message
// is retried in place with backoff, then forwarded to the dead letter sink,
// and only then committed. Committing a later offset commits every earlier
// one, so the consumer never moves past a message it has not settled.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	topic := c.reader.Config().Topic
	c.logger.Info("Starting Kafka consumer", zap.String("topic", topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", topic))
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			if err := sleepCtx(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if err := c.settle(ctx, handler, msg); err != nil {
			c.logger.Info("Consumer stopped with message unsettled",
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset),
				zap.Int("partition", msg.Partition),
			)
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// settle returns nil once msg was handled, dead-lettered or dropped. It only
// fails when ctx is cancelled first.
func (c *Consumer) settle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	logger := c.logger.With(zap.Int64("offset", msg.Offset), zap.Int("partition", msg.Partition))

	for round := 1; ; round++ {
		err := c.handleWithRetry(ctx, handler, msg, logger)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.deadLetter == nil {
			logger.Error("Dropping message after retries", zap.Error(err))
			return nil
		}
		fwdErr := c.deadLetter.Forward(ctx, msg, err)
		if fwdErr == nil {
			logger.Warn("Message dead-lettered after retries", zap.Error(err))
			return nil
		}
		logger.Error("Dead letter forward failed, retrying message", zap.Error(fwdErr), zap.Int("round", round))
		if err := sleepCtx(ctx, c.retry.MaxBackoff); err != nil {
			return err
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, msg kafka.Message, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		logger.Error("Error handling message", zap.Error(err), zap.Int("attempt", attempt))
		if attempt == c.retry.MaxAttempts {
			break
		}
		if sleepErr := sleepCtx(ctx, c.retry.backoff(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
