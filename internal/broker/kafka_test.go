package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader serves a fixed list of messages, then cancels the consumer.
type scriptedReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	next      int
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.messages) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[r.next]
	r.next++
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Config() kafka.ReaderConfig { return kafka.ReaderConfig{Topic: "invoice-requests"} }

func (r *scriptedReader) Close() error { return nil }

type recordingSink struct {
	failures  int
	forwarded []int64
	causes    []error
}

func (s *recordingSink) Forward(_ context.Context, msg kafka.Message, cause error) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.forwarded = append(s.forwarded, msg.Offset)
	s.causes = append(s.causes, cause)
	return nil
}

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newTestConsumer(offsets ...int64) (*Consumer, *scriptedReader, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &scriptedReader{cancel: cancel}
	for _, off := range offsets {
		reader.messages = append(reader.messages, kafka.Message{Offset: off, Value: []byte("{}")})
	}
	return newConsumer(reader).WithRetryPolicy(fastRetry), reader, ctx
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	c, reader, ctx := newTestConsumer(10, 11)
	calls := map[int64]int{}
	handler := func(_ context.Context, msg kafka.Message) error {
		calls[msg.Offset]++
		if msg.Offset == 10 && calls[10] < 3 {
			return errors.New("storage down")
		}
		return nil
	}

	err := c.StartConsuming(ctx, handler)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls[10])
	assert.Equal(t, 1, calls[11])
	assert.Equal(t, []int64{10, 11}, reader.committed)
}

func TestConsumerDeadLettersExhaustedMessage(t *testing.T) {
	c, reader, ctx := newTestConsumer(20, 21)
	sink := &recordingSink{}
	c.WithDeadLetter(sink)

	cause := errors.New("storage down")
	handler := func(_ context.Context, msg kafka.Message) error {
		if msg.Offset == 20 {
			return cause
		}
		return nil
	}

	require.ErrorIs(t, c.StartConsuming(ctx, handler), context.Canceled)

	assert.Equal(t, []int64{20}, sink.forwarded)
	assert.ErrorIs(t, sink.causes[0], cause)
	assert.Equal(t, []int64{20, 21}, reader.committed)
}

func TestConsumerHoldsMessageWhileDeadLetterFails(t *testing.T) {
	c, reader, ctx := newTestConsumer(30, 31)
	sink := &recordingSink{failures: 2}
	c.WithDeadLetter(sink)

	attempts := 0
	handler := func(_ context.Context, msg kafka.Message) error {
		if msg.Offset == 30 {
			attempts++
			return errors.New("storage down")
		}
		return nil
	}

	require.ErrorIs(t, c.StartConsuming(ctx, handler), context.Canceled)

	assert.Equal(t, 3*fastRetry.MaxAttempts, attempts)
	assert.Equal(t, []int64{30}, sink.forwarded)
	assert.Equal(t, []int64{30, 31}, reader.committed)
}

func TestConsumerStopsWithoutCommittingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &scriptedReader{cancel: cancel, messages: []kafka.Message{{Offset: 40}}}
	c := newConsumer(reader).WithRetryPolicy(RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour})

	handler := func(context.Context, kafka.Message) error {
		cancel()
		return errors.New("storage down")
	}

	assert.ErrorIs(t, c.StartConsuming(ctx, handler), context.Canceled)
	assert.Empty(t, reader.committed)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.backoff(4))
	assert.Equal(t, time.Second, p.backoff(5))
	assert.Equal(t, time.Second, p.backoff(9))
}
