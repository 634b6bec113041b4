package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"order-processor/events"
	"order-processor/retry"
)

type recordedLetter struct {
	msg      *sarama.ConsumerMessage
	attempts int
	reason   error
}

type fakeDeadLetterSink struct {
	mu      sync.Mutex
	letters []recordedLetter
	err     error
}

func (f *fakeDeadLetterSink) SendDeadLetter(_ context.Context, msg *sarama.ConsumerMessage, attempts int, reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.letters = append(f.letters, recordedLetter{msg: msg, attempts: attempts, reason: reason})
	return nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Limit: 3, MinInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func encodedMessage(t *testing.T, event events.Event) *sarama.ConsumerMessage {
	t.Helper()
	_, data, err := events.Encode(event, time.Now())
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "order_created", Partition: 0, Offset: 7, Value: data}
}

func newTestConsumer(t *testing.T, router *events.Router, dlq DeadLetterSink) *Consumer {
	return NewConsumer(nil, []string{"order_created"}, router, fastPolicy(), dlq, zaptest.NewLogger(t))
}

func TestConsumer_HandleSuccess(t *testing.T) {
	router := events.NewRouter(zaptest.NewLogger(t))
	var got events.OrderCreated
	router.Register(events.TypeOrderCreated, events.Handle(func(_ context.Context, e events.OrderCreated) error {
		got = e
		return nil
	}))
	dlq := &fakeDeadLetterSink{}

	err := newTestConsumer(t, router, dlq).handle(context.Background(), encodedMessage(t, events.OrderCreated{OrderID: 42, UserID: 7}))

	require.NoError(t, err)
	assert.Equal(t, 42, got.OrderID)
	assert.Empty(t, dlq.letters)
}

func TestConsumer_HandleExhaustsRetries(t *testing.T) {
	router := events.NewRouter(zaptest.NewLogger(t))
	calls := 0
	router.Register(events.TypeOrderCreated, events.Handle(func(context.Context, events.OrderCreated) error {
		calls++
		return errors.New("database unavailable")
	}))
	dlq := &fakeDeadLetterSink{}

	err := newTestConsumer(t, router, dlq).handle(context.Background(), encodedMessage(t, events.OrderCreated{OrderID: 42}))

	require.NoError(t, err, "dead-lettered messages count as handled")
	assert.Equal(t, 4, calls, "first attempt plus three retries")
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, 4, dlq.letters[0].attempts)
	assert.ErrorIs(t, dlq.letters[0].reason, retry.ErrExhausted)
}

func TestConsumer_HandleMalformedEnvelope(t *testing.T) {
	router := events.NewRouter(zaptest.NewLogger(t))
	called := false
	router.Register(events.TypeOrderCreated, events.Handle(func(context.Context, events.OrderCreated) error {
		called = true
		return nil
	}))
	dlq := &fakeDeadLetterSink{}

	msg := &sarama.ConsumerMessage{Topic: "order_created", Value: []byte("not json")}
	err := newTestConsumer(t, router, dlq).handle(context.Background(), msg)

	require.NoError(t, err)
	assert.False(t, called)
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, 1, dlq.letters[0].attempts)
	assert.ErrorIs(t, dlq.letters[0].reason, events.ErrMalformed)
}

func TestConsumer_HandleMalformedPayloadIsNotRetried(t *testing.T) {
	router := events.NewRouter(zaptest.NewLogger(t))
	router.Register(events.TypeOrderCreated, events.Handle(func(context.Context, events.OrderCreated) error {
		return nil
	}))
	dlq := &fakeDeadLetterSink{}

	msg := &sarama.ConsumerMessage{
		Topic: "order_created",
		Value: []byte(`{"event_id":"x","event_type":"order_created","payload":{"order_id":"forty-two"}}`),
	}
	err := newTestConsumer(t, router, dlq).handle(context.Background(), msg)

	require.NoError(t, err)
	require.Len(t, dlq.letters, 1)
	assert.Equal(t, 1, dlq.letters[0].attempts)
}

func TestConsumer_HandleCancelledLeavesMessageUnacked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	router := events.NewRouter(zaptest.NewLogger(t))
	router.Register(events.TypeOrderCreated, events.Handle(func(ctx context.Context, _ events.OrderCreated) error {
		cancel()
		return ctx.Err()
	}))
	dlq := &fakeDeadLetterSink{}

	err := newTestConsumer(t, router, dlq).handle(ctx, encodedMessage(t, events.OrderCreated{OrderID: 1}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dlq.letters)
}

func TestConsumer_HandleDeadLetterFailure(t *testing.T) {
	router := events.NewRouter(zaptest.NewLogger(t))
	dlq := &fakeDeadLetterSink{err: errors.New("broker down")}

	err := newTestConsumer(t, router, dlq).handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})

	assert.Error(t, err)
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumer_ConsumeClaimMarksHandledMessages(t *testing.T) {
	router := events.NewRouter(zaptest.NewLogger(t))
	router.Register(events.TypeOrderCreated, events.Handle(func(context.Context, events.OrderCreated) error {
		return nil
	}))
	dlq := &fakeDeadLetterSink{}
	consumer := newTestConsumer(t, router, dlq)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	first := encodedMessage(t, events.OrderCreated{OrderID: 1})
	first.Offset = 10
	poison := &sarama.ConsumerMessage{Topic: "order_created", Offset: 11, Value: []byte("nope")}
	third := encodedMessage(t, events.OrderCreated{OrderID: 2})
	third.Offset = 12
	claim.messages <- first
	claim.messages <- poison
	claim.messages <- third
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{10, 11, 12}, session.marked)
	assert.Len(t, dlq.letters, 1)
}

func TestConsumer_ConsumeClaimStopsOnCancel(t *testing.T) {
	consumer := newTestConsumer(t, events.NewRouter(zaptest.NewLogger(t)), &fakeDeadLetterSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	assert.NoError(t, consumer.ConsumeClaim(session, claim))
	assert.Empty(t, session.marked)
}

type fakeConsumerGroup struct {
	sarama.ConsumerGroup
	mu       sync.Mutex
	calls    int
	failures []error
	errs     chan error
}

func newFakeConsumerGroup(failures ...error) *fakeConsumerGroup {
	errs := make(chan error)
	close(errs)
	return &fakeConsumerGroup{failures: failures, errs: errs}
}

func (g *fakeConsumerGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()

	if call <= len(g.failures) {
		return g.failures[call-1]
	}
	<-ctx.Done()
	return nil
}

func (g *fakeConsumerGroup) Errors() <-chan error { return g.errs }

func (g *fakeConsumerGroup) consumeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestConsumer_RunRejoinsAfterSessionFailure(t *testing.T) {
	group := newFakeConsumerGroup(sarama.ErrOutOfBrokers, sarama.ErrOutOfBrokers)
	consumer := NewConsumer(group, []string{"order_created"}, events.NewRouter(zaptest.NewLogger(t)),
		fastPolicy(), &fakeDeadLetterSink{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return group.consumeCalls() == 3 }, time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConsumer_RunStopsWhenGroupClosed(t *testing.T) {
	group := newFakeConsumerGroup(sarama.ErrClosedConsumerGroup)
	consumer := NewConsumer(group, []string{"order_created"}, events.NewRouter(zaptest.NewLogger(t)),
		fastPolicy(), &fakeDeadLetterSink{}, zaptest.NewLogger(t))

	assert.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, 1, group.consumeCalls())
}
