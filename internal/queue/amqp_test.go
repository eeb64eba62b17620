package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelAcks stands in for an AMQP channel: it records settlements and
// refuses them once closed.
type channelAcks struct {
	mu     sync.Mutex
	closed bool
	events []string
}

func (c *channelAcks) Ack(tag uint64, _ bool) error {
	return c.record(fmt.Sprintf("ack:%d", tag))
}

func (c *channelAcks) Nack(tag uint64, _ bool, requeue bool) error {
	return c.record(fmt.Sprintf("nack:%d:%t", tag, requeue))
}

func (c *channelAcks) Reject(tag uint64, requeue bool) error {
	return c.record(fmt.Sprintf("reject:%d:%t", tag, requeue))
}

func (c *channelAcks) record(event string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.events = append(c.events, event)
	return nil
}

func (c *channelAcks) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *channelAcks) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func testAMQPBroker(settleWait time.Duration) *AMQPBroker {
	return &AMQPBroker{
		prefetch:   1,
		settleWait: settleWait,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// startRelay runs relay the way Consume does and closes acks when it
// returns.
func startRelay(ctx context.Context, b *AMQPBroker, msgs <-chan amqp.Delivery, acks *channelAcks) (<-chan *Delivery, <-chan struct{}) {
	out := make(chan *Delivery)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		defer close(out)
		b.relay(ctx, "q", msgs, out, func() {})
		acks.Close()
	}()
	return out, stopped
}

func TestAMQPRelay_KeepsChannelOpenUntilInFlightSettles(t *testing.T) {
	// Given: a consumer that has handed out one delivery
	acks := &channelAcks{}
	msgs := make(chan amqp.Delivery)
	ctx, cancel := context.WithCancel(context.Background())
	out, stopped := startRelay(ctx, testAMQPBroker(0), msgs, acks)

	msgs <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, MessageId: "m1", Body: []byte("one")}
	d := receive(t, out)

	// When: the consumer is cancelled while the delivery is being handled
	cancel()

	// Then: the channel stays open until the delivery is acknowledged
	select {
	case <-stopped:
		t.Fatal("consumer stopped before the delivery was settled")
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, d.Ack())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after the delivery was settled")
	}
	assert.Equal(t, []string{"ack:1"}, acks.Events())
}

func TestAMQPRelay_PendingDeliveryIsRequeuedOnCancel(t *testing.T) {
	// Given: a message received while nobody is reading deliveries
	acks := &channelAcks{}
	msgs := make(chan amqp.Delivery)
	ctx, cancel := context.WithCancel(context.Background())
	_, stopped := startRelay(ctx, testAMQPBroker(0), msgs, acks)
	msgs <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 7, MessageId: "m7"}

	// When: the consumer is cancelled
	cancel()

	// Then: the message goes back to the queue before the channel closes
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{"nack:7:true"}, acks.Events())
}

func TestAMQPRelay_SettleWaitIsBounded(t *testing.T) {
	// Given: a handed-out delivery that is never settled
	acks := &channelAcks{}
	msgs := make(chan amqp.Delivery)
	ctx, cancel := context.WithCancel(context.Background())
	out, stopped := startRelay(ctx, testAMQPBroker(50*time.Millisecond), msgs, acks)
	msgs <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, MessageId: "m1"}
	d := receive(t, out)

	// When: the consumer is cancelled
	cancel()

	// Then: it stops after the settle wait, and a late ack fails
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after the settle wait")
	}
	assert.Error(t, d.Ack())
	assert.Empty(t, acks.Events())
}
