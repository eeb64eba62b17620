package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// AMQPBroker talks to RabbitMQ. Queues are declared durable and messages
// are published persistent with publisher confirms, so an acknowledged
// Publish survives a broker restart.
type AMQPBroker struct {
	conn       *amqp.Connection
	prefetch   int
	settleWait time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool
}

// DialAMQP connects to opts.URL, retrying transient failures.
func DialAMQP(ctx context.Context, opts Options) (*AMQPBroker, error) {
	retry := ragerrors.DefaultRetryConfig()
	if opts.DialRetry != nil {
		retry = *opts.DialRetry
	}
	retry.ShouldRetry = nil

	conn, err := ragerrors.RetryWithResult(ctx, retry, func() (*amqp.Connection, error) {
		return amqp.DialConfig(opts.URL, amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Properties: amqp.Table{
				"connection_name": "ragscraper",
			},
		})
	})
	if err != nil {
		return nil, brokerErr("failed to connect to broker", err).
			WithSuggestion("check broker.url and that RabbitMQ is running")
	}

	b := &AMQPBroker{
		conn:     conn,
		prefetch: max(opts.Prefetch, 1),
		logger:   opts.Logger,
		declared: map[string]bool{},
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// Publish implements Broker.
func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}
	if err := b.declare(ch, queue); err != nil {
		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/octet-stream",
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		b.resetPublishChannel()
		return brokerErr("failed to publish", err).WithDetail("queue", queue)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return brokerErr("publish confirm failed", err).WithDetail("queue", queue)
	}
	if !acked {
		return brokerErr("broker rejected message", nil).WithDetail("queue", queue)
	}
	return nil
}

// publishChannel returns the shared confirm-mode channel. Must hold mu.
func (b *AMQPBroker) publishChannel() (*amqp.Channel, error) {
	if b.pub != nil && !b.pub.IsClosed() {
		return b.pub, nil
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, brokerErr("failed to open channel", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, brokerErr("failed to enable publisher confirms", err)
	}
	b.pub = ch
	b.declared = map[string]bool{}
	return ch, nil
}

func (b *AMQPBroker) resetPublishChannel() {
	if b.pub != nil {
		_ = b.pub.Close()
		b.pub = nil
	}
}

// declare declares queue durable once per channel. Must hold mu.
func (b *AMQPBroker) declare(ch *amqp.Channel, queue string) error {
	if b.declared[queue] {
		return nil
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		b.resetPublishChannel()
		return brokerErr("failed to declare queue", err).WithDetail("queue", queue)
	}
	b.declared[queue] = true
	return nil
}

// Consume implements Broker. Each consumer gets its own channel with
// basic.qos set to the prefetch count.
func (b *AMQPBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, brokerErr("failed to open channel", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, brokerErr("failed to set prefetch", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, brokerErr("failed to declare queue", err).WithDetail("queue", queue)
	}

	tag := "ragscraper-" + uuid.NewString()
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, brokerErr("failed to start consumer", err).WithDetail("queue", queue)
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)
		b.relay(ctx, queue, msgs, out, func() { _ = ch.Cancel(tag, false) })
		_ = ch.Close()
	}()
	return out, nil
}

// amqpSettleWait bounds how long a stopping consumer keeps its channel
// open for deliveries that are still being handled.
const amqpSettleWait = 30 * time.Second

// relay hands msgs to out until ctx is cancelled or msgs closes. Before
// returning it waits for every handed-out delivery to be settled, since
// acknowledgements travel on the channel msgs came from.
func (b *AMQPBroker) relay(ctx context.Context, queue string, msgs <-chan amqp.Delivery, out chan<- *Delivery, cancel func()) {
	var inflight sync.WaitGroup
	defer b.awaitSettled(queue, &inflight)

	for {
		select {
		case <-ctx.Done():
			cancel()
			return
		case m, ok := <-msgs:
			if !ok {
				b.logger.Warn("queue_consumer_closed", slog.String("queue", queue))
				return
			}
			inflight.Add(1)
			d := NewDelivery(m.MessageId, queue, m.Body, m.Redelivered, func(ack, requeue bool) error {
				defer inflight.Done()
				if ack {
					return m.Ack(false)
				}
				return m.Nack(false, requeue)
			})
			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(true)
				cancel()
				return
			}
		}
	}
}

func (b *AMQPBroker) awaitSettled(queue string, inflight *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	wait := b.settleWait
	if wait <= 0 {
		wait = amqpSettleWait
	}
	select {
	case <-done:
	case <-time.After(wait):
		b.logger.Warn("queue_consumer_unsettled",
			slog.String("queue", queue),
			slog.Duration("waited", wait))
	}
}

// Depth implements Broker.
func (b *AMQPBroker) Depth(ctx context.Context, queue string) (int, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return 0, brokerErr("failed to open channel", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, brokerErr(fmt.Sprintf("queue %q not found", queue), err)
	}
	return q.Messages, nil
}

// Close implements Broker.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	b.resetPublishChannel()
	b.mu.Unlock()
	return b.conn.Close()
}
