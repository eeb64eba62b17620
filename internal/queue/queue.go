// Package queue carries pipeline tasks between stages over durable,
// at-least-once queues. A delivery stays owned by its consumer until it is
// acknowledged; a negative acknowledgement with requeue, or a consumer that
// disappears, makes it deliverable again.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// Broker publishes to and consumes from named durable queues.
type Broker interface {
	// Publish durably enqueues body on queue.
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume delivers messages from queue until ctx is cancelled, then
	// closes the channel. At most the configured prefetch count of
	// deliveries are outstanding (unacknowledged) at a time.
	Consume(ctx context.Context, queue string) (<-chan *Delivery, error)
	// Depth returns the number of messages waiting on queue.
	Depth(ctx context.Context, queue string) (int, error)
	Close() error
}

// Delivery is one message handed to a consumer.
type Delivery struct {
	ID          string
	Queue       string
	Body        []byte
	Redelivered bool

	once   sync.Once
	settle func(ack, requeue bool) error
}

// NewDelivery builds a delivery whose Ack and Nack call settle once. It is
// how Broker implementations outside this package hand out messages.
func NewDelivery(id, queue string, body []byte, redelivered bool, settle func(ack, requeue bool) error) *Delivery {
	return &Delivery{ID: id, Queue: queue, Body: body, Redelivered: redelivered, settle: settle}
}

// Ack removes the message from its queue.
func (d *Delivery) Ack() error {
	return d.finish(true, false)
}

// Nack rejects the message; with requeue it becomes deliverable again,
// otherwise it is dropped.
func (d *Delivery) Nack(requeue bool) error {
	return d.finish(false, requeue)
}

func (d *Delivery) finish(ack, requeue bool) error {
	err := fmt.Errorf("delivery %s already settled", d.ID)
	d.once.Do(func() { err = d.settle(ack, requeue) })
	return err
}

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendAMQP   = "amqp"
)

// Options selects and configures a broker backend.
type Options struct {
	Backend string
	// URL is the AMQP connection URL.
	URL string
	// Path is the SQLite queue database.
	Path         string
	Prefetch     int
	LeaseTimeout time.Duration
	PollInterval time.Duration
	// DialRetry overrides the AMQP dial retry policy.
	DialRetry *ragerrors.RetryConfig
	Logger    *slog.Logger
}

// Open returns the broker selected by opts.Backend.
func Open(ctx context.Context, opts Options) (Broker, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	switch opts.Backend {
	case BackendSQLite, "":
		b, err := OpenSQLite(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendAMQP:
		b, err := DialAMQP(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, ragerrors.ValidationError(
			fmt.Sprintf("unknown broker backend %q (valid: sqlite, amqp)", opts.Backend), nil)
	}
}
