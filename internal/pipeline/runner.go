package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/queue"
)

// Handler processes one task and returns the tasks to forward. A nil or
// empty slice forwards nothing. Handlers must be idempotent: a task can
// be delivered again after a crash or a failed acknowledgement.
type Handler func(ctx context.Context, t Task) ([]Task, error)

// Stats counts what a Runner has done.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Forwarded int64 `json:"forwarded"`
	Dropped   int64 `json:"dropped"`
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Stage names the runner in logs.
	Stage string
	// FailureBackoff delays the requeue of a failed task so that a
	// persistent failure does not spin.
	FailureBackoff time.Duration
	Logger         *slog.Logger
}

// Runner is the consumer loop shared by every stage.
type Runner struct {
	broker  queue.Broker
	stage   string
	backoff time.Duration
	logger  *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	forwarded atomic.Int64
	dropped   atomic.Int64
}

// NewRunner creates a Runner consuming from broker.
func NewRunner(broker queue.Broker, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		broker:  broker,
		stage:   opts.Stage,
		backoff: opts.FailureBackoff,
		logger:  logger.With(slog.String("stage", opts.Stage)),
	}
}

// Run consumes queueName until ctx is cancelled, handling one delivery at
// a time. The delivery in flight when ctx is cancelled is finished (or
// requeued) before Run returns.
func (r *Runner) Run(ctx context.Context, queueName string, handle Handler) error {
	deliveries, err := r.broker.Consume(ctx, queueName)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}
	r.logger.Info("stage_started", slog.String("queue", queueName))

	for d := range deliveries {
		r.process(ctx, d, handle)
	}

	s := r.Stats()
	r.logger.Info("stage_stopped",
		slog.String("queue", queueName),
		slog.Int64("processed", s.Processed),
		slog.Int64("failed", s.Failed),
		slog.Int64("forwarded", s.Forwarded))
	return nil
}

func (r *Runner) process(ctx context.Context, d *queue.Delivery, handle Handler) {
	forwards, err := handle(ctx, Task{Queue: d.Queue, Body: d.Body, Redelivered: d.Redelivered})
	if err == nil {
		// Forwards of a finished handler go out even during shutdown.
		err = r.publish(context.WithoutCancel(ctx), forwards)
	}

	if err != nil {
		r.failed.Add(1)
		if ragerrors.GetCode(err) == ragerrors.ErrCodeInvalidPayload {
			// Redelivering a body that can never parse would loop forever.
			r.dropped.Add(1)
			r.logger.Warn("stage_task_dropped",
				slog.String("delivery_id", d.ID),
				ragerrors.LogAttr(err))
			r.settle(d, d.Nack(false))
			return
		}

		r.logger.Warn("stage_task_failed",
			slog.String("delivery_id", d.ID),
			slog.Bool("redelivered", d.Redelivered),
			slog.Bool("retryable", ragerrors.IsRetryable(err)),
			ragerrors.LogAttr(err))
		r.wait(ctx)
		r.settle(d, d.Nack(true))
		return
	}

	if err := d.Ack(); err != nil {
		// The task will come back; handlers are idempotent.
		r.logger.Warn("stage_ack_failed", slog.String("delivery_id", d.ID), ragerrors.LogAttr(err))
		return
	}
	r.processed.Add(1)
	r.forwarded.Add(int64(len(forwards)))
}

// publish forwards every task; the first failure aborts, leaving the
// source delivery unacknowledged.
func (r *Runner) publish(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		if err := r.broker.Publish(ctx, t.Queue, t.Body); err != nil {
			return fmt.Errorf("forward to %s: %w", t.Queue, err)
		}
	}
	return nil
}

func (r *Runner) settle(d *queue.Delivery, err error) {
	if err != nil {
		r.logger.Warn("stage_nack_failed", slog.String("delivery_id", d.ID), ragerrors.LogAttr(err))
	}
}

func (r *Runner) wait(ctx context.Context) {
	if r.backoff <= 0 {
		return
	}
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		Forwarded: r.forwarded.Load(),
		Dropped:   r.dropped.Load(),
	}
}
