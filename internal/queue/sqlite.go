package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	queue       TEXT NOT NULL,
	body        BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL,
	visible_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	lease       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_ready ON messages(queue, visible_at, seq);
`

// SQLiteBroker is a durable queue in a local SQLite database. Several
// processes may share one database; a claimed message is leased to its
// consumer and becomes visible again when the lease runs out, so a
// consumer that dies mid-task does not lose the message.
type SQLiteBroker struct {
	db           *sql.DB
	prefetch     int
	leaseTimeout time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	// wake nudges in-process consumers after a publish or requeue.
	wake chan struct{}
}

// OpenSQLite opens (creating if needed) the queue database at opts.Path.
func OpenSQLite(ctx context.Context, opts Options) (*SQLiteBroker, error) {
	if opts.Path == "" {
		return nil, ragerrors.ValidationError("queue path is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, brokerErr("failed to open queue database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, brokerErr("failed to configure queue database", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, brokerErr("failed to create queue schema", err)
	}

	b := &SQLiteBroker{
		db:           db,
		prefetch:     max(opts.Prefetch, 1),
		leaseTimeout: opts.LeaseTimeout,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
	}
	if b.leaseTimeout <= 0 {
		b.leaseTimeout = 5 * time.Minute
	}
	if b.pollInterval <= 0 {
		b.pollInterval = 250 * time.Millisecond
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// Publish implements Broker.
func (b *SQLiteBroker) Publish(ctx context.Context, queue string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	now := b.now().UnixNano()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO messages (id, queue, body, enqueued_at, visible_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), queue, body, now, now)
	if err != nil {
		return brokerErr("failed to publish", err).WithDetail("queue", queue)
	}
	b.notify()
	return nil
}

// Consume implements Broker.
func (b *SQLiteBroker) Consume(ctx context.Context, queue string) (<-chan *Delivery, error) {
	out := make(chan *Delivery)
	slots := make(chan struct{}, b.prefetch)

	go func() {
		defer close(out)
		for {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}

			d, err := b.claim(ctx, queue, slots)
			if err != nil {
				<-slots
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("queue_claim_failed",
					slog.String("queue", queue),
					ragerrors.LogAttr(err))
				if !b.idle(ctx) {
					return
				}
				continue
			}
			if d == nil {
				<-slots
				if !b.idle(ctx) {
					return
				}
				continue
			}

			select {
			case out <- d:
			case <-ctx.Done():
				// Hand the lease back so another consumer can take it now.
				_ = d.Nack(true)
				return
			}
		}
	}()
	return out, nil
}

// claim leases the oldest visible message on queue, or returns nil.
func (b *SQLiteBroker) claim(ctx context.Context, queue string, slots chan struct{}) (*Delivery, error) {
	for {
		now := b.now()
		var (
			seq      int64
			id       string
			body     []byte
			attempts int
		)
		err := b.db.QueryRowContext(ctx, `
			SELECT seq, id, body, attempts FROM messages
			WHERE queue = ? AND visible_at <= ?
			ORDER BY seq LIMIT 1`, queue, now.UnixNano()).
			Scan(&seq, &id, &body, &attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		lease := uuid.NewString()
		res, err := b.db.ExecContext(ctx, `
			UPDATE messages SET visible_at = ?, attempts = attempts + 1, lease = ?
			WHERE seq = ? AND visible_at <= ?`,
			now.Add(b.leaseTimeout).UnixNano(), lease, seq, now.UnixNano())
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another consumer won the race; try the next message.
			continue
		}

		d := &Delivery{ID: id, Queue: queue, Body: body, Redelivered: attempts > 0}
		d.settle = func(ack, requeue bool) error {
			defer func() { <-slots }()
			return b.settle(id, lease, ack, requeue)
		}
		return d, nil
	}
}

func (b *SQLiteBroker) settle(id, lease string, ack, requeue bool) error {
	// Settling uses a fresh context: the consumer's may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if ack || !requeue {
		_, err = b.db.ExecContext(ctx,
			`DELETE FROM messages WHERE id = ? AND lease = ?`, id, lease)
	} else {
		_, err = b.db.ExecContext(ctx,
			`UPDATE messages SET visible_at = ?, lease = '' WHERE id = ? AND lease = ?`,
			b.now().UnixNano(), id, lease)
		b.notify()
	}
	if err != nil {
		return brokerErr("failed to settle delivery", err).WithDetail("message_id", id)
	}
	return nil
}

// Depth implements Broker. Leased messages are not counted.
func (b *SQLiteBroker) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE queue = ? AND visible_at <= ?`,
		queue, b.now().UnixNano()).Scan(&n)
	if err != nil {
		return 0, brokerErr("failed to read queue depth", err).WithDetail("queue", queue)
	}
	return n, nil
}

// Close implements Broker.
func (b *SQLiteBroker) Close() error {
	_, _ = b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return b.db.Close()
}

func (b *SQLiteBroker) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// idle waits for a publish, the poll interval, or cancellation. It
// returns false once ctx is done.
func (b *SQLiteBroker) idle(ctx context.Context) bool {
	t := time.NewTimer(b.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-b.wake:
		return true
	case <-t.C:
		return true
	}
}

func brokerErr(msg string, err error) *ragerrors.Error {
	return ragerrors.New(ragerrors.ErrCodeBrokerUnavailable, msg, err)
}
