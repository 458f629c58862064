package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/metrics"
)

const inboxChannel = "inbox"

// Channel is one fan-out target for a stored notification.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, row models.Notification) error
}

type inbox interface {
	Insert(ctx context.Context, notification *models.Notification) (bool, error)
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type job struct {
	ctx context.Context
	msg Message
}

// Dispatcher fans notifications out after the write that produced them has
// committed: the inbox row first, then every channel in order. Failures are
// logged and counted, never returned to the caller.
type Dispatcher struct {
	inbox    inbox
	channels []Channel
	metrics  *metrics.NotificationMetrics
	logg     *logger.Logger
	cfg      DispatcherConfig

	mu     sync.RWMutex
	closed bool
	queue  chan job
}

// NewDispatcher builds a dispatcher; call Run to start its workers.
func NewDispatcher(store inbox, channels []Channel, m *metrics.NotificationMetrics, logg *logger.Logger, cfg DispatcherConfig) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("notification inbox required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	var wired []Channel
	for _, ch := range channels {
		if ch != nil {
			wired = append(wired, ch)
		}
	}
	return &Dispatcher{
		inbox:    store,
		channels: wired,
		metrics:  m,
		logg:     logg,
		cfg:      cfg,
		queue:    make(chan job, cfg.QueueSize),
	}, nil
}

// Dispatch enqueues msgs without blocking. When the queue is full or the
// dispatcher has stopped the message is dropped and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	detached := context.WithoutCancel(ctx)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, msg := range msgs {
		if d.closed {
			d.dropped(ctx, msg, "dispatcher stopped")
			continue
		}
		select {
		case d.queue <- job{ctx: detached, msg: msg}:
		default:
			d.dropped(ctx, msg, "dispatch queue full")
		}
	}
}

func (d *Dispatcher) dropped(ctx context.Context, msg Message, reason string) {
	d.metrics.IncDropped()
	d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
		"user_id":           msg.UserID,
		"notification_type": msg.Type,
		"dedup_key":         msg.DedupKey,
		"reason":            reason,
	}), "notification dropped")
}

// Run starts the workers and blocks until ctx is done. Queued messages are
// drained before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range d.queue {
				d.deliver(j.ctx, j.msg)
			}
		}()
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	wg.Wait()
	return nil
}

// Deliver runs the fan-out for msg synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) {
	d.deliver(context.WithoutCancel(ctx), msg)
}

func (d *Dispatcher) deliver(parent context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(parent, d.cfg.Timeout)
	defer cancel()

	row := msg.toModel()
	ctx = d.logg.WithFields(ctx, map[string]any{
		"user_id":           row.UserID,
		"notification_type": row.Type,
		"audience":          row.Audience,
	})

	inserted, err := d.inbox.Insert(ctx, &row)
	switch {
	case err != nil:
		d.metrics.IncFailed(inboxChannel)
		d.logg.Error(ctx, "notification inbox write failed", err)
	case !inserted:
		d.logg.Debug(d.logg.WithField(ctx, "dedup_key", msg.DedupKey), "duplicate notification skipped")
		return
	default:
		d.metrics.IncDelivered(inboxChannel)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, row); err != nil {
			d.metrics.IncFailed(ch.Name())
			d.logg.Error(d.logg.WithField(ctx, "channel", ch.Name()), "notification channel failed", err)
			continue
		}
		d.metrics.IncDelivered(ch.Name())
	}
}
