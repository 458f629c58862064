package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

const (
	defaultPendingPaymentTTL = 72 * time.Hour
	orderExpiryBatchSize     = pagination.MaxLimit
)

type OrderExpiryJobParams struct {
	Logger  *logger.Logger
	Orders  staleOrderExpirer
	TTL     time.Duration
	MaxRuns int
}

type staleOrderExpirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// NewOrderExpiryJob cancels orders that stayed in PENDING_PAYMENT longer than
// TTL. Cancellation goes through the order state machine, so a payment that
// lands later reconciles as a rejected transition and raises an admin alert.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingPaymentTTL
	}
	maxRuns := params.MaxRuns
	if maxRuns <= 0 {
		maxRuns = 20
	}
	return &orderExpiryJob{
		logg:    params.Logger,
		orders:  params.Orders,
		ttl:     ttl,
		maxRuns: maxRuns,
		now:     time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg    *logger.Logger
	orders  staleOrderExpirer
	ttl     time.Duration
	maxRuns int
	now     func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

// Run drains stale orders batch by batch. A batch with failures stops the
// loop so the same rows are not retried in a tight cycle.
func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	total := 0
	for i := 0; i < j.maxRuns; i++ {
		expired, err := j.orders.ExpireStale(ctx, cutoff, orderExpiryBatchSize)
		total += expired
		if err != nil {
			j.logg.Warn(j.logg.WithField(ctx, "expired", total), "order expiry stopped on errors")
			return fmt.Errorf("expire stale orders: %w", err)
		}
		if expired < orderExpiryBatchSize {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": total,
	}), "order expiry complete")
	return nil
}
