package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/trademon/trademon-backend/pkg/logger"
)

const defaultNotificationRetention = 30 * 24 * time.Hour

type NotificationCleanupJobParams struct {
	Logger    *logger.Logger
	Purger    readNotificationPurger
	Retention time.Duration
}

type readNotificationPurger interface {
	PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewNotificationCleanupJob deletes notifications that were read more than
// Retention ago. Unread notifications are never purged.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purger == nil {
		return nil, fmt.Errorf("notification purger required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultNotificationRetention
	}
	return &notificationCleanupJob{
		logg:      params.Logger,
		purger:    params.Purger,
		retention: retention,
	}, nil
}

type notificationCleanupJob struct {
	logg      *logger.Logger
	purger    readNotificationPurger
	retention time.Duration
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.purger.PurgeRead(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"retention_hours": int(j.retention.Hours()),
		"rows_deleted":    deleted,
	}), "notification cleanup complete")
	return nil
}
