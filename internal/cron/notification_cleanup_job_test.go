package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trademon/trademon-backend/pkg/logger"
)

type fakePurger struct {
	olderThan time.Duration
	deleted   int64
	err       error
	called    int
}

func (f *fakePurger) PurgeRead(_ context.Context, olderThan time.Duration) (int64, error) {
	f.called++
	f.olderThan = olderThan
	if f.err != nil {
		return 0, f.err
	}
	return f.deleted, nil
}

func TestNotificationCleanupJobPurgesReadNotifications(t *testing.T) {
	purger := &fakePurger{deleted: 42}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:    logger.Nop(),
		Purger:    purger,
		Retention: 48 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if purger.called != 1 || purger.olderThan != 48*time.Hour {
		t.Fatalf("unexpected purge call: called=%d olderThan=%s", purger.called, purger.olderThan)
	}
}

func TestNotificationCleanupJobDefaultsRetention(t *testing.T) {
	purger := &fakePurger{}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: logger.Nop(), Purger: purger})
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if purger.olderThan != defaultNotificationRetention {
		t.Fatalf("expected default retention, got %s", purger.olderThan)
	}
}

func TestNotificationCleanupJobPropagatesErrors(t *testing.T) {
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger: logger.Nop(),
		Purger: &fakePurger{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
