package cron

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/notifications/notifytest"
	"github.com/trademon/trademon-backend/pkg/db/dbtest"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/outbox"
)

type auditFixture struct {
	conn     *gorm.DB
	ledger   ledger.Service
	notifier *notifytest.Recorder
	job      Job
}

func newAuditFixture(t *testing.T) *auditFixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	recorder := &notifytest.Recorder{}
	job, err := NewLedgerAuditJob(LedgerAuditJobParams{
		Logger:   logger.Nop(),
		Ledger:   ledgerSvc,
		DB:       client,
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Notifier: recorder,
	})
	if err != nil {
		t.Fatalf("NewLedgerAuditJob: %v", err)
	}
	return &auditFixture{conn: conn, ledger: ledgerSvc, notifier: recorder, job: job}
}

func (f *auditFixture) credit(t *testing.T, account uuid.UUID, amount int64) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), nil, ledger.AppendInput{
		AccountID: account,
		Bucket:    enums.LedgerBucketAvailable,
		Amount:    amount,
		Type:      enums.LedgerEntryTypeDeposit,
		Status:    enums.LedgerEntryStatusSettled,
		Reference: ledger.Reference{Type: ledger.ReferenceAdjustment, ID: uuid.New()},
	})
	if err != nil {
		t.Fatalf("credit %s: %v", account, err)
	}
}

func (f *auditFixture) alertEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventAdminAlertRaised).Count(&n).Error; err != nil {
		t.Fatalf("count alert events: %v", err)
	}
	return n
}

func TestLedgerAuditJobQuietWhenConsistent(t *testing.T) {
	f := newAuditFixture(t)
	f.credit(t, uuid.New(), 1000)
	f.credit(t, uuid.New(), 2500)

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := f.alertEvents(t); n != 0 {
		t.Fatalf("expected no alert events, got %d", n)
	}
	if alerts := f.notifier.Alerts(); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}
}

func TestLedgerAuditJobAlertsOnDrift(t *testing.T) {
	f := newAuditFixture(t)
	healthy, drifting := uuid.New(), uuid.New()
	f.credit(t, healthy, 1000)
	f.credit(t, drifting, 1000)
	f.credit(t, drifting, 500)
	if err := f.conn.Model(&models.Wallet{}).Where("account_id = ?", drifting).Update("balance", 9999).Error; err != nil {
		t.Fatalf("corrupt cached balance: %v", err)
	}

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := f.alertEvents(t); n != 1 {
		t.Fatalf("expected 1 alert event, got %d", n)
	}

	var event models.OutboxEvent
	if err := f.conn.Where("event_type = ?", enums.EventAdminAlertRaised).Take(&event).Error; err != nil {
		t.Fatalf("load alert event: %v", err)
	}
	if event.AggregateID != drifting || event.AggregateType != enums.AggregateWallet {
		t.Fatalf("alert event points at %s/%s, want wallet/%s", event.AggregateType, event.AggregateID, drifting)
	}

	alerts := f.notifier.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if want := DriftDedupKey(&ledger.DriftReport{AccountID: drifting, Entries: 2}); alerts[0].DedupKey != want {
		t.Fatalf("dedup key = %q, want %q", alerts[0].DedupKey, want)
	}
	if !strings.Contains(alerts[0].Body, drifting.String()) {
		t.Fatalf("alert body missing wallet id: %q", alerts[0].Body)
	}
}
