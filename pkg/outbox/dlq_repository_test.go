package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/db/dbtest"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
)

func deadLetter(aggregate enums.OutboxAggregateType, failedAt time.Time) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventPaymentReconciled,
		AggregateType: aggregate,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		AttemptCount:  5,
		FailedAt:      failedAt,
	}
}

func TestDLQInsertTruncatesErrorMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	entry := deadLetter(enums.AggregatePayment, time.Now().UTC())
	long := strings.Repeat("x", maxDLQErrorLen+200)
	entry.ErrorMessage = &long

	if err := repo.InsertTx(conn, entry); err != nil {
		t.Fatalf("insert: %v", err)
	}
	stored, err := repo.FindByEventID(context.Background(), entry.EventID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored == nil || stored.ErrorMessage == nil {
		t.Fatalf("expected stored entry with message, got %+v", stored)
	}
	if len(*stored.ErrorMessage) != maxDLQErrorLen {
		t.Fatalf("expected message truncated to %d, got %d", maxDLQErrorLen, len(*stored.ErrorMessage))
	}
}

func TestDLQInsertRequiresTransaction(t *testing.T) {
	if err := NewDLQRepository(nil).InsertTx(nil, models.OutboxDLQ{}); err == nil {
		t.Fatal("expected error without a transaction")
	}
}

func TestDLQFindByEventIDMissing(t *testing.T) {
	repo := NewDLQRepository(dbtest.Open(t))

	stored, err := repo.FindByEventID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored != nil {
		t.Fatalf("expected nil for unknown event, got %+v", stored)
	}
}

func TestDLQListFiltersByAggregateNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository(conn)
	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	older := deadLetter(enums.AggregatePayment, base)
	newer := deadLetter(enums.AggregatePayment, base.Add(time.Hour))
	other := deadLetter(enums.AggregateWithdrawal, base.Add(2*time.Hour))
	for _, entry := range []models.OutboxDLQ{older, newer, other} {
		if err := repo.InsertTx(conn, entry); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := repo.List(context.Background(), enums.AggregatePayment, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].EventID != newer.EventID || rows[1].EventID != older.EventID {
		t.Fatalf("expected payment entries newest first, got %+v", rows)
	}

	all, err := repo.List(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].EventID != other.EventID {
		t.Fatalf("expected only the newest entry across aggregates, got %+v", all)
	}
}
