package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/db/dbtest"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	svc, err := NewService(NewRepository(conn), client)
	require.NoError(t, err)
	return svc, conn
}

func credit(account uuid.UUID, amount int64, ref Reference) AppendInput {
	return AppendInput{
		AccountID: account,
		Bucket:    enums.LedgerBucketAvailable,
		Amount:    amount,
		Type:      enums.LedgerEntryTypeDeposit,
		Status:    enums.LedgerEntryStatusSettled,
		Reference: ref,
	}
}

func TestAppendTracksBalanceAfterAndSequence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	account := uuid.New()
	ref := Reference{Type: ReferenceAdjustment, ID: uuid.New()}

	first, err := svc.Append(ctx, nil, credit(account, 5000, ref))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Entry.Sequence)
	assert.Equal(t, int64(5000), first.Entry.BalanceAfter)

	debit := credit(account, -1200, ref)
	debit.Type = enums.LedgerEntryTypeWithdrawal
	second, err := svc.Append(ctx, nil, debit)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Entry.Sequence)
	assert.Equal(t, int64(3800), second.Entry.BalanceAfter)
	assert.Equal(t, int64(3800), second.Balance.Available)

	balance, err := svc.GetBalance(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(3800), balance.Available)
	assert.Equal(t, int64(0), balance.Pending)
	assert.Equal(t, int64(2), balance.Version)
}

func TestAppendRejectsOverdraftWithoutWriting(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	account := uuid.New()
	ref := Reference{Type: ReferenceAdjustment, ID: uuid.New()}

	_, err := svc.Append(ctx, nil, credit(account, 3000, ref))
	require.NoError(t, err)

	_, err = svc.Append(ctx, nil, credit(account, -5000, ref))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds))

	var count int64
	require.NoError(t, conn.Model(&models.LedgerEntry{}).Where("account_id = ?", account).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := svc.GetBalance(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), balance.Available)
}

func TestAppendRejectsNegativePendingBucket(t *testing.T) {
	svc, _ := newTestService(t)
	input := credit(uuid.New(), -1, Reference{Type: ReferenceOrder, ID: uuid.New()})
	input.Bucket = enums.LedgerBucketPending
	_, err := svc.Append(context.Background(), nil, input)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds))
}

func TestAppendValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ref := Reference{Type: ReferenceOrder, ID: uuid.New()}
	cases := map[string]AppendInput{
		"zero amount":  credit(uuid.New(), 0, ref),
		"nil account":  credit(uuid.Nil, 10, ref),
		"bad bucket":   func() AppendInput { in := credit(uuid.New(), 10, ref); in.Bucket = "vault"; return in }(),
		"bad type":     func() AppendInput { in := credit(uuid.New(), 10, ref); in.Type = "gift"; return in }(),
		"no reference": credit(uuid.New(), 10, Reference{}),
	}
	for name, input := range cases {
		_, err := svc.Append(context.Background(), nil, input)
		assert.Truef(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "%s: expected validation error, got %v", name, err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	account := uuid.New()
	ref := Reference{Type: ReferenceAdjustment, ID: uuid.New()}

	_, err := svc.Append(ctx, nil, credit(account, 10000, ref))
	require.NoError(t, err)

	const workers = 6
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Append(ctx, nil, credit(account, -3000, Reference{Type: ReferenceWithdrawal, ID: uuid.New()}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, workers-3, insufficient)

	balance, err := svc.GetBalance(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.Available)

	report, err := svc.VerifyNoDrift(ctx, account)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift report: %+v", report)
	assert.Equal(t, int64(4), report.Entries)
}

func TestListEntriesPagesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	account := uuid.New()
	ref := Reference{Type: ReferenceAdjustment, ID: uuid.New()}
	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, nil, credit(account, 100, ref))
		require.NoError(t, err)
	}

	page, err := svc.ListEntries(ctx, account, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(5), page.Entries[0].Sequence)
	assert.Equal(t, int64(4), page.Entries[1].Sequence)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.ListEntries(ctx, account, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, int64(3), page.Entries[0].Sequence)

	page, err = svc.ListEntries(ctx, account, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Empty(t, page.NextCursor)

	_, err = svc.ListEntries(ctx, account, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestHeldForReferenceSumsPendingBucket(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	seller := uuid.New()
	orderID := uuid.New()

	held := credit(seller, 13800, OrderRef(orderID))
	held.Bucket = enums.LedgerBucketPending
	held.Type = enums.LedgerEntryTypeSaleCredit
	held.Status = enums.LedgerEntryStatusPending
	_, err := svc.Append(ctx, nil, held)
	require.NoError(t, err)

	_, err = svc.Append(ctx, nil, credit(seller, 500, OrderRef(orderID)))
	require.NoError(t, err)

	sum, err := svc.HeldForReference(ctx, conn, seller, OrderRef(orderID))
	require.NoError(t, err)
	assert.Equal(t, int64(13800), sum)

	sum, err = svc.HeldForReference(ctx, conn, seller, OrderRef(uuid.New()))
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestVerifyNoDriftDetectsTamperedProjection(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	account := uuid.New()
	_, err := svc.Append(ctx, nil, credit(account, 700, Reference{Type: ReferenceAdjustment, ID: uuid.New()}))
	require.NoError(t, err)

	require.NoError(t, conn.Model(&models.Wallet{}).Where("account_id = ?", account).Update("balance", 9999).Error)

	report, err := svc.VerifyNoDrift(ctx, account)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, int64(700), report.ReplayAvailable)
	assert.Equal(t, int64(9999), report.CachedAvailable)
}

// racingRepository appends one more entry the first time the audit starts
// replaying, as a concurrent settlement would.
type racingRepository struct {
	Repository
	race func()
	once sync.Once
}

func (r *racingRepository) ListEntriesAfter(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]models.LedgerEntry, error) {
	r.once.Do(r.race)
	return r.Repository.ListEntriesAfter(ctx, accountID, afterSeq, limit)
}

func TestVerifyNoDriftIgnoresAppendsDuringReplay(t *testing.T) {
	client, conn := dbtest.Client(t)
	writer, err := NewService(NewRepository(conn), client)
	require.NoError(t, err)
	ctx := context.Background()
	account := uuid.New()
	ref := Reference{Type: ReferenceAdjustment, ID: uuid.New()}

	_, err = writer.Append(ctx, nil, credit(account, 300, ref))
	require.NoError(t, err)

	racing := &racingRepository{Repository: NewRepository(conn)}
	racing.race = func() {
		_, err := writer.Append(ctx, nil, credit(account, 50, ref))
		require.NoError(t, err)
	}
	auditor, err := NewService(racing, client)
	require.NoError(t, err)

	report, err := auditor.VerifyNoDrift(ctx, account)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift report: %+v", report)
	assert.Equal(t, int64(1), report.Entries)
	assert.Equal(t, int64(300), report.ReplayAvailable)
}

func TestGetBalanceForUnknownAccountIsZero(t *testing.T) {
	svc, _ := newTestService(t)
	account := uuid.New()
	balance, err := svc.GetBalance(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, Balance{AccountID: account}, *balance)
}

func TestListAccounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Append(ctx, nil, credit(uuid.New(), 1, Reference{Type: ReferenceAdjustment, ID: uuid.New()}))
		require.NoError(t, err)
	}
	first, err := svc.ListAccounts(ctx, uuid.Nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := svc.ListAccounts(ctx, first[1], 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
