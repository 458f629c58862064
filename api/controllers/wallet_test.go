package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/withdrawals"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

type stubWalletReader struct {
	balance     *ledger.Balance
	page        *ledger.EntryPage
	err         error
	lastAccount uuid.UUID
	lastParams  pagination.Params
}

func (s *stubWalletReader) GetBalance(_ context.Context, accountID uuid.UUID) (*ledger.Balance, error) {
	s.lastAccount = accountID
	return s.balance, s.err
}

func (s *stubWalletReader) ListEntries(_ context.Context, accountID uuid.UUID, params pagination.Params) (*ledger.EntryPage, error) {
	s.lastAccount = accountID
	s.lastParams = params
	return s.page, s.err
}

type stubWithdrawals struct {
	withdrawals.Service

	requestFn  func(ctx context.Context, accountID uuid.UUID, amount int64) (*models.WithdrawalRequest, error)
	completeFn func(ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error)
	rejectFn   func(ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error)
	listFn     func(ctx context.Context, params withdrawals.ListParams) (*withdrawals.ListResult, error)
}

func (s *stubWithdrawals) Request(ctx context.Context, accountID uuid.UUID, amount int64) (*models.WithdrawalRequest, error) {
	return s.requestFn(ctx, accountID, amount)
}

func (s *stubWithdrawals) Complete(ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error) {
	return s.completeFn(ctx, input)
}

func (s *stubWithdrawals) Reject(ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error) {
	return s.rejectFn(ctx, input)
}

func (s *stubWithdrawals) List(ctx context.Context, params withdrawals.ListParams) (*withdrawals.ListResult, error) {
	return s.listFn(ctx, params)
}

func TestWalletBalanceUsesCaller(t *testing.T) {
	userID := uuid.New()
	reader := &stubWalletReader{balance: &ledger.Balance{AccountID: userID, Available: 12000, Pending: 3000}}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil), userID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	WalletBalance(reader, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID, reader.lastAccount)
	var body struct {
		Data ledger.Balance `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(12000), body.Data.Available)
	assert.Equal(t, int64(3000), body.Data.Pending)
}

func TestWalletEntriesPassesPagination(t *testing.T) {
	userID := uuid.New()
	reader := &stubWalletReader{page: &ledger.EntryPage{NextCursor: "n"}}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/wallet/entries?limit=7&cursor=abc", nil), userID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	WalletEntries(reader, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, pagination.Params{Limit: 7, Cursor: "abc"}, reader.lastParams)
}

func TestAdminWalletBalanceReadsPathAccount(t *testing.T) {
	accountID := uuid.New()
	reader := &stubWalletReader{balance: &ledger.Balance{AccountID: accountID}}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/admin/wallets/"+accountID.String(), nil), uuid.New(), enums.UserRoleAdmin)
	req = addRouteParam(req, "accountId", accountID.String())
	resp := httptest.NewRecorder()

	AdminWalletBalance(reader, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, accountID, reader.lastAccount)
}

func TestRequestWithdrawalInsufficientFunds(t *testing.T) {
	userID := uuid.New()
	svc := &stubWithdrawals{
		requestFn: func(ctx context.Context, accountID uuid.UUID, amount int64) (*models.WithdrawalRequest, error) {
			assert.Equal(t, userID, accountID)
			assert.Equal(t, int64(5000), amount)
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "available balance 3000 is below 5000")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdrawals", strings.NewReader(`{"amount":5000}`))
	req = withPrincipal(req, userID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	RequestWithdrawal(svc, testLogger()).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), string(pkgerrors.CodeInsufficientFunds))
}

func TestRequestWithdrawalRejectsNonPositiveAmount(t *testing.T) {
	svc := &stubWithdrawals{}
	for _, body := range []string{`{"amount":0}`, `{"amount":-10}`, `{}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdrawals", strings.NewReader(body))
		req = withPrincipal(req, uuid.New(), enums.UserRoleUser)
		resp := httptest.NewRecorder()

		RequestWithdrawal(svc, testLogger()).ServeHTTP(resp, req)

		assert.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
}

func TestRequestWithdrawalCreated(t *testing.T) {
	userID := uuid.New()
	svc := &stubWithdrawals{
		requestFn: func(ctx context.Context, accountID uuid.UUID, amount int64) (*models.WithdrawalRequest, error) {
			return &models.WithdrawalRequest{ID: uuid.New(), AccountID: accountID, Amount: amount, Status: enums.WithdrawalStatusRequested}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdrawals", strings.NewReader(`{"amount":2500}`))
	req = withPrincipal(req, userID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	RequestWithdrawal(svc, testLogger()).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusCreated, resp.Code)
}

func TestListMyWithdrawalsScopesToCaller(t *testing.T) {
	userID := uuid.New()
	svc := &stubWithdrawals{
		listFn: func(ctx context.Context, params withdrawals.ListParams) (*withdrawals.ListResult, error) {
			require.NotNil(t, params.AccountID)
			assert.Equal(t, userID, *params.AccountID)
			assert.Equal(t, "requested", params.Status)
			return &withdrawals.ListResult{}, nil
		},
	}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/wallet/withdrawals?status=requested", nil), userID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	ListMyWithdrawals(svc, testLogger()).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAdminListWithdrawalsIsUnscoped(t *testing.T) {
	svc := &stubWithdrawals{
		listFn: func(ctx context.Context, params withdrawals.ListParams) (*withdrawals.ListResult, error) {
			assert.Nil(t, params.AccountID)
			return &withdrawals.ListResult{}, nil
		},
	}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/admin/withdrawals", nil), uuid.New(), enums.UserRoleAdmin)
	resp := httptest.NewRecorder()

	AdminListWithdrawals(svc, testLogger()).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSettleWithdrawalRoutesToDecision(t *testing.T) {
	adminID := uuid.New()
	withdrawalID := uuid.New()
	var completed, rejected int
	svc := &stubWithdrawals{
		completeFn: func(ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error) {
			completed++
			assert.Equal(t, withdrawalID, input.WithdrawalID)
			assert.Equal(t, adminID, input.AdminID)
			assert.Empty(t, input.Note)
			return &models.WithdrawalRequest{ID: withdrawalID, Status: enums.WithdrawalStatusPaid}, nil
		},
		rejectFn: func(ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error) {
			rejected++
			assert.Equal(t, "bank details invalid", input.Note)
			return &models.WithdrawalRequest{ID: withdrawalID, Status: enums.WithdrawalStatusRejected}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/withdrawals/"+withdrawalID.String()+"/complete", nil)
	req = addRouteParam(withPrincipal(req, adminID, enums.UserRoleAdmin), "withdrawalId", withdrawalID.String())
	resp := httptest.NewRecorder()
	CompleteWithdrawal(svc, testLogger()).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/withdrawals/"+withdrawalID.String()+"/reject",
		strings.NewReader(`{"note":"bank details invalid"}`))
	req = addRouteParam(withPrincipal(req, adminID, enums.UserRoleAdmin), "withdrawalId", withdrawalID.String())
	resp = httptest.NewRecorder()
	RejectWithdrawal(svc, testLogger()).ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, rejected)
}
