package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/api/responses"
	"github.com/trademon/trademon-backend/api/validators"
	"github.com/trademon/trademon-backend/internal/ledger"
	"github.com/trademon/trademon-backend/internal/withdrawals"
	"github.com/trademon/trademon-backend/pkg/db/models"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

const maxSettleNoteLength = 500

type walletReader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*ledger.Balance, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*ledger.EntryPage, error)
}

type withdrawalRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type settleRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// WalletBalance returns the caller's cached balance.
func WalletBalance(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, _, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeBalance(w, r, svc, accountID, logg)
	}
}

// WalletEntries pages the caller's ledger entries, newest first.
func WalletEntries(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, _, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeEntries(w, r, svc, accountID, logg)
	}
}

// AdminWalletBalance returns any account's balance.
func AdminWalletBalance(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathUUID(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeBalance(w, r, svc, accountID, logg)
	}
}

// AdminWalletEntries pages any account's ledger entries.
func AdminWalletEntries(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := pathUUID(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeEntries(w, r, svc, accountID, logg)
	}
}

func writeBalance(w http.ResponseWriter, r *http.Request, svc walletReader, accountID uuid.UUID, logg *logger.Logger) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
		return
	}
	balance, err := svc.GetBalance(r.Context(), accountID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, balance)
}

func writeEntries(w http.ResponseWriter, r *http.Request, svc walletReader, accountID uuid.UUID, logg *logger.Logger) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
		return
	}
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	page, err := svc.ListEntries(r.Context(), accountID, pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, page)
}

// RequestWithdrawal reserves funds from the caller's available balance.
func RequestWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawals service unavailable"))
			return
		}
		accountID, _, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload withdrawalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := svc.Request(r.Context(), accountID, payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, req)
	}
}

// ListMyWithdrawals pages the caller's withdrawal requests.
func ListMyWithdrawals(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, _, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listWithdrawals(w, r, svc, &accountID, logg)
	}
}

// AdminListWithdrawals pages withdrawal requests across accounts, typically
// filtered by ?status=requested.
func AdminListWithdrawals(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listWithdrawals(w, r, svc, nil, logg)
	}
}

func listWithdrawals(w http.ResponseWriter, r *http.Request, svc withdrawals.Service, accountID *uuid.UUID, logg *logger.Logger) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawals service unavailable"))
		return
	}
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	result, err := svc.List(r.Context(), withdrawals.ListParams{
		AccountID: accountID,
		Status:    strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:     limit,
		Cursor:    strings.TrimSpace(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, result)
}

type settleFunc func(svc withdrawals.Service, ctx context.Context, input withdrawals.SettleInput) (*models.WithdrawalRequest, error)

// CompleteWithdrawal marks a request paid after the off-platform payout.
func CompleteWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return settleWithdrawal(svc, logg, withdrawals.Service.Complete)
}

// RejectWithdrawal returns the reserved funds to the account.
func RejectWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return settleWithdrawal(svc, logg, withdrawals.Service.Reject)
}

func settleWithdrawal(svc withdrawals.Service, logg *logger.Logger, settle settleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawals service unavailable"))
			return
		}
		adminID, _, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawalID, err := pathUUID(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload settleRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		req, err := settle(svc, r.Context(), withdrawals.SettleInput{
			WithdrawalID: withdrawalID,
			AdminID:      adminID,
			Note:         validators.SanitizeString(payload.Note, maxSettleNoteLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, req)
	}
}
