package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/api/middleware"
	"github.com/trademon/trademon-backend/api/responses"
	"github.com/trademon/trademon-backend/api/validators"
	internalorders "github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/pkg/db/models"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/pagination"
)

const maxReasonLength = 500

// Action is one order action exposed over HTTP.
type Action func(svc internalorders.Service, ctx context.Context, input internalorders.ActionInput) (*models.Order, error)

// Actions available to buyers and sellers under /orders/{orderId}/{action}.
var ParticipantActions = map[string]Action{
	"accept":  internalorders.Service.Accept,
	"deliver": internalorders.Service.SubmitDelivery,
	"confirm": internalorders.Service.ConfirmDelivery,
	"dispute": internalorders.Service.OpenDispute,
	"cancel":  internalorders.Service.Cancel,
}

// Actions available to moderators under /moderation/orders/{orderId}/{action}.
var ModeratorActions = map[string]Action{
	"approve": internalorders.Service.ApproveReview,
	"resolve": internalorders.Service.ResolveForSeller,
	"refund":  internalorders.Service.Refund,
}

type actionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func actor(r *http.Request) (internalorders.Actor, error) {
	userID, role, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return internalorders.Actor{UserID: userID, Role: role}, nil
}

func orderID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

// List returns the orders where the caller is buyer or seller.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		who, err := actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), who, internalorders.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			State:  strings.TrimSpace(r.URL.Query().Get("state")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns one order visible to the caller.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		who, err := actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := orderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), who, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Act dispatches {action} against actions. Role checks live in the service.
func Act(svc internalorders.Service, actions map[string]Action, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "action")))
		action, ok := actions[name]
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown order action").
				WithDetails(map[string]any{"action": name}))
			return
		}

		who, err := actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := orderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload actionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := action(svc, r.Context(), internalorders.ActionInput{
			OrderID: id,
			Actor:   who,
			Reason:  validators.SanitizeString(payload.Reason, maxReasonLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
