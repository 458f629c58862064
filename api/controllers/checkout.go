package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/api/responses"
	"github.com/trademon/trademon-backend/api/validators"
	checkoutsvc "github.com/trademon/trademon-backend/internal/checkout"
	pkgcheckout "github.com/trademon/trademon-backend/pkg/checkout"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
)

type checkoutRequest struct {
	OrderID *uuid.UUID                    `json:"order_id"`
	Items   []pkgcheckout.LineItemRequest `json:"items" validate:"omitempty,dive"`
}

// Checkout opens a hosted checkout for the caller, either for an existing
// pending order or for a fresh basket of listings.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, _, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), checkoutsvc.Input{
			BuyerID: buyerID,
			OrderID: payload.OrderID,
			Items:   payload.Items,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
