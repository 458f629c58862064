package checkout

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

// Violation reasons reported per line item.
const (
	ReasonListingNotFound  = "listing_not_found"
	ReasonListingInactive  = "listing_inactive"
	ReasonInvalidQuantity  = "invalid_quantity"
	ReasonSellerMismatch   = "seller_mismatch"
	ReasonCurrencyMismatch = "currency_mismatch"
	ReasonOwnListing       = "own_listing"
	ReasonDuplicateListing = "duplicate_listing"
)

// LineItemRequest is one requested listing and quantity.
type LineItemRequest struct {
	ListingID uuid.UUID `json:"listing_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// LineItemViolation exposes the data returned to callers when a validation fails.
type LineItemViolation struct {
	ListingID uuid.UUID `json:"listing_id"`
	Reason    string    `json:"reason"`
}

// Priced is the validated basket: all items from one seller in one currency.
type Priced struct {
	SellerID uuid.UUID
	Currency enums.Currency
	Items    []models.OrderLineItem
	Total    int64
}

// PriceLineItems checks every requested item against its listing and prices
// the basket. An order has exactly one seller and one currency.
func PriceLineItems(buyerID uuid.UUID, requested []LineItemRequest, listings map[uuid.UUID]models.Listing, currency enums.Currency) (*Priced, error) {
	if len(requested) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}

	var (
		violations []LineItemViolation
		priced     = &Priced{Currency: currency}
		seen       = make(map[uuid.UUID]struct{}, len(requested))
	)
	reject := func(id uuid.UUID, reason string) {
		violations = append(violations, LineItemViolation{ListingID: id, Reason: reason})
	}

	for _, item := range requested {
		if _, dup := seen[item.ListingID]; dup {
			reject(item.ListingID, ReasonDuplicateListing)
			continue
		}
		seen[item.ListingID] = struct{}{}

		if item.Quantity <= 0 {
			reject(item.ListingID, ReasonInvalidQuantity)
			continue
		}
		listing, ok := listings[item.ListingID]
		switch {
		case !ok:
			reject(item.ListingID, ReasonListingNotFound)
			continue
		case !listing.Active:
			reject(item.ListingID, ReasonListingInactive)
			continue
		case listing.SellerID == buyerID:
			reject(item.ListingID, ReasonOwnListing)
			continue
		case listing.Currency != currency:
			reject(item.ListingID, ReasonCurrencyMismatch)
			continue
		}
		if priced.SellerID == uuid.Nil {
			priced.SellerID = listing.SellerID
		} else if listing.SellerID != priced.SellerID {
			reject(item.ListingID, ReasonSellerMismatch)
			continue
		}

		total := listing.Price * int64(item.Quantity)
		priced.Items = append(priced.Items, models.OrderLineItem{
			ListingID: listing.ID,
			Title:     listing.Title,
			Quantity:  item.Quantity,
			UnitPrice: listing.Price,
			Total:     total,
		})
		priced.Total += total
	}

	if len(violations) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d line item(s) cannot be purchased", len(violations))).WithDetails(map[string]any{
			"violations": violations,
		})
	}
	if priced.Total <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	return priced, nil
}
