package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/internal/listings"
	"github.com/trademon/trademon-backend/internal/orders"
	pkgcheckout "github.com/trademon/trademon-backend/pkg/checkout"
	"github.com/trademon/trademon-backend/pkg/db"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
	"github.com/trademon/trademon-backend/pkg/mercadopago"
	"github.com/trademon/trademon-backend/pkg/outbox"
	"github.com/trademon/trademon-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type preferenceCreator interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

// Service opens hosted checkouts for buyers.
type Service interface {
	Initiate(ctx context.Context, input Input) (*Result, error)
}

// Input is one checkout request. Exactly one of OrderID and Items is set.
type Input struct {
	BuyerID uuid.UUID
	OrderID *uuid.UUID
	Items   []pkgcheckout.LineItemRequest
}

// Result is returned to the client app.
type Result struct {
	OrderID     uuid.UUID `json:"order_id"`
	RedirectURL string    `json:"redirect_url"`
}

// PreferenceConfig carries the static parts of every preference.
type PreferenceConfig struct {
	Currency        enums.Currency
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
}

type service struct {
	tx       txRunner
	orders   orders.Repository
	listings listings.Repository
	gateway  preferenceCreator
	outbox   outbox.Emitter
	cfg      PreferenceConfig
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	listingsRepo listings.Repository,
	gateway preferenceCreator,
	emitter outbox.Emitter,
	cfg PreferenceConfig,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if listingsRepo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if cfg.Currency == "" {
		cfg.Currency = enums.CurrencyBRL
	}
	if !cfg.Currency.IsValid() {
		return nil, fmt.Errorf("invalid checkout currency %q", cfg.Currency)
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:       tx,
		orders:   ordersRepo,
		listings: listingsRepo,
		gateway:  gateway,
		outbox:   emitter,
		cfg:      cfg,
		logg:     logg,
	}, nil
}

// Initiate resolves or creates the order and then asks the gateway for a
// hosted checkout. The order is committed before the gateway call, so a
// gateway failure leaves a PENDING_PAYMENT order the buyer can retry with.
func (s *service) Initiate(ctx context.Context, input Input) (*Result, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity missing")
	}
	hasOrder := input.OrderID != nil && *input.OrderID != uuid.Nil
	if hasOrder == (len(input.Items) > 0) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide either order_id or items")
	}

	var (
		order *models.Order
		err   error
	)
	if hasOrder {
		order, err = s.existingOrder(ctx, input.BuyerID, *input.OrderID)
	} else {
		order, err = s.createOrder(ctx, input.BuyerID, input.Items)
	}
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"buyer_id": input.BuyerID.String(),
	})

	pref, err := s.gateway.CreatePreference(ctx, s.preferenceRequest(order))
	if err != nil {
		s.logg.Error(ctx, "create payment preference", err)
		return nil, err
	}
	if err := s.orders.SetPreference(ctx, order.ID, pref.ID); err != nil {
		// The buyer can still pay; the webhook resolves the order through its reference.
		s.logg.Error(ctx, "store preference id", err)
	}

	s.logg.Info(ctx, "checkout initiated")
	return &Result{OrderID: order.ID, RedirectURL: pref.RedirectURL}, nil
}

func (s *service) existingOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, db.StoreError(err, "load order")
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.State != enums.OrderStatePendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").WithDetails(map[string]any{
			"state": order.State,
		})
	}
	return order, nil
}

func (s *service) createOrder(ctx context.Context, buyerID uuid.UUID, items []pkgcheckout.LineItemRequest) (*models.Order, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ListingID)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		found, err := s.listings.WithTx(tx).FindByIDs(ctx, ids)
		if err != nil {
			return db.StoreError(err, "load listings")
		}
		priced, err := pkgcheckout.PriceLineItems(buyerID, items, found, s.cfg.Currency)
		if err != nil {
			return err
		}

		repo := s.orders.WithTx(tx)
		order = &models.Order{
			BuyerID:   buyerID,
			SellerID:  priced.SellerID,
			ListingID: priced.Items[0].ListingID,
			Amount:    priced.Total,
			Currency:  priced.Currency,
			State:     enums.OrderStatePendingPayment,
		}
		if err := repo.Create(ctx, order); err != nil {
			return db.StoreError(err, "create order")
		}
		for i := range priced.Items {
			priced.Items[i].OrderID = order.ID
		}
		if err := repo.CreateLineItems(ctx, priced.Items); err != nil {
			return db.StoreError(err, "create order line items")
		}
		order.LineItems = priced.Items

		return s.emitOrderCreatedEvent(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) emitOrderCreatedEvent(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: order.BuyerID, Role: string(enums.UserRoleUser)},
		Data: payloads.OrderCreatedEvent{
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			SellerID:  order.SellerID,
			ListingID: order.ListingID,
			Amount:    order.Amount,
			Currency:  order.Currency,
			CreatedAt: order.CreatedAt,
		},
		Version: 1,
	}
	return s.outbox.Emit(ctx, tx, event)
}

func (s *service) preferenceRequest(order *models.Order) mercadopago.PreferenceRequest {
	req := mercadopago.PreferenceRequest{
		ExternalReference: order.ID.String(),
		CurrencyID:        string(order.Currency),
		Exponent:          order.Currency.MinorUnitExponent(),
		NotificationURL:   s.cfg.NotificationURL,
		SuccessURL:        s.cfg.SuccessURL,
		FailureURL:        s.cfg.FailureURL,
		PendingURL:        s.cfg.PendingURL,
	}
	for _, item := range order.LineItems {
		req.Items = append(req.Items, mercadopago.PreferenceItem{
			ID:        item.ListingID.String(),
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if len(req.Items) == 0 {
		req.Items = []mercadopago.PreferenceItem{{
			ID:        order.ListingID.String(),
			Title:     "Order " + order.ID.String(),
			Quantity:  1,
			UnitPrice: order.Amount,
		}}
	}
	return req
}
