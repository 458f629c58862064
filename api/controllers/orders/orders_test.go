package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trademon/trademon-backend/api/middleware"
	internalorders "github.com/trademon/trademon-backend/internal/orders"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
	"github.com/trademon/trademon-backend/pkg/logger"
)

// stubOrdersService embeds the interface so only the methods a test touches
// need an implementation.
type stubOrdersService struct {
	internalorders.Service

	listFn   func(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error)
	getFn    func(ctx context.Context, actor internalorders.Actor, id uuid.UUID) (*models.Order, error)
	acceptFn func(ctx context.Context, input internalorders.ActionInput) (*models.Order, error)
	refundFn func(ctx context.Context, input internalorders.ActionInput) (*models.Order, error)
}

func (s *stubOrdersService) List(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error) {
	return s.listFn(ctx, actor, params)
}

func (s *stubOrdersService) Get(ctx context.Context, actor internalorders.Actor, id uuid.UUID) (*models.Order, error) {
	return s.getFn(ctx, actor, id)
}

func (s *stubOrdersService) Accept(ctx context.Context, input internalorders.ActionInput) (*models.Order, error) {
	return s.acceptFn(ctx, input)
}

func (s *stubOrdersService) Refund(ctx context.Context, input internalorders.ActionInput) (*models.Order, error) {
	return s.refundFn(ctx, input)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withRouteParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func asUser(req *http.Request, userID uuid.UUID, role enums.UserRole) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), userID, role))
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestListPassesFiltersAndActor(t *testing.T) {
	userID := uuid.New()
	svc := &stubOrdersService{
		listFn: func(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error) {
			assert.Equal(t, userID, actor.UserID)
			assert.Equal(t, enums.UserRoleUser, actor.Role)
			assert.Equal(t, 10, params.Limit)
			assert.Equal(t, "abc", params.Cursor)
			assert.Equal(t, "DISPUTE", params.State)
			return &internalorders.ListResult{Items: []models.Order{{ID: uuid.New()}}, Cursor: "next"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=10&cursor=abc&state=DISPUTE", nil)
	req = asUser(req, userID, enums.UserRoleUser)
	rec := httptest.NewRecorder()

	List(svc, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data internalorders.ListResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Data.Items, 1)
	assert.Equal(t, "next", body.Data.Cursor)
}

func TestListRejectsOversizedLimit(t *testing.T) {
	svc := &stubOrdersService{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=1000", nil)
	req = asUser(req, uuid.New(), enums.UserRoleUser)
	rec := httptest.NewRecorder()

	List(svc, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRequiresPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()

	List(&stubOrdersService{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDetailMapsUnknownOrder(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		getFn: func(ctx context.Context, actor internalorders.Actor, id uuid.UUID) (*models.Order, error) {
			assert.Equal(t, orderID, id)
			return nil, pkgerrors.New(pkgerrors.CodeUnknownOrder, "order not found")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req = withRouteParams(asUser(req, uuid.New(), enums.UserRoleUser), map[string]string{"orderId": orderID.String()})
	rec := httptest.NewRecorder()

	Detail(svc, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeUnknownOrder), decodeErrorCode(t, rec))
}

func TestDetailRejectsMalformedID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/nope", nil)
	req = withRouteParams(asUser(req, uuid.New(), enums.UserRoleUser), map[string]string{"orderId": "nope"})
	rec := httptest.NewRecorder()

	Detail(&stubOrdersService{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActDispatchesParticipantAction(t *testing.T) {
	sellerID := uuid.New()
	orderID := uuid.New()
	svc := &stubOrdersService{
		acceptFn: func(ctx context.Context, input internalorders.ActionInput) (*models.Order, error) {
			assert.Equal(t, orderID, input.OrderID)
			assert.Equal(t, sellerID, input.Actor.UserID)
			assert.Empty(t, input.Reason)
			return &models.Order{ID: orderID, State: enums.OrderStateSellerAccepted}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/accept", nil)
	req = withRouteParams(asUser(req, sellerID, enums.UserRoleUser), map[string]string{
		"orderId": orderID.String(),
		"action":  "accept",
	})
	rec := httptest.NewRecorder()

	Act(svc, ParticipantActions, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data models.Order `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, enums.OrderStateSellerAccepted, body.Data.State)
}

func TestActPassesReasonForModeratorRefund(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		refundFn: func(ctx context.Context, input internalorders.ActionInput) (*models.Order, error) {
			assert.Equal(t, enums.UserRoleModerator, input.Actor.Role)
			assert.Equal(t, "item never delivered", input.Reason)
			return &models.Order{ID: orderID, State: enums.OrderStateRefunded}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/moderation/orders/"+orderID.String()+"/refund",
		strings.NewReader(`{"reason":"  item never delivered "}`))
	req.Header.Set("Content-Type", "application/json")
	req = withRouteParams(asUser(req, uuid.New(), enums.UserRoleModerator), map[string]string{
		"orderId": orderID.String(),
		"action":  "refund",
	})
	rec := httptest.NewRecorder()

	Act(svc, ModeratorActions, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActRejectsActionOutsideTable(t *testing.T) {
	orderID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/refund", nil)
	req = withRouteParams(asUser(req, uuid.New(), enums.UserRoleUser), map[string]string{
		"orderId": orderID.String(),
		"action":  "refund",
	})
	rec := httptest.NewRecorder()

	Act(&stubOrdersService{}, ParticipantActions, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActSurfacesInvalidTransition(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		acceptFn: func(ctx context.Context, input internalorders.ActionInput) (*models.Order, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "seller_accepted not allowed from COMPLETED")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/accept", nil)
	req = withRouteParams(asUser(req, uuid.New(), enums.UserRoleUser), map[string]string{
		"orderId": orderID.String(),
		"action":  "accept",
	})
	rec := httptest.NewRecorder()

	Act(svc, ParticipantActions, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeInvalidTransition), decodeErrorCode(t, rec))
}
