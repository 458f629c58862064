package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/api/middleware"
	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
	"github.com/trademon/trademon-backend/pkg/logger"
)

type testNotificationsService struct {
	markReadFn    func(ctx context.Context, recipient notifications.Recipient, notificationID uuid.UUID) error
	markAllReadFn func(ctx context.Context, recipient notifications.Recipient) (int64, error)
	listFn        func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error)
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &notifications.ListResult{}, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, recipient notifications.Recipient, notificationID uuid.UUID) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, recipient, notificationID)
	}
	return nil
}

func (s *testNotificationsService) MarkAllRead(ctx context.Context, recipient notifications.Recipient) (int64, error) {
	if s.markAllReadFn != nil {
		return s.markAllReadFn(ctx, recipient)
	}
	return 0, nil
}

func (s *testNotificationsService) PurgeRead(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func withPrincipal(req *http.Request, userID uuid.UUID, role enums.UserRole) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), userID, role))
}

func TestMarkNotificationReadSuccess(t *testing.T) {
	userID := uuid.New()
	notificationID := uuid.New()
	called := false
	svc := &testNotificationsService{
		markReadFn: func(ctx context.Context, recipient notifications.Recipient, nid uuid.UUID) error {
			called = true
			if recipient.UserID != userID || recipient.Admin {
				t.Fatalf("unexpected recipient %+v", recipient)
			}
			if nid != notificationID {
				t.Fatalf("unexpected notification %s", nid)
			}
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+notificationID.String()+"/read", nil)
	req = withPrincipal(req, userID, enums.UserRoleUser)
	req = addRouteParam(req, "notificationId", notificationID.String())
	resp := httptest.NewRecorder()

	MarkNotificationRead(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
}

func TestMarkNotificationReadInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/bad/read", nil)
	req = withPrincipal(req, uuid.New(), enums.UserRoleUser)
	req = addRouteParam(req, "notificationId", "bad")
	resp := httptest.NewRecorder()

	MarkNotificationRead(&testNotificationsService{}, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestMarkAllNotificationsReadAsAdmin(t *testing.T) {
	adminID := uuid.New()
	svc := &testNotificationsService{
		markAllReadFn: func(ctx context.Context, recipient notifications.Recipient) (int64, error) {
			if !recipient.Admin {
				t.Fatal("expected admin recipient")
			}
			return 3, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil)
	req = withPrincipal(req, adminID, enums.UserRoleAdmin)
	resp := httptest.NewRecorder()

	MarkAllNotificationsRead(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["updated"] != 3 {
		t.Fatalf("expected 3 updated, got %d", body.Data["updated"])
	}
}

func TestListNotificationsParsesQuery(t *testing.T) {
	userID := uuid.New()
	svc := &testNotificationsService{
		listFn: func(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
			if params.Limit != 5 {
				t.Fatalf("expected limit 5, got %d", params.Limit)
			}
			if !params.UnreadOnly {
				t.Fatal("expected unread only")
			}
			if params.Cursor != "c1" {
				t.Fatalf("unexpected cursor %q", params.Cursor)
			}
			return &notifications.ListResult{
				Items:  []models.Notification{{ID: uuid.New(), UserID: userID, Title: "Payment received"}},
				Cursor: "c2",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5&unreadOnly=true&cursor=c1", nil)
	req = withPrincipal(req, userID, enums.UserRoleUser)
	resp := httptest.NewRecorder()

	ListNotifications(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Data notifications.ListResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Items) != 1 || body.Data.Cursor != "c2" {
		t.Fatalf("unexpected body %+v", body.Data)
	}
}

func TestListNotificationsRejectsBadUnreadFlag(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unreadOnly=maybe", nil)
	req = withPrincipal(req, uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	ListNotifications(&testNotificationsService{}, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListNotificationsRequiresPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	resp := httptest.NewRecorder()

	ListNotifications(&testNotificationsService{}, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

type fakeRealtimeHub struct {
	userID uuid.UUID
	admin  bool
	err    error
}

func (h *fakeRealtimeHub) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID, admin bool) error {
	h.userID = userID
	h.admin = admin
	if h.err != nil {
		return h.err
	}
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func TestRealtimeRegistersCaller(t *testing.T) {
	userID := uuid.New()
	hub := &fakeRealtimeHub{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	req = withPrincipal(req, userID, enums.UserRoleAdmin)
	resp := httptest.NewRecorder()

	Realtime(hub, testLogger()).ServeHTTP(resp, req)

	if hub.userID != userID || !hub.admin {
		t.Fatalf("unexpected registration %s admin=%v", hub.userID, hub.admin)
	}
}

func TestRealtimeUpgradeFailureIsLoggedOnly(t *testing.T) {
	hub := &fakeRealtimeHub{err: errors.New("bad handshake")}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	req = withPrincipal(req, uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()

	Realtime(hub, testLogger()).ServeHTTP(resp, req)

	if resp.Body.Len() != 0 {
		t.Fatalf("expected no body after failed upgrade, got %q", resp.Body.String())
	}
}
