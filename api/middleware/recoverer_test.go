package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trademon/trademon-backend/pkg/logger"
)

func TestRecovererWritesInternalEnvelope(t *testing.T) {
	handler := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"code":"INTERNAL_ERROR"`) {
		t.Fatalf("expected internal error envelope, got %q", body)
	}
	if strings.Contains(body, "ledger exploded") {
		t.Fatalf("panic value leaked to client: %q", body)
	}
}

func TestRecovererRepanicsAbortHandler(t *testing.T) {
	handler := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if got := recover(); got != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", got)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestIDKeepsSafeInboundID(t *testing.T) {
	var seen string
	handler := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(requestIDHeader)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", nil)
	req.Header.Set(requestIDHeader, "bb56a2f1-6aae-46ac-982e-9dcd3581d08e")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "bb56a2f1-6aae-46ac-982e-9dcd3581d08e" {
		t.Fatalf("expected inbound id kept, got %q", seen)
	}
}

func TestRequestIDReplacesUnsafeInboundID(t *testing.T) {
	rec := httptest.NewRecorder()
	handler := RequestID(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "evil\nlog line")
	handler.ServeHTTP(rec, req)

	got := rec.Header().Get(requestIDHeader)
	if got == "evil\nlog line" || len(got) != 36 {
		t.Fatalf("expected a fresh uuid, got %q", got)
	}
}
