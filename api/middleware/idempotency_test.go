package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trademon/trademon-backend/api/validators"
	"github.com/trademon/trademon-backend/pkg/enums"
	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func routedRequest(method, path, pattern, body, key string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func checkoutRequest(body, key string) *http.Request {
	return routedRequest(http.MethodPost, "/api/v1/checkout", "/api/v1/checkout", body, key)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		want    time.Duration
		ok      bool
	}{
		{"checkout", http.MethodPost, "/api/v1/checkout", criticalIdempotencyTTL, true},
		{"withdrawal", http.MethodPost, "/api/v1/wallet/withdrawals", criticalIdempotencyTTL, true},
		{"admin settle", http.MethodPost, "/api/v1/admin/withdrawals/{withdrawalId}/complete", defaultIdempotencyTTL, true},
		{"wallet read", http.MethodGet, "/api/v1/wallet", 0, false},
		{"order action", http.MethodPost, "/api/v1/orders/{orderId}/accept", 0, false},
		{"empty pattern", http.MethodPost, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := routeTTL(tt.method, tt.pattern)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ttl)
		})
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	for _, key := range []string{"", strings.Repeat("k", maxIdempotencyKeyLength+1)} {
		rec := httptest.NewRecorder()
		Idempotency(newFakeStore(), nil)(handler).ServeHTTP(rec, checkoutRequest(`{}`, key))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.False(t, called, "handler must not run without a usable key")
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"listing_id":"l-1"}`, string(body), "handler sees the original body")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"o-1"}`))
	})

	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, checkoutRequest(`{"listing_id":"l-1"}`, "abc"))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(IdempotentReplayHeader))

	replay := httptest.NewRecorder()
	mw(handler).ServeHTTP(replay, checkoutRequest(`{"listing_id":"l-1"}`, "abc"))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get(IdempotentReplayHeader))
	assert.Equal(t, `{"order_id":"o-1"}`, replay.Body.String())
	assert.Equal(t, 1, calls)

	for key, ttl := range store.ttls {
		assert.Equal(t, criticalIdempotencyTTL, ttl, key)
	}
}

func TestIdempotencyRejectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	mw(handler).ServeHTTP(httptest.NewRecorder(), checkoutRequest(`{"listing_id":"l-1"}`, "xyz"))

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, checkoutRequest(`{"listing_id":"l-2"}`, "xyz"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	inner := 0
	var nested *httptest.ResponseRecorder
	var handler http.Handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner++
		if nested == nil {
			// a retry arrives while the first request still holds the key
			nested = httptest.NewRecorder()
			mw(handler).ServeHTTP(nested, checkoutRequest(`{"listing_id":"l-1"}`, "dup"))
		}
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, checkoutRequest(`{"listing_id":"l-1"}`, "dup"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, nested)
	assert.Equal(t, http.StatusConflict, nested.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, nested))
	assert.Equal(t, 1, inner)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := routedRequest(http.MethodPost, "/api/v1/wallet/withdrawals", "/api/v1/wallet/withdrawals", `{"amount":100}`, "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls, "the retry reaches the handler")
	require.Len(t, store.data, 1)
	for _, raw := range store.data {
		assert.Contains(t, raw, `"state":"complete"`)
	}
}

func TestIdempotencyReleasesKeyOnPanic(t *testing.T) {
	store := newFakeStore()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	assert.Panics(t, func() {
		Idempotency(store, nil)(handler).ServeHTTP(httptest.NewRecorder(), checkoutRequest(`{}`, "panic"))
	})
	assert.Empty(t, store.data)
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for _, user := range []uuid.UUID{uuid.New(), uuid.New()} {
		req := checkoutRequest(`{}`, "shared")
		req = req.WithContext(WithPrincipal(req.Context(), user, enums.UserRoleUser))
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls, "separate users must not collide")
}

func TestIdempotencySkipsUnlistedRoutes(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })

	req := routedRequest(http.MethodPost, "/api/v1/orders/o-1/accept", "/api/v1/orders/{orderId}/accept", `{}`, "")
	Idempotency(store, nil)(handler).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyRejectsOversizedBody(t *testing.T) {
	store := newFakeStore()
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	body := `{"note":"` + strings.Repeat("a", validators.MaxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	Idempotency(store, nil)(handler).ServeHTTP(rec, checkoutRequest(body, "big"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), "request body too large")
	assert.False(t, called)
	assert.Empty(t, store.data, "no reservation for a rejected body")
}
