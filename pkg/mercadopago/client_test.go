package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/trademon/trademon-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL("http://mp.test"), WithHTTPClient(&http.Client{Transport: rt})}, opts...)
	client, err := NewClient("test-token", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestGetPaymentRequest(t *testing.T) {
	var capturedURL, capturedAuth string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		return respond(http.StatusOK, `{"id":123,"status":"approved","status_detail":"accredited","external_reference":"ord-1","transaction_amount":150.00,"currency_id":"BRL"}`), nil
	})

	payment, err := client.GetPayment(context.Background(), "123")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if capturedURL != "http://mp.test/v1/payments/123" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header %q", capturedAuth)
	}
	if payment.ID != "123" || payment.Status != "approved" || payment.ExternalReference != "ord-1" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("unexpected amount %s", payment.Amount)
	}
}

func TestGetPaymentErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusUnauthorized, pkgerrors.CodeValidation},
		{http.StatusTooManyRequests, pkgerrors.CodeDependency},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(*http.Request) (*http.Response, error) {
			return respond(tc.status, `{"message":"nope"}`), nil
		})
		_, err := client.GetPayment(context.Background(), "1")
		if !pkgerrors.HasCode(err, tc.code) {
			t.Fatalf("status %d: expected %s got %v", tc.status, tc.code, err)
		}
	}

	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	})
	if _, err := client.GetPayment(context.Background(), "1"); !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("transport failure should be a dependency error, got %v", err)
	}
	if _, err := client.GetPayment(context.Background(), " "); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("blank id should be a validation error, got %v", err)
	}
}

func TestCreatePreferenceRequest(t *testing.T) {
	var payload map[string]any
	var idempotencyKey string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/checkout/preferences" || req.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		idempotencyKey = req.Header.Get("X-Idempotency-Key")
		raw, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		return respond(http.StatusCreated, `{"id":"pref-1","init_point":"https://mp/live","sandbox_init_point":"https://mp/sandbox"}`), nil
	}, WithSandbox(true))

	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		ExternalReference: "ord-1",
		CurrencyID:        "BRL",
		Exponent:          2,
		NotificationURL:   "https://api.test/webhooks/mercadopago",
		SuccessURL:        "https://app.test/ok",
		Items:             []PreferenceItem{{ID: "l-1", Title: "Charizard", Quantity: 1, UnitPrice: 15000}},
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.ID != "pref-1" || pref.RedirectURL != "https://mp/sandbox" {
		t.Fatalf("unexpected preference %+v", pref)
	}
	if idempotencyKey != "preference-ord-1" {
		t.Fatalf("unexpected idempotency key %q", idempotencyKey)
	}
	if payload["external_reference"] != "ord-1" || payload["auto_return"] != "approved" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	items := payload["items"].([]any)
	first := items[0].(map[string]any)
	if first["unit_price"] != 150.0 || first["currency_id"] != "BRL" {
		t.Fatalf("unexpected item %+v", first)
	}
}

func TestCreatePreferenceUsesLiveURLOutsideSandbox(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusCreated, `{"id":"pref-1","init_point":"https://mp/live","sandbox_init_point":"https://mp/sandbox"}`), nil
	})
	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		ExternalReference: "ord-1",
		Exponent:          2,
		Items:             []PreferenceItem{{Title: "x", Quantity: 1, UnitPrice: 100}},
	})
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if pref.RedirectURL != "https://mp/live" {
		t.Fatalf("unexpected redirect %q", pref.RedirectURL)
	}
}

func TestCreatePreferenceValidation(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := client.CreatePreference(context.Background(), PreferenceRequest{Items: []PreferenceItem{{Title: "x"}}}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := client.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "o"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
